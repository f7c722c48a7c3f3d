package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager_Defaults(t *testing.T) {
	manager, err := NewManager()
	require.NoError(t, err)

	config := manager.GetConfig()
	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, "postgres", config.Database.Driver)
	assert.Equal(t, 7*24*time.Hour, config.Cache.ContentTTL)
	assert.Equal(t, 10, config.Engine.MaxRulePasses)
	assert.Equal(t, 15*time.Second, config.Cache.LockWait)
	assert.Equal(t, "info", config.Logging.Level)

	assert.NoError(t, manager.Validate())
}

func TestManager_EnvOverrides(t *testing.T) {
	t.Setenv("REPORT_ENGINE_SERVER_PORT", "9191")
	t.Setenv("REPORT_ENGINE_DATABASE_DRIVER", "sqlite")
	t.Setenv("REPORT_ENGINE_DATABASE_SQLITE_PATH", "/tmp/engine.db")
	t.Setenv("REPORT_ENGINE_ENGINE_MAX_RULE_PASSES", "25")

	manager, err := NewManager()
	require.NoError(t, err)

	config := manager.GetConfig()
	assert.Equal(t, 9191, config.Server.Port)
	assert.Equal(t, "sqlite", config.Database.Driver)
	assert.Equal(t, "/tmp/engine.db", config.Database.SQLitePath)
	assert.Equal(t, 25, config.Engine.MaxRulePasses)

	assert.NoError(t, manager.Validate())
}

func TestManager_Validate(t *testing.T) {
	manager, err := NewManager()
	require.NoError(t, err)

	manager.config.Database.Driver = "oracle"
	assert.Error(t, manager.Validate())

	manager.config.Database.Driver = "sqlite"
	manager.config.Database.SQLitePath = ""
	assert.Error(t, manager.Validate())

	manager.config.Database.SQLitePath = "./data/engine.db"
	manager.config.Logging.Level = "verbose"
	assert.Error(t, manager.Validate())
}
