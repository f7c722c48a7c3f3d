package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/clinical-report-engine/internal/api"
	"github.com/clinical-report-engine/internal/config"
	"github.com/clinical-report-engine/internal/content"
	"github.com/clinical-report-engine/internal/coordinator"
	"github.com/clinical-report-engine/internal/database"
	"github.com/clinical-report-engine/internal/domain"
	"github.com/clinical-report-engine/internal/registry"
	"github.com/clinical-report-engine/internal/repository"
	"github.com/clinical-report-engine/internal/rules"
	"github.com/clinical-report-engine/pkg/external"
)

func main() {
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	logger := newLogger(cfg.Logging)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Field type registry with the system types pre-loaded
	fieldTypes := registry.New(logger)

	// Store backend selected by driver: pooled Postgres for multi-practice
	// deployments, embedded SQLite for single-practice installs.
	var (
		templates domain.TemplateStore
		reports   domain.ReportStore
		audit     domain.ContentVersionStore
		health    api.HealthFunc
		closeFn   func()
	)

	switch cfg.Database.Driver {
	case "sqlite":
		store, err := repository.NewSQLiteStore(cfg.Database.SQLitePath, fieldTypes.Exists, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to open SQLite store")
		}
		templates, reports, audit = store, store, store
		health = store.Health
		closeFn = func() { store.Close() }

	default:
		dbConfig := database.Config{
			Host:        cfg.Database.Host,
			Port:        cfg.Database.Port,
			Database:    cfg.Database.Database,
			Username:    cfg.Database.Username,
			Password:    cfg.Database.Password,
			SSLMode:     cfg.Database.SSLMode,
			MaxConns:    int32(cfg.Database.MaxOpenConns),
			MinConns:    int32(cfg.Database.MaxIdleConns),
			MaxConnLife: cfg.Database.ConnMaxLifetime,
		}

		runner, err := database.NewMigrationRunner(dbConfig.URL(), cfg.Database.MigrationsPath, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create migration runner")
		}
		if err := runner.Up(ctx); err != nil {
			logger.WithError(err).Fatal("Failed to run migrations")
		}
		runner.Close()

		db, err := database.NewConnection(ctx, dbConfig, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to database")
		}
		auditDB, err := repository.OpenAuditDB(dbConfig.URL())
		if err != nil {
			logger.WithError(err).Fatal("Failed to open audit database")
		}
		templates = repository.NewTemplateRepository(db.Pool, fieldTypes.Exists, logger)
		reports = repository.NewReportRepository(db.Pool, logger)
		audit = repository.NewContentVersionRepository(auditDB, logger)
		health = db.Health
		closeFn = func() {
			auditDB.Close()
			db.Close()
		}
	}
	defer closeFn()

	// Content cache, with the Redis tier only when configured
	cacheConfig := content.CacheConfig{
		TTL:           cfg.Cache.ContentTTL,
		MemoryEntries: cfg.Cache.MemoryEntries,
		LockWait:      cfg.Cache.LockWait,
	}
	if cfg.Cache.RedisEnabled {
		opts, err := redis.ParseURL(cfg.Cache.RedisURL)
		if err != nil {
			logger.WithError(err).Fatal("Invalid Redis URL")
		}
		opts.PoolSize = cfg.Cache.PoolSize
		opts.PoolTimeout = cfg.Cache.PoolTimeout
		opts.MaxRetries = cfg.Cache.MaxRetries
		cacheConfig.RedisClient = redis.NewClient(opts)
	}

	cache, err := content.NewCache(cacheConfig, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create content cache")
	}

	// External collaborators
	generator := external.NewResilientGenerator(
		external.NewAIClient(cfg.AI), cfg.AI.BreakerTimeout, logger)
	patients := external.NewPatientsClient(cfg.Patients)

	engine := rules.NewEngine(logger, cfg.Engine.MaxRulePasses, cfg.Engine.CompiledRuleLRU)

	coord := coordinator.New(logger, templates, reports, audit, fieldTypes,
		engine, cache, patients, patients, generator)

	server := api.NewServer(cfg, logger, fieldTypes, templates, coord, health)

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down")
		cancel()
	}()

	logger.WithFields(logrus.Fields{
		"host":   cfg.Server.Host,
		"port":   cfg.Server.Port,
		"driver": cfg.Database.Driver,
	}).Info("Starting report engine")

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}

	logger.Info("Server stopped")
}

// newLogger builds the process logger from config
func newLogger(cfg domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if cfg.Output == "stderr" {
		logger.SetOutput(os.Stderr)
	} else {
		logger.SetOutput(os.Stdout)
	}

	return logger
}
