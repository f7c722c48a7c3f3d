package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinical-report-engine/internal/domain"
)

func mockAuditStore(t *testing.T) (*ContentVersionRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	return NewContentVersionRepository(db, logger), mock
}

func TestAuditAppend_FillsGeneratedColumns(t *testing.T) {
	repo, mock := mockAuditStore(t)
	instanceID := uuid.New()
	createdAt := time.Now().UTC().Truncate(time.Second)

	mock.ExpectQuery(`INSERT INTO content_versions`).
		WithArgs(instanceID, "assessment.summary", "Stable overnight.", "dr.smith", false).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(7), createdAt))

	version := &domain.ContentVersion{
		InstanceID: instanceID,
		FieldPath:  "assessment.summary",
		Value:      "Stable overnight.",
		Author:     "dr.smith",
	}
	require.NoError(t, repo.Append(context.Background(), version))
	assert.Equal(t, int64(7), version.ID)
	assert.Equal(t, createdAt, version.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditAppend_DatabaseError(t *testing.T) {
	repo, mock := mockAuditStore(t)

	mock.ExpectQuery(`INSERT INTO content_versions`).
		WillReturnError(errors.New("connection reset by peer"))

	err := repo.Append(context.Background(), &domain.ContentVersion{
		InstanceID: uuid.New(),
		FieldPath:  "assessment.summary",
		Value:      "Stable overnight.",
		Author:     "dr.smith",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "appending content version")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditLatestBefore_NoPriorVersion(t *testing.T) {
	repo, mock := mockAuditStore(t)
	instanceID := uuid.New()

	mock.ExpectQuery(`SELECT id, instance_id, field_path, value, author, ai_sourced, created_at`).
		WithArgs(instanceID, "assessment.summary", int64(3)).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.LatestBefore(context.Background(), instanceID, "assessment.summary", 3)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditListByField_QueryError(t *testing.T) {
	repo, mock := mockAuditStore(t)

	mock.ExpectQuery(`SELECT id, instance_id, field_path, value, author, ai_sourced, created_at`).
		WillReturnError(errors.New("connection reset by peer"))

	_, err := repo.ListByField(context.Background(), uuid.New(), "assessment.summary")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listing field history")
	assert.NoError(t, mock.ExpectationsWereMet())
}
