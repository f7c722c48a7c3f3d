package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/clinical-report-engine/internal/domain"
)

// ContentVersionRepository is the append-only audit log of rendered and edited
// field values on PostgreSQL. Rows are never updated or deleted. It runs on a
// database/sql connection separate from the pgx pool serving the template and
// report repositories.
type ContentVersionRepository struct {
	db  *sql.DB
	log *logrus.Logger
}

// NewContentVersionRepository creates a new content version repository
func NewContentVersionRepository(db *sql.DB, logger *logrus.Logger) *ContentVersionRepository {
	return &ContentVersionRepository{
		db:  db,
		log: logger,
	}
}

// OpenAuditDB opens a database/sql Postgres connection for the audit store
func OpenAuditDB(url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}
	return db, nil
}

// Append records one new value for a field of an instance
func (r *ContentVersionRepository) Append(ctx context.Context, version *domain.ContentVersion) error {
	query := `
		INSERT INTO content_versions (instance_id, field_path, value, author, ai_sourced)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	err := r.db.QueryRowContext(ctx, query,
		version.InstanceID,
		version.FieldPath,
		version.Value,
		version.Author,
		version.AISourced,
	).Scan(&version.ID, &version.CreatedAt)

	if err != nil {
		r.log.WithFields(logrus.Fields{
			"instance_id": version.InstanceID,
			"field_path":  version.FieldPath,
			"error":       err,
		}).Error("Failed to append content version")
		return fmt.Errorf("appending content version: %w", err)
	}

	return nil
}

// ListByInstance retrieves an instance's audit rows, newest first
func (r *ContentVersionRepository) ListByInstance(ctx context.Context, instanceID uuid.UUID, limit, offset int) ([]*domain.ContentVersion, error) {
	query := `
		SELECT id, instance_id, field_path, value, author, ai_sourced, created_at
		FROM content_versions
		WHERE instance_id = $1
		ORDER BY id DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.QueryContext(ctx, query, instanceID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing content versions: %w", err)
	}
	defer rows.Close()

	return collectVersionRows(rows)
}

// ListByField retrieves the full history of one field, newest first
func (r *ContentVersionRepository) ListByField(ctx context.Context, instanceID uuid.UUID, fieldPath domain.FieldPath) ([]*domain.ContentVersion, error) {
	query := `
		SELECT id, instance_id, field_path, value, author, ai_sourced, created_at
		FROM content_versions
		WHERE instance_id = $1 AND field_path = $2
		ORDER BY id DESC`

	rows, err := r.db.QueryContext(ctx, query, instanceID, fieldPath)
	if err != nil {
		return nil, fmt.Errorf("listing field history: %w", err)
	}
	defer rows.Close()

	return collectVersionRows(rows)
}

// LatestBefore retrieves the newest audit row of a field older than beforeID,
// which revert restores.
func (r *ContentVersionRepository) LatestBefore(ctx context.Context, instanceID uuid.UUID, fieldPath domain.FieldPath, beforeID int64) (*domain.ContentVersion, error) {
	query := `
		SELECT id, instance_id, field_path, value, author, ai_sourced, created_at
		FROM content_versions
		WHERE instance_id = $1 AND field_path = $2 AND id < $3
		ORDER BY id DESC
		LIMIT 1`

	version, err := scanContentVersion(r.db.QueryRowContext(ctx, query, instanceID, fieldPath, beforeID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("no prior version of %s: %w", fieldPath, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting prior content version: %w", err)
	}

	return version, nil
}
