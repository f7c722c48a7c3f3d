package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/clinical-report-engine/internal/domain"
)

// TemplateRepository handles template and version persistence on PostgreSQL.
// Activation serializes on a per-template advisory lock so at most one version
// per template is active at any instant.
type TemplateRepository struct {
	db         *pgxpool.Pool
	typeExists func(string) bool
	log        *logrus.Logger
}

// NewTemplateRepository creates a new template repository. typeExists reports
// whether a field type name is registered; draft schemas referencing unknown
// types are rejected before they are stored.
func NewTemplateRepository(db *pgxpool.Pool, typeExists func(string) bool, logger *logrus.Logger) *TemplateRepository {
	return &TemplateRepository{
		db:         db,
		typeExists: typeExists,
		log:        logger,
	}
}

// CreateTemplate inserts a new template
func (r *TemplateRepository) CreateTemplate(ctx context.Context, tmpl *domain.Template) error {
	if tmpl.ID == uuid.Nil {
		tmpl.ID = uuid.New()
	}

	query := `
		INSERT INTO templates (id, name, type, scope, practice_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		tmpl.ID,
		tmpl.Name,
		tmpl.Type,
		tmpl.Scope,
		tmpl.PracticeID,
	).Scan(&tmpl.CreatedAt, &tmpl.UpdatedAt)

	if err != nil {
		r.log.WithFields(logrus.Fields{
			"template_id": tmpl.ID,
			"name":        tmpl.Name,
			"error":       err,
		}).Error("Failed to create template")
		return fmt.Errorf("creating template: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"template_id": tmpl.ID,
		"name":        tmpl.Name,
		"scope":       tmpl.Scope,
	}).Info("Template created successfully")

	return nil
}

// GetTemplate retrieves a template by its ID
func (r *TemplateRepository) GetTemplate(ctx context.Context, id uuid.UUID) (*domain.Template, error) {
	query := `
		SELECT id, name, type, scope, practice_id, created_at, updated_at
		FROM templates
		WHERE id = $1`

	var tmpl domain.Template
	err := r.db.QueryRow(ctx, query, id).Scan(
		&tmpl.ID,
		&tmpl.Name,
		&tmpl.Type,
		&tmpl.Scope,
		&tmpl.PracticeID,
		&tmpl.CreatedAt,
		&tmpl.UpdatedAt,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("template %s: %w", id, domain.ErrTemplateNotFound)
		}
		r.log.WithFields(logrus.Fields{
			"template_id": id,
			"error":       err,
		}).Error("Failed to get template")
		return nil, fmt.Errorf("getting template: %w", err)
	}

	return &tmpl, nil
}

// ListTemplates retrieves templates filtered by scope with pagination. An
// empty scope returns all templates.
func (r *TemplateRepository) ListTemplates(ctx context.Context, scope domain.TemplateScope, limit, offset int) ([]*domain.Template, error) {
	query := `
		SELECT id, name, type, scope, practice_id, created_at, updated_at
		FROM templates
		WHERE ($1 = '' OR scope = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, query, string(scope), limit, offset)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"scope": scope,
			"error": err,
		}).Error("Failed to list templates")
		return nil, fmt.Errorf("listing templates: %w", err)
	}
	defer rows.Close()

	var templates []*domain.Template
	for rows.Next() {
		var tmpl domain.Template
		err := rows.Scan(
			&tmpl.ID,
			&tmpl.Name,
			&tmpl.Type,
			&tmpl.Scope,
			&tmpl.PracticeID,
			&tmpl.CreatedAt,
			&tmpl.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning template row: %w", err)
		}
		templates = append(templates, &tmpl)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating template rows: %w", err)
	}

	return templates, nil
}

// DeleteTemplate removes a template and its versions
func (r *TemplateRepository) DeleteTemplate(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Exec(ctx, `DELETE FROM templates WHERE id = $1`, id)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"template_id": id,
			"error":       err,
		}).Error("Failed to delete template")
		return fmt.Errorf("deleting template: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("template %s: %w", id, domain.ErrTemplateNotFound)
	}

	r.log.WithFields(logrus.Fields{
		"template_id": id,
	}).Info("Template deleted successfully")

	return nil
}

// CreateDraftVersion validates the schema and rules, assigns the next version
// number, and inserts a new draft. The template row is locked so concurrent
// drafts never collide on version_number.
func (r *TemplateRepository) CreateDraftVersion(ctx context.Context, templateID uuid.UUID, schema domain.TemplateSchema, rules []domain.ConditionalRule) (*domain.TemplateVersion, error) {
	if err := domain.ValidateTemplateSchema(schema, rules, r.typeExists); err != nil {
		return nil, err
	}

	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshaling schema: %w", err)
	}
	rulesJSON, err := json.Marshal(rules)
	if err != nil {
		return nil, fmt.Errorf("marshaling rules: %w", err)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT true FROM templates WHERE id = $1 FOR UPDATE`, templateID,
	).Scan(&exists)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("template %s: %w", templateID, domain.ErrTemplateNotFound)
		}
		return nil, fmt.Errorf("locking template: %w", err)
	}

	version := &domain.TemplateVersion{
		ID:             uuid.New(),
		TemplateID:     templateID,
		Schema:         schema,
		Rules:          rules,
		ApprovalStatus: domain.STATUS_DRAFT,
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO template_versions (id, template_id, version_number, schema, rules, approval_status)
		VALUES ($1, $2,
			(SELECT COALESCE(MAX(version_number), 0) + 1 FROM template_versions WHERE template_id = $2),
			$3, $4, $5)
		RETURNING version_number, created_at, updated_at`,
		version.ID, templateID, schemaJSON, rulesJSON, version.ApprovalStatus,
	).Scan(&version.VersionNumber, &version.CreatedAt, &version.UpdatedAt)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"template_id": templateID,
			"error":       err,
		}).Error("Failed to create draft version")
		return nil, fmt.Errorf("creating draft version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing draft version: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"template_id":    templateID,
		"version_id":     version.ID,
		"version_number": version.VersionNumber,
	}).Info("Draft version created")

	return version, nil
}

// GetVersion retrieves a template version by its ID
func (r *TemplateRepository) GetVersion(ctx context.Context, versionID uuid.UUID) (*domain.TemplateVersion, error) {
	query := `
		SELECT id, template_id, version_number, schema, rules, approval_status,
			   is_active, approved_by, rejected_reason, created_at, updated_at
		FROM template_versions
		WHERE id = $1`

	version, err := scanVersion(r.db.QueryRow(ctx, query, versionID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("version %s: %w", versionID, domain.ErrVersionNotFound)
		}
		r.log.WithFields(logrus.Fields{
			"version_id": versionID,
			"error":      err,
		}).Error("Failed to get template version")
		return nil, fmt.Errorf("getting template version: %w", err)
	}

	return version, nil
}

// ListVersions retrieves all versions of a template in version order
func (r *TemplateRepository) ListVersions(ctx context.Context, templateID uuid.UUID) ([]*domain.TemplateVersion, error) {
	query := `
		SELECT id, template_id, version_number, schema, rules, approval_status,
			   is_active, approved_by, rejected_reason, created_at, updated_at
		FROM template_versions
		WHERE template_id = $1
		ORDER BY version_number ASC`

	rows, err := r.db.Query(ctx, query, templateID)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"template_id": templateID,
			"error":       err,
		}).Error("Failed to list template versions")
		return nil, fmt.Errorf("listing template versions: %w", err)
	}
	defer rows.Close()

	var versions []*domain.TemplateVersion
	for rows.Next() {
		version, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning version row: %w", err)
		}
		versions = append(versions, version)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating version rows: %w", err)
	}

	return versions, nil
}

// SubmitForApproval moves a draft version to pending review
func (r *TemplateRepository) SubmitForApproval(ctx context.Context, versionID uuid.UUID) error {
	return r.transition(ctx, versionID, "submit for approval",
		domain.STATUS_DRAFT, domain.STATUS_PENDING, `
		UPDATE template_versions
		SET approval_status = $2, updated_at = NOW()
		WHERE id = $1 AND approval_status = $3`)
}

// Approve marks a pending version as approved, recording the approver
func (r *TemplateRepository) Approve(ctx context.Context, versionID uuid.UUID, approver string) error {
	result, err := r.db.Exec(ctx, `
		UPDATE template_versions
		SET approval_status = $2, approved_by = $3, updated_at = NOW()
		WHERE id = $1 AND approval_status = $4`,
		versionID, domain.STATUS_APPROVED, approver, domain.STATUS_PENDING)
	if err != nil {
		return fmt.Errorf("approving version: %w", err)
	}
	if result.RowsAffected() == 0 {
		return r.stateError(ctx, versionID, "approve")
	}

	r.log.WithFields(logrus.Fields{
		"version_id": versionID,
		"approver":   approver,
	}).Info("Template version approved")

	return nil
}

// Reject marks a pending version as rejected with a reason
func (r *TemplateRepository) Reject(ctx context.Context, versionID uuid.UUID, reason string) error {
	result, err := r.db.Exec(ctx, `
		UPDATE template_versions
		SET approval_status = $2, rejected_reason = $3, updated_at = NOW()
		WHERE id = $1 AND approval_status = $4`,
		versionID, domain.STATUS_REJECTED, reason, domain.STATUS_PENDING)
	if err != nil {
		return fmt.Errorf("rejecting version: %w", err)
	}
	if result.RowsAffected() == 0 {
		return r.stateError(ctx, versionID, "reject")
	}

	r.log.WithFields(logrus.Fields{
		"version_id": versionID,
		"reason":     reason,
	}).Info("Template version rejected")

	return nil
}

// Activate makes an approved version the single active version of its
// template, deactivating any previous one in the same transaction. Concurrent
// activations on one template serialize on an advisory lock.
func (r *TemplateRepository) Activate(ctx context.Context, versionID uuid.UUID) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var templateID uuid.UUID
	var status domain.ApprovalStatus
	err = tx.QueryRow(ctx,
		`SELECT template_id, approval_status FROM template_versions WHERE id = $1`,
		versionID,
	).Scan(&templateID, &status)
	if err != nil {
		if err == pgx.ErrNoRows {
			return fmt.Errorf("version %s: %w", versionID, domain.ErrVersionNotFound)
		}
		return fmt.Errorf("reading version state: %w", err)
	}

	if status != domain.STATUS_APPROVED {
		return &domain.VersionNotApprovedError{VersionID: versionID.String(), Status: status}
	}

	// Held until commit; the second of two racing activations waits here and
	// then sees the first one's is_active flip.
	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1::text))`, templateID,
	); err != nil {
		return fmt.Errorf("acquiring activation lock: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE template_versions
		SET is_active = FALSE, updated_at = NOW()
		WHERE template_id = $1 AND is_active`,
		templateID,
	); err != nil {
		return fmt.Errorf("deactivating previous version: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE template_versions
		SET is_active = TRUE, updated_at = NOW()
		WHERE id = $1`,
		versionID,
	); err != nil {
		return fmt.Errorf("activating version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing activation: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"template_id": templateID,
		"version_id":  versionID,
	}).Info("Template version activated")

	return nil
}

// GetActive retrieves the currently active version of a template
func (r *TemplateRepository) GetActive(ctx context.Context, templateID uuid.UUID) (*domain.TemplateVersion, error) {
	query := `
		SELECT id, template_id, version_number, schema, rules, approval_status,
			   is_active, approved_by, rejected_reason, created_at, updated_at
		FROM template_versions
		WHERE template_id = $1 AND is_active`

	version, err := scanVersion(r.db.QueryRow(ctx, query, templateID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("template %s: %w", templateID, domain.ErrNoActiveVersion)
		}
		return nil, fmt.Errorf("getting active version: %w", err)
	}

	return version, nil
}

// transition performs a guarded single-state transition
func (r *TemplateRepository) transition(ctx context.Context, versionID uuid.UUID, action string, from, to domain.ApprovalStatus, query string) error {
	result, err := r.db.Exec(ctx, query, versionID, to, from)
	if err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	if result.RowsAffected() == 0 {
		return r.stateError(ctx, versionID, action)
	}

	r.log.WithFields(logrus.Fields{
		"version_id": versionID,
		"status":     to,
	}).Info("Template version state changed")

	return nil
}

// stateError distinguishes a missing version from an illegal transition
func (r *TemplateRepository) stateError(ctx context.Context, versionID uuid.UUID, attempted string) error {
	var current domain.ApprovalStatus
	err := r.db.QueryRow(ctx,
		`SELECT approval_status FROM template_versions WHERE id = $1`, versionID,
	).Scan(&current)
	if err != nil {
		if err == pgx.ErrNoRows {
			return fmt.Errorf("version %s: %w", versionID, domain.ErrVersionNotFound)
		}
		return fmt.Errorf("reading version state: %w", err)
	}
	return &domain.VersionStateError{VersionID: versionID.String(), From: current, Attempted: attempted}
}

// rowScanner is satisfied by pgx.Row and pgx.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanVersion scans one template_versions row, unmarshaling the JSON columns
func scanVersion(s rowScanner) (*domain.TemplateVersion, error) {
	var version domain.TemplateVersion
	var schemaJSON, rulesJSON []byte
	var approvedBy, rejectedReason *string

	err := s.Scan(
		&version.ID,
		&version.TemplateID,
		&version.VersionNumber,
		&schemaJSON,
		&rulesJSON,
		&version.ApprovalStatus,
		&version.IsActive,
		&approvedBy,
		&rejectedReason,
		&version.CreatedAt,
		&version.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(schemaJSON, &version.Schema); err != nil {
		return nil, fmt.Errorf("unmarshaling schema: %w", err)
	}
	if len(rulesJSON) > 0 {
		if err := json.Unmarshal(rulesJSON, &version.Rules); err != nil {
			return nil, fmt.Errorf("unmarshaling rules: %w", err)
		}
	}
	if approvedBy != nil {
		version.ApprovedBy = *approvedBy
	}
	if rejectedReason != nil {
		version.RejectedReason = *rejectedReason
	}

	return &version, nil
}
