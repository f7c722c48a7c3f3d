package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/clinical-report-engine/internal/domain"
)

// SQLiteStore implements TemplateStore, ReportStore, and ContentVersionStore
// on an embedded SQLite database. Suitable for single-practice deployments and
// local development.
type SQLiteStore struct {
	db         *sql.DB
	dbPath     string
	typeExists func(string) bool
	log        *logrus.Logger
}

// NewSQLiteStore opens (creating if needed) a SQLite store at dbPath.
// typeExists reports whether a field type name is registered.
func NewSQLiteStore(dbPath string, typeExists func(string) bool, logger *logrus.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer connection; SQLite serializes writes anyway and this
	// keeps activation transactions free of SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := createSQLiteSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:         db,
		dbPath:     dbPath,
		typeExists: typeExists,
		log:        logger,
	}, nil
}

// createSQLiteSchema creates the tables and indexes
func createSQLiteSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS templates (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		scope TEXT NOT NULL,
		practice_id TEXT DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS template_versions (
		id TEXT PRIMARY KEY,
		template_id TEXT NOT NULL REFERENCES templates(id) ON DELETE CASCADE,
		version_number INTEGER NOT NULL,
		schema TEXT NOT NULL,
		rules TEXT NOT NULL DEFAULT '[]',
		approval_status TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 0,
		approved_by TEXT DEFAULT '',
		rejected_reason TEXT DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE(template_id, version_number)
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_one_active_version
		ON template_versions(template_id) WHERE is_active = 1;
	CREATE INDEX IF NOT EXISTS idx_versions_template ON template_versions(template_id);

	CREATE TABLE IF NOT EXISTS report_instances (
		id TEXT PRIMARY KEY,
		patient_id TEXT NOT NULL,
		template_version_id TEXT NOT NULL REFERENCES template_versions(id),
		answers TEXT NOT NULL DEFAULT '{}',
		provenance TEXT NOT NULL DEFAULT '{}',
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		completed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_instances_patient ON report_instances(patient_id);

	CREATE TABLE IF NOT EXISTS content_versions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		instance_id TEXT NOT NULL REFERENCES report_instances(id),
		field_path TEXT NOT NULL,
		value TEXT NOT NULL,
		author TEXT NOT NULL,
		ai_sourced INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_content_versions_field
		ON content_versions(instance_id, field_path);
	`

	_, err := db.Exec(schema)
	return err
}

// CreateTemplate inserts a new template
func (s *SQLiteStore) CreateTemplate(ctx context.Context, tmpl *domain.Template) error {
	if tmpl.ID == uuid.Nil {
		tmpl.ID = uuid.New()
	}
	now := time.Now().UTC()
	tmpl.CreatedAt = now
	tmpl.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO templates (id, name, type, scope, practice_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		tmpl.ID.String(),
		tmpl.Name,
		string(tmpl.Type),
		string(tmpl.Scope),
		tmpl.PracticeID,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert template: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"template_id": tmpl.ID,
		"name":        tmpl.Name,
	}).Info("Template created successfully")

	return nil
}

// GetTemplate retrieves a template by its ID
func (s *SQLiteStore) GetTemplate(ctx context.Context, id uuid.UUID) (*domain.Template, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, type, scope, practice_id, created_at, updated_at
		FROM templates
		WHERE id = ?
	`, id.String())

	tmpl, err := scanSQLiteTemplate(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("template %s: %w", id, domain.ErrTemplateNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan template: %w", err)
	}
	return tmpl, nil
}

// ListTemplates retrieves templates filtered by scope with pagination
func (s *SQLiteStore) ListTemplates(ctx context.Context, scope domain.TemplateScope, limit, offset int) ([]*domain.Template, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, type, scope, practice_id, created_at, updated_at
		FROM templates
		WHERE (? = '' OR scope = ?)
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, string(scope), string(scope), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	defer rows.Close()

	var templates []*domain.Template
	for rows.Next() {
		tmpl, err := scanSQLiteTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template row: %w", err)
		}
		templates = append(templates, tmpl)
	}
	return templates, rows.Err()
}

// DeleteTemplate removes a template and cascades to its versions
func (s *SQLiteStore) DeleteTemplate(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM templates WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("template %s: %w", id, domain.ErrTemplateNotFound)
	}
	return nil
}

// CreateDraftVersion validates the schema and rules, assigns the next version
// number, and inserts a new draft.
func (s *SQLiteStore) CreateDraftVersion(ctx context.Context, templateID uuid.UUID, schema domain.TemplateSchema, rules []domain.ConditionalRule) (*domain.TemplateVersion, error) {
	if err := domain.ValidateTemplateSchema(schema, rules, s.typeExists); err != nil {
		return nil, err
	}

	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	if rules == nil {
		rules = []domain.ConditionalRule{}
	}
	rulesJSON, err := json.Marshal(rules)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rules: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM templates WHERE id = ?`, templateID.String(),
	).Scan(&exists)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("template %s: %w", templateID, domain.ErrTemplateNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check template: %w", err)
	}

	var nextNumber int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version_number), 0) + 1 FROM template_versions WHERE template_id = ?`,
		templateID.String(),
	).Scan(&nextNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to compute version number: %w", err)
	}

	now := time.Now().UTC()
	version := &domain.TemplateVersion{
		ID:             uuid.New(),
		TemplateID:     templateID,
		VersionNumber:  nextNumber,
		Schema:         schema,
		Rules:          rules,
		ApprovalStatus: domain.STATUS_DRAFT,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO template_versions (id, template_id, version_number, schema, rules, approval_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		version.ID.String(),
		templateID.String(),
		nextNumber,
		string(schemaJSON),
		string(rulesJSON),
		string(version.ApprovalStatus),
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert draft version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit draft version: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"template_id":    templateID,
		"version_id":     version.ID,
		"version_number": nextNumber,
	}).Info("Draft version created")

	return version, nil
}

// GetVersion retrieves a template version by its ID
func (s *SQLiteStore) GetVersion(ctx context.Context, versionID uuid.UUID) (*domain.TemplateVersion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, template_id, version_number, schema, rules, approval_status,
			is_active, approved_by, rejected_reason, created_at, updated_at
		FROM template_versions
		WHERE id = ?
	`, versionID.String())

	version, err := scanSQLiteVersion(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("version %s: %w", versionID, domain.ErrVersionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan version: %w", err)
	}
	return version, nil
}

// ListVersions retrieves all versions of a template in version order
func (s *SQLiteStore) ListVersions(ctx context.Context, templateID uuid.UUID) ([]*domain.TemplateVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, template_id, version_number, schema, rules, approval_status,
			is_active, approved_by, rejected_reason, created_at, updated_at
		FROM template_versions
		WHERE template_id = ?
		ORDER BY version_number ASC
	`, templateID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query versions: %w", err)
	}
	defer rows.Close()

	var versions []*domain.TemplateVersion
	for rows.Next() {
		version, err := scanSQLiteVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan version row: %w", err)
		}
		versions = append(versions, version)
	}
	return versions, rows.Err()
}

// SubmitForApproval moves a draft version to pending review
func (s *SQLiteStore) SubmitForApproval(ctx context.Context, versionID uuid.UUID) error {
	return s.transition(ctx, versionID, "submit for approval", domain.STATUS_DRAFT, domain.STATUS_PENDING, "", "")
}

// Approve marks a pending version as approved, recording the approver
func (s *SQLiteStore) Approve(ctx context.Context, versionID uuid.UUID, approver string) error {
	return s.transition(ctx, versionID, "approve", domain.STATUS_PENDING, domain.STATUS_APPROVED, approver, "")
}

// Reject marks a pending version as rejected with a reason
func (s *SQLiteStore) Reject(ctx context.Context, versionID uuid.UUID, reason string) error {
	return s.transition(ctx, versionID, "reject", domain.STATUS_PENDING, domain.STATUS_REJECTED, "", reason)
}

// transition performs a guarded single-state transition
func (s *SQLiteStore) transition(ctx context.Context, versionID uuid.UUID, action string, from, to domain.ApprovalStatus, approver, reason string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE template_versions
		SET approval_status = ?,
			approved_by = CASE WHEN ? != '' THEN ? ELSE approved_by END,
			rejected_reason = CASE WHEN ? != '' THEN ? ELSE rejected_reason END,
			updated_at = ?
		WHERE id = ? AND approval_status = ?
	`,
		string(to),
		approver, approver,
		reason, reason,
		time.Now().UTC(),
		versionID.String(),
		string(from),
	)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", action, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return s.stateError(ctx, versionID, action)
	}

	s.log.WithFields(logrus.Fields{
		"version_id": versionID,
		"status":     to,
	}).Info("Template version state changed")

	return nil
}

// Activate makes an approved version the single active version of its
// template. The deactivate and activate run in one transaction on the single
// writer connection, so concurrent activations end with exactly one active.
func (s *SQLiteStore) Activate(ctx context.Context, versionID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var templateID string
	var status string
	err = tx.QueryRowContext(ctx,
		`SELECT template_id, approval_status FROM template_versions WHERE id = ?`,
		versionID.String(),
	).Scan(&templateID, &status)
	if err == sql.ErrNoRows {
		return fmt.Errorf("version %s: %w", versionID, domain.ErrVersionNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read version state: %w", err)
	}

	if domain.ApprovalStatus(status) != domain.STATUS_APPROVED {
		return &domain.VersionNotApprovedError{
			VersionID: versionID.String(),
			Status:    domain.ApprovalStatus(status),
		}
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE template_versions SET is_active = 0, updated_at = ?
		WHERE template_id = ? AND is_active = 1
	`, now, templateID); err != nil {
		return fmt.Errorf("failed to deactivate previous version: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE template_versions SET is_active = 1, updated_at = ?
		WHERE id = ?
	`, now, versionID.String()); err != nil {
		return fmt.Errorf("failed to activate version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit activation: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"template_id": templateID,
		"version_id":  versionID,
	}).Info("Template version activated")

	return nil
}

// GetActive retrieves the currently active version of a template
func (s *SQLiteStore) GetActive(ctx context.Context, templateID uuid.UUID) (*domain.TemplateVersion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, template_id, version_number, schema, rules, approval_status,
			is_active, approved_by, rejected_reason, created_at, updated_at
		FROM template_versions
		WHERE template_id = ? AND is_active = 1
	`, templateID.String())

	version, err := scanSQLiteVersion(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("template %s: %w", templateID, domain.ErrNoActiveVersion)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan active version: %w", err)
	}
	return version, nil
}

// stateError distinguishes a missing version from an illegal transition
func (s *SQLiteStore) stateError(ctx context.Context, versionID uuid.UUID, attempted string) error {
	var current string
	err := s.db.QueryRowContext(ctx,
		`SELECT approval_status FROM template_versions WHERE id = ?`, versionID.String(),
	).Scan(&current)
	if err == sql.ErrNoRows {
		return fmt.Errorf("version %s: %w", versionID, domain.ErrVersionNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read version state: %w", err)
	}
	return &domain.VersionStateError{
		VersionID: versionID.String(),
		From:      domain.ApprovalStatus(current),
		Attempted: attempted,
	}
}

// CreateInstance inserts a new report instance
func (s *SQLiteStore) CreateInstance(ctx context.Context, instance *domain.ReportInstance) error {
	if instance.ID == uuid.Nil {
		instance.ID = uuid.New()
	}
	answersJSON, provenanceJSON, err := marshalInstanceState(instance)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	instance.CreatedAt = now
	instance.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO report_instances (id, patient_id, template_version_id, answers, provenance, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		instance.ID.String(),
		instance.PatientID,
		instance.TemplateVersionID.String(),
		string(answersJSON),
		string(provenanceJSON),
		string(instance.Status),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert report instance: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"instance_id": instance.ID,
		"patient_id":  instance.PatientID,
	}).Info("Report instance created")

	return nil
}

// GetInstance retrieves a report instance by its ID
func (s *SQLiteStore) GetInstance(ctx context.Context, id uuid.UUID) (*domain.ReportInstance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, patient_id, template_version_id, answers, provenance, status,
			created_at, updated_at, completed_at
		FROM report_instances
		WHERE id = ?
	`, id.String())

	instance, err := scanSQLiteInstance(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("instance %s: %w", id, domain.ErrInstanceNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan report instance: %w", err)
	}
	return instance, nil
}

// UpdateInstance persists the answers, provenance, and status of an instance
func (s *SQLiteStore) UpdateInstance(ctx context.Context, instance *domain.ReportInstance) error {
	answersJSON, provenanceJSON, err := marshalInstanceState(instance)
	if err != nil {
		return err
	}

	var completedAt interface{}
	if instance.CompletedAt != nil {
		completedAt = *instance.CompletedAt
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE report_instances
		SET answers = ?, provenance = ?, status = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`,
		string(answersJSON),
		string(provenanceJSON),
		string(instance.Status),
		completedAt,
		time.Now().UTC(),
		instance.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update report instance: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("instance %s: %w", instance.ID, domain.ErrInstanceNotFound)
	}
	return nil
}

// ListInstancesByPatient retrieves a patient's report instances with pagination
func (s *SQLiteStore) ListInstancesByPatient(ctx context.Context, patientID string, limit, offset int) ([]*domain.ReportInstance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, patient_id, template_version_id, answers, provenance, status,
			created_at, updated_at, completed_at
		FROM report_instances
		WHERE patient_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query report instances: %w", err)
	}
	defer rows.Close()

	var instances []*domain.ReportInstance
	for rows.Next() {
		instance, err := scanSQLiteInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance row: %w", err)
		}
		instances = append(instances, instance)
	}
	return instances, rows.Err()
}

// Append records one new value for a field of an instance
func (s *SQLiteStore) Append(ctx context.Context, version *domain.ContentVersion) error {
	version.CreatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO content_versions (instance_id, field_path, value, author, ai_sourced, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		version.InstanceID.String(),
		version.FieldPath,
		version.Value,
		version.Author,
		version.AISourced,
		version.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append content version: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get insert ID: %w", err)
	}
	version.ID = id

	return nil
}

// ListByInstance retrieves an instance's audit rows, newest first
func (s *SQLiteStore) ListByInstance(ctx context.Context, instanceID uuid.UUID, limit, offset int) ([]*domain.ContentVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, instance_id, field_path, value, author, ai_sourced, created_at
		FROM content_versions
		WHERE instance_id = ?
		ORDER BY id DESC
		LIMIT ? OFFSET ?
	`, instanceID.String(), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query content versions: %w", err)
	}
	defer rows.Close()

	return collectVersionRows(rows)
}

// ListByField retrieves the full history of one field, newest first
func (s *SQLiteStore) ListByField(ctx context.Context, instanceID uuid.UUID, fieldPath domain.FieldPath) ([]*domain.ContentVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, instance_id, field_path, value, author, ai_sourced, created_at
		FROM content_versions
		WHERE instance_id = ? AND field_path = ?
		ORDER BY id DESC
	`, instanceID.String(), fieldPath)
	if err != nil {
		return nil, fmt.Errorf("failed to query field history: %w", err)
	}
	defer rows.Close()

	return collectVersionRows(rows)
}

// LatestBefore retrieves the newest audit row of a field older than beforeID
func (s *SQLiteStore) LatestBefore(ctx context.Context, instanceID uuid.UUID, fieldPath domain.FieldPath, beforeID int64) (*domain.ContentVersion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, instance_id, field_path, value, author, ai_sourced, created_at
		FROM content_versions
		WHERE instance_id = ? AND field_path = ? AND id < ?
		ORDER BY id DESC
		LIMIT 1
	`, instanceID.String(), fieldPath, beforeID)

	version, err := scanContentVersion(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no prior version of %s: %w", fieldPath, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan prior content version: %w", err)
	}
	return version, nil
}

// Health checks database connectivity
func (s *SQLiteStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the store and releases resources
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanSQLiteTemplate(s rowScanner) (*domain.Template, error) {
	tmpl := &domain.Template{}
	var id, templateType, scope string

	err := s.Scan(&id, &tmpl.Name, &templateType, &scope, &tmpl.PracticeID,
		&tmpl.CreatedAt, &tmpl.UpdatedAt)
	if err != nil {
		return nil, err
	}

	tmpl.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid template id %q: %w", id, err)
	}
	tmpl.Type = domain.TemplateType(templateType)
	tmpl.Scope = domain.TemplateScope(scope)
	return tmpl, nil
}

func scanSQLiteVersion(s rowScanner) (*domain.TemplateVersion, error) {
	version := &domain.TemplateVersion{}
	var id, templateID, schemaJSON, rulesJSON, status string

	err := s.Scan(&id, &templateID, &version.VersionNumber, &schemaJSON, &rulesJSON,
		&status, &version.IsActive, &version.ApprovedBy, &version.RejectedReason,
		&version.CreatedAt, &version.UpdatedAt)
	if err != nil {
		return nil, err
	}

	version.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid version id %q: %w", id, err)
	}
	version.TemplateID, err = uuid.Parse(templateID)
	if err != nil {
		return nil, fmt.Errorf("invalid template id %q: %w", templateID, err)
	}
	version.ApprovalStatus = domain.ApprovalStatus(status)

	if err := json.Unmarshal([]byte(schemaJSON), &version.Schema); err != nil {
		return nil, fmt.Errorf("invalid schema JSON: %w", err)
	}
	if err := json.Unmarshal([]byte(rulesJSON), &version.Rules); err != nil {
		return nil, fmt.Errorf("invalid rules JSON: %w", err)
	}
	return version, nil
}

func scanSQLiteInstance(s rowScanner) (*domain.ReportInstance, error) {
	instance := &domain.ReportInstance{}
	var id, versionID, answersJSON, provenanceJSON, status string
	var completedAt sql.NullTime

	err := s.Scan(&id, &instance.PatientID, &versionID, &answersJSON, &provenanceJSON,
		&status, &instance.CreatedAt, &instance.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	instance.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid instance id %q: %w", id, err)
	}
	instance.TemplateVersionID, err = uuid.Parse(versionID)
	if err != nil {
		return nil, fmt.Errorf("invalid version id %q: %w", versionID, err)
	}
	instance.Status = domain.ReportStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		instance.CompletedAt = &t
	}

	if err := json.Unmarshal([]byte(answersJSON), &instance.Answers); err != nil {
		return nil, fmt.Errorf("invalid answers JSON: %w", err)
	}
	if err := json.Unmarshal([]byte(provenanceJSON), &instance.Provenance); err != nil {
		return nil, fmt.Errorf("invalid provenance JSON: %w", err)
	}
	return instance, nil
}

func collectVersionRows(rows *sql.Rows) ([]*domain.ContentVersion, error) {
	var versions []*domain.ContentVersion
	for rows.Next() {
		version, err := scanContentVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan content version row: %w", err)
		}
		versions = append(versions, version)
	}
	return versions, rows.Err()
}
