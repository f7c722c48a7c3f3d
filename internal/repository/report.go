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

// ReportRepository handles report instance persistence on PostgreSQL
type ReportRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewReportRepository creates a new report instance repository
func NewReportRepository(db *pgxpool.Pool, logger *logrus.Logger) *ReportRepository {
	return &ReportRepository{
		db:  db,
		log: logger,
	}
}

// CreateInstance inserts a new report instance
func (r *ReportRepository) CreateInstance(ctx context.Context, instance *domain.ReportInstance) error {
	if instance.ID == uuid.Nil {
		instance.ID = uuid.New()
	}

	answersJSON, provenanceJSON, err := marshalInstanceState(instance)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO report_instances (id, patient_id, template_version_id, answers, provenance, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`

	err = r.db.QueryRow(ctx, query,
		instance.ID,
		instance.PatientID,
		instance.TemplateVersionID,
		answersJSON,
		provenanceJSON,
		instance.Status,
	).Scan(&instance.CreatedAt, &instance.UpdatedAt)

	if err != nil {
		r.log.WithFields(logrus.Fields{
			"instance_id": instance.ID,
			"patient_id":  instance.PatientID,
			"error":       err,
		}).Error("Failed to create report instance")
		return fmt.Errorf("creating report instance: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"instance_id": instance.ID,
		"patient_id":  instance.PatientID,
		"version_id":  instance.TemplateVersionID,
	}).Info("Report instance created")

	return nil
}

// GetInstance retrieves a report instance by its ID
func (r *ReportRepository) GetInstance(ctx context.Context, id uuid.UUID) (*domain.ReportInstance, error) {
	query := `
		SELECT id, patient_id, template_version_id, answers, provenance, status,
			   created_at, updated_at, completed_at
		FROM report_instances
		WHERE id = $1`

	instance, err := scanInstance(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("instance %s: %w", id, domain.ErrInstanceNotFound)
		}
		r.log.WithFields(logrus.Fields{
			"instance_id": id,
			"error":       err,
		}).Error("Failed to get report instance")
		return nil, fmt.Errorf("getting report instance: %w", err)
	}

	return instance, nil
}

// UpdateInstance persists the answers, provenance, and status of an instance
func (r *ReportRepository) UpdateInstance(ctx context.Context, instance *domain.ReportInstance) error {
	answersJSON, provenanceJSON, err := marshalInstanceState(instance)
	if err != nil {
		return err
	}

	query := `
		UPDATE report_instances
		SET answers = $2, provenance = $3, status = $4, completed_at = $5, updated_at = NOW()
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query,
		instance.ID,
		answersJSON,
		provenanceJSON,
		instance.Status,
		instance.CompletedAt,
	)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"instance_id": instance.ID,
			"error":       err,
		}).Error("Failed to update report instance")
		return fmt.Errorf("updating report instance: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("instance %s: %w", instance.ID, domain.ErrInstanceNotFound)
	}

	return nil
}

// ListInstancesByPatient retrieves a patient's report instances with pagination
func (r *ReportRepository) ListInstancesByPatient(ctx context.Context, patientID string, limit, offset int) ([]*domain.ReportInstance, error) {
	query := `
		SELECT id, patient_id, template_version_id, answers, provenance, status,
			   created_at, updated_at, completed_at
		FROM report_instances
		WHERE patient_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, query, patientID, limit, offset)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"patient_id": patientID,
			"error":      err,
		}).Error("Failed to list report instances")
		return nil, fmt.Errorf("listing report instances: %w", err)
	}
	defer rows.Close()

	var instances []*domain.ReportInstance
	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning instance row: %w", err)
		}
		instances = append(instances, instance)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating instance rows: %w", err)
	}

	return instances, nil
}

func marshalInstanceState(instance *domain.ReportInstance) ([]byte, []byte, error) {
	if instance.Answers == nil {
		instance.Answers = domain.AnswerMap{}
	}
	if instance.Provenance == nil {
		instance.Provenance = map[domain.FieldPath]domain.Provenance{}
	}

	answersJSON, err := json.Marshal(instance.Answers)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling answers: %w", err)
	}
	provenanceJSON, err := json.Marshal(instance.Provenance)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling provenance: %w", err)
	}
	return answersJSON, provenanceJSON, nil
}

// scanInstance scans one report_instances row, unmarshaling the JSON columns
func scanInstance(s rowScanner) (*domain.ReportInstance, error) {
	var instance domain.ReportInstance
	var answersJSON, provenanceJSON []byte

	err := s.Scan(
		&instance.ID,
		&instance.PatientID,
		&instance.TemplateVersionID,
		&answersJSON,
		&provenanceJSON,
		&instance.Status,
		&instance.CreatedAt,
		&instance.UpdatedAt,
		&instance.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(answersJSON, &instance.Answers); err != nil {
		return nil, fmt.Errorf("unmarshaling answers: %w", err)
	}
	if err := json.Unmarshal(provenanceJSON, &instance.Provenance); err != nil {
		return nil, fmt.Errorf("unmarshaling provenance: %w", err)
	}

	return &instance, nil
}

func scanContentVersion(s rowScanner) (*domain.ContentVersion, error) {
	var version domain.ContentVersion
	err := s.Scan(
		&version.ID,
		&version.InstanceID,
		&version.FieldPath,
		&version.Value,
		&version.Author,
		&version.AISourced,
		&version.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &version, nil
}
