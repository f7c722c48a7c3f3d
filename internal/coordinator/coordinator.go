// Package coordinator orchestrates the report lifecycle: opening instances
// against active template versions, merging answer updates through the rule
// engine, threading AI-generated content into fields, and completing reports
// against the required-field and validation gates.
package coordinator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/clinical-report-engine/internal/domain"
	"github.com/clinical-report-engine/pkg/external"
)

// Coordinator drives report instances through their lifecycle
type Coordinator struct {
	logger    *logrus.Logger
	templates domain.TemplateStore
	reports   domain.ReportStore
	audit     domain.ContentVersionStore
	types     domain.FieldTypeChecker
	evaluator domain.RuleEvaluator
	content   domain.ContentProvider
	patients  domain.PatientReader
	clinical  domain.ClinicalInputReader
	generator domain.TextGenerator
}

// New creates a new report coordinator
func New(
	logger *logrus.Logger,
	templates domain.TemplateStore,
	reports domain.ReportStore,
	audit domain.ContentVersionStore,
	types domain.FieldTypeChecker,
	evaluator domain.RuleEvaluator,
	content domain.ContentProvider,
	patients domain.PatientReader,
	clinical domain.ClinicalInputReader,
	generator domain.TextGenerator,
) *Coordinator {
	return &Coordinator{
		logger:    logger,
		templates: templates,
		reports:   reports,
		audit:     audit,
		types:     types,
		evaluator: evaluator,
		content:   content,
		patients:  patients,
		clinical:  clinical,
		generator: generator,
	}
}

// ReportView bundles an instance with its template version and the current
// rule evaluation, which is recomputed on every read and write.
type ReportView struct {
	Instance   *domain.ReportInstance   `json:"instance"`
	Version    *domain.TemplateVersion  `json:"version"`
	Evaluation *domain.EvaluationResult `json:"evaluation"`
}

// OpenReport creates a new draft report for a patient against the active
// version of the given template. The instance stays pinned to that version
// even if a newer one is activated later.
func (c *Coordinator) OpenReport(ctx context.Context, patientID string, templateID uuid.UUID) (*ReportView, error) {
	if _, err := c.patients.GetPatient(ctx, patientID); err != nil {
		return nil, fmt.Errorf("resolving patient: %w", err)
	}

	version, err := c.templates.GetActive(ctx, templateID)
	if err != nil {
		return nil, err
	}

	instance := &domain.ReportInstance{
		PatientID:         patientID,
		TemplateVersionID: version.ID,
		Answers:           domain.AnswerMap{},
		Provenance:        map[domain.FieldPath]domain.Provenance{},
		Status:            domain.REPORT_DRAFT,
	}
	if err := c.reports.CreateInstance(ctx, instance); err != nil {
		return nil, err
	}

	evaluation, err := c.evaluator.Evaluate(version, instance.Answers)
	if err != nil {
		return nil, fmt.Errorf("evaluating rules: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"instance_id": instance.ID,
		"patient_id":  patientID,
		"template_id": templateID,
		"version_id":  version.ID,
	}).Info("Report opened")

	return &ReportView{Instance: instance, Version: version, Evaluation: evaluation}, nil
}

// GetReport loads an instance and recomputes its rule evaluation
func (c *Coordinator) GetReport(ctx context.Context, instanceID uuid.UUID) (*ReportView, error) {
	instance, err := c.reports.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	version, err := c.templates.GetVersion(ctx, instance.TemplateVersionID)
	if err != nil {
		return nil, err
	}

	evaluation, err := c.evaluator.Evaluate(version, instance.Answers)
	if err != nil {
		return nil, fmt.Errorf("evaluating rules: %w", err)
	}

	return &ReportView{Instance: instance, Version: version, Evaluation: evaluation}, nil
}

// ListReports retrieves a patient's report instances with pagination
func (c *Coordinator) ListReports(ctx context.Context, patientID string, limit, offset int) ([]*domain.ReportInstance, error) {
	return c.reports.ListInstancesByPatient(ctx, patientID, limit, offset)
}

// UpdateAnswers merges manual edits into an instance, re-runs the rules, and
// applies any rule-populated values. Every changed field, manual or
// rule-populated, is recorded in the append-only audit trail; manual edits
// flip the field's provenance to manual.
func (c *Coordinator) UpdateAnswers(ctx context.Context, instanceID uuid.UUID, updates domain.AnswerMap, author string) (*ReportView, error) {
	instance, err := c.reports.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if instance.Status == domain.REPORT_COMPLETED {
		return nil, fmt.Errorf("instance %s: %w", instanceID, domain.ErrReportCompleted)
	}

	version, err := c.templates.GetVersion(ctx, instance.TemplateVersionID)
	if err != nil {
		return nil, err
	}

	// Undeclared fields and type-invalid values are collected across the
	// whole update before anything is written.
	var problems []domain.FieldValidationError
	for path, value := range updates {
		field, ok := version.Schema.FieldAt(path)
		if !ok {
			fieldErr := domain.NewFieldValidationError(path, "field is not declared in the template", value)
			return nil, &fieldErr
		}
		if domain.IsEmptyValue(value) {
			continue
		}
		problems = append(problems, c.types.Validate(field.Type, path, value, field.Config)...)
	}
	if len(problems) > 0 {
		return nil, &domain.ValidationFailedError{Errors: problems}
	}

	for path, value := range updates {
		instance.Answers[path] = value
		instance.Provenance[path] = domain.PROVENANCE_MANUAL

		if err := c.audit.Append(ctx, &domain.ContentVersion{
			InstanceID: instance.ID,
			FieldPath:  path,
			Value:      fmt.Sprint(value),
			Author:     author,
			AISourced:  false,
		}); err != nil {
			return nil, fmt.Errorf("recording edit: %w", err)
		}
	}

	evaluation, err := c.evaluator.Evaluate(version, instance.Answers)
	if err != nil {
		return nil, fmt.Errorf("evaluating rules: %w", err)
	}

	// Rule-populated and calculated values become part of the saved answers.
	// A changed value is audited like any other mutation, under the "rules"
	// author so the trail shows the engine wrote it.
	for path, value := range evaluation.PopulatedValues {
		prev, had := instance.Answers[path]
		instance.Answers[path] = value
		if had && fmt.Sprint(prev) == fmt.Sprint(value) {
			continue
		}
		instance.Provenance[path] = domain.PROVENANCE_MANUAL

		if err := c.audit.Append(ctx, &domain.ContentVersion{
			InstanceID: instance.ID,
			FieldPath:  path,
			Value:      fmt.Sprint(value),
			Author:     "rules",
			AISourced:  false,
		}); err != nil {
			return nil, fmt.Errorf("recording populated value: %w", err)
		}
	}

	if instance.Status == domain.REPORT_DRAFT {
		instance.Status = domain.REPORT_IN_PROGRESS
	}

	if err := c.reports.UpdateInstance(ctx, instance); err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"instance_id": instanceID,
		"fields":      len(updates),
		"author":      author,
		"passes":      evaluation.Passes,
	}).Info("Report answers updated")

	return &ReportView{Instance: instance, Version: version, Evaluation: evaluation}, nil
}

// GenerateContent fills a narrative field with AI-generated text, served from
// the content cache when the underlying clinical data is unchanged. The
// result lands in the field with AI provenance and an audit row; a clinician
// edit afterwards flips provenance to manual via UpdateAnswers.
func (c *Coordinator) GenerateContent(ctx context.Context, instanceID uuid.UUID, fieldPath domain.FieldPath, contentType domain.ContentType, disciplines []string, force bool) (*domain.GeneratedContent, error) {
	instance, err := c.reports.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if instance.Status == domain.REPORT_COMPLETED {
		return nil, fmt.Errorf("instance %s: %w", instanceID, domain.ErrReportCompleted)
	}

	version, err := c.templates.GetVersion(ctx, instance.TemplateVersionID)
	if err != nil {
		return nil, err
	}
	if _, ok := version.Schema.FieldAt(fieldPath); !ok {
		fieldErr := domain.NewFieldValidationError(fieldPath, "field is not declared in the template", nil)
		return nil, &fieldErr
	}

	inputs, err := c.clinical.GetClinicalInputs(ctx, instance.PatientID, disciplines)
	if err != nil {
		return nil, fmt.Errorf("reading clinical inputs: %w", err)
	}

	key := domain.ContentKey{
		PatientID:   instance.PatientID,
		ContentType: contentType,
		Discipline:  strings.Join(disciplines, ","),
	}

	generated, err := c.content.GetOrGenerate(ctx, key, inputs, func(ctx context.Context, inputs *domain.ClinicalInputs) (string, error) {
		return c.generator.Generate(ctx, external.BuildPrompt(contentType, inputs))
	}, force)
	if err != nil {
		return nil, err
	}

	instance.Answers[fieldPath] = generated.Content
	instance.Provenance[fieldPath] = domain.PROVENANCE_AI
	if instance.Status == domain.REPORT_DRAFT {
		instance.Status = domain.REPORT_IN_PROGRESS
	}

	if err := c.audit.Append(ctx, &domain.ContentVersion{
		InstanceID: instance.ID,
		FieldPath:  fieldPath,
		Value:      generated.Content,
		Author:     "ai",
		AISourced:  true,
	}); err != nil {
		return nil, fmt.Errorf("recording generated content: %w", err)
	}

	if err := c.reports.UpdateInstance(ctx, instance); err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"instance_id":  instanceID,
		"field_path":   fieldPath,
		"content_type": contentType,
		"stale":        generated.Stale,
	}).Info("AI content placed into report field")

	return generated, nil
}

// CompleteReport closes an instance after checking that every visible
// required field is answered and no validation rule fails. Problems are
// collected so the caller sees the full list at once.
func (c *Coordinator) CompleteReport(ctx context.Context, instanceID uuid.UUID) (*ReportView, error) {
	instance, err := c.reports.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if instance.Status == domain.REPORT_COMPLETED {
		return nil, fmt.Errorf("instance %s: %w", instanceID, domain.ErrReportCompleted)
	}

	version, err := c.templates.GetVersion(ctx, instance.TemplateVersionID)
	if err != nil {
		return nil, err
	}

	evaluation, err := c.evaluator.Evaluate(version, instance.Answers)
	if err != nil {
		return nil, fmt.Errorf("evaluating rules: %w", err)
	}

	var missing []domain.FieldPath
	for _, path := range evaluation.RequiredFields {
		if domain.IsEmptyValue(instance.Answers[path]) {
			missing = append(missing, path)
		}
	}
	if len(missing) > 0 {
		return nil, &domain.IncompleteRequiredFieldsError{Missing: missing}
	}
	if len(evaluation.ValidationErrors) > 0 {
		return nil, &domain.ValidationFailedError{Errors: evaluation.ValidationErrors}
	}

	now := time.Now().UTC()
	instance.Status = domain.REPORT_COMPLETED
	instance.CompletedAt = &now

	if err := c.reports.UpdateInstance(ctx, instance); err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"instance_id": instanceID,
		"patient_id":  instance.PatientID,
	}).Info("Report completed")

	return &ReportView{Instance: instance, Version: version, Evaluation: evaluation}, nil
}

// ReopenReport returns a completed instance to in-progress for amendment.
// The completion timestamp is cleared; the audit trail keeps the full history.
func (c *Coordinator) ReopenReport(ctx context.Context, instanceID uuid.UUID, reason string) (*domain.ReportInstance, error) {
	instance, err := c.reports.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if instance.Status != domain.REPORT_COMPLETED {
		return nil, fmt.Errorf("instance %s is %s, only completed reports can be reopened", instanceID, instance.Status)
	}

	instance.Status = domain.REPORT_IN_PROGRESS
	instance.CompletedAt = nil

	if err := c.reports.UpdateInstance(ctx, instance); err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"instance_id": instanceID,
		"reason":      reason,
	}).Info("Report reopened")

	return instance, nil
}

// RevertField restores a field to its previous audited value. The revert is
// itself an append to the audit trail, so nothing is ever lost.
func (c *Coordinator) RevertField(ctx context.Context, instanceID uuid.UUID, fieldPath domain.FieldPath, author string) (*domain.ContentVersion, error) {
	instance, err := c.reports.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if instance.Status == domain.REPORT_COMPLETED {
		return nil, fmt.Errorf("instance %s: %w", instanceID, domain.ErrReportCompleted)
	}

	history, err := c.audit.ListByField(ctx, instanceID, fieldPath)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("no history for field %s: %w", fieldPath, domain.ErrNotFound)
	}

	prior, err := c.audit.LatestBefore(ctx, instanceID, fieldPath, history[0].ID)
	if err != nil {
		return nil, err
	}

	instance.Answers[fieldPath] = prior.Value
	if prior.AISourced {
		instance.Provenance[fieldPath] = domain.PROVENANCE_AI
	} else {
		instance.Provenance[fieldPath] = domain.PROVENANCE_MANUAL
	}

	reverted := &domain.ContentVersion{
		InstanceID: instanceID,
		FieldPath:  fieldPath,
		Value:      prior.Value,
		Author:     author,
		AISourced:  prior.AISourced,
	}
	if err := c.audit.Append(ctx, reverted); err != nil {
		return nil, fmt.Errorf("recording revert: %w", err)
	}

	if err := c.reports.UpdateInstance(ctx, instance); err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"instance_id": instanceID,
		"field_path":  fieldPath,
		"restored_id": prior.ID,
	}).Info("Field reverted to prior version")

	return reverted, nil
}

// FieldHistory returns the audit trail of one field, newest first
func (c *Coordinator) FieldHistory(ctx context.Context, instanceID uuid.UUID, fieldPath domain.FieldPath) ([]*domain.ContentVersion, error) {
	return c.audit.ListByField(ctx, instanceID, fieldPath)
}

// InvalidateContent drops cached AI content for a patient so the next
// generation request hits the backend with fresh clinical data.
func (c *Coordinator) InvalidateContent(ctx context.Context, patientID string, contentType *domain.ContentType) error {
	return c.content.Invalidate(ctx, patientID, contentType)
}
