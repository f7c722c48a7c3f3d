package domain

import (
	"context"

	"github.com/google/uuid"
)

// TemplateStore persists templates and their append-only version history.
// Implementations must guarantee at most one active version per template at
// any observable instant.
type TemplateStore interface {
	CreateTemplate(ctx context.Context, tmpl *Template) error
	GetTemplate(ctx context.Context, id uuid.UUID) (*Template, error)
	ListTemplates(ctx context.Context, scope TemplateScope, limit, offset int) ([]*Template, error)
	DeleteTemplate(ctx context.Context, id uuid.UUID) error

	CreateDraftVersion(ctx context.Context, templateID uuid.UUID, schema TemplateSchema, rules []ConditionalRule) (*TemplateVersion, error)
	GetVersion(ctx context.Context, versionID uuid.UUID) (*TemplateVersion, error)
	ListVersions(ctx context.Context, templateID uuid.UUID) ([]*TemplateVersion, error)
	SubmitForApproval(ctx context.Context, versionID uuid.UUID) error
	Approve(ctx context.Context, versionID uuid.UUID, approver string) error
	Reject(ctx context.Context, versionID uuid.UUID, reason string) error
	Activate(ctx context.Context, versionID uuid.UUID) error
	GetActive(ctx context.Context, templateID uuid.UUID) (*TemplateVersion, error)
}

// ReportStore persists report instances. Completed reports are archived,
// never hard-deleted.
type ReportStore interface {
	CreateInstance(ctx context.Context, instance *ReportInstance) error
	GetInstance(ctx context.Context, id uuid.UUID) (*ReportInstance, error)
	UpdateInstance(ctx context.Context, instance *ReportInstance) error
	ListInstancesByPatient(ctx context.Context, patientID string, limit, offset int) ([]*ReportInstance, error)
}

// ContentVersionStore is the append-only audit of rendered and edited field
// values, read back for revert.
type ContentVersionStore interface {
	Append(ctx context.Context, version *ContentVersion) error
	ListByInstance(ctx context.Context, instanceID uuid.UUID, limit, offset int) ([]*ContentVersion, error)
	ListByField(ctx context.Context, instanceID uuid.UUID, fieldPath FieldPath) ([]*ContentVersion, error)
	LatestBefore(ctx context.Context, instanceID uuid.UUID, fieldPath FieldPath, beforeID int64) (*ContentVersion, error)
}

// FieldTypeChecker resolves field type names and validates answer values
// against their declared types.
type FieldTypeChecker interface {
	Exists(name string) bool
	Validate(typeName string, path FieldPath, value interface{}, config map[string]interface{}) []FieldValidationError
}

// RuleEvaluator computes the visible/required/populated field state for a
// version's rules against an answer set. Pure and safe for parallel use.
type RuleEvaluator interface {
	Evaluate(version *TemplateVersion, answers AnswerMap) (*EvaluationResult, error)
}

// GeneratorFunc produces narrative text from clinical inputs; invoked by the
// content cache exactly once per key under concurrent callers.
type GeneratorFunc func(ctx context.Context, inputs *ClinicalInputs) (string, error)

// ContentProvider is the cache-fronted generation surface the coordinator uses
type ContentProvider interface {
	GetOrGenerate(ctx context.Context, key ContentKey, inputs *ClinicalInputs, generate GeneratorFunc, force bool) (*GeneratedContent, error)
	Invalidate(ctx context.Context, patientID string, contentType *ContentType) error
}

// PatientReader is the read-only patient record contract consumed from the
// surrounding product.
type PatientReader interface {
	GetPatient(ctx context.Context, patientID string) (*PatientRecord, error)
}

// ClinicalInputReader aggregates the clinical source data hashed for cache
// staleness detection and fed to AI generation.
type ClinicalInputReader interface {
	GetClinicalInputs(ctx context.Context, patientID string, disciplines []string) (*ClinicalInputs, error)
}

// TextGenerator is the AI generation backend, only ever called inside a
// GeneratorFunc.
type TextGenerator interface {
	Generate(ctx context.Context, promptContext string) (string, error)
}
