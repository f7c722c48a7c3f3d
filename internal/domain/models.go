package domain

import (
	"time"

	"github.com/google/uuid"
)

// Core Enums and Types

// TemplateType represents the kind of clinical report a template produces
type TemplateType string

const (
	DISCHARGE TemplateType = "DISCHARGE"
	PROGRESS  TemplateType = "PROGRESS"
	INSURANCE TemplateType = "INSURANCE"
	INITIAL   TemplateType = "INITIAL_ASSESSMENT"
	CUSTOM    TemplateType = "CUSTOM"
)

// TemplateScope represents who may use a template
type TemplateScope string

const (
	SCOPE_SYSTEM   TemplateScope = "SYSTEM"
	SCOPE_PRACTICE TemplateScope = "PRACTICE"
)

// ApprovalStatus represents the review state of a template version
type ApprovalStatus string

const (
	STATUS_DRAFT    ApprovalStatus = "DRAFT"
	STATUS_PENDING  ApprovalStatus = "PENDING"
	STATUS_APPROVED ApprovalStatus = "APPROVED"
	STATUS_REJECTED ApprovalStatus = "REJECTED"
)

// ReportStatus represents the lifecycle state of a report instance
type ReportStatus string

const (
	REPORT_DRAFT       ReportStatus = "DRAFT"
	REPORT_IN_PROGRESS ReportStatus = "IN_PROGRESS"
	REPORT_COMPLETED   ReportStatus = "COMPLETED"
)

// Provenance records whether a field value came from AI generation or manual entry
type Provenance string

const (
	PROVENANCE_AI     Provenance = "AI_GENERATED"
	PROVENANCE_MANUAL Provenance = "MANUAL"
)

// RuleActionType represents the effect a conditional rule applies to its targets
type RuleActionType string

const (
	ACTION_SHOW      RuleActionType = "SHOW"
	ACTION_HIDE      RuleActionType = "HIDE"
	ACTION_ENABLE    RuleActionType = "ENABLE"
	ACTION_DISABLE   RuleActionType = "DISABLE"
	ACTION_POPULATE  RuleActionType = "POPULATE"
	ACTION_VALIDATE  RuleActionType = "VALIDATE"
	ACTION_CALCULATE RuleActionType = "CALCULATE"
)

// ConditionOperator represents the predicate applied to a trigger field value
type ConditionOperator string

const (
	OP_EQUALS       ConditionOperator = "EQUALS"
	OP_NOT_EQUALS   ConditionOperator = "NOT_EQUALS"
	OP_GREATER_THAN ConditionOperator = "GREATER_THAN"
	OP_LESS_THAN    ConditionOperator = "LESS_THAN"
	OP_BETWEEN      ConditionOperator = "BETWEEN"
	OP_IN           ConditionOperator = "IN"
	OP_IS_EMPTY     ConditionOperator = "IS_EMPTY"
	OP_IS_NOT_EMPTY ConditionOperator = "IS_NOT_EMPTY"
)

// ContentType represents a kind of AI-generated narrative block
type ContentType string

const (
	CONTENT_MEDICAL_HISTORY    ContentType = "medical_history"
	CONTENT_TREATMENT_SUMMARY  ContentType = "treatment_summary"
	CONTENT_PROGRESS_NARRATIVE ContentType = "progress_narrative"
	CONTENT_DISCHARGE_SUMMARY  ContentType = "discharge_summary"
)

// Template Models

// Template owns a monotonic sequence of template versions
type Template struct {
	ID         uuid.UUID     `json:"id"`
	Name       string        `json:"name"`
	Type       TemplateType  `json:"type"`
	Scope      TemplateScope `json:"scope"`
	PracticeID string        `json:"practice_id,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// TemplateVersion holds the full field schema, section order, and rule set
// for one immutable revision of a template. At most one version per template
// is active at any time.
type TemplateVersion struct {
	ID             uuid.UUID         `json:"id"`
	TemplateID     uuid.UUID         `json:"template_id"`
	VersionNumber  int               `json:"version_number"`
	Schema         TemplateSchema    `json:"schema"`
	Rules          []ConditionalRule `json:"rules"`
	ApprovalStatus ApprovalStatus    `json:"approval_status"`
	IsActive       bool              `json:"is_active"`
	ApprovedBy     string            `json:"approved_by,omitempty"`
	RejectedReason string            `json:"rejected_reason,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// TemplateSchema is the ordered section/field layout of a template version
type TemplateSchema struct {
	Sections []Section `json:"sections"`
}

// Section groups fields under a titled block in declaration order
type Section struct {
	Name   string  `json:"name"`
	Title  string  `json:"title"`
	Order  int     `json:"order"`
	Fields []Field `json:"fields"`
}

// Field declares one input in a template schema. Type must name a registered
// field type; Config carries type-specific settings (options, pattern, range).
type Field struct {
	Name     string                 `json:"name"`
	Label    string                 `json:"label"`
	Type     string                 `json:"type"`
	Required bool                   `json:"required"`
	Config   map[string]interface{} `json:"config,omitempty"`
}

// FieldPath addresses a field as "section.field"
type FieldPath = string

// ConditionalRule maps a trigger predicate over answers to a UI or validation
// effect on one or more target fields. Rules reference only fields declared
// in the same template version.
type ConditionalRule struct {
	ID               uuid.UUID        `json:"id"`
	TriggerFieldPath FieldPath        `json:"trigger_field_path"`
	Condition        TriggerCondition `json:"trigger_condition"`
	ActionType       RuleActionType   `json:"action_type"`
	TargetFieldPaths []FieldPath      `json:"target_field_paths"`
	// ActionValue carries the populate value, validate pattern, or calculate
	// formula depending on ActionType.
	ActionValue    string `json:"action_value,omitempty"`
	ExecutionOrder int    `json:"execution_order"`
}

// TriggerCondition is a pure predicate over the current answer map
type TriggerCondition struct {
	Operator ConditionOperator `json:"operator"`
	Value    interface{}       `json:"value,omitempty"`
	// High bounds the BETWEEN operator; Values backs IN membership.
	High   interface{}   `json:"high,omitempty"`
	Values []interface{} `json:"values,omitempty"`
}

// Evaluation Models

// AnswerMap holds the in-progress answers of a report keyed by field path
type AnswerMap map[FieldPath]interface{}

// EvaluationResult is the complete outcome of running a version's rules
// against an answer set.
type EvaluationResult struct {
	VisibleFields    []FieldPath            `json:"visible_fields"`
	RequiredFields   []FieldPath            `json:"required_fields"`
	DisabledFields   []FieldPath            `json:"disabled_fields"`
	PopulatedValues  AnswerMap              `json:"populated_values"`
	ValidationErrors []FieldValidationError `json:"validation_errors"`
	// CycleSuspected is set when rule re-evaluation hit the iteration cap;
	// the result is best-effort rather than a fixed point.
	CycleSuspected bool `json:"cycle_suspected"`
	Passes         int  `json:"passes"`
}

// Report Models

// ReportInstance binds a patient, a template version, and the in-progress
// answers of one report draft.
type ReportInstance struct {
	ID                uuid.UUID                `json:"id"`
	PatientID         string                   `json:"patient_id"`
	TemplateVersionID uuid.UUID                `json:"template_version_id"`
	Answers           AnswerMap                `json:"answers"`
	Provenance        map[FieldPath]Provenance `json:"section_provenance"`
	Status            ReportStatus             `json:"status"`
	CreatedAt         time.Time                `json:"created_at"`
	UpdatedAt         time.Time                `json:"updated_at"`
	CompletedAt       *time.Time               `json:"completed_at,omitempty"`
}

// ContentVersion is one append-only audit row of a rendered or edited field
// value, supporting revert by reading the prior row.
type ContentVersion struct {
	ID         int64     `json:"id"`
	InstanceID uuid.UUID `json:"instance_id"`
	FieldPath  FieldPath `json:"field_path"`
	Value      string    `json:"value"`
	Author     string    `json:"author"`
	AISourced  bool      `json:"ai_sourced"`
	CreatedAt  time.Time `json:"created_at"`
}

// Content Cache Models

// ContentKey is the composite cache key for generated narrative content
type ContentKey struct {
	PatientID   string      `json:"patient_id"`
	ContentType ContentType `json:"content_type"`
	Discipline  string      `json:"discipline,omitempty"`
}

// ContentCacheEntry is one cached AI-generated text block. Lifetime is
// governed solely by expiry and invalidation, not by any report instance.
type ContentCacheEntry struct {
	Key            ContentKey `json:"key"`
	Content        string     `json:"content"`
	SourceDataHash string     `json:"source_data_hash"`
	GeneratedAt    time.Time  `json:"generated_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	UsageCount     int64      `json:"usage_count"`
	IsValid        bool       `json:"is_valid"`
}

// GeneratedContent is what GetOrGenerate hands back to callers
type GeneratedContent struct {
	Content        string    `json:"content"`
	SourceDataHash string    `json:"source_data_hash"`
	GeneratedAt    time.Time `json:"generated_at"`
	// Stale marks content served from an invalidated or expired entry after
	// a generation failure or lock timeout.
	Stale bool `json:"stale"`
}

// Collaborator Models (read-only contracts consumed from the wider product)

// PatientRecord is the demographic slice this engine reads
type PatientRecord struct {
	ID             string   `json:"id"`
	FirstName      string   `json:"first_name"`
	LastName       string   `json:"last_name"`
	DateOfBirth    string   `json:"date_of_birth"`
	DiagnosisCodes []string `json:"diagnosis_codes"`
}

// ClinicalInputs is the structured source material hashed for cache keys and
// fed to AI generation.
type ClinicalInputs struct {
	PatientID   string   `json:"patient_id"`
	Disciplines []string `json:"disciplines"`
	Notes       string   `json:"notes"`
	Bookings    string   `json:"bookings"`
}
