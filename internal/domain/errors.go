package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for not-found and state conditions
var (
	ErrNotFound         = errors.New("not found")
	ErrTemplateNotFound = errors.New("template not found")
	ErrVersionNotFound  = errors.New("template version not found")
	ErrInstanceNotFound = errors.New("report instance not found")
	ErrNoActiveVersion  = errors.New("no active version for template")
	ErrReportCompleted  = errors.New("report is completed")
)

// Error codes for different failure scenarios
const (
	ErrCodeSchema             = "SCHEMA_ERROR"
	ErrCodeVersionState       = "VERSION_STATE_ERROR"
	ErrCodeVersionNotApproved = "VERSION_NOT_APPROVED"
	ErrCodeNoActiveVersion    = "NO_ACTIVE_VERSION"
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeRuleCycle          = "RULE_CYCLE_SUSPECTED"
	ErrCodeGenerationFailed   = "CONTENT_GENERATION_FAILED"
	ErrCodeCacheRaceTimeout   = "CACHE_RACE_TIMEOUT"
	ErrCodeIncompleteRequired = "INCOMPLETE_REQUIRED_FIELDS"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeDatabase           = "DATABASE_ERROR"
	ErrCodeInternal           = "INTERNAL_SERVER_ERROR"
)

// EngineError represents a standardized error response
type EngineError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// Error implements the error interface
func (e *EngineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewEngineError creates a new EngineError with timestamp
func NewEngineError(code, message, details, requestID string) *EngineError {
	return &EngineError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// SchemaError reports malformed template or rule definitions, rejected at
// draft-submission time so they never reach activation.
type SchemaError struct {
	Problems []string `json:"problems"`
}

// Error implements the error interface
func (e *SchemaError) Error() string {
	return fmt.Sprintf("invalid template schema: %s", strings.Join(e.Problems, "; "))
}

// VersionStateError reports an illegal version state transition, including
// activate-without-approval and double-activate races.
type VersionStateError struct {
	VersionID string         `json:"version_id"`
	From      ApprovalStatus `json:"from"`
	Attempted string         `json:"attempted"`
}

// Error implements the error interface
func (e *VersionStateError) Error() string {
	return fmt.Sprintf("version %s: cannot %s from state %s", e.VersionID, e.Attempted, e.From)
}

// VersionNotApprovedError reports an activation attempt on an unapproved version
type VersionNotApprovedError struct {
	VersionID string         `json:"version_id"`
	Status    ApprovalStatus `json:"status"`
}

// Error implements the error interface
func (e *VersionNotApprovedError) Error() string {
	return fmt.Sprintf("version %s is %s, only approved versions may be activated", e.VersionID, e.Status)
}

// FieldValidationError represents a single field-level validation problem
type FieldValidationError struct {
	FieldPath FieldPath   `json:"field_path"`
	Message   string      `json:"message"`
	Value     interface{} `json:"value,omitempty"`
}

// Error implements the error interface
func (e *FieldValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.FieldPath, e.Message)
}

// NewFieldValidationError creates a new FieldValidationError
func NewFieldValidationError(path FieldPath, message string, value interface{}) FieldValidationError {
	return FieldValidationError{
		FieldPath: path,
		Message:   message,
		Value:     value,
	}
}

// IncompleteRequiredFieldsError reports the complete set of visible required
// fields still unset at completion time. Problems are collected, never
// short-circuited.
type IncompleteRequiredFieldsError struct {
	Missing []FieldPath `json:"missing"`
}

// Error implements the error interface
func (e *IncompleteRequiredFieldsError) Error() string {
	return fmt.Sprintf("incomplete required fields: %s", strings.Join(e.Missing, ", "))
}

// ValidationFailedError reports rule validation failures blocking report
// completion. All failures are collected, never short-circuited.
type ValidationFailedError struct {
	Errors []FieldValidationError `json:"errors"`
}

// Error implements the error interface
func (e *ValidationFailedError) Error() string {
	messages := make([]string, len(e.Errors))
	for i, fieldErr := range e.Errors {
		messages[i] = fieldErr.Error()
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// ContentGenerationError surfaces upstream AI failures when no cached
// fallback exists.
type ContentGenerationError struct {
	Key   ContentKey `json:"key"`
	Cause error      `json:"-"`
}

// Error implements the error interface
func (e *ContentGenerationError) Error() string {
	return fmt.Sprintf("content generation failed for patient %s (%s): %v",
		e.Key.PatientID, e.Key.ContentType, e.Cause)
}

// Unwrap exposes the upstream cause
func (e *ContentGenerationError) Unwrap() error {
	return e.Cause
}

// CacheRaceTimeoutError reports that a caller timed out waiting on the
// per-key generation lock with nothing stale to serve.
type CacheRaceTimeoutError struct {
	Key  ContentKey    `json:"key"`
	Wait time.Duration `json:"wait"`
}

// Error implements the error interface
func (e *CacheRaceTimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for in-flight generation of patient %s (%s)",
		e.Wait, e.Key.PatientID, e.Key.ContentType)
}
