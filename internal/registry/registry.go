// Package registry holds the static catalogue of field kinds a template
// schema may declare. Extension is additive: new types are registered, system
// types are never modified.
package registry

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/clinical-report-engine/internal/domain"
)

// Validator checks a single answer value against a field's config and
// returns every problem found.
type Validator func(path domain.FieldPath, value interface{}, config map[string]interface{}) []domain.FieldValidationError

// RenderHint carries renderer metadata for a field type. This engine never
// renders; hints ride along in the schema JSON for the UI collaborators.
type RenderHint struct {
	Widget    string `json:"widget"`
	Multiline bool   `json:"multiline,omitempty"`
	// OptionsFromConfig marks types whose choices come from field config
	// (dropdowns) rather than free entry.
	OptionsFromConfig bool `json:"options_from_config,omitempty"`
}

// FieldTypeDefinition pairs a validator with rendering metadata. Immutable
// once referenced by a published template version.
type FieldTypeDefinition struct {
	Name     string
	Category string
	Hint     RenderHint
	Validate Validator
	system   bool
}

// Registry is the lookup table from type name to definition
type Registry struct {
	mu    sync.RWMutex
	types map[string]*FieldTypeDefinition
	log   *logrus.Logger
}

// New creates a registry pre-loaded with the system field types
func New(logger *logrus.Logger) *Registry {
	r := &Registry{
		types: make(map[string]*FieldTypeDefinition),
		log:   logger,
	}
	r.registerSystemTypes()
	return r
}

// Register adds a new field type definition. Registering over an existing
// system type is rejected; custom types may be replaced.
func (r *Registry) Register(def *FieldTypeDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("field type name is required")
	}
	if def.Validate == nil {
		return fmt.Errorf("field type %q: validator is required", def.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.types[def.Name]; ok && existing.system {
		return fmt.Errorf("field type %q is a system type and cannot be replaced", def.Name)
	}
	r.types[def.Name] = def

	r.log.WithFields(logrus.Fields{
		"field_type": def.Name,
		"category":   def.Category,
	}).Info("Registered field type")
	return nil
}

// RegisterComposite adds a practice-defined type that validates by running a
// sequence of system primitives over the same value. No arbitrary code, only
// composition of what the system already ships.
func (r *Registry) RegisterComposite(name, category string, hint RenderHint, primitives ...string) error {
	r.mu.RLock()
	var validators []Validator
	for _, p := range primitives {
		def, ok := r.types[p]
		if !ok || !def.system {
			r.mu.RUnlock()
			return fmt.Errorf("composite type %q: %q is not a system primitive", name, p)
		}
		validators = append(validators, def.Validate)
	}
	r.mu.RUnlock()

	return r.Register(&FieldTypeDefinition{
		Name:     name,
		Category: category,
		Hint:     hint,
		Validate: func(path domain.FieldPath, value interface{}, config map[string]interface{}) []domain.FieldValidationError {
			var errs []domain.FieldValidationError
			for _, v := range validators {
				errs = append(errs, v(path, value, config)...)
			}
			return errs
		},
	})
}

// Lookup returns the definition for a type name
func (r *Registry) Lookup(name string) (*FieldTypeDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.types[name]
	return def, ok
}

// Exists reports whether a type name is registered; handed to schema
// validation at draft-submission time.
func (r *Registry) Exists(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// Validate runs the named type's validator over a value, collecting all
// field-level problems rather than short-circuiting.
func (r *Registry) Validate(typeName string, path domain.FieldPath, value interface{}, config map[string]interface{}) []domain.FieldValidationError {
	def, ok := r.Lookup(typeName)
	if !ok {
		return []domain.FieldValidationError{
			domain.NewFieldValidationError(path, fmt.Sprintf("unknown field type %q", typeName), value),
		}
	}
	return def.Validate(path, value, config)
}

// Names returns every registered type name
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	return names
}

// registerSystemTypes loads the closed set of built-in field kinds
func (r *Registry) registerSystemTypes() {
	system := []*FieldTypeDefinition{
		{Name: "text", Category: "input", Hint: RenderHint{Widget: "text"}, Validate: validateText},
		{Name: "long_text", Category: "input", Hint: RenderHint{Widget: "textarea", Multiline: true}, Validate: validateText},
		{Name: "number", Category: "input", Hint: RenderHint{Widget: "number"}, Validate: validateNumber},
		{Name: "date", Category: "input", Hint: RenderHint{Widget: "date"}, Validate: validateDate},
		{Name: "dropdown", Category: "choice", Hint: RenderHint{Widget: "select", OptionsFromConfig: true}, Validate: validateDropdown},
		{Name: "checkbox", Category: "choice", Hint: RenderHint{Widget: "checkbox"}, Validate: validateCheckbox},
		{Name: "signature", Category: "attestation", Hint: RenderHint{Widget: "signature"}, Validate: validateSignature},
		{Name: "computed", Category: "derived", Hint: RenderHint{Widget: "readonly"}, Validate: validateNumber},
		{Name: "conditional_block", Category: "layout", Hint: RenderHint{Widget: "group"}, Validate: validateNone},
		{Name: "ai_generated", Category: "derived", Hint: RenderHint{Widget: "textarea", Multiline: true}, Validate: validateText},
	}

	for _, def := range system {
		def.system = true
		r.types[def.Name] = def
	}

	r.log.WithField("type_count", len(system)).Info("Initialized system field types")
}
