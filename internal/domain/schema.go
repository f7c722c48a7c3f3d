package domain

import (
	"fmt"
)

// validActions is the closed set of rule action types accepted at the boundary
var validActions = map[RuleActionType]bool{
	ACTION_SHOW:      true,
	ACTION_HIDE:      true,
	ACTION_ENABLE:    true,
	ACTION_DISABLE:   true,
	ACTION_POPULATE:  true,
	ACTION_VALIDATE:  true,
	ACTION_CALCULATE: true,
}

// validOperators is the closed set of trigger condition operators
var validOperators = map[ConditionOperator]bool{
	OP_EQUALS:       true,
	OP_NOT_EQUALS:   true,
	OP_GREATER_THAN: true,
	OP_LESS_THAN:    true,
	OP_BETWEEN:      true,
	OP_IN:           true,
	OP_IS_EMPTY:     true,
	OP_IS_NOT_EMPTY: true,
}

// ValidateTemplateSchema checks a draft schema and rule set at submission
// time. typeExists reports whether a field type name is registered. All
// problems are collected into one SchemaError so an invalid draft never
// reaches activation.
func ValidateTemplateSchema(schema TemplateSchema, rules []ConditionalRule, typeExists func(string) bool) error {
	var problems []string

	if len(schema.Sections) == 0 {
		problems = append(problems, "schema declares no sections")
	}

	declared := make(map[FieldPath]bool)
	sectionNames := make(map[string]bool)
	for _, section := range schema.Sections {
		if section.Name == "" {
			problems = append(problems, "section with empty name")
			continue
		}
		if sectionNames[section.Name] {
			problems = append(problems, fmt.Sprintf("duplicate section name %q", section.Name))
		}
		sectionNames[section.Name] = true

		fieldNames := make(map[string]bool)
		for _, field := range section.Fields {
			if field.Name == "" {
				problems = append(problems, fmt.Sprintf("section %q: field with empty name", section.Name))
				continue
			}
			if fieldNames[field.Name] {
				problems = append(problems, fmt.Sprintf("section %q: duplicate field name %q", section.Name, field.Name))
			}
			fieldNames[field.Name] = true
			if !typeExists(field.Type) {
				problems = append(problems, fmt.Sprintf("field %s.%s: unknown field type %q", section.Name, field.Name, field.Type))
			}
			declared[section.Name+"."+field.Name] = true
		}
	}

	for i, rule := range rules {
		label := fmt.Sprintf("rule %d", i)
		if !validActions[rule.ActionType] {
			problems = append(problems, fmt.Sprintf("%s: unknown action type %q", label, rule.ActionType))
		}
		if !validOperators[rule.Condition.Operator] {
			problems = append(problems, fmt.Sprintf("%s: unknown condition operator %q", label, rule.Condition.Operator))
		}
		// Referential integrity: rules reference only fields declared in the
		// same version.
		if !declared[rule.TriggerFieldPath] {
			problems = append(problems, fmt.Sprintf("%s: trigger field %q not declared in schema", label, rule.TriggerFieldPath))
		}
		if len(rule.TargetFieldPaths) == 0 {
			problems = append(problems, fmt.Sprintf("%s: no target fields", label))
		}
		for _, target := range rule.TargetFieldPaths {
			if !declared[target] {
				problems = append(problems, fmt.Sprintf("%s: target field %q not declared in schema", label, target))
			}
		}
		switch rule.ActionType {
		case ACTION_VALIDATE, ACTION_CALCULATE:
			if rule.ActionValue == "" {
				problems = append(problems, fmt.Sprintf("%s: %s requires an action value", label, rule.ActionType))
			}
		}
	}

	if len(problems) > 0 {
		return &SchemaError{Problems: problems}
	}
	return nil
}
