package domain

import (
	"strconv"
	"strings"
)

// IsEmptyValue reports whether an answer counts as unset for required-field
// checks and populate no-clobber semantics.
func IsEmptyValue(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case []interface{}:
		return len(val) == 0
	case map[string]interface{}:
		return len(val) == 0
	default:
		return false
	}
}

// ToFloat coerces an answer value to a float64 for numeric predicates and
// calculate formulas. JSON decoding yields float64 for all numbers, but
// answers patched in code may carry int or numeric strings.
func ToFloat(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// Clone returns a shallow copy of the answer map
func (a AnswerMap) Clone() AnswerMap {
	out := make(AnswerMap, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// FieldPaths returns every declared field path in section order
func (s TemplateSchema) FieldPaths() []FieldPath {
	var paths []FieldPath
	for _, section := range s.Sections {
		for _, field := range section.Fields {
			paths = append(paths, section.Name+"."+field.Name)
		}
	}
	return paths
}

// FieldAt resolves a field path against the schema, returning the declaration
// or false when the path names no declared field.
func (s TemplateSchema) FieldAt(path FieldPath) (*Field, bool) {
	idx := strings.Index(path, ".")
	if idx <= 0 {
		return nil, false
	}
	sectionName, fieldName := path[:idx], path[idx+1:]
	for i := range s.Sections {
		if s.Sections[i].Name != sectionName {
			continue
		}
		for j := range s.Sections[i].Fields {
			if s.Sections[i].Fields[j].Name == fieldName {
				return &s.Sections[i].Fields[j], true
			}
		}
	}
	return nil, false
}
