package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsEmptyValue(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		empty bool
	}{
		{"nil", nil, true},
		{"empty string", "", true},
		{"whitespace string", "   ", true},
		{"non-empty string", "hello", false},
		{"zero number", float64(0), false},
		{"empty slice", []interface{}{}, true},
		{"non-empty slice", []interface{}{"a"}, false},
		{"empty map", map[string]interface{}{}, true},
		{"bool false", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.empty, IsEmptyValue(tt.value))
		})
	}
}

func TestToFloat(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		want  float64
		ok    bool
	}{
		{"float64", 9.5, 9.5, true},
		{"int", 7, 7, true},
		{"int64", int64(3), 3, true},
		{"numeric string", "8.25", 8.25, true},
		{"padded string", " 4 ", 4, true},
		{"non-numeric string", "high", 0, false},
		{"nil", nil, 0, false},
		{"bool", true, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ToFloat(tt.value)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestSchemaFieldPaths(t *testing.T) {
	schema := testSchema()
	assert.Equal(t, []FieldPath{"assessment.pain_score", "assessment.escalation_note"}, schema.FieldPaths())
}

func TestSchemaFieldAt(t *testing.T) {
	schema := testSchema()

	field, ok := schema.FieldAt("assessment.pain_score")
	assert.True(t, ok)
	assert.Equal(t, "number", field.Type)

	_, ok = schema.FieldAt("assessment.missing")
	assert.False(t, ok)

	_, ok = schema.FieldAt("no-dot")
	assert.False(t, ok)
}

func TestAnswerMapClone(t *testing.T) {
	a := AnswerMap{"s.f": 1}
	b := a.Clone()
	b["s.f"] = 2
	assert.Equal(t, 1, a["s.f"])
}
