package rules

import (
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinical-report-engine/internal/domain"
)

func newTestEngine() *Engine {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewEngine(logger, 0, 0)
}

func progressVersion(rules ...domain.ConditionalRule) *domain.TemplateVersion {
	return &domain.TemplateVersion{
		ID:         uuid.New(),
		TemplateID: uuid.New(),
		Schema: domain.TemplateSchema{
			Sections: []domain.Section{
				{
					Name:  "assessment",
					Order: 1,
					Fields: []domain.Field{
						{Name: "pain_score", Type: "number", Required: true},
						{Name: "escalation_note", Type: "long_text", Required: true},
						{Name: "mobility", Type: "dropdown"},
						{Name: "bmi", Type: "computed"},
						{Name: "weight", Type: "number"},
						{Name: "height", Type: "number"},
						{Name: "followup_weeks", Type: "number"},
					},
				},
			},
		},
		Rules: rules,
	}
}

func showEscalationRule() domain.ConditionalRule {
	return domain.ConditionalRule{
		TriggerFieldPath: "assessment.pain_score",
		Condition:        domain.TriggerCondition{Operator: domain.OP_GREATER_THAN, Value: 7},
		ActionType:       domain.ACTION_SHOW,
		TargetFieldPaths: []domain.FieldPath{"assessment.escalation_note"},
		ExecutionOrder:   1,
	}
}

func TestEvaluate_ShowRule_Triggered(t *testing.T) {
	e := newTestEngine()
	version := progressVersion(showEscalationRule())

	result, err := e.Evaluate(version, domain.AnswerMap{"assessment.pain_score": 9})
	require.NoError(t, err)

	assert.Contains(t, result.VisibleFields, "assessment.escalation_note")
	assert.Contains(t, result.RequiredFields, "assessment.escalation_note")
	assert.False(t, result.CycleSuspected)
}

func TestEvaluate_ShowRule_NotTriggered(t *testing.T) {
	e := newTestEngine()
	version := progressVersion(showEscalationRule())

	result, err := e.Evaluate(version, domain.AnswerMap{"assessment.pain_score": 3})
	require.NoError(t, err)

	// Show-targeted fields stay hidden until a show rule fires, and hidden
	// fields drop out of the required set despite the static required flag.
	assert.NotContains(t, result.VisibleFields, "assessment.escalation_note")
	assert.NotContains(t, result.RequiredFields, "assessment.escalation_note")
	assert.Contains(t, result.RequiredFields, "assessment.pain_score")
}

func TestEvaluate_HideRule(t *testing.T) {
	e := newTestEngine()
	version := progressVersion(domain.ConditionalRule{
		TriggerFieldPath: "assessment.pain_score",
		Condition:        domain.TriggerCondition{Operator: domain.OP_IS_EMPTY},
		ActionType:       domain.ACTION_HIDE,
		TargetFieldPaths: []domain.FieldPath{"assessment.mobility"},
	})

	result, err := e.Evaluate(version, domain.AnswerMap{})
	require.NoError(t, err)
	assert.NotContains(t, result.VisibleFields, "assessment.mobility")

	result, err = e.Evaluate(version, domain.AnswerMap{"assessment.pain_score": 2})
	require.NoError(t, err)
	assert.Contains(t, result.VisibleFields, "assessment.mobility")
}

func TestEvaluate_DisableRule(t *testing.T) {
	e := newTestEngine()
	version := progressVersion(domain.ConditionalRule{
		TriggerFieldPath: "assessment.mobility",
		Condition:        domain.TriggerCondition{Operator: domain.OP_EQUALS, Value: "independent"},
		ActionType:       domain.ACTION_DISABLE,
		TargetFieldPaths: []domain.FieldPath{"assessment.followup_weeks"},
	})

	result, err := e.Evaluate(version, domain.AnswerMap{"assessment.mobility": "independent"})
	require.NoError(t, err)

	// Disabled fields stay visible, only editability is toggled.
	assert.Contains(t, result.VisibleFields, "assessment.followup_weeks")
	assert.Contains(t, result.DisabledFields, "assessment.followup_weeks")
}

func TestEvaluate_PopulateDoesNotClobber(t *testing.T) {
	e := newTestEngine()
	version := progressVersion(domain.ConditionalRule{
		TriggerFieldPath: "assessment.pain_score",
		Condition:        domain.TriggerCondition{Operator: domain.OP_GREATER_THAN, Value: 7},
		ActionType:       domain.ACTION_POPULATE,
		TargetFieldPaths: []domain.FieldPath{"assessment.followup_weeks"},
		ActionValue:      "2",
	})

	// Empty target gets populated.
	result, err := e.Evaluate(version, domain.AnswerMap{"assessment.pain_score": 9})
	require.NoError(t, err)
	assert.Equal(t, float64(2), result.PopulatedValues["assessment.followup_weeks"])

	// User-entered value is never overwritten.
	result, err = e.Evaluate(version, domain.AnswerMap{
		"assessment.pain_score":     9,
		"assessment.followup_weeks": 6,
	})
	require.NoError(t, err)
	assert.NotContains(t, result.PopulatedValues, "assessment.followup_weeks")
}

func TestEvaluate_PopulateChain(t *testing.T) {
	e := newTestEngine()
	// Populating followup_weeks satisfies the trigger of a second rule, so
	// evaluation needs a second pass to converge.
	version := progressVersion(
		domain.ConditionalRule{
			TriggerFieldPath: "assessment.pain_score",
			Condition:        domain.TriggerCondition{Operator: domain.OP_GREATER_THAN, Value: 7},
			ActionType:       domain.ACTION_POPULATE,
			TargetFieldPaths: []domain.FieldPath{"assessment.followup_weeks"},
			ActionValue:      "2",
			ExecutionOrder:   1,
		},
		domain.ConditionalRule{
			TriggerFieldPath: "assessment.followup_weeks",
			Condition:        domain.TriggerCondition{Operator: domain.OP_IS_NOT_EMPTY},
			ActionType:       domain.ACTION_SHOW,
			TargetFieldPaths: []domain.FieldPath{"assessment.escalation_note"},
			ExecutionOrder:   2,
		},
	)

	result, err := e.Evaluate(version, domain.AnswerMap{"assessment.pain_score": 8})
	require.NoError(t, err)

	assert.Contains(t, result.VisibleFields, "assessment.escalation_note")
	assert.GreaterOrEqual(t, result.Passes, 2)
	assert.False(t, result.CycleSuspected)
}

func TestEvaluate_ValidateRule(t *testing.T) {
	e := newTestEngine()
	version := progressVersion(domain.ConditionalRule{
		TriggerFieldPath: "assessment.pain_score",
		Condition:        domain.TriggerCondition{Operator: domain.OP_GREATER_THAN, Value: 7},
		ActionType:       domain.ACTION_VALIDATE,
		TargetFieldPaths: []domain.FieldPath{"assessment.escalation_note"},
		ActionValue:      "^ESC-",
	})

	result, err := e.Evaluate(version, domain.AnswerMap{
		"assessment.pain_score":      9,
		"assessment.escalation_note": "note without prefix",
	})
	require.NoError(t, err)
	require.Len(t, result.ValidationErrors, 1)
	assert.Equal(t, "assessment.escalation_note", result.ValidationErrors[0].FieldPath)

	// Trigger off: no conditional constraint.
	result, err = e.Evaluate(version, domain.AnswerMap{
		"assessment.pain_score":      3,
		"assessment.escalation_note": "note without prefix",
	})
	require.NoError(t, err)
	assert.Empty(t, result.ValidationErrors)
}

func TestEvaluate_CalculateRule(t *testing.T) {
	e := newTestEngine()
	version := progressVersion(domain.ConditionalRule{
		TriggerFieldPath: "assessment.weight",
		Condition:        domain.TriggerCondition{Operator: domain.OP_IS_NOT_EMPTY},
		ActionType:       domain.ACTION_CALCULATE,
		TargetFieldPaths: []domain.FieldPath{"assessment.bmi"},
		ActionValue:      "assessment.weight / (assessment.height * assessment.height)",
	})

	result, err := e.Evaluate(version, domain.AnswerMap{
		"assessment.weight": 80,
		"assessment.height": 2,
	})
	require.NoError(t, err)
	assert.Equal(t, float64(20), result.PopulatedValues["assessment.bmi"])
}

func TestEvaluate_CalculateDivisionByZero(t *testing.T) {
	e := newTestEngine()
	version := progressVersion(domain.ConditionalRule{
		TriggerFieldPath: "assessment.weight",
		Condition:        domain.TriggerCondition{Operator: domain.OP_IS_NOT_EMPTY},
		ActionType:       domain.ACTION_CALCULATE,
		TargetFieldPaths: []domain.FieldPath{"assessment.bmi"},
		ActionValue:      "assessment.weight / assessment.height",
	})

	result, err := e.Evaluate(version, domain.AnswerMap{
		"assessment.weight": 80,
		"assessment.height": 0,
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.ValidationErrors)
	assert.Contains(t, result.ValidationErrors[0].Message, "division by zero")
	assert.NotContains(t, result.PopulatedValues, "assessment.bmi")
}

func TestEvaluate_CycleSuspected(t *testing.T) {
	e := newTestEngine()
	// Self-incrementing calculation never reaches a fixed point.
	version := progressVersion(domain.ConditionalRule{
		TriggerFieldPath: "assessment.weight",
		Condition:        domain.TriggerCondition{Operator: domain.OP_IS_NOT_EMPTY},
		ActionType:       domain.ACTION_CALCULATE,
		TargetFieldPaths: []domain.FieldPath{"assessment.bmi"},
		ActionValue:      "assessment.bmi + 1",
	})

	answers := domain.AnswerMap{
		"assessment.weight": 80,
		"assessment.bmi":    0,
	}
	result, err := e.Evaluate(version, answers)
	require.NoError(t, err)

	assert.True(t, result.CycleSuspected)
	assert.Equal(t, DefaultMaxPasses, result.Passes)
	// Best-effort result still reports field state.
	assert.NotEmpty(t, result.VisibleFields)
	// Caller's answer map is untouched.
	assert.Equal(t, 0, answers["assessment.bmi"])
}

func TestEvaluate_TieBreakLaterDeclaredWins(t *testing.T) {
	e := newTestEngine()
	// Two rules at the same execution order with conflicting actions on the
	// same target: the later-declared rule wins.
	version := progressVersion(
		domain.ConditionalRule{
			TriggerFieldPath: "assessment.pain_score",
			Condition:        domain.TriggerCondition{Operator: domain.OP_IS_NOT_EMPTY},
			ActionType:       domain.ACTION_SHOW,
			TargetFieldPaths: []domain.FieldPath{"assessment.mobility"},
			ExecutionOrder:   5,
		},
		domain.ConditionalRule{
			TriggerFieldPath: "assessment.pain_score",
			Condition:        domain.TriggerCondition{Operator: domain.OP_IS_NOT_EMPTY},
			ActionType:       domain.ACTION_HIDE,
			TargetFieldPaths: []domain.FieldPath{"assessment.mobility"},
			ExecutionOrder:   5,
		},
	)

	result, err := e.Evaluate(version, domain.AnswerMap{"assessment.pain_score": 4})
	require.NoError(t, err)
	assert.NotContains(t, result.VisibleFields, "assessment.mobility")
}

func TestEvaluate_Deterministic(t *testing.T) {
	e := newTestEngine()
	version := progressVersion(
		showEscalationRule(),
		domain.ConditionalRule{
			TriggerFieldPath: "assessment.mobility",
			Condition:        domain.TriggerCondition{Operator: domain.OP_IN, Values: []interface{}{"bed_bound", "wheelchair"}},
			ActionType:       domain.ACTION_POPULATE,
			TargetFieldPaths: []domain.FieldPath{"assessment.followup_weeks"},
			ActionValue:      "1",
			ExecutionOrder:   3,
		},
	)
	answers := domain.AnswerMap{
		"assessment.pain_score": 8,
		"assessment.mobility":   "wheelchair",
	}

	first, err := e.Evaluate(version, answers)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := e.Evaluate(version, answers)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestEvaluate_InvalidPatternReported(t *testing.T) {
	e := newTestEngine()
	version := progressVersion(domain.ConditionalRule{
		TriggerFieldPath: "assessment.pain_score",
		Condition:        domain.TriggerCondition{Operator: domain.OP_IS_NOT_EMPTY},
		ActionType:       domain.ACTION_VALIDATE,
		TargetFieldPaths: []domain.FieldPath{"assessment.escalation_note"},
		ActionValue:      "(unclosed",
	})

	result, err := e.Evaluate(version, domain.AnswerMap{"assessment.pain_score": 1})
	require.NoError(t, err)
	require.NotEmpty(t, result.ValidationErrors)
	assert.Contains(t, result.ValidationErrors[0].Message, "invalid validation pattern")
}

func TestEvaluate_NilVersion(t *testing.T) {
	e := newTestEngine()
	_, err := e.Evaluate(nil, domain.AnswerMap{})
	assert.Error(t, err)
}

func TestEvaluateCondition_Operators(t *testing.T) {
	tests := []struct {
		name  string
		cond  domain.TriggerCondition
		value interface{}
		want  bool
	}{
		{"equals number", domain.TriggerCondition{Operator: domain.OP_EQUALS, Value: 7}, 7.0, true},
		{"equals string", domain.TriggerCondition{Operator: domain.OP_EQUALS, Value: "yes"}, "yes", true},
		{"not equals", domain.TriggerCondition{Operator: domain.OP_NOT_EQUALS, Value: "yes"}, "no", true},
		{"not equals empty value", domain.TriggerCondition{Operator: domain.OP_NOT_EQUALS, Value: "yes"}, nil, false},
		{"greater than", domain.TriggerCondition{Operator: domain.OP_GREATER_THAN, Value: 7}, 9, true},
		{"greater than equal value", domain.TriggerCondition{Operator: domain.OP_GREATER_THAN, Value: 7}, 7, false},
		{"less than", domain.TriggerCondition{Operator: domain.OP_LESS_THAN, Value: 3}, 2, true},
		{"between inclusive", domain.TriggerCondition{Operator: domain.OP_BETWEEN, Value: 1, High: 5}, 5, true},
		{"between outside", domain.TriggerCondition{Operator: domain.OP_BETWEEN, Value: 1, High: 5}, 6, false},
		{"in", domain.TriggerCondition{Operator: domain.OP_IN, Values: []interface{}{"a", "b"}}, "b", true},
		{"in miss", domain.TriggerCondition{Operator: domain.OP_IN, Values: []interface{}{"a", "b"}}, "c", false},
		{"is empty", domain.TriggerCondition{Operator: domain.OP_IS_EMPTY}, "", true},
		{"is not empty", domain.TriggerCondition{Operator: domain.OP_IS_NOT_EMPTY}, "x", true},
		{"unknown operator", domain.TriggerCondition{Operator: "BOGUS"}, "x", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, evaluateCondition(tt.cond, tt.value))
		})
	}
}

func TestParseFormula_Errors(t *testing.T) {
	for _, src := range []string{"", "a.b +", "(a.b", "a.b ^ 2", "noDotRef + 1"} {
		_, err := parseFormula(src)
		assert.Error(t, err, "formula %q should fail to parse", src)
	}
}

func TestFormula_Precedence(t *testing.T) {
	f, err := parseFormula("1 + 2 * 3")
	require.NoError(t, err)
	got, err := f.eval(domain.AnswerMap{})
	require.NoError(t, err)
	assert.Equal(t, float64(7), got)

	f, err = parseFormula("(1 + 2) * 3")
	require.NoError(t, err)
	got, err = f.eval(domain.AnswerMap{})
	require.NoError(t, err)
	assert.Equal(t, float64(9), got)

	f, err = parseFormula("-2 + 5")
	require.NoError(t, err)
	got, err = f.eval(domain.AnswerMap{})
	require.NoError(t, err)
	assert.Equal(t, float64(3), got)
}
