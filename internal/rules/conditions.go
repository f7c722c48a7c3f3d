package rules

import (
	"fmt"

	"github.com/clinical-report-engine/internal/domain"
)

// evaluateCondition applies a trigger predicate to the current answer value.
// Predicates are pure: no state, no clock, answers in, bool out.
func evaluateCondition(cond domain.TriggerCondition, value interface{}) bool {
	switch cond.Operator {
	case domain.OP_IS_EMPTY:
		return domain.IsEmptyValue(value)
	case domain.OP_IS_NOT_EMPTY:
		return !domain.IsEmptyValue(value)
	case domain.OP_EQUALS:
		return valuesEqual(value, cond.Value)
	case domain.OP_NOT_EQUALS:
		return !domain.IsEmptyValue(value) && !valuesEqual(value, cond.Value)
	case domain.OP_GREATER_THAN:
		a, aok := domain.ToFloat(value)
		b, bok := domain.ToFloat(cond.Value)
		return aok && bok && a > b
	case domain.OP_LESS_THAN:
		a, aok := domain.ToFloat(value)
		b, bok := domain.ToFloat(cond.Value)
		return aok && bok && a < b
	case domain.OP_BETWEEN:
		a, aok := domain.ToFloat(value)
		low, lok := domain.ToFloat(cond.Value)
		high, hok := domain.ToFloat(cond.High)
		return aok && lok && hok && a >= low && a <= high
	case domain.OP_IN:
		if domain.IsEmptyValue(value) {
			return false
		}
		for _, candidate := range cond.Values {
			if valuesEqual(value, candidate) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// valuesEqual compares answers loosely: numerically when both sides coerce
// to numbers, otherwise by string form. Answer maps arrive from JSON, so
// 7 and 7.0 must compare equal.
func valuesEqual(a, b interface{}) bool {
	if af, aok := domain.ToFloat(a); aok {
		if bf, bok := domain.ToFloat(b); bok {
			return af == bf
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}
