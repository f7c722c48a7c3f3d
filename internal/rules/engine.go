// Package rules evaluates a template version's conditional rules against an
// in-progress answer set. Evaluation is pure and CPU-bound: no locking is
// needed and engines are safe to share across report instances.
package rules

import (
	"fmt"
	"regexp"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/clinical-report-engine/internal/domain"
)

// DefaultMaxPasses bounds fixed-point re-evaluation. A populate on field A
// may satisfy the trigger for a rule on field B, so rules re-run until the
// answer map stops changing or the cap is hit.
const DefaultMaxPasses = 10

// defaultCompiledLRU is the number of compiled rule sets kept hot
const defaultCompiledLRU = 128

// Engine evaluates conditional rules for template versions
type Engine struct {
	logger    *logrus.Logger
	maxPasses int
	compiled  *lru.Cache[string, *compiledRuleSet]
}

// compiledRuleSet is a version's rules sorted and pre-parsed. Template
// versions are immutable once created, so compiling per version ID is safe.
type compiledRuleSet struct {
	rules       []compiledRule
	showTargets map[domain.FieldPath]bool
}

type compiledRule struct {
	domain.ConditionalRule
	declIndex int
	pattern   *regexp.Regexp
	formula   *formula
	parseErr  error
}

// NewEngine creates a rule engine with the given iteration cap
func NewEngine(logger *logrus.Logger, maxPasses, compiledLRU int) *Engine {
	if maxPasses <= 0 {
		maxPasses = DefaultMaxPasses
	}
	if compiledLRU <= 0 {
		compiledLRU = defaultCompiledLRU
	}
	cache, _ := lru.New[string, *compiledRuleSet](compiledLRU)
	return &Engine{
		logger:    logger,
		maxPasses: maxPasses,
		compiled:  cache,
	}
}

// Evaluate runs a version's rules against the answers and returns the
// visible/required/populated field state. Deterministic: the same version
// and answers always produce the same result.
func (e *Engine) Evaluate(version *domain.TemplateVersion, answers domain.AnswerMap) (*domain.EvaluationResult, error) {
	if version == nil {
		return nil, fmt.Errorf("template version is required")
	}

	rs := e.compile(version)
	state := newEvalState(answers)

	passes := 0
	cycleSuspected := false
	for {
		passes++
		changed := state.runPass(rs)
		if !changed {
			break
		}
		if passes >= e.maxPasses {
			// Best-effort result with a warning flag rather than looping
			// forever; callers surface this as RULE_CYCLE_SUSPECTED.
			cycleSuspected = true
			e.logger.WithFields(logrus.Fields{
				"version_id": version.ID,
				"passes":     passes,
			}).Warn("Rule evaluation hit iteration cap, cycle suspected")
			break
		}
	}

	result := state.result(version.Schema)
	result.Passes = passes
	result.CycleSuspected = cycleSuspected

	e.logger.WithFields(logrus.Fields{
		"version_id":      version.ID,
		"rule_count":      len(rs.rules),
		"passes":          passes,
		"visible_fields":  len(result.VisibleFields),
		"required_fields": len(result.RequiredFields),
		"cycle_suspected": cycleSuspected,
	}).Debug("Completed rule evaluation")

	return result, nil
}

// compile sorts and pre-parses a version's rules, caching by version ID
func (e *Engine) compile(version *domain.TemplateVersion) *compiledRuleSet {
	key := version.ID.String()
	if rs, ok := e.compiled.Get(key); ok {
		return rs
	}

	rs := &compiledRuleSet{showTargets: make(map[domain.FieldPath]bool)}
	for i, rule := range version.Rules {
		cr := compiledRule{ConditionalRule: rule, declIndex: i}
		switch rule.ActionType {
		case domain.ACTION_VALIDATE:
			re, err := regexp.Compile(rule.ActionValue)
			if err != nil {
				cr.parseErr = fmt.Errorf("invalid validation pattern %q: %w", rule.ActionValue, err)
			} else {
				cr.pattern = re
			}
		case domain.ACTION_CALCULATE:
			f, err := parseFormula(rule.ActionValue)
			if err != nil {
				cr.parseErr = fmt.Errorf("invalid formula %q: %w", rule.ActionValue, err)
			} else {
				cr.formula = f
			}
		case domain.ACTION_SHOW:
			// Fields targeted by a show rule default to hidden until some
			// show rule fires for them.
			for _, target := range rule.TargetFieldPaths {
				rs.showTargets[target] = true
			}
		}
		rs.rules = append(rs.rules, cr)
	}

	// Execution order ascending, ties broken by declaration order. The sort
	// is stable over declIndex, so later-declared rules apply later and win
	// conflicts at equal order.
	sort.SliceStable(rs.rules, func(a, b int) bool {
		return rs.rules[a].ExecutionOrder < rs.rules[b].ExecutionOrder
	})

	e.compiled.Add(key, rs)
	return rs
}

// evalState carries the mutable evaluation state across passes. Visibility
// and enablement are recomputed from scratch each pass; populated answers
// accumulate because they feed later triggers.
type evalState struct {
	answers   domain.AnswerMap
	populated domain.AnswerMap

	hidden   map[domain.FieldPath]bool
	disabled map[domain.FieldPath]bool
	valErrs  []domain.FieldValidationError
}

func newEvalState(answers domain.AnswerMap) *evalState {
	return &evalState{
		answers:   answers.Clone(),
		populated: make(domain.AnswerMap),
	}
}

// runPass applies every rule once in order and reports whether the answer
// map changed. Per-pass state (visibility, enablement, validation errors)
// is rebuilt so toggling rules converge deterministically.
func (s *evalState) runPass(rs *compiledRuleSet) bool {
	s.hidden = make(map[domain.FieldPath]bool)
	s.disabled = make(map[domain.FieldPath]bool)
	s.valErrs = nil

	// Show-targeted fields start hidden each pass.
	for target := range rs.showTargets {
		s.hidden[target] = true
	}

	changed := false
	for i := range rs.rules {
		rule := &rs.rules[i]
		if rule.parseErr != nil {
			s.valErrs = append(s.valErrs, domain.NewFieldValidationError(
				rule.TriggerFieldPath, rule.parseErr.Error(), nil))
			continue
		}

		triggered := evaluateCondition(rule.Condition, s.answers[rule.TriggerFieldPath])

		switch rule.ActionType {
		case domain.ACTION_SHOW:
			if triggered {
				for _, target := range rule.TargetFieldPaths {
					s.hidden[target] = false
				}
			}
		case domain.ACTION_HIDE:
			if triggered {
				for _, target := range rule.TargetFieldPaths {
					s.hidden[target] = true
				}
			}
		case domain.ACTION_ENABLE:
			if triggered {
				for _, target := range rule.TargetFieldPaths {
					s.disabled[target] = false
				}
			}
		case domain.ACTION_DISABLE:
			if triggered {
				for _, target := range rule.TargetFieldPaths {
					s.disabled[target] = true
				}
			}
		case domain.ACTION_POPULATE:
			if triggered {
				for _, target := range rule.TargetFieldPaths {
					// Never clobber a value the user already entered.
					if domain.IsEmptyValue(s.answers[target]) {
						value := coerceActionValue(rule.ActionValue)
						s.answers[target] = value
						s.populated[target] = value
						changed = true
					}
				}
			}
		case domain.ACTION_VALIDATE:
			if triggered {
				for _, target := range rule.TargetFieldPaths {
					value := s.answers[target]
					if domain.IsEmptyValue(value) {
						continue
					}
					if !rule.pattern.MatchString(fmt.Sprint(value)) {
						s.valErrs = append(s.valErrs, domain.NewFieldValidationError(
							target, fmt.Sprintf("must match pattern %q", rule.ActionValue), value))
					}
				}
			}
		case domain.ACTION_CALCULATE:
			if triggered {
				for _, target := range rule.TargetFieldPaths {
					result, err := rule.formula.eval(s.answers)
					if err != nil {
						s.valErrs = append(s.valErrs, domain.NewFieldValidationError(
							target, fmt.Sprintf("calculation failed: %v", err), nil))
						continue
					}
					prev, hadPrev := domain.ToFloat(s.answers[target])
					if !hadPrev || prev != result {
						s.answers[target] = result
						s.populated[target] = result
						changed = true
					}
				}
			}
		}
	}
	return changed
}

// result assembles the final EvaluationResult. Hidden fields are excluded
// from the required set even when the static schema marks them required.
func (s *evalState) result(schema domain.TemplateSchema) *domain.EvaluationResult {
	result := &domain.EvaluationResult{
		PopulatedValues:  s.populated,
		ValidationErrors: s.valErrs,
	}

	for _, section := range schema.Sections {
		for _, field := range section.Fields {
			path := section.Name + "." + field.Name
			if s.hidden[path] {
				continue
			}
			result.VisibleFields = append(result.VisibleFields, path)
			if field.Required {
				result.RequiredFields = append(result.RequiredFields, path)
			}
			if s.disabled[path] {
				result.DisabledFields = append(result.DisabledFields, path)
			}
		}
	}
	return result
}

// coerceActionValue turns a populate value into a number when it parses as
// one, matching how JSON-decoded answers are typed.
func coerceActionValue(raw string) interface{} {
	if f, ok := domain.ToFloat(raw); ok {
		return f
	}
	return raw
}
