package registry

import (
	"fmt"
	"regexp"
	"time"

	"github.com/clinical-report-engine/internal/domain"
)

// dateLayouts are the accepted date answer formats
var dateLayouts = []string{"2006-01-02", time.RFC3339}

func validateNone(domain.FieldPath, interface{}, map[string]interface{}) []domain.FieldValidationError {
	return nil
}

// validateText enforces string typing plus optional max_length and pattern
// config constraints.
func validateText(path domain.FieldPath, value interface{}, config map[string]interface{}) []domain.FieldValidationError {
	if domain.IsEmptyValue(value) {
		return nil
	}
	var errs []domain.FieldValidationError

	s, ok := value.(string)
	if !ok {
		return append(errs, domain.NewFieldValidationError(path, "expected a text value", value))
	}

	if maxLen, ok := configFloat(config, "max_length"); ok && float64(len(s)) > maxLen {
		errs = append(errs, domain.NewFieldValidationError(path,
			fmt.Sprintf("exceeds maximum length of %d characters", int(maxLen)), value))
	}
	if pattern, ok := configString(config, "pattern"); ok {
		re, err := regexp.Compile(pattern)
		if err != nil {
			errs = append(errs, domain.NewFieldValidationError(path,
				fmt.Sprintf("field config has invalid pattern %q", pattern), nil))
		} else if !re.MatchString(s) {
			errs = append(errs, domain.NewFieldValidationError(path,
				fmt.Sprintf("does not match required pattern %q", pattern), value))
		}
	}
	return errs
}

// validateNumber enforces numeric typing plus optional min/max config bounds
func validateNumber(path domain.FieldPath, value interface{}, config map[string]interface{}) []domain.FieldValidationError {
	if domain.IsEmptyValue(value) {
		return nil
	}
	var errs []domain.FieldValidationError

	n, ok := domain.ToFloat(value)
	if !ok {
		return append(errs, domain.NewFieldValidationError(path, "expected a numeric value", value))
	}

	if min, ok := configFloat(config, "min"); ok && n < min {
		errs = append(errs, domain.NewFieldValidationError(path,
			fmt.Sprintf("must be at least %g", min), value))
	}
	if max, ok := configFloat(config, "max"); ok && n > max {
		errs = append(errs, domain.NewFieldValidationError(path,
			fmt.Sprintf("must be at most %g", max), value))
	}
	return errs
}

func validateDate(path domain.FieldPath, value interface{}, _ map[string]interface{}) []domain.FieldValidationError {
	if domain.IsEmptyValue(value) {
		return nil
	}
	s, ok := value.(string)
	if !ok {
		return []domain.FieldValidationError{
			domain.NewFieldValidationError(path, "expected a date string", value),
		}
	}
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return nil
		}
	}
	return []domain.FieldValidationError{
		domain.NewFieldValidationError(path, "expected a date in YYYY-MM-DD or RFC3339 format", value),
	}
}

// validateDropdown requires the answer to be one of the configured options
func validateDropdown(path domain.FieldPath, value interface{}, config map[string]interface{}) []domain.FieldValidationError {
	if domain.IsEmptyValue(value) {
		return nil
	}
	options, ok := config["options"].([]interface{})
	if !ok || len(options) == 0 {
		return []domain.FieldValidationError{
			domain.NewFieldValidationError(path, "field config declares no options", nil),
		}
	}
	for _, opt := range options {
		if fmt.Sprint(opt) == fmt.Sprint(value) {
			return nil
		}
	}
	return []domain.FieldValidationError{
		domain.NewFieldValidationError(path, "value is not one of the configured options", value),
	}
}

func validateCheckbox(path domain.FieldPath, value interface{}, _ map[string]interface{}) []domain.FieldValidationError {
	if domain.IsEmptyValue(value) {
		return nil
	}
	if _, ok := value.(bool); !ok {
		return []domain.FieldValidationError{
			domain.NewFieldValidationError(path, "expected a boolean value", value),
		}
	}
	return nil
}

// validateSignature expects a signer attestation object with name and
// signed_at timestamp.
func validateSignature(path domain.FieldPath, value interface{}, _ map[string]interface{}) []domain.FieldValidationError {
	if domain.IsEmptyValue(value) {
		return nil
	}
	sig, ok := value.(map[string]interface{})
	if !ok {
		return []domain.FieldValidationError{
			domain.NewFieldValidationError(path, "expected a signature object", value),
		}
	}
	var errs []domain.FieldValidationError
	if name, _ := sig["signed_by"].(string); name == "" {
		errs = append(errs, domain.NewFieldValidationError(path, "signature is missing signed_by", value))
	}
	if ts, _ := sig["signed_at"].(string); ts == "" {
		errs = append(errs, domain.NewFieldValidationError(path, "signature is missing signed_at", value))
	} else if _, err := time.Parse(time.RFC3339, ts); err != nil {
		errs = append(errs, domain.NewFieldValidationError(path, "signed_at must be RFC3339", ts))
	}
	return errs
}

func configFloat(config map[string]interface{}, key string) (float64, bool) {
	if config == nil {
		return 0, false
	}
	return domain.ToFloat(config[key])
}

func configString(config map[string]interface{}, key string) (string, bool) {
	if config == nil {
		return "", false
	}
	s, ok := config[key].(string)
	return s, ok && s != ""
}
