package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
)

// ErrStructValidationFailed is returned when a decoded section fails its
// struct-tag validation.
var ErrStructValidationFailed = errors.New("config: struct validation failed")

var structValidator *validator.Validate

func init() {
	structValidator = validator.New()
	_ = structValidator.RegisterValidation("cron", validateCronTag)
	_ = structValidator.RegisterValidation("duration_gte", validateDurationGTE)
}

// validateStruct runs struct-tag validation (the `validate:"..."` tags on
// mainSection/connectionSection/scheduleSection/returnSection) over a
// decoded section, turning go-playground/validator's FieldError slice into
// one readable error.
func validateStruct(section string, v any) error {
	err := structValidator.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: [%s]: %w", ErrStructValidationFailed, section, err)
	}

	messages := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		messages = append(messages, formatFieldError(fe))
	}
	return fmt.Errorf("%w: [%s]: %s", ErrStructValidationFailed, section, strings.Join(messages, "; "))
}

func formatFieldError(e validator.FieldError) string {
	field := e.Field()
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s: required field is empty", field)
	case "gte":
		return fmt.Sprintf("%s: must be >= %s (got: %v)", field, e.Param(), e.Value())
	case "lte":
		return fmt.Sprintf("%s: must be <= %s (got: %v)", field, e.Param(), e.Value())
	case "oneof":
		return fmt.Sprintf("%s: must be one of [%s] (got: %v)", field, e.Param(), e.Value())
	case "cron":
		return fmt.Sprintf("%s: must be a valid cron expression (got: %v)", field, e.Value())
	case "duration_gte":
		return fmt.Sprintf("%s: duration must be >= %s (got: %v)", field, e.Param(), e.Value())
	default:
		return fmt.Sprintf("%s: validation %q failed (got: %v)", field, e.Tag(), e.Value())
	}
}

// validateCronTag accepts the standard 5/6-field form (digits and the
// characters * - , / ? L W #), "@hourly"-style special strings, the
// "@triggered"/"@manual"/"@none" keywords, and "@every <duration>" with a
// duration time.ParseDuration accepts.
func validateCronTag(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}

	if strings.HasPrefix(value, "@") {
		validSpecial := []string{
			"@yearly", "@annually", "@monthly", "@weekly",
			"@daily", "@midnight", "@hourly",
			"@triggered", "@manual", "@none",
		}
		for _, special := range validSpecial {
			if value == special {
				return true
			}
		}
		if strings.HasPrefix(value, "@every ") {
			_, err := time.ParseDuration(strings.TrimPrefix(value, "@every "))
			return err == nil
		}
		return false
	}

	parts := strings.Fields(value)
	if len(parts) < 5 || len(parts) > 6 {
		return false
	}
	cronFieldRegex := regexp.MustCompile(`^[\d\*\-,/\?LW#]+$`)
	for _, part := range parts {
		if !cronFieldRegex.MatchString(part) {
			return false
		}
	}
	return true
}

// validateDurationGTE validates that a time.Duration field is >= a minimum
// duration given as the tag parameter (e.g. "duration_gte=1s").
func validateDurationGTE(fl validator.FieldLevel) bool {
	field := fl.Field()
	minDur, err := time.ParseDuration(fl.Param())
	if err != nil {
		return false
	}
	if dur, ok := field.Interface().(time.Duration); ok {
		return dur >= minDur
	}
	if field.Kind().String() == "int64" {
		return time.Duration(field.Int()) >= minDur
	}
	return true
}
