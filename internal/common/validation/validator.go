// Package validation validates decoded request bodies with go-playground/validator
// and converts failures into ValidationError app errors.
package validation

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"federation-gateway/internal/common/errors"

	"github.com/go-playground/validator/v10"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Validator wraps go-playground/validator with gateway-specific tags
type Validator struct {
	validator *validator.Validate
}

// FieldError represents a single validation error with context
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
}

// New creates a validator with the custom tags registered.
func New() *Validator {
	v := validator.New()
	registerGatewayValidators(v)

	// Report JSON names instead of Go field names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	return &Validator{validator: v}
}

// ValidateStruct validates a struct using struct tags
func (v *Validator) ValidateStruct(s interface{}) error {
	if err := v.validator.Struct(s); err != nil {
		return v.formatValidationErrors(err)
	}
	return nil
}

// FieldErrors returns the structured failures for s, or nil when it is valid.
func (v *Validator) FieldErrors(s interface{}) []FieldError {
	err := v.validator.Struct(s)
	if err == nil {
		return nil
	}
	return v.extractFieldErrors(err)
}

func (v *Validator) formatValidationErrors(err error) error {
	fieldErrors := v.extractFieldErrors(err)
	if len(fieldErrors) == 1 {
		return errors.ValidationError(fieldErrors[0].Message)
	}

	messages := make([]string, len(fieldErrors))
	for i, e := range fieldErrors {
		messages[i] = e.Message
	}
	return errors.ValidationError(fmt.Sprintf("validation failed: %s", strings.Join(messages, "; ")))
}

func (v *Validator) extractFieldErrors(err error) []FieldError {
	validationErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []FieldError{{Field: "unknown", Tag: "error", Message: err.Error()}}
	}

	fieldErrors := make([]FieldError, 0, len(validationErrs))
	for _, fe := range validationErrs {
		fieldErrors = append(fieldErrors, FieldError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Message: formatFieldError(fe),
			Param:   fe.Param(),
		})
	}
	return fieldErrors
}

func formatFieldError(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return fmt.Sprintf("field '%s' is required", err.Field())
	case "url", "http_url":
		return fmt.Sprintf("field '%s' must be a valid URL", err.Field())
	case "min":
		return fmt.Sprintf("field '%s' must be at least %s", err.Field(), err.Param())
	case "max":
		return fmt.Sprintf("field '%s' must be at most %s", err.Field(), err.Param())
	case "oneof":
		return fmt.Sprintf("field '%s' must be one of: %s", err.Field(), err.Param())
	case "identifier":
		return fmt.Sprintf("field '%s' must contain only letters, digits, '.', '_' or '-'", err.Field())
	case "signing_secret":
		return fmt.Sprintf("field '%s' must be at least 16 characters", err.Field())
	default:
		return fmt.Sprintf("field '%s' failed validation: %s", err.Field(), err.Tag())
	}
}

func registerGatewayValidators(v *validator.Validate) {
	// Org and key identifiers
	v.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
		return identifierPattern.MatchString(fl.Field().String())
	})

	v.RegisterValidation("signing_secret", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) >= 16
	})
}
