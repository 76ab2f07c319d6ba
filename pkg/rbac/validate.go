package rbac

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateStruct runs the struct-tag validator over input and converts the first
// failure into a *ValidationError.
func ValidateStruct(input interface{}) error {
	err := validate.Struct(input)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		msg := fe.Tag()
		if fe.Param() != "" {
			msg = fmt.Sprintf("%s=%s", fe.Tag(), fe.Param())
		}
		return &ValidationError{Field: strings.ToLower(fe.Field()), Message: "failed " + msg}
	}
	return &ValidationError{Message: err.Error()}
}

// validateToken rejects blank values and values containing whitespace.
func validateToken(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{Field: field, Message: "must not be blank"}
	}
	if strings.ContainsAny(value, " \t\r\n") {
		return &ValidationError{Field: field, Message: "must not contain whitespace"}
	}
	return nil
}
