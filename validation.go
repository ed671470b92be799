package veld

import (
	"errors"
	"reflect"

	"github.com/go-playground/validator/v10"
)

// MetadataValidated is the invocation metadata key marking a call
// whose struct arguments must be validated before the real method runs.
const MetadataValidated = "validated"

// ValidationInterceptor validates struct arguments against their
// `validate` tags before the call proceeds. All violations across all
// arguments are collected into a single ValidationError. Register it
// as before advice.
type ValidationInterceptor struct {
	validate *validator.Validate
}

// NewValidationInterceptor creates a validation interceptor with a
// dedicated validator instance.
func NewValidationInterceptor() *ValidationInterceptor {
	return &ValidationInterceptor{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// Invoke implements Interceptor.
func (i *ValidationInterceptor) Invoke(inv *Invocation) (any, error) {
	var violations []Violation
	for _, arg := range inv.Args {
		if arg == nil || !validatable(arg) {
			continue
		}
		if err := i.validate.Struct(arg); err != nil {
			var fieldErrs validator.ValidationErrors
			if !errors.As(err, &fieldErrs) {
				return nil, err
			}
			for _, fe := range fieldErrs {
				violations = append(violations, Violation{
					Field:   fe.Namespace(),
					Rule:    fe.Tag(),
					Message: fe.Error(),
				})
			}
		}
	}

	if len(violations) > 0 {
		return nil, &ValidationError{Method: inv.Method, Violations: violations}
	}
	return nil, nil
}

func validatable(arg any) bool {
	t := reflect.TypeOf(arg)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Kind() == reflect.Struct
}
