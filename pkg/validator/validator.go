package validator

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/jwalitptl/kine-api/pkg/errors"
)

// Validator provides validation functionality
type Validator interface {
	Validate(interface{}) error
}

type structValidator struct {
	validate *validator.Validate
}

func New() Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return &structValidator{validate: v}
}

// Validate checks `validate` tags and reports the first failure as a validation error.
func (v *structValidator) Validate(obj interface{}) error {
	err := v.validate.Struct(obj)
	if err == nil {
		return nil
	}

	if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
		return apperrors.NewValidation(describe(errs[0]), err)
	}
	return apperrors.NewValidation("invalid request", err)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "gt", "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), minimum(fe))
	case "max", "lte":
		return fmt.Sprintf("%s must not exceed %s", fe.Field(), fe.Param())
	case "dive":
		return fmt.Sprintf("%s contains an invalid entry", fe.Field())
	default:
		return fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag())
	}
}

func minimum(fe validator.FieldError) string {
	if fe.Tag() == "gt" {
		return fmt.Sprintf("more than %s", fe.Param())
	}
	return fe.Param()
}
