package utils

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Ramsey-B/fern/pkg/dates"
	"github.com/Ramsey-B/fern/pkg/models"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// localdate accepts anything dates.ParseLocalDate can read
	_ = v.RegisterValidation("localdate", func(fl validator.FieldLevel) bool {
		_, ok := dates.ParseLocalDate(fl.Field().String())
		return ok
	})
	_ = v.RegisterValidation("permission_level", func(fl validator.FieldLevel) bool {
		return models.PermissionLevel(fl.Field().String()).IsValid()
	})
	return v
}

func Validate[T any](value T) (T, error) {
	if err := validate.Struct(value); err != nil {
		return value, ValidationErrorToString(value, err)
	}

	return value, nil
}

func ValidateValue(value any, tag string) error {
	if err := validate.Var(value, tag); err != nil {
		return ValidationErrorToString(value, err)
	}
	return nil
}

func ValidationErrorToString(input any, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() == "" {
			msgs = append(msgs, fmt.Sprintf("field '%s' failed rule '%s', got '%v'", fe.Field(), fe.Tag(), fe.Value()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("field '%s' failed rule '%s' expected '%s', got '%v'", fe.Field(), fe.Tag(), fe.Param(), fe.Value()))
	}
	return fmt.Errorf("invalid %T: %s", input, strings.Join(msgs, "; "))
}
