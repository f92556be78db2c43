package utils

import (
	"errors"
	"reflect"
	"strings"
	"sync"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// GetValidator returns the shared validator. Field names in errors follow json tags,
// and the load_amount / load_time / load_key rules are registered.
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New()
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = v.RegisterValidation("load_amount", func(fl validator.FieldLevel) bool {
			_, err := ParseLoadAmount(fl.Field().String())
			return err == nil
		})
		_ = v.RegisterValidation("load_time", func(fl validator.FieldLevel) bool {
			_, err := ParseLoadTime(fl.Field().String())
			return err == nil
		})
		_ = v.RegisterValidation("load_key", func(fl validator.FieldLevel) bool {
			return !strings.ContainsFunc(fl.Field().String(), unicode.IsControl)
		})
		validate = v
	})
	return validate
}

// ValidateStruct runs the shared validator and folds failures into a *ValidationError.
func ValidateStruct(s any) error {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}
	return &ValidationError{Fields: ProcessValidationErrors(ve)}
}

func ProcessValidationErrors(err error) map[string]string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return map[string]string{}
	}

	errorResponse := make(map[string]string)

	for _, ve := range validationErrors {
		errorResponse[ve.Field()] = ve.Tag()
	}

	return errorResponse
}
