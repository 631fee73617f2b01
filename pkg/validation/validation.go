package validation

import (
	"errors"
	"fmt"
	"reflect"
	apperrors "rover/pkg/errors"
	"rover/pkg/logger"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
)

// RentalIntervals are the rental and extension terms on offer, in months.
var RentalIntervals = []int{6, 12, 24, 36}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return ""
	}
	var messages []string
	for _, err := range v {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %d error(s): [%s]", len(v), strings.Join(messages, "; "))
}

// Details renders validation errors for an AppError.
func (v ValidationErrors) Details() map[string]any {
	fields := make(map[string]string, len(v))
	for _, err := range v {
		fields[err.Field] = err.Message
	}
	return map[string]any{"fields": fields}
}

// New returns a validator with the custom tags shared by every service.
func New(log *logger.Logger) *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(jsonFieldName)

	if err := v.RegisterValidation("rental_interval", validateRentalInterval); err != nil {
		log.Fatal("Failed to register 'rental_interval' validator", "error", err)
	}
	return v
}

func jsonFieldName(field reflect.StructField) string {
	name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	return name
}

func validateRentalInterval(fl validator.FieldLevel) bool {
	return slices.Contains(RentalIntervals, int(fl.Field().Int()))
}

// Struct validates s and translates field errors into ValidationErrors.
func Struct(v *validator.Validate, s any) error {
	if err := v.Struct(s); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			return translate(validationErrs)
		}
		return err
	}
	return nil
}

func translate(errs validator.ValidationErrors) ValidationErrors {
	var validationErrors ValidationErrors

	for _, err := range errs {
		message := err.Error()

		switch err.Tag() {
		case "required":
			message = fmt.Sprintf("%s is required", err.Field())
		case "required_without":
			message = fmt.Sprintf("%s is required when %s is missing", err.Field(), err.Param())
		case "oneof":
			message = fmt.Sprintf("%s must be one of: %s", err.Field(), err.Param())
		case "mongodb":
			message = fmt.Sprintf("%s must be a valid id", err.Field())
		case "rental_interval":
			message = fmt.Sprintf("%s must be one of %v months", err.Field(), RentalIntervals)
		}

		validationErrors = append(validationErrors, ValidationError{
			Field:   err.Field(),
			Message: message,
		})
	}

	return validationErrors
}

// ToAppError converts a validation failure into a Validation AppError.
func ToAppError(err error) error {
	var verrs ValidationErrors
	if errors.As(err, &verrs) {
		return apperrors.Validation("Request validation failed", verrs.Details())
	}
	return apperrors.InvalidInput(err.Error())
}
