package validator

import (
	"rover/pkg/logger"
	"rover/pkg/model"
	"rover/pkg/validation"

	"github.com/go-playground/validator/v10"
)

type ReturnValidator struct {
	validate *validator.Validate
}

func NewReturnValidator(log *logger.Logger) *ReturnValidator {
	return &ReturnValidator{
		validate: validation.New(log),
	}
}

func (v *ReturnValidator) ValidateStatusChange(change *model.ReturnStatusChange) error {
	return validation.Struct(v.validate, change)
}
