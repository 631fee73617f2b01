package validator

import (
	"rover/pkg/logger"
	"rover/pkg/model"
	"rover/pkg/validation"

	"github.com/go-playground/validator/v10"
)

type ExtensionValidator struct {
	validate *validator.Validate
}

func NewExtensionValidator(log *logger.Logger) *ExtensionValidator {
	return &ExtensionValidator{
		validate: validation.New(log),
	}
}

func (v *ExtensionValidator) ValidateRequest(req *model.ExtensionRequest) error {
	return validation.Struct(v.validate, req)
}
