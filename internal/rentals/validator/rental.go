package validator

import (
	"rover/pkg/logger"
	"rover/pkg/model"
	"rover/pkg/validation"

	"github.com/go-playground/validator/v10"
)

type RentalValidator struct {
	validate *validator.Validate
}

func NewRentalValidator(log *logger.Logger) *RentalValidator {
	return &RentalValidator{
		validate: validation.New(log),
	}
}

func (v *RentalValidator) ValidateRequest(req *model.RentalRequest) error {
	return validation.Struct(v.validate, req)
}

func (v *RentalValidator) ValidateStatusChange(change *model.RentalStatusChange) error {
	return validation.Struct(v.validate, change)
}
