package validator

import (
	"rover/pkg/logger"
	"rover/pkg/model"
	"rover/pkg/validation"

	"github.com/go-playground/validator/v10"
)

type PaymentValidator struct {
	validate *validator.Validate
}

func NewPaymentValidator(log *logger.Logger) *PaymentValidator {
	return &PaymentValidator{
		validate: validation.New(log),
	}
}

func (v *PaymentValidator) ValidateVerification(verification *model.PaymentVerification) error {
	return validation.Struct(v.validate, verification)
}
