package validator

import (
	"rover/pkg/logger"
	"rover/pkg/model"
	"rover/pkg/validation"

	"github.com/go-playground/validator/v10"
)

type DeviceValidator struct {
	validate *validator.Validate
}

func NewDeviceValidator(log *logger.Logger) *DeviceValidator {
	return &DeviceValidator{
		validate: validation.New(log),
	}
}

func (v *DeviceValidator) ValidateControl(req *model.DeviceControlRequest) error {
	return validation.Struct(v.validate, req)
}

func (v *DeviceValidator) ValidateStatusChange(change *model.DeviceStatusChange) error {
	return validation.Struct(v.validate, change)
}
