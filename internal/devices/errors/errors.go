package errors

import "errors"

var (
	ErrNotFound = errors.New("device not found")

	ErrInvalidID = errors.New("invalid device ID format")

	ErrNoDeviceAvailable = errors.New("no device available")

	ErrNoReservation = errors.New("no device reserved for rental")

	ErrCorruptAssignment = errors.New("device is both reserved and assigned")

	ErrDeviceBusy = errors.New("device is reserved or assigned")
)
