package errors

import "errors"

var (
	ErrNotFound = errors.New("rental not found")

	ErrInvalidID = errors.New("invalid rental ID format")

	// ErrStatusChanged means the rental left the expected status before the update.
	ErrStatusChanged = errors.New("rental status changed concurrently")
)
