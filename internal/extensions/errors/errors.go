package errors

import "errors"

var (
	ErrNotFound = errors.New("extension not found")

	ErrInvalidID = errors.New("invalid extension ID format")
)
