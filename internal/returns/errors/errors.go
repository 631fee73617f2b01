package errors

import "errors"

var (
	ErrNotFound = errors.New("return record not found")
)
