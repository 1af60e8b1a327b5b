package types

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by point lookups that match nothing.
var ErrNotFound = errors.New("not found")

// ValidationError carries a message that is safe to show to the caller.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func Validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}
