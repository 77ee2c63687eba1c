package models

import (
	"errors"
	"fmt"
)

// Expected outcomes. Callers branch on these with errors.Is; neither is a
// fault. A conflict is the normal way a lost race surfaces: the loser gets
// a clean negative result and no partial state.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("not found or invalid transition")
)

// ValidationError rejects malformed input before it reaches the store.
// The reason is a structured string the caller can surface verbatim.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// Invalid builds a ValidationError.
func Invalid(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a validation rejection.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
