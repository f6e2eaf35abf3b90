// Package apperr defines the error kinds surfaced by the scheduling and
// order components. Domain errors wrap exactly one kind so callers can
// classify them with errors.Is.
package apperr

import "errors"

var (
	ErrConflict     = errors.New("conflict")
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrValidation   = errors.New("validation error")
	ErrInvalidState = errors.New("invalid state")
)

// Kind returns the taxonomy kind wrapped by err, or nil for unclassified
// (infrastructure) errors.
func Kind(err error) error {
	for _, k := range []error{ErrConflict, ErrNotFound, ErrForbidden, ErrValidation, ErrInvalidState} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
