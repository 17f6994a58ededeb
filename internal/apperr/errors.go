// Package apperr defines the error kinds surfaced by the moderation core.
// Errors are wrapped with fmt.Errorf("...: %w", kind) and classified with
// errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound: a message, flag or user does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict: a non-dismissed flag already exists for the message.
	ErrConflict = errors.New("conflict")
	// ErrInvalidState: illegal status, action or transition.
	ErrInvalidState = errors.New("invalid state")
	// ErrAnalysisUnavailable is absorbed by the pipeline and never reaches callers.
	ErrAnalysisUnavailable = errors.New("analysis unavailable")
	// ErrValidation: malformed input at the boundary.
	ErrValidation = errors.New("validation failed")
)

// NotFound returns an ErrNotFound for the given entity.
func NotFound(entity, id string) error {
	return fmt.Errorf("%s %s: %w", entity, id, ErrNotFound)
}

// InvalidState returns an ErrInvalidState with a reason.
func InvalidState(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalidState)
}

// Validation returns an ErrValidation with a reason.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrValidation)
}

// Kind returns the sentinel err wraps, or nil for unclassified errors.
func Kind(err error) error {
	for _, kind := range []error{ErrNotFound, ErrConflict, ErrInvalidState, ErrAnalysisUnavailable, ErrValidation} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
