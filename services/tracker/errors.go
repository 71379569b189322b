package tracker

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrValidation marks malformed input. Nothing is written when it is returned.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is returned when a session or user is absent, or a session is no longer active.
	ErrNotFound = errors.New("not found")
)

// ConflictError is returned by Start when the user already has an active session.
type ConflictError struct {
	SessionID uuid.UUID
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("active session %s already exists", e.SessionID)
}

// RateLimitedError is returned when the vision gate has not yet reopened for a session.
type RateLimitedError struct {
	SecondsRemaining int64
	RetryAfter       time.Time
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: try again in %ds", e.SecondsRemaining)
}

// UpstreamError wraps a failure of the remote classifier (network, timeout, empty response).
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream classifier: %v", e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// PersistenceError wraps a failed document write.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func notFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		pe *PersistenceError
		ce *ConflictError
		re *RateLimitedError
	)
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrValidation) ||
		errors.As(err, &pe) || errors.As(err, &ce) || errors.As(err, &re) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsNotFound reports whether err marks a missing or inactive session or user.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// AsConflict returns the ConflictError carried by err, if any.
func AsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	ok := errors.As(err, &ce)
	return ce, ok
}

// AsRateLimited returns the RateLimitedError carried by err, if any.
func AsRateLimited(err error) (*RateLimitedError, bool) {
	var re *RateLimitedError
	ok := errors.As(err, &re)
	return re, ok
}

// IsUpstream reports whether err came from the remote classifier.
func IsUpstream(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}
