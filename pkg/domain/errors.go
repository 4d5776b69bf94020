package domain

import (
	"errors"
	"fmt"
)

// Sentinel error kinds shared by every bounded context.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrValidation   = errors.New("validation failed")
	ErrInvalidState = errors.New("invalid state transition")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

// DomainError carries a sentinel kind plus a human readable message.
type DomainError struct {
	Err     error
	Message string
}

func (e *DomainError) Error() string {
	if e.Message == "" {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap exposes the sentinel kind to errors.Is.
func (e *DomainError) Unwrap() error { return e.Err }

// NewNotFoundError reports a missing entity.
func NewNotFoundError(entity, id string) *DomainError {
	return &DomainError{Err: ErrNotFound, Message: fmt.Sprintf("%s with id '%s' not found", entity, id)}
}

// NewConflictError reports a write that lost against concurrent state.
func NewConflictError(message string) *DomainError {
	return &DomainError{Err: ErrConflict, Message: message}
}

// NewValidationError reports malformed input.
func NewValidationError(message string) *DomainError {
	return &DomainError{Err: ErrValidation, Message: message}
}

// NewInvalidStateError reports a forbidden state transition.
func NewInvalidStateError(from, to string) *DomainError {
	return &DomainError{Err: ErrInvalidState, Message: fmt.Sprintf("cannot transition from '%s' to '%s'", from, to)}
}

// NewForbiddenError reports an operation the caller may not perform.
func NewForbiddenError(message string) *DomainError {
	return &DomainError{Err: ErrForbidden, Message: message}
}

// IsNotFound reports whether err is (or wraps) a not-found domain error.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict reports whether err is (or wraps) a conflict domain error.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }
