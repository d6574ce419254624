// Package apperr defines the request-scoped error taxonomy shared by the
// dispatch engine and its transports.
package apperr

import (
	"errors"
	"fmt"
)

// Kinds. Match with errors.Is.
var (
	// ErrValidation: malformed or inconsistent input; retrying without changing input will not help.
	ErrValidation = errors.New("validation error")
	// ErrConflict: current state changed or disallows the action; retry after re-reading state.
	ErrConflict = errors.New("conflict")
	// ErrForbidden: caller is not the authorized actor.
	ErrForbidden = errors.New("forbidden")
	ErrNotFound  = errors.New("not found")
)

// Error is a classified failure with a user-facing message.
type Error struct {
	Kind    error
	Message string
	// Reason is an optional status-specific explanation.
	Reason string
	// Detail carries structured context, e.g. the ride blocking an accept.
	Detail any
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Reason)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func Validation(msg string) *Error {
	return &Error{Kind: ErrValidation, Message: msg}
}

func Conflict(msg string) *Error {
	return &Error{Kind: ErrConflict, Message: msg}
}

func Forbidden(msg string) *Error {
	return &Error{Kind: ErrForbidden, Message: msg}
}

func NotFound(msg string) *Error {
	return &Error{Kind: ErrNotFound, Message: msg}
}

// WithReason returns a copy of e carrying reason.
func (e *Error) WithReason(reason string) *Error {
	cp := *e
	cp.Reason = reason
	return &cp
}

// WithDetail returns a copy of e carrying detail.
func (e *Error) WithDetail(detail any) *Error {
	cp := *e
	cp.Detail = detail
	return &cp
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
