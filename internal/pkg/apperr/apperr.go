// Package apperr defines the error taxonomy shared by the messaging services.
//
// Services return *Error values so that handlers can map them onto HTTP
// statuses without string matching. Repositories only ever produce
// NotFound, Conflict (unique violations) and Persistence errors; everything
// else is raised by the service layer before any write happens.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and HTTP mapping.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindAuthorization Kind = "authorization"
	KindNotFound      Kind = "not_found"
	KindRateLimit     Kind = "rate_limited"
	KindConflict      Kind = "conflict"
	KindUnavailable   Kind = "unavailable"
	KindStorage       Kind = "storage"
	KindPersistence   Kind = "persistence"
)

// Error is a classified application error.
type Error struct {
	Kind    Kind
	Message string
	// WaitSeconds is set on KindRateLimit errors.
	WaitSeconds int
	// Details carries structured context (invalid ids, blocked recipients).
	Details any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so errors.Is(err, apperr.ErrNotFound) works for any
// not-found error regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

// Kind sentinels for errors.Is.
var (
	ErrValidation    = &Error{Kind: KindValidation}
	ErrAuthorization = &Error{Kind: KindAuthorization}
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrRateLimit     = &Error{Kind: KindRateLimit}
	ErrConflict      = &Error{Kind: KindConflict}
	ErrUnavailable   = &Error{Kind: KindUnavailable}
	ErrStorage       = &Error{Kind: KindStorage}
	ErrPersistence   = &Error{Kind: KindPersistence}
)

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Forbidden(format string, args ...any) *Error {
	return &Error{Kind: KindAuthorization, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func Unavailable(format string, args ...any) *Error {
	return &Error{Kind: KindUnavailable, Message: fmt.Sprintf(format, args...)}
}

// RateLimited builds a rate-limit error carrying the remaining wait.
func RateLimited(waitSeconds int) *Error {
	return &Error{
		Kind:        KindRateLimit,
		Message:     fmt.Sprintf("rate limit exceeded, retry in %d seconds", waitSeconds),
		WaitSeconds: waitSeconds,
	}
}

// Storage wraps a blob-store failure. These are never fatal to row state.
func Storage(op string, err error) *Error {
	return &Error{Kind: KindStorage, Message: op, Err: err}
}

// Persistence wraps a relational-store failure.
func Persistence(op string, err error) *Error {
	return &Error{Kind: KindPersistence, Message: op, Err: err}
}

// WithDetails attaches structured details and returns e.
func (e *Error) WithDetails(d any) *Error {
	e.Details = d
	return e
}

// KindOf returns the Kind of err, or KindPersistence for unclassified errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindPersistence
}

// As is a shorthand for errors.As into *Error.
func As(err error) (*Error, bool) {
	var ae *Error
	ok := errors.As(err, &ae)
	return ae, ok
}

// Wrap returns err unchanged when it is already classified, and otherwise
// classifies it as a persistence failure of op.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := As(err); ok {
		return err
	}
	return Persistence(op, err)
}
