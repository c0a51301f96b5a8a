// Package apperr defines the error kinds surfaced by the scheduling core.
//
// Every failure a caller can act on carries exactly one kind. Callers branch
// with errors.Is against the kind sentinels; the wrapped cause stays
// reachable for package-level sentinels such as
// appointment.ErrInvalidStatusTransition.
package apperr

import (
	"errors"
	"fmt"
)

// Kind sentinels. Use with errors.Is.
var (
	ErrValidation          = errors.New("validation error")
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrAuthorization       = errors.New("not authorized")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrPrematureAction     = errors.New("premature action")
	ErrExternalService     = errors.New("external service error")
)

var kinds = []error{
	ErrValidation,
	ErrUnauthenticated,
	ErrAuthorization,
	ErrNotFound,
	ErrConflict,
	ErrInsufficientCredits,
	ErrInsufficientBalance,
	ErrPrematureAction,
	ErrExternalService,
}

// Error is a kinded failure scoped to one operation.
type Error struct {
	Kind error
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// New builds a kinded error.
func New(kind error, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap builds a kinded error around a cause.
func Wrap(kind error, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

func Validation(op, msg string) *Error   { return New(ErrValidation, op, msg) }
func Authorization(op, msg string) *Error { return New(ErrAuthorization, op, msg) }
func NotFound(op, msg string) *Error     { return New(ErrNotFound, op, msg) }
func Conflict(op, msg string) *Error     { return New(ErrConflict, op, msg) }
func Premature(op, msg string) *Error    { return New(ErrPrematureAction, op, msg) }

// External marks a failure of a collaborator outside the process.
func External(op string, err error) *Error {
	return Wrap(ErrExternalService, op, "", err)
}

// KindOf returns the kind sentinel carried by err, or nil for internal errors.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// IsInternal reports whether err carries no kind and should be treated as a
// system failure.
func IsInternal(err error) bool {
	return err != nil && KindOf(err) == nil
}
