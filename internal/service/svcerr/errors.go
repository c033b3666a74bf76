package svcerr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation   Kind = "validation"
	KindInvalidDate  Kind = "invalid_date"
	KindInvalidRange Kind = "invalid_range"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindForbidden    Kind = "forbidden"
	KindState        Kind = "state"
	KindInternal     Kind = "internal"
)

// Error is returned by every service operation. Msg is safe to show to callers;
// Err keeps the underlying cause for logs and errors.Is.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Kind == KindInternal {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsValidation reports whether the kind describes a malformed request.
func (k Kind) IsValidation() bool {
	return k == KindValidation || k == KindInvalidDate || k == KindInvalidRange
}

func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, err error) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func Validation(msg string) error   { return New(KindValidation, msg) }
func InvalidDate(msg string) error  { return New(KindInvalidDate, msg) }
func InvalidRange(msg string) error { return New(KindInvalidRange, msg) }
func NotFound(msg string) error     { return New(KindNotFound, msg) }
func Conflict(msg string) error     { return New(KindConflict, msg) }
func Forbidden(msg string) error    { return New(KindForbidden, msg) }
func State(msg string) error        { return New(KindState, msg) }

func Internal(err error) error {
	return Wrap(KindInternal, "internal error", err)
}

// KindOf returns the kind of the first *Error in err's chain, KindInternal otherwise.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns the caller-facing message of err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return "internal error"
}
