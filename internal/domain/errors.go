package domain

import (
	"errors"
	"fmt"
)

// Kind classifies failures by how the conversation layer reacts to them.
type Kind int

const (
	// KindValidation is bad user input. The prompt is repeated in place.
	KindValidation Kind = iota + 1
	// KindPermission is a failed role or feature gate.
	KindPermission
	// KindNotFound is an unknown tenant, request, record or token.
	KindNotFound
	// KindConflict is a request already processed, a token already used or a chat already linked.
	KindConflict
	// KindTransient is a storage or transport failure the user may retry.
	KindTransient
	// KindFatal is anything escaping a stage unexpectedly.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindPermission:
		return "permission"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	}
	return "unknown"
}

// Error carries a user-facing message next to the machine-readable code.
type Error struct {
	Kind Kind
	// ErrCode is a stable identifier such as "TOKEN_USED".
	ErrCode string
	// Msg is safe to show to the user.
	Msg string
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.ErrCode, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.ErrCode)
}

func (e *Error) Unwrap() error { return e.Err }

// Code is read by the handler summary logger.
func (e *Error) Code() string {
	if e.ErrCode != "" {
		return e.ErrCode
	}
	return e.Kind.String()
}

func newErr(kind Kind, code, msg string, err error) *Error {
	return &Error{Kind: kind, ErrCode: code, Msg: msg, Err: err}
}

// Validation reports bad input.
func Validation(code, msg string) *Error { return newErr(KindValidation, code, msg, nil) }

// Permission reports a denied action.
func Permission(code, msg string) *Error { return newErr(KindPermission, code, msg, nil) }

// NotFound reports a missing entity.
func NotFound(code, msg string) *Error { return newErr(KindNotFound, code, msg, nil) }

// Conflict reports a state that forbids the mutation.
func Conflict(code, msg string) *Error { return newErr(KindConflict, code, msg, nil) }

// Transient wraps an I/O failure.
func Transient(code string, err error) *Error {
	return newErr(KindTransient, code, "Ocurrió un problema temporal. Intenta de nuevo en unos momentos.", err)
}

// Fatal wraps an unexpected failure.
func Fatal(code string, err error) *Error {
	return newErr(KindFatal, code, "Ocurrió un error inesperado. Intenta de nuevo más tarde.", err)
}

// KindOf returns the kind of the first *Error in the chain, or 0.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return 0
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// CodeOf returns the stable code of err when it is a domain error.
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code()
	}
	return ""
}

// UserMessage returns the user-facing text for err, falling back to def.
func UserMessage(err error, def string) string {
	var de *Error
	if errors.As(err, &de) && de.Msg != "" {
		return de.Msg
	}
	return def
}
