// Package apperr defines the error-kind taxonomy shared by every component,
// so session and REST handlers can translate a failure into the right close
// code or HTTP envelope without parsing error strings.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the purpose of client-visible handling.
type Kind string

const (
	AuthInvalid      Kind = "auth_invalid"
	AuthExpired      Kind = "auth_expired"
	Forbidden        Kind = "forbidden"
	NotFound         Kind = "not_found"
	Conflict         Kind = "conflict"
	ValidationFailed Kind = "validation_failed"
	Transient        Kind = "transient"
	Fatal            Kind = "fatal"
)

// Error wraps an underlying cause with a Kind.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an Error of the given kind.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds an Error of the given kind around an existing error.
func Wrap(kind Kind, msg string, err error) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the Kind from err, defaulting to Fatal when err does not
// carry one (an unclassified error is treated as the most conservative
// kind rather than silently succeeding).
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Fatal
}

// CloseCode maps a Kind to the WebSocket close code a session ends with.
func CloseCode(kind Kind) int {
	switch kind {
	case AuthInvalid, AuthExpired:
		return 4401
	case Forbidden:
		return 4403
	case NotFound:
		return 4404
	case Transient:
		return 1011
	case Fatal:
		return 1011
	default:
		return 1011
	}
}

// RESTCode maps a Kind to the error code used in the JSON error envelope.
func RESTCode(kind Kind) string {
	switch kind {
	case AuthInvalid, AuthExpired:
		return "unauthorized"
	case Forbidden:
		return "forbidden"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case ValidationFailed:
		return "validation_error"
	default:
		return "server_error"
	}
}
