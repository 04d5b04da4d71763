// Package errs defines the error taxonomy shared by the chat, token, key and social services.
//
// Services return *Error values whose Kind is one of the sentinel kinds below.
// Transports (socket gateway, HTTP API) branch on the kind with errors.Is and never
// on message text.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks missing or malformed input (empty message, wrong type, bad id).
	ErrValidation = errors.New("validation failed")

	// ErrAuthorization marks an actor acting on something it does not own.
	ErrAuthorization = errors.New("not authorized")

	// ErrNotFound marks an unknown message, session, token or key.
	ErrNotFound = errors.New("not found")

	// ErrAuthentication marks bad signatures and revoked, expired or unknown credentials.
	ErrAuthentication = errors.New("authentication failed")

	// ErrRateLimited marks an actor over its sliding-window budget.
	ErrRateLimited = errors.New("rate limited")

	// ErrConflict marks a uniqueness conflict (username taken, duplicate request).
	ErrConflict = errors.New("conflict")
)

// Error is a typed operation error with a stable Op + Kind contract.
// Msg is human readable and must not carry secrets.
type Error struct {
	Op   string
	Kind error
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Kind }

// E builds an *Error.
func E(op string, kind error, msg string) error {
	return &Error{Op: op, Kind: kind, Msg: msg}
}

// Message returns the human-readable part of err suitable for clients.
// Errors outside the taxonomy are reported as a generic internal failure.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Msg != "" {
			return e.Msg
		}
		return e.Kind.Error()
	}
	if Known(err) {
		return err.Error()
	}
	return "internal error"
}

// Known reports whether err belongs to the taxonomy.
func Known(err error) bool {
	for _, k := range []error{ErrValidation, ErrAuthorization, ErrNotFound, ErrAuthentication, ErrRateLimited, ErrConflict} {
		if errors.Is(err, k) {
			return true
		}
	}
	return false
}

// Code returns a stable snake_case code for err.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrAuthorization):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAuthentication):
		return "unauthenticated"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "internal"
	}
}
