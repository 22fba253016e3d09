// Package errs defines the error taxonomy shared by all domain components.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for both callers and the HTTP layer.
type Kind int

const (
	KindUnknown Kind = iota
	// KindConfiguration indicates a missing or invalid credential or setting.
	// Fatal at construction time.
	KindConfiguration
	// KindRemoteCall indicates a network or API failure against an external
	// service. Not retried automatically.
	KindRemoteCall
	// KindNormalization indicates malformed output from the remote model.
	KindNormalization
	// KindValidation indicates a bad input shape, e.g. an empty item list.
	KindValidation
	// KindAuthorization indicates a role or ownership mismatch.
	KindAuthorization
	// KindInvalidState indicates an illegal lifecycle transition.
	KindInvalidState
	// KindNotFound indicates a missing entity. Deliberately also used for
	// "exists but not yours" so existence is never leaked.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindRemoteCall:
		return "remote_call"
	case KindNormalization:
		return "normalization"
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindInvalidState:
		return "invalid_state"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error is a classified domain error.
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

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error with a message.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, msg string, err error) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the kind of err, or KindUnknown if it carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
