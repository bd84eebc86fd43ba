// Package errors defines the error taxonomy shared by the zot engine.
package errors

import (
	stderrors "errors"
	"fmt"
)

type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a sentinel to a cause so that errors.Is matches both.
func Wrap(sentinel error, cause error) error {
	if cause == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, cause)
}

func Crypto(msg string) error   { return New(KindCrypto, msg) }
func Protocol(msg string) error { return New(KindProtocol, msg) }
func State(msg string) error    { return New(KindState, msg) }

// KindOf reports the taxonomy bucket of err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	var re *RemoteError
	if stderrors.As(err, &re) {
		return KindProtocol
	}
	var he *HTTPError
	if stderrors.As(err, &he) {
		return KindProtocol
	}
	return KindUnknown
}

// Is and As re-export the standard library helpers so callers need one import.
func Is(err, target error) bool { return stderrors.Is(err, target) }
func As(err error, target any) bool { return stderrors.As(err, target) }

// RemoteError carries the message of a {success:false} protocol payload.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error: %s", e.Message)
}

// HTTPError is returned for any non-2xx response.
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http error %d from %s", e.StatusCode, e.URL)
}
