package errs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
)

// Kind classifies an error for callers that need to decide between retrying,
// re-authenticating, or surfacing a message to the user.
type Kind string

const (
	KindNetwork       Kind = "network"
	KindAuth          Kind = "auth"
	KindAuthorization Kind = "authorization"
	KindRateLimit     Kind = "rate_limit"
	KindValidation    Kind = "validation"
	KindServer        Kind = "server"
	KindUnknown       Kind = "unknown"
)

// Error is the classified error carried across the socket ack channel and
// returned by client-side operations.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a classification to an underlying error.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// KindOf reports the classification of err, or KindUnknown when err carries
// none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is lets errors.Is match two classified errors by kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// ClassifyTransport maps raw transport failures (dial refused, timeouts,
// cancelled contexts) onto the network kind so upper layers never see a raw
// transport error.
func ClassifyTransport(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return Wrap(KindNetwork, "operation timed out", err)
	case errors.Is(err, context.Canceled):
		return Wrap(KindNetwork, "operation cancelled", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Wrap(KindNetwork, "transport failure", err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Wrap(KindNetwork, "connection failure", err)
	}
	return Wrap(KindNetwork, "connection lost", err)
}
