package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can branch on it (and the API layer
// can map it to an HTTP status) without parsing messages.
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindInvalidState      Kind = "invalid_state"
	KindForbidden         Kind = "forbidden"
	KindRateLimitExceeded Kind = "rate_limit_exceeded"
	KindExternalService   Kind = "external_service_error"
	KindStore             Kind = "store_error"
)

// Error is the single error type crossing component boundaries. Message is
// safe to surface to end users as-is.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is match two *Error values on kind alone.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func InvalidState(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidState, Message: fmt.Sprintf(format, args...)}
}

func Forbidden(format string, args ...any) *Error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

func RateLimitExceeded(format string, args ...any) *Error {
	return &Error{Kind: KindRateLimitExceeded, Message: fmt.Sprintf(format, args...)}
}

func ExternalService(err error, format string, args ...any) *Error {
	return &Error{Kind: KindExternalService, Message: fmt.Sprintf(format, args...), Err: err}
}

func Store(err error, format string, args ...any) *Error {
	return &Error{Kind: KindStore, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind from any error in the chain. Unclassified errors
// report as store errors, the only kind that is always a hard failure.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStore
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// UserMessage returns the caller-facing message for err.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}
