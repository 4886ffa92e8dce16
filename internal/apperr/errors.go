// Package apperr defines the error taxonomy shared by the booking services and
// the HTTP layer. Every failure a caller can act on carries a Kind; anything
// else is reported as Internal.
package apperr

import (
	"fmt"
	"net/http"

	"github.com/cockroachdb/errors"
)

// Kind classifies an error for callers and for HTTP status mapping
type Kind string

const (
	KindSlotConflict        Kind = "SlotConflict"
	KindSlotUnavailable     Kind = "SlotUnavailable"
	KindBookingWindowClosed Kind = "BookingWindowClosed"
	KindInvalidSlot         Kind = "InvalidSlot"
	KindHoldNotFound        Kind = "HoldNotFound"
	KindHoldExpired         Kind = "HoldExpired"
	KindHoldMismatch        Kind = "HoldMismatch"
	KindInvalidAddOn        Kind = "InvalidAddOn"
	KindInvalidAmount       Kind = "InvalidAmount"
	KindInvalidCurrency     Kind = "InvalidCurrency"
	KindInvalidRequest      Kind = "InvalidRequest"
	KindUnauthorized        Kind = "Unauthorized"
	KindInvalidSignature    Kind = "InvalidSignature"
	KindUnknownSession      Kind = "UnknownSession"
	KindConflict            Kind = "Conflict"
	KindProviderUnavailable Kind = "ProviderUnavailable"
	KindNotFound            Kind = "NotFound"
	KindInternal            Kind = "Internal"
)

var httpStatus = map[Kind]int{
	KindSlotConflict:        http.StatusConflict,
	KindSlotUnavailable:     http.StatusUnprocessableEntity,
	KindBookingWindowClosed: http.StatusUnprocessableEntity,
	KindInvalidSlot:         http.StatusBadRequest,
	KindHoldNotFound:        http.StatusNotFound,
	KindHoldExpired:         http.StatusGone,
	KindHoldMismatch:        http.StatusUnprocessableEntity,
	KindInvalidAddOn:        http.StatusUnprocessableEntity,
	KindInvalidAmount:       http.StatusUnprocessableEntity,
	KindInvalidCurrency:     http.StatusUnprocessableEntity,
	KindInvalidRequest:      http.StatusBadRequest,
	KindUnauthorized:        http.StatusUnauthorized,
	KindInvalidSignature:    http.StatusUnauthorized,
	KindUnknownSession:      http.StatusNotFound,
	KindConflict:            http.StatusConflict,
	KindProviderUnavailable: http.StatusServiceUnavailable,
	KindNotFound:            http.StatusNotFound,
	KindInternal:            http.StatusInternalServerError,
}

// HTTPStatus returns the response status for the kind
func (k Kind) HTTPStatus() int {
	if status, ok := httpStatus[k]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Retryable reports whether a caller may retry the same request later
func (k Kind) Retryable() bool {
	return k == KindProviderUnavailable || k == KindInternal
}

// Error is a classified failure. Message is safe to show to API clients.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause
func (e *Error) Unwrap() error {
	return e.cause
}

// WithDetail attaches a key/value pair that is returned to the client
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a classified error
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies cause, recording a stack trace at the wrap site
func Wrap(cause error, kind Kind, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		cause:   errors.WithStackDepth(cause, 1),
	}
}

// Internal wraps an unexpected failure. The message never reaches clients.
func Internal(cause error, format string, args ...any) *Error {
	return &Error{
		Kind:    KindInternal,
		Message: fmt.Sprintf(format, args...),
		cause:   errors.WithStackDepth(cause, 1),
	}
}

// As extracts an *Error from the chain
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindInternal for unclassified errors
func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Verbose renders err with any recorded stack traces for logs
func Verbose(err error) string {
	return fmt.Sprintf("%+v", err)
}
