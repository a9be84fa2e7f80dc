// Package apperr classifies application failures into the kinds the
// HTTP surfaces translate into statuses and error envelopes.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/webtosite/webtosite/pkg/provider"
)

// Kind names one failure class. The string value is the wire-level
// error type in the {error:{message,type}} envelope.
type Kind string

const (
	KindValidation      Kind = "validation_error"
	KindConfiguration   Kind = "configuration_error"
	KindAuth            Kind = "auth_error"
	KindQuotaExceeded   Kind = "quota_exceeded"
	KindModelNotAllowed Kind = "model_not_allowed"
	KindRateLimited     Kind = "rate_limited"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindUpstream        Kind = "upstream_error"
	KindNotReady        Kind = "not_ready"
	KindCanceled        Kind = "canceled"
	KindInternal        Kind = "internal_error"
)

// StatusClientClosedRequest is the nginx convention for a caller that
// went away before the response.
const StatusClientClosedRequest = 499

// UsageSnapshot rides on quota errors so the caller sees the window
// that rejected the request.
type UsageSnapshot struct {
	Used      int64 `json:"used"`
	Limit     int64 `json:"limit"`
	Remaining int64 `json:"remaining"`
}

// Error is an application failure with a wire classification.
type Error struct {
	Kind    Kind
	Message string
	Usage   *UsageSnapshot
	cause   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// WithUsage attaches the quota window snapshot.
func (e *Error) WithUsage(usage UsageSnapshot) *Error {
	e.Usage = &usage

	return e
}

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error that keeps its cause on the unwrap chain.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// FromProvider classifies a vendor failure for the tenant surface.
// Cancellation keeps its kind; every other vendor failure is an
// upstream error by the time it reaches a caller, since the retry
// envelope has already run.
func FromProvider(err error) *Error {
	if pe, ok := provider.AsError(err); ok {
		if pe.Kind == provider.KindCanceled {
			return Wrap(KindCanceled, pe.VendorMessage, err)
		}

		return Wrap(KindUpstream, pe.Error(), err)
	}

	if errors.Is(err, context.Canceled) {
		return Wrap(KindCanceled, err.Error(), err)
	}

	return Wrap(KindInternal, err.Error(), err)
}

// AsError unwraps err to the application shape when possible.
func AsError(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}

	return nil, false
}

// KindOf reports the kind err carries. Errors outside the application
// shape classify as internal; nil has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	if ae, ok := AsError(err); ok {
		return ae.Kind
	}

	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps a kind onto its response status.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation, KindConfiguration:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindModelNotAllowed:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindQuotaExceeded, KindRateLimited:
		return http.StatusTooManyRequests
	case KindUpstream:
		return http.StatusBadGateway
	case KindNotReady:
		return http.StatusGatewayTimeout
	case KindCanceled:
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}
