// Package provider defines the uniform error shape and retry policy
// shared by every outbound vendor client.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies a vendor failure independent of the vendor's
// own error vocabulary.
type ErrorKind string

const (
	KindNetwork         ErrorKind = "network"
	KindTimeout         ErrorKind = "timeout"
	KindAuth            ErrorKind = "auth"
	KindNotFound        ErrorKind = "not_found"
	KindConflict        ErrorKind = "conflict"
	KindRateLimited     ErrorKind = "rate_limited"
	KindQuotaExceeded   ErrorKind = "quota_exceeded"
	KindUpstreamInvalid ErrorKind = "upstream_invalid"
	KindUpstreamFailure ErrorKind = "upstream_failure"
	KindCanceled        ErrorKind = "canceled"
)

// Error is the failure shape every vendor client returns. Callers
// branch on Kind and Retryable, never on vendor-specific payloads.
type Error struct {
	Vendor        string    `json:"vendor"`
	Kind          ErrorKind `json:"kind"`
	HTTPStatus    int       `json:"httpStatus,omitempty"`
	VendorMessage string    `json:"vendorMessage,omitempty"`
	Retryable     bool      `json:"retryable"`
}

func (e *Error) Error() string {
	if e.HTTPStatus > 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Vendor, e.Kind, e.HTTPStatus, e.VendorMessage)
	}

	return fmt.Sprintf("%s: %s: %s", e.Vendor, e.Kind, e.VendorMessage)
}

func retryableKind(kind ErrorKind) bool {
	switch kind {
	case KindNetwork, KindTimeout, KindRateLimited, KindUpstreamFailure:
		return true
	default:
		return false
	}
}

// NewError builds an Error with Retryable derived from the kind.
func NewError(vendor string, kind ErrorKind, status int, message string) *Error {
	return &Error{
		Vendor:        vendor,
		Kind:          kind,
		HTTPStatus:    status,
		VendorMessage: message,
		Retryable:     retryableKind(kind),
	}
}

// FromStatus maps an upstream HTTP status to the uniform shape.
func FromStatus(vendor string, status int, message string) *Error {
	var kind ErrorKind

	switch {
	case status == 401 || status == 403:
		kind = KindAuth
	case status == 402:
		kind = KindQuotaExceeded
	case status == 404:
		kind = KindNotFound
	case status == 408:
		kind = KindTimeout
	case status == 409:
		kind = KindConflict
	case status == 429:
		kind = KindRateLimited
	case status >= 500:
		kind = KindUpstreamFailure
	default:
		kind = KindUpstreamInvalid
	}

	return NewError(vendor, kind, status, message)
}

// FromTransport maps a transport-level failure (refused connection,
// DNS, deadline) to the uniform shape.
func FromTransport(vendor string, err error) *Error {
	switch {
	case errors.Is(err, context.Canceled):
		return NewError(vendor, KindCanceled, 0, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return NewError(vendor, KindTimeout, 0, err.Error())
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewError(vendor, KindTimeout, 0, err.Error())
	}

	return NewError(vendor, KindNetwork, 0, err.Error())
}

// AsError unwraps err to the uniform shape when possible.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}

	return nil, false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	if pe, ok := AsError(err); ok {
		return pe.Kind == kind
	}

	return false
}

// IsRetryable reports whether err may be retried. Errors outside the
// uniform shape are never retried.
func IsRetryable(err error) bool {
	if pe, ok := AsError(err); ok {
		return pe.Retryable
	}

	return false
}
