// Package persistence provides standardized error types for storage operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrProxySiteNotFound indicates no proxy site matches the given identifier.
	ErrProxySiteNotFound = errors.New("proxy site not found")

	// ErrDomainAlreadyRegistered indicates an active registration already exists for the domain.
	ErrDomainAlreadyRegistered = errors.New("domain already registered")

	// ErrTierNotFound indicates no subscription tier matches the given name.
	ErrTierNotFound = errors.New("subscription tier not found")

	// ErrEditSessionNotFound indicates no edit session matches the given identifier.
	ErrEditSessionNotFound = errors.New("edit session not found")
)

// SiteError wraps proxy-site errors with operation context.
type SiteError struct {
	Op     string // Operation being performed (e.g., "Save", "RotateKey")
	SiteID string // Site ID if applicable
	Domain string // Domain if applicable
	Err    error  // Underlying error
}

func (e *SiteError) Error() string {
	target := e.SiteID
	if target == "" {
		target = e.Domain
	}

	return fmt.Sprintf("%s operation failed for proxy site %s: %v", e.Op, target, e.Err)
}

func (e *SiteError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for site errors.
func (e *SiteError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewSiteError creates a new site error with context.
func NewSiteError(op, siteID string, err error) *SiteError {
	return &SiteError{
		Op:     op,
		SiteID: siteID,
		Err:    err,
	}
}

// SessionError wraps edit-session errors with operation context.
type SessionError struct {
	Op        string
	SessionID string
	Err       error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("%s operation failed for edit session %s: %v", e.Op, e.SessionID, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

func (e *SessionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsProxySiteNotFound checks if an error indicates a proxy site was not found.
func IsProxySiteNotFound(err error) bool {
	return errors.Is(err, ErrProxySiteNotFound)
}

// IsDomainAlreadyRegistered checks if an error indicates a conflicting active registration.
func IsDomainAlreadyRegistered(err error) bool {
	return errors.Is(err, ErrDomainAlreadyRegistered)
}

// IsTierNotFound checks if an error indicates an unknown subscription tier.
func IsTierNotFound(err error) bool {
	return errors.Is(err, ErrTierNotFound)
}

// IsEditSessionNotFound checks if an error indicates an edit session was not found.
func IsEditSessionNotFound(err error) bool {
	return errors.Is(err, ErrEditSessionNotFound)
}
