package services

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrNotFound is returned when an entity is absent or not owned by the caller.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is returned for missing or invalid credentials.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when the caller may not perform the action.
	ErrForbidden = errors.New("forbidden")
)

// ValidationError reports malformed or missing input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// PolicyError reports a business rule violation. UnlockDate is set when the
// rule stops applying at a known date.
type PolicyError struct {
	Reason     string
	UnlockDate *time.Time
	// Code is the HTTP status the violation maps to.
	Code int
}

func (e *PolicyError) Error() string {
	if e.UnlockDate != nil {
		return fmt.Sprintf("%s (possible à partir du %s)", e.Reason, e.UnlockDate.Format("02/01/2006"))
	}
	return e.Reason
}

// Status returns the HTTP status of the violation, 400 by default.
func (e *PolicyError) Status() int {
	if e.Code == 0 {
		return http.StatusBadRequest
	}
	return e.Code
}

// UpstreamError wraps a failure of a third-party collaborator.
type UpstreamError struct {
	Provider string
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }
