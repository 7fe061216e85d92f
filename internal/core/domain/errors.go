package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrRunInProgress indicates a run is already active for this store.
	ErrRunInProgress = errors.New("run in progress")

	// ErrConfiguration indicates the configuration is missing required fields.
	// Fatal at startup.
	ErrConfiguration = errors.New("configuration error")

	// Authentication Errors.

	// ErrInvalidSecret indicates a one-time-code secret could not be decoded.
	ErrInvalidSecret = errors.New("invalid one-time-code secret")

	// ErrAuthenticationFailed indicates the portal rejected the credential or
	// the one-time code. Not retried further.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrAuthenticationUnavailable indicates authentication could not complete
	// because of transport failures, after bounded retries.
	ErrAuthenticationUnavailable = errors.New("authentication unavailable")

	// ErrCredentialsRejected is returned by portal transports when the
	// username/password step is refused.
	ErrCredentialsRejected = errors.New("credentials rejected")

	// ErrCodeRejected is returned by portal transports when the one-time code
	// is refused.
	ErrCodeRejected = errors.New("one-time code rejected")

	// Fetch Errors.

	// ErrNotAuthorized indicates the session expired mid-fetch.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrCaseNotFound indicates the case number is unknown to the portal.
	ErrCaseNotFound = errors.New("case not found")

	// ErrTransient indicates a network or server failure worth retrying.
	ErrTransient = errors.New("transient failure")

	// ErrMalformedResponse indicates the payload did not parse as a status document.
	ErrMalformedResponse = errors.New("malformed response")
)

// PortalError represents a non-success response from the portal.
type PortalError struct {
	StatusCode int
	Message    string
	URL        string
}

func (e *PortalError) Error() string {
	return fmt.Sprintf("portal: status %d: %s (URL: %s)", e.StatusCode, e.Message, e.URL)
}

// Unwrap maps the status code onto the fetch error taxonomy.
func (e *PortalError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return ErrNotAuthorized
	case e.StatusCode == http.StatusNotFound:
		return ErrCaseNotFound
	case e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500:
		return ErrTransient
	default:
		return ErrMalformedResponse
	}
}

// MalformedResponseError carries a reference to the payload that failed to
// parse so it can be diagnosed from the logs.
type MalformedResponseError struct {
	CaseNumber string
	Length     int
	Digest     string
	Excerpt    string
	Err        error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed response for %s (%d bytes, sha256 %s): %v",
		e.CaseNumber, e.Length, e.Digest, e.Err)
}

// Unwrap lets errors.Is match ErrMalformedResponse.
func (e *MalformedResponseError) Unwrap() []error {
	return []error{ErrMalformedResponse, e.Err}
}

// ConfigError names the configuration field that failed validation.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is match ErrConfiguration.
func (e *ConfigError) Unwrap() error {
	return ErrConfiguration
}

// IsRetryable reports whether a fetch error may succeed on a later attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}
