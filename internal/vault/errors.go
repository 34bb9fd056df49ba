// Package vault provides an HTTP client for the AnonFS vault API with
// automatic retry, bearer authentication, and error classification.
package vault

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, vault.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("vault: bad request")
	ErrUnauthorized = errors.New("vault: unauthorized")
	ErrForbidden    = errors.New("vault: forbidden")
	ErrNotFound     = errors.New("vault: not found")
	ErrConflict     = errors.New("vault: conflict")
	ErrThrottled    = errors.New("vault: throttled")
	ErrServerError  = errors.New("vault: server error")

	// ErrUnreachable wraps network-level failures so callers can surface
	// "could not reach backend" distinctly from HTTP errors.
	ErrUnreachable = errors.New("vault: server unreachable")

	// ErrInvalidCredentials is returned by Login on HTTP 401.
	ErrInvalidCredentials = errors.New("vault: invalid username or password")

	// ErrEndpointNotFound is returned by Login on HTTP 404, which almost
	// always means a misconfigured server URL rather than a missing user.
	ErrEndpointNotFound = errors.New("vault: login endpoint not found (check server URL)")
)

// APIError wraps a sentinel error with the HTTP status code and the error
// message body returned by the vault API.
type APIError struct {
	StatusCode int
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vault: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// ValidationError carries the field-to-messages mapping returned by the
// register endpoint on HTTP 400. Message() concatenates all field messages
// into a single display string, matching how the vault UI reports them.
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	return "vault: validation failed: " + e.Message()
}

// Message joins every field's messages in field-name order so the output
// is deterministic.
func (e *ValidationError) Message() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}

	sort.Strings(names)

	var parts []string
	for _, name := range names {
		parts = append(parts, e.Fields[name]...)
	}

	return strings.Join(parts, " ")
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryable reports whether the given HTTP status code should be retried.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
