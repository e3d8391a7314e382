// Package gmail provides an HTTP client for the Gmail REST API with
// automatic retry, rate limiting, and error classification, plus the
// OAuth2 token-endpoint operations the lifecycle engine drives.
package gmail

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, gmail.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("gmail: bad request")
	ErrUnauthorized = errors.New("gmail: unauthorized")
	ErrForbidden    = errors.New("gmail: forbidden")
	ErrNotFound     = errors.New("gmail: not found")
	ErrConflict     = errors.New("gmail: conflict")
	ErrGone         = errors.New("gmail: resource gone")
	ErrThrottled    = errors.New("gmail: throttled")
	ErrServerError  = errors.New("gmail: server error")

	// ErrInvalidGrant means the refresh token is expired or revoked.
	// Returned by the token endpoint, never retried — the user must
	// re-authorize.
	ErrInvalidGrant = errors.New("gmail: invalid grant")

	// ErrUnreachable means a network failure or timeout outlived the
	// client's retries. Same class as a 5xx: the provider may recover.
	ErrUnreachable = errors.New("gmail: provider unreachable")
)

// APIError wraps a sentinel error with HTTP status code, request ID,
// and the API error message body for debugging.
type APIError struct {
	StatusCode int
	RequestID  string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("gmail: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, e.Message)
	}

	return fmt.Sprintf("gmail: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
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
	case http.StatusGone:
		return ErrGone
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

// IsTransient reports whether err is worth retrying with backoff:
// network failures, timeouts, throttling, and provider 5xx responses.
// Authorization failures and invariant violations are not transient.
func IsTransient(err error) bool {
	return errors.Is(err, ErrThrottled) || errors.Is(err, ErrServerError) ||
		errors.Is(err, ErrUnreachable)
}
