// Package assistant – errors.go defines the error taxonomy for the
// orchestration engine and the HTTP error classification used by the
// remote client's retry policy.
package assistant

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorKind classifies remote API failures for retry decisions.
type ErrorKind int

const (
	ErrKindRetryable  ErrorKind = iota // transient 5xx / network-class
	ErrKindRateLimit                   // 429, respect Retry-After
	ErrKindAuth                        // 401, 403: bad credentials, never retried
	ErrKindBadRequest                  // non-429 4xx, never retried
	ErrKindFatal                       // everything else
)

// String returns a human-readable label for the error kind.
func (k ErrorKind) String() string {
	switch k {
	case ErrKindRetryable:
		return "retryable"
	case ErrKindRateLimit:
		return "rate_limit"
	case ErrKindAuth:
		return "auth"
	case ErrKindBadRequest:
		return "bad_request"
	case ErrKindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Retryable reports whether the kind warrants another attempt.
func (k ErrorKind) Retryable() bool {
	return k == ErrKindRetryable || k == ErrKindRateLimit
}

// APIError captures HTTP status, response body, and the optional
// Retry-After hint from a failed remote call.
type APIError struct {
	StatusCode    int
	Body          string
	RetryAfterSec int // from Retry-After header, 0 if not set
}

func (e *APIError) Error() string {
	return fmt.Sprintf("remote API returned %d: %s", e.StatusCode, truncate(e.Body, 200))
}

// Kind classifies the error for the retry policy.
func (e *APIError) Kind() ErrorKind {
	return classifyStatus(e.StatusCode, e.Body)
}

// classifyStatus maps an HTTP status code and response body to an
// ErrorKind. The body is checked for rate-limit wording because some
// providers return 5xx with a rate-limit message.
func classifyStatus(statusCode int, body string) ErrorKind {
	bodyLower := strings.ToLower(body)

	if statusCode == 429 ||
		strings.Contains(bodyLower, "rate_limit") ||
		strings.Contains(bodyLower, "rate limit") ||
		strings.Contains(bodyLower, "too many requests") {
		return ErrKindRateLimit
	}

	switch {
	case statusCode == 401 || statusCode == 403:
		return ErrKindAuth
	case statusCode >= 400 && statusCode < 500:
		return ErrKindBadRequest
	case statusCode >= 500:
		return ErrKindRetryable
	default:
		return ErrKindFatal
	}
}

// AuthError signals invalid or expired credentials. Never retried.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("authentication failed: %v", e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

// RunFailedError carries the remote-side run failure detail.
type RunFailedError struct {
	ThreadID string
	RunID    string
	Status   string
	Detail   string
}

func (e *RunFailedError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("run %s on thread %s failed (%s): %s", e.RunID, e.ThreadID, e.Status, e.Detail)
	}
	return fmt.Sprintf("run %s on thread %s failed (%s)", e.RunID, e.ThreadID, e.Status)
}

// RunTimeoutError signals that a run did not reach a terminal state
// within the bounded wait.
type RunTimeoutError struct {
	ThreadID string
	RunID    string
	Waited   time.Duration
}

func (e *RunTimeoutError) Error() string {
	return fmt.Sprintf("run %s on thread %s did not complete within %s", e.RunID, e.ThreadID, e.Waited)
}

// DuplicateThreadError signals a second registration for an external id.
// Benign: the orchestrator resolves it by reusing the existing record.
type DuplicateThreadError struct {
	ExternalID string
}

func (e *DuplicateThreadError) Error() string {
	return fmt.Sprintf("thread already registered for conversation %q", e.ExternalID)
}

// ErrThreadNotFound is returned when a cursor advance targets an
// unknown conversation.
var ErrThreadNotFound = errors.New("thread not found")

// truncate limits s to max bytes, appending an ellipsis when cut.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
