package client

import (
	"errors"
	"fmt"
	"time"
)

// Common sentinel errors returned by the client.
var (
	// ErrRetryExhausted is wrapped into the final error when all retry
	// attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrCancelled is wrapped into the error returned when the caller cancels
	// an operation at a suspension point: gate acquisition, an in-flight
	// request, or a backoff delay.
	ErrCancelled = errors.New("request cancelled")
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassAuth represents authentication failures (401).
	ErrorClassAuth ErrorClass = "auth"

	// ErrorClassRateLimit represents rate limit failures (429).
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassAPI represents other HTTP-level failures (4xx/5xx).
	ErrorClassAPI ErrorClass = "api"

	// ErrorClassNetwork represents transport failures (network, timeout).
	ErrorClassNetwork ErrorClass = "network"
)

// AuthError is returned for 401 responses. Authentication failures are never
// retried.
type AuthError struct {
	Status int
	Body   []byte
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed (status %d): %s", e.Status, apiMessage(e.Body, e.Status))
}

// RateLimitError is returned for 429 responses. RetryAfter is zero when the
// server sent no Retry-After header.
type RateLimitError struct {
	Status     int
	Body       []byte
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limit exceeded (status %d, retry after %s): %s",
			e.Status, e.RetryAfter, apiMessage(e.Body, e.Status))
	}
	return fmt.Sprintf("rate limit exceeded (status %d): %s", e.Status, apiMessage(e.Body, e.Status))
}

// APIError is returned for any other non-2xx response. Body carries the
// complete original response body so no information is lost.
type APIError struct {
	Status int
	Body   []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.Status, apiMessage(e.Body, e.Status))
}

// TransportError wraps a network-level failure (connection error, timeout).
// Transport errors are treated as transient and retried.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// classOf maps a classified error to its ErrorClass for metrics and logging.
func classOf(err error) ErrorClass {
	var authErr *AuthError
	var rateErr *RateLimitError
	var transportErr *TransportError

	switch {
	case errors.As(err, &authErr):
		return ErrorClassAuth
	case errors.As(err, &rateErr):
		return ErrorClassRateLimit
	case errors.As(err, &transportErr):
		return ErrorClassNetwork
	default:
		return ErrorClassAPI
	}
}
