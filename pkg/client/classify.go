package client

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// Outcome describes how a completed HTTP exchange should be handled.
type Outcome int

const (
	// OutcomeSuccess means the request succeeded (2xx).
	OutcomeSuccess Outcome = iota

	// OutcomeRetryable means the failure is transient and may be retried.
	OutcomeRetryable

	// OutcomeTerminal means the failure is client-caused and must not be
	// retried.
	OutcomeTerminal
)

// Classify maps a completed HTTP exchange to an outcome and, for failures,
// the typed error that should eventually surface to the caller.
//
// Rules, checked in order:
//  1. 2xx            -> success
//  2. 401            -> terminal AuthError (never retried)
//  3. 429            -> retryable RateLimitError, Retry-After honored
//  4. retryOn set    -> retryable APIError (default 500, 502, 503, 504)
//  5. anything else  -> terminal APIError
//
// Classification is pure; the full response body is attached to every error.
func Classify(status int, body []byte, header http.Header, retryOn []int) (Outcome, error) {
	if status >= 200 && status < 300 {
		return OutcomeSuccess, nil
	}

	if status == http.StatusUnauthorized {
		return OutcomeTerminal, &AuthError{Status: status, Body: body}
	}

	if status == http.StatusTooManyRequests {
		return OutcomeRetryable, &RateLimitError{
			Status:     status,
			Body:       body,
			RetryAfter: parseRetryAfter(header.Get("Retry-After")),
		}
	}

	for _, code := range retryOn {
		if status == code {
			return OutcomeRetryable, &APIError{Status: status, Body: body}
		}
	}

	return OutcomeTerminal, &APIError{Status: status, Body: body}
}

// parseRetryAfter parses a Retry-After header value, either delta-seconds or
// an HTTP-date. Returns 0 if the value is absent or unparseable.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	if seconds, err := strconv.ParseFloat(value, 64); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds * float64(time.Second))
	}

	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}

	return 0
}

// apiMessage extracts a human-readable message from an error response body.
// The API reports errors as {"title": "...", ...}; fall back to the bare
// status when the body is empty or not JSON.
func apiMessage(body []byte, status int) string {
	var envelope struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Title != "" {
		return envelope.Title
	}
	return "HTTP " + strconv.Itoa(status)
}
