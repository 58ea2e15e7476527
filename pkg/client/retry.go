package client

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "report_client_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "report_client_retry_backoff_seconds",
		Help:    "Backoff duration before retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "report_client_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// RetryConfig holds the configuration for automatic retry with exponential
// backoff.
type RetryConfig struct {
	// MaxRetries is the maximum number of retries after the initial attempt.
	MaxRetries int

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the computed backoff delay.
	MaxDelay time.Duration

	// ExponentialBase is the multiplier for exponential backoff. Must be > 1.
	ExponentialBase float64

	// Jitter randomizes delays to avoid thundering-herd retries across
	// concurrent callers.
	Jitter bool

	// RetryOnStatuses are the HTTP status codes retried in addition to 429.
	RetryOnStatuses []int

	// OnRetry, when set, is called before each backoff wait with the attempt
	// number, the computed delay, and the error that triggered the retry.
	// It is advisory only: it must not block, and a panic inside it does not
	// abort the retry loop.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      5,
		BaseDelay:       1 * time.Second,
		MaxDelay:        60 * time.Second,
		ExponentialBase: 2.0,
		Jitter:          true,
		RetryOnStatuses: []int{429, 500, 502, 503, 504},
	}
}

// Delay computes the backoff before retry attempt n (attempt >= 1):
//
//	min(MaxDelay, BaseDelay * ExponentialBase^(attempt-1))
//
// With jitter enabled the clamped delay is multiplied by a uniform factor in
// [0.5, 1.0).
func (c RetryConfig) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(c.BaseDelay) * math.Pow(c.ExponentialBase, float64(attempt-1))
	if delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}
	if c.Jitter {
		delay *= 0.5 + rand.Float64()*0.5
	}
	return time.Duration(delay)
}

// attemptFunc performs one transport exchange and returns the classified
// result: resp is non-nil on success, err is the typed failure otherwise.
type attemptFunc func(ctx context.Context) (resp *Response, outcome Outcome, err error)

// execute runs one logical request through the retry loop: up to
// MaxRetries+1 attempts, terminal failures returned immediately, retryable
// failures retried after a backoff. An explicit server Retry-After takes
// precedence over the computed delay.
func (c *Client) execute(ctx context.Context, endpoint string, attempt attemptFunc) (*Response, error) {
	cfg := c.config.Retry
	var lastErr error

	for n := 1; n <= cfg.MaxRetries+1; n++ {
		resp, outcome, err := attempt(ctx)

		switch outcome {
		case OutcomeSuccess:
			if n > 1 {
				c.logger.Info().
					Str("endpoint", endpoint).
					Int("attempt", n).
					Msg("Request succeeded after retry")
			}
			return resp, nil

		case OutcomeTerminal:
			return nil, err
		}

		lastErr = err

		if n > cfg.MaxRetries {
			break
		}

		delay := cfg.Delay(n)
		var rateErr *RateLimitError
		if errors.As(lastErr, &rateErr) && rateErr.RetryAfter > 0 {
			// Server-directed backoff wins over the computed delay.
			delay = rateErr.RetryAfter
		}

		class := classOf(lastErr)
		retriesTotal.WithLabelValues(string(class)).Inc()
		retryBackoffSeconds.WithLabelValues(string(class)).Observe(delay.Seconds())

		notifyRetry(cfg.OnRetry, n, delay, lastErr)

		c.logger.Debug().
			Str("endpoint", endpoint).
			Str("error_class", string(class)).
			Int("attempt", n).
			Dur("backoff", delay).
			Msg("Retrying request after backoff")

		select {
		case <-ctx.Done():
			c.logger.Warn().
				Str("endpoint", endpoint).
				Int("attempt", n).
				Msg("Context cancelled during retry backoff")
			return nil, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		case <-time.After(delay):
		}
	}

	class := classOf(lastErr)
	retryExhaustedTotal.WithLabelValues(string(class)).Inc()
	c.logger.Warn().
		Str("endpoint", endpoint).
		Str("error_class", string(class)).
		Int("attempts", cfg.MaxRetries+1).
		Msg("Retry attempts exhausted")

	return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, cfg.MaxRetries+1, lastErr)
}

// notifyRetry invokes the retry observer, isolating the retry loop from
// panics in caller-supplied code.
func notifyRetry(fn func(int, time.Duration, error), attempt int, delay time.Duration, err error) {
	if fn == nil {
		return
	}
	defer func() {
		// The observer is advisory only; swallow its panics.
		_ = recover()
	}()
	fn(attempt, delay, err)
}
