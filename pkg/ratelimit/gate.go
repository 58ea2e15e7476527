// Package ratelimit bounds client-side request concurrency so the client
// stays inside the remote API's tolerance. Every request acquires a gate
// slot before it is dispatched and releases it unconditionally afterward,
// so failures and cancellations never leak capacity.
package ratelimit

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// Prometheus metrics for gate admission.
var (
	gateInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "report_client_gate_in_flight",
		Help: "Number of requests currently holding a gate slot",
	})

	gateWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "report_client_gate_wait_seconds",
		Help:    "Time spent waiting for a gate slot",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30},
	})

	gateCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "report_client_gate_cancelled_total",
		Help: "Total acquisitions abandoned due to caller cancellation",
	})
)

// Gate is a counting admission control over in-flight requests. Acquisition
// is FIFO and suspends the caller until a slot frees; there is no bound on
// the number of waiters.
type Gate struct {
	sem      *semaphore.Weighted
	capacity int
	logger   zerolog.Logger
}

// NewGate creates a gate admitting at most capacity concurrent holders.
func NewGate(capacity int, logger zerolog.Logger) *Gate {
	if capacity <= 0 {
		capacity = 10
	}
	return &Gate{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: capacity,
		logger:   logger.With().Str("component", "gate").Logger(),
	}
}

// Capacity returns the configured slot count.
func (g *Gate) Capacity() int {
	return g.capacity
}

// Acquire blocks until a slot is free or ctx is cancelled. On success the
// caller must call Release exactly once, on every path including errors.
func (g *Gate) Acquire(ctx context.Context) error {
	start := time.Now()

	if err := g.sem.Acquire(ctx, 1); err != nil {
		gateCancelledTotal.Inc()
		g.logger.Debug().
			Dur("waited", time.Since(start)).
			Msg("Gate acquisition cancelled")
		return err
	}

	gateWaitSeconds.Observe(time.Since(start).Seconds())
	gateInFlight.Inc()
	return nil
}

// Release frees a slot acquired with Acquire.
func (g *Gate) Release() {
	gateInFlight.Dec()
	g.sem.Release(1)
}
