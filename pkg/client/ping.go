package client

import (
	"context"
	"encoding/json"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the ping cache.
var (
	pingCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "report_client_ping_cache_hits_total",
		Help: "Total ping calls served from the cache without a network call",
	})

	pingRefreshes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "report_client_ping_refreshes_total",
		Help: "Total ping refreshes that reached the remote endpoint",
	})
)

// Ping checks service availability. Results are cached for PingTTL (30s by
// default) because the remote ceiling on this endpoint is 3 requests per 30
// seconds. Concurrent callers during a refresh share one underlying request.
func (c *Client) Ping(ctx context.Context) (json.RawMessage, error) {
	if value, ok := c.cachedPing(); ok {
		pingCacheHits.Inc()
		return value, nil
	}

	v, err, _ := c.pingGroup.Do("ping", func() (any, error) {
		// Another caller may have refreshed while we waited for the flight.
		if value, ok := c.cachedPing(); ok {
			return value, nil
		}

		pingRefreshes.Inc()
		// The flight is shared: it must not die with the one caller that
		// happened to initiate it.
		resp, err := c.Do(context.WithoutCancel(ctx), RequestSpec{Path: c.config.PingPath})
		if err != nil {
			return nil, err
		}

		c.pingMu.Lock()
		c.pingValue = resp.Body
		c.pingAt = time.Now()
		c.pingMu.Unlock()

		c.logger.Debug().Str("endpoint", c.config.PingPath).Msg("Ping cache refreshed")
		return resp.Body, nil
	})
	if err != nil {
		return nil, err
	}

	return json.RawMessage(v.([]byte)), nil
}

// cachedPing returns the cached ping value while it is younger than PingTTL.
func (c *Client) cachedPing() ([]byte, bool) {
	c.pingMu.Lock()
	defer c.pingMu.Unlock()

	if c.pingValue == nil || time.Since(c.pingAt) >= c.config.PingTTL {
		return nil, false
	}
	return c.pingValue, true
}
