// Package client provides the core report API client with concurrency-limited
// dispatch, retry with jittered exponential backoff, typed error
// classification, and a rate-ceiling-aware ping cache.
package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/marketpulse/reportclient/pkg/cache"
	"github.com/marketpulse/reportclient/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Prometheus metrics for request operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "report_client_requests_total",
		Help: "Total requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "report_client_request_duration_seconds",
		Help:    "Request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "report_client_errors_total",
		Help: "Total request errors by class",
	}, []string{"class"})
)

// Config holds the client configuration.
type Config struct {
	// BaseURL is the API service base URL (REQUIRED).
	BaseURL string

	// Token is the API authorization token, sent on every request (REQUIRED).
	Token string

	// MaxConcurrent bounds in-flight requests across the whole client.
	MaxConcurrent int

	// Timeout is the per-request timeout for buffered exchanges. A
	// RequestSpec timeout overrides it per call.
	Timeout time.Duration

	// Retry configures the retry/backoff behavior.
	Retry RetryConfig

	// PingPath is the health-check endpoint path.
	PingPath string

	// PingTTL is how long a ping result is served from cache. The remote
	// ceiling on the ping endpoint is 3 requests per 30 seconds.
	PingTTL time.Duration

	// Cache, when set, enables the Redis-backed page cache for GET requests.
	Cache *cache.Manager

	// CacheTTL is the lifetime of cached pages. Ignored when Cache is nil.
	CacheTTL time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL, token string) Config {
	return Config{
		BaseURL:       baseURL,
		Token:         token,
		MaxConcurrent: 10,
		Timeout:       30 * time.Second,
		Retry:         DefaultRetryConfig(),
		PingPath:      "/ping",
		PingTTL:       30 * time.Second,
		CacheTTL:      5 * time.Minute,
	}
}

// Client is the report API client.
type Client struct {
	httpClient   *http.Client
	streamClient *http.Client
	gate         *ratelimit.Gate
	cache        *cache.Manager
	config       Config
	logger       zerolog.Logger

	pingMu    sync.Mutex
	pingValue []byte
	pingAt    time.Time
	pingGroup singleflight.Group
}

// New creates a new report API client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("token is required")
	}
	if cfg.MaxConcurrent == 0 {
		cfg.MaxConcurrent = 10
	}
	if cfg.MaxConcurrent < 0 {
		return nil, fmt.Errorf("max_concurrent must be positive (got %d)", cfg.MaxConcurrent)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.PingPath == "" {
		cfg.PingPath = "/ping"
	}
	if cfg.PingTTL == 0 {
		cfg.PingTTL = 30 * time.Second
	}
	if cfg.Retry.BaseDelay == 0 && cfg.Retry.ExponentialBase == 0 {
		onRetry := cfg.Retry.OnRetry
		cfg.Retry = DefaultRetryConfig()
		cfg.Retry.OnRetry = onRetry
	}
	if cfg.Retry.MaxRetries < 0 {
		return nil, fmt.Errorf("max_retries must be >= 0 (got %d)", cfg.Retry.MaxRetries)
	}
	if cfg.Retry.ExponentialBase <= 1 {
		return nil, fmt.Errorf("exponential_base must be > 1 (got %g)", cfg.Retry.ExponentialBase)
	}
	if cfg.Retry.BaseDelay < 0 {
		return nil, fmt.Errorf("base_delay must be >= 0 (got %v)", cfg.Retry.BaseDelay)
	}
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = 1 * time.Second
	}
	if cfg.Retry.MaxDelay < 0 {
		return nil, fmt.Errorf("max_delay must be >= 0 (got %v)", cfg.Retry.MaxDelay)
	}
	if cfg.Retry.MaxDelay == 0 {
		// A zero cap would clamp every backoff to nothing.
		cfg.Retry.MaxDelay = 60 * time.Second
	}

	logger := log.With().Str("component", "report-client").Logger()

	return &Client{
		// No transport-level timeout: each buffered attempt is bounded by
		// its own context deadline in attempt(), so a RequestSpec timeout
		// can exceed the client default.
		httpClient: &http.Client{},
		// No client-level timeout for streamed bodies: reading a large page
		// may legitimately outlive any fixed deadline. The caller's context
		// bounds it instead.
		streamClient: &http.Client{},
		gate:         ratelimit.NewGate(cfg.MaxConcurrent, logger),
		cache:        cfg.Cache,
		config:       cfg,
		logger:       logger,
	}, nil
}

// Do performs one buffered request through the concurrency gate and the
// retry executor. It returns the response for 2xx statuses and exactly one
// typed error otherwise.
func (c *Client) Do(ctx context.Context, spec RequestSpec) (*Response, error) {
	endpoint := spec.Path

	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}()

	if err := c.gate.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	defer c.gate.Release()

	method := spec.Method
	if method == "" || method == http.MethodGet {
		if entry, ok := c.cacheLookup(ctx, spec); ok {
			return &Response{
				StatusCode: entry.StatusCode,
				Header:     http.Header{},
				Body:       entry.Data,
			}, nil
		}
	}

	resp, err := c.execute(ctx, endpoint, func(ctx context.Context) (*Response, Outcome, error) {
		return c.attempt(ctx, spec)
	})
	if err != nil {
		errorsTotal.WithLabelValues(string(classOf(err))).Inc()
		return nil, err
	}

	c.cacheStore(ctx, spec, resp)
	return resp, nil
}

// attempt performs a single buffered transport exchange and classifies it.
func (c *Client) attempt(ctx context.Context, spec RequestSpec) (*Response, Outcome, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.requestTimeout(spec))
	defer cancel()

	req, err := c.buildRequest(attemptCtx, spec)
	if err != nil {
		// Request construction failures are programmer errors, not transient.
		return nil, OutcomeTerminal, err
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, OutcomeTerminal, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		}
		return nil, OutcomeRetryable, &TransportError{Err: err}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, OutcomeTerminal, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		}
		return nil, OutcomeRetryable, &TransportError{Err: err}
	}

	requestsTotal.WithLabelValues(spec.Path, fmt.Sprintf("%d", httpResp.StatusCode)).Inc()

	outcome, cerr := Classify(httpResp.StatusCode, body, httpResp.Header, c.config.Retry.RetryOnStatuses)
	if outcome != OutcomeSuccess {
		c.logger.Warn().
			Str("endpoint", spec.Path).
			Int("status", httpResp.StatusCode).
			Str("error_class", string(classOf(cerr))).
			Msg("Request error")
		return nil, outcome, cerr
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       body,
	}, OutcomeSuccess, nil
}

// DoStream performs one request and returns the raw response body as a
// stream, for incremental consumption of large pages. The concurrency gate
// slot is held until the returned body is closed. Retries cover the exchange
// up to the point headers are vetted; the body itself is a single forward
// pass.
func (c *Client) DoStream(ctx context.Context, spec RequestSpec) (io.ReadCloser, error) {
	endpoint := spec.Path

	if err := c.gate.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
	}

	var body io.ReadCloser
	_, err := c.execute(ctx, endpoint, func(ctx context.Context) (*Response, Outcome, error) {
		req, err := c.buildRequest(ctx, spec)
		if err != nil {
			return nil, OutcomeTerminal, err
		}

		httpResp, err := c.streamClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, OutcomeTerminal, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
			}
			return nil, OutcomeRetryable, &TransportError{Err: err}
		}

		requestsTotal.WithLabelValues(endpoint, fmt.Sprintf("%d", httpResp.StatusCode)).Inc()

		if httpResp.StatusCode >= 200 && httpResp.StatusCode < 300 {
			body = httpResp.Body
			return &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header}, OutcomeSuccess, nil
		}

		// Failure: the body is small diagnostics, buffer it for the error.
		errBody, _ := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()

		outcome, cerr := Classify(httpResp.StatusCode, errBody, httpResp.Header, c.config.Retry.RetryOnStatuses)
		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", httpResp.StatusCode).
			Str("error_class", string(classOf(cerr))).
			Msg("Stream request error")
		return nil, outcome, cerr
	})
	if err != nil {
		c.gate.Release()
		errorsTotal.WithLabelValues(string(classOf(err))).Inc()
		return nil, err
	}

	return &gatedBody{body: body, release: c.gate.Release}, nil
}

// gatedBody releases the gate slot exactly once when the stream is closed.
type gatedBody struct {
	body    io.ReadCloser
	release func()
	once    sync.Once
}

func (b *gatedBody) Read(p []byte) (int, error) {
	return b.body.Read(p)
}

func (b *gatedBody) Close() error {
	err := b.body.Close()
	b.once.Do(b.release)
	return err
}

// cacheLookup returns a cached page for a GET spec, if the cache is enabled
// and holds a fresh entry.
func (c *Client) cacheLookup(ctx context.Context, spec RequestSpec) (*cache.Entry, bool) {
	if c.cache == nil {
		return nil, false
	}

	key := cache.Key{Path: spec.Path, Query: spec.Query}
	entry, err := c.cache.Get(ctx, key)
	if err != nil {
		if err != cache.ErrCacheMiss {
			c.logger.Warn().Err(err).Str("endpoint", spec.Path).Msg("Cache get error")
		}
		return nil, false
	}

	c.logger.Debug().
		Str("endpoint", spec.Path).
		Dur("ttl", entry.TTL()).
		Msg("Serving page from cache")
	return entry, true
}

// cacheStore caches a successful GET response under the configured TTL.
func (c *Client) cacheStore(ctx context.Context, spec RequestSpec, resp *Response) {
	if c.cache == nil || c.config.CacheTTL <= 0 {
		return
	}
	if spec.Method != "" && spec.Method != http.MethodGet {
		return
	}
	if resp.StatusCode != http.StatusOK {
		return
	}

	now := time.Now()
	entry := &cache.Entry{
		Data:       resp.Body,
		StatusCode: resp.StatusCode,
		StoredAt:   now,
		Expires:    now.Add(c.config.CacheTTL),
	}

	key := cache.Key{Path: spec.Path, Query: spec.Query}
	if err := c.cache.Set(ctx, key, entry); err != nil {
		c.logger.Warn().Err(err).Str("endpoint", spec.Path).Msg("Failed to cache page")
		return
	}

	c.logger.Debug().
		Str("endpoint", spec.Path).
		Dur("ttl", c.config.CacheTTL).
		Msg("Cached page")
}

// SetHTTPClient sets custom HTTP clients for buffered and streamed
// exchanges (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
	c.streamClient = client
}
