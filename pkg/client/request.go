package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RequestSpec describes one logical API call. It is a value type constructed
// per call; the client never mutates it.
type RequestSpec struct {
	// Method is the HTTP method. Defaults to GET when empty.
	Method string

	// Path is the endpoint path, e.g. "/api/v5/supplier/reportDetailByPeriod".
	Path string

	// Query holds the query parameters.
	Query url.Values

	// Body is the JSON request body, nil for body-less requests.
	Body []byte

	// Timeout overrides the client's per-request timeout when > 0. It bounds
	// a single transport attempt, independent of the retry budget.
	Timeout time.Duration
}

// Response is one buffered HTTP exchange result.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// CloneQuery returns a copy of the request with an independent Query, so callers
// can derive per-page requests without sharing state.
func (s RequestSpec) CloneQuery() RequestSpec {
	q := make(url.Values, len(s.Query))
	for k, vs := range s.Query {
		q[k] = append([]string(nil), vs...)
	}
	s.Query = q
	return s
}

// buildRequest constructs the http.Request for one attempt. Construction
// failures are programmer errors and are not retried.
func (c *Client) buildRequest(ctx context.Context, spec RequestSpec) (*http.Request, error) {
	method := spec.Method
	if method == "" {
		method = http.MethodGet
	}

	u := strings.TrimRight(c.config.BaseURL, "/") + spec.Path
	if len(spec.Query) > 0 {
		u += "?" + spec.Query.Encode()
	}

	var body io.Reader
	if spec.Body != nil {
		body = bytes.NewReader(spec.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", c.config.Token)
	req.Header.Set("Accept", "application/json")
	if spec.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return req, nil
}

// requestTimeout returns the per-attempt timeout for a spec.
func (c *Client) requestTimeout(spec RequestSpec) time.Duration {
	if spec.Timeout > 0 {
		return spec.Timeout
	}
	return c.config.Timeout
}
