package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Key uniquely identifies a cached page response.
type Key struct {
	// Path is the endpoint path (e.g. "/api/v5/supplier/reportDetailByPeriod").
	Path string

	// Query holds the request's query parameters.
	Query url.Values
}

// String generates a deterministic cache key string.
// Format: report:endpoint:param1=val1:param2=val2
//
// Example:
//
//	report:api/v5/supplier/reportDetailByPeriod:dateFrom=2024-01-01:limit=100000
func (k Key) String() string {
	parts := []string{"report"}

	path := strings.Trim(k.Path, "/")
	if path != "" {
		parts = append(parts, path)
	}

	if len(k.Query) > 0 {
		keys := make([]string, 0, len(k.Query))
		for key := range k.Query {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", key, k.Query.Get(key)))
		}
	}

	return strings.Join(parts, ":")
}
