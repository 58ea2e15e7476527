// Package pagination drives cursor-based retrieval of paginated report
// endpoints.
//
// The report API pages by row cursor: each item carries an rrd_id-style
// field, and the next page is requested with the cursor of the last row
// received. A page shorter than the requested limit, an empty page, or a
// non-advancing cursor marks the end of the data.
//
// Example usage:
//
//	p := pagination.New(apiClient, pagination.DefaultOptions(client.RequestSpec{
//		Path:  "/api/v5/supplier/reportDetailByPeriod",
//		Query: url.Values{"dateFrom": {"2024-01-01"}, "dateTo": {"2024-01-31"}},
//	}))
//
//	rows, err := p.FetchAll(ctx) // eager, all-or-nothing
//
//	it := p.Items(ctx) // lazy, byte-streamed, one item at a time
//	defer it.Close()
//	for it.Next() {
//		process(it.Item())
//	}
//	if err := it.Err(); err != nil {
//		...
//	}
//
// Every page fetch passes through the client's concurrency gate and retry
// executor. Pages are fetched strictly in cursor order; there is no parallel
// prefetch.
package pagination
