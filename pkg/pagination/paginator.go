package pagination

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/marketpulse/reportclient/pkg/client"
	"github.com/marketpulse/reportclient/pkg/stream"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Cursor is an opaque server-issued continuation token.
type Cursor string

// Transform rewrites one raw item before it is accumulated or yielded.
// Applying a reducing transform in eager mode bounds peak memory: only the
// transformed items are retained.
type Transform func(json.RawMessage) (json.RawMessage, error)

// Client is the request surface the paginator drives. Implemented by
// *client.Client; each page fetch passes through its concurrency gate and
// retry executor.
type Client interface {
	Do(ctx context.Context, spec client.RequestSpec) (*client.Response, error)
	DoStream(ctx context.Context, spec client.RequestSpec) (io.ReadCloser, error)
}

// Options configures a Paginator.
type Options struct {
	// Request is the endpoint template. Cursor and limit parameters are
	// added per page; the template's own query parameters are preserved.
	Request client.RequestSpec

	// Limit is the page size requested from the server.
	Limit int

	// Cursor is the starting cursor. Defaults to "0" (first page).
	Cursor Cursor

	// CursorField is the item field carrying the continuation cursor.
	CursorField string

	// CursorParam is the query parameter the cursor is sent as.
	CursorParam string

	// LimitParam is the query parameter the page limit is sent as.
	LimitParam string

	// Transform is applied to each item before accumulation or yield.
	Transform Transform
}

// DefaultOptions returns paginator defaults for the report endpoint family:
// 100000-row pages keyed by the rrd_id row cursor.
func DefaultOptions(request client.RequestSpec) Options {
	return Options{
		Request:     request,
		Limit:       100000,
		Cursor:      "0",
		CursorField: "rrd_id",
		CursorParam: "rrdid",
		LimitParam:  "limit",
	}
}

// Page is one response unit: a bounded batch of items plus continuation
// information.
type Page struct {
	Items []json.RawMessage

	// Next is the cursor for the following page. Meaningless when HasMore is
	// false.
	Next Cursor

	// HasMore reports whether the server indicated more data remains.
	HasMore bool
}

// Paginator drives repeated fetches of one logical endpoint, advancing the
// server-issued cursor until completion. Pages are fetched and consumed
// strictly in cursor order.
type Paginator struct {
	client Client
	opts   Options
	logger zerolog.Logger
}

// New creates a Paginator. Zero option fields are filled with the
// DefaultOptions values.
func New(c Client, opts Options) *Paginator {
	if opts.Limit <= 0 {
		opts.Limit = 100000
	}
	if opts.Cursor == "" {
		opts.Cursor = "0"
	}
	if opts.CursorField == "" {
		opts.CursorField = "rrd_id"
	}
	if opts.CursorParam == "" {
		opts.CursorParam = "rrdid"
	}
	if opts.LimitParam == "" {
		opts.LimitParam = "limit"
	}

	return &Paginator{
		client: c,
		opts:   opts,
		logger: log.With().Str("component", "paginator").Logger(),
	}
}

// pageSpec derives the request for one page at the given cursor.
func (p *Paginator) pageSpec(cur Cursor) client.RequestSpec {
	spec := p.opts.Request.CloneQuery()
	spec.Query.Set(p.opts.CursorParam, string(cur))
	spec.Query.Set(p.opts.LimitParam, strconv.Itoa(p.opts.Limit))
	return spec
}

// fetchPage fetches and parses one page. The transform is applied after the
// next cursor is extracted, so transforms may drop the cursor field.
func (p *Paginator) fetchPage(ctx context.Context, cur Cursor) (*Page, error) {
	resp, err := p.client.Do(ctx, p.pageSpec(cur))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusNoContent || len(resp.Body) == 0 {
		return &Page{}, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(resp.Body, &items); err != nil {
		return nil, fmt.Errorf("parse page envelope: %w", err)
	}
	if len(items) == 0 {
		return &Page{}, nil
	}

	next := cur
	if v, ok := stream.FieldString(items[len(items)-1], p.opts.CursorField); ok {
		next = Cursor(v)
	}

	if p.opts.Transform != nil {
		for i, item := range items {
			out, err := p.opts.Transform(item)
			if err != nil {
				return nil, fmt.Errorf("transform item: %w", err)
			}
			items[i] = out
		}
	}

	// A full page with an advancing cursor means more data may remain; a
	// short page or a non-advancing cursor is the end marker.
	hasMore := len(items) == p.opts.Limit && next != cur

	return &Page{Items: items, Next: next, HasMore: hasMore}, nil
}

// FetchAll eagerly fetches every page and concatenates the items in original
// order. The contract is all-or-nothing: on any page failure the pages
// already gathered are discarded and only the error is returned. Callers
// needing partial progress should use Pages or Items instead.
func (p *Paginator) FetchAll(ctx context.Context) ([]json.RawMessage, error) {
	start := time.Now()
	cur := p.opts.Cursor

	var all []json.RawMessage
	pages := 0

	for {
		page, err := p.fetchPage(ctx, cur)
		if err != nil {
			return nil, err
		}
		pages++
		all = append(all, page.Items...)

		if !page.HasMore {
			break
		}
		cur = page.Next
	}

	p.logger.Info().
		Str("endpoint", p.opts.Request.Path).
		Int("pages", pages).
		Int("items", len(all)).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return all, nil
}

// Pages returns a lazy page iterator: forward-only, finite, not restartable.
// A single page-fetch failure stops the iterator with the underlying error;
// pages already delivered stand.
func (p *Paginator) Pages(ctx context.Context) *PageIter {
	return &PageIter{p: p, ctx: ctx, cur: p.opts.Cursor}
}

// PageIter produces one page at a time.
type PageIter struct {
	p    *Paginator
	ctx  context.Context
	cur  Cursor
	page *Page
	err  error
	done bool
}

// Next fetches the next page. It returns false when the sequence is
// exhausted or an error occurred; check Err to distinguish.
func (it *PageIter) Next() bool {
	if it.done || it.err != nil {
		return false
	}

	page, err := it.p.fetchPage(it.ctx, it.cur)
	if err != nil {
		it.err = err
		return false
	}

	it.page = page
	if page.HasMore {
		// The consumed cursor is discarded; only the successor remains.
		it.cur = page.Next
	} else {
		it.done = true
	}

	if len(page.Items) == 0 {
		return false
	}
	return true
}

// Page returns the current page. Valid until the next call to Next.
func (it *PageIter) Page() *Page {
	return it.page
}

// Err returns the error that stopped iteration, nil after normal exhaustion.
func (it *PageIter) Err() error {
	return it.err
}

// Items returns a lazy item iterator that consumes each page's body
// incrementally: at most one page's byte stream is open at a time, and only
// the current (transformed) item is held in memory. The caller must Close
// the iterator when abandoning it early.
func (p *Paginator) Items(ctx context.Context) *ItemIter {
	return &ItemIter{p: p, ctx: ctx, cur: p.opts.Cursor}
}

// ItemIter produces one item at a time across page boundaries.
type ItemIter struct {
	p    *Paginator
	ctx  context.Context
	cur  Cursor
	body io.ReadCloser
	sc   *stream.Scanner
	item json.RawMessage
	err  error
	done bool
}

// Next advances to the next item, fetching the next page transparently when
// the current one is exhausted. It returns false when all pages are consumed
// or an error occurred; check Err to distinguish.
func (it *ItemIter) Next() bool {
	for {
		if it.done || it.err != nil {
			return false
		}

		if it.sc == nil {
			body, err := it.p.client.DoStream(it.ctx, it.p.pageSpec(it.cur))
			if err != nil {
				it.err = err
				it.done = true
				return false
			}
			it.body = body
			it.sc = stream.NewScanner(body, stream.Options{
				CursorField: it.p.opts.CursorField,
				Transform:   stream.Transform(it.p.opts.Transform),
			})
		}

		if it.sc.Next() {
			it.item = it.sc.Item()
			return true
		}

		if err := it.sc.Err(); err != nil {
			it.err = err
			it.closePage()
			it.done = true
			return false
		}

		// Page exhausted cleanly: decide whether another page remains.
		count := it.sc.Count()
		last := Cursor(it.sc.LastCursor())
		it.closePage()

		if count < it.p.opts.Limit || last == "" || last == it.cur {
			it.done = true
			return false
		}
		it.cur = last
	}
}

// Item returns the current item. Valid until the next call to Next.
func (it *ItemIter) Item() json.RawMessage {
	return it.item
}

// Err returns the error that stopped iteration, nil after normal exhaustion.
func (it *ItemIter) Err() error {
	return it.err
}

// Close releases the underlying page stream and its gate slot. Safe to call
// multiple times and after exhaustion.
func (it *ItemIter) Close() error {
	it.done = true
	return it.closePage()
}

func (it *ItemIter) closePage() error {
	if it.body == nil {
		return nil
	}
	err := it.body.Close()
	it.body = nil
	it.sc = nil
	return err
}
