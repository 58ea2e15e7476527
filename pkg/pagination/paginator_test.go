package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/marketpulse/reportclient/internal/testutil"
	"github.com/marketpulse/reportclient/pkg/client"
)

func newPaginatorClient(t *testing.T, mock *testutil.MockAPI) *client.Client {
	t.Helper()

	c, err := client.New(client.Config{
		BaseURL: mock.URL(),
		Token:   "test-token",
		Retry: client.RetryConfig{
			MaxRetries:      1,
			BaseDelay:       1 * time.Millisecond,
			MaxDelay:        10 * time.Millisecond,
			ExponentialBase: 2.0,
			RetryOnStatuses: []int{429, 500, 502, 503, 504},
		},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func reportOptions(limit int) Options {
	opts := DefaultOptions(client.RequestSpec{Path: "/report"})
	opts.Limit = limit
	return opts
}

// rrdIDs decodes the rrd_id of every item, preserving order.
func rrdIDs(t *testing.T, items []json.RawMessage) []int {
	t.Helper()

	ids := make([]int, 0, len(items))
	for _, item := range items {
		var row struct {
			RrdID int `json:"rrd_id"`
		}
		if err := json.Unmarshal(item, &row); err != nil {
			t.Fatalf("decoding item %s: %v", item, err)
		}
		ids = append(ids, row.RrdID)
	}
	return ids
}

func TestFetchAll(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetHandler("/report", testutil.ReportHandler(12))

	p := New(newPaginatorClient(t, mock), reportOptions(5))

	items, err := p.FetchAll(context.Background())
	if err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}

	ids := rrdIDs(t, items)
	if len(ids) != 12 {
		t.Fatalf("items = %d, want 12", len(ids))
	}
	for i, id := range ids {
		if id != i+1 {
			t.Errorf("ids[%d] = %d, want %d (original order)", i, id, i+1)
		}
	}

	// Two full pages, one short page.
	if got := mock.PathCount("/report"); got != 3 {
		t.Errorf("page fetches = %d, want 3", got)
	}
}

func TestFetchAll_ExactMultipleOfLimit(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetHandler("/report", testutil.ReportHandler(10))

	p := New(newPaginatorClient(t, mock), reportOptions(5))

	items, err := p.FetchAll(context.Background())
	if err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}
	if len(items) != 10 {
		t.Errorf("items = %d, want 10", len(items))
	}

	// Two full pages plus one 204 probe: a full final page cannot be
	// distinguished from a mid-sequence page.
	if got := mock.PathCount("/report"); got != 3 {
		t.Errorf("page fetches = %d, want 3", got)
	}
}

func TestFetchAll_EmptyDataset(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetHandler("/report", testutil.ReportHandler(0))

	p := New(newPaginatorClient(t, mock), reportOptions(5))

	items, err := p.FetchAll(context.Background())
	if err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("items = %d, want 0", len(items))
	}
	if got := mock.PathCount("/report"); got != 1 {
		t.Errorf("page fetches = %d, want 1", got)
	}
}

func TestFetchAll_AllOrNothing(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	// First page succeeds, every later page fails hard.
	rows := testutil.ReportHandler(10)
	mock.SetHandler("/report", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("rrdid") == "0" {
			rows(w, r)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"title": "backend down"}`)
	})

	p := New(newPaginatorClient(t, mock), reportOptions(5))

	items, err := p.FetchAll(context.Background())
	if err == nil {
		t.Fatal("expected error from the failing second page")
	}
	if items != nil {
		t.Errorf("items = %d, want none (partial progress is discarded)", len(items))
	}
	if !errors.Is(err, client.ErrRetryExhausted) {
		t.Errorf("err = %v, want to wrap ErrRetryExhausted", err)
	}
}

func TestFetchAll_Transform(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetHandler("/report", testutil.ReportHandler(7))

	opts := reportOptions(5)
	opts.Transform = func(raw json.RawMessage) (json.RawMessage, error) {
		// Keep only the subject, dropping the cursor field among others.
		var row struct {
			Subject string `json:"subject_name"`
		}
		if err := json.Unmarshal(raw, &row); err != nil {
			return nil, err
		}
		return json.Marshal(map[string]string{"subject": row.Subject})
	}

	p := New(newPaginatorClient(t, mock), opts)

	items, err := p.FetchAll(context.Background())
	if err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}
	if len(items) != 7 {
		t.Fatalf("items = %d, want 7 (transform must not break pagination)", len(items))
	}
	if string(items[0]) != `{"subject":"item-1"}` {
		t.Errorf("items[0] = %s", items[0])
	}
}

func TestFetchAll_TransformError(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetHandler("/report", testutil.ReportHandler(3))

	boom := errors.New("bad row")
	opts := reportOptions(5)
	opts.Transform = func(json.RawMessage) (json.RawMessage, error) {
		return nil, boom
	}

	p := New(newPaginatorClient(t, mock), opts)

	if _, err := p.FetchAll(context.Background()); !errors.Is(err, boom) {
		t.Errorf("err = %v, want to wrap the transform error", err)
	}
}

func TestFetchAll_NonAdvancingCursorTerminates(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	// A buggy server that always serves the same full page.
	mock.SetResponse("/report", testutil.MockResponse{
		StatusCode: 200,
		Body:       `[{"rrd_id": 1}, {"rrd_id": 2}]`,
	})

	p := New(newPaginatorClient(t, mock), reportOptions(2))

	items, err := p.FetchAll(context.Background())
	if err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}
	if len(items) != 4 {
		t.Errorf("items = %d, want 4 (two fetches, then the stuck cursor ends the run)", len(items))
	}
	if got := mock.PathCount("/report"); got != 2 {
		t.Errorf("page fetches = %d, want 2, not an infinite loop", got)
	}
}

func TestPages(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetHandler("/report", testutil.ReportHandler(12))

	p := New(newPaginatorClient(t, mock), reportOptions(5))

	var sizes []int
	it := p.Pages(context.Background())
	for it.Next() {
		sizes = append(sizes, len(it.Page().Items))
	}
	if err := it.Err(); err != nil {
		t.Fatalf("Err = %v", err)
	}

	want := []int{5, 5, 2}
	if len(sizes) != len(want) {
		t.Fatalf("pages = %v, want %v", sizes, want)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Errorf("page %d size = %d, want %d", i, sizes[i], want[i])
		}
	}
}

func TestPages_EmptyDataset(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetHandler("/report", testutil.ReportHandler(0))

	p := New(newPaginatorClient(t, mock), reportOptions(5))

	it := p.Pages(context.Background())
	if it.Next() {
		t.Error("Next returned true for an empty dataset")
	}
	if err := it.Err(); err != nil {
		t.Errorf("Err = %v, want nil", err)
	}
}

func TestPages_ErrorStopsIteration(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	rows := testutil.ReportHandler(10)
	mock.SetHandler("/report", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("rrdid") == "0" {
			rows(w, r)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"title": "token expired"}`)
	})

	p := New(newPaginatorClient(t, mock), reportOptions(5))

	it := p.Pages(context.Background())
	if !it.Next() {
		t.Fatalf("first page failed: %v", it.Err())
	}
	if got := len(it.Page().Items); got != 5 {
		t.Errorf("first page size = %d, want 5", got)
	}

	if it.Next() {
		t.Error("Next returned true after the failing page")
	}
	var authErr *client.AuthError
	if !errors.As(it.Err(), &authErr) {
		t.Errorf("Err = %v, want *AuthError", it.Err())
	}
}

func TestItems(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetHandler("/report", testutil.ReportHandler(12))

	p := New(newPaginatorClient(t, mock), reportOptions(5))

	it := p.Items(context.Background())
	defer it.Close()

	var items []json.RawMessage
	for it.Next() {
		// Item is only valid until the next advance.
		items = append(items, append(json.RawMessage(nil), it.Item()...))
	}
	if err := it.Err(); err != nil {
		t.Fatalf("Err = %v", err)
	}

	ids := rrdIDs(t, items)
	if len(ids) != 12 {
		t.Fatalf("items = %d, want 12", len(ids))
	}
	for i, id := range ids {
		if id != i+1 {
			t.Errorf("ids[%d] = %d, want %d", i, id, i+1)
		}
	}
	if got := mock.PathCount("/report"); got != 3 {
		t.Errorf("page fetches = %d, want 3", got)
	}
}

func TestItems_Transform(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetHandler("/report", testutil.ReportHandler(6))

	opts := reportOptions(4)
	opts.Transform = func(raw json.RawMessage) (json.RawMessage, error) {
		var row struct {
			Subject string `json:"subject_name"`
		}
		if err := json.Unmarshal(raw, &row); err != nil {
			return nil, err
		}
		return json.Marshal(map[string]string{"subject": row.Subject})
	}

	p := New(newPaginatorClient(t, mock), opts)

	it := p.Items(context.Background())
	defer it.Close()

	count := 0
	for it.Next() {
		count++
	}
	if err := it.Err(); err != nil {
		t.Fatalf("Err = %v", err)
	}
	if count != 6 {
		t.Errorf("items = %d, want 6 (cursor must survive a reducing transform)", count)
	}
}

func TestItems_CloseEarlyReleasesSlot(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetHandler("/report", testutil.ReportHandler(100))

	c, err := client.New(client.Config{
		BaseURL:       mock.URL(),
		Token:         "test-token",
		MaxConcurrent: 1,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	p := New(c, reportOptions(50))

	it := p.Items(context.Background())
	if !it.Next() {
		t.Fatalf("Next failed: %v", it.Err())
	}
	if err := it.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// The abandoned stream must have released its gate slot.
	if _, err := c.Do(context.Background(), client.RequestSpec{Path: "/report"}); err != nil {
		t.Fatalf("Do after Close failed: %v", err)
	}
}

func TestItems_EmptyDataset(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetHandler("/report", testutil.ReportHandler(0))

	p := New(newPaginatorClient(t, mock), reportOptions(5))

	it := p.Items(context.Background())
	defer it.Close()

	if it.Next() {
		t.Error("Next returned true for an empty dataset")
	}
	if err := it.Err(); err != nil {
		t.Errorf("Err = %v, want nil", err)
	}
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions(client.RequestSpec{Path: "/report"})

	if opts.Limit != 100000 {
		t.Errorf("Limit = %d, want 100000", opts.Limit)
	}
	if opts.Cursor != "0" {
		t.Errorf("Cursor = %q, want %q", opts.Cursor, "0")
	}
	if opts.CursorField != "rrd_id" {
		t.Errorf("CursorField = %q, want %q", opts.CursorField, "rrd_id")
	}
	if opts.CursorParam != "rrdid" {
		t.Errorf("CursorParam = %q, want %q", opts.CursorParam, "rrdid")
	}
	if opts.LimitParam != "limit" {
		t.Errorf("LimitParam = %q, want %q", opts.LimitParam, "limit")
	}
}
