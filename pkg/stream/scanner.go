// Package stream consumes a page body incrementally, yielding one record at
// a time without materializing the full parsed page. Report pages may carry
// item arrays in the hundred-thousands; only the current (optionally
// transformed) item is held in memory.
package stream

import (
	"encoding/json"
	"fmt"
	"io"
)

// Transform rewrites one raw item before it is yielded. Returning an error
// aborts the scan.
type Transform func(json.RawMessage) (json.RawMessage, error)

// ParseError reports a malformed body. It is terminal: retrying a
// half-consumed stream would be unsafe.
type ParseError struct {
	Offset int64
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed stream at offset %d: %v", e.Offset, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// Options configures a Scanner.
type Options struct {
	// CursorField, when non-empty, names the item field whose value is
	// tracked as the continuation cursor (see LastCursor).
	CursorField string

	// Transform is applied to each item before it is yielded.
	Transform Transform
}

// Scanner yields the items of a top-level JSON array one at a time, in a
// single forward pass over the underlying byte stream. It is finite and not
// restartable. Usage follows the familiar iterator shape:
//
//	sc := stream.NewScanner(body, stream.Options{})
//	for sc.Next() {
//		item := sc.Item()
//		...
//	}
//	if err := sc.Err(); err != nil {
//		...
//	}
type Scanner struct {
	dec        *json.Decoder
	opts       Options
	item       json.RawMessage
	lastCursor string
	count      int
	err        error
	started    bool
	finished   bool
}

// NewScanner creates a Scanner over r. The scanner does not close r.
func NewScanner(r io.Reader, opts Options) *Scanner {
	return &Scanner{
		dec:  json.NewDecoder(r),
		opts: opts,
	}
}

// Next advances to the next item. It returns false when the array is
// exhausted or an error occurred; check Err to distinguish.
func (s *Scanner) Next() bool {
	if s.err != nil || s.finished {
		return false
	}

	if !s.started {
		tok, err := s.dec.Token()
		if err == io.EOF {
			// An empty body (204, empty response) is an empty stream.
			s.finished = true
			return false
		}
		if err != nil {
			s.fail(err)
			return false
		}
		if delim, ok := tok.(json.Delim); !ok || delim != '[' {
			s.fail(fmt.Errorf("expected array start, got %v", tok))
			return false
		}
		s.started = true
	}

	if !s.dec.More() {
		if _, err := s.dec.Token(); err != nil {
			s.fail(err)
			return false
		}
		s.finished = true
		return false
	}

	var raw json.RawMessage
	if err := s.dec.Decode(&raw); err != nil {
		s.fail(err)
		return false
	}
	s.count++

	if s.opts.CursorField != "" {
		if v, ok := FieldString(raw, s.opts.CursorField); ok {
			s.lastCursor = v
		}
	}

	if s.opts.Transform != nil {
		out, err := s.opts.Transform(raw)
		if err != nil {
			s.err = fmt.Errorf("transform item: %w", err)
			return false
		}
		raw = out
	}

	s.item = raw
	return true
}

// Item returns the current item. Valid until the next call to Next.
func (s *Scanner) Item() json.RawMessage {
	return s.item
}

// Err returns the error that stopped the scan, nil after normal exhaustion.
func (s *Scanner) Err() error {
	return s.err
}

// Count returns the number of items decoded so far.
func (s *Scanner) Count() int {
	return s.count
}

// LastCursor returns the cursor-field value of the most recent item carrying
// one, empty if none was seen. The value is taken from the raw item, before
// any transform.
func (s *Scanner) LastCursor() string {
	return s.lastCursor
}

func (s *Scanner) fail(err error) {
	s.err = &ParseError{Offset: s.dec.InputOffset(), Err: err}
}

// FieldString extracts a top-level field from a raw JSON object as a string.
// String values are unquoted; numbers and other scalars are returned as
// their literal text.
func FieldString(raw json.RawMessage, field string) (string, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", false
	}

	value, ok := obj[field]
	if !ok {
		return "", false
	}

	var s string
	if err := json.Unmarshal(value, &s); err == nil {
		return s, true
	}
	return string(value), true
}
