package storage

import (
	"context"

	"github.com/nodekv/nodekv/pkg/record"
)

// Stream is a lazy, finite, non-restartable cursor over records.
//
// Next advances to the next record, returning false when the stream is
// exhausted or failed. End-of-stream is implicit; no terminal record is
// delivered. After Next returns false, Err discriminates the outcome:
//
//   - nil: the stream delivered at least one record and ended cleanly;
//   - ErrNotFound: the stream ended cleanly after zero records;
//   - ErrInternal: the backend failed at some point. Records delivered
//     before the failure stand; the error is reported here once, never
//     interleaved with records, and takes precedence over not-found.
//
// Err is meaningful once Next has returned false; a consumer that
// abandons iteration early forfeits the terminal classification, exactly
// as with sql.Rows. A canceled context surfaces as a backend failure.
// Close releases the underlying backend cursor and is safe to call more
// than once.
type Stream interface {
	Next(ctx context.Context) bool
	Record() record.Record
	Err() error
	Close() error
}

// sliceStream serves an already-materialized result set through the
// Stream protocol. Bindings without a native cursor build on it.
type sliceStream struct {
	op      string
	key     string
	field   string
	records []record.Record
	pos     int
	cur     record.Record
	err     error
	failure error // backend error to report after delivery, if any
	done    bool
}

// NewSliceStream wraps records in a Stream that applies the contract's
// termination rules for op on key/field.
func NewSliceStream(op, key, field string, records []record.Record) Stream {
	return &sliceStream{op: op, key: key, field: field, records: records}
}

// NewFailedStream wraps a result set whose backend reported failure. The
// records are still delivered in order; the wrapped cause is reported by
// Err after the last one.
func NewFailedStream(op, key, field string, records []record.Record, cause error) Stream {
	return &sliceStream{op: op, key: key, field: field, records: records, failure: cause}
}

func (s *sliceStream) Next(ctx context.Context) bool {
	if s.done {
		return false
	}
	if err := ctx.Err(); err != nil {
		s.err = NewInternal(s.op, s.key, s.field, err)
		s.done = true
		return false
	}
	if s.pos >= len(s.records) {
		s.finish()
		return false
	}
	s.cur = s.records[s.pos]
	s.pos++
	return true
}

func (s *sliceStream) finish() {
	s.done = true
	switch {
	case s.failure != nil:
		s.err = NewInternal(s.op, s.key, s.field, s.failure)
	case s.pos == 0:
		s.err = NewNotFound(s.op, s.key, s.field)
	}
}

func (s *sliceStream) Record() record.Record { return s.cur }

func (s *sliceStream) Err() error { return s.err }

func (s *sliceStream) Close() error {
	s.done = true
	return nil
}

// Collect drains a stream and applies the contract's termination rules,
// returning either all delivered records or the terminal error. The
// stream is closed either way. Bindings use it to implement collect-mode
// Get on top of their cursor.
func Collect(ctx context.Context, s Stream) ([]record.Record, error) {
	defer s.Close()

	var out []record.Record
	for s.Next(ctx) {
		out = append(out, s.Record())
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
