package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/nodekv/nodekv/pkg/record"
)

func TestSliceStream_DeliversInOrder(t *testing.T) {
	recs := []record.Record{
		record.Value("n1", "a", "1", 10),
		record.Value("n1", "b", "2", 11),
		record.Relation("n1", "c", "n2", 12),
	}
	s := NewSliceStream("stream", "n1", "", recs)
	defer s.Close()

	ctx := context.Background()
	var got []record.Record
	for s.Next(ctx) {
		got = append(got, s.Record())
	}

	if err := s.Err(); err != nil {
		t.Fatalf("Err() = %v, want nil after clean delivery", err)
	}
	if len(got) != len(recs) {
		t.Fatalf("delivered %d records, want %d", len(got), len(recs))
	}
	for i := range recs {
		if got[i].Field != recs[i].Field {
			t.Errorf("record %d delivered out of order: got field %q, want %q", i, got[i].Field, recs[i].Field)
		}
	}
}

func TestSliceStream_EmptyYieldsNotFound(t *testing.T) {
	s := NewSliceStream("stream", "missing", "", nil)
	defer s.Close()

	if s.Next(context.Background()) {
		t.Fatal("Next() = true on an empty stream")
	}
	if !IsNotFound(s.Err()) {
		t.Fatalf("Err() = %v, want not-found after zero records", s.Err())
	}
	// A second Next neither delivers nor reclassifies.
	if s.Next(context.Background()) {
		t.Fatal("Next() = true after exhaustion")
	}
	if !IsNotFound(s.Err()) {
		t.Fatalf("Err() changed after exhaustion: %v", s.Err())
	}
}

func TestSliceStream_FailureReportedAfterDelivery(t *testing.T) {
	cause := errors.New("cursor lost")
	recs := []record.Record{record.Value("n1", "a", "1", 10)}
	s := NewFailedStream("stream", "n1", "", recs, cause)
	defer s.Close()

	ctx := context.Background()
	delivered := 0
	for s.Next(ctx) {
		delivered++
		if err := s.Err(); err != nil {
			t.Fatalf("error interleaved with records: %v", err)
		}
	}

	if delivered != 1 {
		t.Fatalf("delivered %d records before failure, want 1 (records stand)", delivered)
	}
	err := s.Err()
	if !IsInternal(err) {
		t.Fatalf("Err() = %v, want internal after backend failure", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("terminal error does not wrap the backend cause: %v", err)
	}
}

func TestSliceStream_FailureBeatsNotFound(t *testing.T) {
	cause := errors.New("query aborted")
	s := NewFailedStream("stream", "n1", "", nil, cause)
	defer s.Close()

	if s.Next(context.Background()) {
		t.Fatal("Next() = true on a failed empty stream")
	}
	err := s.Err()
	if !IsInternal(err) {
		t.Fatalf("Err() = %v, want internal to take precedence over not-found", err)
	}
	if IsNotFound(err) {
		t.Error("terminal error must not also match not-found")
	}
}

func TestSliceStream_ContextCancellation(t *testing.T) {
	recs := []record.Record{record.Value("n1", "a", "1", 10)}
	s := NewSliceStream("stream", "n1", "", recs)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if s.Next(ctx) {
		t.Fatal("Next() = true with canceled context")
	}
	if !IsInternal(s.Err()) {
		t.Fatalf("Err() = %v, want internal on cancellation", s.Err())
	}
}

func TestCollect(t *testing.T) {
	ctx := context.Background()

	t.Run("collects all records", func(t *testing.T) {
		recs := []record.Record{
			record.Value("n1", "a", "1", 10),
			record.Value("n1", "b", "2", 11),
		}
		got, err := Collect(ctx, NewSliceStream("get", "n1", "", recs))
		if err != nil {
			t.Fatalf("Collect() error = %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("Collect() = %d records, want 2", len(got))
		}
	})

	t.Run("empty stream maps to not found", func(t *testing.T) {
		got, err := Collect(ctx, NewSliceStream("get", "n1", "", nil))
		if !IsNotFound(err) {
			t.Fatalf("Collect() error = %v, want not-found", err)
		}
		if got != nil {
			t.Errorf("Collect() returned records alongside an error: %v", got)
		}
	})

	t.Run("failure discards partial collection", func(t *testing.T) {
		recs := []record.Record{record.Value("n1", "a", "1", 10)}
		_, err := Collect(ctx, NewFailedStream("get", "n1", "", recs, errors.New("boom")))
		if !IsInternal(err) {
			t.Fatalf("Collect() error = %v, want internal", err)
		}
	})
}
