package factory

import (
	"context"
	"sync"
	"time"

	"github.com/nodekv/nodekv/pkg/observability/metrics"
	"github.com/nodekv/nodekv/pkg/record"
	"github.com/nodekv/nodekv/pkg/storage"
)

// Instrument wraps an adapter so every operation is timed, counted by
// outcome and tracked in flight under the given backend label. Streams
// stay instrumented for their whole life: records are counted as they
// are delivered and the stream operation is observed once, when the
// cursor finishes or is closed. NewStorageAdapter already returns an
// instrumented adapter; Instrument exists for hand-built ones.
func Instrument(backend string, next storage.Adapter) storage.Adapter {
	return &instrumentedAdapter{backend: backend, next: next}
}

type instrumentedAdapter struct {
	backend string
	next    storage.Adapter
}

func (a *instrumentedAdapter) observe(op string, start time.Time, err error) {
	metrics.RecordStorageOperation(a.backend, op, outcomeLabel(err), time.Since(start))
}

func (a *instrumentedAdapter) Connect(ctx context.Context) error {
	start := time.Now()
	err := a.next.Connect(ctx)
	a.observe("connect", start, err)
	return err
}

func (a *instrumentedAdapter) Get(ctx context.Context, key, field string) ([]record.Record, error) {
	metrics.IncrementInFlight(a.backend)
	defer metrics.DecrementInFlight(a.backend)

	start := time.Now()
	records, err := a.next.Get(ctx, key, field)
	a.observe("get", start, err)
	return records, err
}

func (a *instrumentedAdapter) Stream(ctx context.Context, key, field string) (storage.Stream, error) {
	metrics.IncrementInFlight(a.backend)

	start := time.Now()
	stream, err := a.next.Stream(ctx, key, field)
	if err != nil {
		metrics.DecrementInFlight(a.backend)
		a.observe("stream", start, err)
		return nil, err
	}
	return &instrumentedStream{backend: a.backend, next: stream, start: start}, nil
}

func (a *instrumentedAdapter) Put(ctx context.Context, batch record.Batch) error {
	metrics.IncrementInFlight(a.backend)
	defer metrics.DecrementInFlight(a.backend)

	start := time.Now()
	err := a.next.Put(ctx, batch)
	a.observe("put", start, err)
	return err
}

func (a *instrumentedAdapter) HealthCheck(ctx context.Context) error {
	start := time.Now()
	err := a.next.HealthCheck(ctx)
	a.observe("health_check", start, err)
	return err
}

func (a *instrumentedAdapter) Close() error {
	start := time.Now()
	err := a.next.Close()
	a.observe("close", start, err)
	return err
}

// instrumentedStream counts delivered records and reports the terminal
// outcome exactly once, whether the consumer drains the cursor or
// abandons it via Close.
type instrumentedStream struct {
	backend string
	next    storage.Stream
	start   time.Time
	done    sync.Once
}

func (s *instrumentedStream) Next(ctx context.Context) bool {
	ok := s.next.Next(ctx)
	if ok {
		metrics.AddStreamedRecords(s.backend, 1)
	} else {
		s.finish()
	}
	return ok
}

func (s *instrumentedStream) Record() record.Record { return s.next.Record() }

func (s *instrumentedStream) Err() error { return s.next.Err() }

func (s *instrumentedStream) Close() error {
	err := s.next.Close()
	s.finish()
	return err
}

func (s *instrumentedStream) finish() {
	s.done.Do(func() {
		metrics.DecrementInFlight(s.backend)
		metrics.RecordStorageOperation(s.backend, "stream", outcomeLabel(s.next.Err()), time.Since(s.start))
	})
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case storage.IsNotFound(err):
		return metrics.OutcomeNotFound
	default:
		return metrics.OutcomeInternal
	}
}
