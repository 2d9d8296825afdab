package factory

import (
	"context"
	"errors"

	"github.com/nodekv/nodekv/pkg/record"
	"github.com/nodekv/nodekv/pkg/resilience"
	"github.com/nodekv/nodekv/pkg/storage"
)

// WithBreaker guards an adapter's data path with a circuit breaker.
// Get, Stream and Put dispatch through the breaker; not-found results
// count as service, not failure. Connect, HealthCheck and Close bypass
// it, so probes keep seeing the real backend while the circuit is
// open. A rejected call fails with the internal taxonomy wrapping
// resilience.ErrOpen. The breaker observes dispatch only: a cursor
// that opened successfully runs to completion unguarded.
func WithBreaker(next storage.Adapter, breaker *resilience.Breaker) storage.Adapter {
	return &breakerAdapter{next: next, breaker: breaker}
}

type breakerAdapter struct {
	next    storage.Adapter
	breaker *resilience.Breaker
}

func (a *breakerAdapter) Connect(ctx context.Context) error { return a.next.Connect(ctx) }

func (a *breakerAdapter) Get(ctx context.Context, key, field string) ([]record.Record, error) {
	var records []record.Record
	var opErr error
	if err := a.breaker.Execute(func() error {
		records, opErr = a.next.Get(ctx, key, field)
		return breakerFailure(opErr)
	}); errors.Is(err, resilience.ErrOpen) {
		return nil, storage.NewInternal("get", key, field, err)
	}
	return records, opErr
}

func (a *breakerAdapter) Stream(ctx context.Context, key, field string) (storage.Stream, error) {
	var stream storage.Stream
	var opErr error
	if err := a.breaker.Execute(func() error {
		stream, opErr = a.next.Stream(ctx, key, field)
		return breakerFailure(opErr)
	}); errors.Is(err, resilience.ErrOpen) {
		return nil, storage.NewInternal("stream", key, field, err)
	}
	return stream, opErr
}

func (a *breakerAdapter) Put(ctx context.Context, batch record.Batch) error {
	var key string
	if len(batch) > 0 {
		key = batch[0].Key
	}

	var opErr error
	if err := a.breaker.Execute(func() error {
		opErr = a.next.Put(ctx, batch)
		return opErr
	}); errors.Is(err, resilience.ErrOpen) {
		return storage.NewInternal("put", key, "", err)
	}
	return opErr
}

func (a *breakerAdapter) HealthCheck(ctx context.Context) error {
	return a.next.HealthCheck(ctx)
}

func (a *breakerAdapter) Close() error { return a.next.Close() }

// breakerFailure maps not-found to success for breaker accounting; an
// absent record is the backend answering, not failing.
func breakerFailure(err error) error {
	if storage.IsNotFound(err) {
		return nil
	}
	return err
}
