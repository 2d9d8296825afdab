// Package storage defines the contract between a graph engine and the
// backend binding that persists its records.
//
// A binding translates record.Record cells to and from one storage
// technology and owns its connection objects exclusively. The contract
// fixes the call protocol, not the encoding: how records become bytes,
// rows or attributes is each binding's private concern.
//
// Lifecycle: a binding is constructed from its typed Config (validated,
// defaults applied, nothing dialed), wired up once via Connect at engine
// registration, and only then serves Get, Stream and Put. There is no
// path back to the unconnected state; Close releases resources when the
// owning process shuts down.
//
// Concurrency: Get, Stream and Put must be safe to call from any
// goroutine and to interleave freely. A binding must not assume exclusive
// storage access between a call's start and its return. Put may issue its
// per-record writes concurrently.
//
// Errors: every failure surfaces exactly once as one of the two taxonomy
// members (ErrNotFound, ErrInternal); backend-native errors never escape
// a binding. Partially written batches are not rolled back; durability of
// a partial batch is backend-defined.
package storage

import (
	"context"

	"github.com/nodekv/nodekv/pkg/record"
)

// Adapter is the uniform surface every backend binding implements.
type Adapter interface {
	// Connect establishes backend connectivity: dial, ping and prepare
	// whatever schema, keyspace or bucket the binding needs. It is called
	// exactly once, before any Get, Stream or Put, and must respect the
	// binding's configured connect timeout rather than block indefinitely.
	Connect(ctx context.Context) error

	// Get resolves all records matching key, then returns exactly once.
	// An empty field selects the whole node; otherwise only that field.
	// Zero matches yield ErrNotFound, backend failures ErrInternal.
	Get(ctx context.Context, key, field string) ([]record.Record, error)

	// Stream opens a cursor over the records matching key (and field, when
	// non-empty), delivering them one at a time in backend order. See the
	// Stream type for termination semantics.
	Stream(ctx context.Context, key, field string) (Stream, error)

	// Put writes every record of the batch, one backend write per record,
	// possibly concurrently. It returns nil only after all writes are
	// acknowledged. An empty batch succeeds immediately with no backend
	// activity. On failure all in-flight sibling writes are awaited, then
	// the first error observed is returned; already-written records stay
	// written.
	Put(ctx context.Context, batch record.Batch) error

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases connections. The binding is unusable afterwards.
	Close() error
}
