// Package memory provides the in-process reference binding. It dials
// nothing and keeps every record in a map, which makes it the backend of
// choice for tests and for exercising the contract's behavioral rules
// without infrastructure.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/nodekv/nodekv/pkg/observability/logger"
	"github.com/nodekv/nodekv/pkg/record"
	"github.com/nodekv/nodekv/pkg/storage"
)

var (
	errNotConnected = errors.New("memory store not connected")
	errClosed       = errors.New("memory store closed")
)

// MemoryAdapter stores one cell per key/field pair. Whole-node reads and
// streams deliver cells in field insertion order, which is this backend's
// delivery order.
type MemoryAdapter struct {
	log logger.Logger

	mu        sync.RWMutex
	nodes     map[string][]record.Record
	slots     map[string]map[string]int
	connected bool
	closed    bool
}

// NewMemoryAdapter creates an unconnected in-memory binding.
func NewMemoryAdapter(log logger.Logger) *MemoryAdapter {
	return &MemoryAdapter{
		log:   log,
		nodes: make(map[string][]record.Record),
		slots: make(map[string]map[string]int),
	}
}

// Connect readies the store. Nothing is dialed; the call exists so the
// binding walks the same lifecycle as every networked one.
func (m *MemoryAdapter) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return storage.NewInternal("connect", "", "", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return storage.NewInternal("connect", "", "", errClosed)
	}
	m.connected = true
	m.log.Info("memory store ready")
	return nil
}

// Get returns the cells stored for key, or the single cell for field when
// field is non-empty.
func (m *MemoryAdapter) Get(ctx context.Context, key, field string) ([]record.Record, error) {
	snapshot, err := m.snapshot(ctx, "get", key, field)
	if err != nil {
		return nil, err
	}
	if len(snapshot) == 0 {
		return nil, storage.NewNotFound("get", key, field)
	}
	return snapshot, nil
}

// Stream delivers the matching cells one at a time in insertion order.
func (m *MemoryAdapter) Stream(ctx context.Context, key, field string) (storage.Stream, error) {
	snapshot, err := m.snapshot(ctx, "stream", key, field)
	if err != nil {
		return nil, err
	}
	return storage.NewSliceStream("stream", key, field, snapshot), nil
}

// Put applies one write per record, concurrently. Each write validates
// its record and upserts the key/field slot; the batch's states are
// stored verbatim. Failed batches are not rolled back.
func (m *MemoryAdapter) Put(ctx context.Context, batch record.Batch) error {
	if err := m.guard("put"); err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	for _, r := range batch {
		wg.Add(1)
		go func(r record.Record) {
			defer wg.Done()
			if err := m.putOne(ctx, r); err != nil {
				once.Do(func() { firstErr = err })
			}
		}(r)
	}
	wg.Wait()
	return firstErr
}

func (m *MemoryAdapter) putOne(ctx context.Context, r record.Record) error {
	if err := ctx.Err(); err != nil {
		return storage.NewInternal("put", r.Key, r.Field, err)
	}
	if err := r.Validate(); err != nil {
		return storage.NewInternal("put", r.Key, r.Field, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return storage.NewInternal("put", r.Key, r.Field, errClosed)
	}

	stored := r.Clone()
	fields, ok := m.slots[r.Key]
	if !ok {
		fields = make(map[string]int)
		m.slots[r.Key] = fields
	}
	if slot, ok := fields[r.Field]; ok {
		m.nodes[r.Key][slot] = stored
		return nil
	}
	fields[r.Field] = len(m.nodes[r.Key])
	m.nodes[r.Key] = append(m.nodes[r.Key], stored)
	return nil
}

// HealthCheck reports whether the store is usable.
func (m *MemoryAdapter) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return errClosed
	}
	if !m.connected {
		return errNotConnected
	}
	return nil
}

// Close discards all stored records.
func (m *MemoryAdapter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.nodes = nil
	m.slots = nil
	if m.log != nil {
		m.log.Info("memory store closed")
	}
	return nil
}

// snapshot copies the matching cells out under the read lock so streams
// never observe later writes.
func (m *MemoryAdapter) snapshot(ctx context.Context, op, key, field string) ([]record.Record, error) {
	if err := m.guard(op); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, storage.NewInternal(op, key, field, err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	cells := m.nodes[key]
	if field == "" {
		out := make([]record.Record, 0, len(cells))
		for _, c := range cells {
			out = append(out, c.Clone())
		}
		return out, nil
	}

	slot, ok := m.slots[key][field]
	if !ok {
		return nil, nil
	}
	return []record.Record{cells[slot].Clone()}, nil
}

func (m *MemoryAdapter) guard(op string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return storage.NewInternal(op, "", "", errClosed)
	}
	if !m.connected {
		return storage.NewInternal(op, "", "", errNotConnected)
	}
	return nil
}
