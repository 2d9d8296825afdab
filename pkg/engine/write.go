package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/google/uuid"
	"github.com/nodekv/nodekv/pkg/observability/tracing"
	"github.com/nodekv/nodekv/pkg/record"
	"github.com/nodekv/nodekv/pkg/storage"
)

// Ref marks a field value in a Write map as a relationship: the string
// is the key of the node the field points at, not a scalar.
type Ref string

var errEmptyKey = errors.New("node key is required")

// NewKey mints a key for a new node.
func NewKey() string {
	return uuid.NewString()
}

// Write stores fields on the node identified by key as one batch. Plain
// strings, numbers and bools become scalar records; a Ref value becomes
// a relationship record. Every record in the batch carries the same
// state, taken from the engine's clock, so the whole write wins or loses
// conflict resolution as a unit. An empty field map succeeds without
// touching the backend. Fields are written in name order.
func (e *Engine) Write(ctx context.Context, key string, fields map[string]any) error {
	ctx, span := tracing.StartEngineSpan(ctx, tracing.SpanOperationEngineWrite,
		tracing.WithEngineNodeKey(key),
		tracing.WithEngineFieldCount(len(fields)))
	defer span.End()

	adapter, err := e.bound("write")
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}

	batch, err := buildBatch(key, fields, e.clock.next())
	if err != nil {
		err = storage.NewInternal("write", key, "", err)
		tracing.RecordError(span, err)
		return err
	}

	// An empty batch is a valid no-op put; the binding settles it.
	if err := adapter.Put(ctx, batch); err != nil {
		tracing.RecordError(span, err)
		return err
	}

	e.markActive()
	tracing.RecordSuccess(span)
	return nil
}

// PutBatch stores an already-built batch, validating it first. The
// caller owns the states; the engine only observes them so its own
// clock stays ahead of them.
func (e *Engine) PutBatch(ctx context.Context, batch record.Batch) error {
	ctx, span := tracing.StartEngineSpan(ctx, tracing.SpanOperationEnginePutBatch)
	defer span.End()

	adapter, err := e.bound("put_batch")
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}

	if err := batch.Validate(); err != nil {
		err = storage.NewInternal("put_batch", "", "", err)
		tracing.RecordError(span, err)
		return err
	}
	for _, rec := range batch {
		e.clock.observe(rec.State)
	}

	if err := adapter.Put(ctx, batch); err != nil {
		tracing.RecordError(span, err)
		return err
	}

	e.markActive()
	tracing.RecordSuccess(span)
	return nil
}

// buildBatch turns a field map into records, all stamped with state.
// Field names are sorted so the same map always yields the same batch.
func buildBatch(key string, fields map[string]any, state int64) (record.Batch, error) {
	if key == "" {
		return nil, errEmptyKey
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	batch := make(record.Batch, 0, len(fields))
	for _, name := range names {
		if name == "" {
			return nil, errors.New("field name cannot be empty")
		}
		rec, err := fieldRecord(key, name, fields[name], state)
		if err != nil {
			return nil, err
		}
		batch = append(batch, rec)
	}
	return batch, nil
}

// fieldRecord maps one field value onto a record. Relationship targets
// must name a node; everything else is stored as its string form.
func fieldRecord(key, name string, value any, state int64) (record.Record, error) {
	switch v := value.(type) {
	case Ref:
		if v == "" {
			return record.Record{}, fmt.Errorf("field %q: relationship target cannot be empty", name)
		}
		return record.Relation(key, name, string(v), state), nil
	case string:
		return record.Value(key, name, v, state), nil
	case bool:
		return record.Value(key, name, strconv.FormatBool(v), state), nil
	case int:
		return record.Value(key, name, strconv.Itoa(v), state), nil
	case int64:
		return record.Value(key, name, strconv.FormatInt(v, 10), state), nil
	case float64:
		return record.Value(key, name, strconv.FormatFloat(v, 'g', -1, 64), state), nil
	default:
		return record.Record{}, fmt.Errorf("field %q: unsupported value type %T", name, value)
	}
}
