package engine

import (
	"context"

	"github.com/nodekv/nodekv/pkg/observability/tracing"
	"github.com/nodekv/nodekv/pkg/record"
	"github.com/nodekv/nodekv/pkg/storage"
)

// Node is a graph entity reconstructed from its record cells: one
// resolved record per field.
type Node struct {
	Key    string
	Fields map[string]record.Record
}

// Val returns the scalar value stored under field, or "" when the field
// is absent or holds a relationship.
func (n Node) Val(field string) string {
	return n.Fields[field].ValOrEmpty()
}

// Rel returns the key of the node that field points at, or "" when the
// field is absent or holds a scalar.
func (n Node) Rel(field string) string {
	return n.Fields[field].RelOrEmpty()
}

// Node reads every record stored for key and folds them into one record
// per field. When the backend holds rival records for the same field the
// winner is chosen by record.Resolve, so every caller converges on the
// same view regardless of delivery order. A key with no records yields
// ErrNotFound.
func (e *Engine) Node(ctx context.Context, key string) (Node, error) {
	ctx, span := tracing.StartEngineSpan(ctx, tracing.SpanOperationEngineNode,
		tracing.WithEngineNodeKey(key))
	defer span.End()

	adapter, err := e.bound("node")
	if err != nil {
		tracing.RecordError(span, err)
		return Node{}, err
	}

	records, err := adapter.Get(ctx, key, "")
	if err != nil {
		tracing.RecordError(span, err)
		return Node{}, err
	}

	node := Node{Key: key, Fields: make(map[string]record.Record, len(records))}
	for _, rec := range records {
		e.clock.observe(rec.State)
		if cur, ok := node.Fields[rec.Field]; ok {
			node.Fields[rec.Field] = record.Resolve(cur, rec)
		} else {
			node.Fields[rec.Field] = rec
		}
	}

	e.markActive()
	tracing.RecordSuccess(span)
	return node, nil
}

// Field reads the single cell stored for key/field, resolving rivals the
// same way Node does.
func (e *Engine) Field(ctx context.Context, key, field string) (record.Record, error) {
	ctx, span := tracing.StartEngineSpan(ctx, tracing.SpanOperationEngineField,
		tracing.WithEngineNodeKey(key))
	defer span.End()

	adapter, err := e.bound("field")
	if err != nil {
		tracing.RecordError(span, err)
		return record.Record{}, err
	}

	records, err := adapter.Get(ctx, key, field)
	if err != nil {
		tracing.RecordError(span, err)
		return record.Record{}, err
	}
	if len(records) == 0 {
		err := storage.NewNotFound("field", key, field)
		tracing.RecordError(span, err)
		return record.Record{}, err
	}

	winner := records[0]
	e.clock.observe(winner.State)
	for _, rec := range records[1:] {
		e.clock.observe(rec.State)
		winner = record.Resolve(winner, rec)
	}

	e.markActive()
	tracing.RecordSuccess(span)
	return winner, nil
}

// Each streams the records stored for key and hands them to fn one at a
// time, in backend delivery order and without materializing the node. A
// non-nil error from fn stops the walk and is returned unchanged; stream
// failures and the zero-record case surface as taxonomy errors, exactly
// as documented on storage.Stream.
func (e *Engine) Each(ctx context.Context, key string, fn func(record.Record) error) error {
	ctx, span := tracing.StartEngineSpan(ctx, tracing.SpanOperationEngineEach,
		tracing.WithEngineNodeKey(key))
	defer span.End()

	adapter, err := e.bound("each")
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}

	stream, err := adapter.Stream(ctx, key, "")
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}
	defer stream.Close()

	for stream.Next(ctx) {
		rec := stream.Record()
		e.clock.observe(rec.State)
		if err := fn(rec); err != nil {
			tracing.RecordError(span, err)
			return err
		}
	}
	if err := stream.Err(); err != nil {
		tracing.RecordError(span, err)
		return err
	}

	e.markActive()
	tracing.RecordSuccess(span)
	return nil
}
