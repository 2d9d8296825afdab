// Package tracing provides OpenTelemetry distributed tracing for the store.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SpanOperation represents a traced operation type.
type SpanOperation string

// Span operation constants for different operation types
const (
	// SpanOperationStorageGet represents a collect-mode read
	SpanOperationStorageGet SpanOperation = "storage.get"
	// SpanOperationStorageStream represents a streaming read
	SpanOperationStorageStream SpanOperation = "storage.stream"
	// SpanOperationStoragePut represents a batch write
	SpanOperationStoragePut SpanOperation = "storage.put"
	// SpanOperationStorageConnect represents backend connection setup
	SpanOperationStorageConnect SpanOperation = "storage.connect"
	// SpanOperationStorageHealth represents a backend health probe
	SpanOperationStorageHealth SpanOperation = "storage.health_check"

	// SpanOperationEngineRegister represents adapter registration
	SpanOperationEngineRegister SpanOperation = "engine.register"
	// SpanOperationEngineNode represents whole-node reconstruction
	SpanOperationEngineNode SpanOperation = "engine.node"
	// SpanOperationEngineField represents a single-field read
	SpanOperationEngineField SpanOperation = "engine.field"
	// SpanOperationEngineEach represents a streaming node visit
	SpanOperationEngineEach SpanOperation = "engine.each"
	// SpanOperationEngineWrite represents a field-map write
	SpanOperationEngineWrite SpanOperation = "engine.write"
	// SpanOperationEnginePutBatch represents a pre-built batch write
	SpanOperationEnginePutBatch SpanOperation = "engine.put_batch"
)

// StartStorageSpan creates a new span for a storage adapter operation.
// It includes storage-specific attributes like operation type, backend and key.
func StartStorageSpan(ctx context.Context, operation SpanOperation, opts ...StorageSpanOption) (context.Context, trace.Span) {
	tracer := otel.Tracer("storage")

	spanOpts := &storageSpanOptions{
		attributes: []attribute.KeyValue{
			attribute.String("storage.operation", string(operation)),
		},
	}

	for _, opt := range opts {
		opt(spanOpts)
	}

	spanName := fmt.Sprintf("STORAGE %s", operation)
	if spanOpts.backend != "" {
		spanName = fmt.Sprintf("STORAGE %s %s", operation, spanOpts.backend)
	}

	ctx, span := tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindClient))

	// Add all attributes to span
	span.SetAttributes(spanOpts.attributes...)

	return ctx, span
}

// StorageSpanOption configures a storage span.
type StorageSpanOption func(*storageSpanOptions)

type storageSpanOptions struct {
	backend    string
	attributes []attribute.KeyValue
}

// WithBackend sets the backend type (e.g., "redis", "postgres").
func WithBackend(backend string) StorageSpanOption {
	return func(opts *storageSpanOptions) {
		opts.backend = backend
		opts.attributes = append(opts.attributes, attribute.String("storage.backend", backend))
	}
}

// WithNodeKey sets the node key addressed by the operation.
func WithNodeKey(key string) StorageSpanOption {
	return func(opts *storageSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("storage.node_key", key))
	}
}

// WithField sets the field selector; empty means the whole node.
func WithField(field string) StorageSpanOption {
	return func(opts *storageSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("storage.field", field))
	}
}

// WithBatchSize sets the number of records in a put batch.
func WithBatchSize(size int) StorageSpanOption {
	return func(opts *storageSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.Int("storage.batch_size", size))
	}
}

// StartEngineSpan creates a new span for a graph engine operation.
// It includes engine-specific attributes like operation type and node key.
func StartEngineSpan(ctx context.Context, operation SpanOperation, opts ...EngineSpanOption) (context.Context, trace.Span) {
	tracer := otel.Tracer("engine")

	spanOpts := &engineSpanOptions{
		attributes: []attribute.KeyValue{
			attribute.String("engine.operation", string(operation)),
		},
	}

	for _, opt := range opts {
		opt(spanOpts)
	}

	spanName := fmt.Sprintf("ENGINE %s", operation)
	if spanOpts.key != "" {
		spanName = fmt.Sprintf("ENGINE %s %s", operation, spanOpts.key)
	}

	ctx, span := tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindInternal))

	// Add all attributes to span
	span.SetAttributes(spanOpts.attributes...)

	return ctx, span
}

// EngineSpanOption configures an engine span.
type EngineSpanOption func(*engineSpanOptions)

type engineSpanOptions struct {
	key        string
	attributes []attribute.KeyValue
}

// WithEngineNodeKey sets the node key the engine operation works on.
func WithEngineNodeKey(key string) EngineSpanOption {
	return func(opts *engineSpanOptions) {
		opts.key = key
		opts.attributes = append(opts.attributes, attribute.String("engine.node_key", key))
	}
}

// WithEngineFieldCount sets the number of fields touched by the operation.
func WithEngineFieldCount(count int) EngineSpanOption {
	return func(opts *engineSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.Int("engine.field_count", count))
	}
}

// WithEngineBackend sets the backend type behind the registered adapter.
func WithEngineBackend(backend string) EngineSpanOption {
	return func(opts *engineSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("engine.backend", backend))
	}
}

// RecordError records an error in the current span and sets the span status to error.
// This is a convenience function for consistent error recording.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// RecordSuccess sets the span status to OK.
// This is a convenience function for marking successful operations.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
