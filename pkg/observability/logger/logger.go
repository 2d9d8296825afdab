// Package logger provides the structured logging surface used across
// nodekv. Storage bindings receive a Logger at construction and report
// connection lifecycle and operation failures through it; nothing in the
// library writes to the standard log package.
package logger

import "context"

// Logger is a leveled, structured logger. Every method takes a message
// followed by alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	// With returns a child logger whose entries always carry the given
	// key/value pairs.
	With(args ...any) Logger

	// WithContext returns a child logger enriched from ctx; a request id
	// stored under the "request_id" key is attached to every entry.
	WithContext(ctx context.Context) Logger
}
