// Package engine sits on top of a storage binding and owns everything
// the storage contract leaves to the caller: which binding is active,
// conflict resolution between records for the same cell, and the version
// states stamped onto writes. It reconstructs nodes from record cells on
// read and decomposes field maps into record batches on write.
//
// An Engine walks a one-way lifecycle: Unregistered until Register
// installs a binding and connects it, Configured once the binding is
// connected, Active after the first operation succeeds. There is no way
// back; a closed engine stays closed.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nodekv/nodekv/pkg/observability/logger"
	"github.com/nodekv/nodekv/pkg/observability/tracing"
	"github.com/nodekv/nodekv/pkg/storage"
)

var (
	errNilAdapter        = errors.New("adapter is nil")
	errAlreadyRegistered = errors.New("an adapter is already registered")
	errNotRegistered     = errors.New("no adapter registered")
	errEngineClosed      = errors.New("engine is closed")
)

// Status is the engine's position in its one-way lifecycle.
type Status int

const (
	// StatusUnregistered means no binding has been installed yet.
	StatusUnregistered Status = iota
	// StatusConfigured means a binding is installed and connected.
	StatusConfigured
	// StatusActive means at least one operation has succeeded.
	StatusActive
)

func (s Status) String() string {
	switch s {
	case StatusUnregistered:
		return "unregistered"
	case StatusConfigured:
		return "configured"
	case StatusActive:
		return "active"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Engine coordinates one storage binding. Exactly one binding can be
// registered over an Engine's lifetime; all operations route through it.
// All methods are safe for concurrent use, and no lock is held across a
// binding call.
type Engine struct {
	log   logger.Logger
	clock stateClock

	mu          sync.RWMutex
	adapter     storage.Adapter
	status      Status
	registering bool
	closed      bool
}

// New creates an engine with no binding registered.
func New(log logger.Logger) *Engine {
	return &Engine{log: log}
}

// Register installs adapter as the engine's single binding and connects
// it. Registration is explicit and happens at most once: a second call,
// or a call racing another, fails. On Connect failure the engine stays
// Unregistered and a later Register may try again with a fresh adapter.
func (e *Engine) Register(ctx context.Context, adapter storage.Adapter) error {
	ctx, span := tracing.StartEngineSpan(ctx, tracing.SpanOperationEngineRegister)
	defer span.End()

	if adapter == nil {
		err := storage.NewInternal("register", "", "", errNilAdapter)
		tracing.RecordError(span, err)
		return err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		err := storage.NewInternal("register", "", "", errEngineClosed)
		tracing.RecordError(span, err)
		return err
	}
	if e.status != StatusUnregistered || e.registering {
		e.mu.Unlock()
		err := storage.NewInternal("register", "", "", errAlreadyRegistered)
		tracing.RecordError(span, err)
		return err
	}
	e.registering = true
	e.mu.Unlock()

	// Connect runs without the lock so a slow dial never blocks Status
	// or Close. The registering flag keeps rival Registers out.
	if err := adapter.Connect(ctx); err != nil {
		e.mu.Lock()
		e.registering = false
		e.mu.Unlock()
		tracing.RecordError(span, err)
		return err
	}

	e.mu.Lock()
	if e.closed {
		// Close won the race while Connect was in flight; the engine
		// will never use this adapter, so shut it down here.
		e.registering = false
		e.mu.Unlock()
		_ = adapter.Close()
		err := storage.NewInternal("register", "", "", errEngineClosed)
		tracing.RecordError(span, err)
		return err
	}
	e.adapter = adapter
	e.status = StatusConfigured
	e.registering = false
	e.mu.Unlock()

	e.log.Info("storage adapter registered")
	tracing.RecordSuccess(span)
	return nil
}

// Status reports the engine's current lifecycle position.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// Close shuts the registered binding down. It is safe to call more than
// once; every call after the first returns nil without touching the
// binding. A closed engine rejects all further operations.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	adapter := e.adapter
	e.mu.Unlock()

	if adapter == nil {
		return nil
	}
	e.log.Info("engine closed")
	return adapter.Close()
}

// HealthCheck probes the registered binding. The engine exposes the
// same probe shape the bindings do, so it can sit in a health registry
// directly. Probing never changes the lifecycle status.
func (e *Engine) HealthCheck(ctx context.Context) error {
	adapter, err := e.bound("health_check")
	if err != nil {
		return err
	}
	return adapter.HealthCheck(ctx)
}

// bound returns the registered binding, or the internal taxonomy error
// an operation must surface when called too early or after Close.
func (e *Engine) bound(op string) (storage.Adapter, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, storage.NewInternal(op, "", "", errEngineClosed)
	}
	if e.adapter == nil {
		return nil, storage.NewInternal(op, "", "", errNotRegistered)
	}
	return e.adapter, nil
}

// markActive records the first operation success. Later calls are no-ops.
func (e *Engine) markActive() {
	e.mu.Lock()
	if e.status == StatusConfigured {
		e.status = StatusActive
	}
	e.mu.Unlock()
}
