package logger

import (
	"context"
	"sync"
	"sync/atomic"
)

// AsyncConfig configures the asynchronous dispatch wrapper.
type AsyncConfig struct {
	Enabled bool
	// QueueSize bounds the entry queue; defaults to 1024.
	QueueSize int
	// WorkerCount is the number of drain goroutines; defaults to 1.
	WorkerCount int
	// DropWhenFull discards entries instead of blocking the caller when
	// the queue is full. Put hot paths enable this.
	DropWhenFull bool
}

type level int

const (
	levelDebug level = iota
	levelInfo
	levelWarn
	levelError
)

// entry binds a queued message to the child logger that produced it, so
// fields added via With survive the queue hop.
type entry struct {
	sink  Logger
	level level
	msg   string
	args  []any
}

type dispatcher struct {
	queue        chan entry
	dropWhenFull bool
	wg           sync.WaitGroup
	stopOnce     sync.Once
	stopped      atomic.Bool
}

func (d *dispatcher) stop() {
	d.stopOnce.Do(func() {
		d.stopped.Store(true)
		close(d.queue)
		d.wg.Wait()
	})
}

// AsyncLogger decouples log emission from the calling goroutine. Children
// created with With or WithContext share the parent's queue and workers.
type AsyncLogger struct {
	base       Logger
	dispatcher *dispatcher
}

// WrapAsync wraps base with asynchronous dispatch. When cfg.Enabled is
// false the base logger is returned untouched.
func WrapAsync(base Logger, cfg AsyncConfig) Logger {
	if !cfg.Enabled {
		return base
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1024
	}
	workers := cfg.WorkerCount
	if workers <= 0 {
		workers = 1
	}

	d := &dispatcher{
		queue:        make(chan entry, queueSize),
		dropWhenFull: cfg.DropWhenFull,
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for e := range d.queue {
				emit(e.sink, e.level, e.msg, e.args...)
			}
		}()
	}

	return &AsyncLogger{base: base, dispatcher: d}
}

func (l *AsyncLogger) Debug(msg string, args ...any) { l.enqueue(levelDebug, msg, args...) }
func (l *AsyncLogger) Info(msg string, args ...any)  { l.enqueue(levelInfo, msg, args...) }
func (l *AsyncLogger) Warn(msg string, args ...any)  { l.enqueue(levelWarn, msg, args...) }
func (l *AsyncLogger) Error(msg string, args ...any) { l.enqueue(levelError, msg, args...) }

// With returns a child sharing this logger's dispatcher.
func (l *AsyncLogger) With(args ...any) Logger {
	return &AsyncLogger{base: l.base.With(args...), dispatcher: l.dispatcher}
}

// WithContext returns a child sharing this logger's dispatcher.
func (l *AsyncLogger) WithContext(ctx context.Context) Logger {
	return &AsyncLogger{base: l.base.WithContext(ctx), dispatcher: l.dispatcher}
}

// Close drains the queue and stops the workers. Entries logged after
// Close are emitted synchronously through the base logger.
func (l *AsyncLogger) Close() {
	l.dispatcher.stop()
}

func (l *AsyncLogger) enqueue(lv level, msg string, args ...any) {
	if l.dispatcher.stopped.Load() {
		emit(l.base, lv, msg, args...)
		return
	}

	e := entry{sink: l.base, level: lv, msg: msg, args: args}
	if l.dispatcher.dropWhenFull {
		select {
		case l.dispatcher.queue <- e:
		default:
		}
		return
	}
	l.dispatcher.queue <- e
}

func emit(sink Logger, lv level, msg string, args ...any) {
	switch lv {
	case levelDebug:
		sink.Debug(msg, args...)
	case levelInfo:
		sink.Info(msg, args...)
	case levelWarn:
		sink.Warn(msg, args...)
	case levelError:
		sink.Error(msg, args...)
	}
}
