package health

import (
	"context"
	"fmt"
	"time"
)

// Checkable is satisfied by anything exposing the storage contract's
// health probe: every storage binding and the engine itself.
type Checkable interface {
	HealthCheck(ctx context.Context) error
}

// AdapterChecker probes a Checkable under its own timeout, so one
// stuck backend cannot drag a whole registry run past its deadline.
type AdapterChecker struct {
	name    string
	adapter Checkable
	timeout time.Duration
}

// NewAdapterChecker creates a checker for adapter named name. A zero
// timeout defaults to 5s.
func NewAdapterChecker(name string, adapter Checkable, timeout time.Duration) *AdapterChecker {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &AdapterChecker{name: name, adapter: adapter, timeout: timeout}
}

// NewStorageChecker creates a checker for a storage binding with the
// default timeout. The conventional name is the backend type from
// configuration ("redis", "postgres", ...).
func NewStorageChecker(name string, adapter Checkable) *AdapterChecker {
	return NewAdapterChecker(name, adapter, 5*time.Second)
}

// Check runs the probe and translates its error into a CheckResult.
func (c *AdapterChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()

	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.adapter.HealthCheck(checkCtx)
	duration := time.Since(start)

	if err != nil {
		return CheckResult{
			Name:      c.name,
			Status:    StatusUnhealthy,
			Error:     err.Error(),
			Timestamp: time.Now(),
			Duration:  duration,
		}
	}
	return CheckResult{
		Name:      c.name,
		Status:    StatusHealthy,
		Message:   "OK",
		Timestamp: time.Now(),
		Duration:  duration,
	}
}

func (c *AdapterChecker) Name() string { return c.name }

// PingChecker always reports healthy. It backs liveness probes, which
// only ask whether the process is responsive at all.
type PingChecker struct {
	name string
}

// NewPingChecker creates a ping checker named name.
func NewPingChecker(name string) *PingChecker {
	return &PingChecker{name: name}
}

func (c *PingChecker) Check(ctx context.Context) CheckResult {
	return CheckResult{
		Name:      c.name,
		Status:    StatusHealthy,
		Message:   "alive",
		Timestamp: time.Now(),
	}
}

func (c *PingChecker) Name() string { return c.name }

// CompositeChecker folds several checkers into one result, useful when
// a readiness endpoint should expose a single line for a subsystem.
type CompositeChecker struct {
	name     string
	checkers []Checker
}

// NewCompositeChecker creates a composite over checkers.
func NewCompositeChecker(name string, checkers ...Checker) *CompositeChecker {
	return &CompositeChecker{name: name, checkers: checkers}
}

// Check runs the sub-checks sequentially and reports the worst status,
// collecting every failing sub-check's error into one message.
func (c *CompositeChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	status := StatusHealthy
	var failures []string

	for _, checker := range c.checkers {
		result := checker.Check(ctx)
		status = worse(status, result.Status)
		if result.Status == StatusUnhealthy && result.Error != "" {
			failures = append(failures, fmt.Sprintf("%s: %s", result.Name, result.Error))
		}
	}

	result := CheckResult{
		Name:      c.name,
		Status:    status,
		Timestamp: time.Now(),
		Duration:  time.Since(start),
	}
	if len(failures) > 0 {
		result.Error = fmt.Sprintf("sub-checks failed: %v", failures)
	} else if status == StatusHealthy {
		result.Message = "all sub-checks passed"
	}
	return result
}

func (c *CompositeChecker) Name() string { return c.name }

// CustomChecker builds a checker from a function returning status,
// message and error, for probes that do not fit the Checkable shape.
type CustomChecker struct {
	name string
	fn   func(ctx context.Context) (Status, string, error)
}

// NewCustomChecker creates a checker around fn.
func NewCustomChecker(name string, fn func(ctx context.Context) (Status, string, error)) *CustomChecker {
	return &CustomChecker{name: name, fn: fn}
}

func (c *CustomChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	status, message, err := c.fn(ctx)

	result := CheckResult{
		Name:      c.name,
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
		Duration:  time.Since(start),
	}
	if err != nil {
		result.Error = err.Error()
	}
	return result
}

func (c *CustomChecker) Name() string { return c.name }
