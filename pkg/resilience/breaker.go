// Package resilience guards storage backends against cascading
// failures. A Breaker sits in front of a binding and stops dispatching
// operations to a backend that keeps failing, giving it room to
// recover instead of drowning it in doomed calls.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned when the breaker rejects a call without
// dispatching it.
var ErrOpen = errors.New("circuit breaker is open")

// State is the breaker position.
type State int

const (
	// StateClosed dispatches every call.
	StateClosed State = iota
	// StateOpen rejects every call until the cooldown elapses.
	StateOpen
	// StateHalfOpen dispatches a single probe call.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker is a consecutive-failure circuit breaker. Closed, it counts
// consecutive failures and trips once they reach the limit. Open, it
// rejects calls until the cooldown elapses, then lets exactly one probe
// through; the probe's outcome decides between closing and reopening.
//
// Transitions happen on dispatch: an open breaker stays open until the
// next call after the cooldown, not the moment the cooldown elapses.
// Outcomes of calls dispatched before a transition are discarded, so a
// slow call from a previous era cannot flip the state behind the
// probe's back.
type Breaker struct {
	limit    int
	cooldown time.Duration

	mu         sync.Mutex
	state      State
	failures   int
	openedAt   time.Time
	probing    bool
	generation uint64

	now func() time.Time
}

// NewBreaker creates a closed breaker that trips after limit
// consecutive failures and re-probes after cooldown. A limit below one
// is raised to one; a cooldown below one defaults to 30 seconds.
func NewBreaker(limit int, cooldown time.Duration) *Breaker {
	if limit <= 0 {
		limit = 1
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{limit: limit, cooldown: cooldown, now: time.Now}
}

// Execute dispatches fn if the breaker allows it and accounts for the
// outcome. When the breaker rejects the call it returns ErrOpen and fn
// never runs; otherwise it returns whatever fn returned.
func (b *Breaker) Execute(fn func() error) error {
	gen, err := b.acquire()
	if err != nil {
		return err
	}
	opErr := fn()
	b.settle(gen, opErr)
	return opErr
}

// State returns the current breaker position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset force-closes the breaker and clears its failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.toClosed()
}

func (b *Breaker) acquire() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return 0, ErrOpen
		}
		b.state = StateHalfOpen
		b.probing = true
		b.generation++
		return b.generation, nil
	case StateHalfOpen:
		if b.probing {
			return 0, ErrOpen
		}
		b.probing = true
		return b.generation, nil
	default:
		return b.generation, nil
	}
}

func (b *Breaker) settle(gen uint64, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Outcome from before the last transition; the era it belongs to
	// is over.
	if gen != b.generation {
		return
	}

	if b.state == StateHalfOpen {
		b.probing = false
		if err != nil {
			b.toOpen()
			return
		}
		b.toClosed()
		return
	}

	if err == nil {
		b.failures = 0
		return
	}
	b.failures++
	if b.failures >= b.limit {
		b.toOpen()
	}
}

// toOpen and toClosed must run with the lock held.
func (b *Breaker) toOpen() {
	b.state = StateOpen
	b.failures = 0
	b.probing = false
	b.openedAt = b.now()
	b.generation++
}

func (b *Breaker) toClosed() {
	b.state = StateClosed
	b.failures = 0
	b.probing = false
	b.generation++
}
