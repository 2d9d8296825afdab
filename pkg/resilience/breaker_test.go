package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"
)

var errBackend = errors.New("backend down")

type fakeClock struct {
	mu sync.Mutex
	at time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{at: time.Unix(1700000000, 0)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.at = c.at.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(limit int, cooldown time.Duration) (*Breaker, *fakeClock) {
	b := NewBreaker(limit, cooldown)
	clock := newFakeClock()
	b.now = clock.now
	return b, clock
}

func fail() error { return errBackend }
func ok() error   { return nil }

func TestBreakerStartsClosed(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	if got := b.State(); got != StateClosed {
		t.Fatalf("State() = %v, want %v", got, StateClosed)
	}
	if err := b.Execute(ok); err != nil {
		t.Fatalf("Execute(ok) = %v, want nil", err)
	}
}

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		if err := b.Execute(fail); !errors.Is(err, errBackend) {
			t.Fatalf("Execute(fail) = %v, want backend error", err)
		}
	}
	if got := b.State(); got != StateClosed {
		t.Fatalf("State() after 2 failures = %v, want %v", got, StateClosed)
	}

	// A success resets the consecutive count.
	if err := b.Execute(ok); err != nil {
		t.Fatalf("Execute(ok) = %v, want nil", err)
	}
	for i := 0; i < 2; i++ {
		if err := b.Execute(fail); !errors.Is(err, errBackend) {
			t.Fatalf("Execute(fail) = %v, want backend error", err)
		}
	}
	if got := b.State(); got != StateClosed {
		t.Fatalf("State() after reset+2 failures = %v, want %v", got, StateClosed)
	}

	if err := b.Execute(fail); !errors.Is(err, errBackend) {
		t.Fatalf("Execute(fail) = %v, want backend error", err)
	}
	if got := b.State(); got != StateOpen {
		t.Fatalf("State() after 3 consecutive failures = %v, want %v", got, StateOpen)
	}

	ran := false
	err := b.Execute(func() error { ran = true; return nil })
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("Execute() while open = %v, want ErrOpen", err)
	}
	if ran {
		t.Fatal("fn ran while the breaker was open")
	}
}

func TestBreakerRejectsWhileCooling(t *testing.T) {
	b, clock := newTestBreaker(1, time.Minute)

	if err := b.Execute(fail); !errors.Is(err, errBackend) {
		t.Fatalf("Execute(fail) = %v, want backend error", err)
	}

	clock.advance(59 * time.Second)
	if err := b.Execute(ok); !errors.Is(err, ErrOpen) {
		t.Fatalf("Execute() before cooldown = %v, want ErrOpen", err)
	}
}

func TestBreakerProbeSuccessCloses(t *testing.T) {
	b, clock := newTestBreaker(1, time.Minute)

	if err := b.Execute(fail); !errors.Is(err, errBackend) {
		t.Fatalf("Execute(fail) = %v, want backend error", err)
	}
	clock.advance(time.Minute)

	ran := false
	if err := b.Execute(func() error { ran = true; return nil }); err != nil {
		t.Fatalf("probe Execute() = %v, want nil", err)
	}
	if !ran {
		t.Fatal("probe fn did not run after cooldown")
	}
	if got := b.State(); got != StateClosed {
		t.Fatalf("State() after successful probe = %v, want %v", got, StateClosed)
	}
}

func TestBreakerProbeFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(1, time.Minute)

	if err := b.Execute(fail); !errors.Is(err, errBackend) {
		t.Fatalf("Execute(fail) = %v, want backend error", err)
	}
	clock.advance(time.Minute)

	if err := b.Execute(fail); !errors.Is(err, errBackend) {
		t.Fatalf("probe Execute(fail) = %v, want backend error", err)
	}
	if got := b.State(); got != StateOpen {
		t.Fatalf("State() after failed probe = %v, want %v", got, StateOpen)
	}

	if err := b.Execute(ok); !errors.Is(err, ErrOpen) {
		t.Fatalf("Execute() after reopen = %v, want ErrOpen", err)
	}

	// The cooldown restarts from the failed probe.
	clock.advance(time.Minute)
	if err := b.Execute(ok); err != nil {
		t.Fatalf("second probe Execute() = %v, want nil", err)
	}
	if got := b.State(); got != StateClosed {
		t.Fatalf("State() after second probe = %v, want %v", got, StateClosed)
	}
}

func TestBreakerAllowsSingleProbe(t *testing.T) {
	b, clock := newTestBreaker(1, time.Minute)

	if err := b.Execute(fail); !errors.Is(err, errBackend) {
		t.Fatalf("Execute(fail) = %v, want backend error", err)
	}
	clock.advance(time.Minute)

	started := make(chan struct{})
	release := make(chan error)
	done := make(chan error, 1)
	go func() {
		done <- b.Execute(func() error {
			close(started)
			return <-release
		})
	}()
	<-started

	if err := b.Execute(ok); !errors.Is(err, ErrOpen) {
		t.Fatalf("Execute() during probe = %v, want ErrOpen", err)
	}

	release <- nil
	if err := <-done; err != nil {
		t.Fatalf("probe Execute() = %v, want nil", err)
	}
	if got := b.State(); got != StateClosed {
		t.Fatalf("State() after probe = %v, want %v", got, StateClosed)
	}
}

func TestBreakerDropsStaleOutcome(t *testing.T) {
	b, _ := newTestBreaker(2, time.Minute)

	// A call from the closed era is still in flight when the breaker
	// trips; its late success must not close the circuit.
	gen, err := b.acquire()
	if err != nil {
		t.Fatalf("acquire() = %v, want nil", err)
	}
	for i := 0; i < 2; i++ {
		if err := b.Execute(fail); !errors.Is(err, errBackend) {
			t.Fatalf("Execute(fail) = %v, want backend error", err)
		}
	}
	if got := b.State(); got != StateOpen {
		t.Fatalf("State() = %v, want %v", got, StateOpen)
	}

	b.settle(gen, nil)
	if got := b.State(); got != StateOpen {
		t.Fatalf("State() after stale success = %v, want %v", got, StateOpen)
	}
}

func TestBreakerReset(t *testing.T) {
	b, _ := newTestBreaker(1, time.Minute)

	if err := b.Execute(fail); !errors.Is(err, errBackend) {
		t.Fatalf("Execute(fail) = %v, want backend error", err)
	}
	b.Reset()

	if got := b.State(); got != StateClosed {
		t.Fatalf("State() after Reset = %v, want %v", got, StateClosed)
	}
	if err := b.Execute(ok); err != nil {
		t.Fatalf("Execute(ok) after Reset = %v, want nil", err)
	}
}

func TestNewBreakerClampsConfig(t *testing.T) {
	b := NewBreaker(0, 0)
	if b.limit != 1 {
		t.Fatalf("limit = %d, want 1", b.limit)
	}
	if b.cooldown != 30*time.Second {
		t.Fatalf("cooldown = %v, want 30s", b.cooldown)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
