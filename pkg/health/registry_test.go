package health

import (
	"context"
	"testing"
	"time"
)

type mockChecker struct {
	name   string
	result CheckResult
	delay  time.Duration
}

func (m *mockChecker) Check(ctx context.Context) CheckResult {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	return m.result
}

func (m *mockChecker) Name() string { return m.name }

func healthy(name string) *mockChecker {
	return &mockChecker{name: name, result: CheckResult{Name: name, Status: StatusHealthy}}
}

func unhealthy(name, msg string) *mockChecker {
	return &mockChecker{name: name, result: CheckResult{Name: name, Status: StatusUnhealthy, Error: msg}}
}

func degraded(name string) *mockChecker {
	return &mockChecker{name: name, result: CheckResult{Name: name, Status: StatusDegraded}}
}

func TestNewRegistryIsEmpty(t *testing.T) {
	registry := NewRegistry()
	if registry == nil {
		t.Fatal("NewRegistry() returned nil")
	}
	if got := registry.List(); len(got) != 0 {
		t.Errorf("new registry lists %d checks, want 0", len(got))
	}
}

func TestRegisterReplacesSameName(t *testing.T) {
	registry := NewRegistry()

	registry.Register(healthy("storage"))
	registry.Register(healthy("engine"))
	if got := registry.List(); len(got) != 2 {
		t.Fatalf("List() has %d names, want 2", len(got))
	}

	registry.Register(unhealthy("storage", "lost connection"))
	if got := registry.List(); len(got) != 2 {
		t.Errorf("List() after replacement has %d names, want 2", len(got))
	}

	result, err := registry.CheckOne(context.Background(), "storage")
	if err != nil {
		t.Fatalf("CheckOne() error = %v", err)
	}
	if result.Status != StatusUnhealthy {
		t.Errorf("replaced checker status = %s, want %s", result.Status, StatusUnhealthy)
	}
}

func TestRegisterFunc(t *testing.T) {
	registry := NewRegistry()
	registry.RegisterFunc("probe", func(ctx context.Context) CheckResult {
		return CheckResult{Name: "probe", Status: StatusHealthy}
	})

	names := registry.List()
	if len(names) != 1 || names[0] != "probe" {
		t.Errorf("List() = %v, want [probe]", names)
	}
}

func TestUnregister(t *testing.T) {
	registry := NewRegistry()
	registry.Register(healthy("storage"))

	registry.Unregister("storage")
	if got := registry.List(); len(got) != 0 {
		t.Errorf("List() after Unregister has %d names, want 0", len(got))
	}

	// Unknown names are a no-op.
	registry.Unregister("never-registered")
}

func TestCheckAggregation(t *testing.T) {
	tests := []struct {
		name     string
		checkers []*mockChecker
		want     Status
	}{
		{"all healthy", []*mockChecker{healthy("a"), healthy("b")}, StatusHealthy},
		{"one unhealthy", []*mockChecker{healthy("a"), unhealthy("b", "down")}, StatusUnhealthy},
		{"one degraded", []*mockChecker{healthy("a"), degraded("b")}, StatusDegraded},
		{"unhealthy beats degraded", []*mockChecker{degraded("a"), unhealthy("b", "down")}, StatusUnhealthy},
		{"empty registry", nil, StatusHealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := NewRegistry()
			for _, c := range tt.checkers {
				registry.Register(c)
			}

			result := registry.Check(context.Background())
			if result.Status != tt.want {
				t.Errorf("Check().Status = %s, want %s", result.Status, tt.want)
			}
			if len(result.Checks) != len(tt.checkers) {
				t.Errorf("Check() ran %d checks, want %d", len(result.Checks), len(tt.checkers))
			}
			if result.IsHealthy() != (tt.want == StatusHealthy) {
				t.Errorf("IsHealthy() = %v for status %s", result.IsHealthy(), tt.want)
			}
		})
	}
}

func TestCheckRunsConcurrently(t *testing.T) {
	registry := NewRegistry()
	delay := 100 * time.Millisecond
	for _, name := range []string{"a", "b", "c"} {
		registry.Register(&mockChecker{
			name:   name,
			delay:  delay,
			result: CheckResult{Name: name, Status: StatusHealthy},
		})
	}

	start := time.Now()
	result := registry.Check(context.Background())
	elapsed := time.Since(start)

	// Sequential execution would need 3*delay.
	if elapsed > delay+80*time.Millisecond {
		t.Errorf("Check() took %v, checks appear to run sequentially", elapsed)
	}
	if result.Status != StatusHealthy {
		t.Errorf("Check().Status = %s, want healthy", result.Status)
	}
}

func TestCheckOneUnknownName(t *testing.T) {
	registry := NewRegistry()
	if _, err := registry.CheckOne(context.Background(), "ghost"); err == nil {
		t.Error("CheckOne() on unknown name returned nil error")
	}
}

func TestListIsSorted(t *testing.T) {
	registry := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		registry.Register(healthy(name))
	}

	got := registry.List()
	want := []string{"alpha", "mid", "zeta"}
	if len(got) != len(want) {
		t.Fatalf("List() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("List()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCheckWithCanceledContext(t *testing.T) {
	registry := NewRegistry()
	registry.RegisterFunc("context-aware", func(ctx context.Context) CheckResult {
		select {
		case <-ctx.Done():
			return CheckResult{Name: "context-aware", Status: StatusUnhealthy, Error: ctx.Err().Error()}
		case <-time.After(100 * time.Millisecond):
			return CheckResult{Name: "context-aware", Status: StatusHealthy}
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := registry.Check(ctx)
	if len(result.Checks) != 1 {
		t.Fatalf("Check() ran %d checks, want 1", len(result.Checks))
	}
	if result.Checks[0].Status != StatusUnhealthy {
		t.Errorf("canceled check status = %s, want unhealthy", result.Checks[0].Status)
	}
}

func TestWorseOrdering(t *testing.T) {
	tests := []struct {
		a, b, want Status
	}{
		{StatusHealthy, StatusHealthy, StatusHealthy},
		{StatusHealthy, StatusDegraded, StatusDegraded},
		{StatusDegraded, StatusHealthy, StatusDegraded},
		{StatusHealthy, StatusUnhealthy, StatusUnhealthy},
		{StatusDegraded, StatusUnhealthy, StatusUnhealthy},
		{StatusUnhealthy, StatusDegraded, StatusUnhealthy},
	}
	for _, tt := range tests {
		if got := worse(tt.a, tt.b); got != tt.want {
			t.Errorf("worse(%s, %s) = %s, want %s", tt.a, tt.b, got, tt.want)
		}
	}
}
