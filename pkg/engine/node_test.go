package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nodekv/nodekv/pkg/record"
	"github.com/nodekv/nodekv/pkg/storage"
	"github.com/nodekv/nodekv/pkg/storage/memory"
)

// withMemory returns an engine backed by the in-memory binding.
func withMemory(t *testing.T) *Engine {
	t.Helper()
	e := New(&mockLogger{})
	if err := e.Register(context.Background(), memory.NewMemoryAdapter(&mockLogger{})); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return e
}

func TestNodeRoundTrip(t *testing.T) {
	e := withMemory(t)
	defer e.Close()
	ctx := context.Background()

	fields := map[string]any{
		"name":   "Alice",
		"age":    42,
		"score":  1.5,
		"active": true,
		"friend": Ref("n2"),
	}
	if err := e.Write(ctx, "n1", fields); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	node, err := e.Node(ctx, "n1")
	if err != nil {
		t.Fatalf("Node() error = %v", err)
	}
	if node.Key != "n1" {
		t.Errorf("Node().Key = %q, want n1", node.Key)
	}
	if len(node.Fields) != len(fields) {
		t.Fatalf("Node() returned %d fields, want %d", len(node.Fields), len(fields))
	}

	if got := node.Val("name"); got != "Alice" {
		t.Errorf("Val(name) = %q, want Alice", got)
	}
	if got := node.Val("age"); got != "42" {
		t.Errorf("Val(age) = %q, want 42", got)
	}
	if got := node.Val("score"); got != "1.5" {
		t.Errorf("Val(score) = %q, want 1.5", got)
	}
	if got := node.Val("active"); got != "true" {
		t.Errorf("Val(active) = %q, want true", got)
	}
	if got := node.Rel("friend"); got != "n2" {
		t.Errorf("Rel(friend) = %q, want n2", got)
	}

	// Accessors answer "" across the val/rel divide instead of lying.
	if got := node.Rel("name"); got != "" {
		t.Errorf("Rel(name) on a scalar field = %q, want empty", got)
	}
	if got := node.Val("friend"); got != "" {
		t.Errorf("Val(friend) on an edge field = %q, want empty", got)
	}
	if got := node.Val("missing"); got != "" {
		t.Errorf("Val(missing) = %q, want empty", got)
	}
}

func TestNodeMissingKey(t *testing.T) {
	e := withMemory(t)
	defer e.Close()

	_, err := e.Node(context.Background(), "ghost")
	if !storage.IsNotFound(err) {
		t.Fatalf("Node() on missing key = %v, want not-found", err)
	}
}

// A backend holding rival records for one field must collapse to a
// single deterministic winner per field.
func TestNodeResolvesRivalRecords(t *testing.T) {
	stub := &stubAdapter{getRecords: []record.Record{
		record.Value("n1", "name", "old", 5),
		record.Value("n1", "name", "new", 9),
		record.Value("n1", "color", "blue", 7),
	}}
	e := registered(t, stub)

	node, err := e.Node(context.Background(), "n1")
	if err != nil {
		t.Fatalf("Node() error = %v", err)
	}
	if len(node.Fields) != 2 {
		t.Fatalf("Node() returned %d fields, want 2", len(node.Fields))
	}
	name := node.Fields["name"]
	if name.ValOrEmpty() != "new" || name.State != 9 {
		t.Errorf("Fields[name] = %q state %d, want new state 9", name.ValOrEmpty(), name.State)
	}
	if node.Fields["color"].ValOrEmpty() != "blue" {
		t.Errorf("Fields[color] = %q, want blue", node.Fields["color"].ValOrEmpty())
	}
}

func TestFieldReadsSingleCell(t *testing.T) {
	e := withMemory(t)
	defer e.Close()
	ctx := context.Background()

	if err := e.Write(ctx, "n1", map[string]any{"name": "Alice", "age": 42}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	rec, err := e.Field(ctx, "n1", "name")
	if err != nil {
		t.Fatalf("Field() error = %v", err)
	}
	if rec.Key != "n1" || rec.Field != "name" || rec.ValOrEmpty() != "Alice" {
		t.Errorf("Field() = %+v, want n1/name=Alice", rec)
	}

	if _, err := e.Field(ctx, "n1", "missing"); !storage.IsNotFound(err) {
		t.Errorf("Field() on missing field = %v, want not-found", err)
	}
}

func TestFieldResolvesRivals(t *testing.T) {
	stub := &stubAdapter{getRecords: []record.Record{
		record.Value("n1", "name", "old", 5),
		record.Value("n1", "name", "new", 9),
	}}
	e := registered(t, stub)

	rec, err := e.Field(context.Background(), "n1", "name")
	if err != nil {
		t.Fatalf("Field() error = %v", err)
	}
	if rec.ValOrEmpty() != "new" || rec.State != 9 {
		t.Errorf("Field() = %q state %d, want new state 9", rec.ValOrEmpty(), rec.State)
	}
}

func TestEachVisitsEveryRecord(t *testing.T) {
	e := withMemory(t)
	defer e.Close()
	ctx := context.Background()

	// One field per write: records inside a single batch land in
	// whatever order the per-record writes win the lock, but separate
	// writes pin the memory binding's insertion order.
	for _, w := range []struct {
		field string
		value any
	}{{"a", "1"}, {"b", "2"}, {"c", Ref("n2")}} {
		if err := e.Write(ctx, "n1", map[string]any{w.field: w.value}); err != nil {
			t.Fatalf("Write(%s) error = %v", w.field, err)
		}
	}

	var fields []string
	err := e.Each(ctx, "n1", func(rec record.Record) error {
		fields = append(fields, rec.Field)
		return nil
	})
	if err != nil {
		t.Fatalf("Each() error = %v", err)
	}
	want := []string{"a", "b", "c"}
	if len(fields) != len(want) {
		t.Fatalf("Each() visited %d records, want %d", len(fields), len(want))
	}
	for i := range want {
		if fields[i] != want[i] {
			t.Errorf("Each() visit %d = %q, want %q", i, fields[i], want[i])
		}
	}
}

func TestEachCallbackErrorStopsWalk(t *testing.T) {
	e := withMemory(t)
	defer e.Close()
	ctx := context.Background()

	if err := e.Write(ctx, "n1", map[string]any{"a": "1", "b": "2", "c": "3"}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	stop := errors.New("seen enough")
	visits := 0
	err := e.Each(ctx, "n1", func(record.Record) error {
		visits++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Fatalf("Each() = %v, want the callback's own error", err)
	}
	if visits != 1 {
		t.Errorf("callback ran %d times after aborting, want 1", visits)
	}
}

func TestEachMissingKey(t *testing.T) {
	e := withMemory(t)
	defer e.Close()

	err := e.Each(context.Background(), "ghost", func(record.Record) error { return nil })
	if !storage.IsNotFound(err) {
		t.Fatalf("Each() on missing key = %v, want not-found", err)
	}
}

func TestEachSurfacesStreamFailure(t *testing.T) {
	delivered := []record.Record{
		record.Value("n1", "a", "1", 1),
		record.Value("n1", "b", "2", 2),
	}
	stub := &stubAdapter{
		stream: storage.NewFailedStream("stream", "n1", "", delivered, errors.New("cursor died")),
	}
	e := registered(t, stub)

	visits := 0
	err := e.Each(context.Background(), "n1", func(record.Record) error {
		visits++
		return nil
	})
	if !storage.IsInternal(err) {
		t.Fatalf("Each() over failed stream = %v, want internal", err)
	}
	if visits != len(delivered) {
		t.Errorf("callback ran %d times, want %d records before the failure", visits, len(delivered))
	}
}

// Reads teach the engine's clock about foreign states: after seeing a
// record stamped in the future, the next local write must still outrank
// it.
func TestReadAdvancesWriteStates(t *testing.T) {
	future := time.Now().UnixMilli() + 1_000_000
	stub := &stubAdapter{getRecords: []record.Record{
		record.Value("n1", "name", "theirs", future),
	}}
	e := registered(t, stub)
	ctx := context.Background()

	if _, err := e.Node(ctx, "n1"); err != nil {
		t.Fatalf("Node() error = %v", err)
	}
	if err := e.Write(ctx, "n1", map[string]any{"name": "ours"}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	batch := stub.lastPut()
	if len(batch) != 1 {
		t.Fatalf("captured %d records, want 1", len(batch))
	}
	if batch[0].State <= future {
		t.Errorf("Write() state %d does not outrank observed state %d", batch[0].State, future)
	}
}
