// Package record defines the unit of exchange between a graph engine and
// its storage binding: a node's properties decomposed into key/field cells
// carrying either a scalar value or a relationship to another node, plus
// the version state stamped by the writer.
package record

import (
	"errors"
	"fmt"
)

// Record is the atomic unit handed to and from a storage binding.
//
// Exactly one of Val and Rel is set. Val carries a scalar property value;
// Rel carries the key of another node and marks the record as an edge.
// State is assigned by the caller and must round-trip through storage
// untouched; bindings never compute or bump it.
type Record struct {
	Key   string
	Field string
	Val   *string
	Rel   *string
	State int64
}

// Batch is an ordered sequence of records making up one logical
// multi-field write. Order is preserved for the caller's benefit only;
// backends are free to apply writes concurrently.
type Batch []Record

// Value builds a scalar record.
func Value(key, field, val string, state int64) Record {
	return Record{Key: key, Field: field, Val: &val, State: state}
}

// Relation builds an edge record pointing at the node identified by rel.
func Relation(key, field, rel string, state int64) Record {
	return Record{Key: key, Field: field, Rel: &rel, State: state}
}

// HasVal reports whether the record carries a scalar value.
func (r Record) HasVal() bool { return r.Val != nil }

// HasRel reports whether the record is an edge.
func (r Record) HasRel() bool { return r.Rel != nil }

// ValOrEmpty returns the scalar value, or "" when the record is an edge.
func (r Record) ValOrEmpty() string {
	if r.Val != nil {
		return *r.Val
	}
	return ""
}

// RelOrEmpty returns the referenced node key, or "" for scalar records.
func (r Record) RelOrEmpty() string {
	if r.Rel != nil {
		return *r.Rel
	}
	return ""
}

// Clone returns a copy that shares no pointers with the receiver, so a
// stored record cannot be mutated through the caller's references.
func (r Record) Clone() Record {
	out := r
	if r.Val != nil {
		v := *r.Val
		out.Val = &v
	}
	if r.Rel != nil {
		rel := *r.Rel
		out.Rel = &rel
	}
	return out
}

// Validate checks the structural invariants of a single record.
func (r Record) Validate() error {
	if r.Key == "" {
		return errors.New("record key is required")
	}
	if r.Val != nil && r.Rel != nil {
		return fmt.Errorf("record %s/%s carries both val and rel", r.Key, r.Field)
	}
	if r.Val == nil && r.Rel == nil {
		return fmt.Errorf("record %s/%s carries neither val nor rel", r.Key, r.Field)
	}
	return nil
}

// Validate checks every record in the batch. A batch may be empty; an
// empty batch is a valid no-op write.
func (b Batch) Validate() error {
	for i, r := range b {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("batch record %d: %w", i, err)
		}
	}
	return nil
}

// Keys returns the distinct node keys touched by the batch, in first-seen
// order.
func (b Batch) Keys() []string {
	seen := make(map[string]struct{}, len(b))
	keys := make([]string, 0, len(b))
	for _, r := range b {
		if _, ok := seen[r.Key]; ok {
			continue
		}
		seen[r.Key] = struct{}{}
		keys = append(keys, r.Key)
	}
	return keys
}

// Resolve picks the winner between two records for the same key/field.
// Higher state wins. Equal states fall back to comparing the cell content
// (scalars sort above edges, then lexicographically), so every replica
// applying the same pair converges on the same record regardless of
// arrival order. Storage bindings never call this; conflict resolution
// belongs to the engine.
func Resolve(a, b Record) Record {
	if a.State != b.State {
		if a.State > b.State {
			return a
		}
		return b
	}
	if cellRank(a) >= cellRank(b) {
		return a
	}
	return b
}

// cellRank gives a total order over cell contents for state ties.
func cellRank(r Record) string {
	if r.Rel != nil {
		return "r:" + *r.Rel
	}
	return "v:" + r.ValOrEmpty()
}
