package storage

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorTaxonomyMatching(t *testing.T) {
	cause := errors.New("connection refused")

	tests := []struct {
		name         string
		err          error
		wantNotFound bool
		wantInternal bool
	}{
		{
			name:         "not found member",
			err:          NewNotFound("get", "n1", "name"),
			wantNotFound: true,
		},
		{
			name:         "internal member",
			err:          NewInternal("put", "n1", "", cause),
			wantInternal: true,
		},
		{
			name: "plain error matches neither",
			err:  errors.New("something else"),
		},
		{
			name:         "wrapped taxonomy error still matches",
			err:          fmt.Errorf("engine: %w", NewNotFound("get", "n1", "")),
			wantNotFound: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNotFound(tt.err); got != tt.wantNotFound {
				t.Errorf("IsNotFound() = %v, want %v", got, tt.wantNotFound)
			}
			if got := IsInternal(tt.err); got != tt.wantInternal {
				t.Errorf("IsInternal() = %v, want %v", got, tt.wantInternal)
			}
		})
	}
}

func TestErrorMembersAreDisjoint(t *testing.T) {
	nf := NewNotFound("get", "n1", "name")
	in := NewInternal("get", "n1", "name", errors.New("boom"))

	if IsInternal(nf) {
		t.Error("not-found error must not match ErrInternal")
	}
	if IsNotFound(in) {
		t.Error("internal error must not match ErrNotFound")
	}
}

func TestErrorPreservesBackendCause(t *testing.T) {
	cause := errors.New("i/o timeout")
	err := NewInternal("stream", "n1", "", cause)

	if !errors.Is(err, cause) {
		t.Error("wrapped cause lost: errors.Is(err, cause) = false")
	}

	var se *Error
	if !errors.As(err, &se) {
		t.Fatal("errors.As failed to recover *Error")
	}
	if se.Op != "stream" || se.Key != "n1" {
		t.Errorf("Error context = op %q key %q, want stream/n1", se.Op, se.Key)
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want []string
	}{
		{
			name: "not found names the target",
			err:  NewNotFound("get", "n1", "name"),
			want: []string{"get", "n1/name", "record not found"},
		},
		{
			name: "internal carries the cause",
			err:  NewInternal("put", "n1", "", errors.New("duplicate key")),
			want: []string{"put", "n1", "storage backend failure", "duplicate key"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, w := range tt.want {
				if !strings.Contains(msg, w) {
					t.Errorf("error %q missing %q", msg, w)
				}
			}
		})
	}
}
