package storage

import (
	"errors"
	"fmt"
)

// Sentinel errors for the two-member taxonomy. Callers match with
// errors.Is; bindings construct taxonomy errors with NewNotFound and
// NewInternal rather than returning the sentinels directly.
var (
	// ErrNotFound marks a read that matched no stored record, including a
	// stream that ended after delivering zero records.
	ErrNotFound = errors.New("record not found")

	// ErrInternal marks any backend-level failure: connection loss, query
	// failure, timeout.
	ErrInternal = errors.New("storage backend failure")
)

// Code identifies the taxonomy member an Error belongs to.
type Code int

const (
	CodeNotFound Code = iota + 1
	CodeInternal
)

// Error is the only error type bindings return. It pins the failed
// operation and the key/field it targeted, and wraps the backend cause
// when there is one.
type Error struct {
	Code  Code
	Op    string // "connect", "get", "stream", "put", "health"
	Key   string
	Field string
	Err   error
}

func (e *Error) Error() string {
	target := e.Key
	if e.Field != "" {
		target = e.Key + "/" + e.Field
	}
	switch {
	case e.Code == CodeNotFound:
		return fmt.Sprintf("storage %s %s: %v", e.Op, target, ErrNotFound)
	case e.Err != nil:
		return fmt.Sprintf("storage %s %s: %v: %v", e.Op, target, ErrInternal, e.Err)
	default:
		return fmt.Sprintf("storage %s %s: %v", e.Op, target, ErrInternal)
	}
}

// Unwrap exposes the backend cause to errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the taxonomy sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Code == CodeNotFound
	case ErrInternal:
		return e.Code == CodeInternal
	}
	return false
}

// NewNotFound builds the not-found taxonomy member for op on key/field.
func NewNotFound(op, key, field string) error {
	return &Error{Code: CodeNotFound, Op: op, Key: key, Field: field}
}

// NewInternal wraps a backend failure into the internal taxonomy member.
func NewInternal(op, key, field string, err error) error {
	return &Error{Code: CodeInternal, Op: op, Key: key, Field: field, Err: err}
}

// IsNotFound reports whether err is the not-found taxonomy member.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInternal reports whether err is the internal taxonomy member.
func IsInternal(err error) bool {
	return errors.Is(err, ErrInternal)
}
