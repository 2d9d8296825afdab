package postgres

import (
	"context"
	"database/sql"

	"github.com/nodekv/nodekv/pkg/record"
	"github.com/nodekv/nodekv/pkg/storage"
)

// rowsStream adapts live sql.Rows to the storage.Stream contract.
type rowsStream struct {
	key       string
	rows      *sql.Rows
	cur       record.Record
	delivered int
	err       error
	done      bool
}

func (s *rowsStream) Next(ctx context.Context) bool {
	if s.done {
		return false
	}
	if err := ctx.Err(); err != nil {
		s.finish(err)
		return false
	}

	if !s.rows.Next() {
		s.finish(s.rows.Err())
		return false
	}

	var (
		field    string
		val, rel sql.NullString
		state    int64
	)
	if err := s.rows.Scan(&field, &val, &rel, &state); err != nil {
		s.finish(err)
		return false
	}
	rec, err := scanCell(s.key, field, val, rel, state)
	if err != nil {
		s.finish(err)
		return false
	}

	s.cur = rec
	s.delivered++
	return true
}

func (s *rowsStream) finish(cause error) {
	s.done = true
	_ = s.rows.Close()
	if cause != nil {
		s.err = storage.NewInternal("stream", s.key, "", cause)
		return
	}
	if s.delivered == 0 {
		s.err = storage.NewNotFound("stream", s.key, "")
	}
}

func (s *rowsStream) Record() record.Record {
	return s.cur
}

func (s *rowsStream) Err() error {
	return s.err
}

func (s *rowsStream) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	return s.rows.Close()
}
