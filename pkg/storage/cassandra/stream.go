package cassandra

import (
	"context"

	"github.com/gocql/gocql"

	"github.com/nodekv/nodekv/pkg/record"
	"github.com/nodekv/nodekv/pkg/storage"
)

// iterStream wraps a CQL iterator over one partition. The driver pages
// through the partition as the consumer advances.
type iterStream struct {
	key  string
	iter *gocql.Iter

	cur       record.Record
	delivered int
	err       error
	done      bool
}

func (s *iterStream) Next(ctx context.Context) bool {
	if s.done {
		return false
	}
	if ctx.Err() != nil {
		_ = s.iter.Close()
		s.finish(ctx.Err())
		return false
	}

	var (
		field    string
		val, rel *string
		state    int64
	)
	if !s.iter.Scan(&field, &val, &rel, &state) {
		s.finish(s.iter.Close())
		return false
	}

	rec, err := buildRecord(s.key, field, val, rel, state)
	if err != nil {
		_ = s.iter.Close()
		s.finish(err)
		return false
	}
	s.cur = rec
	s.delivered++
	return true
}

func (s *iterStream) finish(cause error) {
	s.done = true
	if cause != nil {
		s.err = storage.NewInternal("stream", s.key, "", cause)
		return
	}
	if s.delivered == 0 {
		s.err = storage.NewNotFound("stream", s.key, "")
	}
}

func (s *iterStream) Record() record.Record {
	return s.cur
}

func (s *iterStream) Err() error {
	return s.err
}

func (s *iterStream) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	return s.iter.Close()
}
