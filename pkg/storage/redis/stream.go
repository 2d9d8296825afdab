package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/nodekv/nodekv/pkg/record"
	"github.com/nodekv/nodekv/pkg/storage"
)

// hashStream adapts an HSCAN iterator to the storage.Stream contract.
// HSCAN yields alternating field and payload entries, so each record
// costs two iterator steps.
type hashStream struct {
	key       string
	iter      *redis.ScanIterator
	cur       record.Record
	delivered int
	err       error
	done      bool
}

func (s *hashStream) Next(ctx context.Context) bool {
	if s.done {
		return false
	}

	if !s.iter.Next(ctx) {
		s.finish(s.iter.Err())
		return false
	}
	field := s.iter.Val()

	if !s.iter.Next(ctx) {
		err := s.iter.Err()
		if err == nil {
			err = fmt.Errorf("hash scan returned field %q without a payload", field)
		}
		s.finish(err)
		return false
	}

	rec, err := decodeCell(s.key, field, s.iter.Val())
	if err != nil {
		s.finish(err)
		return false
	}

	s.cur = rec
	s.delivered++
	return true
}

func (s *hashStream) finish(cause error) {
	s.done = true
	if cause != nil {
		s.err = storage.NewInternal("stream", s.key, "", cause)
		return
	}
	if s.delivered == 0 {
		s.err = storage.NewNotFound("stream", s.key, "")
	}
}

func (s *hashStream) Record() record.Record {
	return s.cur
}

func (s *hashStream) Err() error {
	return s.err
}

func (s *hashStream) Close() error {
	s.done = true
	return nil
}
