package mongodb

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/nodekv/nodekv/pkg/record"
	"github.com/nodekv/nodekv/pkg/storage"
)

// cursorStream adapts a live mongo.Cursor to the storage.Stream
// contract.
type cursorStream struct {
	key       string
	cursor    *mongo.Cursor
	cur       record.Record
	delivered int
	err       error
	done      bool
}

func (s *cursorStream) Next(ctx context.Context) bool {
	if s.done {
		return false
	}

	if !s.cursor.Next(ctx) {
		s.finish(s.cursor.Err())
		return false
	}

	var doc document
	if err := s.cursor.Decode(&doc); err != nil {
		s.finish(err)
		return false
	}
	rec, err := doc.toRecord()
	if err != nil {
		s.finish(err)
		return false
	}

	s.cur = rec
	s.delivered++
	return true
}

func (s *cursorStream) finish(cause error) {
	s.done = true
	_ = s.cursor.Close(context.Background())
	if cause != nil {
		s.err = storage.NewInternal("stream", s.key, "", cause)
		return
	}
	if s.delivered == 0 {
		s.err = storage.NewNotFound("stream", s.key, "")
	}
}

func (s *cursorStream) Record() record.Record {
	return s.cur
}

func (s *cursorStream) Err() error {
	return s.err
}

func (s *cursorStream) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	return s.cursor.Close(context.Background())
}
