package neo4j

import (
	"context"
	"fmt"

	neo4jdrv "github.com/neo4j/neo4j-go-driver/v4/neo4j"

	"github.com/nodekv/nodekv/pkg/record"
	"github.com/nodekv/nodekv/pkg/storage"
)

// resultStream wraps a lazily streamed Cypher result. The session it
// rides on stays open until the stream finishes or is closed.
type resultStream struct {
	key     string
	session neo4jdrv.Session
	result  neo4jdrv.Result

	cur       record.Record
	delivered int
	err       error
	done      bool
}

func (s *resultStream) Next(ctx context.Context) bool {
	if s.done {
		return false
	}
	if ctx.Err() != nil {
		s.finish(ctx.Err())
		return false
	}

	if !s.result.Next() {
		s.finish(s.result.Err())
		return false
	}

	r := s.result.Record()
	f, ok := r.GetByIndex(0).(string)
	if !ok {
		s.finish(fmt.Errorf("corrupt cell on %s: field is %T", s.key, r.GetByIndex(0)))
		return false
	}
	rec, err := cellRecord(s.key, f, r.GetByIndex(1), r.GetByIndex(2), r.GetByIndex(3))
	if err != nil {
		s.finish(err)
		return false
	}
	s.cur = rec
	s.delivered++
	return true
}

func (s *resultStream) finish(cause error) {
	s.done = true
	s.session.Close()
	if cause != nil {
		s.err = storage.NewInternal("stream", s.key, "", cause)
		return
	}
	if s.delivered == 0 {
		s.err = storage.NewNotFound("stream", s.key, "")
	}
}

func (s *resultStream) Record() record.Record {
	return s.cur
}

func (s *resultStream) Err() error {
	return s.err
}

func (s *resultStream) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	return s.session.Close()
}
