package dynamodb

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/nodekv/nodekv/pkg/record"
	"github.com/nodekv/nodekv/pkg/storage"
)

// queryStream walks a paginated node query, fetching the next page only
// when the current one is exhausted.
type queryStream struct {
	adapter *Adapter
	client  dynamoAPI
	key     string

	items   []map[string]types.AttributeValue
	pos     int
	nextKey map[string]types.AttributeValue
	primed  bool

	cur       record.Record
	delivered int
	err       error
	done      bool
}

func (s *queryStream) Next(ctx context.Context) bool {
	if s.done {
		return false
	}

	for {
		if s.pos < len(s.items) {
			item := s.items[s.pos]
			s.pos++
			rec, err := decodeItem(item)
			if err != nil {
				s.finish(err)
				return false
			}
			s.cur = rec
			s.delivered++
			return true
		}

		if s.primed && len(s.nextKey) == 0 {
			s.finish(nil)
			return false
		}

		out, err := s.client.Query(ctx, s.adapter.queryInput(s.key, s.nextKey))
		if err != nil {
			s.finish(err)
			return false
		}
		s.primed = true
		s.items = out.Items
		s.pos = 0
		s.nextKey = out.LastEvaluatedKey
	}
}

func (s *queryStream) finish(cause error) {
	s.done = true
	if cause != nil {
		s.err = storage.NewInternal("stream", s.key, "", cause)
		return
	}
	if s.delivered == 0 {
		s.err = storage.NewNotFound("stream", s.key, "")
	}
}

func (s *queryStream) Record() record.Record {
	return s.cur
}

func (s *queryStream) Err() error {
	return s.err
}

func (s *queryStream) Close() error {
	s.done = true
	return nil
}
