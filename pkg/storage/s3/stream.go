package s3

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/nodekv/nodekv/pkg/record"
	"github.com/nodekv/nodekv/pkg/storage"
)

// listStream walks a paginated object listing, fetching the next list
// page and each object body only when the consumer advances.
type listStream struct {
	adapter *Adapter
	client  s3API
	key     string
	prefix  string

	keys   []string
	pos    int
	token  *string
	primed bool

	cur       record.Record
	delivered int
	err       error
	done      bool
}

func (s *listStream) Next(ctx context.Context) bool {
	if s.done {
		return false
	}

	for {
		if s.pos < len(s.keys) {
			objKey := s.keys[s.pos]
			s.pos++
			rec, err := s.adapter.fetchCell(ctx, s.client, objKey, s.key, strings.TrimPrefix(objKey, s.prefix))
			if err != nil {
				s.finish(err)
				return false
			}
			s.cur = rec
			s.delivered++
			return true
		}

		if s.primed && s.token == nil {
			s.finish(nil)
			return false
		}

		out, err := s.client.ListObjectsV2(ctx, s.adapter.listInput(s.prefix, s.token))
		if err != nil {
			s.finish(err)
			return false
		}
		s.primed = true
		s.keys = s.keys[:0]
		for _, obj := range out.Contents {
			s.keys = append(s.keys, aws.ToString(obj.Key))
		}
		s.pos = 0
		s.token = out.NextContinuationToken
	}
}

func (s *listStream) finish(cause error) {
	s.done = true
	if cause != nil {
		s.err = storage.NewInternal("stream", s.key, "", cause)
		return
	}
	if s.delivered == 0 {
		s.err = storage.NewNotFound("stream", s.key, "")
	}
}

func (s *listStream) Record() record.Record {
	return s.cur
}

func (s *listStream) Err() error {
	return s.err
}

func (s *listStream) Close() error {
	s.done = true
	return nil
}
