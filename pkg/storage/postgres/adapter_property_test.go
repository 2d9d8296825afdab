package postgres

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/nodekv/nodekv/pkg/storage"
)

func TestProperty_ClosePreventsSubsequentOperations(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 25
	properties := gopter.NewProperties(params)

	properties.Property("get after close always fails internal", prop.ForAll(
		func(key, field string) bool {
			db, _, err := sqlmock.New()
			if err != nil {
				return false
			}
			a := newMockAdapter(db)
			_ = a.Close()
			_, err = a.Get(context.Background(), key, field)
			return storage.IsInternal(err)
		},
		gen.Identifier(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

// Whatever ends up in the val column comes back byte for byte, and a
// NULL rel never grows into a value.
func TestProperty_RowMappingPreservesCells(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 100
	properties := gopter.NewProperties(params)

	properties.Property("scalar cells survive the row mapping", prop.ForAll(
		func(key, field, val string, state int64) bool {
			db, mock, err := sqlmock.New()
			if err != nil {
				return false
			}
			defer db.Close()
			a := newMockAdapter(db)

			mock.ExpectQuery("SELECT val, rel, state FROM node_records").
				WithArgs(key, field).
				WillReturnRows(sqlmock.NewRows([]string{"val", "rel", "state"}).AddRow(val, nil, state))

			recs, err := a.Get(context.Background(), key, field)
			if err != nil || len(recs) != 1 {
				return false
			}
			got := recs[0]
			return got.Key == key && got.Field == field &&
				got.ValOrEmpty() == val && !got.HasRel() && got.State == state
		},
		gen.Identifier(),
		gen.Identifier(),
		gen.AnyString(),
		gen.Int64Range(0, 1<<50),
	))

	properties.Property("edge cells survive the row mapping", prop.ForAll(
		func(key, field, target string, state int64) bool {
			db, mock, err := sqlmock.New()
			if err != nil {
				return false
			}
			defer db.Close()
			a := newMockAdapter(db)

			mock.ExpectQuery("SELECT val, rel, state FROM node_records").
				WithArgs(key, field).
				WillReturnRows(sqlmock.NewRows([]string{"val", "rel", "state"}).AddRow(nil, target, state))

			recs, err := a.Get(context.Background(), key, field)
			if err != nil || len(recs) != 1 {
				return false
			}
			got := recs[0]
			return !got.HasVal() && got.RelOrEmpty() == target && got.State == state
		},
		gen.Identifier(),
		gen.Identifier(),
		gen.Identifier(),
		gen.Int64Range(0, 1<<50),
	))

	properties.TestingRun(t)
}
