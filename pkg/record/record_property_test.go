package record

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// genRecord produces structurally valid records: scalar or edge, never both.
func genRecord() gopter.Gen {
	scalar := gopter.CombineGens(
		gen.Identifier(), gen.Identifier(), gen.AlphaString(), gen.Int64Range(0, 1<<40),
	).Map(func(vs []interface{}) Record {
		return Value(vs[0].(string), vs[1].(string), vs[2].(string), vs[3].(int64))
	})
	edge := gopter.CombineGens(
		gen.Identifier(), gen.Identifier(), gen.Identifier(), gen.Int64Range(0, 1<<40),
	).Map(func(vs []interface{}) Record {
		return Relation(vs[0].(string), vs[1].(string), vs[2].(string), vs[3].(int64))
	})
	return gen.OneGenOf(scalar, edge)
}

func TestProperty_ConstructorsAlwaysValid(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("constructed records satisfy the val/rel invariant", prop.ForAll(
		func(r Record) bool {
			if err := r.Validate(); err != nil {
				return false
			}
			return r.HasVal() != r.HasRel()
		},
		genRecord(),
	))

	properties.TestingRun(t)
}

func TestProperty_ResolveDeterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("resolve is order independent", prop.ForAll(
		func(a, b Record) bool {
			x := Resolve(a, b)
			y := Resolve(b, a)
			return x.State == y.State &&
				x.ValOrEmpty() == y.ValOrEmpty() &&
				x.RelOrEmpty() == y.RelOrEmpty()
		},
		genRecord(),
		genRecord(),
	))

	properties.Property("resolve never invents a third record", prop.ForAll(
		func(a, b Record) bool {
			w := Resolve(a, b)
			return w == a || w == b
		},
		genRecord(),
		genRecord(),
	))

	properties.Property("higher state always wins", prop.ForAll(
		func(a, b Record) bool {
			if a.State == b.State {
				return true
			}
			w := Resolve(a, b)
			if a.State > b.State {
				return w == a
			}
			return w == b
		},
		genRecord(),
		genRecord(),
	))

	properties.TestingRun(t)
}
