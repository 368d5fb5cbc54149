package reduce

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/voxlogica-project/voxlogica-core/reduce/ast"
)

// TestReduceDeterminismProperty verifies spec section 8: reducing the
// same program twice (fresh WorkPlan each time) yields identical goal
// NodeIds, since reduction is a pure function of the AST's canonical
// structure.
func TestReduceDeterminismProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("reducing a program twice yields the same goal node id", prop.ForAll(
		func(op string, a, b float64) bool {
			prog := &ast.Program{Statements: []ast.Statement{
				&ast.Goal{Kind: ast.GoalPrint, Label: "r", Value: app(op, lit(a), lit(b))},
			}}
			wp1, err1 := Reduce(prog)
			wp2, err2 := Reduce(prog)
			if err1 != nil || err2 != nil {
				return err1 != nil && err2 != nil
			}
			return wp1.Goals[0].Node == wp2.Goals[0].Node
		},
		gen.Identifier(),
		gen.Float64Range(-1e6, 1e6),
		gen.Float64Range(-1e6, 1e6),
	))

	properties.Property("let-bound alias reduces to the same node as the inlined literal", prop.ForAll(
		func(n float64) bool {
			aliased := &ast.Program{Statements: []ast.Statement{
				&ast.Goal{Kind: ast.GoalPrint, Label: "r", Value: let("x", lit(n), ident("x"))},
			}}
			inlined := &ast.Program{Statements: []ast.Statement{
				&ast.Goal{Kind: ast.GoalPrint, Label: "r", Value: lit(n)},
			}}
			wpA, errA := Reduce(aliased)
			wpB, errB := Reduce(inlined)
			if errA != nil || errB != nil {
				return false
			}
			return wpA.Goals[0].Node == wpB.Goals[0].Node
		},
		gen.Float64Range(-1e6, 1e6),
	))

	properties.TestingRun(t)
}
