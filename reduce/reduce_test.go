package reduce

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxlogica-project/voxlogica-core/plan"
	"github.com/voxlogica-project/voxlogica-core/reduce/ast"
)

func lit(v any) ast.Expr                       { return &ast.Literal{Value: v} }
func ident(name string) ast.Expr               { return &ast.Identifier{Name: name} }
func app(fn string, args ...ast.Expr) ast.Expr  { return &ast.Application{Func: fn, Args: args} }
func let(name string, value, body ast.Expr) ast.Expr {
	return &ast.Let{Name: name, Value: value, Body: body}
}

func TestReduce_ConstantLiteral(t *testing.T) {
	prog := &ast.Program{Statements: []ast.Statement{
		&ast.Goal{Kind: ast.GoalPrint, Label: "r", Value: lit(float64(42))},
	}}
	wp, err := Reduce(prog)
	require.NoError(t, err)
	require.Len(t, wp.Goals, 1)

	expected, err := plan.HashNode(plan.Constant(float64(42)))
	require.NoError(t, err)
	assert.Equal(t, expected, wp.Goals[0].Node)
}

func TestReduce_UnboundIdentifierFails(t *testing.T) {
	prog := &ast.Program{Statements: []ast.Statement{
		&ast.Goal{Kind: ast.GoalPrint, Label: "r", Value: ident("x")},
	}}
	_, err := Reduce(prog)
	require.Error(t, err)
	var re *Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrKindUnboundIdentifier, re.Kind)
}

func TestReduce_ApplicationIsPrimitiveByDefault(t *testing.T) {
	prog := &ast.Program{Statements: []ast.Statement{
		&ast.Goal{Kind: ast.GoalPrint, Label: "r", Value: app("add", lit(float64(1)), lit(float64(2)))},
	}}
	wp, err := Reduce(prog)
	require.NoError(t, err)

	spec, ok := wp.Nodes[wp.Goals[0].Node]
	require.True(t, ok)
	assert.Equal(t, plan.KindPrimitive, spec.Kind)
	assert.Equal(t, "add", spec.Operator)
	assert.Len(t, spec.Args, 2)
}

func TestReduce_LetBindingShadowsLexically(t *testing.T) {
	// let x = 1 in (let x = 2 in x)
	prog := &ast.Program{Statements: []ast.Statement{
		&ast.Goal{Kind: ast.GoalPrint, Label: "r", Value: let("x", lit(float64(1)), let("x", lit(float64(2)), ident("x")))},
	}}
	wp, err := Reduce(prog)
	require.NoError(t, err)

	expected, err := plan.HashNode(plan.Constant(float64(2)))
	require.NoError(t, err)
	assert.Equal(t, expected, wp.Goals[0].Node)
}

func TestReduce_UserDefinedFunctionBetaReduces(t *testing.T) {
	// def square(n) = mul(n, n)
	// print "r" square(3)
	square := &ast.FuncDecl{Name: "square", Params: []string{"n"}, Body: app("mul", ident("n"), ident("n"))}
	prog := &ast.Program{Statements: []ast.Statement{
		square,
		&ast.Goal{Kind: ast.GoalPrint, Label: "r", Value: app("square", lit(float64(3)))},
	}}
	wp, err := Reduce(prog)
	require.NoError(t, err)

	three, _ := plan.HashNode(plan.Constant(float64(3)))
	expectedSpec := plan.Primitive("mul", three, three)
	expected, err := plan.HashNode(expectedSpec)
	require.NoError(t, err)
	assert.Equal(t, expected, wp.Goals[0].Node)
}

func TestReduce_RecursiveFunctionHitsDepthLimit(t *testing.T) {
	// def loop(n) = loop(n) -- never terminates
	loop := &ast.FuncDecl{Name: "loop", Params: []string{"n"}, Body: app("loop", ident("n"))}
	prog := &ast.Program{Statements: []ast.Statement{
		loop,
		&ast.Goal{Kind: ast.GoalPrint, Label: "r", Value: app("loop", lit(float64(0)))},
	}}
	_, err := Reduce(prog, WithRecursionLimit(8))
	require.Error(t, err)
	var re *Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrKindRecursionDepthExceeded, re.Kind)
}

func TestReduce_ImportDedupedInsertionOrder(t *testing.T) {
	prog := &ast.Program{Statements: []ast.Statement{
		&ast.Import{Namespace: "b"},
		&ast.Import{Namespace: "a"},
		&ast.Import{Namespace: "b"},
	}}
	wp, err := Reduce(prog)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, wp.ImportedNamespaces)
}

func TestReduce_ForComprehensionProducesDaskMap(t *testing.T) {
	// let bound = 10 in let seq = [1, 2] in (for i in seq do add(i, bound))
	body := app("add", ident("i"), ident("bound"))
	forExpr := &ast.ForComprehension{Var: "i", Seq: ident("seq"), Body: body}
	prog := &ast.Program{Statements: []ast.Statement{
		&ast.Goal{Kind: ast.GoalPrint, Label: "r", Value: let("bound", lit(float64(10)), let("seq", lit([]any{float64(1), float64(2)}), forExpr))},
	}}
	wp, err := Reduce(prog)
	require.NoError(t, err)

	spec := wp.Nodes[wp.Goals[0].Node]
	require.Equal(t, plan.KindPrimitive, spec.Kind)
	require.Equal(t, "dask_map", spec.Operator)
	require.Len(t, spec.Args, 2)

	closureSpec := wp.Nodes[spec.Args["1"]]
	require.Equal(t, plan.KindClosure, closureSpec.Kind)
	assert.Equal(t, "i", closureSpec.Variable)
	require.Len(t, closureSpec.CapturedEnv, 1)
	assert.Equal(t, "bound", closureSpec.CapturedEnv[0].Name)

	reparsed, err := ast.Parse(closureSpec.BodyCanonical)
	require.NoError(t, err)
	appExpr, ok := reparsed.(*ast.Application)
	require.True(t, ok)
	assert.Equal(t, "add", appExpr.Func)
}

func TestReduce_StructuralDedupAcrossDistinctSourceExprs(t *testing.T) {
	prog := &ast.Program{Statements: []ast.Statement{
		&ast.Goal{Kind: ast.GoalPrint, Label: "a", Value: app("add", lit(float64(1)), lit(float64(2)))},
		&ast.Goal{Kind: ast.GoalPrint, Label: "b", Value: let("x", lit(float64(1)), app("add", ident("x"), lit(float64(2))))},
	}}
	wp, err := Reduce(prog)
	require.NoError(t, err)
	assert.Equal(t, wp.Goals[0].Node, wp.Goals[1].Node, "two source forms of the same computation must collapse to one node")
}
