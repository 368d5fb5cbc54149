// Package reduce lowers a parsed program into a content-addressed
// WorkPlan: an immutable environment of name->NodeId and name->function
// bindings drives AST traversal, with every node produced via
// plan.WorkPlan.Intern so structurally identical subexpressions collapse
// to a single NodeId (spec section 4.3).
package reduce

import (
	"sort"
	"strings"

	"github.com/voxlogica-project/voxlogica-core/plan"
	"github.com/voxlogica-project/voxlogica-core/reduce/ast"
)

const defaultRecursionLimit = 1024

// Option configures a reduction run.
type Option func(*reducer)

// WithRecursionLimit overrides the default user-defined-function call
// depth limit (1024), mirroring the CORE_RECURSION_LIMIT environment
// variable.
func WithRecursionLimit(limit int) Option {
	return func(r *reducer) { r.recursionLimit = limit }
}

type reducer struct {
	wp             *plan.WorkPlan
	recursionLimit int
	memo           map[string]plan.NodeId
}

// Reduce lowers program into a WorkPlan. It is the sole entry point named
// in spec section 4.3.
func Reduce(program *ast.Program, opts ...Option) (*plan.WorkPlan, error) {
	r := &reducer{
		wp:             plan.New(),
		recursionLimit: defaultRecursionLimit,
		memo:           make(map[string]plan.NodeId),
	}
	for _, opt := range opts {
		opt(r)
	}

	env := NewEnvironment()
	for _, stmt := range program.Statements {
		var err error
		env, err = r.reduceStatement(env, stmt)
		if err != nil {
			return nil, err
		}
	}
	return r.wp, nil
}

func (r *reducer) reduceStatement(env *Environment, stmt ast.Statement) (*Environment, error) {
	switch s := stmt.(type) {
	case *ast.FuncDecl:
		// The function's closure environment is the environment at the
		// point of declaration, extended with itself so recursive calls
		// resolve: mutual recursion across later defs is intentionally
		// not supported (a call to a function declared later does not
		// find it and is lowered to a primitive call of that name),
		// matching the spec's environment-is-a-snapshot model.
		next := env.ExtendFunc(s.Name, s.Params, s.Body, env)
		// Re-point the function's own captured environment at the frame
		// that includes itself, enabling direct recursion.
		if fn, ok := next.LookupFunc(s.Name); ok {
			fn.env = next
		}
		return next, nil

	case *ast.Import:
		r.wp.AddImport(s.Namespace)
		return env, nil

	case *ast.Goal:
		nodeID, err := r.reduceExpr(env, s.Value, nil, 0)
		if err != nil {
			return nil, err
		}
		switch s.Kind {
		case ast.GoalPrint:
			r.wp.AddGoal(plan.Print(s.Label, nodeID))
		case ast.GoalSave:
			r.wp.AddGoal(plan.Save(s.Path, nodeID))
		}
		return env, nil

	default:
		return env, nil
	}
}

func (r *reducer) reduceExpr(env *Environment, expr ast.Expr, stack []string, depth int) (plan.NodeId, error) {
	switch e := expr.(type) {
	case *ast.Literal:
		return r.internChecked(plan.Constant(e.Value), e.Pos, stack)

	case *ast.Identifier:
		if node, ok := env.LookupNode(e.Name); ok {
			return node, nil
		}
		return "", unboundIdentifier(e.Name, e.Pos, stack)

	case *ast.Application:
		return r.reduceApplication(env, e, stack, depth)

	case *ast.Let:
		valueID, err := r.reduceExpr(env, e.Value, stack, depth)
		if err != nil {
			return "", err
		}
		inner := env.ExtendNode(e.Name, valueID)
		return r.reduceExpr(inner, e.Body, stack, depth)

	case *ast.ForComprehension:
		return r.reduceForComprehension(env, e, stack, depth)

	default:
		return "", unboundIdentifier("<unknown expression>", ast.Location{}, stack)
	}
}

func (r *reducer) reduceApplication(env *Environment, app *ast.Application, stack []string, depth int) (plan.NodeId, error) {
	argIDs := make([]plan.NodeId, len(app.Args))
	for i, a := range app.Args {
		id, err := r.reduceExpr(env, a, stack, depth)
		if err != nil {
			return "", err
		}
		argIDs[i] = id
	}

	fn, isFunc := env.LookupFunc(app.Func)
	if !isFunc {
		return r.internChecked(plan.Primitive(app.Func, argIDs...), app.Pos, stack)
	}

	if depth+1 > r.recursionLimit {
		return "", recursionDepthExceeded(app.Func, app.Pos, stack)
	}
	if len(fn.params) != len(argIDs) {
		return "", arityMismatch(app.Func, app.Pos, stack)
	}

	memoKey := memoKeyFor(app.Func, argIDs)
	if cached, ok := r.memo[memoKey]; ok {
		return cached, nil
	}

	callEnv := fn.env
	for i, p := range fn.params {
		callEnv = callEnv.ExtendNode(p, argIDs[i])
	}

	result, err := r.reduceExpr(callEnv, fn.body, append(stack, app.Func), depth+1)
	if err != nil {
		return "", err
	}
	r.memo[memoKey] = result
	return result, nil
}

func (r *reducer) reduceForComprehension(env *Environment, f *ast.ForComprehension, stack []string, depth int) (plan.NodeId, error) {
	seqID, err := r.reduceExpr(env, f.Seq, stack, depth)
	if err != nil {
		return "", err
	}

	captured := captureFreeVars(env, f.Body, f.Var)
	bodyCanonical, err := ast.Canonicalize(f.Body)
	if err != nil {
		return "", invalidConstant(f.Pos, stack, err)
	}

	closureID, err := r.internChecked(plan.Closure(f.Var, bodyCanonical, captured), f.Pos, stack)
	if err != nil {
		return "", err
	}
	return r.internChecked(plan.Primitive("dask_map", seqID, closureID), f.Pos, stack)
}

// captureFreeVars resolves every identifier free in body (excluding the
// loop variable itself) against env, keeping only those bound to a
// NodeId. Per spec section 3, a Closure captures NodeId bindings only —
// a free reference to a user-defined function is not captured and will
// fail as UnboundIdentifier if the closure body is later re-reduced
// without that function still in scope.
func captureFreeVars(env *Environment, body ast.Expr, loopVar string) []plan.CapturedBinding {
	free := ast.FreeVars(body)
	delete(free, loopVar)

	names := make([]string, 0, len(free))
	for name := range free {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []plan.CapturedBinding
	for _, name := range names {
		if node, ok := env.LookupNode(name); ok {
			out = append(out, plan.CapturedBinding{Name: name, Node: node})
		}
	}
	return out
}

func memoKeyFor(fnName string, argIDs []plan.NodeId) string {
	var b strings.Builder
	b.WriteString(fnName)
	for _, id := range argIDs {
		b.WriteByte('\x00')
		b.WriteString(string(id))
	}
	return b.String()
}

func (r *reducer) internChecked(spec plan.NodeSpec, loc ast.Location, stack []string) (plan.NodeId, error) {
	id, err := r.wp.Intern(spec)
	if err != nil {
		return "", invalidConstant(loc, stack, err)
	}
	return id, nil
}
