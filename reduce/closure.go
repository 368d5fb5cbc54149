package reduce

import (
	"fmt"

	"github.com/voxlogica-project/voxlogica-core/plan"
	"github.com/voxlogica-project/voxlogica-core/reduce/ast"
)

// ExpandClosure re-derives and reduces a Closure node's body for one
// concrete element, the per-element step of the execution engine's
// dask_map expansion (spec section 4.5a): it parses the closure's
// canonical body back into an Expr, builds a fresh Environment from only
// the closure's captured NodeId bindings plus the loop variable bound to
// elementNode, and reduces the body into wp (sharing wp so structural
// dedup and interning apply across elements exactly as within a single
// top-level reduction).
func ExpandClosure(wp *plan.WorkPlan, closure plan.NodeSpec, elementNode plan.NodeId, opts ...Option) (plan.NodeId, error) {
	if closure.Kind != plan.KindClosure {
		return "", fmt.Errorf("reduce: ExpandClosure called on non-closure node spec")
	}

	body, err := ast.Parse(closure.BodyCanonical)
	if err != nil {
		return "", fmt.Errorf("reduce: parse closure body: %w", err)
	}

	env := NewEnvironment()
	for _, b := range closure.CapturedEnv {
		env = env.ExtendNode(b.Name, b.Node)
	}
	env = env.ExtendNode(closure.Variable, elementNode)

	r := &reducer{wp: wp, recursionLimit: defaultRecursionLimit, memo: make(map[string]plan.NodeId)}
	for _, opt := range opts {
		opt(r)
	}
	return r.reduceExpr(env, body, nil, 0)
}
