package ast

// FreeVars returns the set of identifiers referenced in e that are not
// bound within e itself by an enclosing Let or ForComprehension. Used by
// the reducer to compute a closure's captured-environment digest (spec
// section 4.3).
func FreeVars(e Expr) map[string]struct{} {
	out := make(map[string]struct{})
	collectFreeVars(e, map[string]bool{}, out)
	return out
}

func collectFreeVars(e Expr, bound map[string]bool, out map[string]struct{}) {
	switch n := e.(type) {
	case *Literal:
	case *Identifier:
		if !bound[n.Name] {
			out[n.Name] = struct{}{}
		}
	case *Application:
		for _, a := range n.Args {
			collectFreeVars(a, bound, out)
		}
	case *Let:
		collectFreeVars(n.Value, bound, out)
		inner := cloneBound(bound)
		inner[n.Name] = true
		collectFreeVars(n.Body, inner, out)
	case *ForComprehension:
		collectFreeVars(n.Seq, bound, out)
		inner := cloneBound(bound)
		inner[n.Var] = true
		collectFreeVars(n.Body, inner, out)
	}
}

func cloneBound(b map[string]bool) map[string]bool {
	out := make(map[string]bool, len(b)+1)
	for k, v := range b {
		out[k] = v
	}
	return out
}
