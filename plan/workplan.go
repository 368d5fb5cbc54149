package plan

import "fmt"

// WorkPlan is the immutable, content-addressed DAG produced by the reducer
// and consumed by the execution engine. Every NodeId referenced from Args or
// from a GoalSpec must exist as a key in Nodes; Nodes is acyclic;
// ImportedNamespaces is insertion-ordered with duplicates removed.
type WorkPlan struct {
	Nodes              map[NodeId]NodeSpec
	Goals              []GoalSpec
	ImportedNamespaces []string

	importedSet map[string]struct{}
}

// New returns an empty, ready-to-intern WorkPlan.
func New() *WorkPlan {
	return &WorkPlan{
		Nodes:       make(map[NodeId]NodeSpec),
		importedSet: make(map[string]struct{}),
	}
}

// Intern computes spec's NodeId and, if absent, inserts it into the plan.
// Intern is the only sanctioned way to add a node: reducer code that
// constructs a NodeId any other way violates spec section 4.1 invariant
// (iii). Intern is idempotent and is a pure function of spec's canonical
// form — calling it twice with an equal spec, on the same plan or a
// different one, yields the same NodeId (invariant (ii)).
func (p *WorkPlan) Intern(spec NodeSpec) (NodeId, error) {
	id, err := HashNode(spec)
	if err != nil {
		return "", err
	}
	if _, ok := p.Nodes[id]; !ok {
		if p.Nodes == nil {
			p.Nodes = make(map[NodeId]NodeSpec)
		}
		p.Nodes[id] = spec
	}
	return id, nil
}

// AddImport appends ns to ImportedNamespaces if it is not already present,
// preserving insertion order.
func (p *WorkPlan) AddImport(ns string) {
	if p.importedSet == nil {
		p.importedSet = make(map[string]struct{})
	}
	if _, ok := p.importedSet[ns]; ok {
		return
	}
	p.importedSet[ns] = struct{}{}
	p.ImportedNamespaces = append(p.ImportedNamespaces, ns)
}

// AddGoal appends a goal in program order. Goals are not content-addressed;
// calling AddGoal twice with equal GoalSpecs appends twice.
func (p *WorkPlan) AddGoal(g GoalSpec) {
	p.Goals = append(p.Goals, g)
}

// Validate checks the WorkPlan invariants from spec section 3: every
// referenced NodeId exists, and the node graph is acyclic.
func (p *WorkPlan) Validate() error {
	for id, spec := range p.Nodes {
		if spec.Kind == KindPrimitive {
			for key, dep := range spec.Args {
				if _, ok := p.Nodes[dep]; !ok {
					return fmt.Errorf("plan: node %s arg %q references unknown node %s", id, key, dep)
				}
			}
		}
		if spec.Kind == KindClosure {
			for _, b := range spec.CapturedEnv {
				if _, ok := p.Nodes[b.Node]; !ok {
					return fmt.Errorf("plan: closure %s captures unknown node %s (%s)", id, b.Name, b.Node)
				}
			}
		}
	}
	for i, g := range p.Goals {
		if _, ok := p.Nodes[g.Node]; !ok {
			return fmt.Errorf("plan: goal %d references unknown node %s", i, g.Node)
		}
	}
	if cyc := p.findCycle(); cyc != "" {
		return fmt.Errorf("plan: cycle detected through node %s", cyc)
	}
	return nil
}

// findCycle returns a NodeId participating in a cycle, or "" if the graph is
// acyclic. Uses recursive DFS with a three-color scheme; recursion depth is
// bounded by the length of the longest dependency chain in the plan.
func (p *WorkPlan) findCycle() NodeId {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[NodeId]int, len(p.Nodes))

	var visit func(id NodeId) NodeId
	visit = func(id NodeId) NodeId {
		color[id] = gray
		spec := p.Nodes[id]
		var deps []NodeId
		switch spec.Kind {
		case KindPrimitive:
			for _, d := range spec.Args {
				deps = append(deps, d)
			}
		case KindClosure:
			for _, b := range spec.CapturedEnv {
				deps = append(deps, b.Node)
			}
		}
		for _, d := range deps {
			switch color[d] {
			case gray:
				return d
			case white:
				if found := visit(d); found != "" {
					return found
				}
			}
		}
		color[id] = black
		return ""
	}

	for id := range p.Nodes {
		if color[id] == white {
			if found := visit(id); found != "" {
				return found
			}
		}
	}
	return ""
}

// Dependencies returns the direct child node ids referenced by spec's
// arguments (Primitive) or captured bindings (Closure). Constants have no
// dependencies.
func Dependencies(spec NodeSpec) []NodeId {
	switch spec.Kind {
	case KindPrimitive:
		out := make([]NodeId, 0, len(spec.Args))
		for _, d := range spec.Args {
			out = append(out, d)
		}
		return out
	case KindClosure:
		out := make([]NodeId, 0, len(spec.CapturedEnv))
		for _, b := range spec.CapturedEnv {
			out = append(out, b.Node)
		}
		return out
	default:
		return nil
	}
}
