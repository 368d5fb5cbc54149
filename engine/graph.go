package engine

import (
	"sync"

	"github.com/voxlogica-project/voxlogica-core/plan"
)

// graphIndex is the engine's dependency-tracking side table (spec section
// 4.5 step 1): parents (implicit, via pending counts) and children built
// from plan.Dependencies, plus the ready queue itself. It is extended
// dynamically as dask_map expansion interns new fragment nodes into the
// shared WorkPlan mid-run.
type graphIndex struct {
	mu         sync.Mutex
	registered map[plan.NodeId]bool
	terminal   map[plan.NodeId]bool
	children   map[plan.NodeId][]plan.NodeId
	pending    map[plan.NodeId]int
	ready      chan plan.NodeId
}

func newGraphIndex(bufSize int) *graphIndex {
	return &graphIndex{
		registered: make(map[plan.NodeId]bool),
		terminal:   make(map[plan.NodeId]bool),
		children:   make(map[plan.NodeId][]plan.NodeId),
		pending:    make(map[plan.NodeId]int),
		ready:      make(chan plan.NodeId, bufSize),
	}
}

// addSubgraph registers every node reachable from roots (via
// plan.Dependencies) that is not already registered, then pushes every
// newly-registered node whose direct dependencies are all already
// terminal (or that has none) onto the ready queue. Nodes already
// registered (from an earlier seeding or a sibling dask_map expansion
// sharing the same dependency) are left untouched: re-registering would
// double-count pending parents.
func (g *graphIndex) addSubgraph(wp *plan.WorkPlan, roots []plan.NodeId) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var ready []plan.NodeId
	var visit func(id plan.NodeId)
	visit = func(id plan.NodeId) {
		if g.registered[id] {
			return
		}
		g.registered[id] = true
		spec := wp.Nodes[id]
		waiting := 0
		for _, d := range plan.Dependencies(spec) {
			visit(d)
			if !g.terminal[d] {
				g.children[d] = append(g.children[d], id)
				waiting++
			}
		}
		g.pending[id] = waiting
		if waiting == 0 {
			ready = append(ready, id)
		}
	}
	for _, r := range roots {
		visit(r)
	}
	for _, id := range ready {
		g.ready <- id
	}
}

// markTerminal decrements the pending-dependency count of id's children
// and pushes any that reach zero onto the ready queue. Called once id's
// store record becomes Succeeded, Failed, or is discovered already
// terminal.
func (g *graphIndex) markTerminal(id plan.NodeId) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.terminal[id] = true
	for _, child := range g.children[id] {
		g.pending[child]--
		if g.pending[child] == 0 {
			g.ready <- child
		}
	}
}
