package engine

import (
	"context"
	"fmt"

	"github.com/voxlogica-project/voxlogica-core/plan"
	"github.com/voxlogica-project/voxlogica-core/reduce"
	"github.com/voxlogica-project/voxlogica-core/store"
)

// daskMapOperator is the pseudo-primitive the reducer emits for every
// for-comprehension (spec section 4.3/4.5a). It is handled natively by
// the engine, never dispatched to the registry.
const daskMapOperator = "dask_map"

// closureCodecTag marks a Closure node's stored payload as a
// ClosureHandle: ephemeral-only, since a closure's captured values are
// only meaningful within this process's store.
const closureCodecTag = "closure"

// ClosureHandle is a Closure node's resolved, in-memory form: its bound
// variable name, the canonical form of its (unreduced) body, and its
// captured free-variable bindings resolved to concrete payload values.
// It is what a Closure node "executes" to, since closures are never
// dispatched as kernels (spec section 4.5a: "passed through to dask_map
// as an opaque handle").
type ClosureHandle struct {
	Variable      string
	BodyCanonical string
	Captured      map[string]any
	Spec          plan.NodeSpec
}

// expandDaskMap implements spec section 4.5a's dask_map algorithm: for
// each element of the resolved sequence, it re-derives the closure's body
// with the loop variable bound to that element, runs the resulting
// fragment through this same engine sharing wp and the store (so
// dedup/parallelism apply across elements), and collects results in
// iteration order regardless of completion order (spec section 5,
// ordering guarantee (iii)).
func (r *run) expandDaskMap(ctx context.Context, spec plan.NodeSpec) (any, string, error) {
	seqID, ok := spec.Args["0"]
	if !ok {
		return nil, "", fmt.Errorf("engine: dask_map missing sequence argument")
	}
	closureID, ok := spec.Args["1"]
	if !ok {
		return nil, "", fmt.Errorf("engine: dask_map missing closure argument")
	}

	seqRec, ok, err := r.e.store.Get(ctx, seqID)
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return nil, "", fmt.Errorf("engine: dask_map sequence %s not resolved", seqID)
	}
	elements, ok := seqRec.Payload.([]any)
	if !ok {
		return nil, "", fmt.Errorf("engine: dask_map sequence %s is not an array payload", seqID)
	}

	closureRec, ok, err := r.e.store.Get(ctx, closureID)
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return nil, "", fmt.Errorf("engine: dask_map closure %s not resolved", closureID)
	}
	handle, ok := closureRec.Payload.(ClosureHandle)
	if !ok {
		return nil, "", fmt.Errorf("engine: dask_map closure %s payload is not a ClosureHandle", closureID)
	}

	fragmentIDs := make([]plan.NodeId, len(elements))
	r.e.planMu().Lock()
	for i, v := range elements {
		elementID, err := r.wp.Intern(plan.Constant(v))
		if err != nil {
			r.e.planMu().Unlock()
			return nil, "", fmt.Errorf("engine: dask_map intern element %d: %w", i, err)
		}
		fragmentID, err := reduce.ExpandClosure(r.wp, handle.Spec, elementID)
		if err != nil {
			r.e.planMu().Unlock()
			return nil, "", fmt.Errorf("engine: dask_map expand element %d: %w", i, err)
		}
		fragmentIDs[i] = fragmentID
	}
	r.graph.addSubgraph(r.wp, fragmentIDs)
	r.e.planMu().Unlock()

	results := make([]any, len(fragmentIDs))
	for i, fragID := range fragmentIDs {
		rec, err := r.e.store.Await(ctx, fragID)
		if err != nil {
			return nil, "", err
		}
		if rec.Status == store.StatusFailed {
			return nil, "", dependencyFailed(fragID, rec.Err)
		}
		results[i] = rec.Payload
	}
	return results, "json", nil
}
