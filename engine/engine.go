// Package engine implements the execution engine (spec section 4.5): a
// parallel worker pool that drives a WorkPlan's nodes through the result
// store's claim protocol to completion, expanding dask_map
// for-comprehensions lazily and firing goal side effects in program
// order. Grounded on runtime/agent/engine's Engine/WorkflowContext/Future
// abstractions (runtime/agent/engine/engine.go,
// runtime/agent/engine/inmem/engine.go), narrowed from a workflow/activity
// engine down to a dependency-driven DAG dispatcher, since this spec has
// no notion of durable workflow replay.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/time/rate"

	"github.com/voxlogica-project/voxlogica-core/plan"
	"github.com/voxlogica-project/voxlogica-core/registry"
	"github.com/voxlogica-project/voxlogica-core/store"
	"github.com/voxlogica-project/voxlogica-core/telemetry"
)

// Registry is the subset of *registry.Manager the engine depends on
// (spec section 4.5a: "resolve the operator via the registry and invoke
// it"). Narrowed to an interface so tests can supply a stub.
type Registry interface {
	Resolve(ctx context.Context, operator string, imports []string) (registry.QualifiedName, registry.Kernel, error)
	Dispatch(ctx context.Context, operator string, imports []string, positional map[string]registry.Value) (registry.Value, error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers overrides the fixed worker pool size (default runtime.NumCPU()).
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithRateLimiter throttles dispatch of kernels the registry reports as
// Effectful (spec section 5.1 expansion); nil (the default) applies no
// throttling.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(e *Engine) { e.limiter = l }
}

// WithCancellationToken supplies an externally-held token so callers can
// cancel a run in progress.
func WithCancellationToken(t *CancellationToken) Option {
	return func(e *Engine) { e.cancel = t }
}

// WithLogger attaches a Logger used for diagnostics (skipped or failed
// goals). Goal output itself goes to the WithStdout writer.
func WithLogger(l telemetry.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics attaches a Metrics sink. The engine keeps it but records no
// metrics of its own.
func WithMetrics(m telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer attaches a Tracer. The engine keeps it but starts no spans of
// its own.
func WithTracer(t telemetry.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithStdout overrides where GoalPrint writes (default os.Stdout); used by
// tests to capture output.
func WithStdout(w stdoutWriter) Option {
	return func(e *Engine) { e.stdout = w }
}

type stdoutWriter interface {
	Write(p []byte) (n int, err error)
}

// Engine is the execution engine: a fixed-size worker pool plus the
// ready-queue/claim-protocol dispatch loop of spec section 4.5.
type Engine struct {
	registry Registry
	store    store.ResultStore
	codecs   *store.CodecRegistry

	workers int
	limiter *rate.Limiter
	cancel  *CancellationToken

	logger  telemetry.Logger
	metrics telemetry.Metrics
	tracer  telemetry.Tracer
	stdout  stdoutWriter

	planMutex sync.Mutex
}

// planMu returns the mutex serializing reduce.ExpandClosure calls against
// the shared WorkPlan: WorkPlan.Intern mutates a plain map and is not
// itself safe for concurrent callers, so every dask_map expansion
// (which interns new fragment nodes) must be serialized engine-wide.
func (e *Engine) planMu() *sync.Mutex { return &e.planMutex }

// New constructs an Engine over the given registry, store, and codec
// registry (used to serialize GoalSave payloads and to tag kernel
// results).
func New(reg Registry, st store.ResultStore, codecs *store.CodecRegistry, opts ...Option) *Engine {
	e := &Engine{
		registry: reg,
		store:    st,
		codecs:   codecs,
		workers:  runtime.NumCPU(),
		cancel:   NewCancellationToken(),
		logger:   telemetry.NoopLogger{},
		metrics:  telemetry.NoopMetrics{},
		tracer:   telemetry.NoopTracer{},
		stdout:   os.Stdout,
	}
	for _, opt := range opts {
		opt(e)
	}
	if _, ok := codecs.Lookup(closureCodecTag); !ok {
		codecs.Register(store.EphemeralCodec(closureCodecTag))
	}
	return e
}

// RunSummary reports the outcome of a Run call (spec section 4.5:
// "run(plan, primitive_registry, store) -> RunSummary").
type RunSummary struct {
	Succeeded int
	Failed    int
	Cancelled bool
	Errors    []NodeError
}

// NodeError pairs a failed NodeId with the error its kernel (or
// dependency chain) produced.
type NodeError struct {
	Node plan.NodeId
	Err  error
}

// run is per-invocation state shared by the worker pool, the dask_map
// expander, and goal execution. wp is mutated (via reduce.ExpandClosure)
// by dask_map expansion, so every structural access goes through planMu.
type run struct {
	e     *Engine
	wp    *plan.WorkPlan
	graph *graphIndex
	errs  chan NodeError
}

// Run executes wp to completion: it builds the dependency graph
// restricted to nodes reachable from wp's goals, dispatches ready nodes
// across a fixed worker pool, expands dask_map lazily, and fires goals in
// program order once their producer subgraphs are terminal.
func (e *Engine) Run(ctx context.Context, wp *plan.WorkPlan) (RunSummary, error) {
	roots := goalRoots(wp)
	r := &run{
		e:     e,
		wp:    wp,
		graph: newGraphIndex(len(wp.Nodes) + 1),
		errs:  make(chan NodeError, len(wp.Nodes)+1),
	}
	r.graph.addSubgraph(wp, roots)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	// Bridge e.cancel into runCtx: cancelling the token must unblock every
	// context-aware wait in this run (store.Await in the goal loop below,
	// ctx.Err() checks in dispatchNode) the same way a parent ctx
	// cancellation would, or Run hangs forever on a caller that only ever
	// calls token.Cancel().
	cancelBridgeDone := make(chan struct{})
	go func() {
		defer close(cancelBridgeDone)
		select {
		case <-e.cancel.Done():
			stop()
		case <-runCtx.Done():
		}
	}()

	done := make(chan struct{})
	for i := 0; i < e.workers; i++ {
		go r.workerLoop(runCtx, done)
	}

	summary := RunSummary{}
	var runErr error
	for _, g := range wp.Goals {
		if e.cancel.Cancelled() || runCtx.Err() != nil {
			summary.Cancelled = true
			runErr = classifyContextErr(runCtx.Err())
			break
		}
		rec, err := e.store.Await(runCtx, g.Node)
		if err != nil {
			if runCtx.Err() != nil {
				summary.Cancelled = true
				runErr = classifyContextErr(runCtx.Err())
			} else {
				summary.Errors = append(summary.Errors, NodeError{Node: g.Node, Err: err})
			}
			break
		}
		if rec.Status == store.StatusFailed {
			e.logger.Warn(ctx, "goal producer failed, skipping side effect", "node", g.Node)
			continue
		}
		if err := e.executeGoal(ctx, g, rec); err != nil {
			e.logger.Error(ctx, "goal side effect failed", "node", g.Node, "error", err)
		}
	}

	stop()
	<-cancelBridgeDone
	for i := 0; i < e.workers; i++ {
		<-done
	}
	close(r.errs)
	for ne := range r.errs {
		summary.Failed++
		summary.Errors = append(summary.Errors, ne)
	}

	// Succeeded count: every registered node minus failures, excluding
	// closures/dask_map pseudo-nodes is unnecessary precision for a
	// summary; count terminal-succeeded records among registered nodes.
	for id := range r.graph.registered {
		rec, ok, _ := e.store.Get(ctx, id)
		if ok && rec.Status == store.StatusSucceeded {
			summary.Succeeded++
		}
	}

	return summary, runErr
}

// classifyContextErr maps a context package sentinel into the engine's
// own RunError kind (spec section 7: RunError's Cancelled/DeadlineExceeded
// variants), so callers can match with errors.Is(err, engine.ErrCancelled)
// regardless of which context in the chain actually expired.
func classifyContextErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return &RunError{Kind: ErrKindDeadlineExceeded, Wrapped: err}
	default:
		return &RunError{Kind: ErrKindCancelled, Wrapped: err}
	}
}

// goalRoots returns the distinct nodes referenced by wp's goals, the
// initial reachability seeds for graph construction (spec section 4.5
// step 5: "dead-code elimination by reachability").
func goalRoots(wp *plan.WorkPlan) []plan.NodeId {
	seen := map[plan.NodeId]bool{}
	var out []plan.NodeId
	for _, g := range wp.Goals {
		if !seen[g.Node] {
			seen[g.Node] = true
			out = append(out, g.Node)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// workerLoop is one of the engine's fixed-size pool of workers (spec
// section 5: "parallel threads with a fixed-size worker pool"). It pops
// ready nodes and claims them; AlreadyComputing outcomes spawn a detached
// awaiter goroutine instead of blocking the worker, so the pool keeps
// draining other ready work (spec section 4.5: "scheduler MUST avoid
// blocking a worker when other ready nodes exist").
func (r *run) workerLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.e.cancel.Done():
			return
		case id, ok := <-r.graph.ready:
			if !ok {
				return
			}
			r.dispatchNode(ctx, id)
		}
	}
}

// dispatchNode implements one step of the dispatch loop (spec section
// 4.5 step 3).
func (r *run) dispatchNode(ctx context.Context, id plan.NodeId) {
	if r.e.cancel.Cancelled() || ctx.Err() != nil {
		return
	}
	outcome, rec, err := r.e.store.Claim(ctx, id)
	if err != nil {
		r.errs <- NodeError{Node: id, Err: err}
		return
	}
	switch outcome {
	case store.AlreadySucceeded:
		r.graph.markTerminal(id)
	case store.AlreadyFailed:
		r.recordFailure(id, rec.Err)
	case store.AlreadyComputing:
		go r.awaitThenAdvance(ctx, id)
	case store.Claimed:
		r.executeClaimed(ctx, id)
	}
}

// awaitThenAdvance blocks (off the fixed pool) until id's owner completes
// it, then performs the same post-completion bookkeeping a worker would.
func (r *run) awaitThenAdvance(ctx context.Context, id plan.NodeId) {
	rec, err := r.e.store.Await(ctx, id)
	if err != nil {
		r.errs <- NodeError{Node: id, Err: err}
		return
	}
	if rec.Status == store.StatusFailed {
		r.recordFailure(id, rec.Err)
		return
	}
	r.graph.markTerminal(id)
}

// recordFailure marks id's failure and short-circuits every transitive
// child as DependencyFailed (spec section 4.5: "a Failed node marks every
// transitive child as failed").
func (r *run) recordFailure(id plan.NodeId, cause error) {
	r.errs <- NodeError{Node: id, Err: cause}
	r.propagateFailure(id, cause)
}

func (r *run) propagateFailure(id plan.NodeId, cause error) {
	r.graph.mu.Lock()
	children := append([]plan.NodeId(nil), r.graph.children[id]...)
	r.graph.mu.Unlock()

	for _, child := range children {
		depErr := dependencyFailed(id, cause)
		outcome, _, err := r.e.store.Claim(context.Background(), child)
		if err == nil && outcome == store.Claimed {
			_ = r.e.store.PutFailure(context.Background(), child, depErr)
		}
		r.recordFailure(child, depErr)
	}
}

// executeClaimed runs a Claimed node's kernel (or native handling for
// Closure/dask_map) and writes the terminal result (spec section 4.5a).
func (r *run) executeClaimed(ctx context.Context, id plan.NodeId) {
	r.e.planMu().Lock()
	spec := r.wp.Nodes[id]
	r.e.planMu().Unlock()

	payload, codecTag, err := r.compute(ctx, id, spec)
	if err != nil {
		if putErr := r.e.store.PutFailure(ctx, id, err); putErr != nil {
			r.errs <- NodeError{Node: id, Err: putErr}
			return
		}
		r.recordFailure(id, err)
		return
	}
	if err := r.e.store.PutSuccess(ctx, id, payload, codecTag); err != nil {
		r.errs <- NodeError{Node: id, Err: err}
		return
	}
	r.graph.markTerminal(id)
}

// compute dispatches on NodeSpec.Kind (spec section 4.5a).
func (r *run) compute(ctx context.Context, id plan.NodeId, spec plan.NodeSpec) (payload any, codecTag string, err error) {
	switch spec.Kind {
	case plan.KindConstant:
		return spec.Constant, "json", nil

	case plan.KindClosure:
		return r.computeClosure(ctx, spec)

	case plan.KindPrimitive:
		if spec.Operator == daskMapOperator {
			return r.expandDaskMap(ctx, spec)
		}
		return r.computePrimitive(ctx, id, spec)

	default:
		return nil, "", fmt.Errorf("engine: unknown node kind %s for %s", spec.Kind, id)
	}
}

// computeClosure resolves a Closure node's captured bindings into a
// ClosureHandle: closures are never dispatched to the registry, only
// passed through to dask_map (spec section 4.5a).
func (r *run) computeClosure(ctx context.Context, spec plan.NodeSpec) (any, string, error) {
	captured := make(map[string]any, len(spec.CapturedEnv))
	for _, b := range spec.CapturedEnv {
		rec, ok, err := r.e.store.Get(ctx, b.Node)
		if err != nil {
			return nil, "", err
		}
		if !ok {
			return nil, "", fmt.Errorf("engine: closure capture %s not resolved", b.Node)
		}
		captured[b.Name] = rec.Payload
	}
	handle := ClosureHandle{
		Variable:      spec.Variable,
		BodyCanonical: spec.BodyCanonical,
		Captured:      captured,
		Spec:          spec,
	}
	return handle, closureCodecTag, nil
}

// computePrimitive resolves and invokes a primitive's kernel (spec
// section 4.5a/4.5b).
func (r *run) computePrimitive(ctx context.Context, id plan.NodeId, spec plan.NodeSpec) (any, string, error) {
	positional := make(map[string]registry.Value, len(spec.Args))
	for key, dep := range spec.Args {
		rec, ok, err := r.e.store.Get(ctx, dep)
		if err != nil {
			return nil, "", err
		}
		if !ok {
			return nil, "", fmt.Errorf("engine: dependency %s of %s not resolved", dep, id)
		}
		positional[key] = rec.Payload
	}

	if r.e.limiter != nil {
		if _, _, kernel, resolveErr := r.resolveKernel(ctx, spec.Operator); resolveErr == nil && kernel.Effectful {
			if err := r.e.limiter.Wait(ctx); err != nil {
				return nil, "", err
			}
		}
	}

	result, err := r.e.registry.Dispatch(ctx, spec.Operator, r.wp.ImportedNamespaces, positional)
	if err != nil {
		return nil, "", err
	}
	return result, "json", nil
}

func (r *run) resolveKernel(ctx context.Context, operator string) (registry.QualifiedName, bool, registry.Kernel, error) {
	qn, kernel, err := r.e.registry.Resolve(ctx, operator, r.wp.ImportedNamespaces)
	return qn, err == nil, kernel, err
}

// executeGoal renders a goal's resolved payload (spec section 4.5 step
// 4).
func (e *Engine) executeGoal(ctx context.Context, g plan.GoalSpec, rec store.ResultRecord) error {
	switch g.Kind {
	case plan.GoalPrint:
		_, err := fmt.Fprintf(e.stdout, "%s=%v\n", g.Label, rec.Payload)
		return err
	case plan.GoalSave:
		codec, ok := e.codecs.Lookup(rec.CodecTag)
		if !ok {
			return fmt.Errorf("engine: unknown codec %q for goal save", rec.CodecTag)
		}
		data, err := codec.Serialize(rec.Payload)
		if err != nil {
			return fmt.Errorf("engine: serialize goal save payload: %w", err)
		}
		return os.WriteFile(g.Path, data, 0644)
	default:
		return fmt.Errorf("engine: unknown goal kind %d", g.Kind)
	}
}
