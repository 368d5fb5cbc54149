package registry

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/voxlogica-project/voxlogica-core/telemetry"
)

// Option configures a Manager, following the functional-options pattern from
// runtime/registry/manager.go (WithCache/WithLogger/WithMetrics/WithTracer).
type Option func(*Manager)

// WithLogger attaches a Logger used to report ambiguous-import resolutions.
func WithLogger(l telemetry.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics attaches a Metrics sink for resolution/dispatch counters.
func WithMetrics(ms telemetry.Metrics) Option {
	return func(m *Manager) { m.metrics = ms }
}

// WithTracer attaches a Tracer used to span Dispatch calls.
func WithTracer(tr telemetry.Tracer) Option {
	return func(m *Manager) { m.tracer = tr }
}

// Manager is the primitive registry: a set of namespaces plus the
// deterministic resolution logic from spec section 4.2. It is grounded on
// runtime/registry/manager.go's Manager, narrowed from toolset federation
// down to plain kernel lookup.
type Manager struct {
	namespaces map[string]Namespace

	logger  telemetry.Logger
	metrics telemetry.Metrics
	tracer  telemetry.Tracer
}

// NewManager creates an empty Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespaces: make(map[string]Namespace),
		logger:     telemetry.NoopLogger{},
		metrics:    telemetry.NoopMetrics{},
		tracer:     telemetry.NoopTracer{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds or replaces a namespace.
func (m *Manager) Register(ns Namespace) { m.namespaces[ns.Name()] = ns }

// ListPrimitives returns every (namespace, name) pair across all registered
// namespaces, sorted for deterministic output.
func (m *Manager) ListPrimitives() []QualifiedName {
	var out []QualifiedName
	for nsName, ns := range m.namespaces {
		for _, name := range ns.List() {
			out = append(out, QualifiedName{Namespace: nsName, Name: name})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Namespace != out[j].Namespace {
			return out[i].Namespace < out[j].Namespace
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Resolve implements spec section 4.2's resolution order for an operator
// name against a plan's imported-namespace list:
//
//  1. a qualified name ("ns.name") looks up exactly that namespace;
//  2. an unqualified name is tried, in order: the default namespace, then
//     each imported namespace in declared order, then every remaining
//     registered namespace sorted lexicographically;
//  3. the first namespace defining the name wins. If more than one
//     candidate in that ordered search defines the name, resolution still
//     succeeds with the first match, but a warning is logged (ambiguous
//     imports are not a hard error).
func (m *Manager) Resolve(ctx context.Context, operator string, imports []string) (QualifiedName, Kernel, error) {
	if ns, name, qualified := SplitQualified(operator); qualified {
		namespace, ok := m.namespaces[ns]
		if !ok {
			return QualifiedName{}, Kernel{}, NotFound(operator)
		}
		k, ok := namespace.Lookup(name)
		if !ok {
			return QualifiedName{}, Kernel{}, NotFound(operator)
		}
		return QualifiedName{Namespace: ns, Name: name}, k, nil
	}

	candidates := m.candidateOrder(imports)
	var matches []QualifiedName
	var firstKernel Kernel
	for _, nsName := range candidates {
		namespace, ok := m.namespaces[nsName]
		if !ok {
			continue
		}
		k, ok := namespace.Lookup(operator)
		if !ok {
			continue
		}
		if len(matches) == 0 {
			firstKernel = k
		}
		matches = append(matches, QualifiedName{Namespace: nsName, Name: operator})
	}

	if len(matches) == 0 {
		return QualifiedName{}, Kernel{}, NotFound(operator)
	}
	if len(matches) > 1 {
		m.logger.Warn(ctx, "ambiguous primitive resolution, using first match",
			"operator", operator, "resolved", matches[0].Namespace, "candidates", len(matches))
		m.metrics.IncCounter("registry.resolve.ambiguous", 1, "operator", operator)
	}
	return matches[0], firstKernel, nil
}

// candidateOrder builds the namespace search order: default, then imports in
// declared order (deduplicated against default), then every other
// registered namespace sorted lexicographically.
func (m *Manager) candidateOrder(imports []string) []string {
	seen := map[string]bool{}
	order := make([]string, 0, len(m.namespaces))

	if _, ok := m.namespaces[DefaultNamespace]; ok {
		order = append(order, DefaultNamespace)
		seen[DefaultNamespace] = true
	}
	for _, ns := range imports {
		if seen[ns] {
			continue
		}
		seen[ns] = true
		order = append(order, ns)
	}

	var rest []string
	for ns := range m.namespaces {
		if !seen[ns] {
			rest = append(rest, ns)
		}
	}
	sort.Strings(rest)
	order = append(order, rest...)
	return order
}

// Dispatch resolves operator against imports, remaps positional arguments
// ("0", "1", ...) to Kernel.ArgNames, validates the remapped arguments
// against Kernel.ArgSchema when present, and invokes the kernel. A panic
// inside the kernel is recovered and returned as an error.
func (m *Manager) Dispatch(ctx context.Context, operator string, imports []string, positional map[string]Value) (result Value, err error) {
	ctx, span := m.tracer.Start(ctx, "registry.Dispatch")
	defer span.End()

	qn, kernel, err := m.Resolve(ctx, operator, imports)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if kernel.ArityHint != nil && *kernel.ArityHint != len(positional) {
		err := ArgumentCountMismatch(operator, strconv.Itoa(len(positional))+" given, "+strconv.Itoa(*kernel.ArityHint)+" expected")
		span.RecordError(err)
		return nil, err
	}

	named := remapArgs(positional, kernel.ArgNames)

	if kernel.ArgSchema != nil {
		if err := kernel.ArgSchema.Validate(named); err != nil {
			wrapped := ArgumentTypeMismatch(operator, err)
			span.RecordError(wrapped)
			return nil, wrapped
		}
	}

	m.metrics.IncCounter("registry.dispatch", 1, "namespace", qn.Namespace, "name", qn.Name)
	defer func() {
		if p := recover(); p != nil {
			result, err = nil, fmt.Errorf("registry: kernel %s panicked: %v", qn, p)
			span.RecordError(err)
		}
	}()
	result, err = kernel.Call(ctx, named)
	if err != nil {
		span.RecordError(err)
	}
	return result, err
}

// remapArgs rewrites positional keys "0","1",... to names[i] where present;
// keys beyond len(names), or when names is nil, pass through unchanged.
func remapArgs(positional map[string]Value, names []string) map[string]Value {
	if len(names) == 0 {
		return positional
	}
	out := make(map[string]Value, len(positional))
	for key, v := range positional {
		idx, err := strconv.Atoi(key)
		if err == nil && idx >= 0 && idx < len(names) {
			out[names[idx]] = v
			continue
		}
		out[key] = v
	}
	return out
}
