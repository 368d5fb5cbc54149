package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constKernel(v Value) Kernel {
	return Kernel{Call: func(ctx context.Context, args map[string]Value) (Value, error) { return v, nil }}
}

func TestResolve_QualifiedLooksUpExactNamespace(t *testing.T) {
	m := NewManager()
	m.Register(NewNamespace("math").Register("add", constKernel("math.add")))
	m.Register(NewNamespace(DefaultNamespace).Register("add", constKernel("default.add")))

	qn, k, err := m.Resolve(context.Background(), "math.add", nil)
	require.NoError(t, err)
	assert.Equal(t, "math", qn.Namespace)
	v, _ := k.Call(context.Background(), nil)
	assert.Equal(t, "math.add", v)
}

func TestResolve_DefaultNamespaceWinsFirst(t *testing.T) {
	m := NewManager()
	m.Register(NewNamespace(DefaultNamespace).Register("add", constKernel("default")))
	m.Register(NewNamespace("math").Register("add", constKernel("math")))

	qn, _, err := m.Resolve(context.Background(), "add", []string{"math"})
	require.NoError(t, err)
	assert.Equal(t, DefaultNamespace, qn.Namespace)
}

func TestResolve_ImportsBeforeRemaining(t *testing.T) {
	m := NewManager()
	m.Register(NewNamespace("alpha").Register("f", constKernel("alpha")))
	m.Register(NewNamespace("zeta").Register("f", constKernel("zeta")))

	// "zeta" sorts after "alpha" lexicographically but is explicitly
	// imported, so it must win over the non-imported "alpha".
	qn, _, err := m.Resolve(context.Background(), "f", []string{"zeta"})
	require.NoError(t, err)
	assert.Equal(t, "zeta", qn.Namespace)
}

func TestResolve_RemainingNamespacesLexicographic(t *testing.T) {
	m := NewManager()
	m.Register(NewNamespace("zeta").Register("f", constKernel("zeta")))
	m.Register(NewNamespace("alpha").Register("f", constKernel("alpha")))

	qn, _, err := m.Resolve(context.Background(), "f", nil)
	require.NoError(t, err)
	assert.Equal(t, "alpha", qn.Namespace)
}

func TestResolve_AmbiguousStillSucceedsWithFirstMatch(t *testing.T) {
	m := NewManager()
	m.Register(NewNamespace("a").Register("f", constKernel("a")))
	m.Register(NewNamespace("b").Register("f", constKernel("b")))

	qn, _, err := m.Resolve(context.Background(), "f", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, "a", qn.Namespace, "ambiguous import resolves to the first declared import, not an error")
}

func TestResolve_NotFound(t *testing.T) {
	m := NewManager()
	_, _, err := m.Resolve(context.Background(), "missing", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDispatch_RemapsPositionalArgsToNames(t *testing.T) {
	m := NewManager()
	var seen map[string]Value
	k := Kernel{
		ArgNames: []string{"left", "right"},
		Call: func(ctx context.Context, args map[string]Value) (Value, error) {
			seen = args
			return args["left"].(float64) + args["right"].(float64), nil
		},
	}
	m.Register(NewNamespace(DefaultNamespace).Register("add", k))

	result, err := m.Dispatch(context.Background(), "add", nil, map[string]Value{"0": 2.0, "1": 3.0})
	require.NoError(t, err)
	assert.Equal(t, 5.0, result)
	assert.Equal(t, map[string]Value{"left": 2.0, "right": 3.0}, seen)
}

func TestDispatch_ArityMismatch(t *testing.T) {
	one := 1
	m := NewManager()
	m.Register(NewNamespace(DefaultNamespace).Register("neg", Kernel{
		ArityHint: &one,
		Call:      func(ctx context.Context, args map[string]Value) (Value, error) { return nil, nil },
	}))

	_, err := m.Dispatch(context.Background(), "neg", nil, map[string]Value{"0": 1.0, "1": 2.0})
	require.Error(t, err)
	var re *Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrKindArgumentCountMismatch, re.Kind)
}

func TestDispatch_SchemaValidationRejectsBadArgument(t *testing.T) {
	schema, err := CompileSchema("args.json", []byte(`{
		"type": "object",
		"properties": {"n": {"type": "number"}},
		"required": ["n"]
	}`))
	require.NoError(t, err)

	m := NewManager()
	m.Register(NewNamespace(DefaultNamespace).Register("sqrt", Kernel{
		ArgNames:  []string{"n"},
		ArgSchema: schema,
		Call:      func(ctx context.Context, args map[string]Value) (Value, error) { return args["n"], nil },
	}))

	_, err = m.Dispatch(context.Background(), "sqrt", nil, map[string]Value{"0": "not-a-number"})
	require.Error(t, err)
	var re *Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrKindArgumentTypeMismatch, re.Kind)

	result, err := m.Dispatch(context.Background(), "sqrt", nil, map[string]Value{"0": 4.0})
	require.NoError(t, err)
	assert.Equal(t, 4.0, result)
}

func TestListPrimitives_SortedDeterministic(t *testing.T) {
	m := NewManager()
	m.Register(NewNamespace("b").Register("y", constKernel(nil)).Register("x", constKernel(nil)))
	m.Register(NewNamespace("a").Register("z", constKernel(nil)))

	got := m.ListPrimitives()
	want := []QualifiedName{
		{Namespace: "a", Name: "z"},
		{Namespace: "b", Name: "x"},
		{Namespace: "b", Name: "y"},
	}
	assert.Equal(t, want, got)
}
