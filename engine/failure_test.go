package engine

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxlogica-project/voxlogica-core/plan"
	"github.com/voxlogica-project/voxlogica-core/registry"
	"github.com/voxlogica-project/voxlogica-core/store"
)

var errKernelBoom = errors.New("kernel boom")

func failingKernel() registry.Kernel {
	n := 1
	return registry.Kernel{ArityHint: &n, Call: func(context.Context, map[string]registry.Value) (registry.Value, error) {
		return nil, errKernelBoom
	}}
}

// TestEngine_FailurePropagatesToTransitiveChildren covers spec section
// 8's failure-propagation scenario: a node whose kernel errors marks
// every transitive child Failed with DependencyFailed, while an
// independent subgraph still completes.
func TestEngine_FailurePropagatesToTransitiveChildren(t *testing.T) {
	reg := registry.NewManager()
	reg.Register(registry.NewNamespace(registry.DefaultNamespace).
		Register("boom", failingKernel()).
		Register("identity", arityKernel(1, func(_ context.Context, args map[string]registry.Value) (registry.Value, error) {
			return args["0"], nil
		})).
		Register("add", addKernel()))

	wp := plan.New()
	seed, _ := wp.Intern(plan.Constant(1.0))
	failing, _ := wp.Intern(plan.Primitive("boom", seed))
	downstream, _ := wp.Intern(plan.Primitive("identity", failing))

	okLeft, _ := wp.Intern(plan.Constant(4.0))
	okRight, _ := wp.Intern(plan.Constant(5.0))
	independent, _ := wp.Intern(plan.Primitive("add", okLeft, okRight))

	wp.AddGoal(plan.Print("bad", downstream))
	wp.AddGoal(plan.Print("good", independent))

	st := store.New()
	codecs := store.NewCodecRegistry()
	var out bytes.Buffer
	e := newTestEngine(reg, st, codecs, &out)

	summary, err := e.Run(context.Background(), wp)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, summary.Failed, 1)

	failRec, ok, ferr := st.Get(context.Background(), failing)
	require.NoError(t, ferr)
	require.True(t, ok)
	assert.Equal(t, store.StatusFailed, failRec.Status)
	assert.ErrorIs(t, failRec.Err, errKernelBoom)

	downRec, ok, derr := st.Get(context.Background(), downstream)
	require.NoError(t, derr)
	require.True(t, ok)
	assert.Equal(t, store.StatusFailed, downRec.Status)
	var re *RunError
	require.ErrorAs(t, downRec.Err, &re)
	assert.Equal(t, ErrKindDependencyFailed, re.Kind)
	assert.Equal(t, failing, re.Upstream)

	// The independent subgraph still completes and its goal still fires.
	assert.Contains(t, out.String(), "good=9\n")
	assert.NotContains(t, out.String(), "bad=")
}
