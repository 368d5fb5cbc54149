package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPlanRoundTrip is the round-trip test named in SPEC_FULL.md section
// 6.1, grounded on opal-lang-opal/core/planfmt/roundtrip_test.go: a WorkPlan
// exported to JSON and re-imported must re-hash every node to the same
// NodeId it had originally.
func TestPlanRoundTrip(t *testing.T) {
	p := New()
	two, err := p.Intern(Constant(float64(2)))
	require.NoError(t, err)
	three, err := p.Intern(Constant(float64(3)))
	require.NoError(t, err)
	sum, err := p.Intern(Primitive("add", two, three))
	require.NoError(t, err)
	p.AddImport("arith")
	p.AddGoal(Print("r", sum))

	data, err := p.MarshalJSON()
	require.NoError(t, err)

	p2, err := UnmarshalPlan(data)
	require.NoError(t, err)

	assert.Equal(t, p.ImportedNamespaces, p2.ImportedNamespaces)
	require.Len(t, p2.Goals, 1)
	assert.Equal(t, p.Goals[0].Node, p2.Goals[0].Node)

	for id, spec := range p2.Nodes {
		rehashed, err := HashNode(spec)
		require.NoError(t, err)
		assert.Equal(t, id, rehashed, "re-imported node must re-hash to its original id")
	}
	assert.Equal(t, len(p.Nodes), len(p2.Nodes))
}

// TestPlanDeterminismAcrossMarshal verifies that marshaling the same plan
// twice produces byte-identical JSON (map key sort order is stable).
func TestPlanDeterminismAcrossMarshal(t *testing.T) {
	p := New()
	a, _ := p.Intern(Constant("a"))
	b, _ := p.Intern(Constant("b"))
	_, err := p.Intern(Primitive("concat", a, b))
	require.NoError(t, err)

	d1, err := p.MarshalJSON()
	require.NoError(t, err)
	d2, err := p.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
}
