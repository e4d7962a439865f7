package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fablab-systems/hdrctl/internal/model"
)

func doc(path string, conf int, inputs []string, outputs []string) *model.HeaderRecord {
	rec := &model.HeaderRecord{
		Path: path,
		Kind: model.KindDocument,
	}
	if conf >= 0 {
		rec.Confidence = model.ConfidenceFromScore(conf)
	}
	for _, in := range inputs {
		rec.Inputs = append(rec.Inputs, model.Requirement{Name: in})
	}
	for _, out := range outputs {
		rec.Outputs = append(rec.Outputs, model.Requirement{Name: out})
	}
	return rec
}

func nodeByPath(t *testing.T, rep *Report, path string) Node {
	t.Helper()
	for _, n := range rep.Nodes {
		if n.Path == path {
			return n
		}
	}
	t.Fatalf("node %q not in report", path)
	return Node{}
}

func TestBuild_ConfidenceMonotonicAlongChain(t *testing.T) {
	// C depends on B depends on A, confidences 90, 60, 80.
	a := doc("a.md", 90, nil, []string{"a-out"})
	b := doc("b.md", 60, []string{"a-out"}, []string{"b-out"})
	c := doc("c.md", 80, []string{"b-out"}, nil)

	rep := Build([]*model.HeaderRecord{c, a, b}, DefaultPolicy())
	require.Empty(t, rep.Cycles)

	assert.Equal(t, 90, nodeByPath(t, rep, "a.md").Derived.Score)
	assert.Equal(t, 60, nodeByPath(t, rep, "b.md").Derived.Score)
	derivedC := nodeByPath(t, rep, "c.md").Derived.Score
	assert.LessOrEqual(t, derivedC, 60, "confidence never improves by chaining")
}

func TestBuild_UnresolvedDependencyDropsOneTier(t *testing.T) {
	// B wants docA-output but A is out of scope.
	b := doc("b.md", 90, []string{"docA-output"}, nil)

	rep := Build([]*model.HeaderRecord{b}, DefaultPolicy())
	node := nodeByPath(t, rep, "b.md")
	assert.Equal(t, []string{"docA-output"}, node.Unresolved)
	assert.Equal(t, model.TierMedium, node.Derived.Tier(), "one tier below declared high")
	assert.Equal(t, 1, rep.Unresolved())
}

func TestBuild_PenaltyTiersConfigurable(t *testing.T) {
	b := doc("b.md", 90, []string{"gone"}, nil)
	rep := Build([]*model.HeaderRecord{b}, Policy{UnresolvedPenaltyTiers: 2})
	assert.Equal(t, model.TierLow, nodeByPath(t, rep, "b.md").Derived.Tier())
}

func TestBuild_DependencyByArtifactPath(t *testing.T) {
	a := doc("a.md", 50, nil, nil)
	b := doc("b.md", 90, nil, nil)
	b.Dependencies = []string{"a.md"}

	rep := Build([]*model.HeaderRecord{a, b}, DefaultPolicy())
	assert.Equal(t, 50, nodeByPath(t, rep, "b.md").Derived.Score)
}

func TestBuild_CycleIsFatalForItsComponentOnly(t *testing.T) {
	// x <-> y form a cycle; z is an independent component.
	x := doc("x.md", 90, []string{"y-out"}, []string{"x-out"})
	y := doc("y.md", 90, []string{"x-out"}, []string{"y-out"})
	z := doc("z.md", 70, nil, nil)

	rep := Build([]*model.HeaderRecord{x, y, z}, DefaultPolicy())
	require.Len(t, rep.Cycles, 1)
	assert.Equal(t, []string{"x.md", "y.md"}, rep.Cycles[0])

	assert.True(t, nodeByPath(t, rep, "x.md").InCycle)
	assert.False(t, nodeByPath(t, rep, "x.md").Derived.Set, "no partial resolution inside a cycle")

	zn := nodeByPath(t, rep, "z.md")
	assert.False(t, zn.InCycle)
	assert.Equal(t, 70, zn.Derived.Score)
}

func TestBuild_ConsumerOfCycleIsTainted(t *testing.T) {
	x := doc("x.md", 90, []string{"y-out"}, []string{"x-out"})
	y := doc("y.md", 90, []string{"x-out"}, []string{"y-out"})
	w := doc("w.md", 90, []string{"x-out"}, nil)

	rep := Build([]*model.HeaderRecord{x, y, w}, DefaultPolicy())
	assert.True(t, nodeByPath(t, rep, "w.md").InCycle)
}

func TestBuild_SelfDependencyIsACycle(t *testing.T) {
	s := doc("s.md", 90, nil, nil)
	s.Dependencies = []string{"s.md"}

	rep := Build([]*model.HeaderRecord{s}, DefaultPolicy())
	require.Len(t, rep.Cycles, 1)
	assert.Equal(t, []string{"s.md"}, rep.Cycles[0])
}

func TestBuild_OwnOutputNameIsNotAnEdge(t *testing.T) {
	s := doc("s.md", 90, []string{"s-out"}, []string{"s-out"})
	rep := Build([]*model.HeaderRecord{s}, DefaultPolicy())
	assert.Empty(t, rep.Cycles)
	node := nodeByPath(t, rep, "s.md")
	assert.Empty(t, node.Unresolved)
	assert.Equal(t, 90, node.Derived.Score)
}

func TestBuild_UndeclaredConfidenceTreatedAsLow(t *testing.T) {
	a := doc("a.md", -1, nil, []string{"a-out"})
	b := doc("b.md", 90, []string{"a-out"}, nil)

	rep := Build([]*model.HeaderRecord{a, b}, DefaultPolicy())
	assert.Equal(t, model.TierLow, nodeByPath(t, rep, "b.md").Derived.Tier())
}

func TestBuild_DeterministicAcrossInputOrder(t *testing.T) {
	mk := func() []*model.HeaderRecord {
		a := doc("a.md", 90, nil, []string{"shared"})
		b := doc("b.md", 40, nil, []string{"shared"})
		c := doc("c.md", 80, []string{"shared"}, nil)
		return []*model.HeaderRecord{a, b, c}
	}
	recs := mk()
	rep1 := Build(recs, DefaultPolicy())
	rep2 := Build([]*model.HeaderRecord{recs[2], recs[1], recs[0]}, DefaultPolicy())

	// "shared" resolves to the same producer either way: first in arena
	// (path) order.
	assert.Equal(t, nodeByPath(t, rep1, "c.md").Derived, nodeByPath(t, rep2, "c.md").Derived)
	assert.Equal(t, 80, nodeByPath(t, rep1, "c.md").Derived.Score)
}
