package canvas

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"constellation/internal/domain"
)

func TestSanitizeViewport(t *testing.T) {
	cases := []struct {
		name string
		in   domain.Viewport
		want domain.Viewport
	}{
		{"valid", domain.Viewport{X: 10, Y: -4, Zoom: 1.5}, domain.Viewport{X: 10, Y: -4, Zoom: 1.5}},
		{"zero zoom", domain.Viewport{X: 1, Y: 2, Zoom: 0}, domain.Viewport{X: 1, Y: 2, Zoom: 1}},
		{"negative zoom", domain.Viewport{Zoom: -3}, domain.Viewport{Zoom: 1}},
		{"nan everywhere", domain.Viewport{X: math.NaN(), Y: math.NaN(), Zoom: math.NaN()}, domain.Viewport{Zoom: 1}},
		{"infinities", domain.Viewport{X: math.Inf(1), Y: math.Inf(-1), Zoom: math.Inf(1)}, domain.Viewport{Zoom: 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := SanitizeViewport(tc.in)
			assert.Equal(t, tc.want, got)
			assert.Greater(t, got.Zoom, 0.0)
		})
	}
}

func TestSanitizeNodes(t *testing.T) {
	nodes, err := SanitizeNodes([]domain.Node{
		{ID: "a", Position: domain.Position{X: math.NaN(), Y: 3}},
		{ID: "b", Type: "agent"},
		{ID: "a", Type: "prompt", Position: domain.Position{X: 7}},
	})
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "a", nodes[0].ID)
	assert.Equal(t, "prompt", nodes[0].Type)
	assert.Equal(t, 7.0, nodes[0].Position.X)
	assert.Equal(t, "agent", nodes[1].Type)

	_, err = SanitizeNodes([]domain.Node{{Type: "x"}})
	assert.ErrorIs(t, err, ErrInvalidNode)
}

func TestSanitizeEdges(t *testing.T) {
	edges, err := SanitizeEdges([]domain.Edge{
		{ID: "e1", Source: "a", Target: "b"},
		{ID: "e1", Source: "b", Target: "c"},
	})
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "a", edges[0].Source)

	_, err = SanitizeEdges([]domain.Edge{{ID: "e2", Source: "a"}})
	assert.ErrorIs(t, err, ErrInvalidEdge)
}

func TestApplyNodeChanges(t *testing.T) {
	base := []domain.Node{
		{ID: "a", Type: "agent", Position: domain.Position{X: 1, Y: 1}},
		{ID: "b", Type: "agent"},
	}

	moved, changed, err := ApplyNodeChanges(base, []NodeChange{{Type: ChangePosition, ID: "a", Position: &domain.Position{X: 5, Y: 6}}})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, domain.Position{X: 5, Y: 6}, moved[0].Position)
	assert.Equal(t, domain.Position{X: 1, Y: 1}, base[0].Position, "input must not be mutated")

	kept, changed, err := ApplyNodeChanges(base, []NodeChange{{Type: ChangePosition, ID: "a"}})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, base[0].Position, kept[0].Position)

	_, changed, err = ApplyNodeChanges(base, []NodeChange{{Type: ChangePosition, ID: "missing", Position: &domain.Position{}}})
	require.NoError(t, err)
	assert.False(t, changed)

	added, changed, err := ApplyNodeChanges(base, []NodeChange{{Type: ChangeAdd, Item: &domain.Node{ID: "c"}}})
	require.NoError(t, err)
	assert.True(t, changed)
	require.Len(t, added, 3)
	assert.Equal(t, "default", added[2].Type)

	removed, changed, err := ApplyNodeChanges(base, []NodeChange{{Type: ChangeRemove, ID: "a"}})
	require.NoError(t, err)
	assert.True(t, changed)
	require.Len(t, removed, 1)
	assert.Equal(t, "b", removed[0].ID)
	assert.Len(t, base, 2)

	_, _, err = ApplyNodeChanges(base, []NodeChange{{Type: "select", ID: "a"}})
	assert.ErrorIs(t, err, ErrInvalidChange)
}

func TestApplyEdgeChanges(t *testing.T) {
	base := []domain.Edge{{ID: "e1", Source: "a", Target: "b"}}

	same, changed, err := ApplyEdgeChanges(base, []EdgeChange{{Type: ChangeAdd, Item: &domain.Edge{ID: "e1", Source: "x", Target: "y"}}})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, base, same)

	added, changed, err := ApplyEdgeChanges(base, []EdgeChange{{Type: ChangeAdd, Item: &domain.Edge{ID: "e2", Source: "b", Target: "c"}}})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Len(t, added, 2)

	removed, changed, err := ApplyEdgeChanges(added, []EdgeChange{{Type: ChangeRemove, ID: "e1"}})
	require.NoError(t, err)
	assert.True(t, changed)
	require.Len(t, removed, 1)
	assert.Equal(t, "e2", removed[0].ID)
}

func TestPruneEdges(t *testing.T) {
	nodes := []domain.Node{{ID: "a"}, {ID: "b"}}
	edges := []domain.Edge{
		{ID: "ok", Source: "a", Target: "b"},
		{ID: "gone", Source: "a", Target: "c"},
	}
	assert.Equal(t, []string{"gone"}, DanglingEdges(nodes, edges))
	pruned := PruneEdges(nodes, edges)
	require.Len(t, pruned, 1)
	assert.Equal(t, "ok", pruned[0].ID)
}
