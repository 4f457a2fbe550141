package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectCycles_ThreeNodeCycle(t *testing.T) {
	g := New()
	g.AddNode(Node{ID: "A"})
	g.AddNode(Node{ID: "B"})
	g.AddNode(Node{ID: "C"})
	g.AddEdge("A", "B")
	g.AddEdge("B", "C")
	g.AddEdge("C", "A")

	cycles := g.DetectCycles()
	require.Len(t, cycles, 1)
	assert.ElementsMatch(t, []string{"A", "B", "C"}, cycles[0])
}

func TestDetectCycles_NoCycle(t *testing.T) {
	g := New()
	g.AddNode(Node{ID: "A"})
	g.AddNode(Node{ID: "B"})
	g.AddEdge("A", "B")

	assert.Empty(t, g.DetectCycles())
}

func TestDetectCycles_SelfLoop(t *testing.T) {
	g := New()
	g.AddNode(Node{ID: "A"})
	g.AddEdge("A", "A")

	cycles := g.DetectCycles()
	require.Len(t, cycles, 1)
	assert.Equal(t, []string{"A"}, cycles[0])
}

func TestTopoOrder_DependencyFirst(t *testing.T) {
	g := New()
	g.AddNode(Node{ID: "A"})
	g.AddNode(Node{ID: "B"})
	g.AddNode(Node{ID: "C"})
	g.AddEdge("A", "B") // A requires B
	g.AddEdge("B", "C") // B requires C

	order, err := g.TopoOrder()
	require.NoError(t, err)
	require.Len(t, order, 3)

	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	assert.Less(t, pos["C"], pos["B"])
	assert.Less(t, pos["B"], pos["A"])
}

func TestTopoOrder_CycleFails(t *testing.T) {
	g := New()
	g.AddNode(Node{ID: "A"})
	g.AddNode(Node{ID: "B"})
	g.AddEdge("A", "B")
	g.AddEdge("B", "A")

	_, err := g.TopoOrder()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestAddEdge_ImplicitNodeAndDedupe(t *testing.T) {
	g := New()
	g.AddNode(Node{ID: "A"})
	g.AddEdge("A", "B")
	g.AddEdge("A", "B")

	assert.Equal(t, []string{"B"}, g.Dependencies("A"))
	assert.Contains(t, g.NodeIDs(), "B")
}

func TestDOT_EdgesPointDependencyToDependent(t *testing.T) {
	g := New()
	g.AddNode(Node{ID: "spend.total", Kind: "computed", DataType: "scalar"})
	g.AddNode(Node{ID: "ledger.all_transactions", Kind: "observed", DataType: "dataframe"})
	g.AddEdge("spend.total", "ledger.all_transactions")

	dot := g.DOT()
	assert.Contains(t, dot, `"ledger.all_transactions" -> "spend.total";`)
	assert.Contains(t, dot, `(computed, scalar)`)
}
