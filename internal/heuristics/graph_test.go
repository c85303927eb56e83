package heuristics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildGraph_Aggregates(t *testing.T) {
	b := &txBuilder{}
	b.add("A", "B", 100, base)
	b.add("A", "B", 50.25, base.Add(time.Hour))
	b.add("B", "C", 75, base.Add(2*time.Hour))

	g := BuildGraph(b.txs)

	require.Equal(t, []string{"A", "B", "C"}, g.Accounts())
	assert.Equal(t, 3, g.EdgeCount())

	a := g.Account("A")
	assert.Equal(t, 2, a.OutDegree)
	assert.Equal(t, 0, a.InDegree)
	assert.Equal(t, 1, a.DistinctReceivers())
	assert.Equal(t, "150.25", a.TotalOut.String())

	bAcct := g.Account("B")
	assert.Equal(t, 3, bAcct.TotalTxCount)
	assert.Equal(t, base, bAcct.FirstSeen)
	assert.Equal(t, base.Add(2*time.Hour), bAcct.LastSeen)

	assert.Equal(t, []string{"B"}, g.Successors("A"), "parallel edges collapse in Successors")
	assert.Len(t, g.Out("A"), 2, "parallel edges are kept")
	assert.Nil(t, g.Account("Z"))
}

func TestBuildGraph_WarningsExcludeTransactions(t *testing.T) {
	b := &txBuilder{}
	b.add("A", "A", 100, base)
	b.add("B", "C", 0, base)
	b.add("B", "C", -5, base)
	b.add("D", "E", 10, base)

	g := BuildGraph(b.txs)

	require.Len(t, g.Warnings(), 3)
	assert.Equal(t, WarningSelfLoop, g.Warnings()[0].Kind)
	assert.Equal(t, "TX00001", g.Warnings()[0].TransactionID)
	assert.Equal(t, WarningNonPositiveAmount, g.Warnings()[1].Kind)
	assert.Equal(t, 2, g.Warnings()[2].Index)

	assert.Equal(t, []string{"D", "E"}, g.Accounts(), "excluded rows create no accounts")
	assert.Equal(t, 1, g.EdgeCount())
}
