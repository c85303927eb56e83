package heuristics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestActivityProfile_PeriodicSender(t *testing.T) {
	b := &txBuilder{}
	// base is a Friday; one transfer every hour for a day
	for i := 0; i < 24; i++ {
		b.add("BOT", "SINK", 10, base.Add(time.Duration(i)*time.Hour))
	}
	g := BuildGraph(b.txs)

	p := ActivityProfile(g, "BOT")
	assert.Equal(t, 1.0, p.Regularity)
	assert.Equal(t, 25.04, p.TxPerDay)
	assert.Equal(t, EntityAutomated, p.EntityType)
	assert.True(t, p.Automated)
}

func TestActivityProfile_SparseAccount(t *testing.T) {
	b := &txBuilder{}
	b.add("A", "B", 10, base)
	b.add("B", "C", 10, base.Add(time.Hour))
	g := BuildGraph(b.txs)

	p := ActivityProfile(g, "A")
	assert.Equal(t, EntityUnknown, p.EntityType)
	assert.Zero(t, p.TxPerDay)
}

func TestActivityProfile_PeakHourAndWeekdays(t *testing.T) {
	b := &txBuilder{}
	monday := time.Date(2024, 3, 4, 14, 0, 0, 0, time.UTC)
	b.add("X", "Y", 10, monday)
	b.add("X", "Y", 10, monday.Add(24*time.Hour))
	b.add("Z", "X", 10, monday.Add(48*time.Hour+2*time.Hour))
	b.add("X", "Y", 10, monday.Add(5*24*time.Hour)) // Saturday
	g := BuildGraph(b.txs)

	p := ActivityProfile(g, "X")
	assert.Equal(t, 14, p.PeakHourUTC)
	assert.Equal(t, 0.75, p.WeekdayRatio)
}

func TestBuildGraphView_ProfilesFlaggedAccountsOnly(t *testing.T) {
	rep, err := newTestAnalyzer(t).Run(context.Background(), multiPattern().txs)
	assert.NoError(t, err)

	view := BuildGraphView(rep.Graph, rep.Result)
	for _, n := range view.Nodes {
		if n.Suspicious {
			assert.NotNil(t, n.Activity, n.ID)
		} else {
			assert.Nil(t, n.Activity, n.ID)
		}
	}
}
