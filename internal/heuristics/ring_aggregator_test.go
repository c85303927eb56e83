package heuristics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smurfMatch(hub, direction string, start time.Time, span time.Duration, cps ...string) PatternMatch {
	return PatternMatch{
		Type:    PatternSmurfing,
		Members: append([]string{hub}, cps...),
		Smurfing: &SmurfingEvidence{
			Hub:            hub,
			Direction:      direction,
			WindowStart:    start,
			WindowEnd:      start.Add(span),
			Counterparties: len(cps),
			NoveltyRatio:   1,
		},
	}
}

func TestAggregateRings_NumberingAcrossGroups(t *testing.T) {
	matches := []PatternMatch{
		smurfMatch("HUB", DirectionFanIn, base, time.Hour, "S1", "S2"),
		{Type: PatternShell, Members: []string{"D", "E", "F", "G"}, Shell: &ShellEvidence{Hops: 3, Intermediates: []string{"E", "F"}}},
		{Type: PatternCycle, Members: []string{"A", "B", "C"}, Cycle: &CycleEvidence{Length: 3}},
	}
	sortMatches(matches)

	agg := aggregateRings(matches, DefaultConfig())
	require.Len(t, agg.rings, 3)
	assert.Equal(t, "RING_001", agg.rings[0].id)
	assert.Equal(t, PatternCycle, agg.rings[0].pattern)
	assert.Equal(t, "RING_002", agg.rings[1].id)
	assert.Equal(t, PatternShell, agg.rings[1].pattern)
	assert.Equal(t, "RING_003", agg.rings[2].id)
	assert.Equal(t, PatternSmurfing, agg.rings[2].pattern)

	assert.Contains(t, agg.tallies["A"].tags, "cycle_length_3")
	assert.Contains(t, agg.tallies["E"].tags, TagLayeredShell)
	assert.Contains(t, agg.tallies["HUB"].tags, DirectionFanIn)
}

func TestAggregateRings_MergesOverlappingWindows(t *testing.T) {
	matches := []PatternMatch{
		smurfMatch("HUB", DirectionFanIn, base, 10*time.Hour, "S1", "S2"),
		smurfMatch("HUB", DirectionFanOut, base.Add(5*time.Hour), 10*time.Hour, "R1", "S2"),
		smurfMatch("HUB", DirectionFanIn, base.Add(14*time.Hour), 2*time.Hour, "S3"),
		smurfMatch("HUB", DirectionFanIn, base.Add(100*time.Hour), time.Hour, "S9"),
	}
	sortMatches(matches)

	agg := aggregateRings(matches, DefaultConfig())
	require.Len(t, agg.rings, 2, "the first three windows chain together")
	assert.Equal(t, []string{"HUB", "R1", "S1", "S2", "S3"}, agg.rings[0].members)
	assert.Equal(t, []string{"HUB", "S9"}, agg.rings[1].members)

	assert.Equal(t, []string{DirectionFanIn, DirectionFanOut}, agg.rings[0].tags["HUB"])
	assert.Equal(t, []string{DirectionFanIn, DirectionFanOut}, agg.rings[0].tags["S2"])
	assert.Equal(t, []string{DirectionFanOut}, agg.rings[0].tags["R1"])
	assert.Equal(t, 2, agg.tallies["HUB"].occurrences[PatternSmurfing])
}

func TestAggregateRings_HighVelocity(t *testing.T) {
	var matches []PatternMatch
	for _, pair := range [][2]string{{"P1", "Q1"}, {"P2", "Q2"}, {"P3", "Q3"}, {"P4", "Q4"}} {
		matches = append(matches, PatternMatch{
			Type:    PatternCycle,
			Members: []string{"H", pair[0], pair[1]},
			Cycle:   &CycleEvidence{Length: 3},
		})
	}
	sortMatches(matches)

	agg := aggregateRings(matches, DefaultConfig())
	assert.Contains(t, agg.tallies["H"].tags, TagHighVelocity, "four cycles exceed the velocity threshold")
	assert.NotContains(t, agg.tallies["P1"].tags, TagHighVelocity)
}
