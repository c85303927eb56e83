package heuristics

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectCycles_Triangle(t *testing.T) {
	b := &txBuilder{}
	b.add("B", "C", 1000, base)
	b.add("C", "A", 1000, base.Add(time.Hour))
	b.add("A", "B", 1000, base.Add(2*time.Hour))

	matches, err := DetectCycles(context.Background(), BuildGraph(b.txs), DefaultConfig())
	require.NoError(t, err)
	require.Len(t, matches, 1)

	m := matches[0]
	assert.Equal(t, PatternCycle, m.Type)
	assert.Equal(t, []string{"A", "B", "C"}, m.Members, "cycle is rotated to its smallest member")
	require.NotNil(t, m.Cycle)
	assert.Equal(t, 3, m.Cycle.Length)
	assert.Equal(t, []string{"TX00003", "TX00001", "TX00002"}, m.Cycle.TransactionIDs)
}

func TestDetectCycles_LengthBounds(t *testing.T) {
	tests := []struct {
		name   string
		length int
		found  bool
	}{
		{"two-node ping-pong", 2, false},
		{"length three", 3, true},
		{"length four", 4, true},
		{"length five", 5, true},
		{"length six", 6, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &txBuilder{}
			for i := 0; i < tt.length; i++ {
				from := fmt.Sprintf("N%d", i)
				to := fmt.Sprintf("N%d", (i+1)%tt.length)
				b.add(from, to, 100, base.Add(time.Duration(i)*time.Hour))
			}

			matches, err := DetectCycles(context.Background(), BuildGraph(b.txs), DefaultConfig())
			require.NoError(t, err)
			if !tt.found {
				assert.Empty(t, matches)
				return
			}
			require.Len(t, matches, 1)
			assert.Len(t, matches[0].Members, tt.length)
			assert.Equal(t, "N0", matches[0].Members[0])
		})
	}
}

func TestDetectCycles_OppositeDirectionsAreDistinct(t *testing.T) {
	b := &txBuilder{}
	b.add("A", "B", 10, base).add("B", "C", 10, base).add("C", "A", 10, base)
	b.add("A", "C", 10, base).add("C", "B", 10, base).add("B", "A", 10, base)

	matches, err := DetectCycles(context.Background(), BuildGraph(b.txs), DefaultConfig())
	require.NoError(t, err)

	var got [][]string
	for _, m := range matches {
		if len(m.Members) == 3 {
			got = append(got, m.Members)
		}
	}
	assert.ElementsMatch(t, [][]string{{"A", "B", "C"}, {"A", "C", "B"}}, got)
	for _, m := range matches {
		assert.GreaterOrEqual(t, len(m.Members), 3)
		assert.LessOrEqual(t, len(m.Members), 5)
	}
}

func TestDetectCycles_RotationInvariant(t *testing.T) {
	cycle := []string{"K", "M", "P", "Q"}
	for shift := 0; shift < len(cycle); shift++ {
		rotated := append(append([]string(nil), cycle[shift:]...), cycle[:shift]...)
		assert.Equal(t, cycle, canonicalCycle(rotated), "shift %d", shift)
	}
}

func TestDetectCycles_PerAccountCap(t *testing.T) {
	// Hub H closes three distinct triangles.
	b := &txBuilder{}
	for _, pair := range [][2]string{{"P1", "Q1"}, {"P2", "Q2"}, {"P3", "Q3"}} {
		b.add("H", pair[0], 10, base).add(pair[0], pair[1], 10, base).add(pair[1], "H", 10, base)
	}
	g := BuildGraph(b.txs)

	all, err := DetectCycles(context.Background(), g, DefaultConfig())
	require.NoError(t, err)
	assert.Len(t, all, 3)

	cfg := DefaultConfig()
	cfg.MaxCyclesPerAccount = 2
	capped, err := DetectCycles(context.Background(), g, cfg)
	require.NoError(t, err)
	assert.Len(t, capped, 2)
}

func TestDetectCycles_ContextCancelled(t *testing.T) {
	b := &txBuilder{}
	b.add("A", "B", 10, base).add("B", "C", 10, base).add("C", "A", 10, base)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := DetectCycles(ctx, BuildGraph(b.txs), DefaultConfig())
	assert.ErrorIs(t, err, context.Canceled)
}
