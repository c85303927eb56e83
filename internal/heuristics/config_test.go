package heuristics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{CycleMinLength: 4, ShellMinHops: 8}.withDefaults()

	assert.Equal(t, 4, cfg.CycleMinLength)
	assert.Equal(t, 5, cfg.CycleMaxLength)
	assert.Equal(t, 8, cfg.ShellMaxHops, "max hops is raised to the minimum")
	assert.Equal(t, 72*time.Hour, cfg.SmurfingWindow)
	assert.Equal(t, 0.7, cfg.SmurfingNoveltyRatio)

	off := Config{SmurfingNoveltyRatio: -1}.withDefaults()
	assert.Equal(t, -1.0, off.SmurfingNoveltyRatio)
}

func TestDetectSmurfing_NegativeNoveltyRatioDisablesFilter(t *testing.T) {
	// Ten customers that have all paid before come back within an hour.
	b := &txBuilder{}
	b.fanIn("SHOP", "C", 10, base, time.Hour)
	b.fanIn("SHOP", "C", 10, base.Add(10*24*time.Hour), time.Minute)

	matches, err := DetectSmurfing(context.Background(), BuildGraph(b.txs), DefaultConfig())
	require.NoError(t, err)
	require.Len(t, matches, 1, "only the first visit is novel")
	assert.Equal(t, base, matches[0].Smurfing.WindowStart)

	cfg := DefaultConfig()
	cfg.SmurfingNoveltyRatio = -1
	matches, err = DetectSmurfing(context.Background(), BuildGraph(b.txs), cfg)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, 0.0, matches[1].Smurfing.NoveltyRatio)
}
