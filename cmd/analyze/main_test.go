package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rawblock/mule-engine/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cycleCSV = "transaction_id,sender_id,receiver_id,amount,timestamp\n" +
	"T1,A,B,1000,2024-03-01 09:00:00\n" +
	"T2,B,C,1000,2024-03-01 10:00:00\n" +
	"T3,C,A,1000,2024-03-01 11:00:00\n"

func TestRun_Stdin(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-compact"}, strings.NewReader(cycleCSV), &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	var res models.AnalysisResult
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &res))
	require.Len(t, res.FraudRings, 1)
	assert.Equal(t, "RING_001", res.FraudRings[0].RingID)
	assert.Contains(t, stdout.String(), `"risk_score":44.0`)
	assert.NotContains(t, stdout.String(), `"graph"`)
}

func TestRun_FilesAndGraph(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "tx.csv")
	out := filepath.Join(dir, "result.json")
	require.NoError(t, os.WriteFile(in, []byte(cycleCSV), 0o600))

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-in", in, "-out", out, "-graph"}, nil, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	assert.Empty(t, stdout.String())

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	var res struct {
		FraudRings []models.FraudRing `json:"fraud_rings"`
		Graph      models.GraphView   `json:"graph"`
	}
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.Len(t, res.FraudRings, 1)
	assert.Len(t, res.Graph.Nodes, 3)
}

func TestRun_ConfigOverridesEngine(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("engine:\n  cycle_min_length: 4\n"), 0o600))

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-config", cfgPath}, strings.NewReader(cycleCSV), &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	var res models.AnalysisResult
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &res))
	assert.Empty(t, res.FraudRings, "a 3-cycle is below the configured minimum")
}

func TestRun_Failures(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 1, run(context.Background(), nil, strings.NewReader("a,b\n1,2\n"), &stdout, &stderr))
	assert.Contains(t, stderr.String(), "missing required columns")

	assert.Equal(t, 1, run(context.Background(), []string{"-in", "/does/not/exist.csv"}, nil, &stdout, &stderr))
	assert.Equal(t, 2, run(context.Background(), []string{"-bogus"}, nil, &stdout, &stderr))
}
