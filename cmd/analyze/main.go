// Command analyze runs the detection engine once over a CSV file and prints
// the canonical JSON result.
//
//	analyze -in transactions.csv -out result.json
//	cat transactions.csv | analyze -graph
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/rawblock/mule-engine/internal/config"
	"github.com/rawblock/mule-engine/internal/heuristics"
	"github.com/rawblock/mule-engine/internal/ingest"
	"github.com/rawblock/mule-engine/internal/logger"
	"github.com/rawblock/mule-engine/pkg/models"
	"go.uber.org/zap"
)

type graphOutput struct {
	*models.AnalysisResult
	Graph models.GraphView `json:"graph"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	fs.SetOutput(stderr)
	in := fs.String("in", "-", "input CSV file, - for stdin")
	out := fs.String("out", "-", "output JSON file, - for stdout")
	configPath := fs.String("config", "", "YAML config file; only the engine section is used")
	withGraph := fs.Bool("graph", false, "include the graph visualization payload")
	compact := fs.Bool("compact", false, "write compact JSON")
	level := fs.String("log-level", "warn", "log level for diagnostics on stderr")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	log := logger.NewWithWriter(*level, stderr)
	defer log.Sync() //nolint:errcheck

	engineCfg := heuristics.DefaultConfig()
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			log.Error("loading config", zap.Error(err))
			return 1
		}
		engineCfg = cfg.Engine
	}

	src := stdin
	if *in != "-" {
		f, err := os.Open(*in)
		if err != nil {
			log.Error("opening input", zap.Error(err))
			return 1
		}
		defer f.Close()
		src = f
	}

	txs, report, err := ingest.ParseCSV(src)
	if err != nil {
		log.Error("parsing csv", zap.Error(err))
		return 1
	}
	if report.SkippedTotal() > 0 {
		log.Warn("csv rows skipped", zap.Int("rows", report.Rows), zap.Any("skipped", report.Skipped))
	}

	rep, err := heuristics.NewAnalyzer(engineCfg, log).Run(ctx, txs)
	if err != nil {
		log.Error("analysis failed", zap.Error(err))
		return 1
	}

	var payload any = rep.Result
	if *withGraph {
		payload = graphOutput{AnalysisResult: rep.Result, Graph: heuristics.BuildGraphView(rep.Graph, rep.Result)}
	}

	dst := stdout
	if *out != "-" {
		f, err := os.Create(*out)
		if err != nil {
			log.Error("creating output", zap.Error(err))
			return 1
		}
		defer f.Close()
		dst = f
	}

	enc := json.NewEncoder(dst)
	if !*compact {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(payload); err != nil {
		fmt.Fprintf(stderr, "writing result: %v\n", err)
		return 1
	}
	return 0
}
