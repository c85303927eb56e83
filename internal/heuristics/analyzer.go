package heuristics

import (
	"context"
	"fmt"
	"time"

	"github.com/rawblock/mule-engine/pkg/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Analyzer runs the full pipeline: graph build, the three detectors,
// ring aggregation, scoring and result formatting.
//
// An Analyzer holds only configuration and is safe for concurrent use; every
// call to Analyze works on a fresh graph.
type Analyzer struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// Report is the full outcome of one run. Result is what gets exported; the
// rest is kept for the graph view, persistence and alerting.
type Report struct {
	Result   *models.AnalysisResult
	Graph    *Graph
	Matches  []PatternMatch
	Warnings []Warning
}

// NewAnalyzer builds an Analyzer. Unset thresholds fall back to DefaultConfig.
func NewAnalyzer(cfg Config, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{
		cfg:    cfg.withDefaults(),
		logger: logger.Named("analyzer"),
		now:    time.Now,
	}
}

// Config returns the effective thresholds.
func (a *Analyzer) Config() Config { return a.cfg }

// Analyze returns only the exported result.
func (a *Analyzer) Analyze(ctx context.Context, txs []models.Transaction) (*models.AnalysisResult, error) {
	rep, err := a.Run(ctx, txs)
	if err != nil {
		return nil, err
	}
	return rep.Result, nil
}

// Run executes the pipeline and returns the full report.
func (a *Analyzer) Run(ctx context.Context, txs []models.Transaction) (*Report, error) {
	started := a.now()

	if err := validateTransactions(txs); err != nil {
		return nil, err
	}

	g := BuildGraph(txs)
	if w := g.Warnings(); len(w) > 0 {
		selfLoops, nonPositive := 0, 0
		for _, x := range w {
			switch x.Kind {
			case WarningSelfLoop:
				selfLoops++
			case WarningNonPositiveAmount:
				nonPositive++
			}
		}
		a.logger.Warn("transactions excluded from graph",
			zap.Int("self_loops", selfLoops),
			zap.Int("non_positive_amounts", nonPositive))
	}

	var cycles, shells, smurfs []PatternMatch
	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		var err error
		cycles, err = DetectCycles(gctx, g, a.cfg)
		return err
	})
	grp.Go(func() error {
		var err error
		shells, err = DetectShellChains(gctx, g, a.cfg)
		return err
	})
	grp.Go(func() error {
		var err error
		smurfs, err = DetectSmurfing(gctx, g, a.cfg)
		return err
	})
	if err := grp.Wait(); err != nil {
		return nil, fmt.Errorf("pattern detection: %w", err)
	}

	matches := make([]PatternMatch, 0, len(cycles)+len(shells)+len(smurfs))
	matches = append(matches, cycles...)
	matches = append(matches, shells...)
	matches = append(matches, smurfs...)
	sortMatches(matches)

	agg := aggregateRings(matches, a.cfg)
	scoreAggregation(agg)

	elapsed := a.now().Sub(started).Seconds()
	result, err := formatResult(g, agg, elapsed)
	if err != nil {
		a.logger.Error("analysis aborted", zap.Error(err))
		return nil, err
	}

	a.logger.Info("analysis complete",
		zap.Int("transactions", len(txs)),
		zap.Int("accounts", g.NodeCount()),
		zap.Int("cycles", len(cycles)),
		zap.Int("shell_chains", len(shells)),
		zap.Int("smurfing_windows", len(smurfs)),
		zap.Int("rings", len(result.FraudRings)),
		zap.Int("flagged", len(result.SuspiciousAccounts)),
		zap.Float64("seconds", elapsed))

	return &Report{
		Result:   result,
		Graph:    g,
		Matches:  matches,
		Warnings: g.Warnings(),
	}, nil
}

func validateTransactions(txs []models.Transaction) error {
	for i, tx := range txs {
		switch {
		case tx.ID == "":
			return &SchemaError{Index: i, Field: "transaction_id"}
		case tx.SenderID == "":
			return &SchemaError{Index: i, Field: "sender_id"}
		case tx.ReceiverID == "":
			return &SchemaError{Index: i, Field: "receiver_id"}
		case tx.Timestamp.IsZero():
			return &SchemaError{Index: i, Field: "timestamp"}
		}
	}
	return nil
}
