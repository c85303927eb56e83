package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rawblock/mule-engine/pkg/models"
)

// AnalysesTotal counts analysis runs by outcome: ok, rejected, timeout,
// cancelled or error.
var AnalysesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "mule_engine_analyses_total",
		Help: "Total number of analysis runs by outcome",
	},
	[]string{"outcome"},
)

// AnalysisLatency records end-to-end engine time per run.
var AnalysisLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "mule_engine_analysis_duration_seconds",
		Help:    "Time spent in the detection engine per analysis run",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	},
)

// Per-run volume metrics
var (
	TransactionsAnalyzed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mule_engine_transactions_analyzed_total",
			Help: "Transactions accepted into analysis runs",
		},
	)

	RingsDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mule_engine_rings_detected_total",
			Help: "Fraud rings detected by pattern type",
		},
		[]string{"pattern"},
	)

	AccountsFlagged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mule_engine_accounts_flagged_total",
			Help: "Suspicious accounts flagged across all runs",
		},
	)

	RowsSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mule_engine_csv_rows_skipped_total",
			Help: "CSV rows dropped during ingestion by reason",
		},
		[]string{"reason"},
	)
)

// Downstream delivery
var (
	CacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mule_engine_cache_requests_total",
			Help: "Result cache lookups by result (hit/miss/error)",
		},
		[]string{"result"},
	)

	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mule_engine_events_published_total",
			Help: "Analysis events published to the event stream by outcome",
		},
		[]string{"outcome"},
	)

	AlertsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mule_engine_alerts_emitted_total",
			Help: "Ring alerts emitted by severity",
		},
		[]string{"severity"},
	)

	WebsocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mule_engine_websocket_clients",
			Help: "Currently connected live-stream clients",
		},
	)
)

func init() {
	prometheus.MustRegister(AnalysesTotal, AnalysisLatency)
	prometheus.MustRegister(TransactionsAnalyzed, RingsDetected, AccountsFlagged, RowsSkipped)
	prometheus.MustRegister(CacheRequests, EventsPublished, AlertsEmitted, WebsocketClients)
}

// ObserveAnalysis records a successful run.
func ObserveAnalysis(txCount int, result *models.AnalysisResult, elapsed time.Duration) {
	AnalysesTotal.WithLabelValues("ok").Inc()
	AnalysisLatency.Observe(elapsed.Seconds())
	TransactionsAnalyzed.Add(float64(txCount))
	AccountsFlagged.Add(float64(len(result.SuspiciousAccounts)))
	for _, r := range result.FraudRings {
		RingsDetected.WithLabelValues(r.PatternType).Inc()
	}
}

// ObserveSkipped records ingestion skip counts.
func ObserveSkipped(skipped map[string]int) {
	for reason, n := range skipped {
		RowsSkipped.WithLabelValues(reason).Add(float64(n))
	}
}
