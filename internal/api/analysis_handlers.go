package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rawblock/mule-engine/internal/cache"
	"github.com/rawblock/mule-engine/internal/events"
	"github.com/rawblock/mule-engine/internal/heuristics"
	"github.com/rawblock/mule-engine/internal/ingest"
	"github.com/rawblock/mule-engine/internal/metrics"
	"github.com/rawblock/mule-engine/pkg/models"
	"go.uber.org/zap"
)

// uploadResponse is the canonical result plus the dashboard extras.
type uploadResponse struct {
	*models.AnalysisResult
	SessionID string               `json:"session_id,omitempty"`
	Filename  string               `json:"filename"`
	Graph     *models.GraphView    `json:"graph"`
	Ingest    *ingest.ParseReport  `json:"ingest,omitempty"`
	Warnings  []heuristics.Warning `json:"warnings,omitempty"`
	Cached    bool                 `json:"cached"`
}

type transactionInput struct {
	TransactionID string  `json:"transaction_id" binding:"required"`
	SenderID      string  `json:"sender_id" binding:"required"`
	ReceiverID    string  `json:"receiver_id" binding:"required"`
	Amount        float64 `json:"amount"`
	Timestamp     string  `json:"timestamp" binding:"required"`
}

type analyzeRequest struct {
	Transactions []transactionInput `json:"transactions" binding:"required,min=1,dive"`
}

// handleUpload runs the engine on a CSV file:
// parse, analyze, persist, cache, broadcast, publish.
func (h *APIHandler) handleUpload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.server.MaxUploadBytes)

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided", "details": "expected multipart field 'file'"})
		return
	}
	if !strings.EqualFold(filepath.Ext(fh.Filename), ".csv") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Only .csv files are accepted"})
		return
	}

	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unable to read upload", "details": err.Error()})
		return
	}
	payload, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unable to read upload", "details": err.Error()})
		return
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Uploaded file is empty"})
		return
	}

	key := cache.Key(payload, h.analyzer.Config())
	if entry := h.cachedResult(c.Request.Context(), key); entry != nil {
		c.JSON(http.StatusOK, uploadResponse{
			AnalysisResult: entry.Result,
			SessionID:      entry.SessionID,
			Filename:       fh.Filename,
			Graph:          entry.Graph,
			Cached:         true,
		})
		return
	}

	txs, report, err := ingest.ParseCSV(bytes.NewReader(payload))
	metrics.ObserveSkipped(report.Skipped)
	if err != nil {
		metrics.AnalysesTotal.WithLabelValues("rejected").Inc()
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Invalid CSV", "details": err.Error()})
		return
	}
	if report.SkippedTotal() > 0 {
		h.logger.Info("csv rows skipped",
			zap.String("filename", fh.Filename),
			zap.Int("rows", report.Rows),
			zap.Any("skipped", report.Skipped))
	}

	rep, ok := h.run(c, txs)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	sessionID := ""
	if h.sessions != nil {
		id, err := h.sessions.SaveSession(ctx, fh.Filename, rep.Result)
		if err != nil {
			h.logger.Warn("failed to persist session", zap.String("filename", fh.Filename), zap.Error(err))
		} else {
			sessionID = id
		}
	}

	graph := heuristics.BuildGraphView(rep.Graph, rep.Result)
	if h.cache != nil {
		entry := &cache.Entry{SessionID: sessionID, Result: rep.Result, Graph: &graph}
		if err := h.cache.Put(ctx, key, entry); err != nil {
			h.logger.Warn("failed to cache result", zap.Error(err))
		}
	}

	h.publish(ctx, sessionID, fh.Filename, rep.Result)

	c.JSON(http.StatusOK, uploadResponse{
		AnalysisResult: rep.Result,
		SessionID:      sessionID,
		Filename:       fh.Filename,
		Graph:          &graph,
		Ingest:         &report,
		Warnings:       rep.Warnings,
	})
}

// handleAnalyze runs the engine on a JSON transaction list and returns the
// canonical result. Nothing is persisted or cached.
func (h *APIHandler) handleAnalyze(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	txs := make([]models.Transaction, 0, len(req.Transactions))
	for i, in := range req.Transactions {
		ts, err := parseTimestamp(in.Timestamp)
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":   "Invalid timestamp",
				"details": err.Error(),
				"index":   i,
			})
			return
		}
		txs = append(txs, models.Transaction{
			ID:         strings.TrimSpace(in.TransactionID),
			SenderID:   strings.TrimSpace(in.SenderID),
			ReceiverID: strings.TrimSpace(in.ReceiverID),
			Amount:     in.Amount,
			Timestamp:  ts,
		})
	}

	rep, ok := h.run(c, txs)
	if !ok {
		return
	}
	h.publish(c.Request.Context(), "", "", rep.Result)
	c.JSON(http.StatusOK, rep.Result)
}

// run executes the engine under the request deadline and writes the error
// response itself when it fails.
func (h *APIHandler) run(c *gin.Context, txs []models.Transaction) (*heuristics.Report, bool) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.server.RequestTimeout)
	defer cancel()

	started := time.Now()
	rep, err := h.analyzer.Run(ctx, txs)
	if err == nil {
		metrics.ObserveAnalysis(len(txs), rep.Result, time.Since(started))
		return rep, true
	}

	var schemaErr *heuristics.SchemaError
	var consistencyErr *heuristics.InternalConsistencyError
	switch {
	case errors.As(err, &schemaErr):
		metrics.AnalysesTotal.WithLabelValues("rejected").Inc()
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Invalid transaction", "details": err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		metrics.AnalysesTotal.WithLabelValues("timeout").Inc()
		h.logger.Warn("analysis timed out", zap.Int("transactions", len(txs)), zap.Duration("timeout", h.server.RequestTimeout))
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "Analysis timed out"})
	case errors.Is(err, context.Canceled):
		metrics.AnalysesTotal.WithLabelValues("cancelled").Inc()
		c.Status(499)
	case errors.As(err, &consistencyErr):
		metrics.AnalysesTotal.WithLabelValues("error").Inc()
		h.logger.Error("analysis produced inconsistent result", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal consistency violation"})
	default:
		metrics.AnalysesTotal.WithLabelValues("error").Inc()
		h.logger.Error("analysis failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Analysis failed"})
	}
	return nil, false
}

func (h *APIHandler) cachedResult(ctx context.Context, key string) *cache.Entry {
	if h.cache == nil {
		return nil
	}
	entry, err := h.cache.Get(ctx, key)
	switch {
	case err != nil:
		metrics.CacheRequests.WithLabelValues("error").Inc()
		h.logger.Warn("cache lookup failed", zap.Error(err))
		return nil
	case entry == nil || entry.Result == nil:
		metrics.CacheRequests.WithLabelValues("miss").Inc()
		return nil
	}
	metrics.CacheRequests.WithLabelValues("hit").Inc()
	return entry
}

// publish fans a finished result out to the live stream, the alert
// manager and the event stream. Failures are logged, never returned.
func (h *APIHandler) publish(ctx context.Context, sessionID, filename string, result *models.AnalysisResult) {
	payload := events.NewAnalysisCompleted(sessionID, filename, result)
	h.wsHub.Publish(MessageAnalysisComplete, payload)

	if h.alerts != nil {
		h.alerts.EmitForResult(sessionID, result)
	}

	if err := h.events.Emit(ctx, events.TypeAnalysisCompleted, sessionID, payload); err != nil {
		metrics.EventsPublished.WithLabelValues("error").Inc()
		h.logger.Warn("failed to publish analysis event", zap.Error(err))
		return
	}
	metrics.EventsPublished.WithLabelValues("ok").Inc()
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	ts, err := time.Parse(models.TimestampLayout, s)
	if err == nil {
		return ts, nil
	}
	if ts, rfcErr := time.Parse(time.RFC3339, s); rfcErr == nil {
		return ts.UTC(), nil
	}
	return time.Time{}, err
}
