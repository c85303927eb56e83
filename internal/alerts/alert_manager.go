package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rawblock/mule-engine/internal/metrics"
	"github.com/rawblock/mule-engine/pkg/models"
	"go.uber.org/zap"
)

// Ring Alerts & Webhooks
//
// Every fraud ring at or above the configured severity becomes an alert.
// Alerts are:
//   1. Broadcast to connected dashboards through the callback
//   2. Pushed to registered webhook endpoints (Slack, SIEM, case tooling)
//   3. Kept in memory for the recent-alerts endpoint
//
// Webhook delivery is asynchronous; Wait blocks until in-flight deliveries
// finish.

// AlertTypeFraudRing is the only alert type the engine raises today.
const AlertTypeFraudRing = "fraud_ring"

// Alert is one structured alert.
type Alert struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Severity    string    `json:"severity"` // info/low/medium/high/critical
	AlertType   string    `json:"alertType"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Action      string    `json:"action"`
	SessionID   string    `json:"sessionId,omitempty"`
	RingID      string    `json:"ringId"`
	PatternType string    `json:"patternType"`
	RiskScore   float64   `json:"riskScore"`
	Members     []string  `json:"members"`
}

// WebhookEndpoint is a registered webhook receiver
type WebhookEndpoint struct {
	Name        string            `json:"name"`
	URL         string            `json:"url"`
	Enabled     bool              `json:"enabled"`
	Headers     map[string]string `json:"headers,omitempty"`
	MinSeverity string            `json:"minSeverity"`
}

// AlertManager handles alert emission and webhook delivery
type AlertManager struct {
	mu            sync.RWMutex
	webhooks      []WebhookEndpoint
	recentAlerts  []Alert
	maxHistory    int
	minSeverity   string
	httpClient    *http.Client
	alertCallback func(Alert)
	logger        *zap.Logger
	inflight      sync.WaitGroup
}

// NewAlertManager creates the alert system. broadcastFn may be nil.
func NewAlertManager(minSeverity string, broadcastFn func(Alert), logger *zap.Logger) *AlertManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if minSeverity == "" {
		minSeverity = "medium"
	}
	return &AlertManager{
		maxHistory:    1000,
		minSeverity:   minSeverity,
		httpClient:    &http.Client{Timeout: 5 * time.Second},
		alertCallback: broadcastFn,
		logger:        logger.Named("alerts"),
	}
}

// RegisterWebhook adds a webhook endpoint
func (am *AlertManager) RegisterWebhook(name, url, minSeverity string, headers map[string]string) {
	am.mu.Lock()
	defer am.mu.Unlock()

	am.webhooks = append(am.webhooks, WebhookEndpoint{
		Name:        name,
		URL:         url,
		Enabled:     true,
		Headers:     headers,
		MinSeverity: minSeverity,
	})
	am.logger.Info("registered webhook", zap.String("name", name), zap.String("min_severity", minSeverity))
}

// RemoveWebhook removes a webhook by name
func (am *AlertManager) RemoveWebhook(name string) {
	am.mu.Lock()
	defer am.mu.Unlock()

	for i, wh := range am.webhooks {
		if wh.Name == name {
			am.webhooks = append(am.webhooks[:i], am.webhooks[i+1:]...)
			return
		}
	}
}

// EmitForResult raises one alert per qualifying ring and returns them.
func (am *AlertManager) EmitForResult(sessionID string, result *models.AnalysisResult) []Alert {
	var emitted []Alert
	for _, ring := range result.FraudRings {
		severity := ClassifySeverity(float64(ring.RiskScore))
		if !severityMeetsThreshold(severity, am.minSeverity) {
			continue
		}
		alert := Alert{
			Severity:    severity,
			AlertType:   AlertTypeFraudRing,
			Title:       fmt.Sprintf("%s ring %s (%d accounts)", ring.PatternType, ring.RingID, len(ring.MemberAccounts)),
			Description: describeRing(ring),
			Action:      RecommendAction(float64(ring.RiskScore)),
			SessionID:   sessionID,
			RingID:      ring.RingID,
			PatternType: ring.PatternType,
			RiskScore:   float64(ring.RiskScore),
			Members:     ring.MemberAccounts,
		}
		emitted = append(emitted, am.EmitAlert(alert))
	}
	return emitted
}

// EmitAlert processes and distributes an alert
func (am *AlertManager) EmitAlert(alert Alert) Alert {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now().UTC()
	}
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}

	am.mu.Lock()
	am.recentAlerts = append(am.recentAlerts, alert)
	if len(am.recentAlerts) > am.maxHistory {
		am.recentAlerts = am.recentAlerts[len(am.recentAlerts)-am.maxHistory:]
	}
	webhooks := make([]WebhookEndpoint, len(am.webhooks))
	copy(webhooks, am.webhooks)
	am.mu.Unlock()

	if am.alertCallback != nil {
		am.alertCallback(alert)
	}

	for _, wh := range webhooks {
		if !wh.Enabled || !severityMeetsThreshold(alert.Severity, wh.MinSeverity) {
			continue
		}
		am.inflight.Add(1)
		go func(wh WebhookEndpoint) {
			defer am.inflight.Done()
			am.sendWebhook(wh, alert)
		}(wh)
	}

	metrics.AlertsEmitted.WithLabelValues(alert.Severity).Inc()
	am.logger.Info("alert",
		zap.String("severity", alert.Severity),
		zap.String("ring_id", alert.RingID),
		zap.String("pattern", alert.PatternType),
		zap.Float64("risk_score", alert.RiskScore))
	return alert
}

// Wait blocks until every in-flight webhook delivery has finished.
func (am *AlertManager) Wait() { am.inflight.Wait() }

// GetRecentAlerts returns the most recent alerts, newest first.
func (am *AlertManager) GetRecentAlerts(limit int) []Alert {
	am.mu.RLock()
	defer am.mu.RUnlock()

	if limit <= 0 || limit > len(am.recentAlerts) {
		limit = len(am.recentAlerts)
	}

	start := len(am.recentAlerts) - limit
	result := make([]Alert, limit)
	for i := 0; i < limit; i++ {
		result[i] = am.recentAlerts[start+limit-1-i]
	}
	return result
}

// GetAlertsBySeverity returns alerts matching a minimum severity
func (am *AlertManager) GetAlertsBySeverity(minSeverity string) []Alert {
	am.mu.RLock()
	defer am.mu.RUnlock()

	var filtered []Alert
	for _, alert := range am.recentAlerts {
		if severityMeetsThreshold(alert.Severity, minSeverity) {
			filtered = append(filtered, alert)
		}
	}
	return filtered
}

func (am *AlertManager) sendWebhook(wh WebhookEndpoint, alert Alert) {
	log := am.logger.With(zap.String("webhook", wh.Name), zap.String("alert_id", alert.ID))

	payload, err := json.Marshal(alert)
	if err != nil {
		log.Error("marshal alert", zap.Error(err))
		return
	}

	req, err := http.NewRequest(http.MethodPost, wh.URL, bytes.NewReader(payload))
	if err != nil {
		log.Error("build webhook request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	for key, val := range wh.Headers {
		req.Header.Set(key, val)
	}

	resp, err := am.httpClient.Do(req)
	if err != nil {
		log.Warn("webhook delivery failed", zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		log.Warn("webhook rejected alert", zap.Int("status", resp.StatusCode))
	}
}

var severityLevels = map[string]int{
	"info": 0, "low": 1, "medium": 2, "high": 3, "critical": 4,
}

func severityMeetsThreshold(severity, minimum string) bool {
	return severityLevels[severity] >= severityLevels[minimum]
}

// ClassifySeverity maps a 0-100 risk score to an alert severity.
func ClassifySeverity(score float64) string {
	switch {
	case score <= 10:
		return "info"
	case score <= 30:
		return "low"
	case score <= 50:
		return "medium"
	case score <= 75:
		return "high"
	default:
		return "critical"
	}
}

// RecommendAction maps a 0-100 risk score to the analyst action.
func RecommendAction(score float64) string {
	switch {
	case score <= 10:
		return "none"
	case score <= 30:
		return "log"
	case score <= 50:
		return "review"
	case score <= 75:
		return "freeze_pending_review"
	default:
		return "escalate"
	}
}

func describeRing(r models.FraudRing) string {
	var sb strings.Builder
	switch r.PatternType {
	case "cycle":
		sb.WriteString("Funds routed in a closed loop through ")
	case "shell":
		sb.WriteString("Funds layered through low-activity pass-through accounts: ")
	case "smurfing":
		sb.WriteString("Burst of transfers concentrated on one hub: ")
	default:
		sb.WriteString("Accounts: ")
	}
	const shown = 6
	members := r.MemberAccounts
	if len(members) > shown {
		sb.WriteString(strings.Join(members[:shown], ", "))
		fmt.Fprintf(&sb, " and %d more", len(members)-shown)
	} else {
		sb.WriteString(strings.Join(members, ", "))
	}
	return sb.String()
}
