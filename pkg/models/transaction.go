package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TimestampLayout is the wire format of transaction timestamps in CSV uploads
// and JSON analyze requests.
const TimestampLayout = "2006-01-02 15:04:05"

// Transaction is a single directed transfer between two accounts.
type Transaction struct {
	ID         string    `json:"transaction_id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Amount     float64   `json:"amount"`
	Timestamp  time.Time `json:"timestamp"`
}

// Score is a 0-100 value emitted with exactly one decimal digit.
type Score float64

// MarshalJSON writes the score as a fixed one-decimal number (40 -> 40.0).
func (s Score) MarshalJSON() ([]byte, error) {
	return []byte(decimal.NewFromFloat(float64(s)).StringFixed(1)), nil
}

// Seconds is a processing duration emitted with two decimal digits.
type Seconds float64

// MarshalJSON writes the duration as a fixed two-decimal number.
func (s Seconds) MarshalJSON() ([]byte, error) {
	return []byte(decimal.NewFromFloat(float64(s)).StringFixed(2)), nil
}

// SuspiciousAccount is a flagged account with its resolved ring.
type SuspiciousAccount struct {
	AccountID        string   `json:"account_id"`
	SuspicionScore   Score    `json:"suspicion_score"`
	DetectedPatterns []string `json:"detected_patterns"`
	RingID           string   `json:"ring_id"`
}

// FraudRing is a set of accounts jointly exhibiting one pattern.
type FraudRing struct {
	RingID         string   `json:"ring_id"`
	MemberAccounts []string `json:"member_accounts"`
	PatternType    string   `json:"pattern_type"` // cycle | smurfing | shell
	RiskScore      Score    `json:"risk_score"`
}

// Summary holds the run-level counters.
type Summary struct {
	TotalAccountsAnalyzed     int     `json:"total_accounts_analyzed"`
	SuspiciousAccountsFlagged int     `json:"suspicious_accounts_flagged"`
	FraudRingsDetected        int     `json:"fraud_rings_detected"`
	ProcessingTimeSeconds     Seconds `json:"processing_time_seconds"`
}

// AnalysisResult is the canonical output of one analysis run.
type AnalysisResult struct {
	SuspiciousAccounts []SuspiciousAccount `json:"suspicious_accounts"`
	FraudRings         []FraudRing         `json:"fraud_rings"`
	Summary            Summary             `json:"summary"`
}

// GraphNode is one account in the visualization payload.
type GraphNode struct {
	ID                string           `json:"id"`
	RiskScore         Score            `json:"riskScore"`
	Suspicious        bool             `json:"suspicious"`
	RingID            string           `json:"ringId,omitempty"`
	PatternType       string           `json:"patternType,omitempty"`
	TotalTransactions int              `json:"totalTransactions"`
	TotalIn           float64          `json:"totalIn"`
	TotalOut          float64          `json:"totalOut"`
	Activity          *ActivityProfile `json:"activity,omitempty"`
}

// ActivityProfile is the pattern-of-life summary of a flagged account.
type ActivityProfile struct {
	PeakHourUTC  int     `json:"peakHourUTC"`
	WeekdayRatio float64 `json:"weekdayRatio"`
	Regularity   float64 `json:"regularity"` // 0 random .. 1 periodic
	TxPerDay     float64 `json:"txPerDay"`
	EntityType   string  `json:"entityType"`
	Automated    bool    `json:"automated"`
}

// GraphEdge is one transaction in the visualization payload.
type GraphEdge struct {
	ID        string  `json:"id"`
	Source    string  `json:"source"`
	Target    string  `json:"target"`
	Amount    float64 `json:"amount"`
	Timestamp string  `json:"timestamp"`
}

// GraphRing summarizes a ring for the visualization payload.
type GraphRing struct {
	RingID      string   `json:"ringId"`
	PatternType string   `json:"patternType"`
	MemberCount int      `json:"memberCount"`
	RiskScore   Score    `json:"riskScore"`
	Members     []string `json:"members"`
}

// GraphView is the node/edge payload rendered by the dashboard.
type GraphView struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
	Rings []GraphRing `json:"rings"`
}
