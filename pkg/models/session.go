package models

import "time"

// SessionSummary is one row of the analysis history.
type SessionSummary struct {
	ID                    string    `json:"id"`
	Filename              string    `json:"filename"`
	TotalAccounts         int       `json:"total_accounts"`
	SuspiciousCount       int       `json:"suspicious_count"`
	RingsDetected         int       `json:"rings_detected"`
	ProcessingTimeSeconds Seconds   `json:"processing_time"`
	CreatedAt             time.Time `json:"created_at"`
}

// SessionDetail is a stored session with its full result.
type SessionDetail struct {
	SessionSummary
	SuspiciousAccounts []SuspiciousAccount `json:"suspicious_accounts"`
	FraudRings         []FraudRing         `json:"fraud_rings"`
}
