package heuristics

import (
	"fmt"
	"time"

	"github.com/rawblock/mule-engine/pkg/models"
)

var base = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type txBuilder struct {
	txs []models.Transaction
}

func (b *txBuilder) add(from, to string, amount float64, at time.Time) *txBuilder {
	b.txs = append(b.txs, models.Transaction{
		ID:         fmt.Sprintf("TX%05d", len(b.txs)+1),
		SenderID:   from,
		ReceiverID: to,
		Amount:     amount,
		Timestamp:  at,
	})
	return b
}

// fanIn makes n distinct senders pay hub once each, spaced by step.
func (b *txBuilder) fanIn(hub, prefix string, n int, start time.Time, step time.Duration) *txBuilder {
	for i := 0; i < n; i++ {
		b.add(fmt.Sprintf("%s%02d", prefix, i+1), hub, 500, start.Add(time.Duration(i)*step))
	}
	return b
}

// fanOut makes hub pay n distinct receivers once each, spaced by step.
func (b *txBuilder) fanOut(hub, prefix string, n int, start time.Time, step time.Duration) *txBuilder {
	for i := 0; i < n; i++ {
		b.add(hub, fmt.Sprintf("%s%02d", prefix, i+1), 500, start.Add(time.Duration(i)*step))
	}
	return b
}

func matchesOf(matches []PatternMatch, p PatternType) []PatternMatch {
	var out []PatternMatch
	for _, m := range matches {
		if m.Type == p {
			out = append(out, m)
		}
	}
	return out
}

func accountByID(res *models.AnalysisResult, id string) (models.SuspiciousAccount, bool) {
	for _, a := range res.SuspiciousAccounts {
		if a.AccountID == id {
			return a, true
		}
	}
	return models.SuspiciousAccount{}, false
}
