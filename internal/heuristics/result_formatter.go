package heuristics

import (
	"fmt"
	"sort"

	"github.com/rawblock/mule-engine/pkg/models"
)

// formatResult turns a scored aggregation into the exported result and checks
// the account/ring contract before anything leaves the engine.
func formatResult(g *Graph, agg *aggregation, elapsedSeconds float64) (*models.AnalysisResult, error) {
	rings := make([]models.FraudRing, 0, len(agg.rings))
	ringMembers := make(map[string]map[string]struct{}, len(agg.rings))
	for _, r := range agg.rings {
		members := make(map[string]struct{}, len(r.members))
		for _, id := range r.members {
			if !g.Has(id) {
				return nil, inconsistent("ring %s references unknown account %q", r.id, id)
			}
			members[id] = struct{}{}
		}
		if err := checkScore(r.risk); err != nil {
			return nil, inconsistent("ring %s: %v", r.id, err)
		}
		ringMembers[r.id] = members
		rings = append(rings, models.FraudRing{
			RingID:         r.id,
			MemberAccounts: append([]string(nil), r.members...),
			PatternType:    string(r.pattern),
			RiskScore:      models.Score(r.risk),
		})
	}

	accounts := make([]models.SuspiciousAccount, 0, len(agg.tallies))
	for id, t := range agg.tallies {
		if !g.Has(id) {
			return nil, inconsistent("flagged account %q is not in the graph", id)
		}
		if err := checkScore(t.score); err != nil {
			return nil, inconsistent("account %s: %v", id, err)
		}
		members, ok := ringMembers[t.ringID]
		if !ok {
			return nil, inconsistent("account %s resolves to unknown ring %q", id, t.ringID)
		}
		if _, ok := members[id]; !ok {
			return nil, inconsistent("account %s is not a member of its ring %s", id, t.ringID)
		}

		tags := make([]string, 0, len(t.tags))
		for tag := range t.tags {
			tags = append(tags, tag)
		}
		sortTags(tags)

		accounts = append(accounts, models.SuspiciousAccount{
			AccountID:        id,
			SuspicionScore:   models.Score(t.score),
			DetectedPatterns: tags,
			RingID:           t.ringID,
		})
	}
	sort.Slice(accounts, func(i, j int) bool {
		if accounts[i].SuspicionScore != accounts[j].SuspicionScore {
			return accounts[i].SuspicionScore > accounts[j].SuspicionScore
		}
		return accounts[i].AccountID < accounts[j].AccountID
	})

	return &models.AnalysisResult{
		SuspiciousAccounts: accounts,
		FraudRings:         rings,
		Summary: models.Summary{
			TotalAccountsAnalyzed:     g.NodeCount(),
			SuspiciousAccountsFlagged: len(accounts),
			FraudRingsDetected:        len(rings),
			ProcessingTimeSeconds:     models.Seconds(roundSeconds(elapsedSeconds)),
		},
	}, nil
}

func checkScore(v float64) error {
	if v < 0 || v > 100 || v != v {
		return fmt.Errorf("score %v outside [0,100]", v)
	}
	return nil
}

// BuildGraphView renders the graph and a result into the dashboard payload.
// Nodes come out in account order and edges in input order.
func BuildGraphView(g *Graph, result *models.AnalysisResult) models.GraphView {
	flagged := make(map[string]models.SuspiciousAccount, len(result.SuspiciousAccounts))
	for _, a := range result.SuspiciousAccounts {
		flagged[a.AccountID] = a
	}
	ringPattern := make(map[string]string, len(result.FraudRings))
	for _, r := range result.FraudRings {
		ringPattern[r.RingID] = r.PatternType
	}

	view := models.GraphView{
		Nodes: make([]models.GraphNode, 0, g.NodeCount()),
		Edges: make([]models.GraphEdge, 0, g.EdgeCount()),
		Rings: make([]models.GraphRing, 0, len(result.FraudRings)),
	}
	for _, id := range g.Accounts() {
		acct := g.Account(id)
		totalIn, _ := acct.TotalIn.Float64()
		totalOut, _ := acct.TotalOut.Float64()
		node := models.GraphNode{
			ID:                id,
			TotalTransactions: acct.TotalTxCount,
			TotalIn:           totalIn,
			TotalOut:          totalOut,
		}
		if sa, ok := flagged[id]; ok {
			node.Suspicious = true
			node.RiskScore = sa.SuspicionScore
			node.RingID = sa.RingID
			node.PatternType = ringPattern[sa.RingID]
			node.Activity = ActivityProfile(g, id)
		}
		view.Nodes = append(view.Nodes, node)
	}
	for _, e := range g.Edges() {
		view.Edges = append(view.Edges, models.GraphEdge{
			ID:        e.TransactionID,
			Source:    e.From,
			Target:    e.To,
			Amount:    e.Amount,
			Timestamp: e.Timestamp.Format("2006-01-02T15:04:05"),
		})
	}
	for _, r := range result.FraudRings {
		view.Rings = append(view.Rings, models.GraphRing{
			RingID:      r.RingID,
			PatternType: r.PatternType,
			MemberCount: len(r.MemberAccounts),
			RiskScore:   r.RiskScore,
			Members:     r.MemberAccounts,
		})
	}
	return view
}
