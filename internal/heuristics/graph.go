package heuristics

import (
	"sort"
	"time"

	"github.com/rawblock/mule-engine/pkg/models"
	"github.com/shopspring/decimal"
)

// Transaction Graph
//
// Directed multigraph over accounts. Every accepted transaction becomes one
// edge; parallel edges between the same pair are kept so that windowed and
// count-based detectors see every transfer. Adjacency lists keep input order,
// which together with the sorted account list makes every traversal
// reproducible for a given input.

// Warning kinds recorded while building the graph.
const (
	WarningSelfLoop          = "self_loop"
	WarningNonPositiveAmount = "non_positive_amount"
)

// Warning describes a transaction that was excluded from the graph.
type Warning struct {
	Kind          string `json:"kind"`
	TransactionID string `json:"transactionId"`
	Index         int    `json:"index"`
}

// Edge is a single directed transfer.
type Edge struct {
	From          string
	To            string
	Amount        float64
	Timestamp     time.Time
	TransactionID string
	Seq           int // position among accepted transactions
}

// Account holds the derived per-node aggregates.
type Account struct {
	ID           string
	InDegree     int
	OutDegree    int
	TotalTxCount int
	FirstSeen    time.Time
	LastSeen     time.Time
	TotalIn      decimal.Decimal
	TotalOut     decimal.Decimal

	senders   map[string]struct{}
	receivers map[string]struct{}
}

// DistinctSenders is the number of distinct counterparties that paid this account.
func (a *Account) DistinctSenders() int { return len(a.senders) }

// DistinctReceivers is the number of distinct counterparties this account paid.
func (a *Account) DistinctReceivers() int { return len(a.receivers) }

// Graph is the immutable result of BuildGraph. Detectors only read from it.
type Graph struct {
	accounts map[string]*Account
	order    []string
	out      map[string][]Edge
	in       map[string][]Edge
	edges    []Edge
	warnings []Warning
}

// BuildGraph constructs the graph in a single pass over txs.
func BuildGraph(txs []models.Transaction) *Graph {
	g := &Graph{
		accounts: make(map[string]*Account),
		out:      make(map[string][]Edge),
		in:       make(map[string][]Edge),
		edges:    make([]Edge, 0, len(txs)),
	}

	for i, tx := range txs {
		if tx.SenderID == tx.ReceiverID {
			g.warnings = append(g.warnings, Warning{Kind: WarningSelfLoop, TransactionID: tx.ID, Index: i})
			continue
		}
		if !(tx.Amount > 0) {
			g.warnings = append(g.warnings, Warning{Kind: WarningNonPositiveAmount, TransactionID: tx.ID, Index: i})
			continue
		}

		e := Edge{
			From:          tx.SenderID,
			To:            tx.ReceiverID,
			Amount:        tx.Amount,
			Timestamp:     tx.Timestamp,
			TransactionID: tx.ID,
			Seq:           len(g.edges),
		}
		g.edges = append(g.edges, e)
		g.out[e.From] = append(g.out[e.From], e)
		g.in[e.To] = append(g.in[e.To], e)

		amount := decimal.NewFromFloat(tx.Amount)

		sender := g.account(e.From)
		sender.OutDegree++
		sender.TotalTxCount++
		sender.TotalOut = sender.TotalOut.Add(amount)
		sender.receivers[e.To] = struct{}{}
		sender.touch(e.Timestamp)

		receiver := g.account(e.To)
		receiver.InDegree++
		receiver.TotalTxCount++
		receiver.TotalIn = receiver.TotalIn.Add(amount)
		receiver.senders[e.From] = struct{}{}
		receiver.touch(e.Timestamp)
	}

	sort.Strings(g.order)
	return g
}

func (g *Graph) account(id string) *Account {
	if a, ok := g.accounts[id]; ok {
		return a
	}
	a := &Account{
		ID:        id,
		TotalIn:   decimal.Zero,
		TotalOut:  decimal.Zero,
		senders:   make(map[string]struct{}),
		receivers: make(map[string]struct{}),
	}
	g.accounts[id] = a
	g.order = append(g.order, id)
	return a
}

func (a *Account) touch(ts time.Time) {
	if a.FirstSeen.IsZero() || ts.Before(a.FirstSeen) {
		a.FirstSeen = ts
	}
	if ts.After(a.LastSeen) {
		a.LastSeen = ts
	}
}

// Accounts returns all account ids in lexicographic order.
func (g *Graph) Accounts() []string { return g.order }

// Account returns the aggregates for id, or nil when id never appeared.
func (g *Graph) Account(id string) *Account { return g.accounts[id] }

// Has reports whether id is a node of the graph.
func (g *Graph) Has(id string) bool {
	_, ok := g.accounts[id]
	return ok
}

// Out returns the outgoing edges of id in insertion order.
func (g *Graph) Out(id string) []Edge { return g.out[id] }

// In returns the incoming edges of id in insertion order.
func (g *Graph) In(id string) []Edge { return g.in[id] }

// Edges returns every accepted edge in insertion order.
func (g *Graph) Edges() []Edge { return g.edges }

// Warnings lists the transactions excluded while building.
func (g *Graph) Warnings() []Warning { return g.warnings }

// NodeCount is the number of distinct accounts.
func (g *Graph) NodeCount() int { return len(g.order) }

// EdgeCount is the number of accepted transactions.
func (g *Graph) EdgeCount() int { return len(g.edges) }

// Successors returns the distinct out-neighbours of id, first-occurrence order.
func (g *Graph) Successors(id string) []string {
	edges := g.out[id]
	if len(edges) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(edges))
	next := make([]string, 0, len(edges))
	for _, e := range edges {
		if _, ok := seen[e.To]; ok {
			continue
		}
		seen[e.To] = struct{}{}
		next = append(next, e.To)
	}
	return next
}
