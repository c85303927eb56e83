package heuristics

import (
	"context"
	"strings"
)

// Circular Fund Routing
//
// Money leaves an account and returns to it through two to four other
// accounts: A → B → C → A. The search is a depth-bounded DFS from every
// account in sorted order. Only successors with an id greater than the start
// account are expanded, so each cycle is discovered exactly once, already
// rotated to its smallest member. The rotation + dedupe step below still runs
// so the canonical form does not depend on that pruning.
//
// Cost is bounded by the maximum length (5): at most out-degree^4 paths per
// start account, with per-path revisits pruned.

type cycleFrame struct {
	node string
	succ []string
	next int
}

// DetectCycles finds all simple directed cycles whose length lies in
// [cfg.CycleMinLength, cfg.CycleMaxLength].
func DetectCycles(ctx context.Context, g *Graph, cfg Config) ([]PatternMatch, error) {
	cfg = cfg.withDefaults()

	seen := make(map[string]struct{})
	perAccount := make(map[string]int)
	var matches []PatternMatch

	record := func(path []string) {
		canon := canonicalCycle(path)
		key := strings.Join(canon, "\x00")
		if _, dup := seen[key]; dup {
			return
		}
		if cfg.MaxCyclesPerAccount > 0 {
			for _, m := range canon {
				if perAccount[m] >= cfg.MaxCyclesPerAccount {
					return
				}
			}
		}
		seen[key] = struct{}{}
		for _, m := range canon {
			perAccount[m]++
		}
		matches = append(matches, PatternMatch{
			Type:    PatternCycle,
			Members: canon,
			Cycle: &CycleEvidence{
				Length:         len(canon),
				TransactionIDs: cycleTransactions(g, canon),
			},
		})
	}

	for _, start := range g.Accounts() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(g.Out(start)) == 0 || len(g.In(start)) == 0 {
			continue
		}

		stack := []cycleFrame{{node: start, succ: g.Successors(start)}}
		path := []string{start}
		onPath := map[string]bool{start: true}

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.next >= len(top.succ) {
				delete(onPath, top.node)
				path = path[:len(path)-1]
				stack = stack[:len(stack)-1]
				continue
			}
			nb := top.succ[top.next]
			top.next++

			if nb == start {
				if len(path) >= cfg.CycleMinLength {
					record(path)
				}
				continue
			}
			if nb < start || onPath[nb] || len(path) >= cfg.CycleMaxLength {
				continue
			}

			onPath[nb] = true
			path = append(path, nb)
			stack = append(stack, cycleFrame{node: nb, succ: g.Successors(nb)})
		}
	}

	return matches, nil
}

// canonicalCycle rotates a cycle so it starts at its lexicographically
// smallest account. A→B→C and B→C→A map to the same tuple; A→C→B does not,
// since it is a different directed loop.
func canonicalCycle(cycle []string) []string {
	if len(cycle) == 0 {
		return nil
	}
	minIdx := 0
	for i, id := range cycle {
		if id < cycle[minIdx] {
			minIdx = i
		}
	}
	out := make([]string, 0, len(cycle))
	out = append(out, cycle[minIdx:]...)
	out = append(out, cycle[:minIdx]...)
	return out
}

// cycleTransactions picks the first recorded transaction for each hop of the loop.
func cycleTransactions(g *Graph, cycle []string) []string {
	ids := make([]string, 0, len(cycle))
	for i, from := range cycle {
		to := cycle[(i+1)%len(cycle)]
		for _, e := range g.Out(from) {
			if e.To == to {
				ids = append(ids, e.TransactionID)
				break
			}
		}
	}
	return ids
}
