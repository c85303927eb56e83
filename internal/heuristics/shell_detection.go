package heuristics

import (
	"context"
	"strings"
)

// Layered Shell Network Detection
//
// Funds are pushed through a sequence of low-activity pass-through accounts
// before reaching their destination:
//
//   D (busy) → E (2 tx) → F (2 tx) → G (busy)
//
// Chains start at accounts that cannot themselves be intermediaries: sources
// with no incoming transfers, or accounts busier than ShellMaxTxCount. The DFS
// only walks into low-activity accounts. A chain terminates when it reaches
// a busy account (the plausible destination), a low-activity account with no
// way forward, or the ShellMaxHops cap. Terminated chains with at least
// ShellMinHops hops are reported; prefixes of a longer chain are not.

type shellFrame struct {
	node     string
	succ     []string
	next     int
	extended bool
}

// DetectShellChains finds layered chains through low-activity intermediaries.
func DetectShellChains(ctx context.Context, g *Graph, cfg Config) ([]PatternMatch, error) {
	cfg = cfg.withDefaults()

	lowActivity := func(id string) bool {
		return g.Account(id).TotalTxCount <= cfg.ShellMaxTxCount
	}

	seen := make(map[string]struct{})
	var matches []PatternMatch

	emit := func(chain []string) {
		hops := len(chain) - 1
		if hops < cfg.ShellMinHops {
			return
		}
		key := strings.Join(chain, "\x00")
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}

		members := append([]string(nil), chain...)
		matches = append(matches, PatternMatch{
			Type:    PatternShell,
			Members: members,
			Shell: &ShellEvidence{
				Hops:          hops,
				Intermediates: append([]string(nil), members[1:len(members)-1]...),
			},
		})
	}

	for _, origin := range g.Accounts() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		acct := g.Account(origin)
		if acct.InDegree != 0 && acct.TotalTxCount <= cfg.ShellMaxTxCount {
			continue
		}

		stack := []shellFrame{{node: origin, succ: g.Successors(origin)}}
		path := []string{origin}
		onPath := map[string]bool{origin: true}

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.next >= len(top.succ) {
				if len(path) > 1 && !top.extended {
					emit(path)
				}
				delete(onPath, top.node)
				path = path[:len(path)-1]
				stack = stack[:len(stack)-1]
				continue
			}
			nb := top.succ[top.next]
			top.next++

			if onPath[nb] {
				continue
			}
			top.extended = true

			if !lowActivity(nb) {
				emit(append(path[:len(path):len(path)], nb))
				continue
			}
			if len(path) >= cfg.ShellMaxHops {
				emit(append(path[:len(path):len(path)], nb))
				continue
			}

			onPath[nb] = true
			path = append(path, nb)
			stack = append(stack, shellFrame{node: nb, succ: g.Successors(nb)})
		}
	}

	return matches, nil
}
