package heuristics

import (
	"context"
	"sort"
	"time"
)

// Smurfing Detection (fan-in / fan-out)
//
// A hub collects from, or disperses to, many distinct counterparties inside
// a short window. Each direction of each account is scanned with a two-pointer
// window over its time-sorted transfers while a multiset of counterparties is
// maintained incrementally, so a scan is O(n) in the hub's edge count.
//
// Raw degree alone flags every merchant and payroll account, so two
// false-positive filters apply:
//
//   - burstiness: at least SmurfingNoveltyRatio of the window's counterparties
//     must be first-time counterparties, i.e. their first transfer with the hub
//     in either direction falls inside the window;
//   - high-volume exclusion: a hub above HighVolumeTxCount whose counterparty
//     sets repeat across consecutive windows (mean Jaccard >= HighVolumeOverlap)
//     is skipped for that direction.
//
// Maximal windows are reported: a window is emitted when the next transfer
// would push its oldest transfer out. A maximal window that fails the
// burstiness test is searched for the sub-window holding the most first-time
// counterparties, so returning customers at either edge cannot mask a burst.

type flow struct {
	counterparty string
	ts           time.Time
	seq          int
}

// burst is a candidate window over flows[lo..hi].
type burst struct {
	lo, hi         int
	counterparties int
	novel          int
}

func (b burst) ratio() float64 {
	if b.counterparties == 0 {
		return 0
	}
	return float64(b.novel) / float64(b.counterparties)
}

// DetectSmurfing scans every account for fan-in and fan-out windows.
func DetectSmurfing(ctx context.Context, g *Graph, cfg Config) ([]PatternMatch, error) {
	cfg = cfg.withDefaults()

	var matches []PatternMatch
	for _, id := range g.Accounts() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		acct := g.Account(id)
		if acct.DistinctSenders() < cfg.SmurfingMinCounterparties && acct.DistinctReceivers() < cfg.SmurfingMinCounterparties {
			continue
		}

		in := make([]flow, 0, acct.InDegree)
		for _, e := range g.In(id) {
			in = append(in, flow{counterparty: e.From, ts: e.Timestamp, seq: e.Seq})
		}
		out := make([]flow, 0, acct.OutDegree)
		for _, e := range g.Out(id) {
			out = append(out, flow{counterparty: e.To, ts: e.Timestamp, seq: e.Seq})
		}
		firstContact := firstContacts(in, out)

		if acct.DistinctSenders() >= cfg.SmurfingMinCounterparties {
			matches = append(matches, scanWindows(id, DirectionFanIn, in, firstContact, acct.TotalTxCount, cfg)...)
		}
		if acct.DistinctReceivers() >= cfg.SmurfingMinCounterparties {
			matches = append(matches, scanWindows(id, DirectionFanOut, out, firstContact, acct.TotalTxCount, cfg)...)
		}
	}
	return matches, nil
}

// firstContacts is the earliest transfer time per counterparty across both
// directions of the hub.
func firstContacts(in, out []flow) map[string]time.Time {
	first := make(map[string]time.Time, len(in)+len(out))
	for _, flows := range [][]flow{in, out} {
		for _, f := range flows {
			if t, ok := first[f.counterparty]; !ok || f.ts.Before(t) {
				first[f.counterparty] = f.ts
			}
		}
	}
	return first
}

func scanWindows(hub, direction string, flows []flow, firstContact map[string]time.Time, totalTx int, cfg Config) []PatternMatch {
	sort.SliceStable(flows, func(i, j int) bool {
		if !flows[i].ts.Equal(flows[j].ts) {
			return flows[i].ts.Before(flows[j].ts)
		}
		return flows[i].seq < flows[j].seq
	})

	if totalTx > cfg.HighVolumeTxCount && counterpartyOverlap(flows, cfg.SmurfingWindow) >= cfg.HighVolumeOverlap {
		return nil
	}

	var matches []PatternMatch
	lastLo, lastHi := -1, -1
	counts := make(map[string]int)
	left := 0
	for right, f := range flows {
		counts[f.counterparty]++
		for f.ts.Sub(flows[left].ts) > cfg.SmurfingWindow {
			drop := flows[left].counterparty
			if counts[drop] > 1 {
				counts[drop]--
			} else {
				delete(counts, drop)
			}
			left++
		}

		if len(counts) < cfg.SmurfingMinCounterparties {
			continue
		}
		maximal := right == len(flows)-1 || flows[right+1].ts.Sub(flows[left].ts) > cfg.SmurfingWindow
		if !maximal {
			continue
		}

		start := flows[left].ts
		window := burst{lo: left, hi: right, counterparties: len(counts)}
		for cp := range counts {
			if !firstContact[cp].Before(start) {
				window.novel++
			}
		}
		if window.ratio() < cfg.SmurfingNoveltyRatio {
			// Every sub-window's first-time counterparties are a subset of
			// this window's, so too few here means none can qualify.
			if float64(window.novel) < cfg.SmurfingNoveltyRatio*float64(cfg.SmurfingMinCounterparties) {
				continue
			}
			sub, ok := bestSubWindow(flows, left, right, firstContact, cfg)
			if !ok {
				continue
			}
			window = sub
		}
		if window.lo == lastLo && window.hi == lastHi {
			continue
		}
		lastLo, lastHi = window.lo, window.hi
		matches = append(matches, smurfingMatch(hub, direction, flows, window))
	}
	return matches
}

// bestSubWindow checks every window inside flows[lo..hi] that starts and ends
// on a timestamp boundary. It prefers the most first-time counterparties, then
// the higher novelty ratio, then the earliest window.
func bestSubWindow(flows []flow, lo, hi int, firstContact map[string]time.Time, cfg Config) (burst, bool) {
	var best burst
	found := false
	for s := lo; s <= hi; s++ {
		if s > lo && flows[s].ts.Equal(flows[s-1].ts) {
			continue
		}
		if hi-s+1 < cfg.SmurfingMinCounterparties {
			break
		}
		start := flows[s].ts
		seen := make(map[string]struct{})
		novel := 0
		for e := s; e <= hi; e++ {
			cp := flows[e].counterparty
			if _, ok := seen[cp]; !ok {
				seen[cp] = struct{}{}
				if !firstContact[cp].Before(start) {
					novel++
				}
			}
			if e < hi && flows[e+1].ts.Equal(flows[e].ts) {
				continue
			}
			cand := burst{lo: s, hi: e, counterparties: len(seen), novel: novel}
			if cand.counterparties < cfg.SmurfingMinCounterparties || cand.ratio() < cfg.SmurfingNoveltyRatio {
				continue
			}
			if !found || cand.novel > best.novel || (cand.novel == best.novel && cand.ratio() > best.ratio()) {
				best, found = cand, true
			}
		}
	}
	return best, found
}

func smurfingMatch(hub, direction string, flows []flow, w burst) PatternMatch {
	seen := make(map[string]struct{}, w.counterparties)
	counterparties := make([]string, 0, w.counterparties)
	for _, f := range flows[w.lo : w.hi+1] {
		if _, ok := seen[f.counterparty]; ok {
			continue
		}
		seen[f.counterparty] = struct{}{}
		counterparties = append(counterparties, f.counterparty)
	}
	sort.Strings(counterparties)

	members := make([]string, 0, len(counterparties)+1)
	members = append(members, hub)
	members = append(members, counterparties...)

	return PatternMatch{
		Type:    PatternSmurfing,
		Members: members,
		Smurfing: &SmurfingEvidence{
			Hub:            hub,
			Direction:      direction,
			WindowStart:    flows[w.lo].ts,
			WindowEnd:      flows[w.hi].ts,
			Counterparties: len(counterparties),
			NoveltyRatio:   w.ratio(),
		},
	}
}

// counterpartyOverlap is the mean Jaccard similarity between the counterparty
// sets of consecutive non-empty tumbling windows. Stable customer bases score
// close to 1; one-off bursts score close to 0.
func counterpartyOverlap(flows []flow, window time.Duration) float64 {
	if len(flows) == 0 {
		return 0
	}
	origin := flows[0].ts
	buckets := make(map[int64]map[string]struct{})
	for _, f := range flows {
		idx := int64(f.ts.Sub(origin) / window)
		set, ok := buckets[idx]
		if !ok {
			set = make(map[string]struct{})
			buckets[idx] = set
		}
		set[f.counterparty] = struct{}{}
	}
	if len(buckets) < 2 {
		return 0
	}

	keys := make([]int64, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	var total float64
	for i := 1; i < len(keys); i++ {
		total += jaccard(buckets[keys[i-1]], buckets[keys[i]])
	}
	return total / float64(len(keys)-1)
}

func jaccard(a, b map[string]struct{}) float64 {
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
