package heuristics

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Ring Aggregation
//
// Raw matches become fraud rings. Cycles and shell chains map one-to-one onto
// rings. Smurfing windows of the same hub whose time ranges overlap are merged
// into a single ring, whatever their direction, so a hub that collects and
// then disperses inside one burst is reported once.
//
// Ring ids come from one counter shared by all groups: cycles first, then
// shells, then smurfing rings, so ids are unique within a run.

// fraudRing is the engine-side ring, scored in place by the scoring pass.
type fraudRing struct {
	id      string
	pattern PatternType
	members []string
	order   int
	risk    float64
	tags    map[string][]string // per-member detail tags contributed by this ring
}

// accountTally accumulates everything known about one flagged account.
type accountTally struct {
	id          string
	occurrences map[PatternType]int
	tags        map[string]struct{}
	rings       []*fraudRing
	score       float64
	ringID      string
}

type aggregation struct {
	rings   []*fraudRing
	tallies map[string]*accountTally
}

// aggregateRings expects matches sorted with sortMatches.
func aggregateRings(matches []PatternMatch, cfg Config) *aggregation {
	agg := &aggregation{tallies: make(map[string]*accountTally)}

	var smurfing []PatternMatch
	for _, m := range matches {
		switch m.Type {
		case PatternCycle:
			tag := fmt.Sprintf("cycle_length_%d", len(m.Members))
			agg.addRing(PatternCycle, m.Members, func(string) []string { return []string{tag} })
		case PatternShell:
			agg.addRing(PatternShell, m.Members, func(string) []string { return []string{TagLayeredShell} })
		case PatternSmurfing:
			smurfing = append(smurfing, m)
		}
	}

	for _, group := range mergeSmurfingWindows(smurfing) {
		agg.addRing(PatternSmurfing, group.members, func(id string) []string { return group.tags[id] })
	}

	for _, t := range agg.tallies {
		for _, n := range t.occurrences {
			if n > cfg.VelocityThreshold {
				t.tags[TagHighVelocity] = struct{}{}
				break
			}
		}
	}
	return agg
}

func (a *aggregation) addRing(pattern PatternType, members []string, tagsFor func(string) []string) {
	r := &fraudRing{
		id:      fmt.Sprintf("RING_%03d", len(a.rings)+1),
		pattern: pattern,
		members: members,
		order:   len(a.rings),
		tags:    make(map[string][]string, len(members)),
	}
	a.rings = append(a.rings, r)

	for _, id := range members {
		t, ok := a.tallies[id]
		if !ok {
			t = &accountTally{
				id:          id,
				occurrences: make(map[PatternType]int),
				tags:        make(map[string]struct{}),
			}
			a.tallies[id] = t
		}
		t.occurrences[pattern]++
		t.rings = append(t.rings, r)
		tags := tagsFor(id)
		r.tags[id] = tags
		for _, tag := range tags {
			t.tags[tag] = struct{}{}
		}
	}
}

type smurfGroup struct {
	hub     string
	start   time.Time
	end     time.Time
	members []string
	tags    map[string][]string
}

// mergeSmurfingWindows unions transitively overlapping windows per hub.
// Hubs keep the order in which their first match appears.
func mergeSmurfingWindows(matches []PatternMatch) []smurfGroup {
	byHub := make(map[string][]*SmurfingEvidence)
	windowMembers := make(map[*SmurfingEvidence][]string)
	var hubs []string
	for _, m := range matches {
		ev := m.Smurfing
		if ev == nil {
			continue
		}
		if _, ok := byHub[ev.Hub]; !ok {
			hubs = append(hubs, ev.Hub)
		}
		byHub[ev.Hub] = append(byHub[ev.Hub], ev)
		windowMembers[ev] = m.Members
	}

	var groups []smurfGroup
	for _, hub := range hubs {
		windows := byHub[hub]
		sort.SliceStable(windows, func(i, j int) bool {
			if !windows[i].WindowStart.Equal(windows[j].WindowStart) {
				return windows[i].WindowStart.Before(windows[j].WindowStart)
			}
			return windows[i].Direction < windows[j].Direction
		})

		var cur *smurfBuilder
		for _, w := range windows {
			if cur != nil && !w.WindowStart.After(cur.end) {
				cur.add(w, windowMembers[w])
				continue
			}
			if cur != nil {
				groups = append(groups, cur.build())
			}
			cur = newSmurfBuilder(hub, w.WindowStart)
			cur.add(w, windowMembers[w])
		}
		if cur != nil {
			groups = append(groups, cur.build())
		}
	}
	return groups
}

type smurfBuilder struct {
	hub   string
	start time.Time
	end   time.Time
	tags  map[string]map[string]struct{}
}

func newSmurfBuilder(hub string, start time.Time) *smurfBuilder {
	return &smurfBuilder{hub: hub, start: start, end: start, tags: make(map[string]map[string]struct{})}
}

func (b *smurfBuilder) add(w *SmurfingEvidence, members []string) {
	if w.WindowEnd.After(b.end) {
		b.end = w.WindowEnd
	}
	for _, id := range members {
		set, ok := b.tags[id]
		if !ok {
			set = make(map[string]struct{})
			b.tags[id] = set
		}
		set[w.Direction] = struct{}{}
	}
}

func (b *smurfBuilder) build() smurfGroup {
	counterparties := make([]string, 0, len(b.tags))
	tags := make(map[string][]string, len(b.tags))
	for id, set := range b.tags {
		if id != b.hub {
			counterparties = append(counterparties, id)
		}
		list := make([]string, 0, len(set))
		for tag := range set {
			list = append(list, tag)
		}
		sortTags(list)
		tags[id] = list
	}
	sort.Strings(counterparties)

	members := make([]string, 0, len(counterparties)+1)
	members = append(members, b.hub)
	members = append(members, counterparties...)
	return smurfGroup{hub: b.hub, start: b.start, end: b.end, members: members, tags: tags}
}

// sortTags orders detected_patterns tags canonically:
// cycle_length_N (by N), fan_in, fan_out, layered_shell, high_velocity.
func sortTags(tags []string) {
	rank := func(tag string) int {
		switch {
		case strings.HasPrefix(tag, "cycle_length_"):
			return 0
		case tag == DirectionFanIn:
			return 1
		case tag == DirectionFanOut:
			return 2
		case tag == TagLayeredShell:
			return 3
		case tag == TagHighVelocity:
			return 4
		default:
			return 5
		}
	}
	sort.SliceStable(tags, func(i, j int) bool {
		ri, rj := rank(tags[i]), rank(tags[j])
		if ri != rj {
			return ri < rj
		}
		return tags[i] < tags[j]
	})
}

// resolveRing picks the ring reported for an account: highest risk, then
// pattern priority cycle > shell > smurfing, then discovery order.
func resolveRing(rings []*fraudRing) *fraudRing {
	var best *fraudRing
	for _, r := range rings {
		switch {
		case best == nil:
			best = r
		case r.risk > best.risk:
			best = r
		case r.risk < best.risk:
		case r.pattern.priority() < best.pattern.priority():
			best = r
		case r.pattern.priority() == best.pattern.priority() && r.order < best.order:
			best = r
		}
	}
	return best
}
