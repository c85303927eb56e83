package heuristics

import (
	"sort"
	"strings"
	"time"
)

// PatternType is the closed set of detector outputs.
type PatternType string

const (
	PatternCycle    PatternType = "cycle"
	PatternShell    PatternType = "shell"
	PatternSmurfing PatternType = "smurfing"
)

// priority orders pattern types for ring numbering and ring-id tie-breaks:
// lower is stronger.
func (p PatternType) priority() int {
	switch p {
	case PatternCycle:
		return 0
	case PatternShell:
		return 1
	case PatternSmurfing:
		return 2
	default:
		return 3
	}
}

// Smurfing directions, also used as detected_patterns tags.
const (
	DirectionFanIn  = "fan_in"
	DirectionFanOut = "fan_out"
)

// Detail tags emitted in detected_patterns besides fan_in / fan_out.
const (
	TagLayeredShell = "layered_shell"
	TagHighVelocity = "high_velocity"
)

// CycleEvidence backs a cycle match.
type CycleEvidence struct {
	Length         int      `json:"length"`
	TransactionIDs []string `json:"transactionIds"`
}

// SmurfingEvidence backs one qualifying fan-in or fan-out window.
type SmurfingEvidence struct {
	Hub            string    `json:"hub"`
	Direction      string    `json:"direction"`
	WindowStart    time.Time `json:"windowStart"`
	WindowEnd      time.Time `json:"windowEnd"`
	Counterparties int       `json:"counterparties"`
	NoveltyRatio   float64   `json:"noveltyRatio"`
}

// ShellEvidence backs a layered chain.
type ShellEvidence struct {
	Hops          int      `json:"hops"`
	Intermediates []string `json:"intermediates"`
}

// PatternMatch is one raw detector finding. Exactly one of the evidence
// pointers is set, matching Type.
type PatternMatch struct {
	Type     PatternType
	Members  []string
	Cycle    *CycleEvidence
	Smurfing *SmurfingEvidence
	Shell    *ShellEvidence
}

// key is the canonical member tuple used for stable ordering.
func (m PatternMatch) key() string {
	return strings.Join(m.Members, "\x00")
}

// sortMatches orders matches by (pattern type, canonical member tuple) so
// that the concurrent detector fan-out never changes ring numbering.
func sortMatches(matches []PatternMatch) {
	sort.SliceStable(matches, func(i, j int) bool {
		pi, pj := matches[i].Type.priority(), matches[j].Type.priority()
		if pi != pj {
			return pi < pj
		}
		ki, kj := matches[i].key(), matches[j].key()
		if ki != kj {
			return ki < kj
		}
		if matches[i].Smurfing != nil && matches[j].Smurfing != nil {
			si, sj := matches[i].Smurfing, matches[j].Smurfing
			if !si.WindowStart.Equal(sj.WindowStart) {
				return si.WindowStart.Before(sj.WindowStart)
			}
			return si.Direction < sj.Direction
		}
		return false
	})
}
