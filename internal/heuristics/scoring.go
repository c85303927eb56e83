package heuristics

import (
	"github.com/shopspring/decimal"
)

// Suspicion Scoring
//
// Each pattern type contributes its base weight, scaled up by 10% for every
// additional occurrence and capped at 100 per type. Accounts caught by two or
// more pattern types get a flat bonus. The total is clipped to [0, 100] and
// rounded half-up to one decimal.
//
// A ring's risk is the mean of its members' rounded scores times a severity
// factor for its pattern type, clipped and rounded the same way.

var patternBaseWeight = map[PatternType]float64{
	PatternCycle:    40,
	PatternShell:    30,
	PatternSmurfing: 30,
}

var ringSeverity = map[PatternType]float64{
	PatternCycle:    1.1,
	PatternShell:    1.0,
	PatternSmurfing: 0.95,
}

const (
	multiPatternBonus = 10.0
	perPatternCap     = 100.0
	occurrenceStep    = 0.1
)

// scoringOrder fixes summation order so float results never depend on map
// iteration.
var scoringOrder = []PatternType{PatternCycle, PatternShell, PatternSmurfing}

func suspicionScore(occurrences map[PatternType]int) float64 {
	var total float64
	types := 0
	for _, p := range scoringOrder {
		n := occurrences[p]
		if n <= 0 {
			continue
		}
		types++
		contrib := patternBaseWeight[p] * (1 + occurrenceStep*float64(n-1))
		if contrib > perPatternCap {
			contrib = perPatternCap
		}
		total += contrib
	}
	if types >= 2 {
		total += multiPatternBonus
	}
	return roundScore(clampScore(total))
}

func ringRisk(pattern PatternType, memberScores []float64) float64 {
	if len(memberScores) == 0 {
		return 0
	}
	var sum float64
	for _, s := range memberScores {
		sum += s
	}
	mean := sum / float64(len(memberScores))
	return roundScore(clampScore(mean * ringSeverity[pattern]))
}

// scoreAggregation fills account scores, ring risks and the resolved ring id
// of every tally.
func scoreAggregation(agg *aggregation) {
	for _, t := range agg.tallies {
		t.score = suspicionScore(t.occurrences)
	}
	for _, r := range agg.rings {
		scores := make([]float64, 0, len(r.members))
		for _, id := range r.members {
			scores = append(scores, agg.tallies[id].score)
		}
		r.risk = ringRisk(r.pattern, scores)
	}
	for _, t := range agg.tallies {
		if best := resolveRing(t.rings); best != nil {
			t.ringID = best.id
		}
	}
}

func clampScore(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}

// roundScore rounds half away from zero to one decimal. Going through decimal
// avoids 72.45 turning into 72.4 because of its binary representation.
func roundScore(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(1).Float64()
	return f
}

func roundSeconds(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}
