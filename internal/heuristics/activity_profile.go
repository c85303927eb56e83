package heuristics

import (
	"math"
	"sort"
	"time"

	"github.com/rawblock/mule-engine/pkg/models"
)

// Pattern-of-Life Activity Profile
//
// Transfer timing gives an analyst a quick read on who operates an account:
//
//   - peak hour and weekday share show a working schedule
//   - regularity of the gaps between transfers separates scripts from people
//   - transfers per day show how busy the account is
//
// Regularity is 1/(1+CV) of the inter-transfer gaps, so a perfectly periodic
// account scores 1.0. Profiles are informational only and never feed the
// suspicion score.

const (
	EntityAutomated  = "automated"
	EntityService    = "service"
	EntityBusiness   = "business"
	EntityIndividual = "individual"
	EntityUnknown    = "unknown"
)

// ActivityProfile profiles one account from every transfer it sent or
// received. Accounts with fewer than three transfers get EntityUnknown.
func ActivityProfile(g *Graph, id string) *models.ActivityProfile {
	profile := &models.ActivityProfile{EntityType: EntityUnknown}

	times := make([]time.Time, 0, len(g.In(id))+len(g.Out(id)))
	for _, e := range g.In(id) {
		times = append(times, e.Timestamp)
	}
	for _, e := range g.Out(id) {
		times = append(times, e.Timestamp)
	}
	if len(times) < 3 {
		return profile
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	hourCounts := make([]int, 24)
	weekdayCount := 0
	for _, t := range times {
		t = t.UTC()
		hourCounts[t.Hour()]++
		if t.Weekday() >= time.Monday && t.Weekday() <= time.Friday {
			weekdayCount++
		}
	}

	maxCount := 0
	for h, count := range hourCounts {
		if count > maxCount {
			maxCount = count
			profile.PeakHourUTC = h
		}
	}

	profile.WeekdayRatio = round2(float64(weekdayCount) / float64(len(times)))
	profile.Regularity = regularity(times)

	if days := times[len(times)-1].Sub(times[0]).Hours() / 24; days > 0 {
		profile.TxPerDay = round2(float64(len(times)) / days)
	}

	profile.EntityType = classifyActivity(profile)
	profile.Automated = profile.EntityType == EntityAutomated
	return profile
}

// regularity is 0.0 for random gaps and 1.0 for perfectly periodic ones.
func regularity(times []time.Time) float64 {
	if len(times) < 3 {
		return 0
	}

	gaps := make([]float64, len(times)-1)
	sum := 0.0
	for i := 1; i < len(times); i++ {
		gaps[i-1] = times[i].Sub(times[i-1]).Hours()
		sum += gaps[i-1]
	}
	mean := sum / float64(len(gaps))
	if mean <= 0 {
		return 0
	}

	varianceSum := 0.0
	for _, v := range gaps {
		diff := v - mean
		varianceSum += diff * diff
	}
	cv := math.Sqrt(varianceSum/float64(len(gaps))) / mean

	return round2(1.0 / (1.0 + cv))
}

func classifyActivity(p *models.ActivityProfile) string {
	switch {
	case p.Regularity >= 0.8 && p.TxPerDay >= 10:
		return EntityAutomated
	case p.Regularity >= 0.6 && p.TxPerDay >= 5:
		return EntityService
	case p.WeekdayRatio >= 0.8 && p.TxPerDay >= 1:
		return EntityBusiness
	case p.TxPerDay >= 0.1:
		return EntityIndividual
	default:
		return EntityUnknown
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
