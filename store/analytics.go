package store

import (
	"sort"
	"time"

	"github.com/parleykit/parley/arbitration"
)

// The analytics queries are computed in Go over the loaded rows rather
// than pushed into SQL. The ledger is small relative to the turn log and
// this keeps MemoryStore and GormStore byte-for-byte consistent.

func computeResolutionMetrics(conflicts []*arbitration.DetectedConflict, outcomes []*arbitration.ResolutionOutcome) *ResolutionMetrics {
	metrics := &ResolutionMetrics{
		TotalConflicts: len(conflicts),
		TotalOutcomes:  len(outcomes),
		ByStrategy:     make(map[arbitration.ArbitrationStrategy]int),
		BySeverity:     make(map[arbitration.ConflictSeverity]int),
		ByType:         make(map[arbitration.ConflictType]int),
	}
	for _, c := range conflicts {
		metrics.BySeverity[c.Severity]++
		metrics.ByType[c.Type]++
		switch c.Status {
		case arbitration.ConflictResolved:
			metrics.ResolvedConflicts++
		case arbitration.ConflictEscalated:
			metrics.EscalatedConflicts++
		case arbitration.ConflictUnresolved:
			metrics.UnresolvedConflicts++
		}
	}
	successes := 0
	var sumProcessing float64
	for _, o := range outcomes {
		metrics.ByStrategy[o.Strategy]++
		if o.Success {
			successes++
		}
		sumProcessing += float64(o.Metadata.ProcessingTimeMs)
	}
	if len(outcomes) > 0 {
		metrics.SuccessRate = float64(successes) / float64(len(outcomes))
		metrics.AvgProcessingMs = sumProcessing / float64(len(outcomes))
	}
	return metrics
}

func computeConflictTrends(conflicts []*arbitration.DetectedConflict, days int, now time.Time) []TrendPoint {
	if days <= 0 {
		days = 7
	}
	cutoff := now.UTC().AddDate(0, 0, -days)
	byDay := make(map[string]*TrendPoint)
	for _, c := range conflicts {
		if c.DetectedAt.Before(cutoff) {
			continue
		}
		day := c.DetectedAt.UTC().Format("2006-01-02")
		point := byDay[day]
		if point == nil {
			point = &TrendPoint{Date: day}
			byDay[day] = point
		}
		point.Conflicts++
		if c.Status == arbitration.ConflictResolved {
			point.Resolved++
		}
	}

	trends := make([]TrendPoint, 0, len(byDay))
	for _, point := range byDay {
		trends = append(trends, *point)
	}
	sort.Slice(trends, func(i, j int) bool { return trends[i].Date < trends[j].Date })
	return trends
}

func computeStrategyPerformance(outcomes []*arbitration.ResolutionOutcome) []StrategyPerformance {
	type agg struct {
		outcomes   int
		successes  int
		processing float64
		rounds     float64
	}
	byStrategy := make(map[arbitration.ArbitrationStrategy]*agg)
	for _, o := range outcomes {
		a := byStrategy[o.Strategy]
		if a == nil {
			a = &agg{}
			byStrategy[o.Strategy] = a
		}
		a.outcomes++
		if o.Success {
			a.successes++
		}
		a.processing += float64(o.Metadata.ProcessingTimeMs)
		a.rounds += float64(o.Metadata.RoundsRequired)
	}

	perf := make([]StrategyPerformance, 0, len(byStrategy))
	for strategy, a := range byStrategy {
		perf = append(perf, StrategyPerformance{
			Strategy:        strategy,
			Outcomes:        a.outcomes,
			Successes:       a.successes,
			SuccessRate:     float64(a.successes) / float64(a.outcomes),
			AvgProcessingMs: a.processing / float64(a.outcomes),
			AvgRounds:       a.rounds / float64(a.outcomes),
		})
	}
	sort.Slice(perf, func(i, j int) bool { return perf[i].Strategy < perf[j].Strategy })
	return perf
}

func computeAgentProfile(agentID string, conflicts []*arbitration.DetectedConflict, outcomes []*arbitration.ResolutionOutcome) *AgentProfile {
	profile := &AgentProfile{
		AgentID:    agentID,
		BySeverity: make(map[arbitration.ConflictSeverity]int),
	}
	var last time.Time
	for _, c := range conflicts {
		if !involves(c, agentID) {
			continue
		}
		profile.ConflictsInvolved++
		profile.BySeverity[c.Severity]++
		if c.DetectedAt.After(last) {
			last = c.DetectedAt
		}
	}
	if !last.IsZero() {
		profile.LastConflictAt = &last
	}

	participated := 0
	for _, o := range outcomes {
		if !contains(o.Metadata.ParticipatingAgents, agentID) {
			continue
		}
		participated++
		if o.ChosenAgent == agentID {
			profile.OutcomesWon++
		}
	}
	if participated > 0 {
		profile.WinRate = float64(profile.OutcomesWon) / float64(participated)
	}
	return profile
}

func involves(c *arbitration.DetectedConflict, agentID string) bool {
	return contains(c.InvolvedAgents, agentID)
}

func contains(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
