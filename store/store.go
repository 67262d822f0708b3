package store

import (
	"context"
	"time"

	"github.com/parleykit/parley/arbitration"
	"github.com/parleykit/parley/dialogue"
)

// ResolutionMetrics aggregates the arbitration ledger.
type ResolutionMetrics struct {
	TotalConflicts      int                                     `json:"total_conflicts"`
	ResolvedConflicts   int                                     `json:"resolved_conflicts"`
	EscalatedConflicts  int                                     `json:"escalated_conflicts"`
	UnresolvedConflicts int                                     `json:"unresolved_conflicts"`
	TotalOutcomes       int                                     `json:"total_outcomes"`
	SuccessRate         float64                                 `json:"success_rate"`
	AvgProcessingMs     float64                                 `json:"avg_processing_ms"`
	ByStrategy          map[arbitration.ArbitrationStrategy]int `json:"by_strategy"`
	BySeverity          map[arbitration.ConflictSeverity]int    `json:"by_severity"`
	ByType              map[arbitration.ConflictType]int        `json:"by_type"`
}

// TrendPoint is one day of conflict activity.
type TrendPoint struct {
	Date      string `json:"date"`
	Conflicts int    `json:"conflicts"`
	Resolved  int    `json:"resolved"`
}

// StrategyPerformance summarizes how one arbitration strategy has fared.
type StrategyPerformance struct {
	Strategy        arbitration.ArbitrationStrategy `json:"strategy"`
	Outcomes        int                             `json:"outcomes"`
	Successes       int                             `json:"successes"`
	SuccessRate     float64                         `json:"success_rate"`
	AvgProcessingMs float64                         `json:"avg_processing_ms"`
	AvgRounds       float64                         `json:"avg_rounds"`
}

// AgentProfile summarizes one agent's conflict history.
type AgentProfile struct {
	AgentID           string                               `json:"agent_id"`
	ConflictsInvolved int                                  `json:"conflicts_involved"`
	OutcomesWon       int                                  `json:"outcomes_won"`
	WinRate           float64                              `json:"win_rate"`
	BySeverity        map[arbitration.ConflictSeverity]int `json:"by_severity"`
	LastConflictAt    *time.Time                           `json:"last_conflict_at,omitempty"`
}

// Store is the full persistence surface: the dialogue engine's store,
// the arbitration ledger, and the analytics read side.
type Store interface {
	dialogue.Store
	arbitration.Ledger

	ListConflictsByAgent(ctx context.Context, agentID string) ([]*arbitration.DetectedConflict, error)
	ListOutcomesByAgent(ctx context.Context, agentID string) ([]*arbitration.ResolutionOutcome, error)
	ResolutionMetrics(ctx context.Context) (*ResolutionMetrics, error)
	ConflictTrends(ctx context.Context, days int) ([]TrendPoint, error)
	StrategyPerformance(ctx context.Context) ([]StrategyPerformance, error)
	AgentProfile(ctx context.Context, agentID string) (*AgentProfile, error)

	Close() error
}
