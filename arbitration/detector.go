package arbitration

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/parleykit/parley/types"
)

const detectionMethodAI = "ai_analysis"

// DetectionOptions tune one detection pass.
type DetectionOptions struct {
	// ExcludeTypes drops candidates of the listed types.
	ExcludeTypes []ConflictType `json:"exclude_types,omitempty"`
	// SeverityThreshold drops candidates below the given severity.
	// Empty means no threshold.
	SeverityThreshold ConflictSeverity `json:"severity_threshold,omitempty"`
}

// DetectionRequest is one batch of agent outputs to analyze.
type DetectionRequest struct {
	TaskID         string           `json:"task_id,omitempty"`
	ConversationID string           `json:"conversation_id,omitempty"`
	Outputs        []AgentOutput    `json:"outputs"`
	InputContext   map[string]any   `json:"input_context,omitempty"`
	Options        DetectionOptions `json:"options,omitempty"`
}

// ConflictDetector identifies disagreements in a batch of agent outputs
// by delegating semantic comparison to the Analyst.
type ConflictDetector struct {
	analyst Analyst
	ledger  Ledger
	metrics Metrics
	logger  *zap.Logger
}

// NewConflictDetector creates a detector. The ledger may be nil; detected
// conflicts are then not persisted.
func NewConflictDetector(analyst Analyst, ledger Ledger, logger *zap.Logger) *ConflictDetector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConflictDetector{
		analyst: analyst,
		ledger:  ledger,
		metrics: nopMetrics{},
		logger:  logger.With(zap.String("component", "conflict_detector")),
	}
}

// WithMetrics attaches an instrumentation sink and returns the detector.
func (d *ConflictDetector) WithMetrics(metrics Metrics) *ConflictDetector {
	if metrics != nil {
		d.metrics = metrics
	}
	return d
}

// Detect analyzes the outputs and returns a conflict report.
//
// Fewer than two outputs cannot conflict, so the report is trivially
// empty. An analyst failure also yields an empty report, but with
// DetectionFailed set so callers can tell it apart from a clean pass.
func (d *ConflictDetector) Detect(ctx context.Context, req *DetectionRequest) (*ConflictReport, error) {
	if req == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "detection request is required")
	}
	start := time.Now()

	if len(req.Outputs) < 2 {
		return emptyReport(len(req.Outputs), start), nil
	}

	candidates, err := d.analyst.AnalyzeConflicts(ctx, &AnalysisRequest{
		TaskID:         req.TaskID,
		ConversationID: req.ConversationID,
		Outputs:        req.Outputs,
		InputContext:   req.InputContext,
	})
	if err != nil {
		d.logger.Warn("conflict analysis failed",
			zap.String("task_id", req.TaskID),
			zap.Int("outputs", len(req.Outputs)),
			zap.Error(err),
		)
		report := emptyReport(len(req.Outputs), start)
		report.DetectionFailed = true
		report.DetectionError = err.Error()
		return report, nil
	}

	now := time.Now().UTC()
	conflicts := make([]DetectedConflict, 0, len(candidates))
	for _, c := range candidates {
		if len(c.InvolvedAgents) < 2 {
			continue
		}
		if excluded(c.Type, req.Options.ExcludeTypes) {
			continue
		}
		if req.Options.SeverityThreshold != "" && !c.Severity.AtLeast(req.Options.SeverityThreshold) {
			continue
		}
		conflicts = append(conflicts, DetectedConflict{
			ConflictID:            uuid.New().String(),
			Type:                  c.Type,
			Severity:              c.Severity,
			Status:                ConflictDetected,
			InvolvedAgents:        c.InvolvedAgents,
			ConflictingAssertions: c.Assertions,
			SuggestedStrategy:     c.SuggestedStrategy,
			Confidence:            clamp01(c.Confidence),
			Reasoning:             c.Reasoning,
			DetectionMethod:       detectionMethodAI,
			DetectedAt:            now,
		})
	}

	report := &ConflictReport{
		TotalConflicts:    len(conflicts),
		Conflicts:         conflicts,
		OverallSeverity:   overallSeverity(conflicts),
		RecommendedAction: recommendAction(conflicts),
		AnalyzedOutputs:   len(req.Outputs),
		ProcessingTimeMs:  time.Since(start).Milliseconds(),
	}

	d.record(ctx, conflicts)
	for _, c := range conflicts {
		d.metrics.RecordConflict(string(c.Type), string(c.Severity))
	}

	d.logger.Info("conflict detection completed",
		zap.String("task_id", req.TaskID),
		zap.Int("outputs", len(req.Outputs)),
		zap.Int("conflicts", len(conflicts)),
		zap.String("overall_severity", string(report.OverallSeverity)),
	)
	return report, nil
}

// record persists detected conflicts. Failures are logged and swallowed:
// detection already answered the caller.
func (d *ConflictDetector) record(ctx context.Context, conflicts []DetectedConflict) {
	if d.ledger == nil {
		return
	}
	for i := range conflicts {
		if err := d.ledger.UpsertConflict(ctx, &conflicts[i]); err != nil {
			d.logger.Warn("failed to persist conflict",
				zap.String("conflict_id", conflicts[i].ConflictID),
				zap.Error(err),
			)
		}
	}
}

func emptyReport(analyzed int, start time.Time) *ConflictReport {
	return &ConflictReport{
		Conflicts:         []DetectedConflict{},
		OverallSeverity:   SeverityLow,
		RecommendedAction: ActionIgnore,
		AnalyzedOutputs:   analyzed,
		ProcessingTimeMs:  time.Since(start).Milliseconds(),
	}
}

func excluded(t ConflictType, excludes []ConflictType) bool {
	for _, e := range excludes {
		if t == e {
			return true
		}
	}
	return false
}

func overallSeverity(conflicts []DetectedConflict) ConflictSeverity {
	overall := SeverityLow
	for _, c := range conflicts {
		if c.Severity.Rank() > overall.Rank() {
			overall = c.Severity
		}
	}
	return overall
}

func recommendAction(conflicts []DetectedConflict) RecommendedAction {
	if len(conflicts) == 0 {
		return ActionIgnore
	}
	switch overallSeverity(conflicts) {
	case SeverityCritical:
		return ActionEscalate
	case SeverityHigh:
		return ActionResolveImmediately
	case SeverityMedium:
		return ActionReviewLater
	default:
		return ActionIgnore
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
