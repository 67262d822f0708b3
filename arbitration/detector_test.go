package arbitration

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleykit/parley/types"
)

type fakeAnalyst struct {
	candidates  []CandidateConflict
	analyzeErr  error
	moderations []*Moderation
	moderateErr error

	mu       sync.Mutex
	rounds   int
	lastReqs []*ModerationRequest
}

func (f *fakeAnalyst) AnalyzeConflicts(_ context.Context, _ *AnalysisRequest) ([]CandidateConflict, error) {
	if f.analyzeErr != nil {
		return nil, f.analyzeErr
	}
	return f.candidates, nil
}

func (f *fakeAnalyst) Moderate(_ context.Context, req *ModerationRequest) (*Moderation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.moderateErr != nil {
		return nil, f.moderateErr
	}
	f.lastReqs = append(f.lastReqs, req)
	idx := f.rounds
	if idx >= len(f.moderations) {
		idx = len(f.moderations) - 1
	}
	f.rounds++
	return f.moderations[idx], nil
}

type fakeLedger struct {
	mu        sync.Mutex
	conflicts map[string]*DetectedConflict
	outcomes  []*ResolutionOutcome
	failWith  error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{conflicts: make(map[string]*DetectedConflict)}
}

func (l *fakeLedger) UpsertConflict(_ context.Context, c *DetectedConflict) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failWith != nil {
		return l.failWith
	}
	copied := *c
	l.conflicts[c.ConflictID] = &copied
	return nil
}

func (l *fakeLedger) AppendOutcome(_ context.Context, o *ResolutionOutcome) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failWith != nil {
		return l.failWith
	}
	l.outcomes = append(l.outcomes, o)
	return nil
}

func twoOutputs() []AgentOutput {
	return []AgentOutput{
		{AgentID: "pr-strategist", Output: "issue a public apology", Confidence: 0.8},
		{AgentID: "brand-guardian", Output: "stay silent for now", Confidence: 0.7},
	}
}

func candidateBetween(agents ...string) CandidateConflict {
	assertions := make([]ConflictingAssertion, 0, len(agents))
	for _, id := range agents {
		assertions = append(assertions, ConflictingAssertion{
			AgentID:    id,
			Position:   "position of " + id,
			Confidence: 0.8,
		})
	}
	return CandidateConflict{
		Type:           ConflictActionConflict,
		Severity:       SeverityHigh,
		InvolvedAgents: agents,
		Assertions:     assertions,
		Confidence:     0.9,
	}
}

func TestDetectFewerThanTwoOutputs(t *testing.T) {
	t.Parallel()

	detector := NewConflictDetector(&fakeAnalyst{}, nil, nil)
	report, err := detector.Detect(context.Background(), &DetectionRequest{
		Outputs: []AgentOutput{{AgentID: "solo", Output: "only voice"}},
	})
	require.NoError(t, err)
	assert.Zero(t, report.TotalConflicts)
	assert.Empty(t, report.Conflicts)
	assert.False(t, report.DetectionFailed)
	assert.Equal(t, ActionIgnore, report.RecommendedAction)
	assert.Equal(t, 1, report.AnalyzedOutputs)
}

func TestDetectAnalystFailureFlagsReport(t *testing.T) {
	t.Parallel()

	detector := NewConflictDetector(&fakeAnalyst{analyzeErr: errors.New("model overloaded")}, nil, nil)
	report, err := detector.Detect(context.Background(), &DetectionRequest{Outputs: twoOutputs()})
	require.NoError(t, err)
	assert.True(t, report.DetectionFailed)
	assert.Contains(t, report.DetectionError, "model overloaded")
	assert.Empty(t, report.Conflicts)
}

func TestDetectNormalizesCandidates(t *testing.T) {
	t.Parallel()

	analyst := &fakeAnalyst{candidates: []CandidateConflict{
		candidateBetween("pr-strategist", "brand-guardian"),
		{Type: ConflictToneDisagreement, Severity: SeverityLow, InvolvedAgents: []string{"solo"}},
	}}
	ledger := newFakeLedger()
	detector := NewConflictDetector(analyst, ledger, nil)

	report, err := detector.Detect(context.Background(), &DetectionRequest{Outputs: twoOutputs()})
	require.NoError(t, err)
	require.Len(t, report.Conflicts, 1, "single-agent candidates are dropped")

	conflict := report.Conflicts[0]
	assert.NotEmpty(t, conflict.ConflictID)
	assert.Equal(t, ConflictDetected, conflict.Status)
	assert.Equal(t, "ai_analysis", conflict.DetectionMethod)
	assert.False(t, conflict.DetectedAt.IsZero())
	assert.Equal(t, SeverityHigh, report.OverallSeverity)
	assert.Equal(t, ActionResolveImmediately, report.RecommendedAction)
	assert.Len(t, ledger.conflicts, 1)
}

func TestDetectSeverityThresholdAndExcludes(t *testing.T) {
	t.Parallel()

	low := candidateBetween("a", "b")
	low.Severity = SeverityLow
	tone := candidateBetween("a", "b")
	tone.Type = ConflictToneDisagreement
	critical := candidateBetween("a", "b")
	critical.Severity = SeverityCritical

	analyst := &fakeAnalyst{candidates: []CandidateConflict{low, tone, critical}}
	detector := NewConflictDetector(analyst, nil, nil)

	report, err := detector.Detect(context.Background(), &DetectionRequest{
		Outputs: twoOutputs(),
		Options: DetectionOptions{
			ExcludeTypes:      []ConflictType{ConflictToneDisagreement},
			SeverityThreshold: SeverityMedium,
		},
	})
	require.NoError(t, err)
	require.Len(t, report.Conflicts, 1)
	assert.Equal(t, SeverityCritical, report.Conflicts[0].Severity)
	assert.Equal(t, ActionEscalate, report.RecommendedAction)
}

func TestDetectLedgerFailureDoesNotFailDetection(t *testing.T) {
	t.Parallel()

	ledger := newFakeLedger()
	ledger.failWith = errors.New("disk full")
	analyst := &fakeAnalyst{candidates: []CandidateConflict{candidateBetween("a", "b")}}
	detector := NewConflictDetector(analyst, ledger, nil)

	report, err := detector.Detect(context.Background(), &DetectionRequest{Outputs: twoOutputs()})
	require.NoError(t, err)
	assert.Len(t, report.Conflicts, 1)
}

func TestDetectNilRequest(t *testing.T) {
	t.Parallel()

	detector := NewConflictDetector(&fakeAnalyst{}, nil, nil)
	_, err := detector.Detect(context.Background(), nil)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
}

func TestSeverityOrdering(t *testing.T) {
	t.Parallel()

	assert.True(t, SeverityCritical.AtLeast(SeverityHigh))
	assert.True(t, SeverityMedium.AtLeast(SeverityMedium))
	assert.False(t, SeverityLow.AtLeast(SeverityMedium))
}
