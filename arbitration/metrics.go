package arbitration

// Metrics receives arbitration instrumentation events. Implementations
// must be safe for concurrent use.
type Metrics interface {
	RecordConflict(conflictType, severity string)
	RecordResolution(strategy, outcomeType string)
}

type nopMetrics struct{}

func (nopMetrics) RecordConflict(string, string)   {}
func (nopMetrics) RecordResolution(string, string) {}
