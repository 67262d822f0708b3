package dialogue

import "time"

// Metrics receives dialogue instrumentation events. Implementations must
// be safe for concurrent use. Components default to a no-op sink.
type Metrics interface {
	RecordSessionStarted(strategy string)
	RecordSessionFinished(status, outcome string)
	RecordTurn(result string, duration time.Duration)
	RecordInterruption(reason string)
}

type nopMetrics struct{}

func (nopMetrics) RecordSessionStarted(string)          {}
func (nopMetrics) RecordSessionFinished(string, string) {}
func (nopMetrics) RecordTurn(string, time.Duration)     {}
func (nopMetrics) RecordInterruption(string)            {}
