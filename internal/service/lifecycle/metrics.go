package lifecycle

import (
	"time"

	domain "github.com/oshokin/alarm-sink/internal/domain/alarm"
)

// MetricsRecorder receives engine instrumentation. Calls happen after the
// store is updated and must not block.
type MetricsRecorder interface {
	RecordEvent(kind domain.Kind, outcome domain.Outcome, elapsed time.Duration)
	RecordError(reason string)
	RecordPurge(count int)
}

// Error reasons reported to MetricsRecorder.RecordError.
const (
	ReasonMalformedKey     = "malformed_key"
	ReasonInvalidSeverity  = "invalid_severity"
	ReasonUnknownKind      = "unknown_kind"
	ReasonStoreUnavailable = "store_unavailable"
)

// NoOpMetrics discards all measurements.
type NoOpMetrics struct{}

// RecordEvent does nothing.
func (NoOpMetrics) RecordEvent(domain.Kind, domain.Outcome, time.Duration) {}

// RecordError does nothing.
func (NoOpMetrics) RecordError(string) {}

// RecordPurge does nothing.
func (NoOpMetrics) RecordPurge(int) {}
