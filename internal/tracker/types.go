package tracker

import (
	"strings"
	"time"
)

// Status is a tracked job's lifecycle state.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ParseStatus converts a backend status string into a Status.
func ParseStatus(value string) (Status, bool) {
	switch Status(strings.ToLower(strings.TrimSpace(value))) {
	case StatusQueued:
		return StatusQueued, true
	case StatusProcessing:
		return StatusProcessing, true
	case StatusCompleted:
		return StatusCompleted, true
	case StatusFailed:
		return StatusFailed, true
	default:
		return "", false
	}
}

// IsTerminal reports whether no further updates are expected for the status.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// JobRecord is the last known view of one tracked job. Progress keeps the
// most recently timestamped value, not the numerically largest: push events
// may arrive out of order and the engine resolves conflicts by wall clock.
type JobRecord struct {
	ID                 string
	Status             Status
	Progress           float64
	LastUpdate         time.Time
	CorrectionAttempts int
	CorrectionInFlight bool
}

// HealthState is a snapshot of backend reachability bookkeeping.
type HealthState struct {
	Healthy             bool
	ConsecutiveFailures int
	NextCheckDelay      time.Duration
	Checking            bool
}
