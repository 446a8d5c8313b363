package domain

import "time"

type CycleOutcome string

const (
	OutcomeCompleted      CycleOutcome = "completed"
	OutcomeFetchFailed    CycleOutcome = "fetch_failed"
	OutcomeAnalysisFailed CycleOutcome = "analysis_failed"
	OutcomePublishFailed  CycleOutcome = "publish_failed"
	OutcomeSkippedLocked  CycleOutcome = "skipped_locked"
	OutcomePanicked       CycleOutcome = "panicked"
)

// Failed reports whether the outcome should count towards a failure streak.
// A cycle skipped because another instance holds the lock is not a failure.
func (o CycleOutcome) Failed() bool {
	switch o {
	case OutcomeCompleted, OutcomeSkippedLocked:
		return false
	default:
		return true
	}
}

// CycleReport describes one fetch -> analyze -> format -> publish run.
type CycleReport struct {
	ID         string       `json:"id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Outcome    CycleOutcome `json:"outcome"`
	Message    string       `json:"message,omitempty"`
	Err        error        `json:"-"`
}

// Duration is how long the cycle took.
func (r CycleReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
