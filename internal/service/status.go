package service

import (
	"sync"
	"time"

	"market-pulse/internal/domain"
)

// Status is a read-only view of the bot for the status endpoint.
type Status struct {
	StartedAt           time.Time           `json:"started_at"`
	Session             string              `json:"session"`
	Cycles              int                 `json:"cycles"`
	Failures            int                 `json:"failures"`
	ConsecutiveFailures int                 `json:"consecutive_failures"`
	LastReport          *domain.CycleReport `json:"last_report,omitempty"`
	LastError           string              `json:"last_error,omitempty"`
	NextCycleAt         *time.Time          `json:"next_cycle_at,omitempty"`
}

// StatusTracker is written by the cycle loop and read by the HTTP server.
type StatusTracker struct {
	mu      sync.RWMutex
	status  Status
	session func() string
}

func NewStatusTracker(startedAt time.Time) *StatusTracker {
	return &StatusTracker{status: Status{StartedAt: startedAt}}
}

// SetSessionSource registers where the browser session state is read from.
func (t *StatusTracker) SetSessionSource(fn func() string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.session = fn
}

// Record folds a finished cycle into the counters.
func (t *StatusTracker) Record(report domain.CycleReport) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.Cycles++
	if report.Outcome.Failed() {
		t.status.Failures++
		t.status.ConsecutiveFailures++
	} else if report.Outcome == domain.OutcomeCompleted {
		t.status.ConsecutiveFailures = 0
	}
	t.status.LastError = ""
	if report.Err != nil {
		t.status.LastError = report.Err.Error()
	}
	r := report
	t.status.LastReport = &r
}

// SetNextCycle records when the loop will wake up next.
func (t *StatusTracker) SetNextCycle(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.NextCycleAt = &at
}

// Snapshot returns a copy safe to serialize.
func (t *StatusTracker) Snapshot() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := t.status
	if s.LastReport != nil {
		r := *s.LastReport
		s.LastReport = &r
	}
	if s.NextCycleAt != nil {
		at := *s.NextCycleAt
		s.NextCycleAt = &at
	}
	if t.session != nil {
		s.Session = t.session()
	}
	return s
}
