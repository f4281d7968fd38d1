// Package pipeline coordinates one analysis run end to end: independent
// signal tasks, risk aggregation, then the dependent work-list tasks.
package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/pharmasentinel/orchestrator/internal/agents"
	"github.com/pharmasentinel/orchestrator/internal/risk"
)

// Run kinds. A full run gathers fresh signals; a quick run re-derives the
// work list from the cached risk snapshot.
const (
	KindFull  = "full"
	KindQuick = "quick"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
)

// Run is the record of one pipeline execution.
type Run struct {
	ID         uuid.UUID
	Kind       string
	Trigger    string
	Status     string
	StartedAt  time.Time
	FinishedAt time.Time

	Outcomes []agents.Outcome
	Views    []risk.DrugRiskView
	WorkList risk.WorkList
}

func newRun(kind, trigger string) *Run {
	return &Run{
		ID:        uuid.New(),
		Kind:      kind,
		Trigger:   trigger,
		Status:    StatusRunning,
		StartedAt: time.Now(),
	}
}

// Failed reports whether the run ended in the failed state.
func (r *Run) Failed() bool { return r.Status == StatusFailed }

// TaskErrors returns the errors of every non-successful task outcome.
func (r *Run) TaskErrors() []error {
	var errs []error
	for _, o := range r.Outcomes {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	return errs
}

// deriveStatus computes the run status from task outcomes: failed when
// every executed task failed, partial when failures mix with successes.
// Skipped tasks are neutral.
func deriveStatus(independent, dependent []agents.Outcome) string {
	var successes, failures int
	for _, o := range append(append([]agents.Outcome{}, independent...), dependent...) {
		switch o.Status {
		case agents.StatusFailure:
			failures++
		case agents.StatusSuccess:
			successes++
		}
	}
	switch {
	case failures > 0 && successes == 0:
		return StatusFailed
	case failures > 0:
		return StatusPartial
	default:
		return StatusSucceeded
	}
}
