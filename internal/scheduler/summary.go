package scheduler

import (
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/eventsync/internal/reconcile"
)

// Tenant outcomes.
const (
	OutcomeOK        = "ok"
	OutcomePartial   = "partial"
	OutcomeSuspended = "suspended"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// TenantResult is the outcome of one tenant within a run.
type TenantResult struct {
	TenantID uuid.UUID          `json:"tenant_id"`
	Name     string             `json:"name"`
	Outcome  string             `json:"outcome"`
	Steps    []reconcile.Report `json:"steps,omitempty"`
	Errors   []string           `json:"errors,omitempty"`
}

// RunSummary is stored after every run and served by the admin API.
type RunSummary struct {
	RunID      uuid.UUID      `json:"run_id"`
	Trigger    string         `json:"trigger"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Error      string         `json:"error,omitempty"`
	Tenants    []TenantResult `json:"tenants"`
}

// Count returns the number of tenants with the given outcome.
func (s *RunSummary) Count(outcome string) int {
	n := 0
	for _, t := range s.Tenants {
		if t.Outcome == outcome {
			n++
		}
	}
	return n
}
