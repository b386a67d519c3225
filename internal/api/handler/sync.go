package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/kiranshivaraju/eventsync/internal/api/response"
	"github.com/kiranshivaraju/eventsync/internal/scheduler"
)

// SyncController is the part of the scheduler the sync endpoints need.
type SyncController interface {
	Trigger() error
	LastRun(ctx context.Context) (*scheduler.RunSummary, bool, error)
}

// NewTriggerSyncHandler returns an http.HandlerFunc for POST /api/v1/admin/sync.
// The run happens in the background; callers poll GET for the outcome.
func NewTriggerSyncHandler(ctrl SyncController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := ctrl.Trigger(); err != nil {
			if errors.Is(err, scheduler.ErrRunInProgress) {
				response.Error(w, http.StatusConflict, "SYNC_IN_PROGRESS",
					"A sync run is already in progress", nil)
				return
			}
			response.Internal(w, "trigger sync", err)
			return
		}
		response.Accepted(w, map[string]string{"status": "queued"})
	}
}

// NewSyncStatusHandler returns an http.HandlerFunc for GET /api/v1/admin/sync.
func NewSyncStatusHandler(ctrl SyncController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sum, ok, err := ctrl.LastRun(r.Context())
		if err != nil {
			response.Internal(w, "load last sync run", err)
			return
		}
		if !ok {
			response.Error(w, http.StatusNotFound, "NO_RUNS",
				"No sync run has completed yet", nil)
			return
		}

		response.JSON(w, syncStatusResponse{
			RunSummary: sum,
			Totals: map[string]int{
				scheduler.OutcomeOK:        sum.Count(scheduler.OutcomeOK),
				scheduler.OutcomePartial:   sum.Count(scheduler.OutcomePartial),
				scheduler.OutcomeSuspended: sum.Count(scheduler.OutcomeSuspended),
				scheduler.OutcomeSkipped:   sum.Count(scheduler.OutcomeSkipped),
				scheduler.OutcomeFailed:    sum.Count(scheduler.OutcomeFailed),
			},
		})
	}
}

type syncStatusResponse struct {
	*scheduler.RunSummary
	Totals map[string]int `json:"totals"`
}
