// Package reconcile makes a tenant's Slack workspace match its people, teams and
// cohorts. Each reconciler processes one unit (person, team, cohort) at a time,
// records failures in a Report and carries on with the next unit.
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/eventsync/internal/slack"
	"github.com/kiranshivaraju/eventsync/pkg/models"
	"github.com/microcosm-cc/bluemonday"
)

// LinkWriter persists link state, one entity per call.
type LinkWriter interface {
	SetPersonLink(ctx context.Context, personID uuid.UUID, link models.MemberLink) error
	SetTeamLink(ctx context.Context, teamID uuid.UUID, link models.ChannelLink) error
}

// ClientSource hands out a Slack client bound to a tenant's credential.
type ClientSource interface {
	ForTenant(t *models.Tenant) slack.Client
}

// CohortSource resolves the cohorts configured for a tenant.
type CohortSource interface {
	Resolve(t *models.Tenant) []models.Cohort
}

// Options tunes channel naming and membership policy.
type Options struct {
	// ChannelPrefix is prepended to every team's display name before slugging.
	ChannelPrefix string
	// ChannelRemoval enables removing people from a team channel once they are
	// no longer on the team. Off means leave-in-place.
	ChannelRemoval bool
	// Clock stamps invites. Defaults to time.Now.
	Clock func() time.Time
}

// Reconciler runs the three reconciliation steps. It is safe for concurrent use
// across different tenants.
type Reconciler struct {
	links   LinkWriter
	clients ClientSource
	cohorts CohortSource
	opts    Options
	logger  *slog.Logger
	policy  *bluemonday.Policy
	now     func() time.Time
}

// New creates a Reconciler.
func New(links LinkWriter, clients ClientSource, cohorts CohortSource, opts Options, logger *slog.Logger) *Reconciler {
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Reconciler{
		links:   links,
		clients: clients,
		cohorts: cohorts,
		opts:    opts,
		logger:  logger,
		policy:  bluemonday.StrictPolicy(),
		now:     now,
	}
}

func (r *Reconciler) tenantLogger(t *models.Tenant, step string) *slog.Logger {
	return r.logger.With("tenant_id", t.ID, "step", step)
}

// logFailure logs the last failure of rep at a level matching its category.
func logFailure(logger *slog.Logger, rep *Report, msg string, args ...any) {
	f := rep.Failures[len(rep.Failures)-1]
	args = append(args, "category", f.Category, "error", f.Error)
	switch f.Category {
	case DataInconsistency, ExternalPermanent, Internal:
		logger.Error(msg, args...)
	default:
		logger.Warn(msg, args...)
	}
}

func toSet(ids []string) map[string]bool {
	s := make(map[string]bool, len(ids))
	for _, id := range ids {
		s[id] = true
	}
	return s
}

// minus returns the members of a not in b, in a's order.
func minus(a []string, b map[string]bool) []string {
	var out []string
	for _, id := range a {
		if !b[id] {
			out = append(out, id)
		}
	}
	return out
}
