package reconcile

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/eventsync/internal/slack"
	"github.com/kiranshivaraju/eventsync/pkg/models"
)

// SyncUsergroups makes each configured cohort's usergroup contain exactly the
// linked people holding one of the cohort's roles. Unlinked people are skipped.
func (r *Reconciler) SyncUsergroups(ctx context.Context, tenant *models.Tenant) Report {
	rep := newReport(StepUsergroups)
	logger := r.tenantLogger(tenant, StepUsergroups)
	client := r.clients.ForTenant(tenant)

	for _, c := range r.cohorts.Resolve(tenant) {
		if ctx.Err() != nil {
			break
		}
		rep.Checked++

		if err := r.syncCohort(ctx, client, tenant, c, rep); err != nil {
			// Cohorts have no row of their own; the failure is keyed by name.
			stop := rep.fail(uuid.Nil, c.Name, err)
			logFailure(logger, rep, "usergroup sync failed", "cohort", c.Name, "usergroup_id", c.UsergroupID)
			if stop {
				break
			}
		}
	}

	logger.Info("usergroups reconciled",
		"checked", rep.Checked,
		"added", rep.Added,
		"removed", rep.Removed,
		"failures", len(rep.Failures))
	return *rep
}

func (r *Reconciler) syncCohort(ctx context.Context, client slack.Client, tenant *models.Tenant, c models.Cohort, rep *Report) error {
	var desired []string
	for _, p := range tenant.People {
		if !c.Includes(p.Role) {
			continue
		}
		uid := p.SlackUserID()
		if uid == "" {
			rep.Skipped++
			continue
		}
		desired = append(desired, uid)
	}

	current, err := client.GetUsergroupMembers(ctx, c.UsergroupID)
	if err != nil {
		return fmt.Errorf("list usergroup %s: %w", c.UsergroupID, err)
	}

	toAdd := minus(desired, toSet(current))
	toRemove := minus(current, toSet(desired))
	sort.Strings(toAdd)
	sort.Strings(toRemove)

	if len(toAdd) == 0 && len(toRemove) == 0 {
		rep.Unchanged++
		return nil
	}
	if len(toAdd) > 0 {
		if err := client.AddUsergroupMembers(ctx, c.UsergroupID, toAdd); err != nil {
			return fmt.Errorf("add to usergroup %s: %w", c.UsergroupID, err)
		}
		rep.Added += len(toAdd)
	}
	if len(toRemove) > 0 && len(desired) == 0 {
		// Slack cannot empty a usergroup. Stale members stay until the cohort
		// has a linked person again.
		rep.Skipped += len(toRemove)
		r.tenantLogger(tenant, StepUsergroups).Warn("cohort has no linked members, usergroup left as is",
			"cohort", c.Name, "usergroup_id", c.UsergroupID, "stale", len(toRemove))
		toRemove = nil
	}
	if len(toRemove) > 0 {
		if err := client.RemoveUsergroupMembers(ctx, c.UsergroupID, toRemove); err != nil {
			return fmt.Errorf("remove from usergroup %s: %w", c.UsergroupID, err)
		}
		rep.Removed += len(toRemove)
	}
	return nil
}
