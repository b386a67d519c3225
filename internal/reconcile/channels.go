package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/kiranshivaraju/eventsync/internal/slack"
	"github.com/kiranshivaraju/eventsync/pkg/models"
)

// LinkChannels gives every active team a channel, keeps its name, topic and
// membership in line with the team, and archives the channels of inactive teams.
// Name and topic are written only when they differ from the last synced values.
func (r *Reconciler) LinkChannels(ctx context.Context, tenant *models.Tenant) Report {
	rep := newReport(StepChannels)
	logger := r.tenantLogger(tenant, StepChannels)
	client := r.clients.ForTenant(tenant)

	// Slack users this tenant manages; only these are ever removed from a channel.
	managed := make(map[string]bool, len(tenant.People))
	for _, p := range tenant.People {
		if id := p.SlackUserID(); id != "" {
			managed[id] = true
		}
	}

	for _, team := range tenant.Teams {
		if ctx.Err() != nil {
			break
		}
		rep.Checked++

		if err := r.syncTeam(ctx, client, tenant, team, managed, rep, logger); err != nil {
			stop := rep.fail(team.ID, team.DisplayName, err)
			logFailure(logger, rep, "channel sync failed", "team_id", team.ID)
			if stop {
				break
			}
		}
	}

	logger.Info("channels reconciled",
		"checked", rep.Checked,
		"created", rep.Created,
		"renamed", rep.Renamed,
		"archived", rep.Archived,
		"added", rep.Added,
		"removed", rep.Removed,
		"failures", len(rep.Failures))
	return *rep
}

func (r *Reconciler) syncTeam(ctx context.Context, client slack.Client, tenant *models.Tenant, team *models.Team, managed map[string]bool, rep *Report, logger *slog.Logger) error {
	linked, isLinked := team.Link.(models.ChannelLinked)

	if !team.IsActive {
		if !isLinked || linked.Archived {
			rep.Skipped++
			return nil
		}
		return r.archive(ctx, client, team, linked, rep)
	}

	if isLinked && linked.Archived {
		logger.Warn("active team has an archived channel", "team_id", team.ID, "channel_id", linked.ChannelID)
		rep.Skipped++
		return nil
	}

	name := ChannelName(r.opts.ChannelPrefix, team.DisplayName, team.ID)
	if !isLinked {
		var err error
		if linked, err = r.createChannel(ctx, client, team, name, rep); err != nil {
			return err
		}
	}

	changed := false
	if linked.SyncedName != name {
		if _, err := client.RenameChannel(ctx, linked.ChannelID, name); err != nil {
			return fmt.Errorf("rename channel %s: %w", linked.ChannelID, err)
		}
		linked.SyncedName = name
		rep.Renamed++
		changed = true
	}

	if topic := r.Topic(team.Topic); topic != linked.SyncedTopic {
		if err := client.SetChannelTopic(ctx, linked.ChannelID, topic); err != nil {
			if changed {
				r.persistChannel(ctx, team, linked, logger)
			}
			return fmt.Errorf("set topic on %s: %w", linked.ChannelID, err)
		}
		linked.SyncedTopic = topic
		rep.Topics++
		changed = true
	}

	if changed {
		if err := r.links.SetTeamLink(ctx, team.ID, linked); err != nil {
			return fmt.Errorf("persist channel: %w", err)
		}
		team.Link = linked
	}

	return r.syncChannelMembers(ctx, client, tenant, team, linked.ChannelID, managed, rep)
}

// createChannel creates the team channel, or links the existing one when the
// name is taken, and persists the link before anything else is written.
func (r *Reconciler) createChannel(ctx context.Context, client slack.Client, team *models.Team, name string, rep *Report) (models.ChannelLinked, error) {
	ref, err := client.CreateChannel(ctx, name)
	switch {
	case err == nil:
		rep.Created++
	case errors.Is(err, slack.ErrConflict):
		existing, found, ferr := client.FindChannelByName(ctx, name)
		if ferr != nil {
			return models.ChannelLinked{}, fmt.Errorf("find channel %s: %w", name, ferr)
		}
		if !found {
			return models.ChannelLinked{}, fmt.Errorf("create channel %s: %w", name, err)
		}
		ref = existing
		rep.Linked++
	default:
		return models.ChannelLinked{}, fmt.Errorf("create channel %s: %w", name, err)
	}

	linked := models.ChannelLinked{ChannelID: ref.ID, SyncedName: name}
	if err := r.links.SetTeamLink(ctx, team.ID, linked); err != nil {
		return models.ChannelLinked{}, fmt.Errorf("persist channel %s: %w", ref.ID, err)
	}
	team.Link = linked
	return linked, nil
}

func (r *Reconciler) archive(ctx context.Context, client slack.Client, team *models.Team, linked models.ChannelLinked, rep *Report) error {
	if err := client.ArchiveChannel(ctx, linked.ChannelID); err != nil {
		return fmt.Errorf("archive channel %s: %w", linked.ChannelID, err)
	}
	linked.Archived = true
	if err := r.links.SetTeamLink(ctx, team.ID, linked); err != nil {
		return fmt.Errorf("persist archive: %w", err)
	}
	team.Link = linked
	rep.Archived++
	return nil
}

// persistChannel saves partial progress after a later write on the same team
// failed. Its own failure is only logged; the next tick rewrites the values.
func (r *Reconciler) persistChannel(ctx context.Context, team *models.Team, linked models.ChannelLinked, logger *slog.Logger) {
	if err := r.links.SetTeamLink(ctx, team.ID, linked); err != nil {
		logger.Error("persist partial channel state", "team_id", team.ID, "error", err)
		return
	}
	team.Link = linked
}

func (r *Reconciler) syncChannelMembers(ctx context.Context, client slack.Client, tenant *models.Tenant, team *models.Team, channelID string, managed map[string]bool, rep *Report) error {
	var want []string
	for _, id := range team.MemberIDs {
		p := tenant.PersonByID(id)
		if p == nil {
			continue
		}
		uid := p.SlackUserID()
		if uid == "" {
			rep.Skipped++
			continue
		}
		want = append(want, uid)
	}

	current, err := client.GetChannelMembers(ctx, channelID)
	if err != nil {
		return fmt.Errorf("list members of %s: %w", channelID, err)
	}
	have := toSet(current)

	missing := minus(want, have)
	sort.Strings(missing)
	if len(missing) > 0 {
		if err := client.InviteToChannel(ctx, channelID, missing); err != nil {
			return fmt.Errorf("invite to %s: %w", channelID, err)
		}
		rep.Added += len(missing)
	}

	if !r.opts.ChannelRemoval {
		return nil
	}
	wanted := toSet(want)
	var stale []string
	for _, uid := range current {
		if managed[uid] && !wanted[uid] {
			stale = append(stale, uid)
		}
	}
	sort.Strings(stale)
	if len(stale) > 0 {
		if err := client.RemoveFromChannel(ctx, channelID, stale); err != nil {
			return fmt.Errorf("remove from %s: %w", channelID, err)
		}
		rep.Removed += len(stale)
	}
	return nil
}
