package reconcile

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/eventsync/internal/slack"
	"github.com/kiranshivaraju/eventsync/pkg/models"
)

// LinkMembers links every person of the tenant to a Slack user, inviting those
// the workspace does not know yet. Linked persons cost no API call. Invited
// persons are looked up again but never re-invited.
func (r *Reconciler) LinkMembers(ctx context.Context, tenant *models.Tenant) Report {
	rep := newReport(StepMembers)
	logger := r.tenantLogger(tenant, StepMembers)
	client := r.clients.ForTenant(tenant)

	// Slack user id -> person already holding it.
	owners := make(map[string]uuid.UUID, len(tenant.People))
	for _, p := range tenant.People {
		if id := p.SlackUserID(); id != "" {
			owners[id] = p.ID
		}
	}

	for _, p := range tenant.People {
		if ctx.Err() != nil {
			break
		}
		rep.Checked++

		var err error
		switch p.Link.(type) {
		case models.MemberLinked:
			rep.Unchanged++
			continue
		case models.MemberInvited:
			err = r.refreshInvited(ctx, client, p, owners, rep)
		default:
			err = r.linkOrInvite(ctx, client, p, owners, rep)
		}
		if err != nil {
			stop := rep.fail(p.ID, p.Email, err)
			logFailure(logger, rep, "member link failed", "person_id", p.ID)
			if stop {
				break
			}
		}
	}

	logger.Info("members reconciled",
		"checked", rep.Checked,
		"linked", rep.Linked,
		"invited", rep.Invited,
		"failures", len(rep.Failures))
	return *rep
}

func (r *Reconciler) linkOrInvite(ctx context.Context, client slack.Client, p *models.Person, owners map[string]uuid.UUID, rep *Report) error {
	ref, found, err := client.FindUserByEmail(ctx, p.Email)
	if err != nil {
		return fmt.Errorf("lookup %s: %w", p.Email, err)
	}
	if found {
		if err := r.link(ctx, p, ref, owners); err != nil {
			return err
		}
		rep.Linked++
		return nil
	}

	ref, err = client.InviteUser(ctx, p.Email)
	if err != nil {
		return fmt.Errorf("invite %s: %w", p.Email, err)
	}
	rep.Invited++

	if ref.Pending() {
		link := models.MemberInvited{InvitedAt: r.now().UTC()}
		if err := r.links.SetPersonLink(ctx, p.ID, link); err != nil {
			return fmt.Errorf("persist invite: %w", err)
		}
		p.Link = link
		return nil
	}
	if err := r.link(ctx, p, ref, owners); err != nil {
		return err
	}
	rep.Linked++
	return nil
}

func (r *Reconciler) refreshInvited(ctx context.Context, client slack.Client, p *models.Person, owners map[string]uuid.UUID, rep *Report) error {
	ref, found, err := client.FindUserByEmail(ctx, p.Email)
	if err != nil {
		return fmt.Errorf("lookup %s: %w", p.Email, err)
	}
	if !found {
		rep.Skipped++
		return nil
	}
	if err := r.link(ctx, p, ref, owners); err != nil {
		return err
	}
	rep.Linked++
	return nil
}

// link persists ref as p's Slack user unless another person already holds it.
func (r *Reconciler) link(ctx context.Context, p *models.Person, ref slack.UserRef, owners map[string]uuid.UUID) error {
	if owner, ok := owners[ref.ID]; ok && owner != p.ID {
		return fmt.Errorf("slack user %s already linked to person %s: %w", ref.ID, owner, ErrDataInconsistency)
	}
	link := models.MemberLinked{UserID: ref.ID, Username: ref.Name}
	if err := r.links.SetPersonLink(ctx, p.ID, link); err != nil {
		return fmt.Errorf("persist link: %w", err)
	}
	owners[ref.ID] = p.ID
	p.Link = link
	return nil
}
