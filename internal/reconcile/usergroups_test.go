package reconcile_test

import (
	"context"
	"testing"

	"github.com/kiranshivaraju/eventsync/internal/reconcile"
	"github.com/kiranshivaraju/eventsync/internal/slack/slacktest"
	"github.com/kiranshivaraju/eventsync/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncUsergroups_DiffAddsAndRemovesOnce(t *testing.T) {
	ws := slacktest.New()
	ws.SetUsergroup("S1", "A", "B", "C")
	tenant := newTenant()
	tenant.Usergroups["mentors"] = "S1"
	for _, id := range []string{"B", "C", "D"} {
		addPerson(tenant, id+"@example.com", models.RoleMentor, linked(id))
	}
	r := newReconciler(t, newMemLinks(), ws, reconcile.Options{})

	rep := r.SyncUsergroups(context.Background(), tenant)

	require.True(t, rep.OK())
	assert.Equal(t, 1, rep.Added)
	assert.Equal(t, 1, rep.Removed)

	adds := ws.CallsTo("AddUsergroupMembers")
	require.Len(t, adds, 1)
	assert.Equal(t, []string{"D"}, adds[0].IDs)
	removes := ws.CallsTo("RemoveUsergroupMembers")
	require.Len(t, removes, 1)
	assert.Equal(t, []string{"A"}, removes[0].IDs)
	assert.Equal(t, []string{"B", "C", "D"}, ws.Usergroup("S1"))

	ws.ResetCalls()
	rep = r.SyncUsergroups(context.Background(), tenant)
	assert.Equal(t, 1, rep.Unchanged)
	assert.Empty(t, ws.Mutations())
}

func TestSyncUsergroups_NeverEmptiesGroup(t *testing.T) {
	ws := slacktest.New()
	ws.SetUsergroup("S1", "A", "B")
	tenant := newTenant()
	tenant.Usergroups["mentors"] = "S1"
	addPerson(tenant, "pending@example.com", models.RoleMentor, models.MemberInvited{})

	rep := newReconciler(t, newMemLinks(), ws, reconcile.Options{}).SyncUsergroups(context.Background(), tenant)

	require.True(t, rep.OK())
	assert.Equal(t, 0, rep.Removed)
	assert.Equal(t, 3, rep.Skipped) // the pending person plus two stale members
	assert.Empty(t, ws.Mutations())
	assert.Equal(t, []string{"A", "B"}, ws.Usergroup("S1"))
}

func TestSyncUsergroups_FiltersByRoleAndSkipsUnlinked(t *testing.T) {
	ws := slacktest.New()
	ws.SetUsergroup("S1")
	ws.SetUsergroup("S2")
	tenant := newTenant()
	tenant.Usergroups["mentors"] = "S1"
	tenant.Usergroups["students"] = "S2"
	addPerson(tenant, "m@example.com", models.RoleMentor, linked("UM"))
	addPerson(tenant, "s@example.com", models.RoleStudent, linked("US"))
	addPerson(tenant, "pending@example.com", models.RoleStudent, models.MemberInvited{})
	addPerson(tenant, "r@example.com", models.RoleReviewer, linked("UR"))

	rep := newReconciler(t, newMemLinks(), ws, reconcile.Options{}).SyncUsergroups(context.Background(), tenant)

	require.True(t, rep.OK())
	assert.Equal(t, 2, rep.Checked)
	assert.Equal(t, 1, rep.Skipped)
	assert.Equal(t, []string{"UM"}, ws.Usergroup("S1"))
	assert.Equal(t, []string{"US"}, ws.Usergroup("S2"))
	assert.Empty(t, ws.CallsTo("RemoveUsergroupMembers"))
}

func TestSyncUsergroups_SkipsCohortsWithoutUsergroup(t *testing.T) {
	ws := slacktest.New()
	tenant := newTenant()
	addPerson(tenant, "m@example.com", models.RoleMentor, linked("UM"))

	rep := newReconciler(t, newMemLinks(), ws, reconcile.Options{}).SyncUsergroups(context.Background(), tenant)

	assert.True(t, rep.OK())
	assert.Zero(t, rep.Checked)
	assert.Empty(t, ws.Calls())
}

func TestSyncUsergroups_OneCohortFailingDoesNotStopOthers(t *testing.T) {
	ws := slacktest.New()
	ws.SetUsergroup("S2")
	tenant := newTenant()
	tenant.Usergroups["mentors"] = "S-MISSING"
	tenant.Usergroups["students"] = "S2"
	addPerson(tenant, "s@example.com", models.RoleStudent, linked("US"))

	rep := newReconciler(t, newMemLinks(), ws, reconcile.Options{}).SyncUsergroups(context.Background(), tenant)

	require.Len(t, rep.Failures, 1)
	assert.Equal(t, "mentors", rep.Failures[0].Entity)
	assert.Equal(t, reconcile.NotFound, rep.Failures[0].Category)
	assert.Equal(t, []string{"US"}, ws.Usergroup("S2"))
}

func TestSyncUsergroups_UnauthorizedAborts(t *testing.T) {
	ws := slacktest.New()
	ws.FailOn("GetUsergroupMembers", unauthorized())
	tenant := newTenant()
	tenant.Usergroups["mentors"] = "S1"
	tenant.Usergroups["students"] = "S2"

	rep := newReconciler(t, newMemLinks(), ws, reconcile.Options{}).SyncUsergroups(context.Background(), tenant)

	assert.True(t, rep.Aborted)
	assert.Len(t, ws.Calls(), 1)
}
