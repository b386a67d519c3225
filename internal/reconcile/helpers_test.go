package reconcile_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/eventsync/internal/cohort"
	"github.com/kiranshivaraju/eventsync/internal/reconcile"
	"github.com/kiranshivaraju/eventsync/internal/slack"
	"github.com/kiranshivaraju/eventsync/internal/slack/slacktest"
	"github.com/kiranshivaraju/eventsync/pkg/models"
	"github.com/stretchr/testify/mock"
)

// memLinks is an in-memory LinkWriter.
type memLinks struct {
	mu       sync.Mutex
	people   map[uuid.UUID]models.MemberLink
	teams    map[uuid.UUID]models.ChannelLink
	personWr int
	teamWr   int
}

func newMemLinks() *memLinks {
	return &memLinks{
		people: make(map[uuid.UUID]models.MemberLink),
		teams:  make(map[uuid.UUID]models.ChannelLink),
	}
}

func (m *memLinks) SetPersonLink(_ context.Context, id uuid.UUID, link models.MemberLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.people[id] = link
	m.personWr++
	return nil
}

func (m *memLinks) SetTeamLink(_ context.Context, id uuid.UUID, link models.ChannelLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teams[id] = link
	m.teamWr++
	return nil
}

// mockLinks is a testify mock LinkWriter.
type mockLinks struct {
	mock.Mock
}

func (m *mockLinks) SetPersonLink(ctx context.Context, id uuid.UUID, link models.MemberLink) error {
	return m.Called(ctx, id, link).Error(0)
}

func (m *mockLinks) SetTeamLink(ctx context.Context, id uuid.UUID, link models.ChannelLink) error {
	return m.Called(ctx, id, link).Error(0)
}

// cohortDefs resolves a fixed set of definitions.
type cohortDefs []cohort.Definition

func (d cohortDefs) Resolve(t *models.Tenant) []models.Cohort {
	return cohort.Resolve(d, t)
}

var defaultCohorts = cohortDefs{
	{Name: "mentors", Roles: []string{models.RoleMentor}},
	{Name: "students", Roles: []string{models.RoleStudent}},
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newReconciler(t *testing.T, links reconcile.LinkWriter, ws reconcile.ClientSource, opts reconcile.Options) *reconcile.Reconciler {
	t.Helper()
	return reconcile.New(links, ws, defaultCohorts, opts, discardLogger())
}

func newTenant() *models.Tenant {
	return &models.Tenant{
		ID:               uuid.New(),
		Name:             "spring",
		SlackWorkspaceID: "T0001",
		SlackAccessToken: "xoxb-test",
		IsActive:         true,
		Usergroups:       map[string]string{},
	}
}

func addPerson(t *models.Tenant, email, role string, link models.MemberLink) *models.Person {
	p := &models.Person{ID: uuid.New(), TenantID: t.ID, Email: email, Role: role, Link: link}
	t.People = append(t.People, p)
	return p
}

func addTeam(t *models.Tenant, name, topic string, link models.ChannelLink, members ...*models.Person) *models.Team {
	tm := &models.Team{ID: uuid.New(), TenantID: t.ID, DisplayName: name, Topic: topic, IsActive: true, Link: link}
	for _, m := range members {
		tm.MemberIDs = append(tm.MemberIDs, m.ID)
	}
	t.Teams = append(t.Teams, tm)
	return tm
}

func linked(id string) models.MemberLink {
	return models.MemberLinked{UserID: id}
}

func unauthorized() error {
	return &slack.APIError{Kind: slack.KindUnauthorized, Method: "auth", Code: "invalid_auth"}
}

func transient() error {
	return &slack.APIError{Kind: slack.KindTransient, Method: "any", Code: "internal_error"}
}

func methods(calls []slacktest.Call) []string {
	out := make([]string, 0, len(calls))
	for _, c := range calls {
		out = append(out, c.Method)
	}
	return out
}
