package scheduler_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/eventsync/internal/cache"
	"github.com/kiranshivaraju/eventsync/internal/cohort"
	"github.com/kiranshivaraju/eventsync/internal/reconcile"
	"github.com/kiranshivaraju/eventsync/internal/slack/slacktest"
	"github.com/kiranshivaraju/eventsync/pkg/models"
)

// memCache is an in-memory cache.Cache. TTLs are recorded, not enforced.
type memCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	ttls    map[string]time.Duration
	extends int
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte), ttls: make(map[string]time.Duration)}
}

func (m *memCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memCache) Ping(_ context.Context) error { return nil }

func (m *memCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 1, nil
}

func (m *memCache) AcquireLock(_ context.Context, key, token string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.data[key]; held {
		return false, nil
	}
	m.data[key] = []byte(token)
	m.ttls[key] = ttl
	return true, nil
}

func (m *memCache) ExtendLock(_ context.Context, key, token string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if string(m.data[key]) != token {
		return cache.ErrLockNotHeld
	}
	m.ttls[key] = ttl
	m.extends++
	return nil
}

func (m *memCache) extendCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.extends
}

// steal hands key to another holder, as if the lock had expired and been
// taken elsewhere.
func (m *memCache) steal(key, token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = []byte(token)
}

func (m *memCache) ReleaseLock(_ context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if string(m.data[key]) != token {
		return cache.ErrLockNotHeld
	}
	delete(m.data, key)
	return nil
}

func (m *memCache) keys(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.data {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, k)
		}
	}
	return out
}

// staticTenants serves a fixed tenant list.
type staticTenants struct {
	tenants []*models.Tenant
	err     error
	calls   int
	mu      sync.Mutex
}

func (s *staticTenants) LoadActiveTenants(_ context.Context) ([]*models.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.tenants, s.err
}

// slowTenants holds the run open until release is closed.
type slowTenants struct {
	started chan struct{}
	release chan struct{}
}

func newSlowTenants() *slowTenants {
	return &slowTenants{started: make(chan struct{}), release: make(chan struct{})}
}

func (s *slowTenants) LoadActiveTenants(ctx context.Context) ([]*models.Tenant, error) {
	close(s.started)
	select {
	case <-s.release:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type nopLinks struct{}

func (nopLinks) SetPersonLink(context.Context, uuid.UUID, models.MemberLink) error  { return nil }
func (nopLinks) SetTeamLink(context.Context, uuid.UUID, models.ChannelLink) error { return nil }

type cohortDefs []cohort.Definition

func (d cohortDefs) Resolve(t *models.Tenant) []models.Cohort { return cohort.Resolve(d, t) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTenant builds a tenant with one unlinked mentor, one team and one
// configured usergroup, and seeds its workspace.
func newTenant(ws *slacktest.Workspaces, name string) *models.Tenant {
	t := &models.Tenant{
		ID:               uuid.New(),
		Name:             name,
		SlackWorkspaceID: "T-" + name,
		SlackAccessToken: "xoxb-" + name,
		IsActive:         true,
		Usergroups:       map[string]string{"mentors": "S-" + name},
	}
	p := &models.Person{ID: uuid.New(), TenantID: t.ID, Email: "mentor@" + name + ".example", Role: models.RoleMentor}
	t.People = []*models.Person{p}
	t.Teams = []*models.Team{{
		ID: uuid.New(), TenantID: t.ID, DisplayName: "Team " + name, IsActive: true,
		MemberIDs: []uuid.UUID{p.ID},
	}}
	ws.Get(t.ID).SetUsergroup("S-" + name)
	return t
}

func newSteps(ws *slacktest.Workspaces) *reconcile.Reconciler {
	return reconcile.New(nopLinks{}, ws,
		cohortDefs{{Name: "mentors", Roles: []string{models.RoleMentor}}},
		reconcile.Options{}, discardLogger())
}
