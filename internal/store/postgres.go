package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/eventsync/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Tenants ---

// LoadActiveTenants reads every syncable event and its people and teams inside
// one read-only snapshot, so a tenant never mixes rows from different commits.
func (s *PostgresStore) LoadActiveTenants(ctx context.Context) ([]*models.Tenant, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("begin tenant snapshot: %w", err)
	}
	defer tx.Rollback(ctx)

	tenants, err := loadTenants(ctx, tx)
	if err != nil {
		return nil, err
	}
	if len(tenants) == 0 {
		return []*models.Tenant{}, nil
	}

	byID := make(map[uuid.UUID]*models.Tenant, len(tenants))
	ids := make([]uuid.UUID, 0, len(tenants))
	for _, t := range tenants {
		byID[t.ID] = t
		ids = append(ids, t.ID)
	}

	if err := loadPeople(ctx, tx, ids, byID); err != nil {
		return nil, err
	}
	teams, err := loadTeams(ctx, tx, ids, byID)
	if err != nil {
		return nil, err
	}
	if err := loadTeamMembers(ctx, tx, ids, teams); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("close tenant snapshot: %w", err)
	}
	return tenants, nil
}

func loadTenants(ctx context.Context, tx pgx.Tx) ([]*models.Tenant, error) {
	rows, err := tx.Query(ctx,
		`SELECT id, name, slack_workspace_id, slack_access_token, slack_usergroups
		 FROM events
		 WHERE is_active AND slack_workspace_id IS NOT NULL AND slack_access_token IS NOT NULL
		 ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("load active tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*models.Tenant
	for rows.Next() {
		t := &models.Tenant{IsActive: true}
		if err := rows.Scan(&t.ID, &t.Name, &t.SlackWorkspaceID, &t.SlackAccessToken, &t.Usergroups); err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		if t.Usergroups == nil {
			t.Usergroups = map[string]string{}
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

func loadPeople(ctx context.Context, tx pgx.Tx, ids []uuid.UUID, byID map[uuid.UUID]*models.Tenant) error {
	rows, err := tx.Query(ctx,
		`SELECT id, event_id, email, role, slack_user_id, slack_username, slack_invited_at
		 FROM people WHERE event_id = ANY($1::uuid[]) ORDER BY created_at, id`, ids)
	if err != nil {
		return fmt.Errorf("load people: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p models.Person
		var cols memberColumns
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Email, &p.Role,
			&cols.UserID, &cols.Username, &cols.InvitedAt); err != nil {
			return fmt.Errorf("scan person: %w", err)
		}
		p.Link = memberLinkFromColumns(cols)
		if t := byID[p.TenantID]; t != nil {
			t.People = append(t.People, &p)
		}
	}
	return rows.Err()
}

func loadTeams(ctx context.Context, tx pgx.Tx, ids []uuid.UUID, byID map[uuid.UUID]*models.Tenant) (map[uuid.UUID]*models.Team, error) {
	rows, err := tx.Query(ctx,
		`SELECT id, event_id, display_name, topic, is_active,
		        slack_channel_id, slack_channel_name, slack_channel_topic, slack_channel_archived
		 FROM teams WHERE event_id = ANY($1::uuid[]) ORDER BY created_at, id`, ids)
	if err != nil {
		return nil, fmt.Errorf("load teams: %w", err)
	}
	defer rows.Close()

	teams := make(map[uuid.UUID]*models.Team)
	for rows.Next() {
		var tm models.Team
		var cols channelColumns
		if err := rows.Scan(&tm.ID, &tm.TenantID, &tm.DisplayName, &tm.Topic, &tm.IsActive,
			&cols.ChannelID, &cols.Name, &cols.Topic, &cols.Archived); err != nil {
			return nil, fmt.Errorf("scan team: %w", err)
		}
		tm.Link = channelLinkFromColumns(cols)
		teams[tm.ID] = &tm
		if t := byID[tm.TenantID]; t != nil {
			t.Teams = append(t.Teams, &tm)
		}
	}
	return teams, rows.Err()
}

func loadTeamMembers(ctx context.Context, tx pgx.Tx, ids []uuid.UUID, teams map[uuid.UUID]*models.Team) error {
	rows, err := tx.Query(ctx,
		`SELECT tm.team_id, tm.person_id
		 FROM team_members tm JOIN teams t ON t.id = tm.team_id
		 WHERE t.event_id = ANY($1::uuid[])
		 ORDER BY tm.team_id, tm.person_id`, ids)
	if err != nil {
		return fmt.Errorf("load team members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var teamID, personID uuid.UUID
		if err := rows.Scan(&teamID, &personID); err != nil {
			return fmt.Errorf("scan team member: %w", err)
		}
		if tm := teams[teamID]; tm != nil {
			tm.MemberIDs = append(tm.MemberIDs, personID)
		}
	}
	return rows.Err()
}

// --- Link writes ---

// SetPersonLink persists a person's Slack link. A person already linked to a
// different Slack user is never relinked.
func (s *PostgresStore) SetPersonLink(ctx context.Context, personID uuid.UUID, link models.MemberLink) error {
	cols := memberLinkToColumns(link)
	tag, err := s.pool.Exec(ctx,
		`UPDATE people
		 SET slack_user_id = $2, slack_username = $3, slack_invited_at = $4, updated_at = NOW()
		 WHERE id = $1 AND (slack_user_id IS NULL OR slack_user_id = $2)`,
		personID, cols.UserID, cols.Username, cols.InvitedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("set person link: %w", ErrDuplicateKey)
		}
		return fmt.Errorf("set person link: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrConflict(ctx, `SELECT EXISTS (SELECT 1 FROM people WHERE id = $1)`, personID)
	}
	return nil
}

// SetTeamLink persists a team's channel link and the name/topic last synced.
func (s *PostgresStore) SetTeamLink(ctx context.Context, teamID uuid.UUID, link models.ChannelLink) error {
	cols := channelLinkToColumns(link)
	tag, err := s.pool.Exec(ctx,
		`UPDATE teams
		 SET slack_channel_id = $2, slack_channel_name = $3, slack_channel_topic = $4,
		     slack_channel_archived = $5, updated_at = NOW()
		 WHERE id = $1 AND (slack_channel_id IS NULL OR slack_channel_id = $2)`,
		teamID, cols.ChannelID, cols.Name, cols.Topic, cols.Archived)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("set team link: %w", ErrDuplicateKey)
		}
		return fmt.Errorf("set team link: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrConflict(ctx, `SELECT EXISTS (SELECT 1 FROM teams WHERE id = $1)`, teamID)
	}
	return nil
}

func (s *PostgresStore) missingOrConflict(ctx context.Context, existsQuery string, id uuid.UUID) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, existsQuery, id).Scan(&exists); err != nil {
		return fmt.Errorf("check entity: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrLinkConflict
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	return scanAPIKeys(rows)
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE deleted_at IS NULL ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	return scanAPIKeys(rows)
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAPIKeys(rows pgx.Rows) ([]*models.APIKey, error) {
	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

var _ Store = (*PostgresStore)(nil)
