package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/eventsync/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrLinkConflict is returned when a write would move an entity that is already
// linked to one Slack id onto a different one.
var ErrLinkConflict = errors.New("entity already linked to a different slack id")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	// LoadActiveTenants returns active events with Slack credentials, eager-loaded
	// with people, teams, team members and usergroup ids. Never nil.
	LoadActiveTenants(ctx context.Context) ([]*models.Tenant, error)
	SetPersonLink(ctx context.Context, personID uuid.UUID, link models.MemberLink) error
	SetTeamLink(ctx context.Context, teamID uuid.UUID, link models.ChannelLink) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error
}
