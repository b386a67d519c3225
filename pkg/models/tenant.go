// Package models contains shared data models used across the eventsync codebase.
package models

import (
	"github.com/google/uuid"
)

// Tenant is one active event with its own Slack workspace. Every person and team
// belongs to a tenant. A loaded Tenant is a per-run snapshot: reconcilers only
// update the Link of its people and teams, after the new link is persisted.
type Tenant struct {
	ID               uuid.UUID `db:"id"                 json:"id"`
	Name             string    `db:"name"               json:"name"`
	SlackWorkspaceID string    `db:"slack_workspace_id" json:"slack_workspace_id"`
	SlackAccessToken string    `db:"slack_access_token" json:"-"`
	IsActive         bool      `db:"is_active"          json:"is_active"`

	// Usergroups maps a cohort name to the Slack usergroup id configured for it
	// in this tenant's workspace.
	Usergroups map[string]string `db:"slack_usergroups" json:"slack_usergroups"`

	People []*Person `json:"people"`
	Teams  []*Team   `json:"teams"`
}

// PersonByID returns the tenant's person with the given id, or nil.
func (t *Tenant) PersonByID(id uuid.UUID) *Person {
	for _, p := range t.People {
		if p.ID == id {
			return p
		}
	}
	return nil
}
