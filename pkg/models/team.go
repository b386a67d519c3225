package models

import (
	"github.com/google/uuid"
)

// Team is a project group that gets its own Slack channel.
type Team struct {
	ID          uuid.UUID   `db:"id"           json:"id"`
	TenantID    uuid.UUID   `db:"event_id"     json:"event_id"`
	DisplayName string      `db:"display_name" json:"display_name"`
	Topic       string      `db:"topic"        json:"topic"`
	IsActive    bool        `db:"is_active"    json:"is_active"`
	MemberIDs   []uuid.UUID `json:"member_ids"`
	Link        ChannelLink `json:"link"`
}
