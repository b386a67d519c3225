package models

import (
	"github.com/google/uuid"
)

// Role tags carried by people. They mirror the platform's auth roles that can
// hold a Slack account.
const (
	RoleMentor   = "mentor"
	RoleStudent  = "student"
	RoleReviewer = "reviewer"
	RoleManager  = "manager"
	RolePartner  = "partner"
)

var validRoles = map[string]bool{
	RoleMentor:   true,
	RoleStudent:  true,
	RoleReviewer: true,
	RoleManager:  true,
	RolePartner:  true,
}

// ValidRole reports whether role is a known role tag.
func ValidRole(role string) bool {
	return validRoles[role]
}

// Person is a mentor, student or other participant of an event.
type Person struct {
	ID       uuid.UUID  `db:"id"       json:"id"`
	TenantID uuid.UUID  `db:"event_id" json:"event_id"`
	Email    string     `db:"email"    json:"email"`
	Role     string     `db:"role"     json:"role"`
	Link     MemberLink `json:"link"`
}
