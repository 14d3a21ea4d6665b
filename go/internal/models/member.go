package models

import (
	"time"
)

// MemberRole defines which side of a consultation a member is on.
type MemberRole string

const (
	MemberRoleUser    MemberRole = "user"
	MemberRolePartner MemberRole = "partner"
)

// Member represents a user's presence in a room. A user holds at most one
// active connection per room; a rejoin replaces ConnectionID in place.
type Member struct {
	ConnectionID string     `json:"connection_id"`
	UserID       string     `json:"user_id"`
	DisplayName  string     `json:"display_name"`
	Role         MemberRole `json:"role"`
	JoinedAt     time.Time  `json:"joined_at"`
}
