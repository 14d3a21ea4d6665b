package models

import (
	"time"
)

// MessageStatus defines the delivery lifecycle stage of a chat message.
type MessageStatus string

const (
	MessageStatusSending   MessageStatus = "sending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
)

// statusRank orders statuses for monotonic promotion checks.
var statusRank = map[MessageStatus]int{
	MessageStatusSending:   0,
	MessageStatusSent:      1,
	MessageStatusDelivered: 2,
	MessageStatusRead:      3,
}

// Rank returns the ordinal position of the status in the delivery
// lifecycle, or -1 for an unknown status.
func (s MessageStatus) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// Valid reports whether the status is one of the recognized lifecycle stages.
func (s MessageStatus) Valid() bool {
	return s.Rank() >= 0
}

// Message represents a chat message held in a room's history.
// Everything but Status is immutable once the message is appended;
// the id is client-generated and unique within its room.
type Message struct {
	ID         string        `json:"id"`
	RoomID     string        `json:"room_id"`
	Text       string        `json:"text"`
	SenderID   string        `json:"sender_id"`
	SenderName string        `json:"sender_name"`
	SenderRole MemberRole    `json:"sender_role"`
	Status     MessageStatus `json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
}
