package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/astromitra/consultroom/go/internal/models"
)

// ChatEvent is the envelope for every named event crossing the WebSocket,
// in both directions. Data carries the type-specific payload.
type ChatEvent struct {
	ID        string          `json:"id"`
	RoomID    string          `json:"room_id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// EventType names an event on the wire.
type EventType string

// Client -> server events.
const (
	EventTypeJoinRoom            EventType = "join_room"
	EventTypeSendMessage         EventType = "send_message"
	EventTypeMessageStatusUpdate EventType = "message_status_update"
	EventTypeStartSession        EventType = "start_session"
	EventTypeRequestSessionState EventType = "request_session_state"
)

// Server -> client events.
const (
	EventTypeRoomHistory    EventType = "room_history"
	EventTypeUserJoined     EventType = "user_joined"
	EventTypeNewMessage     EventType = "new_message"
	EventTypeSessionStarted EventType = "session_started"
	EventTypeNoSession      EventType = "no_session"
	EventTypeSessionTick    EventType = "session_tick"
)

// JoinRoomPayload is the payload for a join_room event.
type JoinRoomPayload struct {
	RoomID   string            `json:"room_id"`
	UserID   string            `json:"user_id"`
	UserName string            `json:"user_name"`
	Role     models.MemberRole `json:"role"`
}

// SendMessagePayload is the payload for a send_message event.
type SendMessagePayload struct {
	RoomID    string            `json:"room_id"`
	MessageID string            `json:"message_id"`
	Text      string            `json:"text"`
	UserID    string            `json:"user_id"`
	UserName  string            `json:"user_name"`
	Role      models.MemberRole `json:"role"`
}

// MessageStatusPayload is the payload for a message_status_update event,
// both inbound from a recipient and relayed back out to the room.
type MessageStatusPayload struct {
	RoomID    string               `json:"room_id"`
	MessageID string               `json:"message_id"`
	Status    models.MessageStatus `json:"status"`
}

// StartSessionPayload is the payload for a start_session event.
type StartSessionPayload struct {
	RoomID      string `json:"room_id"`
	DurationSec int    `json:"duration_sec"`
}

// SessionStatePayload is the payload for a request_session_state event.
type SessionStatePayload struct {
	RoomID string `json:"room_id"`
}

// RoomHistoryPayload carries the full ordered message sequence to a joining
// connection.
type RoomHistoryPayload struct {
	Messages []models.Message `json:"messages"`
}

// UserJoinedPayload announces a new member to the rest of the room.
type UserJoinedPayload struct {
	UserID       string            `json:"user_id"`
	UserName     string            `json:"user_name"`
	Role         models.MemberRole `json:"role"`
	ProfileImage string            `json:"profile_image,omitempty"`
}

// NewMessagePayload carries an appended message to every member, sender
// included so the sender can reconcile its optimistic local copy by id.
type NewMessagePayload struct {
	Message models.Message `json:"message"`
}

// SessionStartedPayload is broadcast on session start and returned to
// request_session_state queries while a session is running.
type SessionStartedPayload struct {
	RoomID       string    `json:"room_id"`
	StartedAt    time.Time `json:"started_at"`
	DurationSec  int       `json:"duration_sec"`
	RemainingSec int       `json:"remaining_sec"`
}

// NoSessionPayload answers a session state query when nothing has started.
type NoSessionPayload struct {
	RoomID string `json:"room_id"`
}

// SessionTickPayload is the periodic countdown broadcast.
type SessionTickPayload struct {
	RoomID       string `json:"room_id"`
	RemainingSec int    `json:"remaining_sec"`
}

// NewEvent builds an envelope around a payload, stamping a fresh event id.
func NewEvent(roomID string, eventType EventType, at time.Time, payload any) (*ChatEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return &ChatEvent{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		Type:      eventType,
		Timestamp: at,
		Data:      data,
	}, nil
}

// decodePayload unmarshals an envelope's data into the given payload struct.
func decodePayload[T any](event *ChatEvent) (T, error) {
	var payload T
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		return payload, fmt.Errorf("decode %s payload: %w", event.Type, err)
	}
	return payload, nil
}
