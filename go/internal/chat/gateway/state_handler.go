package gateway

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/astromitra/consultroom/go/internal/chat/room"
	"github.com/astromitra/consultroom/go/internal/chat/session"
)

// RoomStateResponse is the HTTP view of a room: membership, history length
// and the session countdown, with remaining computed at response time.
type RoomStateResponse struct {
	RoomID       string            `json:"room_id"`
	MemberCount  int               `json:"member_count"`
	MessageCount int               `json:"message_count"`
	Session      *SessionStateInfo `json:"session,omitempty"`
}

// SessionStateInfo mirrors the session record plus the derived countdown.
type SessionStateInfo struct {
	StartedAt    time.Time `json:"started_at"`
	DurationSec  int       `json:"duration_sec"`
	RemainingSec int       `json:"remaining_sec"`
	Expired      bool      `json:"expired"`
}

// StateHandler serves read-only room state over HTTP so the surrounding web
// application can render a room without holding a WebSocket.
type StateHandler struct {
	rooms    *room.Manager
	sessions *session.Manager
	clock    clockwork.Clock
}

// NewStateHandler creates a new state handler.
func NewStateHandler(rooms *room.Manager, sessions *session.Manager, clock clockwork.Clock) *StateHandler {
	return &StateHandler{
		rooms:    rooms,
		sessions: sessions,
		clock:    clock,
	}
}

// HandleGetRoomState handles GET /api/rooms/{id}/state.
func (h *StateHandler) HandleGetRoomState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	roomID := extractRoomIDFromPath(r.URL.Path)
	if roomID == "" {
		http.Error(w, "Room ID is required", http.StatusBadRequest)
		return
	}

	rm, ok := h.rooms.Get(roomID)
	if !ok {
		http.NotFound(w, r)
		return
	}

	resp := RoomStateResponse{
		RoomID:       roomID,
		MemberCount:  rm.MemberCount(),
		MessageCount: rm.MessageCount(),
	}
	if sess, ok := h.sessions.Get(roomID); ok {
		now := h.clock.Now()
		resp.Session = &SessionStateInfo{
			StartedAt:    sess.StartedAt,
			DurationSec:  int(sess.Duration.Seconds()),
			RemainingSec: int(sess.Remaining(now).Seconds()),
			Expired:      sess.Expired(now),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Msg("failed to encode room state response")
	}
}

// RegisterStateRoutes registers state-related HTTP routes.
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/rooms/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/state") {
			h.HandleGetRoomState(w, r)
		} else {
			http.NotFound(w, r)
		}
	})
}

// extractRoomIDFromPath extracts the room id from /api/rooms/{id}/state.
func extractRoomIDFromPath(path string) string {
	const prefix = "/api/rooms/"
	const suffix = "/state"

	if !strings.HasPrefix(path, prefix) || !strings.HasSuffix(path, suffix) {
		return ""
	}
	id := path[len(prefix) : len(path)-len(suffix)]
	if strings.Contains(id, "/") {
		return ""
	}
	return id
}
