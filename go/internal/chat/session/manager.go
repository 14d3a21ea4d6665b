// Package session tracks the consultation countdown attached to a room.
//
// A session is a {startTime, duration} record; the end time is fixed the
// moment it starts. Remaining time is derived on demand from the clock, so
// expiry needs no stored state and no server-side action: the countdown is
// purely informational and both participants observe the same window.
package session

import (
	"sync"

	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/astromitra/consultroom/go/internal/models"
)

// Manager owns the per-room session records. It is the only writer: the
// records are mutated exclusively through its serialized operations.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]models.Session

	clock clockwork.Clock
}

// NewManager creates a session manager on the given clock.
func NewManager(clock clockwork.Clock) *Manager {
	return &Manager{
		sessions: make(map[string]models.Session),
		clock:    clock,
	}
}

// Start begins the countdown for a room, recording startTime = now. If a
// session is already running the call is a no-op that returns the existing
// record, so a second participant's start request never resets the shared
// countdown. started reports whether this call created the session.
func (m *Manager) Start(roomID string, duration time.Duration) (models.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[roomID]; ok {
		log.Debug().
			Str("room_id", roomID).
			Time("started_at", existing.StartedAt).
			Msg("session already running, reusing existing record")
		return existing, false
	}

	s := models.Session{
		RoomID:    roomID,
		StartedAt: m.clock.Now(),
		Duration:  duration,
	}
	m.sessions[roomID] = s

	log.Info().
		Str("room_id", roomID).
		Dur("duration", duration).
		Msg("session started")
	return s, true
}

// Get returns the session for a room, if one has been started.
func (m *Manager) Get(roomID string) (models.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[roomID]
	return s, ok
}

// Remaining computes the time left for a room's session right now. ok is
// false when no session exists.
func (m *Manager) Remaining(roomID string) (time.Duration, bool) {
	s, ok := m.Get(roomID)
	if !ok {
		return 0, false
	}
	return s.Remaining(m.clock.Now()), true
}

// Remove drops a room's session record. Called on room teardown.
func (m *Manager) Remove(roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, roomID)
}

// Now exposes the manager's clock reading for callers that must stamp
// payloads consistently with session math.
func (m *Manager) Now() time.Time {
	return m.clock.Now()
}
