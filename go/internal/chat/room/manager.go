package room

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Config holds room lifecycle policy. The source application never fixed
// these, so they are explicit here: history is capped per room and rooms
// empty of members for IdleTTL are garbage-collected along with any
// associated per-room state registered via OnTeardown.
type Config struct {
	MaxHistory int
	IdleTTL    time.Duration
	GCInterval time.Duration
}

// Manager owns the set of active rooms. Rooms are created lazily on first
// join and looked up by opaque string id. The manager-level lock only guards
// the room map; per-room state serializes on the room's own mutex.
type Manager struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	clock      clockwork.Clock
	config     Config
	onTeardown []func(roomID string)
}

// NewManager creates a room manager with the given lifecycle policy.
func NewManager(config Config, clock clockwork.Clock) *Manager {
	return &Manager{
		rooms:  make(map[string]*Room),
		clock:  clock,
		config: config,
	}
}

// OnTeardown registers a callback invoked after a room is garbage-collected.
// Used to release per-room state held elsewhere (session record, tick task).
func (m *Manager) OnTeardown(fn func(roomID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTeardown = append(m.onTeardown, fn)
}

// GetOrCreate returns the room with the given id, creating an empty one if
// it does not exist. It never fails.
func (m *Manager) GetOrCreate(roomID string) *Room {
	m.mu.RLock()
	r, ok := m.rooms[roomID]
	m.mu.RUnlock()
	if ok {
		return r
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rooms[roomID]; ok {
		return r
	}
	r = newRoom(roomID, m.config.MaxHistory, m.clock.Now())
	m.rooms[roomID] = r
	log.Debug().Str("room_id", roomID).Msg("room created")
	return r
}

// Get returns an existing room without creating one.
func (m *Manager) Get(roomID string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[roomID]
	return r, ok
}

// RoomCount returns the number of live rooms.
func (m *Manager) RoomCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// RemoveConnection drops the membership bound to a connection id across all
// rooms the connection could belong to. History and sessions persist.
func (m *Manager) RemoveConnection(roomID, connectionID string) bool {
	r, ok := m.Get(roomID)
	if !ok {
		return false
	}
	return r.RemoveConnection(connectionID, m.clock.Now())
}

// collectIdle removes rooms that have been empty past the idle TTL and
// returns their ids.
func (m *Manager) collectIdle() []string {
	now := m.clock.Now()

	m.mu.Lock()
	var collected []string
	for id, r := range m.rooms {
		last, members := r.idleSince()
		if members == 0 && now.Sub(last) >= m.config.IdleTTL {
			delete(m.rooms, id)
			collected = append(collected, id)
		}
	}
	callbacks := m.onTeardown
	m.mu.Unlock()

	for _, id := range collected {
		log.Info().Str("room_id", id).Msg("idle room garbage-collected")
		for _, fn := range callbacks {
			fn(id)
		}
	}
	return collected
}
