package room

import (
	"sync"
	"time"

	"github.com/astromitra/consultroom/go/internal/models"
)

// Room is the authoritative owner of one conversation: its member set and
// its ordered, append-only message history. All mutation goes through the
// room's own mutex so concurrent joins and sends serialize per room, never
// globally.
type Room struct {
	id string

	mu       sync.Mutex
	members  map[string]*models.Member // keyed by user id
	messages []*models.Message
	byID     map[string]*models.Message
	lastSeen time.Time

	maxHistory int
}

func newRoom(id string, maxHistory int, now time.Time) *Room {
	return &Room{
		id:         id,
		members:    make(map[string]*models.Member),
		byID:       make(map[string]*models.Message),
		lastSeen:   now,
		maxHistory: maxHistory,
	}
}

// ID returns the room's opaque identifier.
func (r *Room) ID() string {
	return r.id
}

// Join registers a member. A second join from the same user id updates the
// stored connection reference in place rather than duplicating the member.
// It returns the connection id that was replaced, if any.
func (r *Room) Join(m models.Member) (replaced string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.members[m.UserID]; ok && prev.ConnectionID != m.ConnectionID {
		replaced = prev.ConnectionID
	}
	stored := m
	r.members[m.UserID] = &stored
	r.lastSeen = m.JoinedAt
	return replaced
}

// RemoveConnection drops the member bound to the given connection id.
// Message history is untouched. It reports whether a member was removed.
func (r *Room) RemoveConnection(connectionID string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for userID, m := range r.members {
		if m.ConnectionID == connectionID {
			delete(r.members, userID)
			r.lastSeen = now
			return true
		}
	}
	return false
}

// Member returns the member record for a user id, if present.
func (r *Room) Member(userID string) (models.Member, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[userID]
	if !ok {
		return models.Member{}, false
	}
	return *m, true
}

// MemberCount returns the number of active members.
func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Append adds a message to the history in arrival order. A message whose id
// already exists in the room is treated as a benign retry: nothing is
// inserted and the stored message is returned with appended=false.
func (r *Room) Append(msg models.Message) (models.Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byID[msg.ID]; ok {
		return *existing, false
	}

	stored := msg
	r.messages = append(r.messages, &stored)
	r.byID[stored.ID] = &stored
	r.lastSeen = stored.CreatedAt

	// Cap history oldest-first. Evicted messages stay resolvable for status
	// updates only if still indexed, so drop them from the index too.
	if r.maxHistory > 0 && len(r.messages) > r.maxHistory {
		evicted := r.messages[0]
		r.messages = r.messages[1:]
		delete(r.byID, evicted.ID)
	}

	return stored, true
}

// History returns a copy of the full ordered message sequence.
func (r *Room) History() []models.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.Message, len(r.messages))
	for i, m := range r.messages {
		out[i] = *m
	}
	return out
}

// MessageCount returns the current history length.
func (r *Room) MessageCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

// AdvanceStatus promotes the status of a message when the allow rule accepts
// the transition. Unknown messages and rejected transitions report false.
func (r *Room) AdvanceStatus(messageID string, next models.MessageStatus, allow func(from, to models.MessageStatus) bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg, ok := r.byID[messageID]
	if !ok {
		return false
	}
	if !allow(msg.Status, next) {
		return false
	}
	msg.Status = next
	return true
}

// idleSince reports the last instant the room saw a join, leave or append.
func (r *Room) idleSince() (time.Time, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSeen, len(r.members)
}
