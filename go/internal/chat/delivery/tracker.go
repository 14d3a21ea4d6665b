// Package delivery enforces the message status lifecycle:
// sending -> sent -> delivered -> read, strictly monotonic.
//
// The server never infers delivered/read from connectivity; recipients
// report those transitions explicitly and the tracker merely validates and
// applies them before they are relayed to the room.
package delivery

import (
	"github.com/rs/zerolog/log"

	"github.com/astromitra/consultroom/go/internal/models"
)

// Target is the slice of room behavior the tracker needs: status promotion
// guarded by a transition rule. *room.Room satisfies it.
type Target interface {
	AdvanceStatus(messageID string, next models.MessageStatus, allow func(from, to models.MessageStatus) bool) bool
}

// Tracker validates status transitions for messages held by rooms.
type Tracker struct{}

// NewTracker creates a delivery tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// CanAdvance reports whether a transition respects the monotonic lifecycle.
// Repeating the current status or moving backward is rejected.
func (t *Tracker) CanAdvance(from, to models.MessageStatus) bool {
	return to.Valid() && from.Valid() && to.Rank() > from.Rank()
}

// Apply promotes a message's status on the target room. Unknown messages,
// unknown statuses and backward transitions are dropped as benign retries
// and reported as false; only an accepted transition should be rebroadcast.
func (t *Tracker) Apply(target Target, messageID string, next models.MessageStatus) bool {
	if !next.Valid() {
		log.Debug().
			Str("message_id", messageID).
			Str("status", string(next)).
			Msg("ignoring unknown delivery status")
		return false
	}
	return target.AdvanceStatus(messageID, next, t.CanAdvance)
}
