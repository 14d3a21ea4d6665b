package models

import (
	"time"
)

// Session is a bounded-duration consultation countdown attached to a room.
// The end time is fixed at StartedAt + Duration; repeated start requests
// never move it.
type Session struct {
	RoomID    string        `json:"room_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// EndsAt returns the fixed expiry instant of the session.
func (s Session) EndsAt() time.Time {
	return s.StartedAt.Add(s.Duration)
}

// Remaining computes the time left at the given instant. Expiry is a derived
// condition: the result is clamped at zero and never goes negative.
func (s Session) Remaining(now time.Time) time.Duration {
	r := s.EndsAt().Sub(now)
	if r < 0 {
		return 0
	}
	return r
}

// Expired reports whether the session has run out at the given instant.
func (s Session) Expired(now time.Time) bool {
	return s.Remaining(now) == 0
}
