package session

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// RunTicker pushes the remaining countdown for one room's session at the
// given interval until the session expires or the context is cancelled.
// The final tick carries zero. The caller owns the context and cancels it on
// room teardown; the server keeps no other per-session timer state.
func (m *Manager) RunTicker(ctx context.Context, roomID string, interval time.Duration, onTick func(remaining time.Duration)) {
	ticker := m.clock.NewTicker(interval)
	defer ticker.Stop()

	log.Debug().Str("room_id", roomID).Dur("interval", interval).Msg("session ticker started")

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("room_id", roomID).Msg("session ticker cancelled")
			return
		case <-ticker.Chan():
			remaining, ok := m.Remaining(roomID)
			if !ok {
				return
			}
			onTick(remaining)
			if remaining == 0 {
				log.Debug().Str("room_id", roomID).Msg("session expired, ticker stopping")
				return
			}
		}
	}
}
