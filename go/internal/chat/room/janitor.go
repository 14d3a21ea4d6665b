package room

import (
	"context"

	"github.com/rs/zerolog/log"
)

// RunJanitor periodically sweeps idle rooms until the context is cancelled.
// The sweep interval and idle TTL come from the manager's config; the ticker
// runs on the manager's clock so tests can drive it with a fake.
func (m *Manager) RunJanitor(ctx context.Context) {
	interval := m.config.GCInterval
	if interval <= 0 {
		log.Info().Msg("room janitor disabled")
		return
	}

	ticker := m.clock.NewTicker(interval)
	defer ticker.Stop()

	log.Info().
		Dur("interval", interval).
		Dur("idle_ttl", m.config.IdleTTL).
		Msg("room janitor started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("room janitor shutting down")
			return
		case <-ticker.Chan():
			if collected := m.collectIdle(); len(collected) > 0 {
				log.Debug().Int("rooms", len(collected)).Msg("janitor sweep complete")
			}
		}
	}
}
