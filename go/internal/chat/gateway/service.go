package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/astromitra/consultroom/go/internal/chat/delivery"
	"github.com/astromitra/consultroom/go/internal/chat/room"
	"github.com/astromitra/consultroom/go/internal/chat/session"
	"github.com/astromitra/consultroom/go/internal/models"
)

// EventSink receives every event the gateway broadcasts, off the critical
// path. The NATS bridge implements it; a nil sink disables publishing.
type EventSink interface {
	Publish(roomID string, eventType string, data []byte)
}

// MessageArchiver receives appended messages for asynchronous persistence.
type MessageArchiver interface {
	Enqueue(msg models.Message)
}

// UserProfile is the decoration the user directory returns for a member.
type UserProfile struct {
	ID           string
	Name         string
	ProfileImage string
}

// UserLookup resolves display decoration for a user id. Lookup failures are
// never fatal: the directory is a black-box collaborator and the relay's
// correctness does not depend on it.
type UserLookup interface {
	Lookup(ctx context.Context, userID string) (UserProfile, error)
}

// Config holds configuration for the gateway service.
type Config struct {
	ConnectionConfig ConnectionConfig
	TickInterval     time.Duration // 0 disables session tick broadcasts
	LookupTimeout    time.Duration
}

// DefaultConfig returns default gateway configuration.
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		TickInterval:     time.Second,
		LookupTimeout:    2 * time.Second,
	}
}

// Service wires the connection manager to the room manager, session timer
// and delivery tracker, and routes inbound events between them.
type Service struct {
	cm       *ConnectionManager
	wsform   *WebSocketHandler
	state    *StateHandler
	rooms    *room.Manager
	sessions *session.Manager
	tracker  *delivery.Tracker
	clock    clockwork.Clock
	config   Config

	sink     EventSink
	archiver MessageArchiver
	users    UserLookup

	tickMu      sync.Mutex
	tickCancels map[string]context.CancelFunc
	runCtx      context.Context
}

// NewService creates the gateway service. sink, archiver and users may be
// nil; the corresponding side effects are skipped.
func NewService(config Config, rooms *room.Manager, sessions *session.Manager, tracker *delivery.Tracker, clock clockwork.Clock) *Service {
	s := &Service{
		cm:          NewConnectionManager(config.ConnectionConfig),
		rooms:       rooms,
		sessions:    sessions,
		tracker:     tracker,
		clock:       clock,
		config:      config,
		tickCancels: make(map[string]context.CancelFunc),
	}
	s.wsform = NewWebSocketHandler(s.cm)
	s.state = NewStateHandler(rooms, sessions, clock)
	s.cm.SetInboundHandler(s.handleInbound)
	s.cm.SetDetachHandler(s.handleDetach)
	rooms.OnTeardown(s.handleRoomTeardown)
	return s
}

// SetEventSink attaches the optional broadcast mirror (NATS bridge).
func (s *Service) SetEventSink(sink EventSink) { s.sink = sink }

// SetArchiver attaches the optional asynchronous message archiver.
func (s *Service) SetArchiver(a MessageArchiver) { s.archiver = a }

// SetUserLookup attaches the optional user directory client.
func (s *Service) SetUserLookup(u UserLookup) { s.users = u }

// Start runs the gateway until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting chat gateway service")
	s.tickMu.Lock()
	s.runCtx = ctx
	s.tickMu.Unlock()

	go s.cm.Start(ctx)
	go s.rooms.RunJanitor(ctx)

	<-ctx.Done()

	s.tickMu.Lock()
	for roomID, cancel := range s.tickCancels {
		cancel()
		delete(s.tickCancels, roomID)
	}
	s.tickMu.Unlock()

	log.Info().Msg("chat gateway service stopped")
	return nil
}

// RegisterRoutes registers the WebSocket and room-state HTTP routes.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsform.RegisterRoutes(mux)
	s.state.RegisterStateRoutes(mux)
	log.Info().Msg("chat gateway routes registered")
}

// GetStats returns connection statistics for the stats endpoint.
func (s *Service) GetStats() Stats {
	return s.cm.GetConnectionStats()
}

// broadcast fans an event out to the room and mirrors it to the sink.
func (s *Service) broadcast(roomID string, event *ChatEvent) {
	s.cm.BroadcastToRoom(roomID, event)
	if s.sink != nil {
		s.sink.Publish(roomID, string(event.Type), event.Data)
	}
}

// handleDetach removes room membership when a connection drops. History and
// session state persist until the janitor collects the room.
func (s *Service) handleDetach(conn *Connection) {
	if conn.RoomID == "" {
		return
	}
	s.rooms.RemoveConnection(conn.RoomID, conn.ID)
}

// handleRoomTeardown releases per-room state after garbage collection.
func (s *Service) handleRoomTeardown(roomID string) {
	s.sessions.Remove(roomID)
	s.stopTicker(roomID)
}

// startTicker launches the per-room countdown broadcast task. Idempotent per
// room; the task stops itself at expiry and is cancelled on teardown.
func (s *Service) startTicker(roomID string) {
	if s.config.TickInterval <= 0 {
		return
	}

	s.tickMu.Lock()
	if s.runCtx == nil {
		s.tickMu.Unlock()
		return
	}
	if _, running := s.tickCancels[roomID]; running {
		s.tickMu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(s.runCtx)
	s.tickCancels[roomID] = cancel
	s.tickMu.Unlock()

	go func() {
		defer s.stopTicker(roomID)
		s.sessions.RunTicker(ctx, roomID, s.config.TickInterval, func(remaining time.Duration) {
			event, err := NewEvent(roomID, EventTypeSessionTick, s.clock.Now(), SessionTickPayload{
				RoomID:       roomID,
				RemainingSec: int(remaining.Seconds()),
			})
			if err != nil {
				log.Error().Err(err).Str("room_id", roomID).Msg("failed to build session tick")
				return
			}
			s.cm.BroadcastToRoom(roomID, event)
		})
	}()
}

func (s *Service) stopTicker(roomID string) {
	s.tickMu.Lock()
	if cancel, ok := s.tickCancels[roomID]; ok {
		cancel()
		delete(s.tickCancels, roomID)
	}
	s.tickMu.Unlock()
}
