package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/astromitra/consultroom/go/internal/metrics"
	"github.com/astromitra/consultroom/go/internal/models"
)

// handleInbound interprets one client frame. Invalid operations are dropped
// without an error event: the only contract with the client is the presence
// or absence of the expected broadcast.
func (s *Service) handleInbound(conn *Connection, frame []byte) {
	var event ChatEvent
	if err := json.Unmarshal(frame, &event); err != nil {
		log.Debug().
			Err(err).
			Str("connection_id", conn.ID).
			Msg("rejecting malformed frame")
		return
	}

	switch event.Type {
	case EventTypeJoinRoom:
		s.handleJoinRoom(conn, &event)
	case EventTypeSendMessage:
		s.handleSendMessage(conn, &event)
	case EventTypeMessageStatusUpdate:
		s.handleStatusUpdate(conn, &event)
	case EventTypeStartSession:
		s.handleStartSession(conn, &event)
	case EventTypeRequestSessionState:
		s.handleSessionStateRequest(conn, &event)
	default:
		log.Debug().
			Str("connection_id", conn.ID).
			Str("event_type", string(event.Type)).
			Msg("ignoring unknown event type")
	}
}

func (s *Service) handleJoinRoom(conn *Connection, event *ChatEvent) {
	payload, err := decodePayload[JoinRoomPayload](event)
	if err != nil {
		log.Debug().Err(err).Str("connection_id", conn.ID).Msg("rejecting join_room")
		return
	}
	if payload.RoomID == "" || payload.UserID == "" {
		log.Debug().Str("connection_id", conn.ID).Msg("rejecting join_room with missing identity")
		return
	}
	if payload.Role != models.MemberRoleUser && payload.Role != models.MemberRolePartner {
		payload.Role = models.MemberRoleUser
	}

	r := s.rooms.GetOrCreate(payload.RoomID)
	r.Join(models.Member{
		ConnectionID: conn.ID,
		UserID:       payload.UserID,
		DisplayName:  payload.UserName,
		Role:         payload.Role,
		JoinedAt:     s.clock.Now(),
	})
	s.cm.Attach(conn, payload.RoomID, payload.UserID, string(payload.Role))
	metrics.RoomsActive.Set(float64(s.rooms.RoomCount()))

	// Full ordered history goes to the joining connection only.
	history, err := NewEvent(payload.RoomID, EventTypeRoomHistory, s.clock.Now(), RoomHistoryPayload{
		Messages: r.History(),
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to build room_history")
		return
	}
	s.cm.SendToConnection(conn, history)

	joined := UserJoinedPayload{
		UserID:   payload.UserID,
		UserName: payload.UserName,
		Role:     payload.Role,
	}
	if s.users == nil {
		s.announceJoin(payload.RoomID, conn.ID, joined)
	} else {
		// Resolve the profile off the read loop so a slow directory cannot
		// stall this client's subsequent inbound events.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.config.LookupTimeout)
			profile, err := s.users.Lookup(ctx, joined.UserID)
			cancel()
			if err != nil {
				log.Debug().Err(err).Str("user_id", joined.UserID).Msg("user directory lookup failed")
			} else {
				joined.ProfileImage = profile.ProfileImage
				if joined.UserName == "" {
					joined.UserName = profile.Name
				}
			}
			s.announceJoin(payload.RoomID, conn.ID, joined)
		}()
	}

	log.Info().
		Str("room_id", payload.RoomID).
		Str("user_id", payload.UserID).
		Str("role", string(payload.Role)).
		Msg("user joined room")
}

// announceJoin broadcasts user_joined to everyone but the joining connection
// and mirrors it to the event sink.
func (s *Service) announceJoin(roomID, joinerConnID string, joined UserJoinedPayload) {
	announce, err := NewEvent(roomID, EventTypeUserJoined, s.clock.Now(), joined)
	if err != nil {
		log.Error().Err(err).Msg("failed to build user_joined")
		return
	}
	s.cm.BroadcastToRoomExcept(roomID, joinerConnID, announce)
	if s.sink != nil {
		s.sink.Publish(roomID, string(EventTypeUserJoined), announce.Data)
	}
}

func (s *Service) handleSendMessage(conn *Connection, event *ChatEvent) {
	payload, err := decodePayload[SendMessagePayload](event)
	if err != nil {
		log.Debug().Err(err).Str("connection_id", conn.ID).Msg("rejecting send_message")
		return
	}
	if payload.Text == "" || payload.MessageID == "" {
		log.Debug().Str("connection_id", conn.ID).Msg("dropping empty send_message")
		return
	}

	// Membership is required: no join, no broadcast.
	r, ok := s.rooms.Get(payload.RoomID)
	if !ok || conn.RoomID != payload.RoomID {
		log.Debug().
			Str("connection_id", conn.ID).
			Str("room_id", payload.RoomID).
			Msg("dropping send_message from non-member")
		return
	}
	if _, member := r.Member(payload.UserID); !member {
		log.Debug().
			Str("room_id", payload.RoomID).
			Str("user_id", payload.UserID).
			Msg("dropping send_message from unknown user")
		return
	}

	// The sender marked the message "sending" locally; a successful append
	// promotes it to "sent" for every observer.
	msg, appended := r.Append(models.Message{
		ID:         payload.MessageID,
		RoomID:     payload.RoomID,
		Text:       payload.Text,
		SenderID:   payload.UserID,
		SenderName: payload.UserName,
		SenderRole: payload.Role,
		Status:     models.MessageStatusSent,
		CreatedAt:  s.clock.Now(),
	})
	if !appended {
		metrics.MessagesDeduplicated.Inc()
		log.Debug().
			Str("room_id", payload.RoomID).
			Str("message_id", payload.MessageID).
			Msg("duplicate message id, treating as retry")
		return
	}
	metrics.MessagesRelayed.Inc()

	out, err := NewEvent(payload.RoomID, EventTypeNewMessage, msg.CreatedAt, NewMessagePayload{Message: msg})
	if err != nil {
		log.Error().Err(err).Msg("failed to build new_message")
		return
	}
	// Sender included in the fan-out so it can reconcile its local copy.
	s.broadcast(payload.RoomID, out)

	if s.archiver != nil {
		s.archiver.Enqueue(msg)
	}
}

func (s *Service) handleStatusUpdate(conn *Connection, event *ChatEvent) {
	payload, err := decodePayload[MessageStatusPayload](event)
	if err != nil {
		log.Debug().Err(err).Str("connection_id", conn.ID).Msg("rejecting message_status_update")
		return
	}
	roomID := payload.RoomID
	if roomID == "" {
		roomID = conn.RoomID
	}

	r, ok := s.rooms.Get(roomID)
	if !ok {
		log.Debug().Str("room_id", roomID).Msg("dropping status update for unknown room")
		return
	}

	if !s.tracker.Apply(r, payload.MessageID, payload.Status) {
		metrics.StatusUpdatesRejected.Inc()
		return
	}
	metrics.StatusUpdatesApplied.WithLabelValues(string(payload.Status)).Inc()

	out, err := NewEvent(roomID, EventTypeMessageStatusUpdate, s.clock.Now(), MessageStatusPayload{
		RoomID:    roomID,
		MessageID: payload.MessageID,
		Status:    payload.Status,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to build message_status_update")
		return
	}
	s.broadcast(roomID, out)
}

func (s *Service) handleStartSession(conn *Connection, event *ChatEvent) {
	payload, err := decodePayload[StartSessionPayload](event)
	if err != nil {
		log.Debug().Err(err).Str("connection_id", conn.ID).Msg("rejecting start_session")
		return
	}
	if payload.RoomID == "" || payload.DurationSec <= 0 {
		log.Debug().Str("connection_id", conn.ID).Msg("dropping start_session with invalid window")
		return
	}

	sess, started := s.sessions.Start(payload.RoomID, time.Duration(payload.DurationSec)*time.Second)
	if started {
		metrics.SessionsStarted.Inc()
		s.startTicker(payload.RoomID)
	}

	// Broadcast regardless: a repeated start re-synchronizes both clients on
	// the original window instead of resetting it.
	out, err := NewEvent(payload.RoomID, EventTypeSessionStarted, s.clock.Now(), SessionStartedPayload{
		RoomID:       payload.RoomID,
		StartedAt:    sess.StartedAt,
		DurationSec:  int(sess.Duration.Seconds()),
		RemainingSec: int(sess.Remaining(s.clock.Now()).Seconds()),
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to build session_started")
		return
	}
	s.broadcast(payload.RoomID, out)
}

func (s *Service) handleSessionStateRequest(conn *Connection, event *ChatEvent) {
	payload, err := decodePayload[SessionStatePayload](event)
	if err != nil {
		log.Debug().Err(err).Str("connection_id", conn.ID).Msg("rejecting request_session_state")
		return
	}

	sess, ok := s.sessions.Get(payload.RoomID)
	if !ok {
		out, err := NewEvent(payload.RoomID, EventTypeNoSession, s.clock.Now(), NoSessionPayload{
			RoomID: payload.RoomID,
		})
		if err != nil {
			log.Error().Err(err).Msg("failed to build no_session")
			return
		}
		s.cm.SendToConnection(conn, out)
		return
	}

	out, err := NewEvent(payload.RoomID, EventTypeSessionStarted, s.clock.Now(), SessionStartedPayload{
		RoomID:       payload.RoomID,
		StartedAt:    sess.StartedAt,
		DurationSec:  int(sess.Duration.Seconds()),
		RemainingSec: int(sess.Remaining(s.clock.Now()).Seconds()),
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to build session_started reply")
		return
	}
	// Query replies go to the requesting connection only so a late joiner
	// can synchronize its countdown without restarting anyone's timer.
	s.cm.SendToConnection(conn, out)
}
