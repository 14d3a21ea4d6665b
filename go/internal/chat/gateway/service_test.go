package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/astromitra/consultroom/go/internal/chat/delivery"
	"github.com/astromitra/consultroom/go/internal/chat/room"
	"github.com/astromitra/consultroom/go/internal/chat/session"
	"github.com/astromitra/consultroom/go/internal/models"
)

const readWait = 3 * time.Second

func newTestService(t *testing.T) (*Service, *httptest.Server) {
	t.Helper()

	clock := clockwork.NewRealClock()
	rooms := room.NewManager(room.Config{
		MaxHistory: 100,
		IdleTTL:    30 * time.Minute,
		GCInterval: 0, // janitor disabled in tests
	}, clock)
	sessions := session.NewManager(clock)

	config := DefaultConfig()
	config.TickInterval = 0 // keep the event stream deterministic

	svc := NewService(config, rooms, sessions, delivery.NewTracker(), clock)

	ctx, cancel := context.WithCancel(context.Background())
	go svc.Start(ctx)

	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)
	server := httptest.NewServer(mux)

	t.Cleanup(func() {
		server.Close()
		cancel()
	})
	return svc, server
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/chat"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, eventType EventType, payload any) {
	t.Helper()

	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	event := ChatEvent{
		ID:        "test-event",
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
	if err := conn.WriteJSON(event); err != nil {
		t.Fatalf("failed to write %s: %v", eventType, err)
	}
}

// waitFor reads events until one of the wanted type arrives, skipping
// everything else the relay interleaves.
func waitFor(t *testing.T, conn *websocket.Conn, eventType EventType) ChatEvent {
	t.Helper()

	deadline := time.Now().Add(readWait)
	for {
		conn.SetReadDeadline(deadline)
		var event ChatEvent
		if err := conn.ReadJSON(&event); err != nil {
			t.Fatalf("timed out waiting for %s: %v", eventType, err)
		}
		if event.Type == eventType {
			return event
		}
	}
}

// expectSilence asserts that no frame arrives within the window. A read
// failure poisons the websocket, so only call this last on a connection.
func expectSilence(t *testing.T, conn *websocket.Conn, window time.Duration) {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(window))
	var event ChatEvent
	if err := conn.ReadJSON(&event); err == nil {
		t.Fatalf("expected no broadcast, got %s", event.Type)
	}
}

func payloadAs[T any](t *testing.T, event ChatEvent) T {
	t.Helper()

	var payload T
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		t.Fatalf("failed to decode %s payload: %v", event.Type, err)
	}
	return payload
}

func TestConsultationScenario(t *testing.T) {
	_, server := newTestService(t)

	// Client A joins an empty room and receives empty history.
	connA := dial(t, server)
	sendEvent(t, connA, EventTypeJoinRoom, JoinRoomPayload{
		RoomID: "r1", UserID: "uA", UserName: "Asha", Role: models.MemberRoleUser,
	})
	history := payloadAs[RoomHistoryPayload](t, waitFor(t, connA, EventTypeRoomHistory))
	if len(history.Messages) != 0 {
		t.Fatalf("expected empty history on first join, got %d messages", len(history.Messages))
	}

	// A malformed frame is rejected without killing the connection.
	if err := connA.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("failed to write malformed frame: %v", err)
	}

	// A sends a message and receives the canonical broadcast back,
	// promoted to "sent", for id reconciliation.
	sendEvent(t, connA, EventTypeSendMessage, SendMessagePayload{
		RoomID: "r1", MessageID: "m1", Text: "hello",
		UserID: "uA", UserName: "Asha", Role: models.MemberRoleUser,
	})
	newMsg := payloadAs[NewMessagePayload](t, waitFor(t, connA, EventTypeNewMessage))
	if newMsg.Message.ID != "m1" || newMsg.Message.Status != models.MessageStatusSent {
		t.Fatalf("expected m1 with status sent, got %+v", newMsg.Message)
	}

	// Client B joins as partner: full history to B, user_joined to A only.
	connB := dial(t, server)
	sendEvent(t, connB, EventTypeJoinRoom, JoinRoomPayload{
		RoomID: "r1", UserID: "uB", UserName: "Jyoti", Role: models.MemberRolePartner,
	})
	historyB := payloadAs[RoomHistoryPayload](t, waitFor(t, connB, EventTypeRoomHistory))
	if len(historyB.Messages) != 1 || historyB.Messages[0].ID != "m1" {
		t.Fatalf("expected B to see m1 in history, got %+v", historyB.Messages)
	}
	joined := payloadAs[UserJoinedPayload](t, waitFor(t, connA, EventTypeUserJoined))
	if joined.UserID != "uB" || joined.Role != models.MemberRolePartner {
		t.Fatalf("expected user_joined for uB/partner, got %+v", joined)
	}

	// No session yet: the state query answers no_session.
	sendEvent(t, connB, EventTypeRequestSessionState, SessionStatePayload{RoomID: "r1"})
	noSession := payloadAs[NoSessionPayload](t, waitFor(t, connB, EventTypeNoSession))
	if noSession.RoomID != "r1" {
		t.Fatalf("expected no_session for r1, got %+v", noSession)
	}

	// B marks m1 read; A observes the relayed status update.
	sendEvent(t, connB, EventTypeMessageStatusUpdate, MessageStatusPayload{
		RoomID: "r1", MessageID: "m1", Status: models.MessageStatusRead,
	})
	status := payloadAs[MessageStatusPayload](t, waitFor(t, connA, EventTypeMessageStatusUpdate))
	if status.MessageID != "m1" || status.Status != models.MessageStatusRead {
		t.Fatalf("expected m1 read, got %+v", status)
	}

	// A starts the session; both sides observe the same window. B's later
	// start request returns the original start time, not a reset one.
	sendEvent(t, connA, EventTypeStartSession, StartSessionPayload{RoomID: "r1", DurationSec: 300})
	startedA := payloadAs[SessionStartedPayload](t, waitFor(t, connA, EventTypeSessionStarted))
	startedB := payloadAs[SessionStartedPayload](t, waitFor(t, connB, EventTypeSessionStarted))
	if !startedA.StartedAt.Equal(startedB.StartedAt) {
		t.Fatalf("expected both members to see the same start, got %v vs %v", startedA.StartedAt, startedB.StartedAt)
	}
	if startedA.DurationSec != 300 {
		t.Fatalf("expected 300s duration, got %d", startedA.DurationSec)
	}
	if startedA.RemainingSec < 0 || startedA.RemainingSec > 300 {
		t.Fatalf("expected remaining within the window, got %d", startedA.RemainingSec)
	}

	sendEvent(t, connB, EventTypeStartSession, StartSessionPayload{RoomID: "r1", DurationSec: 300})
	restarted := payloadAs[SessionStartedPayload](t, waitFor(t, connB, EventTypeSessionStarted))
	if !restarted.StartedAt.Equal(startedA.StartedAt) {
		t.Fatalf("expected idempotent start to keep %v, got %v", startedA.StartedAt, restarted.StartedAt)
	}
	// A sees the rebroadcast from B's start too; drain it before querying.
	waitFor(t, connA, EventTypeSessionStarted)

	// A late state query synchronizes without restarting the countdown.
	sendEvent(t, connA, EventTypeRequestSessionState, SessionStatePayload{RoomID: "r1"})
	queried := payloadAs[SessionStartedPayload](t, waitFor(t, connA, EventTypeSessionStarted))
	if !queried.StartedAt.Equal(startedA.StartedAt) {
		t.Fatalf("expected state query to return the original start, got %v", queried.StartedAt)
	}

	// Duplicate message id is a silent retry: no second broadcast.
	sendEvent(t, connA, EventTypeSendMessage, SendMessagePayload{
		RoomID: "r1", MessageID: "m1", Text: "hello again",
		UserID: "uA", UserName: "Asha", Role: models.MemberRoleUser,
	})
	expectSilence(t, connA, 300*time.Millisecond)
}

// blockingLookup holds every profile lookup until released, imitating a
// stalled user directory.
type blockingLookup struct {
	release chan struct{}
}

func (b *blockingLookup) Lookup(ctx context.Context, userID string) (UserProfile, error) {
	select {
	case <-b.release:
		return UserProfile{ID: userID, Name: "Asha Rao", ProfileImage: "https://cdn.example/" + userID + ".png"}, nil
	case <-ctx.Done():
		return UserProfile{}, ctx.Err()
	}
}

func TestSlowProfileLookupDoesNotStallInbound(t *testing.T) {
	svc, server := newTestService(t)
	lookup := &blockingLookup{release: make(chan struct{})}
	svc.SetUserLookup(lookup)

	connB := dial(t, server)
	sendEvent(t, connB, EventTypeJoinRoom, JoinRoomPayload{
		RoomID: "r1", UserID: "uB", UserName: "Jyoti", Role: models.MemberRolePartner,
	})
	waitFor(t, connB, EventTypeRoomHistory)

	connA := dial(t, server)
	sendEvent(t, connA, EventTypeJoinRoom, JoinRoomPayload{
		RoomID: "r1", UserID: "uA", UserName: "", Role: models.MemberRoleUser,
	})
	waitFor(t, connA, EventTypeRoomHistory)

	// The directory is still blocked, yet A's next event must flow: the
	// lookup may not stall the connection's read loop.
	sendEvent(t, connA, EventTypeSendMessage, SendMessagePayload{
		RoomID: "r1", MessageID: "m1", Text: "hello",
		UserID: "uA", UserName: "Asha", Role: models.MemberRoleUser,
	})
	newMsg := payloadAs[NewMessagePayload](t, waitFor(t, connA, EventTypeNewMessage))
	if newMsg.Message.ID != "m1" {
		t.Fatalf("expected m1 relayed while lookup pending, got %+v", newMsg.Message)
	}

	// Releasing the directory lets the enriched announcement through.
	close(lookup.release)
	joined := payloadAs[UserJoinedPayload](t, waitFor(t, connB, EventTypeUserJoined))
	if joined.UserID != "uA" {
		t.Fatalf("expected user_joined for uA, got %+v", joined)
	}
	if joined.ProfileImage == "" || joined.UserName != "Asha Rao" {
		t.Fatalf("expected directory-enriched announcement, got %+v", joined)
	}
}

func TestSendBeforeJoinIsDropped(t *testing.T) {
	_, server := newTestService(t)

	conn := dial(t, server)
	sendEvent(t, conn, EventTypeSendMessage, SendMessagePayload{
		RoomID: "r1", MessageID: "m1", Text: "hello",
		UserID: "uX", UserName: "Nobody", Role: models.MemberRoleUser,
	})

	// No membership, no broadcast; the failure is only the absence of one.
	expectSilence(t, conn, 300*time.Millisecond)
}

func TestBroadcastOrderMatchesAppendOrder(t *testing.T) {
	_, server := newTestService(t)

	connA := dial(t, server)
	sendEvent(t, connA, EventTypeJoinRoom, JoinRoomPayload{
		RoomID: "r1", UserID: "uA", UserName: "Asha", Role: models.MemberRoleUser,
	})
	waitFor(t, connA, EventTypeRoomHistory)

	ids := []string{"m1", "m2", "m3", "m4", "m5"}
	for _, id := range ids {
		sendEvent(t, connA, EventTypeSendMessage, SendMessagePayload{
			RoomID: "r1", MessageID: id, Text: "msg " + id,
			UserID: "uA", UserName: "Asha", Role: models.MemberRoleUser,
		})
	}

	for _, want := range ids {
		got := payloadAs[NewMessagePayload](t, waitFor(t, connA, EventTypeNewMessage))
		if got.Message.ID != want {
			t.Fatalf("broadcast order diverged from append order: got %s, want %s", got.Message.ID, want)
		}
	}
}

func TestRejoinEvictsPriorConnection(t *testing.T) {
	svc, server := newTestService(t)

	first := dial(t, server)
	sendEvent(t, first, EventTypeJoinRoom, JoinRoomPayload{
		RoomID: "r1", UserID: "uA", UserName: "Asha", Role: models.MemberRoleUser,
	})
	waitFor(t, first, EventTypeRoomHistory)

	second := dial(t, server)
	sendEvent(t, second, EventTypeJoinRoom, JoinRoomPayload{
		RoomID: "r1", UserID: "uA", UserName: "Asha", Role: models.MemberRoleUser,
	})
	waitFor(t, second, EventTypeRoomHistory)

	// The superseded connection is closed by the relay.
	first.SetReadDeadline(time.Now().Add(readWait))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
	}

	deadline := time.After(readWait)
	for {
		stats := svc.GetStats()
		if stats.TotalConnections == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected one connection after rejoin, got %d", stats.TotalConnections)
		case <-time.After(10 * time.Millisecond):
		}
	}
}
