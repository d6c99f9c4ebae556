package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/studyboard/backend/internal/presence"
	"github.com/studyboard/backend/pkg/protocol"
)

func setupTestServer(t *testing.T) (*httptest.Server, *Hub, *presence.Registry) {
	t.Helper()

	registry := presence.NewRegistry()
	hub := NewHub(registry)
	go hub.Run()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	}))
	t.Cleanup(server.Close)

	return server, hub, registry
}

func dialWs(t *testing.T, server *httptest.Server, params map[string]string) *websocket.Conn {
	t.Helper()

	u, _ := url.Parse("ws" + strings.TrimPrefix(server.URL, "http"))
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		t.Fatalf("Failed to dial websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readEvent reads frames until one matching the wanted event arrives.
func readEvent(t *testing.T, conn *websocket.Conn, want string) json.RawMessage {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("Read failed waiting for %s: %v", want, err)
		}
		var env protocol.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("Malformed frame: %v", err)
		}
		if env.Event == want {
			return env.Data
		}
	}
}

func expectSilence(t *testing.T, conn *websocket.Conn, d time.Duration) {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(d))
	if _, raw, err := conn.ReadMessage(); err == nil {
		t.Fatalf("Expected no message, got %s", raw)
	}
}

func sendEvent(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()

	data, err := protocol.Encode(event, payload)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
}

func TestHandshakeRequiresIdentity(t *testing.T) {
	server, _, registry := setupTestServer(t)

	for _, query := range []string{"", "sessionId=s1", "participantId=alice"} {
		resp, err := http.Get(server.URL + "/?" + query)
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Query %q: expected 400, got %d", query, resp.StatusCode)
		}
	}

	if registry.RoomCount() != 0 {
		t.Error("Rejected handshakes must leave no presence behind")
	}
}

func TestJoinBroadcastsFullPresenceList(t *testing.T) {
	server, _, _ := setupTestServer(t)

	alice := dialWs(t, server, map[string]string{
		"sessionId": "s1", "participantId": "alice", "role": "tutor", "displayName": "Alice",
	})

	var entries []protocol.PresenceEntry
	if err := json.Unmarshal(readEvent(t, alice, protocol.EventPresenceUpdate), &entries); err != nil {
		t.Fatalf("Failed to decode presence: %v", err)
	}
	if len(entries) != 1 || entries[0].ParticipantID != "alice" || entries[0].Role != "tutor" {
		t.Fatalf("Unexpected first presence list: %+v", entries)
	}

	bob := dialWs(t, server, map[string]string{
		"sessionId": "s1", "participantId": "bob",
	})

	// Both the existing member and the joiner get the full updated list.
	for _, conn := range []*websocket.Conn{alice, bob} {
		if err := json.Unmarshal(readEvent(t, conn, protocol.EventPresenceUpdate), &entries); err != nil {
			t.Fatalf("Failed to decode presence: %v", err)
		}
		if len(entries) != 2 {
			t.Fatalf("Expected 2 participants, got %+v", entries)
		}
		if entries[0].ParticipantID != "alice" || entries[1].ParticipantID != "bob" {
			t.Errorf("Presence not ordered by join time: %+v", entries)
		}
		if !entries[1].JoinedAt.After(entries[0].JoinedAt) {
			t.Errorf("Joiner timestamp should be later: %+v", entries)
		}
	}

	// Defaults applied for bob.
	if entries[1].Role != "student" || entries[1].DisplayName != "Anonymous" {
		t.Errorf("Expected default role/displayName, got %+v", entries[1])
	}
}

func TestLeaveBroadcastsAndRemovesRoom(t *testing.T) {
	server, hub, registry := setupTestServer(t)

	alice := dialWs(t, server, map[string]string{"sessionId": "s1", "participantId": "alice"})
	readEvent(t, alice, protocol.EventPresenceUpdate)

	bob := dialWs(t, server, map[string]string{"sessionId": "s1", "participantId": "bob"})
	readEvent(t, alice, protocol.EventPresenceUpdate)
	readEvent(t, bob, protocol.EventPresenceUpdate)

	bob.Close()

	var entries []protocol.PresenceEntry
	if err := json.Unmarshal(readEvent(t, alice, protocol.EventPresenceUpdate), &entries); err != nil {
		t.Fatalf("Failed to decode presence: %v", err)
	}
	if len(entries) != 1 || entries[0].ParticipantID != "alice" {
		t.Errorf("Expected alice alone after bob left, got %+v", entries)
	}

	alice.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.GetRoomCount() == 0 && registry.RoomCount() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("Empty room should be removed: hub=%d registry=%d", hub.GetRoomCount(), registry.RoomCount())
}

func TestSceneOperationExcludesSender(t *testing.T) {
	server, _, _ := setupTestServer(t)

	alice := dialWs(t, server, map[string]string{"sessionId": "s1", "participantId": "alice"})
	readEvent(t, alice, protocol.EventPresenceUpdate)
	bob := dialWs(t, server, map[string]string{"sessionId": "s1", "participantId": "bob"})
	readEvent(t, alice, protocol.EventPresenceUpdate)
	readEvent(t, bob, protocol.EventPresenceUpdate)

	scene := json.RawMessage(`{"objects":[{"type":"rect"}]}`)
	sendEvent(t, alice, protocol.EventWhiteboardOp, protocol.WhiteboardOp{SceneData: scene})

	var op protocol.WhiteboardBroadcast
	if err := json.Unmarshal(readEvent(t, bob, protocol.EventWhiteboardOp), &op); err != nil {
		t.Fatalf("Failed to decode scene broadcast: %v", err)
	}
	if op.ParticipantID != "alice" {
		t.Errorf("Expected sender 'alice', got '%s'", op.ParticipantID)
	}
	if string(op.SceneData) != string(scene) {
		t.Errorf("Scene payload mismatch: got %s", op.SceneData)
	}

	// The author must not get their own operation back.
	expectSilence(t, alice, 200*time.Millisecond)
}

func TestCursorMoveEnrichedAndExcludesSender(t *testing.T) {
	server, _, _ := setupTestServer(t)

	alice := dialWs(t, server, map[string]string{
		"sessionId": "s1", "participantId": "alice", "role": "tutor", "displayName": "Alice",
	})
	readEvent(t, alice, protocol.EventPresenceUpdate)
	bob := dialWs(t, server, map[string]string{"sessionId": "s1", "participantId": "bob"})
	readEvent(t, alice, protocol.EventPresenceUpdate)
	readEvent(t, bob, protocol.EventPresenceUpdate)

	sendEvent(t, alice, protocol.EventCursorMove, protocol.CursorMove{X: 0.5, Y: 0.25})

	var cur protocol.CursorBroadcast
	if err := json.Unmarshal(readEvent(t, bob, protocol.EventCursorMove), &cur); err != nil {
		t.Fatalf("Failed to decode cursor broadcast: %v", err)
	}
	if cur.ParticipantID != "alice" || cur.DisplayName != "Alice" || cur.Role != "tutor" {
		t.Errorf("Cursor not enriched with sender identity: %+v", cur)
	}
	if cur.X != 0.5 || cur.Y != 0.25 {
		t.Errorf("Cursor coordinates mismatch: %+v", cur)
	}

	expectSilence(t, alice, 200*time.Millisecond)
}

func TestChatIncludesSenderAndTimestamp(t *testing.T) {
	server, _, _ := setupTestServer(t)

	alice := dialWs(t, server, map[string]string{
		"sessionId": "s1", "participantId": "alice", "role": "tutor", "displayName": "Alice",
	})
	readEvent(t, alice, protocol.EventPresenceUpdate)
	bob := dialWs(t, server, map[string]string{"sessionId": "s1", "participantId": "bob"})
	readEvent(t, bob, protocol.EventPresenceUpdate)

	sendEvent(t, alice, protocol.EventChatMessage, protocol.ChatMessage{Text: "hello class"})

	for _, conn := range []*websocket.Conn{alice, bob} {
		var chat protocol.ChatBroadcast
		if err := json.Unmarshal(readEvent(t, conn, protocol.EventChatMessage), &chat); err != nil {
			t.Fatalf("Failed to decode chat broadcast: %v", err)
		}
		if chat.Text != "hello class" {
			t.Errorf("Chat text mismatch: %+v", chat)
		}
		if chat.ParticipantID != "alice" || chat.DisplayName != "Alice" {
			t.Errorf("Chat not enriched with sender identity: %+v", chat)
		}
		if chat.SentAt.IsZero() {
			t.Error("Chat should carry a server timestamp")
		}
		if chat.ID == "" {
			t.Error("Chat should carry a server-assigned id")
		}
	}
}

func TestRoomsAreIsolated(t *testing.T) {
	server, _, _ := setupTestServer(t)

	alice := dialWs(t, server, map[string]string{"sessionId": "s1", "participantId": "alice"})
	readEvent(t, alice, protocol.EventPresenceUpdate)
	carol := dialWs(t, server, map[string]string{"sessionId": "s2", "participantId": "carol"})
	readEvent(t, carol, protocol.EventPresenceUpdate)

	sendEvent(t, alice, protocol.EventWhiteboardOp, protocol.WhiteboardOp{SceneData: json.RawMessage(`{}`)})

	// Carol is in a different session and must see nothing.
	expectSilence(t, carol, 200*time.Millisecond)
}

func TestSlowClientEvictionCleansUpPresence(t *testing.T) {
	registry := presence.NewRegistry()
	hub := NewHub(registry)
	go hub.Run()

	// A client whose send channel is never drained: the presence broadcast
	// triggered by its own registration already overflows it.
	slow := &Client{
		hub:           hub,
		send:          make(chan []byte),
		sessionID:     "s1",
		participantID: "slow",
		role:          presence.RoleStudent,
		displayName:   "Anonymous",
	}
	hub.register <- slow

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.GetClientCount() == 0 && registry.ParticipantCount() == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if n := hub.GetClientCount(); n != 0 {
		t.Fatalf("Slow client should be evicted from the hub, still has %d", n)
	}
	if got := registry.ListSorted("s1"); len(got) != 0 {
		t.Fatalf("Evicted participant must leave no presence behind, got %+v", got)
	}

	// The read pump follows up with an unregister; the client is already
	// gone and nothing may come back.
	hub.unregister <- slow
	time.Sleep(50 * time.Millisecond)

	if hub.GetRoomCount() != 0 || registry.RoomCount() != 0 {
		t.Errorf("No room should remain after eviction: hub=%d registry=%d",
			hub.GetRoomCount(), registry.RoomCount())
	}
}

func TestMalformedMessagesAreDropped(t *testing.T) {
	server, _, _ := setupTestServer(t)

	alice := dialWs(t, server, map[string]string{"sessionId": "s1", "participantId": "alice"})
	readEvent(t, alice, protocol.EventPresenceUpdate)
	bob := dialWs(t, server, map[string]string{"sessionId": "s1", "participantId": "bob"})
	readEvent(t, bob, protocol.EventPresenceUpdate)

	if err := alice.WriteMessage(websocket.TextMessage, []byte("not json at all")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	// Connection survives and later valid messages still flow.
	sendEvent(t, alice, protocol.EventChatMessage, protocol.ChatMessage{Text: "still here"})

	var chat protocol.ChatBroadcast
	if err := json.Unmarshal(readEvent(t, bob, protocol.EventChatMessage), &chat); err != nil {
		t.Fatalf("Failed to decode chat: %v", err)
	}
	if chat.Text != "still here" {
		t.Errorf("Expected follow-up chat, got %+v", chat)
	}
}
