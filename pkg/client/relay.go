package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/studyboard/backend/pkg/protocol"
)

// ChatHandler receives chat broadcasts, which the sync core itself does not
// consume.
type ChatHandler func(protocol.ChatBroadcast)

// WSRelay is the websocket implementation of Relay. One connection serves a
// single (session, participant) pair.
type WSRelay struct {
	conn *websocket.Conn
	mu   sync.Mutex // guards writes; gorilla allows one concurrent writer
}

// Dial opens a relay connection. baseURL is the server root, for example
// "ws://localhost:8080". Missing identity fields are rejected server-side
// before any room join, so they are validated here too for a clearer error.
func Dial(ctx context.Context, baseURL, sessionID, participantID, role, displayName string) (*WSRelay, error) {
	if sessionID == "" || participantID == "" {
		return nil, fmt.Errorf("sessionId and participantId are required")
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	u.Path = "/ws"

	q := u.Query()
	q.Set("sessionId", sessionID)
	q.Set("participantId", participantID)
	if role != "" {
		q.Set("role", role)
	}
	if displayName != "" {
		q.Set("displayName", displayName)
	}
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	return &WSRelay{conn: conn}, nil
}

func (r *WSRelay) SendOperation(scene json.RawMessage) error {
	return r.send(protocol.EventWhiteboardOp, protocol.WhiteboardOp{SceneData: scene})
}

func (r *WSRelay) SendCursor(x, y float64) error {
	return r.send(protocol.EventCursorMove, protocol.CursorMove{X: x, Y: y})
}

func (r *WSRelay) SendChat(text string) error {
	return r.send(protocol.EventChatMessage, protocol.ChatMessage{Text: text})
}

func (r *WSRelay) send(event string, payload any) error {
	data, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn.WriteMessage(websocket.TextMessage, data)
}

// Listen reads broadcasts and feeds them to the core until the connection
// closes or ctx is cancelled. Unknown or malformed frames are logged and
// skipped; they never corrupt local state.
func (r *WSRelay) Listen(ctx context.Context, core *Core, onChat ChatHandler) error {
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			r.conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := r.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("relay read: %w", err)
		}

		var env protocol.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			log.Printf("Skipping malformed relay frame: %v", err)
			continue
		}

		switch env.Event {
		case protocol.EventPresenceUpdate:
			var entries []protocol.PresenceEntry
			if err := json.Unmarshal(env.Data, &entries); err != nil {
				log.Printf("Skipping malformed presence update: %v", err)
				continue
			}
			core.HandlePresence(entries)

		case protocol.EventCursorMove:
			var cur protocol.CursorBroadcast
			if err := json.Unmarshal(env.Data, &cur); err != nil {
				log.Printf("Skipping malformed cursor broadcast: %v", err)
				continue
			}
			core.HandleCursor(cur)

		case protocol.EventWhiteboardOp:
			var op protocol.WhiteboardBroadcast
			if err := json.Unmarshal(env.Data, &op); err != nil {
				log.Printf("Skipping malformed scene broadcast: %v", err)
				continue
			}
			core.HandleOperation(op.ParticipantID, op.SceneData)

		case protocol.EventChatMessage:
			if onChat == nil {
				continue
			}
			var chat protocol.ChatBroadcast
			if err := json.Unmarshal(env.Data, &chat); err != nil {
				log.Printf("Skipping malformed chat broadcast: %v", err)
				continue
			}
			onChat(chat)

		default:
			log.Printf("Skipping unknown relay event %q", env.Event)
		}
	}
}

func (r *WSRelay) Close() error {
	return r.conn.Close()
}
