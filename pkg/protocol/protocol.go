package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event names shared between server and clients. These are the wire-level
// identifiers; payload shapes are defined below.
const (
	EventPresenceUpdate = "presence:update"
	EventCursorMove     = "cursor:move"
	EventWhiteboardOp   = "whiteboard:operation"
	EventChatMessage    = "chat:message"
)

// Envelope wraps every message on the websocket. Data is left raw so the
// relay can enrich and re-wrap payloads without understanding scene contents.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// PresenceEntry is one participant in a presence:update broadcast.
type PresenceEntry struct {
	ParticipantID string    `json:"participantId"`
	Role          string    `json:"role"`
	DisplayName   string    `json:"displayName"`
	JoinedAt      time.Time `json:"joinedAt"`
}

// CursorMove is the client→server cursor payload. Coordinates are
// normalized to [0,1] against the sender's canvas dimensions.
type CursorMove struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// CursorBroadcast is the server→peer cursor payload, enriched with the
// sender's identity.
type CursorBroadcast struct {
	ParticipantID string  `json:"participantId"`
	Role          string  `json:"role"`
	DisplayName   string  `json:"displayName"`
	X             float64 `json:"x"`
	Y             float64 `json:"y"`
}

// WhiteboardOp is the client→server scene payload. SceneData is an opaque
// whole-scene snapshot; the server never inspects it.
type WhiteboardOp struct {
	SceneData json.RawMessage `json:"sceneData"`
}

// WhiteboardBroadcast is the server→peer scene payload. ParticipantID is the
// author, which receivers compare against their own identity before applying.
type WhiteboardBroadcast struct {
	ParticipantID string          `json:"participantId"`
	SceneData     json.RawMessage `json:"sceneData"`
}

// ChatMessage is the client→server chat payload.
type ChatMessage struct {
	Text string `json:"text"`
}

// ChatBroadcast is the server→room chat payload, enriched with identity and
// a server-assigned id and timestamp. Chat goes to the whole room, sender
// included.
type ChatBroadcast struct {
	ID            string    `json:"id"`
	ParticipantID string    `json:"participantId"`
	Role          string    `json:"role"`
	DisplayName   string    `json:"displayName"`
	Text          string    `json:"text"`
	SentAt        time.Time `json:"sentAt"`
}

// Encode marshals an envelope with the given event and payload.
func Encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// Decode parses a raw websocket frame into an envelope and checks that the
// event is one the relay knows how to fan out.
func Decode(raw []byte) (*Envelope, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty message")
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}

	switch env.Event {
	case EventCursorMove, EventWhiteboardOp, EventChatMessage:
		return &env, nil
	case EventPresenceUpdate:
		return nil, fmt.Errorf("%s is server-originated only", env.Event)
	default:
		return nil, fmt.Errorf("unknown event: %q", env.Event)
	}
}
