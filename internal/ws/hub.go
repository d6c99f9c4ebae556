package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/studyboard/backend/internal/presence"
	"github.com/studyboard/backend/pkg/protocol"
)

// PresenceService is the narrow membership surface the hub depends on. The
// in-memory registry satisfies it today; a shared backplane could replace it
// without touching the relay.
type PresenceService interface {
	Join(sessionID, participantID string, role presence.Role, displayName string) presence.Record
	Leave(sessionID, participantID string)
	ListSorted(sessionID string) []presence.Record
}

// Hub binds connections to session rooms and fans out messages by event
// class. It keeps no state beyond the connection→room mapping; membership
// facts live in the presence registry.
type Hub struct {
	// Connected clients by session room
	rooms map[string]map[*Client]bool

	// Inbound decoded messages from clients
	inbound chan *Message

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	registry PresenceService

	mu sync.RWMutex
}

type Message struct {
	Sender   *Client
	Envelope *protocol.Envelope
}

func NewHub(registry PresenceService) *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		inbound:    make(chan *Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		registry:   registry,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if _, ok := h.rooms[client.sessionID]; !ok {
				h.rooms[client.sessionID] = make(map[*Client]bool)
			}
			h.rooms[client.sessionID][client] = true
			clientCount := len(h.rooms[client.sessionID])
			h.mu.Unlock()

			h.registry.Join(client.sessionID, client.participantID, client.role, client.displayName)
			h.broadcastPresence(client.sessionID)

			log.Printf("Participant %s joined session %s (total: %d)",
				client.participantID, client.sessionID, clientCount)

		case client := <-h.unregister:
			h.mu.Lock()
			removed := false
			if clients, ok := h.rooms[client.sessionID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.send)
					removed = true

					if len(clients) == 0 {
						delete(h.rooms, client.sessionID)
						log.Printf("Session room %s closed (empty)", client.sessionID)
					} else {
						log.Printf("Participant %s left session %s (remaining: %d)",
							client.participantID, client.sessionID, len(clients))
					}
				}
			}
			h.mu.Unlock()

			if removed {
				h.registry.Leave(client.sessionID, client.participantID)
				h.broadcastPresence(client.sessionID)
			}

		case msg := <-h.inbound:
			h.dispatch(msg)
		}
	}
}

// dispatch enriches an inbound payload with the sender's identity and fans
// it out with the scope its event class requires.
func (h *Hub) dispatch(msg *Message) {
	sender := msg.Sender

	switch msg.Envelope.Event {
	case protocol.EventCursorMove:
		var cur protocol.CursorMove
		if err := json.Unmarshal(msg.Envelope.Data, &cur); err != nil {
			log.Printf("Dropping malformed cursor payload from %s: %v", sender.participantID, err)
			return
		}
		h.fanOut(sender.sessionID, protocol.EventCursorMove, protocol.CursorBroadcast{
			ParticipantID: sender.participantID,
			Role:          string(sender.role),
			DisplayName:   sender.displayName,
			X:             cur.X,
			Y:             cur.Y,
		}, sender)

	case protocol.EventWhiteboardOp:
		var op protocol.WhiteboardOp
		if err := json.Unmarshal(msg.Envelope.Data, &op); err != nil {
			log.Printf("Dropping malformed scene payload from %s: %v", sender.participantID, err)
			return
		}
		h.fanOut(sender.sessionID, protocol.EventWhiteboardOp, protocol.WhiteboardBroadcast{
			ParticipantID: sender.participantID,
			SceneData:     op.SceneData,
		}, sender)

	case protocol.EventChatMessage:
		var chat protocol.ChatMessage
		if err := json.Unmarshal(msg.Envelope.Data, &chat); err != nil {
			log.Printf("Dropping malformed chat payload from %s: %v", sender.participantID, err)
			return
		}
		// Chat goes to the whole room, sender included.
		h.fanOut(sender.sessionID, protocol.EventChatMessage, protocol.ChatBroadcast{
			ID:            uuid.NewString(),
			ParticipantID: sender.participantID,
			Role:          string(sender.role),
			DisplayName:   sender.displayName,
			Text:          chat.Text,
			SentAt:        time.Now().UTC(),
		}, nil)
	}
}

// broadcastPresence sends the full sorted participant list to everyone in
// the room, including whoever just joined. Always the whole list, never a
// delta.
func (h *Hub) broadcastPresence(sessionID string) {
	records := h.registry.ListSorted(sessionID)
	entries := make([]protocol.PresenceEntry, len(records))
	for i, rec := range records {
		entries[i] = protocol.PresenceEntry{
			ParticipantID: rec.ParticipantID,
			Role:          string(rec.Role),
			DisplayName:   rec.DisplayName,
			JoinedAt:      rec.JoinedAt,
		}
	}
	h.fanOut(sessionID, protocol.EventPresenceUpdate, entries, nil)
}

// fanOut encodes an envelope and queues it to every client in the room,
// skipping exclude when set. Clients whose buffers are full are dropped;
// delivery is fire-and-forget.
func (h *Hub) fanOut(sessionID, event string, payload any, exclude *Client) {
	data, err := protocol.Encode(event, payload)
	if err != nil {
		log.Printf("Failed to encode %s broadcast: %v", event, err)
		return
	}

	// Full lock: slow clients get evicted from the room map below.
	h.mu.Lock()
	clients, ok := h.rooms[sessionID]
	if !ok {
		h.mu.Unlock()
		return
	}
	var evicted []*Client
	for client := range clients {
		if client == exclude {
			continue
		}
		select {
		case client.send <- data:
		default:
			close(client.send)
			delete(clients, client)
			evicted = append(evicted, client)
		}
	}
	if len(clients) == 0 {
		delete(h.rooms, sessionID)
		log.Printf("Session room %s closed (empty)", sessionID)
	}
	h.mu.Unlock()

	// An evicted client's read pump still unregisters, but by then its map
	// entry is gone and the unregister path skips presence cleanup, so the
	// registry must be settled here.
	for _, client := range evicted {
		log.Printf("Evicting slow participant %s from session %s", client.participantID, client.sessionID)
		h.registry.Leave(client.sessionID, client.participantID)
	}
	if len(evicted) > 0 {
		h.broadcastPresence(sessionID)
	}
}

// GetRoomCount returns the number of rooms with at least one connection.
func (h *Hub) GetRoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// GetClientCount returns the total number of live connections.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, clients := range h.rooms {
		count += len(clients)
	}
	return count
}

// GetActiveRooms returns connection counts keyed by session id.
func (h *Hub) GetActiveRooms() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	active := make(map[string]int, len(h.rooms))
	for sessionID, clients := range h.rooms {
		active[sessionID] = len(clients)
	}
	return active
}
