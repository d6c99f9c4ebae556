package ws

import (
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/studyboard/backend/internal/presence"
	"github.com/studyboard/backend/internal/ratelimit"
	"github.com/studyboard/backend/pkg/protocol"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 1024 * 1024
	messagesPerSecond = 100
	messageBurst      = 200
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Client struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	connID        string
	sessionID     string
	participantID string
	role          presence.Role
	displayName   string
	rateLimiter   *ratelimit.Limiter
}

// ServeWs performs the connection handshake and hands the connection to the
// hub. sessionId and participantId are required; a request missing either is
// rejected before any room join, so no presence side effects occur.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	sessionID := q.Get("sessionId")
	participantID := q.Get("participantId")
	if sessionID == "" || participantID == "" {
		http.Error(w, "sessionId and participantId are required", http.StatusBadRequest)
		return
	}

	role := presence.ParseRole(q.Get("role"))
	displayName := q.Get("displayName")
	if displayName == "" {
		displayName = "Anonymous"
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("Upgrade error:", err)
		return
	}

	client := &Client{
		hub:           hub,
		conn:          conn,
		send:          make(chan []byte, 512),
		connID:        uuid.NewString(),
		sessionID:     sessionID,
		participantID: participantID,
		role:          role,
		displayName:   displayName,
		rateLimiter:   ratelimit.NewLimiter(messagesPerSecond, messageBurst),
	}

	hub.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	rateLimitWarnings := 0

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		if !c.rateLimiter.Allow() {
			rateLimitWarnings++
			if rateLimitWarnings%100 == 1 {
				log.Printf("Rate limit exceeded for %s in session %s (warning #%d)",
					c.participantID, c.sessionID, rateLimitWarnings)
			}
			if rateLimitWarnings > 1000 {
				log.Printf("Disconnecting %s for excessive rate limit violations", c.participantID)
				return
			}
			continue
		}

		env, err := protocol.Decode(raw)
		if err != nil {
			log.Printf("Invalid message from %s (conn %s): %v", c.participantID, c.connID, err)
			continue
		}

		c.hub.inbound <- &Message{Sender: c, Envelope: env}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
