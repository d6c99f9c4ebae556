package client

import (
	"log"

	"github.com/studyboard/backend/pkg/protocol"
)

// MoveCursor broadcasts the local pointer position, throttled to one
// outbound message per cursor interval. Coordinates are normalized against
// the given canvas dimensions so receivers can rescale to their own
// viewport.
func (c *Core) MoveCursor(x, y, width, height float64) {
	if width <= 0 || height <= 0 {
		return
	}

	c.mu.Lock()
	now := c.now()
	if now.Sub(c.lastCursorSent) < c.cfg.CursorInterval {
		c.mu.Unlock()
		return
	}
	c.lastCursorSent = now
	c.mu.Unlock()

	if err := c.relay.SendCursor(clamp01(x/width), clamp01(y/height)); err != nil {
		log.Printf("Failed to send cursor for session %s: %v", c.sessionID, err)
	}
}

// HandleCursor records a peer's cursor position. Our own cursor, should the
// relay ever reflect it, is ignored.
func (c *Core) HandleCursor(cur protocol.CursorBroadcast) {
	if cur.ParticipantID == c.participantID {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cursors[cur.ParticipantID] = RemoteCursor{
		ParticipantID: cur.ParticipantID,
		DisplayName:   cur.DisplayName,
		Role:          cur.Role,
		X:             cur.X,
		Y:             cur.Y,
	}
}

// HandlePresence installs the authoritative participant list and prunes
// cursors belonging to participants who have left.
func (c *Core) HandlePresence(entries []protocol.PresenceEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.presences = entries

	present := make(map[string]bool, len(entries))
	for _, e := range entries {
		present[e.ParticipantID] = true
	}
	for id := range c.cursors {
		if !present[id] {
			delete(c.cursors, id)
		}
	}
}

// RemoteCursors returns a copy of the peer cursor map.
func (c *Core) RemoteCursors() map[string]RemoteCursor {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]RemoteCursor, len(c.cursors))
	for id, cur := range c.cursors {
		out[id] = cur
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
