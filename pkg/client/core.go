package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/studyboard/backend/pkg/protocol"
)

// Relay is the outbound realtime surface the core needs: fire-and-forget
// sends into the session room.
type Relay interface {
	SendOperation(scene json.RawMessage) error
	SendCursor(x, y float64) error
}

// Store is the persistence surface the core needs. Load returns a nil scene
// and version 0 for a session that has never been saved.
type Store interface {
	Load(ctx context.Context, sessionID string) (json.RawMessage, int64, error)
	Save(ctx context.Context, sessionID string, scene json.RawMessage, modifiedBy string) (int64, error)
}

// RemoteCursor is a peer's last known pointer position, in coordinates
// normalized to [0,1].
type RemoteCursor struct {
	ParticipantID string
	DisplayName   string
	Role          string
	X             float64
	Y             float64
}

// Config carries the core's tunables. The defaults match the production
// whiteboard: bursts of edits collapse into one 500 ms-debounced flush,
// cursors go out at most every 50 ms, undo keeps 50 steps.
type Config struct {
	DebounceDelay  time.Duration
	CursorInterval time.Duration
	HistoryLimit   int
}

func DefaultConfig() Config {
	return Config{
		DebounceDelay:  500 * time.Millisecond,
		CursorInterval: 50 * time.Millisecond,
		HistoryLimit:   50,
	}
}

var emptyScene = json.RawMessage(`{}`)

// Core reconciles local edits, remote edits, and undo/redo for one
// participant's view of one session's scene.
//
// Local edits run the debounced pipeline: history push, broadcast, async
// persist. Remote and history loads go through loadScene, which schedules
// none of those side effects, so a remotely-applied change can never echo
// back out or grow the undo stack.
type Core struct {
	sessionID     string
	participantID string
	relay         Relay
	store         Store
	cfg           Config

	mu        sync.Mutex
	scene     json.RawMessage
	history   *History
	cursors   map[string]RemoteCursor
	presences []protocol.PresenceEntry

	debounce    *time.Timer
	debounceGen uint64

	lastCursorSent time.Time
	now            func() time.Time
}

func NewCore(sessionID, participantID string, relay Relay, store Store, cfg Config) *Core {
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = DefaultConfig().DebounceDelay
	}
	if cfg.CursorInterval <= 0 {
		cfg.CursorInterval = DefaultConfig().CursorInterval
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultConfig().HistoryLimit
	}

	c := &Core{
		sessionID:     sessionID,
		participantID: participantID,
		relay:         relay,
		store:         store,
		cfg:           cfg,
		scene:         cloneSnapshot(emptyScene),
		history:       NewHistory(cfg.HistoryLimit),
		cursors:       make(map[string]RemoteCursor),
		now:           time.Now,
	}
	c.history.Reset(c.scene)
	return c
}

// Load fetches the persisted snapshot and installs it as the base state.
// The load is not an authored edit: it is applied the way a remote snapshot
// is, without a broadcast or an extra undo step.
func (c *Core) Load(ctx context.Context) error {
	scene, _, err := c.store.Load(ctx, c.sessionID)
	if err != nil {
		return fmt.Errorf("load canvas for session %s: %w", c.sessionID, err)
	}
	if scene == nil {
		return nil
	}
	if !json.Valid(scene) {
		log.Printf("Skipping unparseable stored scene for session %s", c.sessionID)
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.scene = cloneSnapshot(scene)
	c.history.Reset(c.scene)
	return nil
}

// ApplyLocal installs an authored scene mutation immediately and schedules
// the debounced flush. Successive edits inside the window collapse into one
// history push, one broadcast, and one save.
func (c *Core) ApplyLocal(scene json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.scene = cloneSnapshot(scene)
	c.armDebounce()
}

// armDebounce schedules the flush, superseding any timer already armed.
// Stop cannot retract an AfterFunc whose function has started, so each arm
// bumps the generation and a fired flush that lost the race to the lock
// sees a newer generation and gives up. Callers hold c.mu.
func (c *Core) armDebounce() {
	c.debounceGen++
	gen := c.debounceGen
	if c.debounce != nil {
		c.debounce.Stop()
	}
	c.debounce = time.AfterFunc(c.cfg.DebounceDelay, func() { c.flush(gen) })
}

// flush runs the local-edit pipeline for the current scene, unless the
// generation it was armed for has been superseded. Broadcast happens inline;
// persistence is fire-and-forget so a slow or failing store never blocks
// further editing.
func (c *Core) flush(gen uint64) {
	c.mu.Lock()
	if gen != c.debounceGen {
		c.mu.Unlock()
		return
	}
	snapshot := cloneSnapshot(c.scene)
	c.history.Push(snapshot)
	c.debounce = nil
	c.mu.Unlock()

	if err := c.relay.SendOperation(snapshot); err != nil {
		log.Printf("Failed to broadcast scene for session %s: %v", c.sessionID, err)
	}

	go c.persist(snapshot)
}

func (c *Core) persist(snapshot json.RawMessage) {
	if _, err := c.store.Save(context.Background(), c.sessionID, snapshot, c.participantID); err != nil {
		// Not surfaced and not retried; the next flush is the implicit
		// retry, and the live scene is never rolled back.
		log.Printf("Could not save canvas for session %s: %v", c.sessionID, err)
	}
}

// Flush forces any pending debounced pipeline to run now. A timer that
// already fired is not pending; its flush runs on its own.
func (c *Core) Flush() {
	c.mu.Lock()
	pending := c.debounce != nil && c.debounce.Stop()
	gen := c.debounceGen
	c.mu.Unlock()

	if pending {
		c.flush(gen)
	}
}

// HandleOperation applies a scene snapshot received from the room. The
// sender check is the echo guard: our own operations come back with our id
// and are ignored, so a relayed edit can never re-enter the pipeline.
func (c *Core) HandleOperation(senderID string, scene json.RawMessage) {
	if senderID == c.participantID {
		return
	}
	if !json.Valid(scene) {
		log.Printf("Skipping unparseable remote scene from %s", senderID)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadScene(scene)
}

// loadScene replaces the live scene without running the local-edit
// pipeline. Callers hold c.mu.
func (c *Core) loadScene(scene json.RawMessage) {
	c.scene = cloneSnapshot(scene)
}

// Undo steps back one history entry and installs it. Undo is local-only:
// peers observe the result only when the next authored edit broadcasts.
func (c *Core) Undo() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	snapshot, ok := c.history.Undo()
	if !ok {
		return false
	}
	c.loadScene(snapshot)
	return true
}

// Redo steps forward one history entry and installs it.
func (c *Core) Redo() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	snapshot, ok := c.history.Redo()
	if !ok {
		return false
	}
	c.loadScene(snapshot)
	return true
}

func (c *Core) CanUndo() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history.CanUndo()
}

func (c *Core) CanRedo() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history.CanRedo()
}

// Clear empties the scene and runs the full pipeline immediately. It only
// acts when the caller passes an explicit confirmation, since a clear
// cannot be distinguished from any other edit once broadcast.
func (c *Core) Clear(confirmed bool) bool {
	if !confirmed {
		return false
	}

	c.mu.Lock()
	c.debounceGen++
	gen := c.debounceGen
	if c.debounce != nil {
		c.debounce.Stop()
		c.debounce = nil
	}
	c.scene = cloneSnapshot(emptyScene)
	c.mu.Unlock()

	c.flush(gen)
	return true
}

// Scene returns a copy of the live scene snapshot.
func (c *Core) Scene() json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneSnapshot(c.scene)
}

// Participants returns the latest presence list, in server order (ascending
// join time).
func (c *Core) Participants() []protocol.PresenceEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.PresenceEntry, len(c.presences))
	copy(out, c.presences)
	return out
}
