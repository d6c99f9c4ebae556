package presence

import (
	"sort"
	"sync"
	"time"
)

// Role of a participant within a tutoring session.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTutor   Role = "tutor"
	RoleStudent Role = "student"
)

// ParseRole maps an untrusted role string to a known Role, defaulting to
// student for anything unrecognized or empty.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleAdmin, RoleTutor, RoleStudent:
		return Role(s)
	default:
		return RoleStudent
	}
}

// Record is the live-membership fact that one participant is currently
// connected to a session room.
type Record struct {
	ParticipantID string
	Role          Role
	DisplayName   string
	JoinedAt      time.Time
}

// Registry tracks which participants are in each session room. It is the
// single source of truth for membership and is process-local: rooms are not
// shared across server instances.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Record // sessionID -> participantID -> record
	now   func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]map[string]Record),
		now:   time.Now,
	}
}

// Join inserts or replaces the record for a participant, creating the room
// if needed. A fresh connection is a fresh join: JoinedAt is always stamped
// anew, including on reconnects.
func (r *Registry) Join(sessionID, participantID string, role Role, displayName string) Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[sessionID]
	if !ok {
		room = make(map[string]Record)
		r.rooms[sessionID] = room
	}

	rec := Record{
		ParticipantID: participantID,
		Role:          role,
		DisplayName:   displayName,
		JoinedAt:      r.now(),
	}
	room[participantID] = rec
	return rec
}

// Leave removes the participant's record. The room itself is deleted once
// its last member leaves, so no empty rooms linger.
func (r *Registry) Leave(sessionID, participantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[sessionID]
	if !ok {
		return
	}

	delete(room, participantID)
	if len(room) == 0 {
		delete(r.rooms, sessionID)
	}
}

// ListSorted returns the room's records ordered by ascending join time,
// tie-broken by participant id. Clients rely on this ordering for stable
// avatar placement, so it is part of the contract.
func (r *Registry) ListSorted(sessionID string) []Record {
	r.mu.RLock()
	room := r.rooms[sessionID]
	records := make([]Record, 0, len(room))
	for _, rec := range room {
		records = append(records, rec)
	}
	r.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		if records[i].JoinedAt.Equal(records[j].JoinedAt) {
			return records[i].ParticipantID < records[j].ParticipantID
		}
		return records[i].JoinedAt.Before(records[j].JoinedAt)
	})
	return records
}

// RoomCount returns the number of rooms with at least one member.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// ParticipantCount returns the total number of records across all rooms.
func (r *Registry) ParticipantCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, room := range r.rooms {
		total += len(room)
	}
	return total
}
