package client

import (
	"sort"
	"sync"

	"chatsync/pkg/models"
)

// RoomList is the client-held summary of the user's conversations,
// ordered newest-activity-first. It is fed by the initial room fetch,
// per-member room events, and last-message updates from open caches.
type RoomList struct {
	mu    sync.Mutex
	rooms map[string]models.Conversation
}

func NewRoomList() *RoomList {
	return &RoomList{rooms: make(map[string]models.Conversation)}
}

// Load replaces the list with the server's snapshot.
func (r *RoomList) Load(rooms []models.Conversation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms = make(map[string]models.Conversation, len(rooms))
	for _, c := range rooms {
		r.rooms[c.ID] = c
	}
}

// Upsert applies a room-added or room-updated event. Both carry the
// full conversation shape, so the payload is authoritative: a nil
// summary means the room has no visible message left.
func (r *RoomList) Upsert(c models.Conversation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms[c.ID] = c
}

// Remove applies a room-removed event.
func (r *RoomList) Remove(convID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms, convID)
}

// Rename applies a room-renamed event.
func (r *RoomList) Rename(convID, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.rooms[convID]; ok {
		c.Name = name
		r.rooms[convID] = c
	}
}

// SetMembers applies a room-members-updated event.
func (r *RoomList) SetMembers(convID string, members []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.rooms[convID]; ok {
		c.Members = members
		r.rooms[convID] = c
	}
}

// noteLastMessage is called by an open conversation cache whenever its
// newest visible entry changes. last may be nil when the conversation
// has no visible messages.
func (r *RoomList) noteLastMessage(convID string, last *models.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.rooms[convID]
	if !ok {
		return
	}
	c.LastMessage = last
	if last != nil && last.CreatedTS > c.UpdatedTS {
		c.UpdatedTS = last.CreatedTS
	}
	r.rooms[convID] = c
}

// Snapshot returns the conversations ordered by most recent activity.
func (r *RoomList) Snapshot() []models.Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Conversation, 0, len(r.rooms))
	for _, c := range r.rooms {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedTS != out[j].UpdatedTS {
			return out[i].UpdatedTS > out[j].UpdatedTS
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Get returns one conversation summary.
func (r *RoomList) Get(convID string) (models.Conversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.rooms[convID]
	return c, ok
}
