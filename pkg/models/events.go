package models

import "encoding/json"

// Event kinds published on conversation topics.
const (
	EventNewMessage    = "new-message"
	EventEditMessage   = "edit-message"
	EventDeleteMessage = "delete-message"
)

// Event kinds published on personal (per-member) topics.
const (
	EventRoomAdded          = "room-added"
	EventRoomUpdated        = "room-updated"
	EventRoomRemoved        = "room-removed"
	EventRoomRenamed        = "room-renamed"
	EventRoomMembersUpdated = "room-members-updated"
)

// Envelope is the wire format for every broker event. Payloads are the full
// denormalized Message or Conversation shape; no deltas.
type Envelope struct {
	Topic   string          `json:"topic"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// UserRef is the caller identity consumed from the identity collaborator.
type UserRef struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}
