package models

// Conversation is a direct or group room plus its membership.
type Conversation struct {
	ID      string `json:"id"`
	IsGroup bool   `json:"is_group,omitempty"`
	// Name is required for group conversations, empty for direct ones.
	Name    string   `json:"name,omitempty"`
	Members []string `json:"members"`
	// Created timestamp (ns)
	CreatedTS int64 `json:"created_ts,omitempty"`
	// Updated timestamp (ns) - bumped on every new message; the sole sort
	// key for the room list. Must be monotonically non-decreasing.
	UpdatedTS int64 `json:"updated_ts,omitempty"`
	// LastMessage is a denormalized summary of the newest message so the
	// room list renders without a per-room fetch.
	LastMessage *Message `json:"last_message,omitempty"`
}

// HasMember reports whether id is a member of the conversation.
func (c *Conversation) HasMember(id string) bool {
	for _, m := range c.Members {
		if m == id {
			return true
		}
	}
	return false
}

// RemoveMember drops id from the member set; returns true if it was present.
func (c *Conversation) RemoveMember(id string) bool {
	for i, m := range c.Members {
		if m == id {
			c.Members = append(c.Members[:i], c.Members[i+1:]...)
			return true
		}
	}
	return false
}
