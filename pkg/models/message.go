package models

// Message is one unit of conversation content. IDs are assigned by the
// store and sort by creation time within a conversation, so a message id
// doubles as a pagination cursor.
type Message struct {
	ID           string `json:"id"`
	Conversation string `json:"conversation"`
	Author       string `json:"author"`
	Text         string `json:"text"`
	// ClientID is the sender-generated idempotency token. It is indexed
	// alongside the message but never becomes the authoritative id.
	ClientID string `json:"clientId,omitempty"`
	// Created/Updated timestamps (ns)
	CreatedTS int64 `json:"created_ts"`
	UpdatedTS int64 `json:"updated_ts,omitempty"`
	Edited    bool  `json:"edited,omitempty"`
	// Deleted marks a logical tombstone; the row is retained so pagination
	// cursors referencing this id stay valid.
	Deleted bool `json:"deleted,omitempty"`
	// Optional reply-to message ID
	ReplyTo string `json:"reply_to,omitempty"`
	// Provisional is set only on the pre-persist broadcast of a send; the
	// id it carries is temporary and is superseded by the final event with
	// the same ClientID.
	Provisional bool `json:"provisional,omitempty"`
}
