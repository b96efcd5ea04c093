package validation

import (
	"strings"
	"unicode/utf8"

	"chatsync/pkg/errdefs"
	"chatsync/pkg/models"
)

// Rules bound what the API accepts. Set once at startup from config.
type Rules struct {
	MaxMessageBytes int
	MaxNameLen      int
}

var rules = Rules{MaxMessageBytes: 16 * 1024, MaxNameLen: 120}

func SetRules(r Rules) {
	if r.MaxMessageBytes > 0 {
		rules.MaxMessageBytes = r.MaxMessageBytes
	}
	if r.MaxNameLen > 0 {
		rules.MaxNameLen = r.MaxNameLen
	}
}

// ValidateSendText checks the text of an outgoing send/edit. Empty or
// whitespace-only text is rejected; oversized payloads are rejected before
// they reach the store.
func ValidateSendText(text string) error {
	if strings.TrimSpace(text) == "" {
		return errdefs.InvalidArg("text is required")
	}
	if len(text) > rules.MaxMessageBytes {
		return errdefs.InvalidArg("text exceeds maximum size")
	}
	if !utf8.ValidString(text) {
		return errdefs.InvalidArg("text is not valid utf-8")
	}
	return nil
}

// ValidateMessage checks a fully-formed message before it is persisted.
func ValidateMessage(m models.Message) error {
	if m.Conversation == "" {
		return errdefs.InvalidArg("conversation is required")
	}
	if m.Author == "" {
		return errdefs.InvalidArg("author is required")
	}
	if m.ClientID == "" {
		// mandatory on every send; removes the (text, author) dedup
		// ambiguity on the happy path
		return errdefs.InvalidArg("clientId is required")
	}
	return ValidateSendText(m.Text)
}

// ValidateGroupName checks a group conversation name.
func ValidateGroupName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errdefs.InvalidArg("group name is required")
	}
	if utf8.RuneCountInString(name) > rules.MaxNameLen {
		return errdefs.InvalidArg("group name too long")
	}
	return nil
}
