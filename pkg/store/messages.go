package store

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"chatsync/pkg/errdefs"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/utils"

	"github.com/cockroachdb/pebble"
)

// verSeq disambiguates version rows written within the same nanosecond.
var verSeq uint64

// Page is the result of one keyset pagination read. Items ascend by time;
// NextCursor is set iff the page was full, so a null cursor signals the
// end of history.
type Page struct {
	Items      []models.Message `json:"items"`
	NextCursor string           `json:"nextCursor,omitempty"`
}

// CreateMessage persists one send: guards (conversation exists, author is
// a member), clientId idempotency, and a single write batch holding the
// message row, its version row, the idempotency index, and the bumped
// conversation meta. Both writes land or neither does.
func CreateMessage(convID, authorID, clientID, text, replyTo string) (models.Message, error) {
	if db == nil {
		return models.Message{}, notOpened()
	}
	convMu.Lock()
	defer convMu.Unlock()

	c, err := getConv(convID)
	if err != nil {
		return models.Message{}, err
	}
	if !c.HasMember(authorID) {
		return models.Message{}, errdefs.Forbidden("author is not a member")
	}

	// at most one non-deleted message per (conversation, clientId):
	// a retry of the same send returns the stored message unchanged
	if v, closer, gerr := db.Get(clientKey(convID, clientID)); gerr == nil {
		existing := string(v)
		closer.Close()
		if m, lerr := GetLatestMessage(existing); lerr == nil && !m.Deleted {
			logger.Info("send_deduplicated", "conv", convID, "client_id", clientID, "msg", existing)
			return m, nil
		}
	} else if gerr != pebble.ErrNotFound {
		return models.Message{}, errdefs.Unavailable("idempotency index read failed", gerr)
	}

	m := models.Message{
		ID:           utils.GenMsgID(),
		Conversation: convID,
		Author:       authorID,
		Text:         text,
		ClientID:     clientID,
		ReplyTo:      replyTo,
		CreatedTS:    time.Now().UTC().UnixNano(),
	}
	data, err := json.Marshal(m)
	if err != nil {
		return models.Message{}, errdefs.Internal("marshal message", err)
	}

	// updatedAt is monotonically non-decreasing; clamp against clock skew
	if m.CreatedTS > c.UpdatedTS {
		c.UpdatedTS = m.CreatedTS
	}
	summary := m
	c.LastMessage = &summary
	meta, err := json.Marshal(c)
	if err != nil {
		return models.Message{}, errdefs.Internal("marshal conversation", err)
	}

	wb := db.NewBatch()
	_ = wb.Set(msgKey(convID, m.ID), data, nil)
	_ = wb.Set(latestKey(m.ID), data, nil)
	_ = wb.Set(clientKey(convID, clientID), []byte(m.ID), nil)
	_ = wb.Set(versionKey(m.ID, m.CreatedTS, atomic.AddUint64(&verSeq, 1)%1000000), data, nil)
	_ = wb.Set(convMetaKey(convID), meta, nil)
	if err := applyBatch(wb); err != nil {
		logger.Error("save_message_failed", "conv", convID, "msg", m.ID, "error", err)
		return models.Message{}, errdefs.Unavailable("message write failed", err)
	}
	logger.Info("message_saved", "conv", convID, "msg", m.ID)
	return m, nil
}

// ListMessagesPage reads one keyset page. The scan runs newest-first
// (optionally strictly older than cursor) and the result is reversed to
// ascending order, so callers always prepend older pages in O(page).
// Deleted rows are traversed but excluded from output, keeping cursors
// that reference a deleted id valid.
func ListMessagesPage(convID string, limit int, cursor string) (Page, error) {
	if db == nil {
		return Page{}, notOpened()
	}
	if _, err := getConv(convID); err != nil {
		return Page{}, err
	}
	if limit <= 0 {
		limit = 50
	}

	lower := msgPrefix(convID)
	upper := prefixUpperBound(lower)
	if cursor != "" {
		// exclusive upper bound: everything strictly older than the cursor
		upper = msgKey(convID, cursor)
	}
	iter, err := db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return Page{}, errdefs.Unavailable("message scan failed", err)
	}
	defer iter.Close()

	items := make([]models.Message, 0, limit)
	for ok := iter.Last(); ok && len(items) < limit; ok = iter.Prev() {
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			logger.Error("invalid_message_row", "key", string(iter.Key()), "error", err)
			continue
		}
		if m.Deleted {
			continue
		}
		items = append(items, m)
	}
	if err := iter.Error(); err != nil {
		return Page{}, errdefs.Unavailable("message scan failed", err)
	}

	// reverse to ascending order for delivery
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	p := Page{Items: items}
	if len(items) == limit {
		p.NextCursor = items[0].ID
	}
	return p, nil
}

// GetLatestMessage returns the current version of a message by id.
func GetLatestMessage(msgID string) (models.Message, error) {
	if db == nil {
		return models.Message{}, notOpened()
	}
	v, closer, err := db.Get(latestKey(msgID))
	if err == pebble.ErrNotFound {
		return models.Message{}, errdefs.NotFound("message not found")
	}
	if err != nil {
		return models.Message{}, errdefs.Unavailable("message read failed", err)
	}
	defer closer.Close()
	var m models.Message
	if err := json.Unmarshal(v, &m); err != nil {
		return models.Message{}, errdefs.Internal("invalid stored message", err)
	}
	return m, nil
}

// EditMessage rewrites a message's text. Author-only, bounded by the edit
// window, no partial effect.
func EditMessage(msgID, editorID, newText string) (models.Message, error) {
	return mutateMessage(msgID, editorID, func(m *models.Message) {
		m.Text = newText
		m.Edited = true
	})
}

// DeleteMessage marks a message deleted. The row is kept; deletion is
// logical so pagination cursors stay stable.
func DeleteMessage(msgID, callerID string) (models.Message, error) {
	return mutateMessage(msgID, callerID, func(m *models.Message) {
		m.Deleted = true
	})
}

func mutateMessage(msgID, callerID string, apply func(*models.Message)) (models.Message, error) {
	if db == nil {
		return models.Message{}, notOpened()
	}
	convMu.Lock()
	defer convMu.Unlock()
	m, err := GetLatestMessage(msgID)
	if err != nil {
		return models.Message{}, err
	}
	if m.Deleted {
		return models.Message{}, errdefs.NotFound("message not found")
	}
	if m.Author != callerID {
		return models.Message{}, errdefs.Forbidden("only the author may modify a message")
	}
	now := time.Now().UTC()
	if now.UnixNano()-m.CreatedTS >= int64(editWindow) {
		return models.Message{}, errdefs.InvalidArg("modification window has passed")
	}

	apply(&m)
	m.UpdatedTS = now.UnixNano()
	data, err := json.Marshal(m)
	if err != nil {
		return models.Message{}, errdefs.Internal("marshal message", err)
	}
	wb := db.NewBatch()
	_ = wb.Set(msgKey(m.Conversation, m.ID), data, nil)
	_ = wb.Set(latestKey(m.ID), data, nil)
	_ = wb.Set(versionKey(m.ID, m.UpdatedTS, atomic.AddUint64(&verSeq, 1)%1000000), data, nil)

	// the room summary mirrors the newest visible message; a mutation of
	// that message rewrites the conv meta in the same batch
	if c, gerr := getConv(m.Conversation); gerr == nil && c.LastMessage != nil && c.LastMessage.ID == m.ID {
		if m.Deleted {
			prev, serr := newestVisible(m.Conversation, m.ID)
			if serr != nil {
				return models.Message{}, serr
			}
			c.LastMessage = prev
		} else {
			summary := m
			c.LastMessage = &summary
		}
		if m.UpdatedTS > c.UpdatedTS {
			c.UpdatedTS = m.UpdatedTS
		}
		meta, merr := json.Marshal(c)
		if merr != nil {
			return models.Message{}, errdefs.Internal("marshal conversation", merr)
		}
		_ = wb.Set(convMetaKey(c.ID), meta, nil)
	}

	if err := applyBatch(wb); err != nil {
		logger.Error("mutate_message_failed", "msg", msgID, "error", err)
		return models.Message{}, errdefs.Unavailable("message write failed", err)
	}
	logger.Info("message_mutated", "msg", msgID, "deleted", m.Deleted, "edited", m.Edited)
	return m, nil
}

// newestVisible finds the newest non-deleted message in a conversation,
// skipping skipID (the row being tombstoned in the current batch). Nil
// when no visible message remains.
func newestVisible(convID, skipID string) (*models.Message, error) {
	lower := msgPrefix(convID)
	iter, err := db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: prefixUpperBound(lower)})
	if err != nil {
		return nil, errdefs.Unavailable("message scan failed", err)
	}
	defer iter.Close()
	for ok := iter.Last(); ok; ok = iter.Prev() {
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			continue
		}
		if m.Deleted || m.ID == skipID {
			continue
		}
		return &m, nil
	}
	if err := iter.Error(); err != nil {
		return nil, errdefs.Unavailable("message scan failed", err)
	}
	return nil, nil
}

// ListMessageVersions returns all stored versions for a message id in
// chronological order.
func ListMessageVersions(msgID string) ([]models.Message, error) {
	if db == nil {
		return nil, notOpened()
	}
	pfx := versionPrefix(msgID)
	iter, err := db.NewIter(&pebble.IterOptions{LowerBound: pfx, UpperBound: prefixUpperBound(pfx)})
	if err != nil {
		return nil, errdefs.Unavailable("version scan failed", err)
	}
	defer iter.Close()
	var out []models.Message
	for iter.First(); iter.Valid(); iter.Next() {
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	if err := iter.Error(); err != nil {
		return nil, errdefs.Unavailable("version scan failed", err)
	}
	if len(out) == 0 {
		return nil, errdefs.NotFound("message not found")
	}
	return out, nil
}
