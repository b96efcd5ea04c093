package store

import (
	"encoding/json"
	"sort"
	"time"

	"chatsync/pkg/errdefs"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/utils"

	"github.com/cockroachdb/pebble"
)

func getConv(id string) (models.Conversation, error) {
	var c models.Conversation
	v, closer, err := db.Get(convMetaKey(id))
	if err == pebble.ErrNotFound {
		return c, errdefs.NotFound("conversation not found")
	}
	if err != nil {
		return c, errdefs.Unavailable("conversation read failed", err)
	}
	defer closer.Close()
	if err := json.Unmarshal(v, &c); err != nil {
		return c, errdefs.Internal("invalid conversation metadata", err)
	}
	return c, nil
}

// GetConversation returns the conversation metadata for id.
func GetConversation(id string) (models.Conversation, error) {
	if db == nil {
		return models.Conversation{}, notOpened()
	}
	return getConv(id)
}

// GetOrCreateDirect returns the direct conversation between a and b,
// creating it on first request. A second request for the same unordered
// pair returns the existing conversation.
func GetOrCreateDirect(a, b string) (models.Conversation, bool, error) {
	if db == nil {
		return models.Conversation{}, false, notOpened()
	}
	if a == b {
		return models.Conversation{}, false, errdefs.InvalidArg("direct conversation needs two distinct members")
	}
	convMu.Lock()
	defer convMu.Unlock()

	dk := directKey(a, b)
	if v, closer, err := db.Get(dk); err == nil {
		id := string(v)
		closer.Close()
		c, gerr := getConv(id)
		return c, false, gerr
	} else if err != pebble.ErrNotFound {
		return models.Conversation{}, false, errdefs.Unavailable("direct index read failed", err)
	}

	now := time.Now().UTC().UnixNano()
	c := models.Conversation{
		ID:        utils.GenConvID(),
		Members:   []string{a, b},
		CreatedTS: now,
		UpdatedTS: now,
	}
	meta, _ := json.Marshal(c)
	wb := db.NewBatch()
	_ = wb.Set(convMetaKey(c.ID), meta, nil)
	_ = wb.Set(dk, []byte(c.ID), nil)
	_ = wb.Set(memberKey(a, c.ID), nil, nil)
	_ = wb.Set(memberKey(b, c.ID), nil, nil)
	if err := applyBatch(wb); err != nil {
		return models.Conversation{}, false, errdefs.Unavailable("conversation create failed", err)
	}
	logger.Info("direct_conversation_created", "conv", c.ID)
	return c, true, nil
}

// CreateGroup creates a named group conversation. The creator is always a
// member.
func CreateGroup(name, creator string, members []string) (models.Conversation, error) {
	if db == nil {
		return models.Conversation{}, notOpened()
	}
	set := map[string]struct{}{creator: {}}
	all := []string{creator}
	for _, m := range members {
		if _, ok := set[m]; ok || m == "" {
			continue
		}
		set[m] = struct{}{}
		all = append(all, m)
	}

	now := time.Now().UTC().UnixNano()
	c := models.Conversation{
		ID:        utils.GenConvID(),
		IsGroup:   true,
		Name:      name,
		Members:   all,
		CreatedTS: now,
		UpdatedTS: now,
	}
	meta, _ := json.Marshal(c)
	wb := db.NewBatch()
	_ = wb.Set(convMetaKey(c.ID), meta, nil)
	for _, m := range all {
		_ = wb.Set(memberKey(m, c.ID), nil, nil)
	}
	if err := applyBatch(wb); err != nil {
		return models.Conversation{}, errdefs.Unavailable("group create failed", err)
	}
	logger.Info("group_created", "conv", c.ID, "members", len(all))
	return c, nil
}

// Rename changes a group conversation's name. Caller must be a member.
func Rename(convID, callerID, name string) (models.Conversation, error) {
	if db == nil {
		return models.Conversation{}, notOpened()
	}
	convMu.Lock()
	defer convMu.Unlock()

	c, err := getConv(convID)
	if err != nil {
		return c, err
	}
	if !c.HasMember(callerID) {
		return c, errdefs.Forbidden("caller is not a member")
	}
	if !c.IsGroup {
		return c, errdefs.InvalidArg("direct conversations cannot be renamed")
	}
	c.Name = name
	if err := saveConvLocked(&c); err != nil {
		return c, err
	}
	logger.Info("group_renamed", "conv", convID)
	return c, nil
}

// AddMember adds userID to a group conversation. Caller must be a member.
func AddMember(convID, callerID, userID string) (models.Conversation, error) {
	if db == nil {
		return models.Conversation{}, notOpened()
	}
	convMu.Lock()
	defer convMu.Unlock()

	c, err := getConv(convID)
	if err != nil {
		return c, err
	}
	if !c.HasMember(callerID) {
		return c, errdefs.Forbidden("caller is not a member")
	}
	if !c.IsGroup {
		return c, errdefs.InvalidArg("direct conversations have fixed membership")
	}
	if c.HasMember(userID) {
		return c, nil
	}
	c.Members = append(c.Members, userID)
	meta, _ := json.Marshal(c)
	wb := db.NewBatch()
	_ = wb.Set(convMetaKey(c.ID), meta, nil)
	_ = wb.Set(memberKey(userID, c.ID), nil, nil)
	if err := applyBatch(wb); err != nil {
		return c, errdefs.Unavailable("membership update failed", err)
	}
	logger.Info("member_added", "conv", convID, "user", userID)
	return c, nil
}

// RemoveMember removes userID from a group conversation; removing oneself
// is a leave. A group with zero remaining members is destroyed. The
// returned bool reports destruction.
func RemoveMember(convID, callerID, userID string) (models.Conversation, bool, error) {
	if db == nil {
		return models.Conversation{}, false, notOpened()
	}
	convMu.Lock()
	defer convMu.Unlock()

	c, err := getConv(convID)
	if err != nil {
		return c, false, err
	}
	if !c.HasMember(callerID) {
		return c, false, errdefs.Forbidden("caller is not a member")
	}
	if !c.IsGroup {
		return c, false, errdefs.InvalidArg("direct conversations have fixed membership")
	}
	if callerID != userID && !c.HasMember(userID) {
		return c, false, errdefs.NotFound("user is not a member")
	}
	if !c.RemoveMember(userID) {
		return c, false, errdefs.NotFound("user is not a member")
	}

	wb := db.NewBatch()
	_ = wb.Delete(memberKey(userID, c.ID), nil)
	if len(c.Members) == 0 {
		// last member gone: the group is destroyed; message rows stay
		// behind and surface NotFound on stale references
		_ = wb.Delete(convMetaKey(c.ID), nil)
		if err := applyBatch(wb); err != nil {
			return c, false, errdefs.Unavailable("membership update failed", err)
		}
		logger.Info("group_destroyed", "conv", convID)
		return c, true, nil
	}
	meta, _ := json.Marshal(c)
	_ = wb.Set(convMetaKey(c.ID), meta, nil)
	if err := applyBatch(wb); err != nil {
		return c, false, errdefs.Unavailable("membership update failed", err)
	}
	logger.Info("member_removed", "conv", convID, "user", userID)
	return c, false, nil
}

// ListRooms returns the caller's conversations ordered by UpdatedTS
// descending - the room list projection.
func ListRooms(userID string) ([]models.Conversation, error) {
	if db == nil {
		return nil, notOpened()
	}
	pfx := memberPrefix(userID)
	iter, err := db.NewIter(&pebble.IterOptions{LowerBound: pfx, UpperBound: prefixUpperBound(pfx)})
	if err != nil {
		return nil, errdefs.Unavailable("room list read failed", err)
	}
	defer iter.Close()

	var out []models.Conversation
	for iter.First(); iter.Valid(); iter.Next() {
		convID := string(iter.Key()[len(pfx):])
		c, gerr := getConv(convID)
		if gerr != nil {
			// stale membership index (destroyed group); skip
			continue
		}
		out = append(out, c)
	}
	if err := iter.Error(); err != nil {
		return nil, errdefs.Unavailable("room list read failed", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedTS > out[j].UpdatedTS })
	return out, nil
}

// saveConvLocked persists conversation metadata; convMu must be held.
func saveConvLocked(c *models.Conversation) error {
	meta, err := json.Marshal(c)
	if err != nil {
		return errdefs.Internal("marshal conversation", err)
	}
	if err := db.Set(convMetaKey(c.ID), meta, pebble.Sync); err != nil {
		return errdefs.Unavailable("conversation write failed", err)
	}
	return nil
}
