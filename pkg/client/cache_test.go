package client

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/pkg/models"
)

func mkMsg(id string, ts int64, author, text string) models.Message {
	return models.Message{
		ID:           id,
		Conversation: "c1",
		Author:       author,
		Text:         text,
		CreatedTS:    ts,
	}
}

func texts(ms []models.Message) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Text
	}
	return out
}

func TestCache_ProvisionalThenFinal_NoDuplicate(t *testing.T) {
	c := NewCache("c1", nil)
	c.LoadInitial(nil, "")

	prov := c.ApplyProvisional("cid-1", "alice", "hello", "")
	require.True(t, prov.Provisional)
	require.Equal(t, 1, c.Len())

	// provisional broadcast echoes back with a server-temporary id
	echo := mkMsg("prov-xyz", time.Now().UnixNano(), "alice", "hello")
	echo.ClientID = "cid-1"
	echo.Provisional = true
	c.Apply(echo)
	assert.Equal(t, 1, c.Len(), "broadcast echo must collapse with local provisional")

	// authoritative record replaces whatever entry remains
	final := mkMsg("m1", time.Now().UnixNano(), "alice", "hello")
	final.ClientID = "cid-1"
	c.Apply(final)

	snap := c.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "m1", snap[0].ID)
	assert.False(t, snap[0].Provisional)
}

func TestCache_ApplyIdempotent(t *testing.T) {
	c := NewCache("c1", nil)
	m := mkMsg("m1", 100, "alice", "hi")
	c.Apply(m)
	c.Apply(m)
	c.Apply(m)
	assert.Equal(t, 1, c.Len())
}

func TestCache_HeuristicFallback_MatchesOneProvisionalOnly(t *testing.T) {
	c := NewCache("c1", nil)
	c.ApplyProvisional("cid-a", "alice", "same text", "")
	c.ApplyProvisional("cid-b", "alice", "same text", "")
	require.Equal(t, 2, c.Len())

	// incoming record without clientId falls back to (text, author) and
	// removes exactly one provisional
	c.Apply(mkMsg("m1", time.Now().UnixNano(), "alice", "same text"))
	assert.Equal(t, 2, c.Len())

	// confirmed entries are never merged by the heuristic
	c.Apply(mkMsg("m2", time.Now().UnixNano(), "alice", "same text"))
	assert.Equal(t, 3, c.Len())
}

func TestCache_Rollback_RestoresPriorState(t *testing.T) {
	c := NewCache("c1", nil)
	c.Apply(mkMsg("m1", 100, "bob", "existing"))
	before := c.Snapshot()

	c.ApplyProvisional("cid-fail", "alice", "doomed", "")
	require.Equal(t, 2, c.Len())

	c.Rollback("cid-fail")
	assert.Equal(t, before, c.Snapshot())
}

func TestCache_DeleteTombstone(t *testing.T) {
	c := NewCache("c1", nil)
	c.Apply(mkMsg("m1", 100, "alice", "one"))
	c.Apply(mkMsg("m2", 200, "alice", "two"))

	del := mkMsg("m1", 100, "alice", "one")
	del.Deleted = true
	c.Apply(del)

	snap := c.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "m2", snap[0].ID)

	// deleting an absent id is a no-op
	c.Apply(del)
	assert.Equal(t, 1, c.Len())
}

func TestCache_EditReplacesInPlace(t *testing.T) {
	c := NewCache("c1", nil)
	c.Apply(mkMsg("m1", 100, "alice", "one"))
	c.Apply(mkMsg("m2", 200, "alice", "two"))

	edit := mkMsg("m1", 100, "alice", "one (edited)")
	edit.Edited = true
	c.Apply(edit)

	snap := c.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, []string{"one (edited)", "two"}, texts(snap))
}

func TestCache_TimeOrderedInsert(t *testing.T) {
	c := NewCache("c1", nil)
	c.Apply(mkMsg("m3", 300, "a", "third"))
	c.Apply(mkMsg("m1", 100, "a", "first"))
	c.Apply(mkMsg("m2", 200, "a", "second"))
	assert.Equal(t, []string{"first", "second", "third"}, texts(c.Snapshot()))
}

func TestCache_MergeOlderPage(t *testing.T) {
	c := NewCache("c1", nil)
	c.LoadInitial([]models.Message{
		mkMsg("m3", 300, "a", "three"),
		mkMsg("m4", 400, "a", "four"),
	}, "m3")
	require.Equal(t, "m3", c.NextCursor())

	// older page includes an overlap with the loaded window
	c.MergeOlderPage([]models.Message{
		mkMsg("m1", 100, "a", "one"),
		mkMsg("m2", 200, "a", "two"),
		mkMsg("m3", 300, "a", "three"),
	}, "")

	assert.Equal(t, []string{"one", "two", "three", "four"}, texts(c.Snapshot()))
	assert.Equal(t, "", c.NextCursor())
	assert.True(t, c.Loaded())
}

func TestCache_ResyncConvergesWithInterleaving(t *testing.T) {
	c := NewCache("c1", nil)
	c.LoadInitial(nil, "")

	// optimistic send still in flight
	c.ApplyProvisional("cid-1", "alice", "mine", "")

	// resync read arrives carrying the authoritative copy plus a message
	// from bob the push stream dropped
	server := []models.Message{
		mkMsg("m1", 100, "bob", "yours"),
		func() models.Message {
			m := mkMsg("m2", 200, "alice", "mine")
			m.ClientID = "cid-1"
			return m
		}(),
	}
	for _, m := range server {
		c.Apply(m)
	}

	snap := c.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, []string{"yours", "mine"}, texts(snap))
	for _, m := range snap {
		assert.False(t, m.Provisional)
	}

	// a second identical resync changes nothing
	for _, m := range server {
		c.Apply(m)
	}
	assert.Equal(t, snap, c.Snapshot())
}

func TestCache_RoomListCoupled(t *testing.T) {
	rl := NewRoomList()
	rl.Load([]models.Conversation{{ID: "c1", UpdatedTS: 1}})

	c := NewCache("c1", rl)
	c.Apply(mkMsg("m1", 500, "alice", "latest"))

	room, ok := rl.Get("c1")
	require.True(t, ok)
	require.NotNil(t, room.LastMessage)
	assert.Equal(t, "latest", room.LastMessage.Text)
	assert.EqualValues(t, 500, room.UpdatedTS)
}

func TestCanModify(t *testing.T) {
	now := time.Now()
	window := 60 * time.Second
	base := models.Message{ID: "m1", Author: "alice", CreatedTS: now.Add(-30 * time.Second).UnixNano()}

	assert.True(t, CanModify(base, "alice", window, now))
	assert.False(t, CanModify(base, "bob", window, now), "non-author")

	old := base
	old.CreatedTS = now.Add(-61 * time.Second).UnixNano()
	assert.False(t, CanModify(old, "alice", window, now), "window passed")

	prov := base
	prov.ID = "local-x"
	prov.Provisional = true
	assert.False(t, CanModify(prov, "alice", window, now), "provisional")

	gone := base
	gone.Deleted = true
	assert.False(t, CanModify(gone, "alice", window, now), "deleted")
}

func TestRoomList_SnapshotOrder(t *testing.T) {
	rl := NewRoomList()
	for i := 1; i <= 3; i++ {
		rl.Upsert(models.Conversation{ID: fmt.Sprintf("c%d", i), UpdatedTS: int64(i * 100)})
	}
	snap := rl.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "c3", snap[0].ID)
	assert.Equal(t, "c1", snap[2].ID)

	rl.Remove("c3")
	assert.Len(t, rl.Snapshot(), 2)
}

func TestRoomList_UpsertReplacesSummary(t *testing.T) {
	rl := NewRoomList()
	rl.Upsert(models.Conversation{
		ID:          "c1",
		UpdatedTS:   100,
		LastMessage: &models.Message{ID: "m1", Text: "secret"},
	})

	// a room-updated after the last message was deleted carries no
	// summary; the stale one must not survive the merge
	rl.Upsert(models.Conversation{ID: "c1", UpdatedTS: 200})

	got, ok := rl.Get("c1")
	require.True(t, ok)
	assert.Nil(t, got.LastMessage)
	assert.EqualValues(t, 200, got.UpdatedTS)
}
