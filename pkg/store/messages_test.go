package store

import (
	"fmt"
	"testing"
	"time"

	"chatsync/pkg/errdefs"
	"chatsync/pkg/models"
)

func newGroup(t *testing.T, members ...string) models.Conversation {
	t.Helper()
	c, err := CreateGroup("room", members[0], members[1:])
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	return c
}

func sendN(t *testing.T, convID string, n int) []models.Message {
	t.Helper()
	out := make([]models.Message, 0, n)
	for i := 0; i < n; i++ {
		m, err := CreateMessage(convID, "alice", fmt.Sprintf("c-%d", i), fmt.Sprintf("msg %d", i), "")
		if err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		out = append(out, m)
	}
	return out
}

func TestCreateMessage_Guards(t *testing.T) {
	openTestStore(t)
	g := newGroup(t, "alice", "bob")

	if _, err := CreateMessage("cmissing", "alice", "c-1", "hi", ""); !errdefs.IsCode(err, errdefs.CodeNotFound) {
		t.Fatalf("missing conversation: expected NOT_FOUND, got %v", err)
	}
	if _, err := CreateMessage(g.ID, "mallory", "c-1", "hi", ""); !errdefs.IsCode(err, errdefs.CodePermissionDenied) {
		t.Fatalf("non-member send: expected PERMISSION_DENIED, got %v", err)
	}
}

func TestCreateMessage_ClientIDIdempotent(t *testing.T) {
	openTestStore(t)
	g := newGroup(t, "alice", "bob")

	m1, err := CreateMessage(g.ID, "alice", "retry-1", "hello", "")
	if err != nil {
		t.Fatalf("first send: %v", err)
	}
	// a network retry of the same send must not create a second row
	m2, err := CreateMessage(g.ID, "alice", "retry-1", "hello", "")
	if err != nil {
		t.Fatalf("retry send: %v", err)
	}
	if m1.ID != m2.ID {
		t.Fatalf("retry created a new message: %s vs %s", m1.ID, m2.ID)
	}
	page, err := ListMessagesPage(g.ID, 10, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected 1 stored message, got %d", len(page.Items))
	}
}

func TestListMessagesPage_Pagination(t *testing.T) {
	openTestStore(t)

	const k = 2
	cases := []int{0, 1, k - 1, k, k + 1, 5 * k}
	for _, n := range cases {
		g := newGroup(t, "alice", "bob")
		sent := sendN(t, g.ID, n)

		// walk the full history in pages of k and reassemble
		var got []models.Message
		cursor := ""
		pages := 0
		for {
			page, err := ListMessagesPage(g.ID, k, cursor)
			if err != nil {
				t.Fatalf("n=%d page %d: %v", n, pages, err)
			}
			// older pages prepend
			got = append(append([]models.Message(nil), page.Items...), got...)
			pages++
			if page.NextCursor == "" {
				break
			}
			cursor = page.NextCursor
			if pages > n+2 {
				t.Fatalf("n=%d: pagination did not terminate", n)
			}
		}

		if len(got) != n {
			t.Fatalf("n=%d: reassembled %d messages", n, len(got))
		}
		for i := range got {
			if got[i].ID != sent[i].ID {
				t.Fatalf("n=%d: order mismatch at %d: %s vs %s", n, i, got[i].ID, sent[i].ID)
			}
		}
	}
}

func TestListMessagesPage_ThreeMessages(t *testing.T) {
	openTestStore(t)
	g := newGroup(t, "alice", "bob")
	sent := sendN(t, g.ID, 3)

	p1, err := ListMessagesPage(g.ID, 2, "")
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if len(p1.Items) != 2 || p1.Items[0].ID != sent[1].ID || p1.Items[1].ID != sent[2].ID {
		t.Fatalf("page 1 wrong: %+v", p1.Items)
	}
	if p1.NextCursor != sent[1].ID {
		t.Fatalf("expected cursor %s, got %s", sent[1].ID, p1.NextCursor)
	}

	p2, err := ListMessagesPage(g.ID, 2, p1.NextCursor)
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if len(p2.Items) != 1 || p2.Items[0].ID != sent[0].ID {
		t.Fatalf("page 2 wrong: %+v", p2.Items)
	}
	if p2.NextCursor != "" {
		t.Fatalf("expected end of history, got cursor %s", p2.NextCursor)
	}
}

func TestListMessagesPage_SkipsDeleted(t *testing.T) {
	openTestStore(t)
	g := newGroup(t, "alice", "bob")
	sent := sendN(t, g.ID, 3)

	if _, err := DeleteMessage(sent[1].ID, "alice"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	page, err := ListMessagesPage(g.ID, 10, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 2 {
		t.Fatalf("expected 2 visible messages, got %d", len(page.Items))
	}
	for _, m := range page.Items {
		if m.ID == sent[1].ID {
			t.Fatalf("deleted message still visible")
		}
	}

	// a cursor referencing the deleted id still pages correctly
	p, err := ListMessagesPage(g.ID, 10, sent[1].ID)
	if err != nil {
		t.Fatalf("list with deleted cursor: %v", err)
	}
	if len(p.Items) != 1 || p.Items[0].ID != sent[0].ID {
		t.Fatalf("deleted-id cursor page wrong: %+v", p.Items)
	}
}

func TestEditMessage_WindowAndAuthor(t *testing.T) {
	openTestStore(t)
	g := newGroup(t, "alice", "bob")

	m, err := CreateMessage(g.ID, "alice", "c-1", "original", "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if _, err := EditMessage(m.ID, "bob", "hijack"); !errdefs.IsCode(err, errdefs.CodePermissionDenied) {
		t.Fatalf("non-author edit: expected PERMISSION_DENIED, got %v", err)
	}

	edited, err := EditMessage(m.ID, "alice", "fixed")
	if err != nil {
		t.Fatalf("edit inside window: %v", err)
	}
	if edited.Text != "fixed" || !edited.Edited {
		t.Fatalf("edit not applied: %+v", edited)
	}
	if edited.ID != m.ID || edited.CreatedTS != m.CreatedTS {
		t.Fatalf("edit must preserve id and creation time")
	}

	// expired window
	setTestWindow(t, time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	if _, err := EditMessage(m.ID, "alice", "late"); !errdefs.IsCode(err, errdefs.CodeInvalidArgument) {
		t.Fatalf("expired edit: expected INVALID_ARGUMENT, got %v", err)
	}
}

func TestDeleteMessage_Terminal(t *testing.T) {
	openTestStore(t)
	g := newGroup(t, "alice", "bob")

	m, err := CreateMessage(g.ID, "alice", "c-1", "bye", "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := DeleteMessage(m.ID, "alice"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	// deletion is terminal: no further edits or deletes
	if _, err := EditMessage(m.ID, "alice", "undo"); !errdefs.IsCode(err, errdefs.CodeNotFound) {
		t.Fatalf("edit after delete: expected NOT_FOUND, got %v", err)
	}
	if _, err := DeleteMessage(m.ID, "alice"); !errdefs.IsCode(err, errdefs.CodeNotFound) {
		t.Fatalf("double delete: expected NOT_FOUND, got %v", err)
	}
}

func TestListMessageVersions_History(t *testing.T) {
	openTestStore(t)
	g := newGroup(t, "alice", "bob")

	m, err := CreateMessage(g.ID, "alice", "c-1", "v1", "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := EditMessage(m.ID, "alice", "v2"); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if _, err := EditMessage(m.ID, "alice", "v3"); err != nil {
		t.Fatalf("edit: %v", err)
	}

	vs, err := ListMessageVersions(m.ID)
	if err != nil {
		t.Fatalf("versions: %v", err)
	}
	if len(vs) != 3 {
		t.Fatalf("expected 3 versions, got %d", len(vs))
	}
	if vs[0].Text != "v1" || vs[2].Text != "v3" {
		t.Fatalf("versions out of order: %+v", vs)
	}
}

func TestCompactVersions_KeepsLatest(t *testing.T) {
	openTestStore(t)
	g := newGroup(t, "alice", "bob")

	m, err := CreateMessage(g.ID, "alice", "c-1", "v1", "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := EditMessage(m.ID, "alice", "v2"); err != nil {
		t.Fatalf("edit: %v", err)
	}

	// keep=0 makes every superseded version eligible immediately
	n, err := CompactVersions(0, false)
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 compacted version, got %d", n)
	}
	vs, err := ListMessageVersions(m.ID)
	if err != nil {
		t.Fatalf("versions after compact: %v", err)
	}
	if len(vs) != 1 || vs[0].Text != "v2" {
		t.Fatalf("expected only the newest version to survive, got %+v", vs)
	}
}

func roomFor(t *testing.T, userID, convID string) models.Conversation {
	t.Helper()
	rooms, err := ListRooms(userID)
	if err != nil {
		t.Fatalf("list rooms: %v", err)
	}
	for _, r := range rooms {
		if r.ID == convID {
			return r
		}
	}
	t.Fatalf("conversation %s not in %s's rooms", convID, userID)
	return models.Conversation{}
}

func TestRoomSummary_FollowsEdit(t *testing.T) {
	openTestStore(t)
	g := newGroup(t, "alice", "bob")

	m, err := CreateMessage(g.ID, "alice", "c-1", "old text", "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := EditMessage(m.ID, "alice", "new text"); err != nil {
		t.Fatalf("edit: %v", err)
	}

	room := roomFor(t, "bob", g.ID)
	if room.LastMessage == nil {
		t.Fatal("expected a last-message summary")
	}
	if room.LastMessage.Text != "new text" {
		t.Fatalf("summary still carries pre-edit text: %q", room.LastMessage.Text)
	}
	if !room.LastMessage.Edited {
		t.Fatal("summary not marked edited")
	}
}

func TestRoomSummary_RecomputedAfterDelete(t *testing.T) {
	openTestStore(t)
	g := newGroup(t, "alice", "bob")

	first, err := CreateMessage(g.ID, "alice", "c-1", "still here", "")
	if err != nil {
		t.Fatalf("send first: %v", err)
	}
	second, err := CreateMessage(g.ID, "alice", "c-2", "secret", "")
	if err != nil {
		t.Fatalf("send second: %v", err)
	}
	if _, err := DeleteMessage(second.ID, "alice"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	// the summary falls back to the newest surviving message
	room := roomFor(t, "bob", g.ID)
	if room.LastMessage == nil {
		t.Fatal("expected a last-message summary")
	}
	if room.LastMessage.ID != first.ID || room.LastMessage.Text != "still here" {
		t.Fatalf("summary carries deleted content: %+v", room.LastMessage)
	}

	// with no visible message left, the summary clears entirely
	if _, err := DeleteMessage(first.ID, "alice"); err != nil {
		t.Fatalf("delete first: %v", err)
	}
	room = roomFor(t, "bob", g.ID)
	if room.LastMessage != nil {
		t.Fatalf("summary survived the last delete: %+v", room.LastMessage)
	}
}

func TestRoomSummary_UntouchedForOlderMutation(t *testing.T) {
	openTestStore(t)
	g := newGroup(t, "alice", "bob")

	older, err := CreateMessage(g.ID, "alice", "c-1", "first", "")
	if err != nil {
		t.Fatalf("send first: %v", err)
	}
	newest, err := CreateMessage(g.ID, "alice", "c-2", "second", "")
	if err != nil {
		t.Fatalf("send second: %v", err)
	}
	if _, err := DeleteMessage(older.ID, "alice"); err != nil {
		t.Fatalf("delete older: %v", err)
	}

	room := roomFor(t, "bob", g.ID)
	if room.LastMessage == nil || room.LastMessage.ID != newest.ID {
		t.Fatalf("summary should still point at the newest message: %+v", room.LastMessage)
	}
}
