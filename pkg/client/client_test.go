package client_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/pkg/api"
	"chatsync/pkg/api/handlers"
	"chatsync/pkg/auth"
	"chatsync/pkg/broker"
	"chatsync/pkg/client"
	"chatsync/pkg/config"
	"chatsync/pkg/fanout"
	"chatsync/pkg/store"
)

const signingKey = "signsecret"

func setupServer(t *testing.T) *httptest.Server {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	config.SetRuntime(&config.RuntimeConfig{SigningKeys: map[string]struct{}{signingKey: {}}})
	auth.SetAllowUnsigned(false)
	auth.SetLimiter(auth.LimiterConfig{RPS: 1000, Burst: 1000})

	hub := broker.NewHub()
	h := api.Handler(handlers.Deps{
		Hub:      hub,
		Dispatch: fanout.New(hub),
	}, api.Options{DefaultPageSize: 50, MaxPageSize: 200})

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, srv *httptest.Server, user string) *client.Client {
	t.Helper()
	c := client.New(client.Options{
		BaseURL:  srv.URL,
		Identity: client.Identity{ID: user, SigningKey: signingKey},
		PageSize: 10,
	})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start client %s: %v", user, err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClient_SendPropagatesToPeer(t *testing.T) {
	srv := setupServer(t)
	alice := newTestClient(t, srv, "alice")
	bob := newTestClient(t, srv, "bob")

	ctx := context.Background()
	av, err := alice.OpenDirect(ctx, "bob")
	require.NoError(t, err)
	bv, err := bob.Open(ctx, av.Conversation())
	require.NoError(t, err)
	// let the subscribe command land on the server
	time.Sleep(100 * time.Millisecond)

	sent, err := av.Send(ctx, "hello bob")
	require.NoError(t, err)
	assert.False(t, sent.Provisional)

	// sender's cache converged to the authoritative record
	msgs := av.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, sent.ID, msgs[0].ID)

	// peer receives the push; the provisional and final stages must
	// collapse into one entry
	require.Eventually(t, func() bool {
		ms := bv.Messages()
		return len(ms) == 1 && ms[0].ID == sent.ID && !ms[0].Provisional
	}, 3*time.Second, 20*time.Millisecond, "peer should converge to exactly the final record")
}

func TestClient_EditAndDeletePropagate(t *testing.T) {
	srv := setupServer(t)
	alice := newTestClient(t, srv, "alice")
	bob := newTestClient(t, srv, "bob")

	ctx := context.Background()
	av, err := alice.OpenDirect(ctx, "bob")
	require.NoError(t, err)
	bv, err := bob.Open(ctx, av.Conversation())
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	first, err := av.Send(ctx, "first")
	require.NoError(t, err)
	second, err := av.Send(ctx, "second")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(bv.Messages()) == 2 },
		3*time.Second, 20*time.Millisecond)

	_, err = av.Edit(ctx, first, "first (fixed)")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		ms := bv.Messages()
		return len(ms) == 2 && ms[0].Text == "first (fixed)" && ms[0].Edited
	}, 3*time.Second, 20*time.Millisecond, "edit should reach the peer in place")

	require.NoError(t, av.Delete(ctx, second))
	require.Eventually(t, func() bool {
		ms := bv.Messages()
		return len(ms) == 1 && ms[0].ID == first.ID
	}, 3*time.Second, 20*time.Millisecond, "delete should tombstone on the peer")
}

func TestClient_RollbackOnRejectedSend(t *testing.T) {
	srv := setupServer(t)
	alice := newTestClient(t, srv, "alice")

	ctx := context.Background()
	av, err := alice.OpenDirect(ctx, "bob")
	require.NoError(t, err)

	// empty text is rejected server-side; the provisional must vanish
	_, err = av.Send(ctx, "")
	require.Error(t, err)
	assert.Empty(t, av.Messages(), "failed send must leave no trace")
}

func TestClient_LoadOlderPagesBackwards(t *testing.T) {
	srv := setupServer(t)
	alice := newTestClient(t, srv, "alice")

	ctx := context.Background()
	av, err := alice.OpenDirect(ctx, "bob")
	require.NoError(t, err)
	convID := av.Conversation()
	for i := 0; i < 25; i++ {
		_, err := av.Send(ctx, "msg")
		require.NoError(t, err)
	}
	alice.CloseView(convID)

	// a fresh open sees only the newest page
	av2, err := alice.Open(ctx, convID)
	require.NoError(t, err)
	assert.Len(t, av2.Messages(), 10)
	require.True(t, av2.HasOlder())

	require.NoError(t, av2.LoadOlder(ctx))
	assert.Len(t, av2.Messages(), 20)

	require.NoError(t, av2.LoadOlder(ctx))
	assert.Len(t, av2.Messages(), 25)
	assert.False(t, av2.HasOlder(), "history exhausted")

	// ascending order end to end
	ms := av2.Messages()
	for i := 1; i < len(ms); i++ {
		assert.True(t, ms[i-1].CreatedTS <= ms[i].CreatedTS, "order violated at %d", i)
	}
}

func TestClient_RoomListFollowsActivity(t *testing.T) {
	srv := setupServer(t)
	alice := newTestClient(t, srv, "alice")
	bob := newTestClient(t, srv, "bob")

	ctx := context.Background()
	av, err := alice.OpenDirect(ctx, "bob")
	require.NoError(t, err)

	_, err = av.Send(ctx, "ping")
	require.NoError(t, err)

	// bob's room list learns about the new conversation via his personal
	// topic without ever opening the view
	require.Eventually(t, func() bool {
		rooms := bob.Rooms().Snapshot()
		return len(rooms) == 1 && rooms[0].ID == av.Conversation() &&
			rooms[0].LastMessage != nil && rooms[0].LastMessage.Text == "ping"
	}, 3*time.Second, 20*time.Millisecond)
}
