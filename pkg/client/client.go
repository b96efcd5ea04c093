// Package client is the synchronization engine's consumer half: a cache
// of conversation history that is fed by local optimistic sends, pushed
// broker events, and fallback reconciling reads, and that converges on
// the store's authoritative record regardless of how the three streams
// interleave.
package client

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatsync/pkg/errdefs"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
)

// Options configures a Client.
type Options struct {
	BaseURL    string
	Identity   Identity
	HTTPClient *http.Client

	// PageSize is the history page size requested from the server.
	PageSize int
	// EditWindow mirrors the server's modification window so controls
	// can fail fast before a round trip.
	EditWindow time.Duration
	// IdleResyncBase and IdleResyncMax bound the liveness fallback timer.
	IdleResyncBase time.Duration
	IdleResyncMax  time.Duration

	// Stream tunables; zero values take the connection defaults.
	AutoReconnect        bool
	MaxReconnectAttempts int
	HeartbeatInterval    time.Duration
}

func (o *Options) defaults() {
	if o.PageSize == 0 {
		o.PageSize = 50
	}
	if o.EditWindow == 0 {
		o.EditWindow = 60 * time.Second
	}
	if o.IdleResyncBase == 0 {
		o.IdleResyncBase = 15 * time.Second
	}
	if o.IdleResyncMax == 0 {
		o.IdleResyncMax = 5 * time.Minute
	}
}

// Client owns the stream connection, the room list, and one View per
// open conversation.
type Client struct {
	opts  Options
	api   *apiClient
	conn  *Conn
	rooms *RoomList

	mu    sync.Mutex
	views map[string]*View
}

// New builds a client; Start connects the stream.
func New(opts Options) *Client {
	opts.defaults()
	c := &Client{
		opts:  opts,
		api:   newAPIClient(opts.BaseURL, opts.HTTPClient, opts.Identity),
		rooms: NewRoomList(),
		views: make(map[string]*View),
	}
	c.conn = NewConn(ConnConfig{
		BaseURL:              opts.BaseURL,
		Identity:             opts.Identity,
		AutoReconnect:        opts.AutoReconnect,
		MaxReconnectAttempts: opts.MaxReconnectAttempts,
		HeartbeatInterval:    opts.HeartbeatInterval,
	})
	c.conn.OnEnvelope(c.handleEnvelope)
	c.conn.OnConnected(c.handleConnected)
	return c
}

// Start loads the room list and connects the push stream.
func (c *Client) Start(ctx context.Context) error {
	rooms, err := c.api.listRooms(ctx)
	if err != nil {
		return err
	}
	c.rooms.Load(rooms)
	return c.conn.Connect(ctx)
}

// Close tears down every view and the stream.
func (c *Client) Close() error {
	c.mu.Lock()
	views := make([]*View, 0, len(c.views))
	for _, v := range c.views {
		views = append(views, v)
	}
	c.views = make(map[string]*View)
	c.mu.Unlock()
	for _, v := range views {
		v.live.Stop()
	}
	return c.conn.Disconnect()
}

// Rooms is the cross-conversation summary surface.
func (c *Client) Rooms() *RoomList { return c.rooms }

// Conn exposes the stream for state inspection.
func (c *Client) Conn() *Conn { return c.conn }

// OpenDirect resolves (or creates) the direct conversation with a peer
// and opens a view on it.
func (c *Client) OpenDirect(ctx context.Context, peerID string) (*View, error) {
	conv, err := c.api.getOrCreateDirect(ctx, peerID)
	if err != nil {
		return nil, err
	}
	c.rooms.Upsert(conv)
	return c.Open(ctx, conv.ID)
}

// CreateGroup creates a named group conversation and opens a view on it.
func (c *Client) CreateGroup(ctx context.Context, name string, members []string) (*View, error) {
	conv, err := c.api.createGroup(ctx, name, members)
	if err != nil {
		return nil, err
	}
	c.rooms.Upsert(conv)
	return c.Open(ctx, conv.ID)
}

// RenameGroup renames a group conversation.
func (c *Client) RenameGroup(ctx context.Context, convID, name string) error {
	conv, err := c.api.renameGroup(ctx, convID, name)
	if err != nil {
		return err
	}
	c.rooms.Upsert(conv)
	return nil
}

// AddMember adds a user to a group conversation.
func (c *Client) AddMember(ctx context.Context, convID, userID string) error {
	conv, err := c.api.addMember(ctx, convID, userID)
	if err != nil {
		return err
	}
	c.rooms.Upsert(conv)
	return nil
}

// RemoveMember removes a user (possibly the caller) from a group.
func (c *Client) RemoveMember(ctx context.Context, convID, userID string) error {
	if err := c.api.removeMember(ctx, convID, userID); err != nil {
		return err
	}
	if userID == c.opts.Identity.ID {
		c.rooms.Remove(convID)
		c.closeView(convID)
	}
	return nil
}

// Open loads the first history page for a conversation, subscribes to
// its topic, and starts the liveness fallback. Opening an already open
// conversation returns the existing view.
func (c *Client) Open(ctx context.Context, convID string) (*View, error) {
	c.mu.Lock()
	if v, ok := c.views[convID]; ok {
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	page, err := c.api.listPage(ctx, convID, c.opts.PageSize, "", false)
	if err != nil {
		return nil, err
	}

	v := &View{c: c, conv: convID, cache: NewCache(convID, c.rooms)}
	v.live = NewLiveness(LivenessConfig{Base: c.opts.IdleResyncBase, Max: c.opts.IdleResyncMax}, v.resync)
	v.cache.LoadInitial(page.Items, page.NextCursor)

	c.mu.Lock()
	if existing, ok := c.views[convID]; ok {
		c.mu.Unlock()
		return existing, nil
	}
	c.views[convID] = v
	c.mu.Unlock()

	if err := c.conn.Subscribe(ctx, "conversation:"+convID); err != nil {
		logger.Warn("subscribe_failed", "conv", convID, "error", err.Error())
	}
	v.live.Start()
	return v, nil
}

// CloseView unsubscribes and drops the view for a conversation.
func (c *Client) CloseView(convID string) { c.closeView(convID) }

func (c *Client) closeView(convID string) {
	c.mu.Lock()
	v, ok := c.views[convID]
	delete(c.views, convID)
	c.mu.Unlock()
	if !ok {
		return
	}
	v.live.Stop()
	_ = c.conn.Unsubscribe(context.Background(), "conversation:"+convID)
}

func (c *Client) view(convID string) *View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.views[convID]
}

// handleEnvelope routes pushed events: conversation topics feed the open
// view's cache, the personal topic feeds the room list.
func (c *Client) handleEnvelope(env models.Envelope) {
	if strings.HasPrefix(env.Topic, "conversation:") {
		convID := strings.TrimPrefix(env.Topic, "conversation:")
		v := c.view(convID)
		if v == nil {
			return
		}
		var m models.Message
		if err := env.Decode(&m); err != nil {
			logger.Warn("event_decode_failed", "kind", env.Kind, "error", err.Error())
			return
		}
		switch env.Kind {
		case models.EventNewMessage, models.EventEditMessage:
			v.cache.Apply(m)
		case models.EventDeleteMessage:
			m.Deleted = true
			v.cache.Apply(m)
		}
		v.live.ObserveEvent()
		return
	}

	var conv models.Conversation
	if err := env.Decode(&conv); err != nil {
		logger.Warn("event_decode_failed", "kind", env.Kind, "error", err.Error())
		return
	}
	switch env.Kind {
	case models.EventRoomAdded, models.EventRoomUpdated:
		c.rooms.Upsert(conv)
	case models.EventRoomRenamed:
		c.rooms.Rename(conv.ID, conv.Name)
	case models.EventRoomMembersUpdated:
		c.rooms.SetMembers(conv.ID, conv.Members)
	case models.EventRoomRemoved:
		c.rooms.Remove(conv.ID)
		c.closeView(conv.ID)
	}
}

// handleConnected runs after every (re)connect: missed events are
// unrecoverable from the stream, so each open view forces a reconciling
// read.
func (c *Client) handleConnected() {
	c.mu.Lock()
	views := make([]*View, 0, len(c.views))
	for _, v := range c.views {
		views = append(views, v)
	}
	c.mu.Unlock()
	for _, v := range views {
		v.live.OnReconnect()
	}
}

// View is one open conversation: its reconciliation cache plus the
// liveness fallback driving resyncs.
type View struct {
	c    *Client
	conv string

	cache *Cache
	live  *Liveness

	fetchMu  sync.Mutex
	fetching bool
}

// Conversation returns the view's conversation id.
func (v *View) Conversation() string { return v.conv }

// Messages is the ordered, deduplicated projection for rendering.
func (v *View) Messages() []models.Message { return v.cache.Snapshot() }

// HasOlder reports whether more history can be paged in.
func (v *View) HasOlder() bool { return v.cache.NextCursor() != "" }

// SetVisible tracks whether the view is on screen; hiding lets the
// liveness interval back off, showing forces a resync.
func (v *View) SetVisible(visible bool) { v.live.SetVisible(visible) }

// Send performs an optimistic send: the provisional entry appears
// immediately, the authoritative record replaces it on success, and a
// failure rolls the cache back to its pre-send state.
func (v *View) Send(ctx context.Context, text string) (models.Message, error) {
	return v.SendReply(ctx, text, "")
}

// SendReply is Send with a referenced parent message.
func (v *View) SendReply(ctx context.Context, text, replyTo string) (models.Message, error) {
	clientID := uuid.NewString()
	v.cache.ApplyProvisional(clientID, v.c.opts.Identity.ID, text, replyTo)

	saved, err := v.c.api.sendMessage(ctx, v.conv, text, clientID, replyTo)
	if err != nil {
		v.cache.Rollback(clientID)
		return models.Message{}, err
	}
	v.cache.Apply(saved)
	return saved, nil
}

// Edit replaces a message's text. The client-side window check fails
// fast; the server remains the source of truth.
func (v *View) Edit(ctx context.Context, m models.Message, text string) (models.Message, error) {
	if !CanModify(m, v.c.opts.Identity.ID, v.c.opts.EditWindow, time.Now()) {
		return models.Message{}, errdefs.InvalidArg("message can no longer be edited")
	}
	edited, err := v.c.api.editMessage(ctx, m.ID, text)
	if err != nil {
		v.evictStale(m, err)
		return models.Message{}, err
	}
	v.cache.Apply(edited)
	return edited, nil
}

// Delete tombstones a message.
func (v *View) Delete(ctx context.Context, m models.Message) error {
	if !CanModify(m, v.c.opts.Identity.ID, v.c.opts.EditWindow, time.Now()) {
		return errdefs.InvalidArg("message can no longer be deleted")
	}
	if err := v.c.api.deleteMessage(ctx, m.ID); err != nil {
		v.evictStale(m, err)
		return err
	}
	m.Deleted = true
	v.cache.Apply(m)
	return nil
}

// evictStale drops a cached entry the server no longer knows about so
// the view stops rendering a record nobody else can see.
func (v *View) evictStale(m models.Message, err error) {
	if !errdefs.IsCode(err, errdefs.CodeNotFound) {
		return
	}
	m.Deleted = true
	v.cache.Apply(m)
}

// Versions fetches the full version history of a message.
func (v *View) Versions(ctx context.Context, msgID string) ([]models.Message, error) {
	return v.c.api.listVersions(ctx, msgID)
}

// LoadOlder pages one more page of history in at the head. Concurrent
// calls coalesce: while a fetch is in flight, further calls return
// without issuing another.
func (v *View) LoadOlder(ctx context.Context) error {
	cursor := v.cache.NextCursor()
	if cursor == "" {
		return nil
	}
	v.fetchMu.Lock()
	if v.fetching {
		v.fetchMu.Unlock()
		return nil
	}
	v.fetching = true
	v.fetchMu.Unlock()
	defer func() {
		v.fetchMu.Lock()
		v.fetching = false
		v.fetchMu.Unlock()
	}()

	page, err := v.c.api.listPage(ctx, v.conv, v.c.opts.PageSize, cursor, false)
	if err != nil {
		return err
	}
	v.cache.MergeOlderPage(page.Items, page.NextCursor)
	return nil
}

// resync is the liveness fallback read: the newest page, merged through
// reconciliation rather than replacing the cache.
func (v *View) resync() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	page, err := v.c.api.listPage(ctx, v.conv, v.c.opts.PageSize, "", true)
	if err != nil {
		logger.Warn("resync_failed", "conv", v.conv, "error", err.Error())
		return
	}
	for _, m := range page.Items {
		v.cache.Apply(m)
	}
}
