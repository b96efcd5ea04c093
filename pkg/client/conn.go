package client

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"chatsync/pkg/auth"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
)

// Identity is the caller identity attached to every request and to the
// stream handshake. SigningKey may be empty against servers running with
// unsigned identities allowed.
type Identity struct {
	ID         string
	Name       string
	Avatar     string
	SigningKey string
}

func (id Identity) headers() http.Header {
	h := http.Header{}
	h.Set("X-User-ID", id.ID)
	if id.SigningKey != "" {
		h.Set("X-User-Signature", auth.Sign(id.SigningKey, id.ID))
	}
	return h
}

// ConnState is the stream connection state.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
)

// ConnConfig configures the event stream connection.
type ConnConfig struct {
	BaseURL              string
	Identity             Identity
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
}

func (c *ConnConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
}

type streamCommand struct {
	Op    string `json:"op"`
	Topic string `json:"topic"`
}

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	// a connection that held for a minute earns a fresh attempt budget
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

// Conn is the push event stream with auto-reconnect and heartbeat. The
// desired topic set survives reconnects: every conversation subscription
// is replayed after the stream is re-established, then the OnConnected
// hooks run so callers can force a reconciling read for the gap.
type Conn struct {
	cfg ConnConfig

	mu               sync.Mutex
	conn             *websocket.Conn
	state            ConnState
	intentionalClose bool
	cancelFn         context.CancelFunc
	topics           map[string]struct{}

	recon *reconnector

	handlerMu      sync.RWMutex
	onEnvelope     []func(models.Envelope)
	onConnected    []func()
	onDisconnected []func(reason string)
}

// NewConn builds a disconnected stream client.
func NewConn(cfg ConnConfig) *Conn {
	cfg.defaults()
	return &Conn{
		cfg:    cfg,
		state:  StateDisconnected,
		topics: make(map[string]struct{}),
		recon: &reconnector{
			baseDelay:   cfg.ReconnectBaseDelay,
			maxDelay:    cfg.ReconnectMaxDelay,
			maxAttempts: cfg.MaxReconnectAttempts,
		},
	}
}

// OnEnvelope registers a handler for every pushed event.
func (c *Conn) OnEnvelope(h func(models.Envelope)) {
	c.handlerMu.Lock()
	c.onEnvelope = append(c.onEnvelope, h)
	c.handlerMu.Unlock()
}

// OnConnected registers a handler run after each successful connect,
// including reconnects.
func (c *Conn) OnConnected(h func()) {
	c.handlerMu.Lock()
	c.onConnected = append(c.onConnected, h)
	c.handlerMu.Unlock()
}

// OnDisconnected registers a handler for stream loss.
func (c *Conn) OnDisconnected(h func(reason string)) {
	c.handlerMu.Lock()
	c.onDisconnected = append(c.onDisconnected, h)
	c.handlerMu.Unlock()
}

// State returns the current connection state.
func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the stream endpoint and starts the read and heartbeat
// loops.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.intentionalClose = false
	c.mu.Unlock()

	wsURL := strings.Replace(c.cfg.BaseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/v1/stream"

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: c.cfg.Identity.headers(),
	})
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		return fmt.Errorf("stream dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	topics := make([]string, 0, len(c.topics))
	for t := range c.topics {
		topics = append(topics, t)
	}
	c.mu.Unlock()
	c.recon.markConnected()

	// replay conversation subscriptions before any caller-visible hook
	for _, t := range topics {
		if err := c.send(ctx, streamCommand{Op: "subscribe", Topic: t}); err != nil {
			logger.Warn("stream_resubscribe_failed", "topic", t, "error", err.Error())
		}
	}

	connCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancelFn = cancel
	c.mu.Unlock()

	c.emitConnected()

	go c.readLoop(connCtx, conn)
	go c.heartbeatLoop(connCtx, conn)

	return nil
}

// Disconnect closes the stream intentionally; no reconnect follows.
func (c *Conn) Disconnect() error {
	c.mu.Lock()
	c.intentionalClose = true
	if c.cancelFn != nil {
		c.cancelFn()
		c.cancelFn = nil
	}
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	return nil
}

// Subscribe adds a conversation topic to the desired set and, when
// connected, sends the subscribe command. The per-user topic needs no
// subscription; the server attaches it on connect.
func (c *Conn) Subscribe(ctx context.Context, topic string) error {
	c.mu.Lock()
	c.topics[topic] = struct{}{}
	connected := c.state == StateConnected
	c.mu.Unlock()
	if !connected {
		return nil
	}
	return c.send(ctx, streamCommand{Op: "subscribe", Topic: topic})
}

// Unsubscribe removes a conversation topic from the desired set.
func (c *Conn) Unsubscribe(ctx context.Context, topic string) error {
	c.mu.Lock()
	delete(c.topics, topic)
	connected := c.state == StateConnected
	c.mu.Unlock()
	if !connected {
		return nil
	}
	return c.send(ctx, streamCommand{Op: "unsubscribe", Topic: topic})
}

func (c *Conn) send(ctx context.Context, cmd streamCommand) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (c *Conn) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.mu.Lock()
			intentional := c.intentionalClose
			if c.conn == conn {
				c.conn = nil
				c.state = StateDisconnected
			}
			c.mu.Unlock()
			if intentional {
				return
			}
			c.emitDisconnected(err.Error())
			if c.cfg.AutoReconnect && c.recon.shouldReconnect() {
				c.scheduleReconnect()
			}
			return
		}

		var env models.Envelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}
		c.handlerMu.RLock()
		handlers := append([]func(models.Envelope){}, c.onEnvelope...)
		c.handlerMu.RUnlock()
		for _, h := range handlers {
			h(env)
		}
	}
}

func (c *Conn) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}

func (c *Conn) scheduleReconnect() {
	delay := c.recon.nextDelay()
	c.mu.Lock()
	c.state = StateReconnecting
	c.mu.Unlock()
	logger.Info("stream_reconnecting", "attempt", c.recon.attempt, "delay", delay.String())

	time.Sleep(delay)

	c.mu.Lock()
	if c.intentionalClose {
		c.mu.Unlock()
		return
	}
	// Connect refuses while state says connecting/connected
	c.state = StateDisconnected
	c.mu.Unlock()

	if err := c.Connect(context.Background()); err != nil {
		if c.cfg.AutoReconnect && c.recon.shouldReconnect() {
			c.scheduleReconnect()
			return
		}
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
	}
}

func (c *Conn) emitConnected() {
	c.handlerMu.RLock()
	handlers := append([]func(){}, c.onConnected...)
	c.handlerMu.RUnlock()
	for _, h := range handlers {
		go h()
	}
}

func (c *Conn) emitDisconnected(reason string) {
	c.handlerMu.RLock()
	handlers := append([]func(reason string){}, c.onDisconnected...)
	c.handlerMu.RUnlock()
	for _, h := range handlers {
		go h(reason)
	}
}
