package broker

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// origin policy is enforced by the CORS middleware upstream
		return true
	},
}

// command is the client-to-server control frame on the stream socket.
type command struct {
	Op    string `json:"op"`    // subscribe | unsubscribe
	Topic string `json:"topic"` // conversation:<id>
}

// session is one websocket consumer: a set of hub subscriptions pumped
// onto a single connection.
type session struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string

	mu   sync.Mutex
	subs map[string]*Subscription
	out  chan models.Envelope
	done chan struct{}
}

// allowTopic restricts what a caller may subscribe to: conversation
// topics, or their own personal topic (which is attached automatically).
func (s *session) allowTopic(name string) bool {
	return strings.HasPrefix(name, "conversation:")
}

// ServeWS upgrades the request and runs the session until either side
// closes. The caller's personal topic is subscribed automatically so room
// events reach views that never open the conversation feed.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string, onOpen, onClose func()) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("ws_upgrade_failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	if onOpen != nil {
		onOpen()
	}
	s := &session{
		hub:    h,
		conn:   conn,
		userID: userID,
		subs:   make(map[string]*Subscription),
		out:    make(chan models.Envelope, subBuffer),
		done:   make(chan struct{}),
	}
	s.attach(TopicUser(userID))
	logger.Info("stream_opened", "user", userID, "remote", r.RemoteAddr)

	go s.writePump()
	s.readPump()

	close(s.done)
	s.mu.Lock()
	for _, sub := range s.subs {
		sub.Close()
	}
	s.subs = nil
	s.mu.Unlock()
	_ = conn.Close()
	if onClose != nil {
		onClose()
	}
	logger.Info("stream_closed", "user", userID)
}

func (s *session) attach(topicName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		return
	}
	if _, ok := s.subs[topicName]; ok {
		return
	}
	sub := s.hub.Subscribe(topicName)
	s.subs[topicName] = sub
	go func() {
		for env := range sub.C {
			select {
			case s.out <- env:
			case <-s.done:
				return
			}
		}
	}()
}

func (s *session) detach(topicName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.subs[topicName]; ok {
		delete(s.subs, topicName)
		sub.Close()
	}
}

func (s *session) readPump() {
	s.conn.SetReadLimit(4096)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("stream_read_error", "user", s.userID, "error", err)
			}
			return
		}
		var cmd command
		if err := json.Unmarshal(raw, &cmd); err != nil {
			logger.Warn("stream_bad_command", "user", s.userID)
			continue
		}
		switch cmd.Op {
		case "subscribe":
			if s.allowTopic(cmd.Topic) {
				s.attach(cmd.Topic)
			} else {
				logger.Warn("stream_topic_denied", "user", s.userID, "topic", cmd.Topic)
			}
		case "unsubscribe":
			s.detach(cmd.Topic)
		}
	}
}

func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case env := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(env); err != nil {
				logger.Debug("stream_write_failed", "user", s.userID, "error", err)
				_ = s.conn.Close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = s.conn.Close()
				return
			}
		case <-s.done:
			return
		}
	}
}
