// Package broker is the process-wide publish/subscribe fabric. Topics are
// created on first subscribe and reference-counted per active
// subscription, so unrelated views never race on connect/disconnect.
// Delivery is best-effort per subscriber: a slow consumer drops the oldest
// events rather than blocking publishers; the client's liveness fallback
// covers any loss.
package broker

import (
	"encoding/json"
	"sync"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
)

// TopicConversation returns the topic name for a conversation feed.
func TopicConversation(convID string) string { return "conversation:" + convID }

// TopicUser returns the personal topic name for a member.
func TopicUser(userID string) string { return "user:" + userID }

const subBuffer = 64

// Subscription is one consumer's handle on a topic. Events arrive on C in
// publish order; Close releases the topic reference.
type Subscription struct {
	Topic string
	C     chan models.Envelope

	hub  *Hub
	once sync.Once
}

// Close unsubscribes and releases the topic reference.
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.unsubscribe(s) })
}

type topic struct {
	subs map[*Subscription]struct{}
}

// Hub fans events out to topic subscribers. One Hub per process.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]*topic
}

func NewHub() *Hub {
	return &Hub{topics: make(map[string]*topic)}
}

// Subscribe attaches a new subscriber to a topic, creating the topic on
// first use.
func (h *Hub) Subscribe(name string) *Subscription {
	s := &Subscription{Topic: name, C: make(chan models.Envelope, subBuffer), hub: h}
	h.mu.Lock()
	t, ok := h.topics[name]
	if !ok {
		t = &topic{subs: make(map[*Subscription]struct{})}
		h.topics[name] = t
		logger.Debug("topic_created", "topic", name)
	}
	t.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

func (h *Hub) unsubscribe(s *Subscription) {
	h.mu.Lock()
	if t, ok := h.topics[s.Topic]; ok {
		delete(t.subs, s)
		if len(t.subs) == 0 {
			delete(h.topics, s.Topic)
			logger.Debug("topic_released", "topic", s.Topic)
		}
	}
	h.mu.Unlock()
	close(s.C)
}

// Publish delivers an event to every current subscriber of the topic.
// Within one topic, each subscriber observes events in publish order.
func (h *Hub) Publish(topicName, kind string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		logger.Error("publish_marshal_failed", "topic", topicName, "kind", kind, "error", err)
		return
	}
	env := models.Envelope{Topic: topicName, Kind: kind, Payload: raw}

	h.mu.RLock()
	t, ok := h.topics[topicName]
	if !ok {
		h.mu.RUnlock()
		return
	}
	for s := range t.subs {
		select {
		case s.C <- env:
		default:
			// shed the oldest event to keep the publisher unblocked
			select {
			case <-s.C:
			default:
			}
			select {
			case s.C <- env:
			default:
			}
			logger.Warn("subscriber_overflow", "topic", topicName)
		}
	}
	h.mu.RUnlock()
}

// SubscriberCount reports the live subscriptions for a topic (tests,
// metrics).
func (h *Hub) SubscriberCount(topicName string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if t, ok := h.topics[topicName]; ok {
		return len(t.subs)
	}
	return 0
}
