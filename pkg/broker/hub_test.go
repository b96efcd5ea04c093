package broker

import (
	"fmt"
	"testing"
	"time"

	"chatsync/pkg/models"
)

func recvOne(t *testing.T, c chan models.Envelope) models.Envelope {
	t.Helper()
	select {
	case env := <-c:
		return env
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event")
		return models.Envelope{}
	}
}

func TestHub_PublishReachesAllSubscribers(t *testing.T) {
	h := NewHub()
	s1 := h.Subscribe(TopicConversation("c1"))
	defer s1.Close()
	s2 := h.Subscribe(TopicConversation("c1"))
	defer s2.Close()
	other := h.Subscribe(TopicConversation("c2"))
	defer other.Close()

	h.Publish(TopicConversation("c1"), models.EventNewMessage, models.Message{ID: "m1", Text: "hi"})

	for _, s := range []*Subscription{s1, s2} {
		env := recvOne(t, s.C)
		if env.Kind != models.EventNewMessage {
			t.Fatalf("wrong kind: %s", env.Kind)
		}
		var m models.Message
		if err := env.Decode(&m); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if m.ID != "m1" {
			t.Fatalf("wrong payload: %+v", m)
		}
	}
	select {
	case env := <-other.C:
		t.Fatalf("event leaked onto another topic: %+v", env)
	default:
	}
}

func TestHub_PublishOrderPerSubscriber(t *testing.T) {
	h := NewHub()
	s := h.Subscribe(TopicUser("alice"))
	defer s.Close()

	for i := 0; i < 10; i++ {
		h.Publish(TopicUser("alice"), models.EventRoomUpdated, models.Conversation{ID: fmt.Sprintf("c%d", i)})
	}
	for i := 0; i < 10; i++ {
		env := recvOne(t, s.C)
		var c models.Conversation
		if err := env.Decode(&c); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if c.ID != fmt.Sprintf("c%d", i) {
			t.Fatalf("out of order: got %s at %d", c.ID, i)
		}
	}
}

func TestHub_TopicLifecycle(t *testing.T) {
	h := NewHub()
	name := TopicConversation("c1")

	s1 := h.Subscribe(name)
	s2 := h.Subscribe(name)
	if n := h.SubscriberCount(name); n != 2 {
		t.Fatalf("expected 2 subscribers, got %d", n)
	}

	s1.Close()
	s1.Close() // double close is safe
	if n := h.SubscriberCount(name); n != 1 {
		t.Fatalf("expected 1 subscriber after close, got %d", n)
	}

	s2.Close()
	if n := h.SubscriberCount(name); n != 0 {
		t.Fatalf("expected topic released, got %d subscribers", n)
	}

	// publishing to a released topic is a no-op
	h.Publish(name, models.EventNewMessage, models.Message{ID: "m1"})
}

func TestHub_SlowSubscriberShedsOldest(t *testing.T) {
	h := NewHub()
	s := h.Subscribe(TopicConversation("c1"))
	defer s.Close()

	// overflow the buffer without draining
	total := subBuffer + 8
	for i := 0; i < total; i++ {
		h.Publish(TopicConversation("c1"), models.EventNewMessage, models.Message{ID: fmt.Sprintf("m%03d", i)})
	}

	// the newest event must have survived the shedding
	var last models.Message
	for {
		select {
		case env := <-s.C:
			_ = env.Decode(&last)
			continue
		default:
		}
		break
	}
	if want := fmt.Sprintf("m%03d", total-1); last.ID != want {
		t.Fatalf("expected newest event %s to survive, got %s", want, last.ID)
	}
}
