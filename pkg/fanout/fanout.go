// Package fanout translates successful mutations into broker events: the
// conversation topic feeds open message views, each member's personal
// topic feeds the cross-room list.
package fanout

import (
	"chatsync/pkg/broker"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/telemetry"
)

// Dispatcher publishes mutation events. Member-topic publishes are
// best-effort and independent: a missed one self-heals on that member's
// next liveness resync.
type Dispatcher struct {
	hub *broker.Hub
}

func New(hub *broker.Hub) *Dispatcher {
	return &Dispatcher{hub: hub}
}

// SendProvisional is stage one of the two-stage send publish: it runs
// before persistence with a temporary id so connected members see the
// message with minimal latency. The carried clientId lets every cache
// collapse this with the final event into one visible entry.
func (d *Dispatcher) SendProvisional(m models.Message) {
	m.Provisional = true
	d.hub.Publish(broker.TopicConversation(m.Conversation), models.EventNewMessage, m)
	telemetry.EventPublished(models.EventNewMessage)
	logger.Debug("fanout_provisional", "conv", m.Conversation, "client_id", m.ClientID)
}

// SendFinal is stage two: the authoritative record after the transactional
// persist, plus a summary event on every member's personal topic.
func (d *Dispatcher) SendFinal(m models.Message, c models.Conversation) {
	d.hub.Publish(broker.TopicConversation(m.Conversation), models.EventNewMessage, m)
	telemetry.EventPublished(models.EventNewMessage)
	d.roomEvent(models.EventRoomUpdated, c, c.Members)
	logger.Debug("fanout_final", "conv", m.Conversation, "msg", m.ID)
}

// MessageEdited publishes the edited record on the conversation topic
// and refreshes every member's room summary (the edit may have rewritten
// the last message).
func (d *Dispatcher) MessageEdited(m models.Message, c models.Conversation) {
	d.hub.Publish(broker.TopicConversation(m.Conversation), models.EventEditMessage, m)
	telemetry.EventPublished(models.EventEditMessage)
	d.roomEvent(models.EventRoomUpdated, c, c.Members)
}

// MessageDeleted publishes the tombstoned record on the conversation
// topic and refreshes every member's room summary (the last message may
// have changed).
func (d *Dispatcher) MessageDeleted(m models.Message, c models.Conversation) {
	d.hub.Publish(broker.TopicConversation(m.Conversation), models.EventDeleteMessage, m)
	telemetry.EventPublished(models.EventDeleteMessage)
	d.roomEvent(models.EventRoomUpdated, c, c.Members)
}

// RoomAdded notifies members of a newly created (or newly joined)
// conversation.
func (d *Dispatcher) RoomAdded(c models.Conversation, members []string) {
	d.roomEvent(models.EventRoomAdded, c, members)
}

// RoomRenamed notifies members of a name change.
func (d *Dispatcher) RoomRenamed(c models.Conversation) {
	d.roomEvent(models.EventRoomRenamed, c, c.Members)
}

// RoomMembersUpdated notifies the remaining members after an add/remove.
func (d *Dispatcher) RoomMembersUpdated(c models.Conversation) {
	d.roomEvent(models.EventRoomMembersUpdated, c, c.Members)
}

// RoomRemoved tells specific users the room is gone for them (left,
// removed, or destroyed).
func (d *Dispatcher) RoomRemoved(c models.Conversation, users []string) {
	d.roomEvent(models.EventRoomRemoved, c, users)
}

func (d *Dispatcher) roomEvent(kind string, c models.Conversation, members []string) {
	for _, u := range members {
		d.hub.Publish(broker.TopicUser(u), kind, c)
		telemetry.EventPublished(kind)
	}
}
