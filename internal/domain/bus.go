package domain

import "time"

// MessageBus routes messages between channel adapters and the gateway, and
// fans out core events to however many external subscribers exist.
type MessageBus interface {
	Publish(msg InboundMessage)
	Subscribe() <-chan InboundMessage
	SendOutbound(msg OutboundMessage)
	OnOutbound(channelName string, handler func(OutboundMessage))
	Emit(ev Event)
	SubscribeEvents(category EventCategory) <-chan Event
	Close()
}

// EventCategory partitions the event fan-out into bounded topics.
type EventCategory string

const (
	EventPipeline  EventCategory = "pipeline"
	EventHeartbeat EventCategory = "heartbeat"
)

// Event is a notification about core activity, published for external
// consumers (a dashboard, a log shipper). The core does not know or care how
// many subscribers exist; slow subscribers miss events.
type Event struct {
	Category EventCategory
	Name     string
	At       time.Time
	Fields   map[string]string
}
