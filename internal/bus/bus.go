// Package bus is the in-process message bus between channel adapters, the
// pipeline, and event consumers.
package bus

import (
	"log/slog"
	"sync"
	"time"

	"aide/internal/domain"
)

const (
	publishTimeout  = 10 * time.Second
	eventBufferSize = 64
)

// InMemoryBus is a Go-channel based message bus for in-process
// communication. Inbound delivery is bounded and blocking; event fan-out
// is bounded and lossy for slow subscribers.
type InMemoryBus struct {
	inbound     chan domain.InboundMessage
	handlers    map[string]func(domain.OutboundMessage)
	subscribers map[domain.EventCategory][]chan domain.Event
	mu          sync.RWMutex
	closed      bool
	logger      *slog.Logger
}

// New creates a new InMemoryBus with the given inbound buffer size.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryBus{
		inbound:     make(chan domain.InboundMessage, bufferSize),
		handlers:    make(map[string]func(domain.OutboundMessage)),
		subscribers: make(map[domain.EventCategory][]chan domain.Event),
		logger:      logger,
	}
}

// Publish blocks up to 10 seconds if the bus is full instead of dropping.
func (b *InMemoryBus) Publish(msg domain.InboundMessage) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus")
		return
	}

	select {
	case b.inbound <- msg:
	default:
		b.logger.Warn("inbound bus full, waiting", "channel", msg.Channel, "sender", msg.SenderID)
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case b.inbound <- msg:
			b.logger.Info("message delivered after wait", "channel", msg.Channel)
		case <-timer.C:
			b.logger.Error("message dropped: bus full",
				"channel", msg.Channel,
				"sender", msg.SenderID,
			)
		}
	}
}

func (b *InMemoryBus) Subscribe() <-chan domain.InboundMessage {
	return b.inbound
}

func (b *InMemoryBus) SendOutbound(msg domain.OutboundMessage) {
	b.mu.RLock()
	handler, ok := b.handlers[msg.Channel]
	b.mu.RUnlock()

	if !ok {
		b.logger.Warn("no handler registered for channel", "channel", msg.Channel)
		return
	}

	handler(msg)
}

func (b *InMemoryBus) OnOutbound(channelName string, handler func(domain.OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[channelName] = handler
}

// Emit fans an event out to the category's subscribers. A subscriber whose
// buffer is full misses the event; emission never blocks the core.
func (b *InMemoryBus) Emit(ev domain.Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, ch := range b.subscribers[ev.Category] {
		select {
		case ch <- ev:
		default:
			b.logger.Debug("event dropped for slow subscriber",
				"category", ev.Category, "name", ev.Name)
		}
	}
}

// SubscribeEvents returns a bounded channel of events for one category.
func (b *InMemoryBus) SubscribeEvents(category domain.EventCategory) <-chan domain.Event {
	ch := make(chan domain.Event, eventBufferSize)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[category] = append(b.subscribers[category], ch)
	return ch
}

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	close(b.inbound)
	for _, chans := range b.subscribers {
		for _, ch := range chans {
			close(ch)
		}
	}
}
