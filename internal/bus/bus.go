package bus

import (
	"context"
	"log/slog"
	"sync"
)

// MessageRouter abstracts inbound/outbound message routing between channels
// and the room runtime. Channels publish inbound, the broker manager
// consumes; the agent publishes outbound, channels subscribe.
type MessageRouter interface {
	PublishInbound(env MessageEnvelope)
	ConsumeInbound(ctx context.Context) (MessageEnvelope, bool)
	PublishOutbound(env MessageEnvelope)
	SubscribeOutbound(ctx context.Context) (MessageEnvelope, bool)
}

// Event is a server-side event broadcast to WebSocket clients.
type Event struct {
	Name    string      `json:"name"`
	Payload interface{} `json:"payload,omitempty"`
}

// EventHandler handles a broadcast event.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast + subscription.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}

// MessageBus is the in-process implementation of MessageRouter and
// EventPublisher backed by buffered channels.
type MessageBus struct {
	inbound  chan MessageEnvelope
	outbound chan MessageEnvelope

	mu       sync.RWMutex
	handlers map[string]EventHandler
}

func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:  make(chan MessageEnvelope, 256),
		outbound: make(chan MessageEnvelope, 256),
		handlers: make(map[string]EventHandler),
	}
}

// PublishInbound queues an envelope received from a channel. Drops with a
// log line when the bus buffer is full rather than blocking the channel's
// receive goroutine.
func (b *MessageBus) PublishInbound(env MessageEnvelope) {
	env.Direction = DirectionInbound
	env.EnsureTimestamp()
	env.EnsureTraceID()
	select {
	case b.inbound <- env:
	default:
		slog.Error("bus: inbound buffer full, dropping message",
			"channel", env.Channel, "chat_id", env.ChatID, "trace_id", env.TraceID)
	}
}

// ConsumeInbound blocks until an inbound envelope is available or ctx is
// cancelled. The second return is false on cancellation.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (MessageEnvelope, bool) {
	select {
	case env := <-b.inbound:
		return env, true
	case <-ctx.Done():
		return MessageEnvelope{}, false
	}
}

// PublishOutbound queues an envelope for delivery back to its channel.
func (b *MessageBus) PublishOutbound(env MessageEnvelope) {
	env.Direction = DirectionOutbound
	env.EnsureTimestamp()
	select {
	case b.outbound <- env:
	default:
		slog.Error("bus: outbound buffer full, dropping message",
			"channel", env.Channel, "chat_id", env.ChatID, "trace_id", env.TraceID)
	}
}

// SubscribeOutbound blocks until an outbound envelope is available or ctx
// is cancelled.
func (b *MessageBus) SubscribeOutbound(ctx context.Context) (MessageEnvelope, bool) {
	select {
	case env := <-b.outbound:
		return env, true
	case <-ctx.Done():
		return MessageEnvelope{}, false
	}
}

// Subscribe registers an event handler under an id.
func (b *MessageBus) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[id] = handler
}

// Unsubscribe removes a handler.
func (b *MessageBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, id)
}

// Broadcast fans an event out to all subscribed handlers.
func (b *MessageBus) Broadcast(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, h := range b.handlers {
		h(event)
	}
}
