// Package channels connects external messaging platforms to the bus.
package channels

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/nanoroom/internal/bus"
)

// Channel is one transport adapter. Start pushes inbound envelopes onto
// the bus; Send delivers outbound envelopes to the platform.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, env bus.MessageEnvelope) error
}

// Manager starts the enabled channels and fans outbound messages from
// the bus to the right adapter, rate limited per chat.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]Channel
	bus      *bus.MessageBus

	limiters     sync.Map // "channel:chat_id" -> *rate.Limiter
	perChatLimit rate.Limit
	burst        int
}

// NewManager builds a manager with an outbound per-chat rate limit of
// msgsPerMinute (0 disables limiting).
func NewManager(b *bus.MessageBus, msgsPerMinute int) *Manager {
	m := &Manager{
		channels:     make(map[string]Channel),
		bus:          b,
		perChatLimit: rate.Inf,
		burst:        1,
	}
	if msgsPerMinute > 0 {
		m.perChatLimit = rate.Every(time.Minute / time.Duration(msgsPerMinute))
		m.burst = msgsPerMinute
	}
	return m
}

func (m *Manager) Register(c Channel) {
	m.mu.Lock()
	m.channels[c.Name()] = c
	m.mu.Unlock()
}

func (m *Manager) Get(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.channels[name]
	return c, ok
}

// Names lists registered channels, sorted.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StartAll starts every channel and the outbound dispatcher. A channel
// that fails to start is logged and skipped; the rest keep running.
func (m *Manager) StartAll(ctx context.Context) {
	m.mu.RLock()
	list := make([]Channel, 0, len(m.channels))
	for _, c := range m.channels {
		list = append(list, c)
	}
	m.mu.RUnlock()

	for _, c := range list {
		if err := c.Start(ctx); err != nil {
			slog.Error("channels: start failed", "component", "channels", "channel", c.Name(), "error", err)
			continue
		}
		slog.Info("channels: started", "component", "channels", "channel", c.Name())
	}
	go m.dispatchOutbound(ctx)
}

// StopAll stops channels in registration-independent order.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.channels {
		if err := c.Stop(ctx); err != nil {
			slog.Warn("channels: stop failed", "component", "channels", "channel", c.Name(), "error", err)
		}
	}
}

// dispatchOutbound drains the bus and delivers to adapters.
func (m *Manager) dispatchOutbound(ctx context.Context) {
	for {
		env, ok := m.bus.SubscribeOutbound(ctx)
		if !ok {
			return
		}
		c, found := m.Get(env.Channel)
		if !found {
			slog.Warn("channels: no adapter for outbound message",
				"component", "channels", "channel", env.Channel, "chat", env.ChatID)
			continue
		}

		if err := m.waitLimit(ctx, env.Channel, env.ChatID); err != nil {
			return
		}
		if err := c.Send(ctx, env); err != nil {
			slog.Error("channels: send failed",
				"component", "channels", "channel", env.Channel, "chat", env.ChatID, "error", err)
		}
	}
}

func (m *Manager) waitLimit(ctx context.Context, channel, chatID string) error {
	if m.perChatLimit == rate.Inf {
		return nil
	}
	key := channel + ":" + chatID
	v, _ := m.limiters.LoadOrStore(key, rate.NewLimiter(m.perChatLimit, m.burst))
	return v.(*rate.Limiter).Wait(ctx)
}
