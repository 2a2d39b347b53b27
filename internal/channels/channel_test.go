package channels

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/nanoroom/internal/bus"
)

type captureChannel struct {
	name string
	mu   sync.Mutex
	sent []bus.MessageEnvelope
	ch   chan struct{}
}

func newCaptureChannel(name string) *captureChannel {
	return &captureChannel{name: name, ch: make(chan struct{}, 16)}
}

func (c *captureChannel) Name() string                   { return c.name }
func (c *captureChannel) Start(context.Context) error    { return nil }
func (c *captureChannel) Stop(context.Context) error     { return nil }
func (c *captureChannel) Send(_ context.Context, env bus.MessageEnvelope) error {
	c.mu.Lock()
	c.sent = append(c.sent, env)
	c.mu.Unlock()
	c.ch <- struct{}{}
	return nil
}

func (c *captureChannel) waitSent(t *testing.T, n int) []bus.MessageEnvelope {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for send %d of %d", i+1, n)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]bus.MessageEnvelope(nil), c.sent...)
}

func TestOutboundDispatchRoutesByChannel(t *testing.T) {
	b := bus.NewMessageBus()
	m := NewManager(b, 0)
	tg := newCaptureChannel("telegram")
	dc := newCaptureChannel("discord")
	m.Register(tg)
	m.Register(dc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartAll(ctx)

	b.PublishOutbound(bus.MessageEnvelope{Channel: "telegram", ChatID: "1", Content: "to tg"})
	b.PublishOutbound(bus.MessageEnvelope{Channel: "discord", ChatID: "2", Content: "to dc"})
	b.PublishOutbound(bus.MessageEnvelope{Channel: "missing", ChatID: "3", Content: "dropped"})
	b.PublishOutbound(bus.MessageEnvelope{Channel: "telegram", ChatID: "1", Content: "again"})

	sent := tg.waitSent(t, 2)
	if sent[0].Content != "to tg" || sent[1].Content != "again" {
		t.Fatalf("telegram got %v", sent)
	}
	if got := dc.waitSent(t, 1); got[0].Content != "to dc" {
		t.Fatalf("discord got %v", got)
	}
}

func TestManagerNames(t *testing.T) {
	m := NewManager(bus.NewMessageBus(), 10)
	m.Register(newCaptureChannel("zulu"))
	m.Register(newCaptureChannel("alpha"))
	names := m.Names()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "zulu" {
		t.Fatalf("names %v", names)
	}
}
