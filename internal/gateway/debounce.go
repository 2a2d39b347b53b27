package gateway

import (
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/nanoroom/internal/bus"
)

// debouncer merges bursts of messages from the same sender in the same
// chat into one envelope so a user typing in several short lines gets
// one agent run instead of several.
type debouncer struct {
	mu      sync.Mutex
	window  time.Duration
	pending map[string]*pendingBatch
	flush   func(bus.MessageEnvelope)
}

type pendingBatch struct {
	env   bus.MessageEnvelope
	parts []string
	timer *time.Timer
}

// newDebouncer builds a debouncer; window <= 0 passes envelopes through
// unbuffered.
func newDebouncer(window time.Duration, flush func(bus.MessageEnvelope)) *debouncer {
	return &debouncer{
		window:  window,
		pending: make(map[string]*pendingBatch),
		flush:   flush,
	}
}

func debounceKey(env bus.MessageEnvelope) string {
	return env.Channel + "|" + env.ChatID + "|" + env.SenderID
}

func (d *debouncer) Add(env bus.MessageEnvelope) {
	if d.window <= 0 {
		d.flush(env)
		return
	}

	key := debounceKey(env)
	d.mu.Lock()
	defer d.mu.Unlock()

	if b, ok := d.pending[key]; ok {
		b.parts = append(b.parts, env.Content)
		b.env = env // latest envelope wins for timestamp and trace id
		b.timer.Reset(d.window)
		return
	}

	b := &pendingBatch{env: env, parts: []string{env.Content}}
	b.timer = time.AfterFunc(d.window, func() { d.flushKey(key) })
	d.pending[key] = b
}

func (d *debouncer) flushKey(key string) {
	d.mu.Lock()
	b, ok := d.pending[key]
	delete(d.pending, key)
	d.mu.Unlock()
	if !ok {
		return
	}

	env := b.env
	env.Content = strings.Join(b.parts, "\n")
	d.flush(env)
}

// Drain flushes everything immediately, used at shutdown.
func (d *debouncer) Drain() {
	d.mu.Lock()
	keys := make([]string, 0, len(d.pending))
	for k, b := range d.pending {
		b.timer.Stop()
		keys = append(keys, k)
	}
	d.mu.Unlock()
	for _, k := range keys {
		d.flushKey(k)
	}
}
