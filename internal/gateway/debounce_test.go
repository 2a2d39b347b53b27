package gateway

import (
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/nanoroom/internal/bus"
)

type flushRecorder struct {
	mu  sync.Mutex
	got []bus.MessageEnvelope
	sig chan struct{}
}

func newFlushRecorder() *flushRecorder {
	return &flushRecorder{sig: make(chan struct{}, 16)}
}

func (r *flushRecorder) flush(env bus.MessageEnvelope) {
	r.mu.Lock()
	r.got = append(r.got, env)
	r.mu.Unlock()
	r.sig <- struct{}{}
}

func (r *flushRecorder) wait(t *testing.T, n int) []bus.MessageEnvelope {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.sig:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for flush %d of %d", i+1, n)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bus.MessageEnvelope(nil), r.got...)
}

func TestDebounceZeroWindowPassesThrough(t *testing.T) {
	rec := newFlushRecorder()
	d := newDebouncer(0, rec.flush)

	d.Add(bus.MessageEnvelope{Channel: "ws", ChatID: "a", Content: "one"})
	d.Add(bus.MessageEnvelope{Channel: "ws", ChatID: "a", Content: "two"})

	got := rec.wait(t, 2)
	if got[0].Content != "one" || got[1].Content != "two" {
		t.Fatalf("flushed %v", got)
	}
}

func TestDebounceMergesBurst(t *testing.T) {
	rec := newFlushRecorder()
	d := newDebouncer(30*time.Millisecond, rec.flush)

	d.Add(bus.MessageEnvelope{Channel: "telegram", ChatID: "9", SenderID: "u", Content: "first line"})
	d.Add(bus.MessageEnvelope{Channel: "telegram", ChatID: "9", SenderID: "u", Content: "second line"})

	got := rec.wait(t, 1)
	if got[0].Content != "first line\nsecond line" {
		t.Fatalf("merged content %q", got[0].Content)
	}
}

func TestDebounceKeepsChatsSeparate(t *testing.T) {
	rec := newFlushRecorder()
	d := newDebouncer(20*time.Millisecond, rec.flush)

	d.Add(bus.MessageEnvelope{Channel: "telegram", ChatID: "1", SenderID: "u", Content: "a"})
	d.Add(bus.MessageEnvelope{Channel: "telegram", ChatID: "2", SenderID: "u", Content: "b"})

	got := rec.wait(t, 2)
	if len(got) != 2 || got[0].Content == got[1].Content {
		t.Fatalf("flushed %v", got)
	}
}

func TestDebounceDrainFlushesPending(t *testing.T) {
	rec := newFlushRecorder()
	d := newDebouncer(10*time.Second, rec.flush)

	d.Add(bus.MessageEnvelope{Channel: "ws", ChatID: "x", Content: "pending"})
	d.Drain()

	got := rec.wait(t, 1)
	if got[0].Content != "pending" {
		t.Fatalf("drained %v", got)
	}
}
