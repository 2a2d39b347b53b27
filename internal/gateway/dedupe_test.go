package gateway

import (
	"fmt"
	"testing"
	"time"

	"github.com/nextlevelbuilder/nanoroom/internal/bus"
)

func TestDedupeDropsRepeatedEnvelope(t *testing.T) {
	c := newDedupeCache()
	env := bus.MessageEnvelope{Channel: "telegram", SenderID: "u1", ChatID: "42", TraceID: "t-1"}

	if c.Seen(env) {
		t.Fatal("first delivery flagged as duplicate")
	}
	if !c.Seen(env) {
		t.Fatal("redelivery not flagged as duplicate")
	}

	other := env
	other.TraceID = "t-2"
	if c.Seen(other) {
		t.Fatal("distinct trace flagged as duplicate")
	}
}

func TestDedupeExpiresAfterTTL(t *testing.T) {
	c := newDedupeCache()
	now := time.Now()
	c.now = func() time.Time { return now }

	env := bus.MessageEnvelope{Channel: "ws", ChatID: "c", TraceID: "t"}
	c.Seen(env)

	now = now.Add(dedupeTTL + time.Second)
	if c.Seen(env) {
		t.Fatal("expired entry still treated as duplicate")
	}
}

func TestDedupeEvictsOldestWhenFull(t *testing.T) {
	c := newDedupeCache()
	c.max = 10
	now := time.Now()
	c.now = func() time.Time { return now }

	for i := 0; i < 11; i++ {
		now = now.Add(time.Second)
		c.Seen(bus.MessageEnvelope{Channel: "ws", TraceID: fmt.Sprintf("t-%d", i)})
	}
	if len(c.seen) > 10 {
		t.Fatalf("cache holds %d keys, cap is 10", len(c.seen))
	}
	// The oldest key was evicted, so its redelivery passes through.
	if c.Seen(bus.MessageEnvelope{Channel: "ws", TraceID: "t-0"}) {
		t.Fatal("evicted entry still treated as duplicate")
	}
}
