package gateway

import (
	"sync"
	"time"

	"github.com/nextlevelbuilder/nanoroom/internal/bus"
)

const (
	dedupeTTL     = 20 * time.Minute
	dedupeMaxKeys = 5000
)

// dedupeCache drops inbound envelopes already seen within the TTL.
// Channels deliver at-least-once; the cache makes processing effectively
// exactly-once for the common redelivery window.
type dedupeCache struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	max  int
	now  func() time.Time
}

func newDedupeCache() *dedupeCache {
	return &dedupeCache{
		seen: make(map[string]time.Time),
		ttl:  dedupeTTL,
		max:  dedupeMaxKeys,
		now:  time.Now,
	}
}

func dedupeKey(env bus.MessageEnvelope) string {
	return env.Channel + "|" + env.SenderID + "|" + env.ChatID + "|" + env.TraceID
}

// Seen records the envelope and reports whether it was already present.
func (c *dedupeCache) Seen(env bus.MessageEnvelope) bool {
	key := dedupeKey(env)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if at, ok := c.seen[key]; ok && now.Sub(at) < c.ttl {
		return true
	}
	c.seen[key] = now

	if len(c.seen) > c.max {
		c.prune(now)
	}
	return false
}

// prune drops expired keys, then the oldest entries if still over max.
func (c *dedupeCache) prune(now time.Time) {
	for k, at := range c.seen {
		if now.Sub(at) >= c.ttl {
			delete(c.seen, k)
		}
	}
	for len(c.seen) > c.max {
		var oldestKey string
		var oldest time.Time
		for k, at := range c.seen {
			if oldestKey == "" || at.Before(oldest) {
				oldestKey, oldest = k, at
			}
		}
		delete(c.seen, oldestKey)
	}
}
