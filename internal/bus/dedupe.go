package bus

import (
	"sync"
	"time"
)

// DedupeCache suppresses duplicate inbound messages. Transport delivery is
// at-least-once (webhook retries, double-taps); duplicates within the TTL
// window are dropped before they reach a broker.
type DedupeCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	entries map[string]time.Time
}

func NewDedupeCache(ttl time.Duration, maxSize int) *DedupeCache {
	return &DedupeCache{
		ttl:     ttl,
		maxSize: maxSize,
		entries: make(map[string]time.Time),
	}
}

// IsDuplicate reports whether key was seen within the TTL window and
// records it. Stale entries are pruned opportunistically; when the cache
// is full after pruning the oldest entry is evicted.
func (d *DedupeCache) IsDuplicate(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if seen, ok := d.entries[key]; ok && now.Sub(seen) < d.ttl {
		return true
	}

	if len(d.entries) >= d.maxSize {
		for k, t := range d.entries {
			if now.Sub(t) >= d.ttl {
				delete(d.entries, k)
			}
		}
	}
	if len(d.entries) >= d.maxSize {
		var oldestKey string
		var oldest time.Time
		for k, t := range d.entries {
			if oldestKey == "" || t.Before(oldest) {
				oldestKey, oldest = k, t
			}
		}
		delete(d.entries, oldestKey)
	}

	d.entries[key] = now
	return false
}
