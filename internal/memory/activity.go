package memory

import (
	"sync"
	"time"
)

// ActivityTracker records the last inbound user message so the background
// processor can avoid competing with live conversation.
type ActivityTracker struct {
	mu             sync.RWMutex
	lastInbound    time.Time
	quietThreshold time.Duration
}

// NewActivityTracker returns a tracker that considers the user active for
// quietThreshold after each inbound message.
func NewActivityTracker(quietThreshold time.Duration) *ActivityTracker {
	return &ActivityTracker{quietThreshold: quietThreshold}
}

// MarkInbound records user activity now.
func (t *ActivityTracker) MarkInbound() {
	t.mu.Lock()
	t.lastInbound = time.Now()
	t.mu.Unlock()
}

// IsUserActive reports whether an inbound message arrived within the
// quiet threshold.
func (t *ActivityTracker) IsUserActive() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.lastInbound.IsZero() {
		return false
	}
	return time.Since(t.lastInbound) < t.quietThreshold
}

// LastInbound returns the time of the most recent inbound message.
func (t *ActivityTracker) LastInbound() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastInbound
}
