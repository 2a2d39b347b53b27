package router

import "sync"

// StickyRouter maintains per-session tier elevation: once a conversation
// reaches complex or reasoning, cheaper classifications do not drop it
// unless the downgrade heuristic fires with high confidence.
type StickyRouter struct {
	mu                  sync.Mutex
	history             map[string][]Tier // session key -> recent tiers
	contextWindow       int
	downgradeConfidence float64
}

func NewStickyRouter(contextWindow int, downgradeConfidence float64) *StickyRouter {
	if contextWindow <= 0 {
		contextWindow = 5
	}
	if downgradeConfidence <= 0 {
		downgradeConfidence = 0.90
	}
	return &StickyRouter{
		history:             make(map[string][]Tier),
		contextWindow:       contextWindow,
		downgradeConfidence: downgradeConfidence,
	}
}

// Apply adjusts a decision for session stickiness and records the result.
func (s *StickyRouter) Apply(sessionKey string, d Decision, scores Scores, wordCount int) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	recent := s.history[sessionKey]
	elevated := highestElevated(recent)

	if elevated != "" && d.Tier.rank() < elevated.rank() {
		if !(d.Tier == TierSimple &&
			d.Confidence >= s.downgradeConfidence &&
			shouldDowngrade(scores, wordCount)) {
			d.Tier = elevated
			d.Layer = LayerSticky
			d.Reasoning = "sticky: maintaining elevated tier"
		}
	}

	recent = append(recent, d.Tier)
	if len(recent) > s.contextWindow {
		recent = recent[len(recent)-s.contextWindow:]
	}
	s.history[sessionKey] = recent
	return d
}

// Reset drops the sticky state for a session (used by /new).
func (s *StickyRouter) Reset(sessionKey string) {
	s.mu.Lock()
	delete(s.history, sessionKey)
	s.mu.Unlock()
}

func highestElevated(tiers []Tier) Tier {
	var best Tier
	for _, t := range tiers {
		if !t.Elevated() {
			continue
		}
		if best == "" || t.rank() > best.rank() {
			best = t
		}
	}
	return best
}

// shouldDowngrade is the heuristic gate for dropping an elevated tier:
// the message must be short, non-technical, and clearly simple.
func shouldDowngrade(scores Scores, wordCount int) bool {
	return wordCount <= 8 &&
		scores.TechnicalTerms == 0 &&
		scores.SimpleIndicators >= 0.5
}
