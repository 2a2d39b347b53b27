// Package router picks a model tier for each message: a local weighted
// classifier first, sticky elevation across a conversation, and an LLM
// fallback for uncertain cases, with an auto-calibration loop that learns
// new patterns from observed LLM classifications.
package router

// Tier is a model capability class.
type Tier string

const (
	TierSimple    Tier = "simple"
	TierMedium    Tier = "medium"
	TierComplex   Tier = "complex"
	TierReasoning Tier = "reasoning"
	TierCoding    Tier = "coding"
)

// NormalizeTier maps free-form tier labels into the closed set, defaulting
// to medium.
func NormalizeTier(s string) Tier {
	switch Tier(s) {
	case TierSimple, TierMedium, TierComplex, TierReasoning, TierCoding:
		return Tier(s)
	default:
		return TierMedium
	}
}

// rank orders tiers by capability for sticky comparisons. Coding sits
// beside complex: elevated but not reasoning-grade.
func (t Tier) rank() int {
	switch t {
	case TierSimple:
		return 0
	case TierMedium:
		return 1
	case TierCoding:
		return 2
	case TierComplex:
		return 2
	case TierReasoning:
		return 3
	default:
		return 1
	}
}

// Elevated reports whether the tier maintains sticky behavior.
func (t Tier) Elevated() bool {
	return t == TierComplex || t == TierReasoning
}

// Classification layers.
const (
	LayerClient = "client"
	LayerSticky = "sticky"
	LayerLLM    = "llm"
)

// Decision is the router output for one message.
type Decision struct {
	Tier            Tier    `json:"tier"`
	Model           string  `json:"model"`
	SecondaryModel  string  `json:"secondary_model,omitempty"`
	Confidence      float64 `json:"confidence"`
	Layer           string  `json:"layer"`
	Reasoning       string  `json:"reasoning,omitempty"`
	EstimatedTokens int     `json:"estimated_tokens"`
	NeedsTools      bool    `json:"needs_tools"`
}

// Standard token buckets for estimates.
var tokenBuckets = []int{50, 200, 1000, 2000}

// bucketTokens snaps an estimate to the nearest standard bucket.
func bucketTokens(n int) int {
	best := tokenBuckets[0]
	for _, b := range tokenBuckets {
		if abs(n-b) < abs(n-best) {
			best = b
		}
	}
	return best
}

// tierTokenEstimate gives the default bucket per tier.
func tierTokenEstimate(t Tier) int {
	switch t {
	case TierSimple:
		return 50
	case TierMedium:
		return 200
	case TierCoding:
		return 1000
	case TierComplex:
		return 1000
	case TierReasoning:
		return 2000
	default:
		return 200
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
