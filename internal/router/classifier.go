package router

import (
	"fmt"
	"math"
	"strings"
)

// Tier selection thresholds over classifier confidence.
const (
	thresholdReasoning = 0.97
	thresholdCoding    = 0.90
	thresholdComplex   = 0.85
	thresholdMedium    = 0.50

	codePresenceFloor = 0.6 // coding tier also requires this much code signal
	patternWinFloor   = 0.90
)

// Scores holds the 15 normalized dimensions in [0,1].
type Scores struct {
	ReasoningMarkers   float64 `json:"reasoning_markers"`
	CodePresence       float64 `json:"code_presence"`
	SimpleIndicators   float64 `json:"simple_indicators"`
	MultiStep          float64 `json:"multi_step"`
	TechnicalTerms     float64 `json:"technical_terms"`
	TokenCount         float64 `json:"token_count"`
	CreativeMarkers    float64 `json:"creative_markers"`
	QuestionComplexity float64 `json:"question_complexity"`
	ConstraintCount    float64 `json:"constraint_count"`
	ImperativeVerbs    float64 `json:"imperative_verbs"`
	OutputFormat       float64 `json:"output_format"`
	DomainSpecificity  float64 `json:"domain_specificity"`
	ReferenceComplex   float64 `json:"reference_complexity"`
	NegationComplexity float64 `json:"negation_complexity"`
	SocialInteraction  float64 `json:"social_interaction"`
}

// Weights mirror Scores; the defaults sum to 1.0. SimpleIndicators and
// SocialInteraction pull the weighted sum down.
type Weights struct {
	ReasoningMarkers   float64 `json:"reasoning_markers"`
	CodePresence       float64 `json:"code_presence"`
	SimpleIndicators   float64 `json:"simple_indicators"`
	MultiStep          float64 `json:"multi_step"`
	TechnicalTerms     float64 `json:"technical_terms"`
	TokenCount         float64 `json:"token_count"`
	CreativeMarkers    float64 `json:"creative_markers"`
	QuestionComplexity float64 `json:"question_complexity"`
	ConstraintCount    float64 `json:"constraint_count"`
	ImperativeVerbs    float64 `json:"imperative_verbs"`
	OutputFormat       float64 `json:"output_format"`
	DomainSpecificity  float64 `json:"domain_specificity"`
	ReferenceComplex   float64 `json:"reference_complexity"`
	NegationComplexity float64 `json:"negation_complexity"`
	SocialInteraction  float64 `json:"social_interaction"`
}

func DefaultWeights() Weights {
	return Weights{
		ReasoningMarkers:   0.14,
		CodePresence:       0.13,
		SimpleIndicators:   0.10,
		MultiStep:          0.09,
		TechnicalTerms:     0.09,
		TokenCount:         0.06,
		CreativeMarkers:    0.05,
		QuestionComplexity: 0.06,
		ConstraintCount:    0.06,
		ImperativeVerbs:    0.04,
		OutputFormat:       0.04,
		DomainSpecificity:  0.06,
		ReferenceComplex:   0.03,
		NegationComplexity: 0.02,
		SocialInteraction:  0.03,
	}
}

// Classifier is the synchronous, no-I/O first routing layer.
type Classifier struct {
	weights  Weights
	patterns *PatternSet
}

func NewClassifier(weights Weights, patterns *PatternSet) *Classifier {
	return &Classifier{weights: weights, patterns: patterns}
}

// Classify scores a message and picks a tier. Patterns win over thresholds
// when confident, with two downgrades: coding patterns on an explain
// action, and negated write/create actions, both land on medium.
func (c *Classifier) Classify(content string) (Decision, Scores) {
	mc := extractContext(content)
	scores := c.score(mc)
	sum := c.weightedSum(scores)

	// The signed sum picks the tier; the reported confidence is distance
	// from the medium boundary in either direction, so a clearly simple
	// message is a confident simple, not a low-confidence medium.
	raw := sigmoid(2 * sum)
	confidence := sigmoid(2 * math.Abs(sum))

	if c.patterns != nil {
		if p := c.patterns.Match(content); p != nil && p.Confidence >= patternWinFloor {
			tier := NormalizeTier(p.Tier)
			reason := fmt.Sprintf("pattern %q", p.Name)
			if tier == TierCoding && mc.actionType == ActionExplain {
				tier = TierMedium
				reason += " downgraded: explain action"
			}
			if mc.actionNegated && (mc.actionType == ActionWrite) {
				tier = TierMedium
				reason += " downgraded: negated action"
			}
			return c.finish(mc, tier, p.Confidence, reason), scores
		}
	}

	tier := c.pickTier(mc, scores, raw)
	return c.finish(mc, tier, confidence, "threshold"), scores
}

func (c *Classifier) pickTier(mc *messageContext, scores Scores, raw float64) Tier {
	switch {
	case raw >= thresholdReasoning:
		return TierReasoning
	case raw >= thresholdCoding && scores.CodePresence > codePresenceFloor &&
		(mc.actionType == ActionWrite || mc.actionType == ActionFix) && !mc.actionNegated:
		return TierCoding
	case raw >= thresholdComplex:
		return TierComplex
	case raw >= thresholdMedium:
		return TierMedium
	default:
		return TierSimple
	}
}

func (c *Classifier) finish(mc *messageContext, tier Tier, confidence float64, reason string) Decision {
	est := tierTokenEstimate(tier)
	if len(mc.words) > 150 {
		est = bucketTokens(est * 2)
	}
	return Decision{
		Tier:            tier,
		Confidence:      confidence,
		Layer:           LayerClient,
		Reasoning:       reason,
		EstimatedTokens: est,
		NeedsTools:      needsTools(mc, tier),
	}
}

// signalGain stretches the weighted sum before the sigmoid. The weights
// are relative shares summing to 1.0, so the raw dot product tops out
// well below what the upper tier thresholds require; the gain restores a
// usable dynamic range.
const signalGain = 6.0

// weightedSum folds the scores through the weights. Simple and social
// signals subtract: a clearly simple message should land below the medium
// threshold.
func (c *Classifier) weightedSum(s Scores) float64 {
	w := c.weights
	return signalGain * (s.ReasoningMarkers*w.ReasoningMarkers +
		s.CodePresence*w.CodePresence -
		s.SimpleIndicators*w.SimpleIndicators +
		s.MultiStep*w.MultiStep +
		s.TechnicalTerms*w.TechnicalTerms +
		s.TokenCount*w.TokenCount +
		s.CreativeMarkers*w.CreativeMarkers +
		s.QuestionComplexity*w.QuestionComplexity +
		s.ConstraintCount*w.ConstraintCount +
		s.ImperativeVerbs*w.ImperativeVerbs +
		s.OutputFormat*w.OutputFormat +
		s.DomainSpecificity*w.DomainSpecificity +
		s.ReferenceComplex*w.ReferenceComplex +
		s.NegationComplexity*w.NegationComplexity -
		s.SocialInteraction*w.SocialInteraction)
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// Keyword groups. Domain indicators keep 80% weight inside a negation
// scope (the user still needs that expertise); action indicators shrink to
// 0.2 right next to the negator, recovering linearly to 0.7 at the scope
// edge.
var (
	reasoningWords = []string{"prove", "derive", "theorem", "optimal", "algorithm", "complexity", "step-by-step", "reasoning", "logic", "formally", "rigorous", "trade-offs"}
	codingWords    = []string{"function", "code", "bug", "compile", "refactor", "api", "class", "struct", "script", "regex", "query", "implement", "unittest", "stacktrace"}
	simpleWords    = []string{"hi", "hello", "thanks", "thank", "ok", "okay", "yes", "no", "bye", "cool", "nice", "sure"}
	multiStepWords = []string{"first", "second", "then", "finally", "after", "steps", "plan", "stages", "phase", "workflow"}
	techWords      = []string{"database", "kubernetes", "deployment", "concurrency", "latency", "protocol", "encryption", "container", "throughput", "authentication", "scheduler", "compiler"}
	creativeWords  = []string{"story", "poem", "creative", "imagine", "brainstorm", "metaphor", "slogan", "lyrics"}
	constraintRe   = []string{"must", "should", "at least", "at most", "exactly", "within", "no more", "limit", "constraint", "require"}
	imperativeVbs  = []string{"write", "create", "build", "generate", "list", "show", "give", "make", "run", "delete", "update", "summarize"}
	formatWords    = []string{"json", "table", "markdown", "csv", "yaml", "bullet", "numbered", "format", "template"}
	domainWords    = []string{"medical", "legal", "financial", "quantum", "genomics", "astrophysics", "cryptography", "compliance", "actuarial"}
	referenceWords = []string{"above", "previous", "earlier", "that", "those", "aforementioned", "it", "them"}
	toolHintWords  = []string{"file", "read", "run", "execute", "search", "fetch", "browse", "download", "install", "remember", "recall"}
)

const actionNegationFloor, actionNegationCeil = 0.2, 0.7

func (c *Classifier) score(mc *messageContext) Scores {
	var s Scores
	s.ReasoningMarkers = c.keywordScore(mc, reasoningWords, true, 3)
	s.CodePresence = c.keywordScore(mc, codingWords, true, 3)
	if mc.hasCodeBlock {
		s.CodePresence = math.Min(1, s.CodePresence+0.5)
	}
	s.SimpleIndicators = c.keywordScore(mc, simpleWords, false, 2)
	if len(mc.words) <= 4 && s.SimpleIndicators > 0 {
		s.SimpleIndicators = 1
	}
	s.MultiStep = c.keywordScore(mc, multiStepWords, false, 3)
	s.TechnicalTerms = c.keywordScore(mc, techWords, true, 3)
	s.TokenCount = math.Min(1, float64(len(mc.words))/200)
	s.CreativeMarkers = c.keywordScore(mc, creativeWords, false, 2)
	s.QuestionComplexity = questionComplexity(mc)
	s.ConstraintCount = c.keywordScore(mc, constraintRe, false, 3)
	s.ImperativeVerbs = c.keywordScore(mc, imperativeVbs, false, 2)
	s.OutputFormat = c.keywordScore(mc, formatWords, false, 2)
	s.DomainSpecificity = c.keywordScore(mc, domainWords, true, 2)
	s.ReferenceComplex = c.keywordScore(mc, referenceWords, false, 4)
	s.NegationComplexity = math.Min(1, float64(len(mc.negations))/3)
	s.SocialInteraction = socialScore(mc)

	// A short factual question ("what is 2+2") with no technical,
	// reasoning, or code signal reads as simple. Why/how questions stay
	// out: they ask for explanation, not a lookup.
	if mc.isQuestion && len(mc.words) <= 6 &&
		s.ReasoningMarkers == 0 && s.CodePresence == 0 &&
		s.TechnicalTerms == 0 && s.DomainSpecificity == 0 &&
		!hasWord(mc, "why") && !hasWord(mc, "how") {
		s.SimpleIndicators = math.Max(s.SimpleIndicators, 1)
	}
	return s
}

func hasWord(mc *messageContext, w string) bool {
	_, ok := mc.wordIndex[w]
	return ok
}

// keywordScore counts keyword hits normalized by saturation, applying
// negation-aware reduction per hit.
func (c *Classifier) keywordScore(mc *messageContext, keywords []string, domainIndicator bool, saturation int) float64 {
	var total float64
	for _, kw := range keywords {
		positions, ok := mc.wordIndex[kw]
		if !ok {
			if strings.Contains(kw, " ") && strings.Contains(mc.lower, kw) {
				total += 1
			}
			continue
		}
		for _, pos := range positions {
			dist := mc.negationDistance(pos)
			if dist < 0 {
				total += 1
				continue
			}
			if domainIndicator {
				total += 0.8
				continue
			}
			frac := float64(dist-1) / float64(negationScopeWords-1)
			total += actionNegationFloor + frac*(actionNegationCeil-actionNegationFloor)
		}
	}
	return math.Min(1, total/float64(saturation))
}

func questionComplexity(mc *messageContext) float64 {
	if !mc.isQuestion {
		return 0
	}
	score := 0.3
	for _, w := range []string{"why", "how"} {
		if _, ok := mc.wordIndex[w]; ok {
			score += 0.3
		}
	}
	if strings.Count(mc.content, "?") > 1 {
		score += 0.2
	}
	return math.Min(1, score)
}

func socialScore(mc *messageContext) float64 {
	if len(mc.words) > 12 {
		return 0
	}
	hits := 0
	for _, w := range simpleWords {
		if _, ok := mc.wordIndex[w]; ok {
			hits++
		}
	}
	if hits == 0 {
		return 0
	}
	return math.Min(1, float64(hits)/2)
}

func needsTools(mc *messageContext, tier Tier) bool {
	if tier == TierCoding {
		return true
	}
	for _, w := range toolHintWords {
		if _, ok := mc.wordIndex[w]; ok {
			return true
		}
	}
	return false
}
