package router

import (
	"testing"
)

func TestClassifyTiers(t *testing.T) {
	c := NewClassifier(DefaultWeights(), nil)

	tests := []struct {
		name    string
		content string
		want    []Tier // any acceptable tier
	}{
		{"greeting", "hi there", []Tier{TierSimple}},
		{"thanks", "ok thanks, bye", []Tier{TierSimple}},
		{"factual question", "What is the capital of France?", []Tier{TierSimple, TierMedium}},
		{"coding request", "Write a function to parse the config file and fix the bug in the regex query. ```go\ncode\n```", []Tier{TierCoding, TierComplex, TierReasoning}},
		{"reasoning request", "Prove the algorithm is optimal and derive its complexity step-by-step with rigorous reasoning about trade-offs, then formally compare the theorem variants", []Tier{TierReasoning, TierComplex}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _ := c.Classify(tt.content)
			for _, want := range tt.want {
				if d.Tier == want {
					return
				}
			}
			t.Errorf("Classify(%q) tier = %s (conf %.3f), want one of %v",
				tt.content, d.Tier, d.Confidence, tt.want)
		})
	}
}

func TestShortFactualQuestionIsConfidentSimple(t *testing.T) {
	c := NewClassifier(DefaultWeights(), nil)

	d, _ := c.Classify("What is 2+2?")
	if d.Tier != TierSimple {
		t.Errorf("trivial arithmetic question tier = %s, want simple", d.Tier)
	}
	if d.Confidence < 0.5 {
		t.Errorf("confidence = %.3f, want >= 0.5 (confident simple, not uncertain medium)", d.Confidence)
	}
	if d.Layer != LayerClient {
		t.Errorf("layer = %s, want client", d.Layer)
	}
	if d.NeedsTools {
		t.Error("trivial question must not set needs_tools")
	}

	// Explanation questions stay off the simple path.
	d, _ = c.Classify("How does the authentication protocol work?")
	if d.Tier == TierSimple {
		t.Errorf("how-question about a technical topic landed simple")
	}
}

func TestNegatedWriteDowngradesCodingPattern(t *testing.T) {
	ps := &PatternSet{}
	ps.Replace([]*Pattern{
		{Name: "code_req", Tier: "coding", Regex: `\bcode\b`, Confidence: 0.95},
	}, false)
	c := NewClassifier(DefaultWeights(), ps)

	// The coding pattern matches, but the write action is negated.
	d, _ := c.Classify("don't write code, just tell me the idea")
	if d.Tier == TierCoding {
		t.Errorf("negated write must not land on coding, got %s", d.Tier)
	}

	// Explain action with a coding pattern also downgrades.
	d, _ = c.Classify("explain this code to me please")
	if d.Tier == TierCoding {
		t.Errorf("explain action must downgrade coding pattern, got %s", d.Tier)
	}

	// A genuine write request keeps the pattern tier.
	d, _ = c.Classify("write code for a binary search")
	if d.Tier != TierCoding {
		t.Errorf("plain write request tier = %s, want coding", d.Tier)
	}
}

func TestNegationScopes(t *testing.T) {
	mc := extractContext("do not write the report but analyze the data")

	if len(mc.negations) != 1 {
		t.Fatalf("negations = %d, want 1", len(mc.negations))
	}
	// "write" (index 2) is inside the scope; "analyze" (index 6) is past
	// the clause break "but".
	if !mc.inNegationScope(2) {
		t.Error("'write' must be inside the negation scope")
	}
	if mc.inNegationScope(6) {
		t.Error("'analyze' past the clause break must not be negated")
	}
}

func TestDomainIndicatorsKeepWeightWhenNegated(t *testing.T) {
	c := NewClassifier(DefaultWeights(), nil)

	mc := extractContext("I do not understand kubernetes deployment latency")
	s := c.score(mc)
	// Domain words under negation keep 80%: three hits at 0.8 over
	// saturation 3 = 0.8.
	if s.TechnicalTerms < 0.7 {
		t.Errorf("negated technical terms score = %v, want >= 0.7 (80%% retained)", s.TechnicalTerms)
	}
}

func TestConfidenceIsSigmoid(t *testing.T) {
	c := NewClassifier(DefaultWeights(), nil)
	d, _ := c.Classify("hello")
	if d.Confidence <= 0 || d.Confidence >= 1 {
		t.Errorf("confidence = %v, want in (0,1)", d.Confidence)
	}
}

func TestTokenBuckets(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, 50}, {120, 50}, {150, 200}, {700, 1000}, {5000, 2000},
	}
	for _, tt := range tests {
		if got := bucketTokens(tt.in); got != tt.want {
			t.Errorf("bucketTokens(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestNeedsTools(t *testing.T) {
	c := NewClassifier(DefaultWeights(), nil)
	d, _ := c.Classify("read the file and run the tests")
	if !d.NeedsTools {
		t.Error("file/run message must set needs_tools")
	}
	d, _ = c.Classify("hello")
	if d.NeedsTools {
		t.Error("greeting must not set needs_tools")
	}
}
