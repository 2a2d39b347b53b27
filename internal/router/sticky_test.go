package router

import "testing"

func TestStickyMaintainsElevatedTier(t *testing.T) {
	s := NewStickyRouter(5, 0.90)
	key := "room:general"

	s.Apply(key, Decision{Tier: TierComplex, Confidence: 0.9}, Scores{}, 20)

	// A low-confidence medium classification must not drop the tier.
	d := s.Apply(key, Decision{Tier: TierMedium, Confidence: 0.6}, Scores{}, 15)
	if d.Tier != TierComplex {
		t.Errorf("tier = %s, want complex maintained", d.Tier)
	}
	if d.Layer != LayerSticky {
		t.Errorf("layer = %s, want sticky", d.Layer)
	}
}

func TestStickyBlocksLowConfidenceDowngrade(t *testing.T) {
	s := NewStickyRouter(5, 0.90)
	key := "room:general"

	s.Apply(key, Decision{Tier: TierReasoning, Confidence: 0.98}, Scores{}, 30)

	// Simple but below downgrade confidence: stays elevated.
	d := s.Apply(key, Decision{Tier: TierSimple, Confidence: 0.80},
		Scores{SimpleIndicators: 1}, 3)
	if d.Tier != TierReasoning {
		t.Errorf("tier = %s, want reasoning (confidence below downgrade threshold)", d.Tier)
	}
}

func TestStickyAllowsConfidentSimpleDowngrade(t *testing.T) {
	s := NewStickyRouter(5, 0.90)
	key := "room:general"

	s.Apply(key, Decision{Tier: TierComplex, Confidence: 0.9}, Scores{}, 20)

	// Short, non-technical, clearly simple, high confidence: may drop.
	d := s.Apply(key, Decision{Tier: TierSimple, Confidence: 0.95},
		Scores{SimpleIndicators: 1, TechnicalTerms: 0}, 2)
	if d.Tier != TierSimple {
		t.Errorf("tier = %s, want simple after confident downgrade", d.Tier)
	}
}

func TestStickyWindowExpires(t *testing.T) {
	s := NewStickyRouter(2, 0.90)
	key := "room:general"

	s.Apply(key, Decision{Tier: TierComplex, Confidence: 0.9}, Scores{}, 20)
	s.Apply(key, Decision{Tier: TierComplex, Confidence: 0.9}, Scores{}, 20)
	// Two confident simple downgrades push complex out of the window.
	s.Apply(key, Decision{Tier: TierSimple, Confidence: 0.95},
		Scores{SimpleIndicators: 1}, 2)
	s.Apply(key, Decision{Tier: TierSimple, Confidence: 0.95},
		Scores{SimpleIndicators: 1}, 2)

	d := s.Apply(key, Decision{Tier: TierMedium, Confidence: 0.6}, Scores{}, 10)
	if d.Tier != TierMedium {
		t.Errorf("tier = %s, want medium once elevation left the window", d.Tier)
	}
}

func TestStickyReset(t *testing.T) {
	s := NewStickyRouter(5, 0.90)
	key := "room:general"

	s.Apply(key, Decision{Tier: TierReasoning, Confidence: 0.98}, Scores{}, 30)
	s.Reset(key)

	d := s.Apply(key, Decision{Tier: TierSimple, Confidence: 0.5}, Scores{}, 3)
	if d.Tier != TierSimple {
		t.Errorf("tier = %s, want simple after reset", d.Tier)
	}
}
