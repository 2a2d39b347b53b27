package memory

import (
	"testing"
	"time"

	"github.com/nextlevelbuilder/nanoroom/internal/embed"
)

func TestLearningDecayMonotonic(t *testing.T) {
	s := openTestStore(t)

	id, err := s.SaveLearning(&Learning{Content: "prefers short answers", Source: "preference"})
	if err != nil {
		t.Fatalf("SaveLearning: %v", err)
	}

	// Each decay pass moves the clock forward; absent access the score
	// never increases.
	prev := 1.0
	for days := 2; days <= 10; days += 2 {
		_, _, err := s.DecayLearnings(time.Now().UTC().Add(time.Duration(days) * 24 * time.Hour))
		if err != nil {
			t.Fatalf("DecayLearnings: %v", err)
		}
		l, err := s.GetLearning(id)
		if err != nil {
			t.Fatalf("GetLearning: %v", err)
		}
		if l == nil {
			// Removed after dropping below the floor; that ends the walk.
			return
		}
		if l.RelevanceScore > prev {
			t.Fatalf("score increased without access: %v > %v", l.RelevanceScore, prev)
		}
		prev = l.RelevanceScore
	}
}

func TestLearningDecayRemoval(t *testing.T) {
	s := openTestStore(t)

	id, _ := s.SaveLearning(&Learning{Content: "old habit", Source: "preference"})

	// 0.95^60 ~ 0.046, below the removal floor.
	_, removed, err := s.DecayLearnings(time.Now().UTC().Add(60 * 24 * time.Hour))
	if err != nil {
		t.Fatalf("DecayLearnings: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if l, _ := s.GetLearning(id); l != nil {
		t.Error("learning still present after dropping below removal floor")
	}
}

func TestBoostCapsAtOne(t *testing.T) {
	s := openTestStore(t)

	id, _ := s.SaveLearning(&Learning{Content: "uses tabs", Source: "preference"})
	for i := 0; i < 3; i++ {
		if err := s.BoostLearning(id); err != nil {
			t.Fatalf("BoostLearning: %v", err)
		}
	}
	l, _ := s.GetLearning(id)
	if l.RelevanceScore > 1.0 {
		t.Errorf("score = %v, must cap at 1.0", l.RelevanceScore)
	}
	if l.TimesAccessed != 3 {
		t.Errorf("times_accessed = %d, want 3", l.TimesAccessed)
	}
}

func TestDetectFeedback(t *testing.T) {
	tests := []struct {
		content  string
		category string
	}{
		{"No, that's wrong, the port is 8080", FeedbackCorrection},
		{"Actually, I meant the staging database", FeedbackCorrection},
		{"I prefer concise answers without preamble", FeedbackPreference},
		{"From now on use metric units", FeedbackPreference},
		{"Perfect, that's exactly right", FeedbackPositive},
		{"That didn't work at all", FeedbackNegative},
		{"What is the weather today?", ""},
		{"", ""},
	}
	for _, tt := range tests {
		fb := DetectFeedback(tt.content)
		got := ""
		if fb != nil {
			got = fb.Category
		}
		if got != tt.category {
			t.Errorf("DetectFeedback(%q) = %q, want %q", tt.content, got, tt.category)
		}
		if fb != nil && fb.Confidence != 0.7 {
			t.Errorf("confidence = %v, want 0.7", fb.Confidence)
		}
	}
}

func TestContradictionSupersession(t *testing.T) {
	s := openTestStore(t)
	embedder := embed.NewLocalEmbedder()

	old, err := s.RecordFeedback(&Feedback{
		Category:   FeedbackPositive,
		Content:    "the detailed step by step explanations work great",
		Sentiment:  SentimentPositive,
		Confidence: 0.7,
	}, "", embedder)
	if err != nil {
		t.Fatalf("RecordFeedback old: %v", err)
	}

	newer, err := s.RecordFeedback(&Feedback{
		Category:   FeedbackNegative,
		Content:    "the detailed step by step explanations work poorly",
		Sentiment:  SentimentNegative,
		Confidence: 0.7,
	}, "", embedder)
	if err != nil {
		t.Fatalf("RecordFeedback new: %v", err)
	}

	oldL, _ := s.GetLearning(old.ID)
	if oldL.SupersededBy != newer.ID {
		t.Errorf("old superseded_by = %q, want %q", oldL.SupersededBy, newer.ID)
	}

	// Exactly one of the pair stays active.
	active, err := s.GetActiveLearnings(10)
	if err != nil {
		t.Fatalf("GetActiveLearnings: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("active = %d, want exactly 1 after supersession", len(active))
	}
	if active[0].ID != newer.ID {
		t.Errorf("active learning = %s, want the newer %s", active[0].ID, newer.ID)
	}
	if active[0].RelevanceScore != 1.0 {
		t.Errorf("new learning score = %v, want boosted to 1.0", active[0].RelevanceScore)
	}
}

func TestDissimilarLearningsBothStayActive(t *testing.T) {
	s := openTestStore(t)
	embedder := embed.NewLocalEmbedder()

	s.RecordFeedback(&Feedback{
		Category: FeedbackPositive, Content: "great summaries of the meeting notes",
		Sentiment: SentimentPositive, Confidence: 0.7,
	}, "", embedder)
	s.RecordFeedback(&Feedback{
		Category: FeedbackNegative, Content: "the shell tool keeps timing out on long builds",
		Sentiment: SentimentNegative, Confidence: 0.7,
	}, "", embedder)

	active, _ := s.GetActiveLearnings(10)
	if len(active) != 2 {
		t.Errorf("active = %d, want 2 for unrelated learnings", len(active))
	}
}

func TestJaccard(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"a b c", "a b c", 1.0},
		{"a b", "c d", 0.0},
		{"", "anything", 0.0},
		{"a b c d", "a b c x", 0.6},
	}
	for _, tt := range tests {
		if got := jaccard(tt.a, tt.b); got != tt.want {
			t.Errorf("jaccard(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
