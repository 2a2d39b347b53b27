package memory

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/nextlevelbuilder/nanoroom/internal/embed"
)

// Feedback categories detected from user messages.
const (
	FeedbackCorrection = "correction"
	FeedbackPreference = "preference"
	FeedbackPositive   = "positive"
	FeedbackNegative   = "negative"
)

// Feedback is one detected signal with the extracted content.
type Feedback struct {
	Category   string
	Content    string
	Sentiment  string
	Confidence float64
}

// regexConfidence is the fixed confidence for pattern-matched feedback.
// The patterns are cheap but coarse; LLM-verified feedback would score
// higher.
const regexConfidence = 0.7

var feedbackPatterns = []struct {
	category  string
	sentiment string
	re        *regexp.Regexp
}{
	{FeedbackCorrection, SentimentNegative,
		regexp.MustCompile(`(?i)\b(?:no,?\s+(?:that'?s|it'?s)\s+(?:wrong|not\s+right|incorrect)|that'?s\s+(?:wrong|not\s+what\s+i)|actually,?\s+(?:i\s+meant|it\s+should)|you\s+(?:misunderstood|got\s+it\s+wrong))\b`)},
	{FeedbackPreference, SentimentNeutral,
		regexp.MustCompile(`(?i)\b(?:i\s+(?:prefer|like|want|always|usually|d\s+rather)|please\s+(?:always|never|don'?t)|from\s+now\s+on|in\s+the\s+future,?\s+(?:please|always|don'?t)|next\s+time)\b`)},
	{FeedbackPositive, SentimentPositive,
		regexp.MustCompile(`(?i)\b(?:perfect|exactly(?:\s+right)?|that'?s\s+(?:great|it|right)|well\s+done|nice\s+work|thanks,?\s+that\s+(?:works|helped))\b`)},
	{FeedbackNegative, SentimentNegative,
		regexp.MustCompile(`(?i)\b(?:that\s+(?:didn'?t|doesn'?t)\s+(?:work|help)|this\s+is\s+(?:wrong|broken|useless)|stop\s+doing|don'?t\s+do\s+that|too\s+(?:verbose|long|slow))\b`)},
}

// DetectFeedback runs the regex stage over a user message. The first
// matching category wins; corrections are checked before preferences so
// "no, I prefer X" reads as a correction.
func DetectFeedback(content string) *Feedback {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil
	}
	for _, p := range feedbackPatterns {
		if loc := p.re.FindStringIndex(trimmed); loc != nil {
			return &Feedback{
				Category:   p.category,
				Content:    extractFeedbackContent(trimmed, loc[0]),
				Sentiment:  p.sentiment,
				Confidence: regexConfidence,
			}
		}
	}
	return nil
}

// extractFeedbackContent keeps the sentence containing the match, capped
// so a learning stays a one-liner.
func extractFeedbackContent(text string, matchStart int) string {
	start := strings.LastIndexAny(text[:matchStart], ".!?\n") + 1
	rest := text[start:]
	if end := strings.IndexAny(rest, ".!?\n"); end > 0 {
		rest = rest[:end]
	}
	return truncate(rest, 200)
}

// ContradictionThreshold is the word-overlap similarity above which two
// learnings of opposite sentiment are treated as contradictory.
const ContradictionThreshold = 0.7

// RecordFeedback turns detected feedback into a learning, superseding any
// contradicted prior learning. The new learning starts at full relevance.
func (s *Store) RecordFeedback(fb *Feedback, toolName string, embedder embed.Embedder) (*Learning, error) {
	vec, err := embedder.Embed(fb.Content)
	if err != nil {
		vec = nil
	}
	learning := &Learning{
		Content:          fb.Content,
		Source:           fb.Category,
		Sentiment:        fb.Sentiment,
		Confidence:       fb.Confidence,
		ToolName:         toolName,
		ContentEmbedding: vec,
		RelevanceScore:   1.0,
	}
	if _, err := s.SaveLearning(learning); err != nil {
		return nil, err
	}

	if err := s.supersedeContradictions(learning); err != nil {
		return learning, fmt.Errorf("memory: contradiction check: %w", err)
	}
	return learning, nil
}

// supersedeContradictions marks active learnings contradicted by the new
// one. Contradiction means high word overlap with opposite sentiment;
// after supersession exactly one of the pair stays active.
func (s *Store) supersedeContradictions(newL *Learning) error {
	if newL.Sentiment == SentimentNeutral {
		return nil
	}
	active, err := s.GetActiveLearnings(500)
	if err != nil {
		return err
	}
	for _, old := range active {
		if old.ID == newL.ID {
			continue
		}
		if !oppositeSentiment(old.Sentiment, newL.Sentiment) {
			continue
		}
		if jaccard(old.Content, newL.Content) > ContradictionThreshold {
			if err := s.SupersedeLearning(old.ID, newL.ID); err != nil {
				return err
			}
			if _, err := s.db.Exec(
				"UPDATE learnings SET relevance_score = 1.0, updated_at = ? WHERE id = ?",
				time.Now().UTC(), newL.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func oppositeSentiment(a, b string) bool {
	return (a == SentimentPositive && b == SentimentNegative) ||
		(a == SentimentNegative && b == SentimentPositive)
}

// jaccard computes word-overlap similarity |A∩B| / |A∪B| over lowercased
// word sets.
func jaccard(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	inter := 0
	for w := range setA {
		if setB[w] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return float64(inter) / float64(union)
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,!?;:'\"")
		if w != "" {
			set[w] = true
		}
	}
	return set
}
