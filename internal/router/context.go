package router

import (
	"regexp"
	"strings"
)

// Action types detected from the message.
const (
	ActionWrite   = "write"
	ActionExplain = "explain"
	ActionAnalyze = "analyze"
	ActionFix     = "fix"
	ActionCompare = "compare"
	ActionSearch  = "search"
	ActionGeneral = "general"
)

// negationScope marks a run of words owned by a negation: from the word
// after the negator until the next clause break or 10 words, whichever
// comes first.
type negationScope struct {
	start, end int // word indices, end exclusive
}

// messageContext is the pre-computed view of a message the scorers share.
type messageContext struct {
	content   string
	lower     string
	words     []string
	wordIndex map[string][]int // lowercased word -> positions

	actionType    string
	actionNegated bool
	hasCodeBlock  bool
	isQuestion    bool
	hasUrgency    bool
	negations     []negationScope
}

var (
	negators     = map[string]bool{"not": true, "don't": true, "dont": true, "never": true, "no": true, "without": true, "won't": true, "wont": true, "can't": true, "cant": true}
	clauseBreaks = map[string]bool{"but": true, "however": true, "although": true, "though": true, "and": true, "or": true, "so": true, "then": true}

	codeFence  = regexp.MustCompile("```")
	urgencyRe  = regexp.MustCompile(`(?i)\b(urgent|asap|immediately|right now|critical|emergency)\b`)
	questionRe = regexp.MustCompile(`\?\s*$|(?i)^(what|how|why|when|where|who|which|can|could|would|should|is|are|do|does)\b`)
)

const negationScopeWords = 10

// extractContext runs the cheap first pass over a message.
func extractContext(content string) *messageContext {
	lower := strings.ToLower(content)
	words := strings.Fields(lower)

	mc := &messageContext{
		content:      content,
		lower:        lower,
		words:        words,
		wordIndex:    make(map[string][]int, len(words)),
		hasCodeBlock: codeFence.MatchString(content),
		isQuestion:   questionRe.MatchString(strings.TrimSpace(content)),
		hasUrgency:   urgencyRe.MatchString(content),
	}

	for i, w := range words {
		w = strings.Trim(w, ".,!?;:'\"()")
		if w != "" {
			mc.wordIndex[w] = append(mc.wordIndex[w], i)
		}
	}

	mc.negations = findNegationScopes(words)
	mc.actionType, mc.actionNegated = detectAction(mc)
	return mc
}

// findNegationScopes assigns each negator the words it owns.
func findNegationScopes(words []string) []negationScope {
	var scopes []negationScope
	for i, w := range words {
		w = strings.Trim(w, ".,!?;:'\"()")
		if !negators[w] {
			continue
		}
		end := i + 1
		for end < len(words) && end < i+1+negationScopeWords {
			next := strings.Trim(words[end], "'\"()")
			if clauseBreaks[strings.TrimRight(next, ".,!?;:")] {
				break
			}
			if strings.ContainsAny(words[end], ".;!?") {
				end++ // the punctuation-bearing word is still owned
				break
			}
			end++
		}
		scopes = append(scopes, negationScope{start: i + 1, end: end})
	}
	return scopes
}

// inNegationScope reports whether a word position falls under a negation.
func (mc *messageContext) inNegationScope(pos int) bool {
	for _, s := range mc.negations {
		if pos >= s.start && pos < s.end {
			return true
		}
	}
	return false
}

// negationDistance returns the distance from pos to the owning negator,
// or -1 when pos is not negated.
func (mc *messageContext) negationDistance(pos int) int {
	for _, s := range mc.negations {
		if pos >= s.start && pos < s.end {
			return pos - s.start + 1
		}
	}
	return -1
}

var actionKeywords = []struct {
	action string
	words  []string
}{
	{ActionWrite, []string{"write", "create", "build", "implement", "generate", "make", "add", "develop"}},
	{ActionFix, []string{"fix", "debug", "repair", "resolve", "patch", "correct"}},
	{ActionExplain, []string{"explain", "describe", "clarify", "walk", "teach", "what", "why"}},
	{ActionAnalyze, []string{"analyze", "review", "evaluate", "assess", "investigate", "audit"}},
	{ActionCompare, []string{"compare", "versus", "vs", "difference", "tradeoff", "tradeoffs"}},
	{ActionSearch, []string{"search", "find", "look", "locate", "lookup"}},
}

// detectAction picks the dominant action type and whether its keyword sits
// inside a negation scope ("don't write code, just explain it").
func detectAction(mc *messageContext) (string, bool) {
	for _, group := range actionKeywords {
		for _, kw := range group.words {
			positions, ok := mc.wordIndex[kw]
			if !ok {
				continue
			}
			negated := true
			for _, pos := range positions {
				if !mc.inNegationScope(pos) {
					negated = false
					break
				}
			}
			if negated {
				// Every occurrence negated: keep scanning for a
				// non-negated action, but remember this one.
				continue
			}
			return group.action, false
		}
	}
	// Second pass: fully negated actions still name the action.
	for _, group := range actionKeywords {
		for _, kw := range group.words {
			if _, ok := mc.wordIndex[kw]; ok {
				return group.action, true
			}
		}
	}
	return ActionGeneral, false
}
