package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nextlevelbuilder/nanoroom/internal/embed"
	"github.com/nextlevelbuilder/nanoroom/internal/memory"
	"github.com/nextlevelbuilder/nanoroom/internal/providers"
	"github.com/nextlevelbuilder/nanoroom/internal/sessions"
)

// Compaction defaults.
const (
	defaultTriggerRatio = 0.8
	defaultTargetKeep   = 10
	flushWindow         = 10
)

// EstimateTokens approximates token count as chars/4. Good enough for a
// compaction trigger; never used for billing.
func EstimateTokens(messages []providers.Message) int {
	total := 0
	for _, m := range messages {
		total += len(m.Content)/4 + 4
		for _, tc := range m.ToolCalls {
			total += len(tc.Name)/4 + 16
		}
	}
	return total
}

// CompactionResult describes one compaction for the UX surface.
type CompactionResult struct {
	OriginalCount  int
	CompactedCount int
	TokensBefore   int
	TokensAfter    int
	Mode           string
}

// Compactor shrinks a session when it approaches the context ceiling,
// flushing detectable feedback into memory first.
type Compactor struct {
	sessions     *sessions.Manager
	store        *memory.Store
	embedder     embed.Embedder
	provider     providers.Provider
	model        string
	maxTokens    int
	triggerRatio float64
	targetKeep   int
}

func NewCompactor(sm *sessions.Manager, store *memory.Store, embedder embed.Embedder, maxTokens int) *Compactor {
	return &Compactor{
		sessions:     sm,
		store:        store,
		embedder:     embedder,
		maxTokens:    maxTokens,
		triggerRatio: defaultTriggerRatio,
		targetKeep:   defaultTargetKeep,
	}
}

// WithSummarizer enables LLM summaries of elided history.
func (c *Compactor) WithSummarizer(p providers.Provider, model string) *Compactor {
	c.provider = p
	c.model = model
	return c
}

// ShouldCompact reports whether the session has crossed the trigger
// threshold, along with the current token estimate.
func (c *Compactor) ShouldCompact(key string) (bool, int) {
	s := c.sessions.GetOrCreate(key)
	tokens := EstimateTokens(s.Messages)
	return float64(tokens) >= float64(c.maxTokens)*c.triggerRatio, tokens
}

// Compact replaces everything before the safe boundary with a single
// synthetic summary message. The boundary comes from the session manager
// and keeps tool chains whole.
func (c *Compactor) Compact(ctx context.Context, key string) (*CompactionResult, error) {
	s := c.sessions.GetOrCreate(key)
	originalCount := len(s.Messages)
	tokensBefore := EstimateTokens(s.Messages)

	// Flush hook runs first and never blocks compaction.
	c.memoryFlush(key, s.Messages)

	index := c.sessions.GetSafeCompactionPoint(key, c.targetKeep)
	if index <= 0 {
		return &CompactionResult{
			OriginalCount:  originalCount,
			CompactedCount: originalCount,
			TokensBefore:   tokensBefore,
			TokensAfter:    tokensBefore,
			Mode:           "skipped",
		}, nil
	}

	dropped := s.Messages[:index]
	mode := "truncate"
	summaryText := fallbackSummary(dropped)
	if c.provider != nil {
		if text, err := c.summarize(ctx, dropped); err == nil && text != "" {
			summaryText = text
			mode = "summarize"
		} else if err != nil {
			slog.Warn("agent: compaction summary failed, using truncation note", "session", key, "error", err)
		}
	}

	summary := providers.Message{
		Role:      "assistant",
		Content:   "[Conversation summary of earlier messages]\n" + summaryText,
		Timestamp: time.Now().UnixMilli(),
	}

	kept := s.Messages[index:]
	compactedCount := len(kept) + 1 // summary message plus the kept tail
	tokensAfter := EstimateTokens(append([]providers.Message{summary}, kept...))

	result := &CompactionResult{
		OriginalCount:  originalCount,
		CompactedCount: compactedCount,
		TokensBefore:   tokensBefore,
		TokensAfter:    tokensAfter,
		Mode:           mode,
	}
	meta := map[string]any{
		"original_count":  originalCount,
		"compacted_count": compactedCount,
		"mode":            mode,
		"tokens_before":   tokensBefore,
		"tokens_after":    tokensAfter,
		"compacted_at":    time.Now().UTC().Format(time.RFC3339),
	}
	if err := c.sessions.ReplaceHead(key, index, summary, meta); err != nil {
		return nil, fmt.Errorf("replace session head: %w", err)
	}

	slog.Info("agent: compacted session",
		"session", key,
		"original", result.OriginalCount,
		"compacted", result.CompactedCount,
		"tokens_before", result.TokensBefore,
		"tokens_after", result.TokensAfter,
		"mode", mode)
	return result, nil
}

// memoryFlush scans the tail of the session for feedback and persists
// any learnings before the messages are elided. Errors are logged only.
func (c *Compactor) memoryFlush(key string, messages []providers.Message) {
	if c.store == nil {
		return
	}
	start := len(messages) - flushWindow
	if start < 0 {
		start = 0
	}
	for _, m := range messages[start:] {
		if m.Role != "user" {
			continue
		}
		fb := memory.DetectFeedback(m.Content)
		if fb == nil {
			continue
		}
		if _, err := c.store.RecordFeedback(fb, "", c.embedder); err != nil {
			slog.Warn("agent: memory flush failed to record feedback", "session", key, "error", err)
		}
	}
	if err := c.store.BumpSummaryStaleness(memory.PreferencesKey); err != nil {
		slog.Debug("agent: memory flush staleness bump failed", "session", key, "error", err)
	}
}

func (c *Compactor) summarize(ctx context.Context, dropped []providers.Message) (string, error) {
	var b strings.Builder
	for _, m := range dropped {
		if m.Content == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Role, clipText(m.Content, 400))
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	resp, err := c.provider.Chat(ctx, providers.ChatRequest{
		Model: c.model,
		Messages: []providers.Message{
			{Role: "system", Content: "Summarize the conversation below in under 200 words. Keep decisions, facts, and open tasks. Output only the summary."},
			{Role: "user", Content: b.String()},
		},
		Options: map[string]interface{}{providers.OptMaxTokens: 400},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

func fallbackSummary(dropped []providers.Message) string {
	users := 0
	for _, m := range dropped {
		if m.Role == "user" {
			users++
		}
	}
	return fmt.Sprintf("%d earlier messages (%d from the user) were removed to stay within the context window.", len(dropped), users)
}

func clipText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
