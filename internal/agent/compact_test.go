package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/nanoroom/internal/embed"
	"github.com/nextlevelbuilder/nanoroom/internal/memory"
	"github.com/nextlevelbuilder/nanoroom/internal/providers"
	"github.com/nextlevelbuilder/nanoroom/internal/sessions"
)

func newTestCompactor(t *testing.T) (*Compactor, *sessions.Manager, *memory.Store) {
	t.Helper()
	sm, err := sessions.NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	store, err := memory.Open(filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return NewCompactor(sm, store, embed.NewLocalEmbedder(), 1000), sm, store
}

func fillSession(t *testing.T, sm *sessions.Manager, key string, turns int) {
	t.Helper()
	for i := 0; i < turns; i++ {
		sm.AddMessage(key, providers.Message{
			Role: "user", Content: fmt.Sprintf("user message %d with some padding text", i),
		})
		sm.AddMessage(key, providers.Message{
			Role: "assistant", Content: fmt.Sprintf("assistant reply %d with some padding text", i),
		})
	}
}

func TestShouldCompactThreshold(t *testing.T) {
	c, sm, _ := newTestCompactor(t)
	key := "room:general"

	if due, _ := c.ShouldCompact(key); due {
		t.Fatal("empty session should not need compaction")
	}
	fillSession(t, sm, key, 50)
	if due, tokens := c.ShouldCompact(key); !due {
		t.Fatalf("large session should need compaction (tokens=%d)", tokens)
	}
}

func TestCompactReplacesHeadWithSummary(t *testing.T) {
	c, sm, _ := newTestCompactor(t)
	key := "room:general"
	fillSession(t, sm, key, 30)
	before := sm.MessageCount(key)

	res, err := c.Compact(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	if res.OriginalCount != before {
		t.Errorf("original count %d, want %d", res.OriginalCount, before)
	}
	if res.CompactedCount >= before {
		t.Errorf("compaction did not shrink: %d -> %d", before, res.CompactedCount)
	}
	if res.TokensAfter >= res.TokensBefore {
		t.Errorf("tokens did not shrink: %d -> %d", res.TokensBefore, res.TokensAfter)
	}

	s := sm.GetOrCreate(key)
	if s.Messages[0].Role != "assistant" || !strings.Contains(s.Messages[0].Content, "summary") {
		t.Fatalf("head is not a summary message: %+v", s.Messages[0])
	}

	meta := sm.Metadata(key)
	if meta["original_count"] != before {
		t.Errorf("metadata original_count = %v", meta["original_count"])
	}
	if meta["compacted_count"] != res.CompactedCount {
		t.Errorf("metadata compacted_count = %v, want %d", meta["compacted_count"], res.CompactedCount)
	}
	if meta["compacted_count"] != sm.MessageCount(key) {
		t.Errorf("metadata compacted_count = %v, session has %d messages", meta["compacted_count"], sm.MessageCount(key))
	}
	if meta["tokens_before"] != res.TokensBefore {
		t.Errorf("metadata tokens_before = %v, want %d", meta["tokens_before"], res.TokensBefore)
	}
	if meta["tokens_after"] != res.TokensAfter {
		t.Errorf("metadata tokens_after = %v, want %d", meta["tokens_after"], res.TokensAfter)
	}
	if meta["mode"] != "truncate" {
		t.Errorf("metadata mode = %v", meta["mode"])
	}
}

func TestCompactPreservesToolChains(t *testing.T) {
	c, sm, _ := newTestCompactor(t)
	key := "room:general"
	fillSession(t, sm, key, 10)

	// A tool exchange near the tail must survive intact.
	sm.AddMessage(key, providers.Message{
		Role: "assistant", Content: "checking",
		ToolCalls: []providers.ToolCall{{ID: "call_1", Name: "read_file"}},
	})
	sm.AddMessage(key, providers.Message{Role: "tool", Content: "contents", ToolCallID: "call_1"})
	fillSession(t, sm, key, 3)

	if _, err := c.Compact(context.Background(), key); err != nil {
		t.Fatal(err)
	}

	s := sm.GetOrCreate(key)
	for i, m := range s.Messages {
		if m.ToolCallID == "" {
			continue
		}
		matched := false
		for j := 0; j < i; j++ {
			for _, tc := range s.Messages[j].ToolCalls {
				if tc.ID == m.ToolCallID {
					matched = true
				}
			}
		}
		if !matched {
			t.Fatalf("orphaned tool result %q at index %d", m.ToolCallID, i)
		}
	}
}

func TestCompactFlushesFeedbackToMemory(t *testing.T) {
	c, sm, store := newTestCompactor(t)
	key := "room:general"
	fillSession(t, sm, key, 15)
	sm.AddMessage(key, providers.Message{
		Role: "user", Content: "I prefer short answers without bullet points",
	})

	if _, err := c.Compact(context.Background(), key); err != nil {
		t.Fatal(err)
	}

	learnings, err := store.GetActiveLearnings(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(learnings) == 0 {
		t.Fatal("flush hook recorded no learnings")
	}
}

func TestCompactSurvivesMemoryFailure(t *testing.T) {
	c, sm, store := newTestCompactor(t)
	key := "room:general"
	fillSession(t, sm, key, 15)
	sm.AddMessage(key, providers.Message{Role: "user", Content: "I prefer tabs over spaces"})

	// A closed store makes every flush write fail; compaction still runs.
	store.Close()

	res, err := c.Compact(context.Background(), key)
	if err != nil {
		t.Fatalf("compaction failed on memory error: %v", err)
	}
	if res.CompactedCount >= res.OriginalCount {
		t.Error("compaction did not shrink the session")
	}
}

func TestCompactNoSafeBoundary(t *testing.T) {
	c, sm, _ := newTestCompactor(t)
	key := "room:general"
	fillSession(t, sm, key, 2)

	res, err := c.Compact(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	if res.Mode != "skipped" {
		t.Errorf("mode = %s, want skipped", res.Mode)
	}
	if res.CompactedCount != res.OriginalCount {
		t.Error("short session was modified")
	}
}

func TestEstimateTokens(t *testing.T) {
	msgs := []providers.Message{
		{Role: "user", Content: strings.Repeat("a", 400)},
		{Role: "assistant", ToolCalls: []providers.ToolCall{{Name: "read_file"}}},
	}
	got := EstimateTokens(msgs)
	if got < 100 || got > 150 {
		t.Errorf("estimate %d out of expected range", got)
	}
}
