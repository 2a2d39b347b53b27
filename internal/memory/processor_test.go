package memory

import (
	"context"
	"testing"
	"time"

	"github.com/nextlevelbuilder/nanoroom/internal/embed"
	"github.com/nextlevelbuilder/nanoroom/internal/extract"
)

func newTestProcessor(t *testing.T, s *Store) *Processor {
	t.Helper()
	cfg := DefaultProcessorConfig()
	cfg.ExtractionBatch = 10
	return NewProcessor(s, extract.NewRuleExtractor(), embed.NewLocalEmbedder(),
		NewActivityTracker(time.Minute), cfg)
}

func TestExtractPendingBuildsGraph(t *testing.T) {
	s := openTestStore(t)
	p := newTestProcessor(t, s)

	evID, err := s.SaveEvent(&Event{
		Content:    "Alice works at Initech and Alice uses Kubernetes",
		SessionKey: "room:general",
	})
	if err != nil {
		t.Fatalf("SaveEvent: %v", err)
	}

	n, err := p.extractPending(context.Background())
	if err != nil {
		t.Fatalf("extractPending: %v", err)
	}
	if n != 1 {
		t.Fatalf("processed = %d, want 1", n)
	}

	ev, _ := s.GetEvent(evID)
	if ev.ExtractionStatus != ExtractionComplete {
		t.Errorf("status = %q, want complete", ev.ExtractionStatus)
	}

	alice, err := s.FindEntityByName("Alice")
	if err != nil || alice == nil {
		t.Fatalf("Alice not extracted: %v", err)
	}
	if alice.EntityType != "person" {
		t.Errorf("Alice type = %q, want person", alice.EntityType)
	}
	if len(alice.NameEmbedding) != embed.Dimension {
		t.Errorf("name embedding dim = %d, want %d", len(alice.NameEmbedding), embed.Dimension)
	}

	edges, err := s.GetEdgesForEntity(alice.ID, 10)
	if err != nil {
		t.Fatalf("GetEdgesForEntity: %v", err)
	}
	if len(edges) != 2 {
		t.Fatalf("edges = %d, want works_at and uses", len(edges))
	}
}

func TestExtractMergesIntoExistingEntity(t *testing.T) {
	s := openTestStore(t)
	p := newTestProcessor(t, s)

	s.SaveEvent(&Event{Content: "Alice works at Initech"})
	if _, err := p.extractPending(context.Background()); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	s.SaveEvent(&Event{Content: "Alice uses Terraform"})
	if _, err := p.extractPending(context.Background()); err != nil {
		t.Fatalf("second pass: %v", err)
	}

	alice, _ := s.FindEntityByName("alice")
	if alice == nil {
		t.Fatal("Alice missing")
	}
	if alice.EventCount != 2 {
		t.Errorf("event_count = %d, want 2 after merge", alice.EventCount)
	}
	if len(alice.SourceEventIDs) != 2 {
		t.Errorf("source events = %d, want 2", len(alice.SourceEventIDs))
	}

	entities, _ := s.ListEntities("person", 10)
	if len(entities) != 1 {
		t.Errorf("person entities = %d, want 1 (upsert, not duplicate)", len(entities))
	}
}

func TestCycleSkippedWhileUserActive(t *testing.T) {
	s := openTestStore(t)
	tracker := NewActivityTracker(time.Minute)
	cfg := DefaultProcessorConfig()
	cfg.Interval = 5 * time.Millisecond
	p := NewProcessor(s, extract.NewRuleExtractor(), embed.NewLocalEmbedder(), tracker, cfg)

	s.SaveEvent(&Event{Content: "Alice works at Initech"})
	tracker.MarkInbound()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	p.Run(ctx)

	pending, _ := s.GetPendingEvents(10)
	if len(pending) != 1 {
		t.Errorf("pending = %d, want 1 (cycle must skip while user active)", len(pending))
	}
}

func TestActivityTracker(t *testing.T) {
	tracker := NewActivityTracker(20 * time.Millisecond)
	if tracker.IsUserActive() {
		t.Error("fresh tracker must report inactive")
	}
	tracker.MarkInbound()
	if !tracker.IsUserActive() {
		t.Error("must be active right after MarkInbound")
	}
	time.Sleep(30 * time.Millisecond)
	if tracker.IsUserActive() {
		t.Error("must go inactive after the quiet threshold")
	}
}

func TestRefreshSummaries(t *testing.T) {
	s := openTestStore(t)
	p := newTestProcessor(t, s)

	for i := 0; i < 3; i++ {
		s.SaveEvent(&Event{Content: "discussed the deploy pipeline", SessionKey: "room:general"})
	}
	s.UpsertSummaryNode(&SummaryNode{NodeType: "session", Key: "room:general"})
	for i := 0; i < 12; i++ {
		s.BumpSummaryStaleness("room:general")
	}

	if err := p.refreshSummaries(); err != nil {
		t.Fatalf("refreshSummaries: %v", err)
	}
	node, _ := s.GetSummaryNode("room:general")
	if node.Summary == "" {
		t.Error("summary not rebuilt for stale node")
	}
	if node.EventsSinceUpdate != 0 {
		t.Errorf("events_since_update = %d, want reset to 0", node.EventsSinceUpdate)
	}
}
