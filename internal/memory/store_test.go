package memory

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEventLifecycle(t *testing.T) {
	s := openTestStore(t)

	id, err := s.SaveEvent(&Event{
		Channel:    "telegram",
		Direction:  "inbound",
		EventType:  "message",
		Content:    "hello there",
		SessionKey: "room:general",
	})
	if err != nil {
		t.Fatalf("SaveEvent: %v", err)
	}

	ev, err := s.GetEvent(id)
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if ev == nil {
		t.Fatal("event not found after save")
	}
	if ev.ExtractionStatus != ExtractionPending {
		t.Errorf("extraction status = %q, want pending", ev.ExtractionStatus)
	}
	if ev.RelevanceScore != 1.0 {
		t.Errorf("relevance = %v, want 1.0", ev.RelevanceScore)
	}

	pending, err := s.GetPendingEvents(10)
	if err != nil {
		t.Fatalf("GetPendingEvents: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}

	if err := s.MarkExtracted(id, ExtractionComplete); err != nil {
		t.Fatalf("MarkExtracted: %v", err)
	}
	pending, _ = s.GetPendingEvents(10)
	if len(pending) != 0 {
		t.Errorf("pending after mark = %d, want 0", len(pending))
	}
}

func TestPendingEventsOldestFirst(t *testing.T) {
	s := openTestStore(t)

	base := time.Now().UTC().Add(-time.Hour)
	for i, content := range []string{"first", "second", "third"} {
		_, err := s.SaveEvent(&Event{
			Content:   content,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("SaveEvent: %v", err)
		}
	}

	pending, err := s.GetPendingEvents(10)
	if err != nil {
		t.Fatalf("GetPendingEvents: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("pending = %d, want 3", len(pending))
	}
	if pending[0].Content != "first" || pending[2].Content != "third" {
		t.Errorf("backlog order wrong: %q .. %q", pending[0].Content, pending[2].Content)
	}
}

func TestFindEntityByNameAndAlias(t *testing.T) {
	s := openTestStore(t)

	_, err := s.SaveEntity(&Entity{
		Name:       "PostgreSQL",
		EntityType: "tool",
		Aliases:    []string{"postgres", "pg"},
	})
	if err != nil {
		t.Fatalf("SaveEntity: %v", err)
	}

	tests := []struct {
		query string
		found bool
	}{
		{"postgresql", true},
		{"POSTGRESQL", true},
		{"postgres", true},
		{"PG", true},
		{"mysql", false},
		{"", false},
	}
	for _, tt := range tests {
		e, err := s.FindEntityByName(tt.query)
		if err != nil {
			t.Fatalf("FindEntityByName(%q): %v", tt.query, err)
		}
		if (e != nil) != tt.found {
			t.Errorf("FindEntityByName(%q) found=%v, want %v", tt.query, e != nil, tt.found)
		}
	}
}

func TestEdgeReinforcement(t *testing.T) {
	s := openTestStore(t)

	aID, _ := s.SaveEntity(&Entity{Name: "Alice", EntityType: "person"})
	bID, _ := s.SaveEntity(&Entity{Name: "Acme", EntityType: "organization"})

	id1, err := s.SaveEdge(&Edge{
		SourceID: aID, TargetID: bID, Relation: "works_at",
		Strength: 0.5, SourceEventIDs: []string{"ev1"},
	})
	if err != nil {
		t.Fatalf("SaveEdge: %v", err)
	}
	id2, err := s.SaveEdge(&Edge{
		SourceID: aID, TargetID: bID, Relation: "works_at",
		Strength: 0.8, SourceEventIDs: []string{"ev2"},
	})
	if err != nil {
		t.Fatalf("SaveEdge reinforce: %v", err)
	}
	if id1 != id2 {
		t.Errorf("same relation produced two edges: %s vs %s", id1, id2)
	}

	edges, err := s.GetEdgesForEntity(aID, 10)
	if err != nil {
		t.Fatalf("GetEdgesForEntity: %v", err)
	}
	if len(edges) != 1 {
		t.Fatalf("edges = %d, want 1", len(edges))
	}
	if edges[0].Strength != 0.8 {
		t.Errorf("strength = %v, want 0.8", edges[0].Strength)
	}
	if len(edges[0].SourceEventIDs) != 2 {
		t.Errorf("source events = %v, want both merged", edges[0].SourceEventIDs)
	}
}

func TestFactsAreAdditive(t *testing.T) {
	s := openTestStore(t)

	eID, _ := s.SaveEntity(&Entity{Name: "Bob", EntityType: "person"})

	for _, object := range []string{"Berlin", "Lisbon"} {
		_, err := s.SaveFact(&Fact{
			SubjectEntityID: eID, Predicate: "lives_in", ObjectText: object,
			Confidence: 0.8,
		})
		if err != nil {
			t.Fatalf("SaveFact: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	facts, err := s.GetFactsForEntity(eID, 10)
	if err != nil {
		t.Fatalf("GetFactsForEntity: %v", err)
	}
	if len(facts) != 2 {
		t.Fatalf("facts = %d, want 2 (additive, never overwritten)", len(facts))
	}
	if facts[0].ObjectText != "Lisbon" {
		t.Errorf("newest fact = %q, want Lisbon first", facts[0].ObjectText)
	}
}

func TestSummaryNodeStaleness(t *testing.T) {
	s := openTestStore(t)

	_, err := s.UpsertSummaryNode(&SummaryNode{
		NodeType: "session", Key: "room:general", Summary: "initial",
	})
	if err != nil {
		t.Fatalf("UpsertSummaryNode: %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := s.BumpSummaryStaleness("room:general"); err != nil {
			t.Fatalf("BumpSummaryStaleness: %v", err)
		}
	}

	stale, err := s.GetStaleSummaryNodes(5, 10)
	if err != nil {
		t.Fatalf("GetStaleSummaryNodes: %v", err)
	}
	if len(stale) != 1 {
		t.Fatalf("stale = %d, want 1", len(stale))
	}

	// Rewriting resets the staleness counter.
	if _, err := s.UpsertSummaryNode(&SummaryNode{Key: "room:general", Summary: "refreshed"}); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	stale, _ = s.GetStaleSummaryNodes(1, 10)
	if len(stale) != 0 {
		t.Errorf("stale after refresh = %d, want 0", len(stale))
	}
	node, _ := s.GetSummaryNode("room:general")
	if node.Summary != "refreshed" {
		t.Errorf("summary = %q, want refreshed", node.Summary)
	}
}

func TestGetStats(t *testing.T) {
	s := openTestStore(t)

	s.SaveEvent(&Event{Content: "x"})
	s.SaveEntity(&Entity{Name: "Thing", EntityType: "concept"})

	stats, err := s.GetStats()
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.Events != 1 || stats.Entities != 1 {
		t.Errorf("stats = %+v, want 1 event and 1 entity", stats)
	}
	if stats.PendingExtractions != 1 {
		t.Errorf("pending = %d, want 1", stats.PendingExtractions)
	}
}
