package cas

import (
	"fmt"
	"strings"
	"testing"
)

func TestReadEmpty(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	records, tag, err := s.Read("missing")
	if err != nil {
		t.Fatal(err)
	}
	if records != nil || tag != "" {
		t.Errorf("expected (nil, \"\"), got (%v, %q)", records, tag)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	s, _ := NewStore(t.TempDir())

	res := s.WriteCAS("k", []string{"a", "b"}, "", nil)
	if !res.Success {
		t.Fatalf("write failed: %v", res.Err)
	}

	records, tag, err := s.Read("k")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 || records[0] != "a" || records[1] != "b" {
		t.Errorf("records = %v", records)
	}
	if tag != res.CurrentVersion {
		t.Errorf("etag mismatch: read %q, write returned %q", tag, res.CurrentVersion)
	}
	if len(tag) != 16 {
		t.Errorf("etag length = %d, want 16", len(tag))
	}
}

func TestStaleEtagRejected(t *testing.T) {
	s, _ := NewStore(t.TempDir())

	first := s.WriteCAS("k", []string{"v1"}, "", nil)
	if !first.Success {
		t.Fatal(first.Err)
	}

	// Writing with the pre-v1 etag must fail without a merge func.
	res := s.WriteCAS("k", []string{"v2"}, "", nil)
	if res.Success {
		t.Error("stale write succeeded")
	}
	if res.CurrentVersion != first.CurrentVersion {
		t.Errorf("conflict should report current etag %q, got %q", first.CurrentVersion, res.CurrentVersion)
	}
}

func TestMergeOnConflict(t *testing.T) {
	s, _ := NewStore(t.TempDir())

	s.WriteCAS("k", []string{"a"}, "", nil)

	union := func(current, proposed []string) []string {
		seen := map[string]bool{}
		var out []string
		for _, r := range append(append([]string{}, current...), proposed...) {
			if !seen[r] {
				seen[r] = true
				out = append(out, r)
			}
		}
		return out
	}

	// Stale etag, but merge resolves it.
	res := s.WriteCAS("k", []string{"b"}, "", union)
	if !res.Success {
		t.Fatalf("merge write failed: %v", res.Err)
	}

	records, _, _ := s.Read("k")
	if len(records) != 2 || records[0] != "a" || records[1] != "b" {
		t.Errorf("merged records = %v", records)
	}
}

func TestRetriesExhausted(t *testing.T) {
	s, _ := NewStore(t.TempDir(), WithMaxRetries(2))
	s.WriteCAS("k", []string{"base"}, "", nil)

	// A merge that always lies about the base state keeps conflicting.
	calls := 0
	badMerge := func(current, proposed []string) []string {
		calls++
		// Mutate the file underneath each retry to force a fresh conflict.
		_, tag, _ := s.Read("k")
		s.WriteCAS("k", []string{fmt.Sprintf("mut-%d", calls)}, tag, nil)
		return proposed
	}

	res := s.WriteCAS("k", []string{"new"}, "stale000stale000", badMerge)
	if res.Success {
		t.Error("expected exhaustion failure")
	}
	if res.Err == nil {
		t.Error("expected error after retries exhausted")
	}
}

func TestSessionMergeDedupeAndOrder(t *testing.T) {
	current := []string{
		`{"id":"m1","timestamp":1,"content":"one"}`,
		`{"id":"m3","timestamp":3,"content":"three"}`,
	}
	proposed := []string{
		`{"id":"m2","timestamp":2,"content":"two"}`,
		`{"id":"m1","timestamp":1,"content":"one"}`,
	}

	merged := MergeSessionRecords(current, proposed)
	if len(merged) != 3 {
		t.Fatalf("merged len = %d, want 3", len(merged))
	}
	wantOrder := []string{"m1", "m2", "m3"}
	for i, want := range wantOrder {
		if !strings.Contains(merged[i], want) {
			t.Errorf("position %d = %q, want id %s", i, merged[i], want)
		}
	}
}
