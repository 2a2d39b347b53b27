package router

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestPatternsFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ROUTING_PATTERNS.json")
	ps, err := LoadPatterns(path)
	if err != nil {
		t.Fatalf("LoadPatterns: %v", err)
	}
	err = ps.Replace([]*Pattern{
		{Name: "trivial_math", Tier: "simple", Regex: `^\d+\s*[+*/-]\s*\d+`, Confidence: 0.9},
	}, false)
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}

	// The on-disk document is a wrapper object, not a bare array.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var doc struct {
		Patterns []json.RawMessage `json:"patterns"`
		Version  string            `json:"version"`
		Count    int               `json:"count"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("patterns file is not a wrapper object: %v\n%s", err, data)
	}
	if doc.Version != "2.0" {
		t.Errorf("version = %q, want 2.0", doc.Version)
	}
	if doc.Count != 1 || len(doc.Patterns) != 1 {
		t.Errorf("count = %d, patterns = %d, want 1 each", doc.Count, len(doc.Patterns))
	}

	ps2, err := LoadPatterns(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if p := ps2.Match("2+2"); p == nil || p.Name != "trivial_math" {
		t.Errorf("reloaded pattern did not match, got %+v", p)
	}
}

func TestPatternsFileEmptySetKeepsWrapper(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ROUTING_PATTERNS.json")
	ps, _ := LoadPatterns(path)
	if err := ps.Replace(nil, false); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	data, _ := os.ReadFile(path)
	var doc patternsFile
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if doc.Patterns == nil || doc.Version != patternsFileVersion {
		t.Errorf("empty set wrote %s", data)
	}
}
