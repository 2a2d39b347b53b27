package agent

import (
	"os"
	"path/filepath"
	"testing"
)

func writeBotFile(t *testing.T, botsDir, bot, name, content string) {
	t.Helper()
	dir := filepath.Join(botsDir, bot)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadPersona(t *testing.T) {
	dir := t.TempDir()
	writeBotFile(t, dir, "coder", "SOUL.md", "You are a careful reviewer.\n")

	if got := LoadPersona(dir, "coder"); got != "You are a careful reviewer." {
		t.Errorf("persona = %q", got)
	}
	if got := LoadPersona(dir, "missing"); got != "" {
		t.Errorf("absent persona = %q, want empty", got)
	}
}

func TestLoadToolGrants(t *testing.T) {
	dir := t.TempDir()
	writeBotFile(t, dir, "coder", "AGENTS.md",
		"# Tools\n\nProse between bullets is ignored.\n\n- read_file\n* `write_file`\n-\n")

	got := LoadToolGrants(dir, "coder")
	want := []string{"read_file", "write_file"}
	if len(got) != len(want) {
		t.Fatalf("grants = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("grant[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if g := LoadToolGrants(dir, "missing"); g != nil {
		t.Errorf("absent grants = %v, want nil", g)
	}
}
