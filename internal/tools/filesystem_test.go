package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/nanoroom/internal/config"
)

func TestPathGuardWorkspaceOnly(t *testing.T) {
	workspace := t.TempDir()
	guard := NewPathGuard(workspace, config.ToolsConfig{RestrictToWorkspace: true})

	if _, err := guard.Check(filepath.Join(workspace, "notes.txt")); err != nil {
		t.Fatalf("workspace path rejected: %v", err)
	}
	if _, err := guard.Check("/etc/passwd"); err == nil {
		t.Fatal("outside path accepted")
	}
	if _, err := guard.Check(filepath.Join(workspace, "..", "escape.txt")); err == nil {
		t.Fatal("traversal escape accepted")
	}
}

func TestPathGuardAllowedAndProtected(t *testing.T) {
	allowed := t.TempDir()
	guard := NewPathGuard("", config.ToolsConfig{
		AllowedPaths:   []string{allowed},
		ProtectedPaths: []string{filepath.Join(allowed, "secrets")},
	})

	if _, err := guard.Check(filepath.Join(allowed, "ok.txt")); err != nil {
		t.Fatalf("allowed path rejected: %v", err)
	}
	if _, err := guard.Check("/tmp/elsewhere.txt"); err == nil {
		t.Fatal("path outside allow list accepted")
	}
	// Protected wins even inside allowed paths.
	if _, err := guard.Check(filepath.Join(allowed, "secrets", "key.pem")); err == nil {
		t.Fatal("protected path accepted")
	}
}

func TestReadWriteEditRoundTrip(t *testing.T) {
	workspace := t.TempDir()
	guard := NewPathGuard(workspace, config.ToolsConfig{RestrictToWorkspace: true})
	path := filepath.Join(workspace, "a", "b.txt")

	write := NewWriteFileTool(guard)
	res, err := write.Execute(context.Background(), map[string]interface{}{
		"path": path, "content": "hello world",
	})
	if err != nil || res.IsError {
		t.Fatalf("write failed: %v %+v", err, res)
	}

	read := NewReadFileTool(guard)
	res, _ = read.Execute(context.Background(), map[string]interface{}{"path": path})
	if res.ForLLM != "hello world" {
		t.Fatalf("read got %q", res.ForLLM)
	}

	edit := NewEditFileTool(guard)
	res, _ = edit.Execute(context.Background(), map[string]interface{}{
		"path": path, "old_string": "world", "new_string": "there",
	})
	if res.IsError {
		t.Fatalf("edit failed: %s", res.ForLLM)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "hello there" {
		t.Fatalf("edit result %q", data)
	}
}

func TestEditRequiresUniqueMatch(t *testing.T) {
	workspace := t.TempDir()
	guard := NewPathGuard(workspace, config.ToolsConfig{RestrictToWorkspace: true})
	path := filepath.Join(workspace, "dup.txt")
	os.WriteFile(path, []byte("x y x"), 0o644)

	edit := NewEditFileTool(guard)

	res, _ := edit.Execute(context.Background(), map[string]interface{}{
		"path": path, "old_string": "x", "new_string": "z",
	})
	if !res.IsError || !strings.Contains(res.ForLLM, "2 times") {
		t.Fatalf("want ambiguity error, got %+v", res)
	}

	res, _ = edit.Execute(context.Background(), map[string]interface{}{
		"path": path, "old_string": "missing", "new_string": "z",
	})
	if !res.IsError || !strings.Contains(res.ForLLM, "not found") {
		t.Fatalf("want not-found error, got %+v", res)
	}
}

func TestListDirMarksDirectories(t *testing.T) {
	workspace := t.TempDir()
	guard := NewPathGuard(workspace, config.ToolsConfig{RestrictToWorkspace: true})
	os.Mkdir(filepath.Join(workspace, "sub"), 0o755)
	os.WriteFile(filepath.Join(workspace, "f.txt"), nil, 0o644)

	list := NewListDirTool(guard)
	res, _ := list.Execute(context.Background(), map[string]interface{}{"path": workspace})
	if res.ForLLM != "f.txt\nsub/" {
		t.Fatalf("got %q", res.ForLLM)
	}
}
