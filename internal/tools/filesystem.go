package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nextlevelbuilder/nanoroom/internal/config"
)

// PathGuard enforces filesystem access policy: either workspace-only or
// an explicit allowed-paths whitelist, with protected paths denied even
// inside allowed areas.
type PathGuard struct {
	workspace      string
	restrict       bool
	allowedPaths   []string
	protectedPaths []string
}

func NewPathGuard(workspace string, cfg config.ToolsConfig) *PathGuard {
	g := &PathGuard{
		workspace: workspace,
		restrict:  cfg.RestrictToWorkspace,
	}
	for _, p := range cfg.AllowedPaths {
		g.allowedPaths = append(g.allowedPaths, config.ExpandPath(p))
	}
	for _, p := range cfg.ProtectedPaths {
		g.protectedPaths = append(g.protectedPaths, config.ExpandPath(p))
	}
	return g
}

// Check resolves a path and verifies the policy allows touching it.
func (g *PathGuard) Check(path string) (string, error) {
	abs, err := filepath.Abs(config.ExpandPath(path))
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}

	for _, protected := range g.protectedPaths {
		if pathWithin(abs, protected) {
			return "", fmt.Errorf("path %s is protected", abs)
		}
	}

	if g.restrict {
		if !pathWithin(abs, g.workspace) {
			return "", fmt.Errorf("path %s is outside the workspace", abs)
		}
		return abs, nil
	}

	if len(g.allowedPaths) > 0 {
		for _, allowed := range g.allowedPaths {
			if pathWithin(abs, allowed) {
				return abs, nil
			}
		}
		return "", fmt.Errorf("path %s is not in allowed paths", abs)
	}
	return abs, nil
}

func pathWithin(path, root string) bool {
	if root == "" {
		return false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

const maxReadBytes = 256 * 1024

// ReadFileTool reads a text file.
type ReadFileTool struct{ guard *PathGuard }

func NewReadFileTool(guard *PathGuard) *ReadFileTool { return &ReadFileTool{guard: guard} }

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) Description() string { return "Read the contents of a text file." }
func (t *ReadFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{"type": "string", "description": "File path to read"},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	path, err := t.guard.Check(stringArg(args, "path"))
	if err != nil {
		return ErrorResult(err.Error()), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ErrorResult(fmt.Sprintf("read %s: %v", path, err)), nil
	}
	if len(data) > maxReadBytes {
		data = data[:maxReadBytes]
		return NewResult(fmt.Sprintf("%s\n[truncated at %d bytes]", data, maxReadBytes)), nil
	}
	return NewResult(string(data)), nil
}

// WriteFileTool writes a file, creating parent directories.
type WriteFileTool struct{ guard *PathGuard }

func NewWriteFileTool(guard *PathGuard) *WriteFileTool { return &WriteFileTool{guard: guard} }

func (t *WriteFileTool) Name() string { return "write_file" }
func (t *WriteFileTool) Description() string {
	return "Write content to a file, creating it if needed."
}
func (t *WriteFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":    map[string]interface{}{"type": "string", "description": "File path to write"},
			"content": map[string]interface{}{"type": "string", "description": "Content to write"},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	path, err := t.guard.Check(stringArg(args, "path"))
	if err != nil {
		return ErrorResult(err.Error()), nil
	}
	content := stringArg(args, "content")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return ErrorResult(fmt.Sprintf("create dir: %v", err)), nil
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return ErrorResult(fmt.Sprintf("write %s: %v", path, err)), nil
	}
	return NewResult(fmt.Sprintf("wrote %d bytes to %s", len(content), path)), nil
}

// EditFileTool performs an exact string replacement in a file.
type EditFileTool struct{ guard *PathGuard }

func NewEditFileTool(guard *PathGuard) *EditFileTool { return &EditFileTool{guard: guard} }

func (t *EditFileTool) Name() string { return "edit_file" }
func (t *EditFileTool) Description() string {
	return "Replace an exact string in a file with new content."
}
func (t *EditFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":       map[string]interface{}{"type": "string", "description": "File path to edit"},
			"old_string": map[string]interface{}{"type": "string", "description": "Exact text to replace"},
			"new_string": map[string]interface{}{"type": "string", "description": "Replacement text"},
		},
		"required": []string{"path", "old_string", "new_string"},
	}
}

func (t *EditFileTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	path, err := t.guard.Check(stringArg(args, "path"))
	if err != nil {
		return ErrorResult(err.Error()), nil
	}
	oldStr := stringArg(args, "old_string")
	newStr := stringArg(args, "new_string")

	data, err := os.ReadFile(path)
	if err != nil {
		return ErrorResult(fmt.Sprintf("read %s: %v", path, err)), nil
	}
	content := string(data)
	count := strings.Count(content, oldStr)
	if count == 0 {
		return ErrorResult("old_string not found in file"), nil
	}
	if count > 1 {
		return ErrorResult(fmt.Sprintf("old_string matches %d times; provide more context", count)), nil
	}
	updated := strings.Replace(content, oldStr, newStr, 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return ErrorResult(fmt.Sprintf("write %s: %v", path, err)), nil
	}
	return NewResult(fmt.Sprintf("edited %s", path)), nil
}

// ListDirTool lists directory entries.
type ListDirTool struct{ guard *PathGuard }

func NewListDirTool(guard *PathGuard) *ListDirTool { return &ListDirTool{guard: guard} }

func (t *ListDirTool) Name() string        { return "list_dir" }
func (t *ListDirTool) Description() string { return "List the entries of a directory." }
func (t *ListDirTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{"type": "string", "description": "Directory path to list"},
		},
		"required": []string{"path"},
	}
}

func (t *ListDirTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	path, err := t.guard.Check(stringArg(args, "path"))
	if err != nil {
		return ErrorResult(err.Error()), nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return ErrorResult(fmt.Sprintf("list %s: %v", path, err)), nil
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return NewResult(strings.Join(names, "\n")), nil
}
