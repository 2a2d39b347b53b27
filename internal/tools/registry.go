// Package tools defines the tool contract, the registry that exposes
// tools to LLM providers, and the built-in tool implementations.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nextlevelbuilder/nanoroom/internal/providers"
)

// Tool is one callable capability.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns a JSON-schema object describing the arguments.
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) (*Result, error)
}

// DefaultTimeout bounds a single tool execution.
const DefaultTimeout = 60 * time.Second

// Registry holds registered tools by name.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	timeout time.Duration
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool), timeout: DefaultTimeout}
}

// Register adds a tool; re-registering a name replaces it.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	r.tools[t.Name()] = t
	r.mu.Unlock()
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns registered tool names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions converts tools to provider tool definitions, restricted to
// the given allow set (nil = all).
func (r *Registry) Definitions(allowed map[string]bool) []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		if allowed == nil || allowed[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	defs := make([]providers.ToolDefinition, 0, len(names))
	for _, name := range names {
		defs = append(defs, ToProviderDef(r.tools[name]))
	}
	return defs
}

// ToProviderDef converts one tool to the wire schema.
func ToProviderDef(t Tool) providers.ToolDefinition {
	return providers.ToolDefinition{
		Type: "function",
		Function: providers.ToolFunctionSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		},
	}
}

// Execute validates arguments and runs a tool under the registry timeout.
// Failures come back as error results so the agent loop can surface them
// to the LLM and continue.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) *Result {
	tool, ok := r.Get(name)
	if !ok {
		return ErrorResult(fmt.Sprintf("unknown tool: %s", name))
	}

	if err := validateArgs(tool.Parameters(), args); err != nil {
		return ErrorResult(fmt.Sprintf("invalid arguments for %s: %v", name, err))
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	result, err := tool.Execute(ctx, args)
	elapsed := time.Since(start)

	if err != nil {
		slog.Warn("tools: execution failed", "tool", name, "elapsed", elapsed, "error", err)
		return ErrorResult(fmt.Sprintf("%s failed: %v", name, err)).WithError(err)
	}
	if result == nil {
		result = NewResult("")
	}
	slog.Debug("tools: executed", "tool", name, "elapsed", elapsed, "is_error", result.IsError)
	return result
}

// validateArgs checks required fields and primitive types against the
// JSON-schema parameters object.
func validateArgs(schema, args map[string]interface{}) error {
	props, _ := schema["properties"].(map[string]interface{})

	if required, ok := schema["required"].([]string); ok {
		for _, field := range required {
			if _, present := args[field]; !present {
				return fmt.Errorf("missing required field %q", field)
			}
		}
	} else if required, ok := schema["required"].([]interface{}); ok {
		for _, f := range required {
			field, _ := f.(string)
			if _, present := args[field]; !present {
				return fmt.Errorf("missing required field %q", field)
			}
		}
	}

	for key, val := range args {
		propRaw, ok := props[key]
		if !ok {
			continue // unknown args pass through; the tool may ignore them
		}
		prop, _ := propRaw.(map[string]interface{})
		wantType, _ := prop["type"].(string)
		if wantType == "" || val == nil {
			continue
		}
		if !typeMatches(wantType, val) {
			return fmt.Errorf("field %q: expected %s", key, wantType)
		}
	}
	return nil
}

func typeMatches(wantType string, val interface{}) bool {
	switch wantType {
	case "string":
		_, ok := val.(string)
		return ok
	case "number", "integer":
		switch val.(type) {
		case float64, float32, int, int64:
			return true
		}
		return false
	case "boolean":
		_, ok := val.(bool)
		return ok
	case "array":
		_, ok := val.([]interface{})
		return ok
	case "object":
		_, ok := val.(map[string]interface{})
		return ok
	default:
		return true
	}
}

// Helper for tools to read string args.
func stringArg(args map[string]interface{}, key string) string {
	s, _ := args[key].(string)
	return s
}

func intArg(args map[string]interface{}, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}
