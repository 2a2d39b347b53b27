package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/nanoroom/internal/config"
)

// UpdateConfigTool mutates configuration through the closed path schema
// and persists the result. Unknown paths are rejected.
type UpdateConfigTool struct {
	mu   sync.Mutex
	cfg  *config.Config
	path string
}

func NewUpdateConfigTool(cfg *config.Config, path string) *UpdateConfigTool {
	return &UpdateConfigTool{cfg: cfg, path: path}
}

func (t *UpdateConfigTool) Name() string { return "update_config" }
func (t *UpdateConfigTool) Description() string {
	return "Read or change a configuration value. Actions: get, set, append, remove, list."
}
func (t *UpdateConfigTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type":        "string",
				"description": "One of: get, set, append, remove, list",
			},
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Dotted config path, e.g. agent.default_model",
			},
			"value": map[string]interface{}{
				"type":        "string",
				"description": "Value for set/append/remove",
			},
		},
		"required": []string{"action"},
	}
}

func (t *UpdateConfigTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	action := strings.ToLower(stringArg(args, "action"))
	path := stringArg(args, "path")
	value := stringArg(args, "value")

	switch action {
	case "list":
		return NewResult("configurable paths:\n" + strings.Join(config.KnownPaths(), "\n")), nil

	case "get":
		v, err := t.cfg.Get(path)
		if err != nil {
			return t.pathError(path, err), nil
		}
		return NewResult(fmt.Sprintf("%s = %v", path, v)), nil

	case "set":
		if err := t.cfg.Set(path, value); err != nil {
			return t.pathError(path, err), nil
		}
	case "append":
		if err := t.cfg.Append(path, value); err != nil {
			return t.pathError(path, err), nil
		}
	case "remove":
		if err := t.cfg.Remove(path, value); err != nil {
			return t.pathError(path, err), nil
		}
	default:
		return ErrorResult(fmt.Sprintf("unknown action %q, use get, set, append, remove, or list", action)), nil
	}

	if err := t.cfg.Save(t.path); err != nil {
		return ErrorResult(fmt.Sprintf("config updated in memory but save failed: %v", err)), nil
	}
	v, _ := t.cfg.Get(path)
	return NewResult(fmt.Sprintf("%s = %v (saved)", path, v)), nil
}

func (t *UpdateConfigTool) pathError(path string, err error) *Result {
	if errors.Is(err, config.ErrUnknownPath) {
		return ErrorResult(fmt.Sprintf("unknown config path %q, use action=list to see valid paths", path))
	}
	return ErrorResult(fmt.Sprintf("%s: %v", path, err))
}
