package config

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrUnknownPath is returned for paths outside the closed schema.
var ErrUnknownPath = errors.New("unknown config path")

// FieldKind enumerates the value types the update schema accepts.
type FieldKind int

const (
	KindString FieldKind = iota
	KindBool
	KindInt
	KindFloat
	KindStringList
)

// FieldSpec describes one updatable config path.
type FieldSpec struct {
	Kind    FieldKind
	Pattern string // optional validation regex for string values

	get    func(c *Config) interface{}
	set    func(c *Config, v interface{})
	append func(c *Config, v string)
	remove func(c *Config, v string)
}

// schema is the closed set of dotted paths the update_config tool may
// touch. Paths are explicit: there is no reflective traversal.
var schema = map[string]*FieldSpec{
	"agents.defaults.model": {
		Kind: KindString,
		get:  func(c *Config) interface{} { return c.Agents.Defaults.Model },
		set:  func(c *Config, v interface{}) { c.Agents.Defaults.Model = v.(string) },
	},
	"agents.defaults.provider": {
		Kind:    KindString,
		Pattern: `^[a-z][a-z0-9_-]*$`,
		get:     func(c *Config) interface{} { return c.Agents.Defaults.Provider },
		set:     func(c *Config, v interface{}) { c.Agents.Defaults.Provider = v.(string) },
	},
	"agents.defaults.max_tokens": {
		Kind: KindInt,
		get:  func(c *Config) interface{} { return c.Agents.Defaults.MaxTokens },
		set:  func(c *Config, v interface{}) { c.Agents.Defaults.MaxTokens = v.(int) },
	},
	"agents.defaults.temperature": {
		Kind: KindFloat,
		get:  func(c *Config) interface{} { return c.Agents.Defaults.Temperature },
		set:  func(c *Config, v interface{}) { c.Agents.Defaults.Temperature = v.(float64) },
	},
	"agents.defaults.max_tool_iterations": {
		Kind: KindInt,
		get:  func(c *Config) interface{} { return c.Agents.Defaults.MaxToolIterations },
		set:  func(c *Config, v interface{}) { c.Agents.Defaults.MaxToolIterations = v.(int) },
	},
	"tools.restrict_to_workspace": {
		Kind: KindBool,
		get:  func(c *Config) interface{} { return c.Tools.RestrictToWorkspace },
		set:  func(c *Config, v interface{}) { c.Tools.RestrictToWorkspace = v.(bool) },
	},
	"tools.exec.timeout": {
		Kind: KindInt,
		get:  func(c *Config) interface{} { return c.Tools.Exec.TimeoutSeconds },
		set:  func(c *Config, v interface{}) { c.Tools.Exec.TimeoutSeconds = v.(int) },
	},
	"tools.web.max_results": {
		Kind: KindInt,
		get:  func(c *Config) interface{} { return c.Tools.Web.MaxResults },
		set:  func(c *Config, v interface{}) { c.Tools.Web.MaxResults = v.(int) },
	},
	"tools.allowed_paths": {
		Kind:   KindStringList,
		get:    func(c *Config) interface{} { return c.Tools.AllowedPaths },
		append: func(c *Config, v string) { c.Tools.AllowedPaths = appendUnique(c.Tools.AllowedPaths, v) },
		remove: func(c *Config, v string) { c.Tools.AllowedPaths = removeValue(c.Tools.AllowedPaths, v) },
	},
	"tools.protected_paths": {
		Kind:   KindStringList,
		get:    func(c *Config) interface{} { return c.Tools.ProtectedPaths },
		append: func(c *Config, v string) { c.Tools.ProtectedPaths = appendUnique(c.Tools.ProtectedPaths, v) },
		remove: func(c *Config, v string) { c.Tools.ProtectedPaths = removeValue(c.Tools.ProtectedPaths, v) },
	},
	"routing.enabled": {
		Kind: KindBool,
		get:  func(c *Config) interface{} { return c.Routing.Enabled },
		set:  func(c *Config, v interface{}) { c.Routing.Enabled = v.(bool) },
	},
	"routing.client_classifier.min_confidence": {
		Kind: KindFloat,
		get:  func(c *Config) interface{} { return c.Routing.ClientClassifier.MinConfidence },
		set:  func(c *Config, v interface{}) { c.Routing.ClientClassifier.MinConfidence = v.(float64) },
	},
	"routing.sticky.downgrade_confidence": {
		Kind: KindFloat,
		get:  func(c *Config) interface{} { return c.Routing.Sticky.DowngradeConfidence },
		set:  func(c *Config, v interface{}) { c.Routing.Sticky.DowngradeConfidence = v.(float64) },
	},
	"routing.auto_calibration.enabled": {
		Kind: KindBool,
		get:  func(c *Config) interface{} { return c.Routing.AutoCalibration.Enabled },
		set:  func(c *Config, v interface{}) { c.Routing.AutoCalibration.Enabled = v.(bool) },
	},
	"memory.enabled": {
		Kind: KindBool,
		get:  func(c *Config) interface{} { return c.Memory.Enabled },
		set:  func(c *Config, v interface{}) { c.Memory.Enabled = v.(bool) },
	},
	"memory.background.enabled": {
		Kind: KindBool,
		get:  func(c *Config) interface{} { return c.Memory.Background.Enabled },
		set:  func(c *Config, v interface{}) { c.Memory.Background.Enabled = v.(bool) },
	},
	"memory.background.interval_seconds": {
		Kind: KindInt,
		get:  func(c *Config) interface{} { return c.Memory.Background.IntervalSeconds },
		set:  func(c *Config, v interface{}) { c.Memory.Background.IntervalSeconds = v.(int) },
	},
	"memory.learning.enabled": {
		Kind: KindBool,
		get:  func(c *Config) interface{} { return c.Memory.Learning.Enabled },
		set:  func(c *Config, v interface{}) { c.Memory.Learning.Enabled = v.(bool) },
	},
	"memory.context.total_budget": {
		Kind: KindInt,
		get:  func(c *Config) interface{} { return c.Memory.Context.TotalBudget },
		set:  func(c *Config, v interface{}) { c.Memory.Context.TotalBudget = v.(int) },
	},
	"rooms.leader_bot": {
		Kind:    KindString,
		Pattern: `^[a-z][a-z0-9_-]*$`,
		get:     func(c *Config) interface{} { return c.Rooms.LeaderBot },
		set:     func(c *Config, v interface{}) { c.Rooms.LeaderBot = v.(string) },
	},
}

// KnownPaths lists all updatable paths, for tool schemas and help output.
func KnownPaths() []string {
	paths := make([]string, 0, len(schema))
	for p := range schema {
		paths = append(paths, p)
	}
	return paths
}

// Get resolves a dotted path against the schema.
func (c *Config) Get(path string) (interface{}, error) {
	spec, ok := schema[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPath, path)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return spec.get(c), nil
}

// Set parses raw per the field's kind, validates, and applies it.
func (c *Config) Set(path, raw string) error {
	spec, ok := schema[path]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPath, path)
	}
	if spec.set == nil {
		return fmt.Errorf("path %s is a list; use append/remove", path)
	}

	val, err := parseValue(spec, raw)
	if err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	spec.set(c, val)
	return nil
}

// Append adds a value to a list path.
func (c *Config) Append(path, value string) error {
	spec, ok := schema[path]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPath, path)
	}
	if spec.append == nil {
		return fmt.Errorf("path %s is not a list", path)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	spec.append(c, value)
	return nil
}

// Remove deletes a value from a list path.
func (c *Config) Remove(path, value string) error {
	spec, ok := schema[path]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPath, path)
	}
	if spec.remove == nil {
		return fmt.Errorf("path %s is not a list", path)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	spec.remove(c, value)
	return nil
}

func parseValue(spec *FieldSpec, raw string) (interface{}, error) {
	switch spec.Kind {
	case KindString:
		if spec.Pattern != "" {
			re, err := regexp.Compile(spec.Pattern)
			if err != nil {
				return nil, err
			}
			if !re.MatchString(raw) {
				return nil, fmt.Errorf("value %q does not match %s", raw, spec.Pattern)
			}
		}
		return raw, nil
	case KindBool:
		switch strings.ToLower(raw) {
		case "true", "1", "yes", "on":
			return true, nil
		case "false", "0", "no", "off":
			return false, nil
		}
		return nil, fmt.Errorf("not a boolean: %q", raw)
	case KindInt:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("not an integer: %q", raw)
		}
		return n, nil
	case KindFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("not a number: %q", raw)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("unsupported kind %d", spec.Kind)
	}
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

func removeValue(list []string, v string) []string {
	out := list[:0]
	for _, x := range list {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
