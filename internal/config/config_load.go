package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/titanous/json5"
)

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return ExpandPath("~/.nanoroom/config.json")
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Agents: AgentsConfig{
			Defaults: AgentDefaults{
				Workspace:         "~/.nanoroom/workspace",
				Provider:          "anthropic",
				Model:             "claude-sonnet-4-5",
				MaxTokens:         8192,
				Temperature:       0.7,
				MaxToolIterations: 20,
				MaxContextTokens:  200000,
			},
		},
		Tools: ToolsConfig{
			RestrictToWorkspace: true,
			Exec:                ExecToolConfig{TimeoutSeconds: 60},
			Web:                 WebToolConfig{MaxResults: 5},
		},
		Routing: RoutingConfig{
			Enabled: true,
			Tiers: map[string]TierConfig{
				"simple":    {Model: "claude-haiku-4-5"},
				"medium":    {Model: "claude-sonnet-4-5", SecondaryModel: "claude-haiku-4-5"},
				"complex":   {Model: "claude-opus-4-5", SecondaryModel: "claude-sonnet-4-5"},
				"reasoning": {Model: "claude-opus-4-5", SecondaryModel: "claude-sonnet-4-5"},
				"coding":    {Model: "claude-sonnet-4-5", SecondaryModel: "claude-opus-4-5"},
			},
			ClientClassifier: ClassifierConfig{MinConfidence: 0.85},
			LLMClassifier:    LLMClassifierConfig{Model: "claude-haiku-4-5", TimeoutMs: 500},
			Sticky:           StickyConfig{ContextWindow: 5, DowngradeConfidence: 0.90},
			AutoCalibration: CalibrationConfig{
				Enabled:            true,
				IntervalSeconds:    3600,
				MinClassifications: 20,
				MaxPatterns:        100,
				BackupBeforeWrite:  true,
			},
		},
		Memory: MemoryConfig{
			Enabled: true,
			Background: BackgroundConfig{
				Enabled:               true,
				IntervalSeconds:       30,
				QuietThresholdSeconds: 120,
			},
			Embedding:  EmbeddingConfig{Provider: "local", LocalModel: "hash-256"},
			Extraction: ExtractionConfig{BatchSize: 20},
			Summary:    SummaryConfig{StalenessThreshold: 10, MaxRefreshBatch: 5},
			Learning: LearningConfig{
				Enabled:        true,
				RelevanceDecay: 0.05,
				AccessBoost:    1.2,
				MaxLearnings:   500,
			},
			Context: ContextConfig{TotalBudget: 4000, AlwaysIncludePreferences: true},
			Privacy: PrivacyConfig{AutoRedactCredentials: true},
		},
		Rooms: RoomsConfig{
			LeaderBot:        "nanobot",
			ArchiveAfterDays: 30,
			QueueCapacity:    1000,
			EnqueueTimeout:   5,
			HighPrioTimeout:  30,
		},
		Gateway: GatewayConfig{
			Host:             "127.0.0.1",
			Port:             18790,
			RateLimitPerChat: 20,
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file yields defaults (still overlaid).
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values. Secrets (API keys, channel
// tokens) come from env only.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	providerKey := func(name, env string) {
		v := os.Getenv(env)
		if v == "" {
			return
		}
		if c.Providers == nil {
			c.Providers = make(map[string]ProviderConfig)
		}
		p := c.Providers[name]
		p.APIKey = v
		c.Providers[name] = p
	}
	providerKey("anthropic", "NANOROOM_ANTHROPIC_API_KEY")
	providerKey("openai", "NANOROOM_OPENAI_API_KEY")
	providerKey("openrouter", "NANOROOM_OPENROUTER_API_KEY")
	providerKey("groq", "NANOROOM_GROQ_API_KEY")
	providerKey("deepseek", "NANOROOM_DEEPSEEK_API_KEY")

	envStr("NANOROOM_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("NANOROOM_DISCORD_TOKEN", &c.Channels.Discord.Token)
	envStr("NANOROOM_SEARCH_API_KEY", &c.Tools.Web.SearchAPIKey)

	// Auto-enable channels when credentials arrive via env
	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}
	if c.Channels.Discord.Token != "" {
		c.Channels.Discord.Enabled = true
	}

	envStr("NANOROOM_PROVIDER", &c.Agents.Defaults.Provider)
	envStr("NANOROOM_MODEL", &c.Agents.Defaults.Model)
	envStr("NANOROOM_WORKSPACE", &c.Agents.Defaults.Workspace)

	envStr("NANOROOM_HOST", &c.Gateway.Host)
	if v := os.Getenv("NANOROOM_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}

	envStr("NANOROOM_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("NANOROOM_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("NANOROOM_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
}

// Save writes the config atomically, keeping a timestamped backup of the
// previous file. Secrets carry `json:"-"` tags and are never persisted.
func (c *Config) Save(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		backup := path + ".bak." + time.Now().UTC().Format("20060102T150405")
		if err := copyFile(path, backup); err != nil {
			return fmt.Errorf("backup config: %w", err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o600)
}

// ExpandPath expands a leading ~ to the user home directory.
func ExpandPath(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
