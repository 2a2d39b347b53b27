package config

import (
	"path/filepath"
	"sync"
)

// Config is the root configuration for the nanoroom gateway.
type Config struct {
	Agents    AgentsConfig              `json:"agents"`
	Providers map[string]ProviderConfig `json:"providers,omitempty"`
	Channels  ChannelsConfig            `json:"channels"`
	Tools     ToolsConfig               `json:"tools"`
	Routing   RoutingConfig             `json:"routing"`
	Memory    MemoryConfig              `json:"memory"`
	Rooms     RoomsConfig               `json:"rooms"`
	Gateway   GatewayConfig             `json:"gateway"`
	Telemetry TelemetryConfig           `json:"telemetry,omitempty"`

	mu sync.RWMutex
}

// AgentsConfig contains bot defaults and per-bot overrides.
type AgentsConfig struct {
	Defaults AgentDefaults      `json:"defaults"`
	Bots     map[string]BotSpec `json:"bots,omitempty"`
}

// AgentDefaults are default settings for all bots.
type AgentDefaults struct {
	Workspace         string  `json:"workspace"`
	Provider          string  `json:"provider"`
	Model             string  `json:"model"`
	MaxTokens         int     `json:"max_tokens"`
	Temperature       float64 `json:"temperature"`
	MaxToolIterations int     `json:"max_tool_iterations"`
	MaxContextTokens  int     `json:"max_context_tokens"`
}

// BotSpec overrides defaults for one named bot.
type BotSpec struct {
	Model         string   `json:"model,omitempty"`
	Provider      string   `json:"provider,omitempty"`
	AllowedTools  []string `json:"allowed_tools,omitempty"`
	DeniedTools   []string `json:"denied_tools,omitempty"`
	CoTReflection bool     `json:"cot_reflection,omitempty"` // chain-of-thought prompts between tool rounds
	CoTMinTier    string   `json:"cot_min_tier,omitempty"`   // lowest tier that triggers reflection (default "complex")
}

// ProviderConfig holds credentials for one LLM provider.
type ProviderConfig struct {
	APIKey       string            `json:"api_key,omitempty"`
	APIBase      string            `json:"api_base,omitempty"`
	ExtraHeaders map[string]string `json:"extra_headers,omitempty"`
}

// ChannelsConfig configures transport adapters.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram,omitempty"`
	Discord  DiscordConfig  `json:"discord,omitempty"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"-"` // env NANOROOM_TELEGRAM_TOKEN only, never persisted
}

type DiscordConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"-"` // env NANOROOM_DISCORD_TOKEN only
}

// ToolsConfig configures tool execution.
type ToolsConfig struct {
	RestrictToWorkspace bool           `json:"restrict_to_workspace"`
	AllowedPaths        []string       `json:"allowed_paths,omitempty"`
	ProtectedPaths      []string       `json:"protected_paths,omitempty"`
	Exec                ExecToolConfig `json:"exec"`
	Web                 WebToolConfig  `json:"web"`
}

type ExecToolConfig struct {
	TimeoutSeconds int `json:"timeout"`
}

type WebToolConfig struct {
	SearchAPIKey string `json:"-"` // env NANOROOM_SEARCH_API_KEY only
	MaxResults   int    `json:"max_results"`
}

// RoutingConfig configures the smart router.
type RoutingConfig struct {
	Enabled          bool                  `json:"enabled"`
	Tiers            map[string]TierConfig `json:"tiers,omitempty"`
	ClientClassifier ClassifierConfig      `json:"client_classifier"`
	LLMClassifier    LLMClassifierConfig   `json:"llm_classifier"`
	Sticky           StickyConfig          `json:"sticky"`
	AutoCalibration  CalibrationConfig     `json:"auto_calibration"`
}

// TierConfig maps a complexity tier to models.
type TierConfig struct {
	Model          string  `json:"model"`
	SecondaryModel string  `json:"secondary_model,omitempty"`
	CostPerMTok    float64 `json:"cost_per_mtok,omitempty"` // observability only
}

type ClassifierConfig struct {
	MinConfidence float64 `json:"min_confidence"`
}

type LLMClassifierConfig struct {
	Model          string `json:"model"`
	SecondaryModel string `json:"secondary_model,omitempty"`
	TimeoutMs      int    `json:"timeout_ms"`
}

type StickyConfig struct {
	ContextWindow       int     `json:"context_window"`       // last K tiers observed
	DowngradeConfidence float64 `json:"downgrade_confidence"` // min confidence to step down from an elevated tier
}

type CalibrationConfig struct {
	Enabled            bool `json:"enabled"`
	IntervalSeconds    int  `json:"interval"`
	MinClassifications int  `json:"min_classifications"`
	MaxPatterns        int  `json:"max_patterns"`
	BackupBeforeWrite  bool `json:"backup_before_calibration"`
}

// MemoryConfig configures the memory store and background processor.
type MemoryConfig struct {
	Enabled    bool             `json:"enabled"`
	DBPath     string           `json:"db_path,omitempty"`
	Background BackgroundConfig `json:"background"`
	Embedding  EmbeddingConfig  `json:"embedding"`
	Extraction ExtractionConfig `json:"extraction"`
	Summary    SummaryConfig    `json:"summary"`
	Learning   LearningConfig   `json:"learning"`
	Context    ContextConfig    `json:"context"`
	Privacy    PrivacyConfig    `json:"privacy"`
}

type BackgroundConfig struct {
	Enabled               bool `json:"enabled"`
	IntervalSeconds       int  `json:"interval_seconds"`
	QuietThresholdSeconds int  `json:"quiet_threshold_seconds"`
}

type EmbeddingConfig struct {
	Provider   string `json:"provider"` // "local" or "api"
	LocalModel string `json:"local_model,omitempty"`
	APIModel   string `json:"api_model,omitempty"`
}

type ExtractionConfig struct {
	BatchSize int `json:"batch_size"`
}

type SummaryConfig struct {
	StalenessThreshold int `json:"staleness_threshold"`
	MaxRefreshBatch    int `json:"max_refresh_batch"`
}

type LearningConfig struct {
	Enabled           bool    `json:"enabled"`
	RelevanceDecay    float64 `json:"relevance_decay_rate"` // per day
	AccessBoost       float64 `json:"access_boost"`
	MaxLearnings      int     `json:"max_learnings"`
}

type ContextConfig struct {
	TotalBudget              int  `json:"total_budget"` // characters of memory context
	AlwaysIncludePreferences bool `json:"always_include_preferences"`
}

type PrivacyConfig struct {
	AutoRedactCredentials bool     `json:"auto_redact_credentials"`
	AutoRedactPII         bool     `json:"auto_redact_pii"`
	ExcludedPatterns      []string `json:"excluded_patterns,omitempty"`
}

// RoomsConfig configures room defaults.
type RoomsConfig struct {
	LeaderBot        string         `json:"leader_bot"`
	ArchiveAfterDays int            `json:"archive_after_days"`
	QueueCapacity    int            `json:"queue_capacity"`
	EnqueueTimeout   int            `json:"enqueue_timeout"`       // seconds
	HighPrioTimeout  int            `json:"high_priority_timeout"` // seconds, priority <= 1
	Reminders        []ReminderSpec `json:"reminders,omitempty"`
}

// ReminderSpec posts a system message into a room on a cron schedule.
type ReminderSpec struct {
	Room     string `json:"room"`
	Schedule string `json:"schedule"` // cron expression
	Message  string `json:"message"`
}

// GatewayConfig configures the local control surface.
type GatewayConfig struct {
	Host             string `json:"host"`
	Port             int    `json:"port"`
	InboundDebounce  int    `json:"inbound_debounce_ms,omitempty"`
	RateLimitPerChat int    `json:"rate_limit_per_chat"` // outbound messages/minute per chat
}

// TelemetryConfig configures the OTLP trace exporter.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
}

// Workspace returns the expanded workspace root.
func (c *Config) Workspace() string {
	return ExpandPath(c.Agents.Defaults.Workspace)
}

// MemoryDBPath resolves the memory DB location (workspace-relative default).
func (c *Config) MemoryDBPath() string {
	if c.Memory.DBPath != "" {
		return ExpandPath(c.Memory.DBPath)
	}
	return filepath.Join(c.Workspace(), "memory", "memory.db")
}

// PatternsPath is the routing patterns file location.
func (c *Config) PatternsPath() string {
	return filepath.Join(c.Workspace(), "memory", "ROUTING_PATTERNS.json")
}

// AnalyticsPath is the calibration records file location.
func (c *Config) AnalyticsPath() string {
	return filepath.Join(c.Workspace(), "analytics", "routing_stats.json")
}

// BrokerDir is the per-room WAL directory.
func (c *Config) BrokerDir() string {
	return filepath.Join(c.Workspace(), "broker_queue")
}

// SessionsDir is the per-room conversation directory.
func (c *Config) SessionsDir() string {
	return filepath.Join(c.Workspace(), "room_sessions")
}

// BotsDir holds per-bot SOUL.md / AGENTS.md files.
func (c *Config) BotsDir() string {
	return filepath.Join(c.Workspace(), "bots")
}

// Provider returns the named provider config, if present.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	p, ok := c.Providers[name]
	return p, ok
}

// BotSpecFor returns the per-bot spec (zero value when absent).
func (c *Config) BotSpecFor(name string) BotSpec {
	if c.Agents.Bots == nil {
		return BotSpec{}
	}
	return c.Agents.Bots[name]
}

// HasProviderKey reports whether any provider has credentials configured.
// Gates the onboarding response in the agent loop.
func (c *Config) HasProviderKey() bool {
	for _, p := range c.Providers {
		if p.APIKey != "" {
			return true
		}
	}
	return false
}
