// Package gateway wires the whole runtime: channels feed the bus, the
// pump routes inbound messages through rooms into per-room brokers, and
// broker handlers run the agent loop for the targeted bot.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/nanoroom/internal/agent"
	"github.com/nextlevelbuilder/nanoroom/internal/broker"
	"github.com/nextlevelbuilder/nanoroom/internal/bus"
	"github.com/nextlevelbuilder/nanoroom/internal/channels"
	"github.com/nextlevelbuilder/nanoroom/internal/channels/discord"
	"github.com/nextlevelbuilder/nanoroom/internal/channels/telegram"
	"github.com/nextlevelbuilder/nanoroom/internal/config"
	"github.com/nextlevelbuilder/nanoroom/internal/embed"
	"github.com/nextlevelbuilder/nanoroom/internal/extract"
	"github.com/nextlevelbuilder/nanoroom/internal/memory"
	"github.com/nextlevelbuilder/nanoroom/internal/providers"
	"github.com/nextlevelbuilder/nanoroom/internal/rooms"
	"github.com/nextlevelbuilder/nanoroom/internal/router"
	"github.com/nextlevelbuilder/nanoroom/internal/scheduler"
	"github.com/nextlevelbuilder/nanoroom/internal/sessions"
	"github.com/nextlevelbuilder/nanoroom/internal/skills"
	"github.com/nextlevelbuilder/nanoroom/internal/tools"
)

// botRunner is the slice of the agent loop the service needs. Satisfied
// by *agent.Loop.
type botRunner interface {
	Run(ctx context.Context, req agent.RunRequest) (*agent.RunResult, error)
}

// Service owns every long-lived component of a running gateway.
type Service struct {
	cfg     *config.Config
	cfgPath string

	msgBus    *bus.MessageBus
	store     *memory.Store
	sessions  *sessions.Manager
	rooms     *rooms.Manager
	router    *router.SmartRouter
	patterns  *router.PatternSet
	skills    *skills.Loader
	activity  *memory.ActivityTracker
	embedder  embed.Embedder
	provider  providers.Provider
	loops     map[string]botRunner
	brokers   *broker.Manager
	channels  *channels.Manager
	server    *Server
	scheduler *scheduler.Scheduler
	processor *memory.Processor

	leader   string
	dedupe   *dedupeCache
	debounce *debouncer

	// route is broker Manager.Route, swappable in tests.
	route func(env bus.MessageEnvelope) error
}

// New builds a fully wired service from config. Nothing starts until Run.
func New(ctx context.Context, cfg *config.Config, cfgPath string) (*Service, error) {
	s := &Service{
		cfg:     cfg,
		cfgPath: cfgPath,
		msgBus:  bus.NewMessageBus(),
		loops:   make(map[string]botRunner),
		dedupe:  newDedupeCache(),
	}

	sm, err := sessions.NewManager(cfg.SessionsDir())
	if err != nil {
		return nil, fmt.Errorf("sessions: %w", err)
	}
	s.sessions = sm

	s.embedder = embed.NewLocalEmbedder()

	if cfg.Memory.Enabled {
		store, err := memory.Open(cfg.MemoryDBPath())
		if err != nil {
			return nil, fmt.Errorf("memory store: %w", err)
		}
		s.store = store
	}

	quiet := time.Duration(cfg.Memory.Background.QuietThresholdSeconds) * time.Second
	if quiet <= 0 {
		quiet = 120 * time.Second
	}
	s.activity = memory.NewActivityTracker(quiet)

	s.provider = buildProvider(cfg)

	if cfg.Routing.Enabled {
		patterns, err := router.LoadPatterns(cfg.PatternsPath())
		if err != nil {
			slog.Warn("gateway: patterns unavailable, routing without them",
				"component", "gateway", "error", err)
		} else {
			s.patterns = patterns
		}
		s.router = router.New(router.Options{
			Routing:       cfg.Routing,
			Patterns:      s.patterns,
			LLMProvider:   s.provider,
			AnalyticsPath: cfg.AnalyticsPath(),
			DefaultModel:  cfg.Agents.Defaults.Model,
		})
	}

	s.skills = skills.NewLoader(filepath.Join(cfg.Workspace(), "skills"))
	s.skills.Reload()

	leader := cfg.Rooms.LeaderBot
	if leader == "" {
		leader = "nanobot"
	}
	s.leader = leader
	rm, err := rooms.NewManager(filepath.Join(cfg.Workspace(), "rooms.json"), leader)
	if err != nil {
		return nil, fmt.Errorf("rooms: %w", err)
	}
	s.rooms = rm

	compactor := agent.NewCompactor(sm, s.store, s.embedder, cfg.Agents.Defaults.MaxContextTokens)
	if s.provider != nil {
		compactor = compactor.WithSummarizer(s.provider, cfg.Agents.Defaults.Model)
	}

	for _, name := range botNames(cfg, leader) {
		s.loops[name] = agent.NewLoop(agent.LoopConfig{
			BotName:   name,
			Config:    cfg,
			Provider:  s.provider,
			Registry:  s.buildRegistry(name),
			Sessions:  sm,
			Store:     s.store,
			Embedder:  s.embedder,
			Router:    s.router,
			Compactor: compactor,
			Skills:    s.skills,
			Activity:  s.activity,
		})
	}

	s.brokers = broker.NewManager(ctx, cfg.BrokerDir(), s.handleRoomMessage, broker.Options{
		Capacity:        cfg.Rooms.QueueCapacity,
		EnqueueTimeout:  time.Duration(cfg.Rooms.EnqueueTimeout) * time.Second,
		HighPrioTimeout: time.Duration(cfg.Rooms.HighPrioTimeout) * time.Second,
	})
	s.route = s.brokers.Route

	s.server = NewServer(cfg.Gateway, s.msgBus)
	s.channels = channels.NewManager(s.msgBus, cfg.Gateway.RateLimitPerChat)
	s.channels.Register(s.server)
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		tg, err := telegram.New(cfg.Channels.Telegram.Token, s.msgBus)
		if err != nil {
			slog.Error("gateway: telegram setup failed", "component", "gateway", "error", err)
		} else {
			s.channels.Register(tg)
		}
	}
	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token != "" {
		dc, err := discord.New(cfg.Channels.Discord.Token, s.msgBus)
		if err != nil {
			slog.Error("gateway: discord setup failed", "component", "gateway", "error", err)
		} else {
			s.channels.Register(dc)
		}
	}

	s.scheduler = scheduler.New(cfg.Rooms.Reminders, func(env bus.MessageEnvelope) error {
		return s.route(env)
	})

	if s.store != nil && cfg.Memory.Background.Enabled {
		pc := memory.DefaultProcessorConfig()
		if v := cfg.Memory.Background.IntervalSeconds; v > 0 {
			pc.Interval = time.Duration(v) * time.Second
		}
		pc.QuietThreshold = quiet
		if v := cfg.Memory.Extraction.BatchSize; v > 0 {
			pc.ExtractionBatch = v
		}
		if v := cfg.Memory.Summary.StalenessThreshold; v > 0 {
			pc.StalenessThreshold = v
		}
		if v := cfg.Memory.Summary.MaxRefreshBatch; v > 0 {
			pc.MaxRefreshBatch = v
		}
		s.processor = memory.NewProcessor(s.store, extract.NewRuleExtractor(), s.embedder, s.activity, pc)
	}

	s.debounce = newDebouncer(
		time.Duration(cfg.Gateway.InboundDebounce)*time.Millisecond,
		s.routeInbound,
	)
	return s, nil
}

// botNames collects the leader plus every configured bot, leader first.
func botNames(cfg *config.Config, leader string) []string {
	names := []string{leader}
	var rest []string
	for name := range cfg.Agents.Bots {
		if name != leader {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(names, rest...)
}

// buildProvider picks the configured provider, falling back to any
// provider with credentials. Returns nil when nothing is configured so
// the agent loop can answer with onboarding guidance.
func buildProvider(cfg *config.Config) providers.Provider {
	name := cfg.Agents.Defaults.Provider
	if name == "" {
		name = "anthropic"
	}
	pc, ok := cfg.Provider(name)
	if !ok || pc.APIKey == "" {
		for n, p := range cfg.Providers {
			if p.APIKey != "" {
				name, pc = n, p
				break
			}
		}
	}
	if pc.APIKey == "" {
		return nil
	}
	if name == "anthropic" {
		return providers.NewAnthropicProvider(pc.APIKey,
			providers.WithAnthropicModel(cfg.Agents.Defaults.Model),
			providers.WithAnthropicBaseURL(pc.APIBase))
	}
	return providers.NewOpenAIProvider(name, pc.APIKey, pc.APIBase, cfg.Agents.Defaults.Model)
}

// buildRegistry assembles the tool set for one bot. Per-bot because the
// invoke tool must know the calling bot's identity.
func (s *Service) buildRegistry(botName string) *tools.Registry {
	r := tools.NewRegistry()
	guard := tools.NewPathGuard(s.cfg.Workspace(), s.cfg.Tools)

	r.Register(tools.NewReadFileTool(guard))
	r.Register(tools.NewWriteFileTool(guard))
	r.Register(tools.NewEditFileTool(guard))
	r.Register(tools.NewListDirTool(guard))
	r.Register(tools.NewExecTool(s.cfg.Workspace(), s.cfg.Tools.Exec.TimeoutSeconds))
	r.Register(tools.NewWebSearchTool(s.cfg.Tools.Web.SearchAPIKey, s.cfg.Tools.Web.MaxResults))
	r.Register(tools.NewWebFetchTool())
	r.Register(tools.NewUpdateConfigTool(s.cfg, s.cfgPath))
	r.Register(tools.NewScanSkillTool(s.skills))
	r.Register(tools.NewValidateSkillSafetyTool())
	r.Register(tools.NewInvokeTool(s, rooms.GeneralRoom, botName))

	if s.store != nil {
		r.Register(tools.NewSearchMemoryTool(s.store, s.embedder))
		r.Register(tools.NewGetEntityTool(s.store))
		r.Register(tools.NewGetRelationshipsTool(s.store))
		r.Register(tools.NewRecallTool(s.store, s.embedder))
	}
	return r
}

// Run starts every component and blocks until ctx is cancelled or a
// component fails fatally.
func (s *Service) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	s.channels.StartAll(gctx)

	g.Go(func() error { return s.pump(gctx) })
	if s.scheduler.Count() > 0 {
		g.Go(func() error { s.scheduler.Run(gctx); return nil })
	}
	if s.processor != nil {
		g.Go(func() error { s.processor.Run(gctx); return nil })
	}
	if s.patterns != nil {
		g.Go(func() error {
			if err := s.patterns.Watch(gctx); err != nil {
				slog.Warn("gateway: patterns watch unavailable", "component", "gateway", "error", err)
			}
			return nil
		})
	}

	err := g.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.debounce.Drain()
	s.channels.StopAll(stopCtx)
	s.brokers.Stop()
	if s.store != nil {
		s.store.Close()
	}
	return err
}

// Bus exposes the message bus, used by commands embedding the service.
func (s *Service) Bus() *bus.MessageBus { return s.msgBus }

// ServerAddr returns the bound gateway address once running.
func (s *Service) ServerAddr() string { return s.server.Addr() }

// BrokerStats snapshots per-room queue counters.
func (s *Service) BrokerStats() []broker.Stats { return s.brokers.Stats() }

// Invoke runs the target bot synchronously against the envelope and
// returns its reply. Implements tools.BotInvoker. Runs outside the room
// broker so a delegation issued from inside a handler cannot deadlock
// on its own queue.
func (s *Service) Invoke(ctx context.Context, env bus.MessageEnvelope) (string, error) {
	loop, ok := s.loops[env.BotName]
	if !ok {
		return "", fmt.Errorf("unknown bot %q", env.BotName)
	}
	res, err := loop.Run(ctx, agent.RunRequest{
		SessionKey: env.SessionKey(),
		Content:    env.Content,
		Channel:    env.Channel,
		ChatID:     env.ChatID,
		SenderID:   env.SenderID,
		SenderRole: env.SenderRole,
		TraceID:    env.TraceID,
	})
	if err != nil {
		return "", err
	}
	return res.Content, nil
}

// KnownBots lists every bot with a loop, sorted.
func (s *Service) KnownBots() []string {
	names := make([]string, 0, len(s.loops))
	for name := range s.loops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
