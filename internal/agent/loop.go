package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nextlevelbuilder/nanoroom/internal/bus"
	"github.com/nextlevelbuilder/nanoroom/internal/config"
	"github.com/nextlevelbuilder/nanoroom/internal/embed"
	"github.com/nextlevelbuilder/nanoroom/internal/memory"
	"github.com/nextlevelbuilder/nanoroom/internal/providers"
	"github.com/nextlevelbuilder/nanoroom/internal/router"
	"github.com/nextlevelbuilder/nanoroom/internal/sessions"
	"github.com/nextlevelbuilder/nanoroom/internal/skills"
	"github.com/nextlevelbuilder/nanoroom/internal/tools"
	"github.com/nextlevelbuilder/nanoroom/internal/tracing"
)

const (
	defaultMaxIterations = 20
	historyWindow        = 40

	onboardingResponse = "No LLM provider is configured yet. Run `nanoroom onboard` " +
		"or set an API key (for example NANOROOM_ANTHROPIC_API_KEY) and restart."

	helpResponse = "Commands:\n" +
		"/new  - start a fresh conversation\n" +
		"/help - show this message\n" +
		"Mention a bot with @name, or @all for everyone in the room."
)

// Loop runs the message cycle for one bot.
type Loop struct {
	botName       string
	provider      providers.Provider
	registry      *tools.Registry
	allowed       map[string]bool
	sessions      *sessions.Manager
	store         *memory.Store
	embedder      embed.Embedder
	router        *router.SmartRouter
	compactor     *Compactor
	skills        *skills.Loader
	activity      *memory.ActivityTracker
	persona       string
	spec          config.BotSpec
	maxIterations int
	maxTokens     int
	temperature   float64
	contextBudget int
	defaultModel  string
	hasKey        bool
}

// LoopConfig wires a Loop; nil optional fields disable the feature.
type LoopConfig struct {
	BotName   string
	Config    *config.Config
	Provider  providers.Provider
	Registry  *tools.Registry
	Sessions  *sessions.Manager
	Store     *memory.Store
	Embedder  embed.Embedder
	Router    *router.SmartRouter
	Compactor *Compactor
	Skills    *skills.Loader
	Activity  *memory.ActivityTracker
}

func NewLoop(cfg LoopConfig) *Loop {
	c := cfg.Config
	spec := c.BotSpecFor(cfg.BotName)

	maxIter := c.Agents.Defaults.MaxToolIterations
	if maxIter <= 0 {
		maxIter = defaultMaxIterations
	}
	model := spec.Model
	if model == "" {
		model = c.Agents.Defaults.Model
	}

	// Config allow-list wins; an AGENTS.md grant file only applies when
	// the config leaves the bot unrestricted.
	allowList := spec.AllowedTools
	if len(allowList) == 0 {
		allowList = LoadToolGrants(c.BotsDir(), cfg.BotName)
	}
	var allowed map[string]bool
	if cfg.Registry != nil {
		allowed = tools.ResolveAllowed(cfg.Registry.List(), allowList, spec.DeniedTools)
	}

	return &Loop{
		botName:       cfg.BotName,
		provider:      cfg.Provider,
		registry:      cfg.Registry,
		allowed:       allowed,
		sessions:      cfg.Sessions,
		store:         cfg.Store,
		embedder:      cfg.Embedder,
		router:        cfg.Router,
		compactor:     cfg.Compactor,
		skills:        cfg.Skills,
		activity:      cfg.Activity,
		persona:       LoadPersona(c.BotsDir(), cfg.BotName),
		spec:          spec,
		maxIterations: maxIter,
		maxTokens:     c.Agents.Defaults.MaxTokens,
		temperature:   c.Agents.Defaults.Temperature,
		contextBudget: c.Memory.Context.TotalBudget,
		defaultModel:  model,
		hasKey:        c.HasProviderKey(),
	}
}

// RunRequest is one inbound message for this bot.
type RunRequest struct {
	SessionKey string
	Content    string
	Channel    string
	ChatID     string
	SenderID   string
	SenderRole string
	TraceID    string
	Media      []bus.MediaAttachment
}

// RunResult is the bot's reply plus routing and context metadata.
type RunResult struct {
	Content      string
	Iterations   int
	Tier         string
	Model        string
	ContextUsage float64 // fraction of max_context_tokens in use after the run
	Compaction   *CompactionResult
}

// SplitOrigin decodes the "originChannel:originChatId" form used by
// system messages so the reply can be routed back to the origin.
func SplitOrigin(chatID string) (channel, origin string, ok bool) {
	channel, origin, ok = strings.Cut(chatID, ":")
	if !ok || channel == "" || origin == "" {
		return "", "", false
	}
	return channel, origin, true
}

// Run executes the full message cycle and returns the final reply.
func (l *Loop) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	ctx, span := tracing.StartSpan(ctx, "agent.run",
		"bot", l.botName, "session", req.SessionKey, "trace_id", req.TraceID)
	defer span.End()

	// 1. Onboarding gate.
	if l.provider == nil || !l.hasKey {
		return &RunResult{Content: onboardingResponse}, nil
	}

	// 2. Slash commands short-circuit before any LLM work.
	switch strings.TrimSpace(req.Content) {
	case "/new":
		if err := l.sessions.Clear(req.SessionKey); err != nil {
			return nil, fmt.Errorf("clear session: %w", err)
		}
		if l.router != nil {
			l.router.ResetSession(req.SessionKey)
		}
		return &RunResult{Content: "Started a new conversation."}, nil
	case "/help":
		return &RunResult{Content: helpResponse}, nil
	}

	// 3. Secrets never reach the session, memory, or the provider.
	content, secretKinds := SanitizeSecrets(req.Content)
	if len(secretKinds) > 0 {
		slog.Warn("agent: inbound message contained secrets",
			"bot", l.botName, "session", req.SessionKey, "kinds", secretKinds)
	}

	// Attachments ride along as inline references so they reach the
	// provider and survive in the session history.
	content = appendMediaRefs(content, req.Media)

	if l.activity != nil && req.SenderRole != "bot" && req.SenderRole != "system" {
		l.activity.MarkInbound()
	}

	// 4. Record the inbound event.
	if err := l.recordEvent("inbound", content, req.SessionKey); err != nil && l.store != nil {
		slog.Warn("agent: failed to record inbound event", "error", err)
	}

	// 5. Feedback detection feeds the learning store.
	l.detectFeedback(content)

	// 6. Memory context for the system prompt.
	memoryContext := l.assembleMemoryContext(content)

	// 7. Compact if the session is close to the ceiling.
	var compaction *CompactionResult
	if l.compactor != nil {
		if due, _ := l.compactor.ShouldCompact(req.SessionKey); due {
			res, err := l.compactor.Compact(ctx, req.SessionKey)
			if err != nil {
				slog.Warn("agent: compaction failed", "session", req.SessionKey, "error", err)
			} else {
				compaction = res
			}
		}
	}

	// 8. Route. The chosen tier and whether stickiness held it are part
	// of the session metadata contract.
	model, secondary := l.defaultModel, ""
	tier := string(router.TierMedium)
	if l.router != nil {
		d := l.router.Route(ctx, req.SessionKey, content)
		tier = string(d.Tier)
		if d.Model != "" {
			model = d.Model
		}
		secondary = d.SecondaryModel
		slog.Debug("agent: routed",
			"bot", l.botName, "tier", tier, "model", model,
			"confidence", d.Confidence, "layer", d.Layer)
		if err := l.sessions.SetMetadata(req.SessionKey, map[string]any{
			"routing_tier":      tier,
			"sticky_maintained": d.Layer == router.LayerSticky,
		}); err != nil {
			slog.Warn("agent: failed to record routing metadata", "error", err)
		}
	}

	// 9. Provider tool loop.
	finalContent, iterations, err := l.chatLoop(ctx, req, content, memoryContext, model, secondary, tier)
	if err != nil {
		return nil, err
	}

	finalContent = SanitizeResponse(finalContent)
	if finalContent == "" {
		finalContent = "(no response)"
	}

	// 11. Persist the turn and the outbound event.
	now := time.Now().UnixMilli()
	if err := l.sessions.AddMessage(req.SessionKey, providers.Message{
		Role: "user", Content: content, Timestamp: now,
	}); err != nil {
		slog.Warn("agent: failed to append user turn", "error", err)
	}
	if err := l.sessions.AddMessage(req.SessionKey, providers.Message{
		Role: "assistant", Content: finalContent, Timestamp: time.Now().UnixMilli(),
	}); err != nil {
		slog.Warn("agent: failed to append assistant turn", "error", err)
	}
	if err := l.recordEvent("outbound", finalContent, req.SessionKey); err != nil && l.store != nil {
		slog.Warn("agent: failed to record outbound event", "error", err)
	}

	result := &RunResult{
		Content:    finalContent,
		Iterations: iterations,
		Tier:       tier,
		Model:      model,
		Compaction: compaction,
	}
	if l.compactor != nil && l.compactor.maxTokens > 0 {
		_, tokens := l.compactor.ShouldCompact(req.SessionKey)
		result.ContextUsage = float64(tokens) / float64(l.compactor.maxTokens)
	}
	return result, nil
}

// chatLoop iterates provider calls and tool executions until the model
// produces a final text answer or the iteration cap is hit.
func (l *Loop) chatLoop(ctx context.Context, req RunRequest, content, memoryContext, model, secondary, tier string) (string, int, error) {
	messages := []providers.Message{
		{Role: "system", Content: l.buildSystemPrompt(memoryContext)},
	}
	messages = append(messages, l.sessions.GetHistory(req.SessionKey, historyWindow)...)
	messages = append(messages, providers.Message{Role: "user", Content: content})

	var toolDefs []providers.ToolDefinition
	if l.registry != nil {
		toolDefs = l.registry.Definitions(l.allowed)
	}

	usedSecondary := false
	iterations := 0
	for iterations < l.maxIterations {
		iterations++

		chatReq := providers.ChatRequest{
			Messages: messages,
			Tools:    toolDefs,
			Model:    model,
			Options: map[string]interface{}{
				providers.OptMaxTokens:   l.maxTokens,
				providers.OptTemperature: l.temperature,
			},
		}

		llmCtx, llmSpan := tracing.StartSpan(ctx, "llm.chat", "model", model, "iteration", iterations)
		resp, err := l.provider.Chat(llmCtx, chatReq)
		llmSpan.End()
		if err != nil {
			if secondary != "" && !usedSecondary {
				slog.Warn("agent: primary model failed, retrying with secondary",
					"bot", l.botName, "primary", model, "secondary", secondary, "error", err)
				model = secondary
				usedSecondary = true
				continue
			}
			return "", iterations, fmt.Errorf("chat failed on iteration %d: %w", iterations, err)
		}

		if len(resp.ToolCalls) == 0 {
			return resp.Content, iterations, nil
		}

		messages = append(messages, providers.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, tc := range resp.ToolCalls {
			toolCtx, toolSpan := tracing.StartSpan(ctx, "tool.exec", "tool", tc.Name)
			result := l.registry.Execute(toolCtx, tc.Name, tc.Arguments)
			toolSpan.End()
			messages = append(messages, providers.Message{
				Role:       "tool",
				Content:    result.ForLLM,
				ToolCallID: tc.ID,
			})
		}

		if l.reflectionDue(tier) {
			messages = append(messages, providers.Message{
				Role:    "user",
				Content: "Before continuing, briefly check the tool results against the original request. Then proceed.",
			})
		}
	}
	return "", iterations, fmt.Errorf("no final response after %d iterations", l.maxIterations)
}

// reflectionDue gates chain-of-thought prompts on the bot config and the
// current routing tier.
func (l *Loop) reflectionDue(tier string) bool {
	if !l.spec.CoTReflection {
		return false
	}
	minTier := l.spec.CoTMinTier
	if minTier == "" {
		minTier = string(router.TierComplex)
	}
	return tierAtLeast(tier, minTier)
}

var tierOrder = map[string]int{
	string(router.TierSimple):    0,
	string(router.TierMedium):    1,
	string(router.TierCoding):    2,
	string(router.TierComplex):   2,
	string(router.TierReasoning): 3,
}

func tierAtLeast(tier, min string) bool {
	return tierOrder[tier] >= tierOrder[min]
}

// appendMediaRefs inlines attachment references into the user turn.
func appendMediaRefs(content string, media []bus.MediaAttachment) string {
	if len(media) == 0 {
		return content
	}
	var b strings.Builder
	b.WriteString(content)
	for _, m := range media {
		b.WriteString("\n[attachment")
		if m.ContentType != "" {
			b.WriteString(" ")
			b.WriteString(m.ContentType)
		}
		b.WriteString(": ")
		b.WriteString(m.URL)
		b.WriteString("]")
		if m.Caption != "" {
			b.WriteString(" ")
			b.WriteString(m.Caption)
		}
	}
	return b.String()
}

func (l *Loop) detectFeedback(content string) {
	if l.store == nil {
		return
	}
	fb := memory.DetectFeedback(content)
	if fb == nil {
		return
	}
	if _, err := l.store.RecordFeedback(fb, "", l.embedder); err != nil {
		slog.Warn("agent: failed to record feedback", "error", err)
		return
	}
	if err := l.store.BumpSummaryStaleness(memory.PreferencesKey); err != nil {
		slog.Debug("agent: staleness bump failed", "error", err)
	}
}
