package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/nextlevelbuilder/nanoroom/internal/providers"
)

// LLMClassifier is the fallback layer for uncertain client decisions. It
// calls a cheap model with a strict JSON-only prompt under a short
// timeout; persistent failure degrades to a safe medium decision.
type LLMClassifier struct {
	provider       providers.Provider
	model          string
	secondaryModel string
	timeout        time.Duration
}

func NewLLMClassifier(provider providers.Provider, model, secondaryModel string, timeout time.Duration) *LLMClassifier {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &LLMClassifier{
		provider:       provider,
		model:          model,
		secondaryModel: secondaryModel,
		timeout:        timeout,
	}
}

const classifyPrompt = `Classify the complexity of this message into exactly one tier.
Tiers: simple, medium, complex, reasoning, coding.
Respond with ONLY a JSON object, no prose:
{"tier": "...", "confidence": 0.0, "reasoning": "...", "estimated_tokens": 0, "needs_tools": false}

Message:
`

type llmClassification struct {
	Tier            string  `json:"tier"`
	Confidence      float64 `json:"confidence"`
	Reasoning       string  `json:"reasoning"`
	EstimatedTokens int     `json:"estimated_tokens"`
	NeedsTools      bool    `json:"needs_tools"`
}

// Classify runs the primary model, then the secondary once on failure.
// The final fallback is medium at confidence 0.5.
func (c *LLMClassifier) Classify(ctx context.Context, content string) Decision {
	if d, err := c.tryModel(ctx, c.model, content); err == nil {
		return d
	} else if c.secondaryModel != "" {
		slog.Debug("router: llm classifier retrying on secondary", "error", err)
		if d, err := c.tryModel(ctx, c.secondaryModel, content); err == nil {
			return d
		}
	}

	return Decision{
		Tier:            TierMedium,
		Confidence:      0.5,
		Layer:           LayerLLM,
		Reasoning:       "llm classification unavailable",
		EstimatedTokens: tierTokenEstimate(TierMedium),
	}
}

func (c *LLMClassifier) tryModel(ctx context.Context, model, content string) (Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.provider.Chat(ctx, providers.ChatRequest{
		Model: model,
		Messages: []providers.Message{
			{Role: "user", Content: classifyPrompt + content},
		},
		Options: map[string]interface{}{
			providers.OptMaxTokens:   150,
			providers.OptTemperature: 0.0,
		},
	})
	if err != nil {
		return Decision{}, err
	}

	parsed, err := parseClassification(resp.Content)
	if err != nil {
		return Decision{}, err
	}

	return Decision{
		Tier:            NormalizeTier(parsed.Tier),
		Confidence:      clamp01(parsed.Confidence),
		Layer:           LayerLLM,
		Reasoning:       parsed.Reasoning,
		EstimatedTokens: bucketTokens(parsed.EstimatedTokens),
		NeedsTools:      parsed.NeedsTools,
	}, nil
}

// parseClassification tolerates prose around the JSON object by slicing
// the first balanced braces.
func parseClassification(content string) (*llmClassification, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		content = content[start : end+1]
	}
	var parsed llmClassification
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, err
	}
	return &parsed, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
