package router

import (
	"context"
	"strings"
	"time"

	"github.com/nextlevelbuilder/nanoroom/internal/config"
	"github.com/nextlevelbuilder/nanoroom/internal/providers"
)

// SmartRouter composes the three layers and the calibration loop.
type SmartRouter struct {
	classifier    *Classifier
	sticky        *StickyRouter
	llm           *LLMClassifier
	calibrator    *Calibrator
	minConfidence float64
	tiers         map[string]config.TierConfig
	defaultModel  string
	enabled       bool
}

// Options wires a SmartRouter from config. llmProvider may be nil, in
// which case uncertain decisions stay with the client layer.
type Options struct {
	Routing       config.RoutingConfig
	Patterns      *PatternSet
	LLMProvider   providers.Provider
	AnalyticsPath string
	DefaultModel  string
}

func New(opts Options) *SmartRouter {
	r := &SmartRouter{
		classifier:    NewClassifier(DefaultWeights(), opts.Patterns),
		sticky:        NewStickyRouter(opts.Routing.Sticky.ContextWindow, opts.Routing.Sticky.DowngradeConfidence),
		minConfidence: opts.Routing.ClientClassifier.MinConfidence,
		tiers:         opts.Routing.Tiers,
		defaultModel:  opts.DefaultModel,
		enabled:       opts.Routing.Enabled,
	}
	if r.minConfidence <= 0 {
		r.minConfidence = 0.85
	}
	if opts.LLMProvider != nil && opts.Routing.LLMClassifier.Model != "" {
		r.llm = NewLLMClassifier(opts.LLMProvider,
			opts.Routing.LLMClassifier.Model,
			opts.Routing.LLMClassifier.SecondaryModel,
			time.Duration(opts.Routing.LLMClassifier.TimeoutMs)*time.Millisecond)
	}
	if opts.Routing.AutoCalibration.Enabled && opts.Patterns != nil {
		r.calibrator = NewCalibrator(opts.Patterns, opts.AnalyticsPath,
			time.Duration(opts.Routing.AutoCalibration.IntervalSeconds)*time.Second,
			opts.Routing.AutoCalibration.MinClassifications,
			opts.Routing.AutoCalibration.BackupBeforeWrite)
	}
	return r
}

// Route classifies one message for a session and resolves the model.
func (r *SmartRouter) Route(ctx context.Context, sessionKey, content string) Decision {
	if !r.enabled {
		d := Decision{
			Tier: TierMedium, Confidence: 1.0, Layer: LayerClient,
			Reasoning:       "routing disabled",
			EstimatedTokens: tierTokenEstimate(TierMedium),
		}
		return r.resolveModel(d)
	}

	d, scores := r.classifier.Classify(content)

	var llmTier Tier
	if d.Confidence < r.minConfidence && r.llm != nil {
		llmDecision := r.llm.Classify(ctx, content)
		llmTier = llmDecision.Tier
		if r.calibrator != nil {
			r.calibrator.Record(content, d.Tier, llmTier)
		}
		d = llmDecision
	} else if r.calibrator != nil {
		r.calibrator.Record(content, d.Tier, "")
	}

	wordCount := len(strings.Fields(content))
	d = r.sticky.Apply(sessionKey, d, scores, wordCount)

	if r.calibrator != nil {
		r.calibrator.Tick()
	}
	return r.resolveModel(d)
}

// ResetSession drops sticky state, e.g. on /new.
func (r *SmartRouter) ResetSession(sessionKey string) {
	r.sticky.Reset(sessionKey)
}

func (r *SmartRouter) resolveModel(d Decision) Decision {
	if tc, ok := r.tiers[string(d.Tier)]; ok && tc.Model != "" {
		d.Model = tc.Model
		d.SecondaryModel = tc.SecondaryModel
	} else {
		d.Model = r.defaultModel
	}
	return d
}
