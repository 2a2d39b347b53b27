package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nextlevelbuilder/nanoroom/internal/embed"
	"github.com/nextlevelbuilder/nanoroom/internal/extract"
)

// ProcessorConfig tunes the background maintenance worker.
type ProcessorConfig struct {
	Interval           time.Duration
	QuietThreshold     time.Duration
	ExtractionBatch    int
	StalenessThreshold int
	MaxRefreshBatch    int
	SummaryEvery       time.Duration
	DecayEvery         time.Duration
}

// DefaultProcessorConfig matches the shipped config defaults.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		Interval:           60 * time.Second,
		QuietThreshold:     120 * time.Second,
		ExtractionBatch:    20,
		StalenessThreshold: 10,
		MaxRefreshBatch:    5,
		SummaryEvery:       5 * time.Minute,
		DecayEvery:         time.Hour,
	}
}

// Processor is the single background worker: entity extraction each cycle,
// summary refresh and learning decay on their own schedules. Sub-cycles
// run off next-due timestamps rather than wall-clock modulus so a slow
// cycle cannot skip a window.
type Processor struct {
	store     *Store
	extractor extract.Extractor
	embedder  embed.Embedder
	activity  *ActivityTracker
	cfg       ProcessorConfig

	summaryDue time.Time
	decayDue   time.Time
}

// NewProcessor wires a processor; it does not start it.
func NewProcessor(store *Store, extractor extract.Extractor, embedder embed.Embedder, activity *ActivityTracker, cfg ProcessorConfig) *Processor {
	now := time.Now()
	return &Processor{
		store:      store,
		extractor:  extractor,
		embedder:   embedder,
		activity:   activity,
		cfg:        cfg,
		summaryDue: now.Add(cfg.SummaryEvery),
		decayDue:   now.Add(cfg.DecayEvery),
	}
}

// Run loops until ctx is done. A cycle is skipped entirely while the user
// is active so extraction never competes with live conversation.
func (p *Processor) Run(ctx context.Context) {
	slog.Info("processor: started",
		"interval", p.cfg.Interval, "quiet_threshold", p.cfg.QuietThreshold)
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("processor: stopped")
			return
		case <-ticker.C:
			if p.activity.IsUserActive() {
				continue
			}
			p.runCycle(ctx)
		}
	}
}

// runCycle executes one maintenance pass. Step errors are logged and
// swallowed; one bad step never stops the others.
func (p *Processor) runCycle(ctx context.Context) {
	if n, err := p.extractPending(ctx); err != nil {
		slog.Error("processor: extraction pass failed", "error", err)
	} else if n > 0 {
		slog.Debug("processor: extracted events", "count", n)
	}

	now := time.Now()
	if now.After(p.summaryDue) {
		p.summaryDue = now.Add(p.cfg.SummaryEvery)
		if err := p.refreshSummaries(); err != nil {
			slog.Error("processor: summary refresh failed", "error", err)
		}
	}
	if now.After(p.decayDue) {
		p.decayDue = now.Add(p.cfg.DecayEvery)
		decayed, removed, err := p.store.DecayLearnings(now)
		if err != nil {
			slog.Error("processor: learning decay failed", "error", err)
		} else if decayed+removed > 0 {
			slog.Info("processor: learnings decayed", "decayed", decayed, "removed", removed)
		}
	}
}

// extractPending drains up to one batch of pending events through the
// extractor and merges the results into the entity graph.
func (p *Processor) extractPending(ctx context.Context) (int, error) {
	events, err := p.store.GetPendingEvents(p.cfg.ExtractionBatch)
	if err != nil {
		return 0, err
	}

	done := 0
	for _, ev := range events {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		status := ExtractionComplete
		if err := p.extractOne(ev); err != nil {
			slog.Warn("processor: extraction failed", "event_id", ev.ID, "error", err)
			status = ExtractionFailed
		}
		if err := p.store.MarkExtracted(ev.ID, status); err != nil {
			return done, err
		}
		done++
	}
	return done, nil
}

func (p *Processor) extractOne(ev *Event) error {
	if strings.TrimSpace(ev.Content) == "" {
		return nil
	}
	res, err := p.extractor.Extract(ev.Content)
	if err != nil {
		return err
	}

	// Entity names resolve to ids for edge and fact linkage.
	ids := make(map[string]string, len(res.Entities))
	for _, ent := range res.Entities {
		id, err := p.upsertEntity(ent, ev.ID)
		if err != nil {
			return err
		}
		ids[strings.ToLower(ent.Name)] = id
	}

	for _, edge := range res.Edges {
		srcID, ok1 := ids[strings.ToLower(edge.Source)]
		tgtID, ok2 := ids[strings.ToLower(edge.Target)]
		if !ok1 || !ok2 {
			continue
		}
		_, err := p.store.SaveEdge(&Edge{
			SourceID:       srcID,
			TargetID:       tgtID,
			Relation:       edge.Relation,
			RelationType:   edge.Type,
			Strength:       edge.Strength,
			SourceEventIDs: []string{ev.ID},
		})
		if err != nil {
			return err
		}
	}

	for _, fact := range res.Facts {
		subjID, ok := ids[strings.ToLower(fact.Subject)]
		if !ok {
			continue
		}
		_, err := p.store.SaveFact(&Fact{
			SubjectEntityID: subjID,
			Predicate:       fact.Predicate,
			ObjectText:      fact.Object,
			FactType:        fact.Type,
			Confidence:      fact.Confidence,
			Strength:        fact.Confidence,
			SourceEventIDs:  []string{ev.ID},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// upsertEntity merges an extraction into an existing entity matched by
// name-or-alias, or inserts a new one with a fresh name embedding.
func (p *Processor) upsertEntity(ent extract.Entity, eventID string) (string, error) {
	existing, err := p.store.FindEntityByName(ent.Name)
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()

	if existing != nil {
		if !strings.EqualFold(existing.Name, ent.Name) && !containsFold(existing.Aliases, ent.Name) {
			existing.Aliases = append(existing.Aliases, ent.Name)
		}
		if existing.Description == "" && ent.Description != "" {
			existing.Description = ent.Description
		}
		existing.SourceEventIDs = mergeIDs(existing.SourceEventIDs, []string{eventID})
		existing.EventCount++
		existing.LastSeen = now
		if err := p.store.UpdateEntity(existing); err != nil {
			return "", err
		}
		return existing.ID, nil
	}

	nameVec, err := p.embedder.Embed(strings.ToLower(ent.Name))
	if err != nil {
		return "", fmt.Errorf("memory: embed entity name: %w", err)
	}
	return p.store.SaveEntity(&Entity{
		Name:           ent.Name,
		EntityType:     extract.NormalizeType(ent.Type),
		Description:    ent.Description,
		NameEmbedding:  nameVec,
		SourceEventIDs: []string{eventID},
		EventCount:     1,
		FirstSeen:      now,
		LastSeen:       now,
	})
}

// refreshSummaries rebuilds the most stale summary nodes from recent
// session events.
func (p *Processor) refreshSummaries() error {
	nodes, err := p.store.GetStaleSummaryNodes(p.cfg.StalenessThreshold, p.cfg.MaxRefreshBatch)
	if err != nil {
		return err
	}
	for _, node := range nodes {
		var summary string
		if node.Key == PreferencesKey {
			summary, err = p.summarizePreferences()
		} else {
			summary, err = p.summarizeSession(node.Key)
		}
		if err != nil {
			slog.Warn("processor: summary build failed", "key", node.Key, "error", err)
			continue
		}
		if summary == "" {
			continue
		}
		vec, err := p.embedder.Embed(summary)
		if err != nil {
			vec = nil
		}
		node.Summary = summary
		node.SummaryEmbedding = vec
		if _, err := p.store.UpsertSummaryNode(node); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) summarizeSession(sessionKey string) (string, error) {
	events, err := p.store.GetEventsBySession(sessionKey, 50, 0)
	if err != nil {
		return "", err
	}
	if len(events) == 0 {
		return "", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Recent activity (%d events): ", len(events))
	shown := 0
	for _, ev := range events {
		if ev.Content == "" {
			continue
		}
		if shown >= 5 {
			break
		}
		if shown > 0 {
			b.WriteString("; ")
		}
		b.WriteString(truncate(ev.Content, 120))
		shown++
	}
	return b.String(), nil
}

func (p *Processor) summarizePreferences() (string, error) {
	learnings, err := p.store.GetActiveLearnings(20)
	if err != nil {
		return "", err
	}
	if len(learnings) == 0 {
		return "", nil
	}

	var b strings.Builder
	b.WriteString("User preferences: ")
	for i, l := range learnings {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(truncate(l.Content, 150))
	}
	return b.String(), nil
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
