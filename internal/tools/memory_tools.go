package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/nanoroom/internal/embed"
	"github.com/nextlevelbuilder/nanoroom/internal/memory"
)

const (
	memorySearchLimit     = 10
	memorySearchThreshold = 0.3
)

// SearchMemoryTool runs semantic search over events and learnings.
type SearchMemoryTool struct {
	store    *memory.Store
	embedder embed.Embedder
}

func NewSearchMemoryTool(store *memory.Store, embedder embed.Embedder) *SearchMemoryTool {
	return &SearchMemoryTool{store: store, embedder: embedder}
}

func (t *SearchMemoryTool) Name() string { return "search_memory" }
func (t *SearchMemoryTool) Description() string {
	return "Search long-term memory for past events and learned preferences matching a query."
}
func (t *SearchMemoryTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{"type": "string", "description": "What to look for"},
			"session_key": map[string]interface{}{
				"type":        "string",
				"description": "Restrict to one session (optional)",
			},
			"limit": map[string]interface{}{"type": "integer", "description": "Max results (default 10)"},
		},
		"required": []string{"query"},
	}
}

func (t *SearchMemoryTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	query := stringArg(args, "query")
	limit := intArg(args, "limit", memorySearchLimit)

	vec, err := t.embedder.Embed(query)
	if err != nil {
		return ErrorResult(fmt.Sprintf("embed query: %v", err)), nil
	}

	events, err := t.store.SearchEvents(vec, stringArg(args, "session_key"), limit, memorySearchThreshold)
	if err != nil {
		return ErrorResult(fmt.Sprintf("search events: %v", err)), nil
	}
	learnings, err := t.store.SearchLearnings(vec, limit, memorySearchThreshold)
	if err != nil {
		return ErrorResult(fmt.Sprintf("search learnings: %v", err)), nil
	}

	if len(events) == 0 && len(learnings) == 0 {
		return NewResult("no matching memories"), nil
	}

	var b strings.Builder
	if len(learnings) > 0 {
		b.WriteString("Learned preferences:\n")
		for _, l := range learnings {
			fmt.Fprintf(&b, "- [%s] %s\n", l.Sentiment, l.Content)
		}
	}
	if len(events) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Past events:\n")
		for _, se := range events {
			fmt.Fprintf(&b, "- (%.2f) %s: %s\n",
				se.Similarity, se.Event.Timestamp.Format("2006-01-02"), clip(se.Event.Content, 160))
			_ = t.store.TouchAccess(se.Event.ID)
		}
	}
	return NewResult(b.String()), nil
}

// GetEntityTool looks up one entity by name with its facts.
type GetEntityTool struct {
	store *memory.Store
}

func NewGetEntityTool(store *memory.Store) *GetEntityTool { return &GetEntityTool{store: store} }

func (t *GetEntityTool) Name() string { return "get_entity" }
func (t *GetEntityTool) Description() string {
	return "Look up a known entity by name and return what is known about it."
}
func (t *GetEntityTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"name": map[string]interface{}{"type": "string", "description": "Entity name or alias"},
		},
		"required": []string{"name"},
	}
}

func (t *GetEntityTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	name := stringArg(args, "name")
	entity, err := t.store.FindEntityByName(name)
	if err != nil {
		return ErrorResult(fmt.Sprintf("lookup entity: %v", err)), nil
	}
	if entity == nil {
		return NewResult(fmt.Sprintf("no entity named %q", name)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)\n", entity.Name, entity.EntityType)
	if len(entity.Aliases) > 0 {
		fmt.Fprintf(&b, "Aliases: %s\n", strings.Join(entity.Aliases, ", "))
	}
	if entity.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", entity.Description)
	}
	fmt.Fprintf(&b, "Mentioned in %d events, first %s, last %s\n",
		entity.EventCount,
		entity.FirstSeen.Format("2006-01-02"),
		entity.LastSeen.Format("2006-01-02"))

	facts, err := t.store.GetFactsForEntity(entity.ID, 10)
	if err == nil && len(facts) > 0 {
		b.WriteString("Facts:\n")
		for _, f := range facts {
			fmt.Fprintf(&b, "- %s %s\n", f.Predicate, f.ObjectText)
		}
	}
	return NewResult(b.String()), nil
}

// GetRelationshipsTool returns the graph edges around an entity.
type GetRelationshipsTool struct {
	store *memory.Store
}

func NewGetRelationshipsTool(store *memory.Store) *GetRelationshipsTool {
	return &GetRelationshipsTool{store: store}
}

func (t *GetRelationshipsTool) Name() string { return "get_relationships" }
func (t *GetRelationshipsTool) Description() string {
	return "List known relationships between an entity and other entities."
}
func (t *GetRelationshipsTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"name": map[string]interface{}{"type": "string", "description": "Entity name or alias"},
		},
		"required": []string{"name"},
	}
}

func (t *GetRelationshipsTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	name := stringArg(args, "name")
	entity, err := t.store.FindEntityByName(name)
	if err != nil {
		return ErrorResult(fmt.Sprintf("lookup entity: %v", err)), nil
	}
	if entity == nil {
		return NewResult(fmt.Sprintf("no entity named %q", name)), nil
	}

	edges, err := t.store.GetEdgesForEntity(entity.ID, 20)
	if err != nil {
		return ErrorResult(fmt.Sprintf("load edges: %v", err)), nil
	}
	if len(edges) == 0 {
		return NewResult(fmt.Sprintf("no known relationships for %s", entity.Name)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Relationships for %s:\n", entity.Name)
	for _, e := range edges {
		source, target := e.SourceID, e.TargetID
		if s, err := t.store.GetEntity(e.SourceID); err == nil && s != nil {
			source = s.Name
		}
		if tgt, err := t.store.GetEntity(e.TargetID); err == nil && tgt != nil {
			target = tgt.Name
		}
		fmt.Fprintf(&b, "- %s %s %s (strength %.1f)\n", source, e.Relation, target, e.Strength)
	}
	return NewResult(b.String()), nil
}

// RecallTool surfaces active learnings relevant to a topic and reinforces
// the ones it returns.
type RecallTool struct {
	store    *memory.Store
	embedder embed.Embedder
}

func NewRecallTool(store *memory.Store, embedder embed.Embedder) *RecallTool {
	return &RecallTool{store: store, embedder: embedder}
}

func (t *RecallTool) Name() string { return "recall" }
func (t *RecallTool) Description() string {
	return "Recall learned user preferences relevant to a topic."
}
func (t *RecallTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"topic": map[string]interface{}{"type": "string", "description": "Topic to recall preferences about"},
		},
		"required": []string{"topic"},
	}
}

func (t *RecallTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	topic := stringArg(args, "topic")
	vec, err := t.embedder.Embed(topic)
	if err != nil {
		return ErrorResult(fmt.Sprintf("embed topic: %v", err)), nil
	}

	learnings, err := t.store.SearchLearnings(vec, 5, memorySearchThreshold)
	if err != nil {
		return ErrorResult(fmt.Sprintf("search learnings: %v", err)), nil
	}
	if len(learnings) == 0 {
		return NewResult(fmt.Sprintf("nothing recalled about %q", topic)), nil
	}

	var b strings.Builder
	for _, l := range learnings {
		fmt.Fprintf(&b, "- [%s] %s\n", l.Sentiment, l.Content)
		if err := t.store.BoostLearning(l.ID); err != nil {
			return ErrorResult(fmt.Sprintf("boost learning: %v", err)), nil
		}
	}
	return NewResult(b.String()), nil
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
