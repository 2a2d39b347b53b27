package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nextlevelbuilder/nanoroom/internal/memory"
)

// memoryContextEntities caps how many entities enter the system prompt.
const memoryContextEntities = 5

// LoadPersona reads bots/<name>/SOUL.md, empty when absent.
func LoadPersona(botsDir, botName string) string {
	data, err := os.ReadFile(filepath.Join(botsDir, botName, "SOUL.md"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// LoadToolGrants reads bots/<name>/AGENTS.md: bullet lines name the tools
// the bot may use. Nil when the file is absent or holds no bullets, which
// leaves the config allow-list in charge.
func LoadToolGrants(botsDir, botName string) []string {
	data, err := os.ReadFile(filepath.Join(botsDir, botName, "AGENTS.md"))
	if err != nil {
		return nil
	}
	var grants []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "- ") && !strings.HasPrefix(line, "* ") {
			continue
		}
		name := strings.TrimSpace(strings.Trim(line[2:], "`"))
		if name != "" {
			grants = append(grants, name)
		}
	}
	return grants
}

func (l *Loop) buildSystemPrompt(memoryContext string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s, an assistant in a multi-agent chat room.\n", l.botName)
	if l.persona != "" {
		b.WriteString("\n" + l.persona + "\n")
	}

	if memoryContext != "" {
		b.WriteString("\n# What you remember\n" + memoryContext + "\n")
	}

	if l.skills != nil {
		if section := l.skills.PromptSection(nil); section != "" {
			b.WriteString("\n" + section)
		}
	}

	if len(l.allowed) > 0 {
		names := make([]string, 0, len(l.allowed))
		for name := range l.allowed {
			names = append(names, name)
		}
		sort.Strings(names)
		b.WriteString("\n# Tools\nYou may use: " + strings.Join(names, ", ") + "\n")
	}

	b.WriteString("\nAnswer in the language the user writes in. Be concise.")
	return b.String()
}

// assembleMemoryContext builds a bounded context block: active
// preferences first, then up to five entities similar to the message.
func (l *Loop) assembleMemoryContext(content string) string {
	if l.store == nil || l.embedder == nil {
		return ""
	}
	budget := l.contextBudget
	if budget <= 0 {
		budget = 2000
	}

	var b strings.Builder

	learnings, err := l.store.GetActiveLearnings(10)
	if err == nil && len(learnings) > 0 {
		b.WriteString("User preferences:\n")
		for _, lr := range learnings {
			if b.Len() >= budget {
				break
			}
			fmt.Fprintf(&b, "- %s\n", lr.Content)
		}
	}

	vec, err := l.embedder.Embed(content)
	if err != nil {
		return truncateTo(b.String(), budget)
	}
	scored, err := l.store.GetSimilarEntities(vec, "", memoryContextEntities, 0.3)
	if err != nil || len(scored) == 0 {
		return truncateTo(b.String(), budget)
	}

	if b.Len() > 0 {
		b.WriteString("\n")
	}
	b.WriteString("Known entities:\n")
	for _, se := range scored {
		if b.Len() >= budget {
			break
		}
		line := fmt.Sprintf("- %s (%s)", se.Entity.Name, se.Entity.EntityType)
		if se.Entity.Description != "" {
			line += ": " + se.Entity.Description
		}
		b.WriteString(line + "\n")

		facts, err := l.store.GetFactsForEntity(se.Entity.ID, 3)
		if err != nil {
			continue
		}
		for _, f := range facts {
			if b.Len() >= budget {
				break
			}
			fmt.Fprintf(&b, "  - %s %s\n", f.Predicate, f.ObjectText)
		}
	}
	return truncateTo(b.String(), budget)
}

// recordEvent writes one interaction to the memory store. Failures are
// logged by the caller; memory is never on the critical path.
func (l *Loop) recordEvent(direction, content, sessionKey string) error {
	if l.store == nil {
		return fmt.Errorf("memory disabled")
	}
	e := &memory.Event{
		Channel:    l.botName,
		Direction:  direction,
		EventType:  "message",
		Content:    content,
		SessionKey: sessionKey,
	}
	if l.embedder != nil {
		if vec, err := l.embedder.Embed(content); err == nil {
			e.ContentEmbedding = vec
		}
	}
	_, err := l.store.SaveEvent(e)
	return err
}

func truncateTo(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
