package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Pattern is one learned or configured routing rule.
type Pattern struct {
	Name        string    `json:"name"`
	Tier        string    `json:"tier"`
	Regex       string    `json:"regex"`
	Confidence  float64   `json:"confidence"`
	CreatedAt   time.Time `json:"created_at"`
	Matches     int       `json:"matches"`
	Successes   int       `json:"successes"`
	SuccessRate float64   `json:"success_rate"`

	compiled *regexp.Regexp
}

// patternsFile is the on-disk document: the pattern list wrapped with a
// format version and count.
type patternsFile struct {
	Patterns []*Pattern `json:"patterns"`
	Version  string     `json:"version"`
	Count    int        `json:"count"`
}

const patternsFileVersion = "2.0"

// PatternSet is the mutable, file-backed pattern collection. The file is
// hot-reloaded on change so calibration in one process and manual edits
// both take effect without a restart.
type PatternSet struct {
	mu       sync.RWMutex
	patterns []*Pattern
	path     string
}

// LoadPatterns reads the pattern file; a missing file yields an empty set.
func LoadPatterns(path string) (*PatternSet, error) {
	ps := &PatternSet{path: path}
	if err := ps.reload(); err != nil {
		return nil, err
	}
	return ps, nil
}

func (ps *PatternSet) reload() error {
	data, err := os.ReadFile(ps.path)
	if os.IsNotExist(err) {
		ps.mu.Lock()
		ps.patterns = nil
		ps.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("router: read patterns: %w", err)
	}

	var doc patternsFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("router: parse patterns: %w", err)
	}

	compiled := make([]*Pattern, 0, len(doc.Patterns))
	for _, p := range doc.Patterns {
		re, err := regexp.Compile("(?i)" + p.Regex)
		if err != nil {
			slog.Warn("router: skipping bad pattern", "name", p.Name, "error", err)
			continue
		}
		p.compiled = re
		compiled = append(compiled, p)
	}

	ps.mu.Lock()
	ps.patterns = compiled
	ps.mu.Unlock()
	return nil
}

// Match returns the highest-confidence matching pattern, or nil.
func (ps *PatternSet) Match(content string) *Pattern {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	var best *Pattern
	for _, p := range ps.patterns {
		if !p.compiled.MatchString(content) {
			continue
		}
		if best == nil || p.Confidence > best.Confidence {
			best = p
		}
	}
	return best
}

// RecordOutcome updates a pattern's success statistics after the LLM layer
// confirms or contradicts it.
func (ps *PatternSet) RecordOutcome(name string, success bool) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for _, p := range ps.patterns {
		if p.Name != name {
			continue
		}
		p.Matches++
		if success {
			p.Successes++
		}
		p.SuccessRate = float64(p.Successes) / float64(p.Matches)
		return
	}
}

// All returns a snapshot of the current patterns.
func (ps *PatternSet) All() []Pattern {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	out := make([]Pattern, len(ps.patterns))
	for i, p := range ps.patterns {
		out[i] = *p
	}
	return out
}

// Replace swaps the pattern set and persists it, optionally backing up the
// previous file first.
func (ps *PatternSet) Replace(patterns []*Pattern, backup bool) error {
	compiled := make([]*Pattern, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p.Regex)
		if err != nil {
			return fmt.Errorf("router: pattern %q: %w", p.Name, err)
		}
		p.compiled = re
		compiled = append(compiled, p)
	}

	if backup {
		if _, err := os.Stat(ps.path); err == nil {
			backupPath := fmt.Sprintf("%s.bak.%s", ps.path, time.Now().Format("20060102-150405"))
			if data, err := os.ReadFile(ps.path); err == nil {
				os.WriteFile(backupPath, data, 0o644)
			}
		}
	}

	ps.mu.Lock()
	ps.patterns = compiled
	ps.mu.Unlock()

	return ps.save()
}

func (ps *PatternSet) save() error {
	if ps.path == "" {
		return nil
	}
	ps.mu.RLock()
	doc := patternsFile{
		Patterns: ps.patterns,
		Version:  patternsFileVersion,
		Count:    len(ps.patterns),
	}
	if doc.Patterns == nil {
		doc.Patterns = []*Pattern{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	ps.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("router: marshal patterns: %w", err)
	}

	dir := filepath.Dir(ps.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("router: patterns dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "patterns-*.tmp")
	if err != nil {
		return fmt.Errorf("router: temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("router: write patterns: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("router: sync patterns: %w", err)
	}
	tmp.Close()
	if err := os.Rename(tmpPath, ps.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("router: rename patterns: %w", err)
	}
	return nil
}

// Watch reloads the pattern file when it changes on disk, until ctx is
// done. Errors are logged; the watcher never stops the router.
func (ps *PatternSet) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("router: watcher: %w", err)
	}

	dir := filepath.Dir(ps.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		watcher.Close()
		return fmt.Errorf("router: patterns dir: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("router: watch %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != ps.path {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := ps.reload(); err != nil {
					slog.Warn("router: pattern reload failed", "error", err)
				} else {
					slog.Info("router: patterns reloaded", "count", len(ps.All()))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("router: watcher error", "error", err)
			}
		}
	}()
	return nil
}
