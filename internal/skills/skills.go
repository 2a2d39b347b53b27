// Package skills loads markdown skill files from the workspace and
// scans them for dangerous instructions before a bot is allowed to use
// them.
package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Skill is one loaded skill document.
type Skill struct {
	Name        string
	Description string
	Content     string
	Path        string
}

// Loader discovers skills under <dir>/<name>/SKILL.md.
type Loader struct {
	mu     sync.RWMutex
	dir    string
	skills map[string]*Skill
}

func NewLoader(dir string) *Loader {
	l := &Loader{dir: dir, skills: make(map[string]*Skill)}
	l.Reload()
	return l
}

// Reload rescans the skills directory. Unreadable entries are skipped.
func (l *Loader) Reload() {
	found := make(map[string]*Skill)
	entries, err := os.ReadDir(l.dir)
	if err == nil {
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			path := filepath.Join(l.dir, e.Name(), "SKILL.md")
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			s := parseSkill(e.Name(), string(data))
			s.Path = path
			found[s.Name] = s
		}
	}
	l.mu.Lock()
	l.skills = found
	l.mu.Unlock()
}

func (l *Loader) Get(name string) (*Skill, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.skills[name]
	return s, ok
}

// List returns skills sorted by name.
func (l *Loader) List() []*Skill {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Skill, 0, len(l.skills))
	for _, s := range l.skills {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// PromptSection renders the allowed skills as a system prompt block.
// Skills with scan findings are omitted.
func (l *Loader) PromptSection(allowList []string) string {
	allowed := func(name string) bool {
		if allowList == nil {
			return true
		}
		for _, a := range allowList {
			if a == name {
				return true
			}
		}
		return false
	}

	var b strings.Builder
	for _, s := range l.List() {
		if !allowed(s.Name) {
			continue
		}
		if findings := Scan(s.Content); len(findings) > 0 {
			continue
		}
		fmt.Fprintf(&b, "## Skill: %s\n%s\n\n", s.Name, s.Content)
	}
	if b.Len() == 0 {
		return ""
	}
	return "# Skills\n\n" + b.String()
}

// parseSkill reads optional "---" frontmatter with name/description lines.
func parseSkill(dirName, content string) *Skill {
	s := &Skill{Name: dirName, Content: content}
	if !strings.HasPrefix(content, "---") {
		return s
	}
	rest := content[3:]
	end := strings.Index(rest, "---")
	if end < 0 {
		return s
	}
	for _, line := range strings.Split(rest[:end], "\n") {
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		val = strings.TrimSpace(val)
		switch strings.TrimSpace(key) {
		case "name":
			if val != "" {
				s.Name = val
			}
		case "description":
			s.Description = val
		}
	}
	s.Content = strings.TrimSpace(rest[end+3:])
	return s
}
