// Package sessions keeps the per-room conversation log: one NDJSON file
// per room with a metadata header line, loaded through an in-memory cache.
// Persistence goes through an etag-guarded record store so a CLI compaction
// and a running gateway writing the same session reconcile instead of
// clobbering each other.
package sessions

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/nanoroom/internal/cas"
	"github.com/nextlevelbuilder/nanoroom/internal/providers"
)

// Session is one room's conversation state.
type Session struct {
	Key       string              `json:"key"`
	Messages  []providers.Message `json:"messages"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
	Metadata  map[string]any      `json:"metadata,omitempty"`
}

// metadataLine is the first line of every session file.
type metadataLine struct {
	Type      string         `json:"_type"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Manager handles session lifecycle, persistence, and lookup.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	dir      string

	store  *cas.SessionCAS // nil when dir is empty (in-memory only)
	etagMu sync.Mutex
	etags  map[string]string // last seen on-disk etag per key
}

func NewManager(dir string) (*Manager, error) {
	m := &Manager{sessions: make(map[string]*Session), etags: make(map[string]string)}
	if dir != "" {
		store, err := cas.NewSessionCAS(dir)
		if err != nil {
			return nil, fmt.Errorf("sessions: %w", err)
		}
		m.dir = dir
		m.store = store
	}
	return m, nil
}

// GetOrCreate returns the cached session, loads it from disk, or creates
// an empty one.
func (m *Manager) GetOrCreate(key string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[key]; ok {
		return s
	}
	if s := m.loadLocked(key); s != nil {
		m.sessions[key] = s
		return s
	}

	now := time.Now().UTC()
	s := &Session{Key: key, CreatedAt: now, UpdatedAt: now}
	m.sessions[key] = s
	return s
}

// AddMessage appends a message with an id and timestamp and persists the
// session. The id keeps the conflict merge from collapsing repeated
// identical messages.
func (m *Manager) AddMessage(key string, msg providers.Message) error {
	m.mu.Lock()
	s, ok := m.sessions[key]
	if !ok {
		m.mu.Unlock()
		s = m.GetOrCreate(key)
		m.mu.Lock()
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	s.Messages = append(s.Messages, msg)
	s.UpdatedAt = time.Now().UTC()
	snapshot := m.snapshotLocked(s)
	m.mu.Unlock()

	return m.save(snapshot)
}

// GetHistory returns the last max messages with the tool-chain invariant
// repaired: if the window opens on a tool result whose tool_use is outside
// the window, the assistant message carrying that tool_use is prepended.
func (m *Manager) GetHistory(key string, max int) []providers.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[key]
	if !ok || len(s.Messages) == 0 {
		return nil
	}

	start := 0
	if max > 0 && len(s.Messages) > max {
		start = len(s.Messages) - max
	}

	// Walk the window start back while it opens on an orphan tool result.
	for start > 0 {
		first := s.Messages[start]
		if first.ToolCallID == "" {
			break
		}
		if idx := findToolUse(s.Messages[:start], first.ToolCallID); idx >= 0 {
			start = idx
			continue
		}
		break
	}

	window := s.Messages[start:]

	// Drop any leading orphans that have no matching tool_use at all.
	for len(window) > 0 && window[0].ToolCallID != "" {
		window = window[1:]
	}

	out := make([]providers.Message, len(window))
	copy(out, window)
	return out
}

// findToolUse locates the assistant message carrying a tool_use id.
func findToolUse(msgs []providers.Message, toolCallID string) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		for _, tc := range msgs[i].ToolCalls {
			if tc.ID == toolCallID {
				return i
			}
		}
	}
	return -1
}

// GetSafeCompactionPoint walks backward from len-targetKeep looking for an
// assistant message that is toolless or whose every tool_use has a matching
// tool_result in the kept window. Returns 0 if no safe boundary exists.
func (m *Manager) GetSafeCompactionPoint(key string, targetKeep int) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[key]
	if !ok {
		return 0
	}
	msgs := s.Messages
	if len(msgs) <= targetKeep {
		return 0
	}

	for i := len(msgs) - targetKeep; i > 0; i-- {
		if isSafeBoundary(msgs, i) {
			return i
		}
	}
	return 0
}

// isSafeBoundary reports whether cutting before index i keeps every tool
// chain intact: the kept window [i:] must not open on a tool result, and
// no kept tool result may reference a tool_use before i.
func isSafeBoundary(msgs []providers.Message, i int) bool {
	for j := i; j < len(msgs); j++ {
		if msgs[j].ToolCallID != "" && findToolUse(msgs[i:j], msgs[j].ToolCallID) < 0 {
			return false
		}
	}
	return true
}

// ReplaceHead replaces all messages before index with a single synthetic
// summary message and persists the result. Used by the compactor.
func (m *Manager) ReplaceHead(key string, index int, summary providers.Message, meta map[string]any) error {
	m.mu.Lock()
	s, ok := m.sessions[key]
	if !ok || index <= 0 || index > len(s.Messages) {
		m.mu.Unlock()
		return nil
	}
	if summary.ID == "" {
		summary.ID = uuid.NewString()
	}
	if summary.Timestamp == 0 {
		// Stamp the summary just before the first kept message so a
		// conflict merge keeps it at the head of the history.
		summary.Timestamp = time.Now().UnixMilli()
		if index < len(s.Messages) && s.Messages[index].Timestamp > 0 {
			summary.Timestamp = s.Messages[index].Timestamp - 1
		}
	}
	kept := make([]providers.Message, 0, len(s.Messages)-index+1)
	kept = append(kept, summary)
	kept = append(kept, s.Messages[index:]...)
	s.Messages = kept
	s.UpdatedAt = time.Now().UTC()
	if meta != nil {
		if s.Metadata == nil {
			s.Metadata = make(map[string]any)
		}
		for k, v := range meta {
			s.Metadata[k] = v
		}
	}
	snapshot := m.snapshotLocked(s)
	m.mu.Unlock()

	return m.save(snapshot)
}

// MessageCount returns the current history length.
func (m *Manager) MessageCount(key string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[key]; ok {
		return len(s.Messages)
	}
	return 0
}

// Metadata returns a copy of the session metadata.
func (m *Manager) Metadata(key string) map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[key]
	if !ok || s.Metadata == nil {
		return nil
	}
	out := make(map[string]any, len(s.Metadata))
	for k, v := range s.Metadata {
		out[k] = v
	}
	return out
}

// SetMetadata merges the given keys into the session metadata and
// persists the session.
func (m *Manager) SetMetadata(key string, meta map[string]any) error {
	if len(meta) == 0 {
		return nil
	}
	m.mu.Lock()
	s, ok := m.sessions[key]
	if !ok {
		m.mu.Unlock()
		s = m.GetOrCreate(key)
		m.mu.Lock()
	}
	if s.Metadata == nil {
		s.Metadata = make(map[string]any)
	}
	for k, v := range meta {
		s.Metadata[k] = v
	}
	s.UpdatedAt = time.Now().UTC()
	snapshot := m.snapshotLocked(s)
	m.mu.Unlock()

	return m.save(snapshot)
}

// Clear empties the in-memory buffer; the next save overwrites the file.
func (m *Manager) Clear(key string) error {
	m.mu.Lock()
	s, ok := m.sessions[key]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	s.Messages = nil
	s.Metadata = nil
	s.UpdatedAt = time.Now().UTC()
	snapshot := m.snapshotLocked(s)
	m.mu.Unlock()

	return m.save(snapshot)
}

// List returns the keys of all sessions present on disk or in cache.
func (m *Manager) List() []string {
	seen := make(map[string]bool)

	m.mu.RLock()
	for key := range m.sessions {
		seen[key] = true
	}
	m.mu.RUnlock()

	if m.dir != "" {
		files, err := os.ReadDir(m.dir)
		if err == nil {
			for _, f := range files {
				if f.IsDir() || !strings.HasSuffix(f.Name(), ".jsonl") {
					continue
				}
				seen[unsanitizeKey(strings.TrimSuffix(f.Name(), ".jsonl"))] = true
			}
		}
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	return keys
}

func (m *Manager) snapshotLocked(s *Session) *Session {
	snap := &Session{
		Key:       s.Key,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
	if len(s.Messages) > 0 {
		snap.Messages = make([]providers.Message, len(s.Messages))
		copy(snap.Messages, s.Messages)
	}
	if len(s.Metadata) > 0 {
		snap.Metadata = make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			snap.Metadata[k] = v
		}
	}
	return snap
}

// save writes the whole session file through the CAS store: metadata
// header line then one message per line. A concurrent writer (another
// process on the same workspace) triggers the session merge instead of a
// lost update.
func (m *Manager) save(s *Session) error {
	if m.store == nil {
		return nil
	}

	header, err := json.Marshal(metadataLine{
		Type:      "metadata",
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
		Metadata:  s.Metadata,
	})
	if err != nil {
		return fmt.Errorf("sessions: marshal header: %w", err)
	}
	records := make([]string, 0, len(s.Messages)+1)
	records = append(records, string(header))
	for _, msg := range s.Messages {
		line, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("sessions: marshal message: %w", err)
		}
		records = append(records, string(line))
	}

	m.etagMu.Lock()
	defer m.etagMu.Unlock()

	fileKey := sanitizeKey(s.Key) + ".jsonl"
	res := m.store.Write(fileKey, records, m.etags[s.Key])
	if res.Err != nil {
		return fmt.Errorf("sessions: save %s: %w", s.Key, res.Err)
	}
	m.etags[s.Key] = res.CurrentVersion
	return nil
}

// loadLocked reads a session file record by record. Unparseable message
// lines are skipped with a warning rather than failing the load. Merge
// conflicts can leave more than one metadata line; every one is treated as
// a header, latest wins.
func (m *Manager) loadLocked(key string) *Session {
	if m.store == nil {
		return nil
	}
	fileKey := sanitizeKey(key) + ".jsonl"
	records, tag, err := m.store.Read(fileKey)
	if err != nil || len(records) == 0 {
		return nil
	}
	m.etagMu.Lock()
	m.etags[key] = tag
	m.etagMu.Unlock()

	s := &Session{Key: key}
	for _, line := range records {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var header metadataLine
		if json.Unmarshal([]byte(line), &header) == nil && header.Type == "metadata" {
			if s.UpdatedAt.IsZero() || header.UpdatedAt.After(s.UpdatedAt) {
				s.CreatedAt = header.CreatedAt
				s.UpdatedAt = header.UpdatedAt
				s.Metadata = header.Metadata
			}
			continue
		}
		var msg providers.Message
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			slog.Warn("sessions: skipping bad line", "key", key, "error", err)
			continue
		}
		s.Messages = append(s.Messages, msg)
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	return s
}

func sanitizeKey(key string) string {
	return strings.NewReplacer(":", "_", "/", "_", "\\", "_").Replace(key)
}

func unsanitizeKey(name string) string {
	// room_general round-trips to room:general for the common case.
	if idx := strings.Index(name, "_"); idx > 0 && name[:idx] == "room" {
		return "room:" + name[idx+1:]
	}
	return name
}
