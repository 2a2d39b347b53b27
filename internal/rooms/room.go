// Package rooms models chat rooms and decides which bots handle a
// message.
package rooms

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Room types.
const (
	TypeOpen         = "open"
	TypeProject      = "project"
	TypeDirect       = "direct"
	TypeCoordination = "coordination"
)

// GeneralRoom always exists and holds the leader bot.
const GeneralRoom = "general"

// Room is one conversation space shared by users and bots.
type Room struct {
	ID               string            `json:"id"`
	Type             string            `json:"type"`
	Participants     []string          `json:"participants"`
	Owner            string            `json:"owner,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	Summary          string            `json:"summary,omitempty"`
	AutoArchive      bool              `json:"auto_archive,omitempty"`
	ArchiveAfterDays int               `json:"archive_after_days,omitempty"`
	CoordinatorMode  bool              `json:"coordinator_mode,omitempty"`
	Deadline         *time.Time        `json:"deadline,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// HasParticipant reports membership by exact name.
func (r *Room) HasParticipant(name string) bool {
	for _, p := range r.Participants {
		if p == name {
			return true
		}
	}
	return false
}

// Manager owns the room registry, persisted as one JSON file.
type Manager struct {
	mu        sync.RWMutex
	rooms     map[string]*Room
	path      string
	leaderBot string
}

// NewManager loads rooms from disk and guarantees the general room
// exists with the leader bot in it.
func NewManager(path, leaderBot string) (*Manager, error) {
	m := &Manager{rooms: make(map[string]*Room), path: path, leaderBot: leaderBot}
	if err := m.load(); err != nil {
		return nil, err
	}
	if _, ok := m.rooms[GeneralRoom]; !ok {
		m.rooms[GeneralRoom] = &Room{
			ID:           GeneralRoom,
			Type:         TypeOpen,
			Participants: []string{leaderBot},
			CreatedAt:    time.Now().UTC(),
		}
		if err := m.save(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Manager) Leader() string { return m.leaderBot }

func (m *Manager) Get(id string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[id]
	if !ok {
		return nil, false
	}
	cp := *r
	cp.Participants = append([]string(nil), r.Participants...)
	return &cp, true
}

// List returns rooms sorted by id.
func (m *Manager) List() []*Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		cp := *r
		cp.Participants = append([]string(nil), r.Participants...)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Create adds a room. The leader bot joins every new room.
func (m *Manager) Create(id, roomType, owner string, participants []string) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.rooms[id]; exists {
		return nil, fmt.Errorf("room %q already exists", id)
	}

	r := &Room{
		ID:        id,
		Type:      roomType,
		Owner:     owner,
		CreatedAt: time.Now().UTC(),
	}
	seen := map[string]bool{}
	for _, p := range append([]string{m.leaderBot}, participants...) {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		r.Participants = append(r.Participants, p)
	}
	m.rooms[id] = r
	if err := m.save(); err != nil {
		delete(m.rooms, id)
		return nil, err
	}
	cp := *r
	return &cp, nil
}

// AddParticipant is idempotent.
func (m *Manager) AddParticipant(roomID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return fmt.Errorf("room %q not found", roomID)
	}
	if r.HasParticipant(name) {
		return nil
	}
	r.Participants = append(r.Participants, name)
	return m.save()
}

// RemoveParticipant refuses to empty a room.
func (m *Manager) RemoveParticipant(roomID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return fmt.Errorf("room %q not found", roomID)
	}
	if !r.HasParticipant(name) {
		return fmt.Errorf("%q is not in room %q", name, roomID)
	}
	if len(r.Participants) == 1 {
		return fmt.Errorf("cannot remove the last participant from room %q", roomID)
	}
	kept := r.Participants[:0]
	for _, p := range r.Participants {
		if p != name {
			kept = append(kept, p)
		}
	}
	r.Participants = kept
	return m.save()
}

// Participants returns a copy of the member list.
func (m *Manager) Participants(roomID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return nil
	}
	return append([]string(nil), r.Participants...)
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("rooms: read registry: %w", err)
	}
	var list []*Room
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("rooms: parse registry: %w", err)
	}
	for _, r := range list {
		m.rooms[r.ID] = r
	}
	return nil
}

// save writes the registry atomically. Caller holds the lock.
func (m *Manager) save() error {
	list := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		list = append(list, r)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(m.path), "rooms-*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), m.path)
}
