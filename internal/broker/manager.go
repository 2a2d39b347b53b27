package broker

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/nextlevelbuilder/nanoroom/internal/bus"
)

// ErrNoRoom rejects messages that cannot be routed to a broker.
var ErrNoRoom = errors.New("broker: message has no room id")

// ErrDropped reports an enqueue that timed out on a full queue.
var ErrDropped = errors.New("broker: queue full, message dropped")

// Manager keeps exactly one broker per room. Brokers are created on
// first route and stay hot for the process lifetime.
type Manager struct {
	mu      sync.Mutex
	brokers map[string]*Broker
	dir     string
	handler Handler
	opts    Options
	ctx     context.Context
}

func NewManager(ctx context.Context, dir string, handler Handler, opts Options) *Manager {
	return &Manager{
		brokers: make(map[string]*Broker),
		dir:     dir,
		handler: handler,
		opts:    opts,
		ctx:     ctx,
	}
}

// Route enqueues the envelope on its room's broker, creating and
// starting the broker on first use.
func (m *Manager) Route(env bus.MessageEnvelope) error {
	roomID := bus.NormalizeRoomID(env.RoomID)
	if roomID == "" {
		return ErrNoRoom
	}

	b, err := m.brokerFor(roomID)
	if err != nil {
		return err
	}
	if !b.Enqueue(env) {
		return ErrDropped
	}
	return nil
}

func (m *Manager) brokerFor(roomID string) (*Broker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.brokers[roomID]; ok {
		return b, nil
	}
	b, err := New(m.dir, roomID, m.handler, m.opts)
	if err != nil {
		return nil, err
	}
	b.Start(m.ctx)
	m.brokers[roomID] = b
	return b, nil
}

// Stats returns per-room snapshots sorted by room id.
func (m *Manager) Stats() []Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Stats, 0, len(m.brokers))
	for _, b := range m.brokers {
		out = append(out, b.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out
}

// Stop drains every broker and waits for their workers.
func (m *Manager) Stop() {
	m.mu.Lock()
	brokers := make([]*Broker, 0, len(m.brokers))
	for _, b := range m.brokers {
		brokers = append(brokers, b)
	}
	m.mu.Unlock()
	for _, b := range brokers {
		b.Stop()
	}
}
