package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/nanoroom/internal/bus"
)

func userEnv(room, content string) bus.MessageEnvelope {
	return bus.MessageEnvelope{
		Channel:    "test",
		ChatID:     "chat1",
		RoomID:     room,
		Content:    content,
		SenderRole: bus.RoleUser,
	}
}

// orderRecorder collects processed contents and signals each one.
type orderRecorder struct {
	mu    sync.Mutex
	seen  []string
	ch    chan string
	errOn string
}

func newOrderRecorder(buffer int) *orderRecorder {
	return &orderRecorder{ch: make(chan string, buffer)}
}

func (r *orderRecorder) handle(_ context.Context, env bus.MessageEnvelope) error {
	r.mu.Lock()
	r.seen = append(r.seen, env.Content)
	r.mu.Unlock()
	r.ch <- env.Content
	if r.errOn != "" && env.Content == r.errOn {
		return errors.New("poison")
	}
	return nil
}

func (r *orderRecorder) waitFor(t *testing.T, n int) []string {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.ch:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for message %d of %d", i+1, n)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen...)
}

func TestFIFOWithinPriority(t *testing.T) {
	dir := t.TempDir()
	rec := newOrderRecorder(16)
	b, err := New(dir, "general", rec.handle, Options{})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		if !b.Enqueue(userEnv("general", fmt.Sprintf("msg-%d", i))) {
			t.Fatalf("enqueue %d failed", i)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)

	seen := rec.waitFor(t, 5)
	for i, content := range seen {
		if content != fmt.Sprintf("msg-%d", i) {
			t.Fatalf("order broken at %d: %v", i, seen)
		}
	}
	b.Stop()
}

func TestPriorityPreemption(t *testing.T) {
	dir := t.TempDir()
	rec := newOrderRecorder(16)
	b, err := New(dir, "general", rec.handle, Options{})
	if err != nil {
		t.Fatal(err)
	}

	// Three user messages queued first, then a system message jumps them.
	for i := 0; i < 3; i++ {
		b.Enqueue(userEnv("general", fmt.Sprintf("user-%d", i)))
	}
	sys := userEnv("general", "system-alert")
	sys.SenderRole = bus.RoleSystem
	b.Enqueue(sys)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)

	seen := rec.waitFor(t, 4)
	if seen[0] != "system-alert" {
		t.Fatalf("system message did not preempt: %v", seen)
	}
	if seen[1] != "user-0" || seen[2] != "user-1" || seen[3] != "user-2" {
		t.Fatalf("user FIFO broken after preemption: %v", seen)
	}
	b.Stop()
}

func TestMetadataPriorityOverride(t *testing.T) {
	dir := t.TempDir()
	rec := newOrderRecorder(16)
	b, err := New(dir, "general", rec.handle, Options{})
	if err != nil {
		t.Fatal(err)
	}

	b.Enqueue(userEnv("general", "normal"))
	urgent := userEnv("general", "urgent")
	urgent.Metadata = map[string]string{"priority": "0"}
	b.Enqueue(urgent)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)

	seen := rec.waitFor(t, 2)
	if seen[0] != "urgent" {
		t.Fatalf("metadata priority ignored: %v", seen)
	}
	b.Stop()
}

func TestCrashReplayExactlyOnce(t *testing.T) {
	dir := t.TempDir()

	// First broker journals three messages and "crashes" before
	// processing any of them.
	rec1 := newOrderRecorder(16)
	b1, err := New(dir, "general", rec1.handle, Options{})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		b1.Enqueue(userEnv("general", fmt.Sprintf("pending-%d", i)))
	}
	b1.wal.close()

	// Restart replays all three, in order.
	rec2 := newOrderRecorder(16)
	b2, err := New(dir, "general", rec2.handle, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if got := b2.Stats().Replayed; got != 3 {
		t.Fatalf("replayed = %d, want 3", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b2.Start(ctx)
	seen := rec2.waitFor(t, 3)
	for i, content := range seen {
		if content != fmt.Sprintf("pending-%d", i) {
			t.Fatalf("replay order broken: %v", seen)
		}
	}
	b2.Stop()

	// A third restart finds nothing to replay: the cursor advanced.
	b3, err := New(dir, "general", newOrderRecorder(1).handle, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if got := b3.Stats().Replayed; got != 0 {
		t.Fatalf("second replay = %d, want 0", got)
	}
	b3.Stop()
}

func TestPoisonMessageAdvancesCursor(t *testing.T) {
	dir := t.TempDir()
	rec := newOrderRecorder(16)
	rec.errOn = "poison-pill"
	b, err := New(dir, "general", rec.handle, Options{})
	if err != nil {
		t.Fatal(err)
	}

	b.Enqueue(userEnv("general", "poison-pill"))
	b.Enqueue(userEnv("general", "after-poison"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)

	seen := rec.waitFor(t, 2)
	if seen[1] != "after-poison" {
		t.Fatalf("poison wedged the queue: %v", seen)
	}
	stats := b.Stats()
	if stats.Failed != 1 || stats.Processed != 1 {
		t.Fatalf("counters failed=%d processed=%d", stats.Failed, stats.Processed)
	}
	b.Stop()

	// The poison message is not replayed.
	b2, err := New(dir, "general", rec.handle, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if got := b2.Stats().Replayed; got != 0 {
		t.Fatalf("poison message replayed: %d", got)
	}
	b2.Stop()
}

func TestEnqueueTimeoutDrops(t *testing.T) {
	dir := t.TempDir()
	// No worker running, capacity 1, short timeout.
	b, err := New(dir, "general", func(context.Context, bus.MessageEnvelope) error { return nil },
		Options{Capacity: 1, EnqueueTimeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	defer b.Stop()

	if !b.Enqueue(userEnv("general", "first")) {
		t.Fatal("first enqueue failed")
	}
	start := time.Now()
	if b.Enqueue(userEnv("general", "second")) {
		t.Fatal("second enqueue succeeded on a full queue")
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("dropped without waiting: %s", elapsed)
	}
	if got := b.Stats().Dropped; got != 1 {
		t.Errorf("dropped = %d, want 1", got)
	}
}

func TestManagerRequiresRoomID(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewManager(ctx, t.TempDir(), func(context.Context, bus.MessageEnvelope) error { return nil }, Options{})
	defer m.Stop()

	env := userEnv("", "no room")
	if err := m.Route(env); !errors.Is(err, ErrNoRoom) {
		t.Fatalf("want ErrNoRoom, got %v", err)
	}
}

func TestManagerOneBrokerPerRoom(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := newOrderRecorder(16)
	m := NewManager(ctx, t.TempDir(), rec.handle, Options{})
	defer m.Stop()

	for i := 0; i < 2; i++ {
		if err := m.Route(userEnv("general", fmt.Sprintf("a-%d", i))); err != nil {
			t.Fatal(err)
		}
		if err := m.Route(userEnv("project-x", fmt.Sprintf("b-%d", i))); err != nil {
			t.Fatal(err)
		}
	}
	rec.waitFor(t, 4)

	stats := m.Stats()
	if len(stats) != 2 {
		t.Fatalf("broker count %d, want 2", len(stats))
	}
	if stats[0].RoomID != "general" || stats[1].RoomID != "project-x" {
		t.Fatalf("stats rooms %v", stats)
	}
}

func TestSafeRoomID(t *testing.T) {
	tests := []struct{ in, want string }{
		{"general", "general"},
		{"room:x/y", "room_x_y"},
		{"a b", "a_b"},
	}
	for _, tt := range tests {
		if got := safeRoomID(tt.in); got != tt.want {
			t.Errorf("safeRoomID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
