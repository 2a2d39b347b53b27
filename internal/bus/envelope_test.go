package bus

import (
	"testing"
	"time"
)

func TestSessionKey(t *testing.T) {
	tests := []struct {
		name string
		env  MessageEnvelope
		want string
	}{
		{
			name: "room id set",
			env:  MessageEnvelope{RoomID: "general", Channel: "telegram", ChatID: "123"},
			want: "room:general",
		},
		{
			name: "room id with prefix",
			env:  MessageEnvelope{RoomID: "room:general"},
			want: "room:general",
		},
		{
			name: "room id with hash",
			env:  MessageEnvelope{RoomID: "#proj-x "},
			want: "room:proj-x",
		},
		{
			name: "no room id falls back to channel+chat",
			env:  MessageEnvelope{Channel: "discord", ChatID: "42"},
			want: "room:discord_42",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.env.SessionKey(); got != tt.want {
				t.Errorf("SessionKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEffectivePriority(t *testing.T) {
	tests := []struct {
		name string
		env  MessageEnvelope
		want int
	}{
		{"metadata override", MessageEnvelope{Priority: 5, Metadata: map[string]string{"priority": "1"}}, 1},
		{"explicit field", MessageEnvelope{Priority: 2, SenderRole: RoleUser}, 2},
		{"system role default", MessageEnvelope{SenderRole: RoleSystem}, PrioritySystem},
		{"bot role default", MessageEnvelope{SenderRole: RoleBot}, PriorityBot},
		{"user role default", MessageEnvelope{SenderRole: RoleUser}, PriorityUser},
		{"unknown role defaults to user", MessageEnvelope{}, PriorityUser},
		{"bad metadata falls through", MessageEnvelope{SenderRole: RoleBot, Metadata: map[string]string{"priority": "abc"}}, PriorityBot},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.env.EffectivePriority(); got != tt.want {
				t.Errorf("EffectivePriority() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestEnsureTraceID(t *testing.T) {
	env := MessageEnvelope{}
	id := env.EnsureTraceID()
	if id == "" {
		t.Fatal("expected non-empty trace id")
	}
	if env.EnsureTraceID() != id {
		t.Error("trace id should be stable once set")
	}
}

func TestDedupeCache(t *testing.T) {
	d := NewDedupeCache(time.Minute, 3)

	if d.IsDuplicate("a") {
		t.Error("first sighting should not be duplicate")
	}
	if !d.IsDuplicate("a") {
		t.Error("second sighting should be duplicate")
	}

	// Fill past capacity; oldest entry gets evicted.
	d.IsDuplicate("b")
	d.IsDuplicate("c")
	d.IsDuplicate("d")
	if len(d.entries) > 3 {
		t.Errorf("cache grew past max: %d", len(d.entries))
	}
}

func TestDedupeCacheTTL(t *testing.T) {
	d := NewDedupeCache(time.Millisecond, 10)
	d.IsDuplicate("x")
	time.Sleep(5 * time.Millisecond)
	if d.IsDuplicate("x") {
		t.Error("expired entry should not count as duplicate")
	}
}
