package bus

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Direction of an envelope relative to the gateway.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Sender roles and their default queue priorities (lower = higher priority).
const (
	RoleUser   = "user"
	RoleBot    = "bot"
	RoleSystem = "system"

	PrioritySystem = 0
	PriorityBot    = 3
	PriorityUser   = 5
)

// MediaAttachment references a media file carried with an envelope.
type MediaAttachment struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
	Caption     string `json:"caption,omitempty"`
}

// MessageEnvelope is the single canonical message shape used on the wire,
// in broker queues, and on the bus. Envelopes are immutable after enqueue;
// amendments create new envelopes referencing the old TraceID.
type MessageEnvelope struct {
	Channel    string            `json:"channel"`
	ChatID     string            `json:"chat_id"`
	Content    string            `json:"content"`
	Direction  string            `json:"direction"`
	SenderID   string            `json:"sender_id,omitempty"`
	SenderRole string            `json:"sender_role,omitempty"` // user, bot, system
	BotName    string            `json:"bot_name,omitempty"`
	ReplyTo    string            `json:"reply_to,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	Media      []MediaAttachment `json:"media,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	RoomID     string            `json:"room_id,omitempty"`
	TraceID    string            `json:"trace_id,omitempty"`
	Priority   int               `json:"priority"`
}

// NormalizeRoomID strips a leading "room:" or "#" prefix and trims whitespace.
func NormalizeRoomID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "room:")
	id = strings.TrimPrefix(id, "#")
	return strings.TrimSpace(id)
}

// SessionKey derives the canonical per-room session key.
//
//	room set:   room:{normalized_room}
//	room unset: room:{channel}_{chat_id}
func (e *MessageEnvelope) SessionKey() string {
	if e.RoomID != "" {
		return "room:" + NormalizeRoomID(e.RoomID)
	}
	return fmt.Sprintf("room:%s_%s", e.Channel, e.ChatID)
}

// EffectivePriority resolves the queue priority for the envelope.
// An explicit metadata override wins, then the envelope field, then the
// sender role default.
func (e *MessageEnvelope) EffectivePriority() int {
	if e.Metadata != nil {
		if v, ok := e.Metadata["priority"]; ok {
			var p int
			if _, err := fmt.Sscanf(v, "%d", &p); err == nil {
				return p
			}
		}
	}
	if e.Priority > 0 {
		return e.Priority
	}
	switch e.SenderRole {
	case RoleSystem:
		return PrioritySystem
	case RoleBot:
		return PriorityBot
	default:
		return PriorityUser
	}
}

// EnsureTraceID sets the trace id on first touch. Every derived event and
// log line propagates it.
func (e *MessageEnvelope) EnsureTraceID() string {
	if e.TraceID == "" {
		e.TraceID = uuid.NewString()
	}
	return e.TraceID
}

// EnsureTimestamp stamps the envelope if the source channel did not.
func (e *MessageEnvelope) EnsureTimestamp() {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
}
