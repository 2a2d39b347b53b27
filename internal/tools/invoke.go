package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/nanoroom/internal/bus"
)

// InvokeTimeout bounds how long a delegation waits for the other bot.
const InvokeTimeout = 5 * time.Minute

// BotInvoker runs another bot against a prompt and returns its reply.
// The gateway implements this by running the target loop directly; going
// through the room broker would deadlock, since the caller is itself
// inside a broker handler.
type BotInvoker interface {
	Invoke(ctx context.Context, env bus.MessageEnvelope) (string, error)
	KnownBots() []string
}

// InvokeTool delegates a task to another bot and waits for its answer.
type InvokeTool struct {
	invoker BotInvoker
	roomID  string
	selfBot string
}

func NewInvokeTool(invoker BotInvoker, roomID, selfBot string) *InvokeTool {
	return &InvokeTool{invoker: invoker, roomID: roomID, selfBot: selfBot}
}

func (t *InvokeTool) Name() string { return "invoke" }
func (t *InvokeTool) Description() string {
	return "Delegate a task to another bot in the room and wait for its reply."
}
func (t *InvokeTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"bot":  map[string]interface{}{"type": "string", "description": "Name of the bot to invoke"},
			"task": map[string]interface{}{"type": "string", "description": "Task description for the bot"},
		},
		"required": []string{"bot", "task"},
	}
}

func (t *InvokeTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	botName := stringArg(args, "bot")
	task := stringArg(args, "task")

	if botName == t.selfBot {
		return ErrorResult("a bot cannot invoke itself"), nil
	}
	if !t.knows(botName) {
		return ErrorResult(fmt.Sprintf("unknown bot %q, known: %v", botName, t.invoker.KnownBots())), nil
	}

	ctx, cancel := context.WithTimeout(ctx, InvokeTimeout)
	defer cancel()

	env := bus.MessageEnvelope{
		Channel:    "internal",
		ChatID:     t.roomID,
		RoomID:     t.roomID,
		Content:    task,
		Direction:  bus.DirectionInbound,
		SenderID:   t.selfBot,
		SenderRole: bus.RoleBot,
		BotName:    botName,
		TraceID:    uuid.NewString(),
		Timestamp:  time.Now().UTC(),
	}

	reply, err := t.invoker.Invoke(ctx, env)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return ErrorResult(fmt.Sprintf("bot %s did not reply within %s", botName, InvokeTimeout)), nil
		}
		return ErrorResult(fmt.Sprintf("invoke %s: %v", botName, err)), nil
	}
	return NewResult(fmt.Sprintf("%s replied:\n%s", botName, reply)), nil
}

func (t *InvokeTool) knows(name string) bool {
	for _, b := range t.invoker.KnownBots() {
		if b == name {
			return true
		}
	}
	return false
}
