// Package telegram adapts the Telegram Bot API (long polling) to the
// bus.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/nanoroom/internal/bus"
)

// Channel is the Telegram adapter.
type Channel struct {
	bot      *telego.Bot
	msgBus   *bus.MessageBus
	cancel   context.CancelFunc
	pollDone chan struct{}
}

func New(token string, msgBus *bus.MessageBus) (*Channel, error) {
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Channel{bot: bot, msgBus: msgBus}, nil
}

func (c *Channel) Name() string { return "telegram" }

// Start begins long polling for updates.
func (c *Channel) Start(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}
	slog.Info("channels: telegram connected", "component", "channels", "username", c.bot.Username())

	go func() {
		defer close(c.pollDone)
		for update := range updates {
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			c.publishInbound(update.Message)
		}
	}()
	return nil
}

func (c *Channel) publishInbound(msg *telego.Message) {
	senderID := ""
	if msg.From != nil {
		senderID = strconv.FormatInt(msg.From.ID, 10)
	}
	env := bus.MessageEnvelope{
		Channel:    "telegram",
		ChatID:     strconv.FormatInt(msg.Chat.ID, 10),
		Content:    msg.Text,
		Direction:  bus.DirectionInbound,
		SenderID:   senderID,
		SenderRole: bus.RoleUser,
		Timestamp:  time.Unix(msg.Date, 0).UTC(),
	}
	env.EnsureTraceID()
	c.msgBus.PublishInbound(env)
}

// Stop cancels polling and waits for the update loop to exit.
func (c *Channel) Stop(_ context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	if c.pollDone != nil {
		<-c.pollDone
	}
	return nil
}

// Send delivers one outbound message to a chat.
func (c *Channel) Send(ctx context.Context, env bus.MessageEnvelope) error {
	chatID, err := strconv.ParseInt(env.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram chat id %q: %w", env.ChatID, err)
	}
	_, err = c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), env.Content))
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
