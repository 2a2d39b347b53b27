// Package discord adapts the Discord gateway to the bus.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/nanoroom/internal/bus"
)

// Channel is the Discord adapter.
type Channel struct {
	session   *discordgo.Session
	msgBus    *bus.MessageBus
	botUserID string
}

func New(token string, msgBus *bus.MessageBus) (*Channel, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	return &Channel{session: session, msgBus: msgBus}, nil
}

func (c *Channel) Name() string { return "discord" }

// Start opens the gateway connection.
func (c *Channel) Start(_ context.Context) error {
	c.session.AddHandler(c.handleMessage)
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	user, err := c.session.User("@me")
	if err != nil {
		c.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	c.botUserID = user.ID
	slog.Info("channels: discord connected", "component", "channels", "username", user.Username)
	return nil
}

func (c *Channel) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == c.botUserID || m.Author.Bot {
		return
	}
	if m.Content == "" && len(m.Attachments) == 0 {
		return
	}
	var media []bus.MediaAttachment
	for _, a := range m.Attachments {
		media = append(media, bus.MediaAttachment{
			URL:         a.URL,
			ContentType: a.ContentType,
			Caption:     a.Filename,
		})
	}
	env := bus.MessageEnvelope{
		Channel:    "discord",
		ChatID:     m.ChannelID,
		Content:    m.Content,
		Direction:  bus.DirectionInbound,
		SenderID:   m.Author.ID,
		SenderRole: bus.RoleUser,
		Timestamp:  time.Now().UTC(),
		Media:      media,
	}
	env.EnsureTraceID()
	c.msgBus.PublishInbound(env)
}

func (c *Channel) Stop(_ context.Context) error {
	return c.session.Close()
}

// Send delivers one outbound message to a Discord channel.
func (c *Channel) Send(_ context.Context, env bus.MessageEnvelope) error {
	if env.ChatID == "" {
		return fmt.Errorf("empty chat id for discord send")
	}
	// Discord caps messages at 2000 characters.
	content := env.Content
	for len(content) > 0 {
		chunk := content
		if len(chunk) > 2000 {
			chunk = chunk[:2000]
		}
		content = content[len(chunk):]
		if _, err := c.session.ChannelMessageSend(env.ChatID, chunk); err != nil {
			return fmt.Errorf("discord send: %w", err)
		}
	}
	return nil
}
