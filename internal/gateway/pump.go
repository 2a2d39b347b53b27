package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/nanoroom/internal/agent"
	"github.com/nextlevelbuilder/nanoroom/internal/broker"
	"github.com/nextlevelbuilder/nanoroom/internal/bus"
	"github.com/nextlevelbuilder/nanoroom/internal/rooms"
)

// pump drains the inbound side of the bus into the per-room brokers.
func (s *Service) pump(ctx context.Context) error {
	for {
		env, ok := s.msgBus.ConsumeInbound(ctx)
		if !ok {
			return nil
		}
		if s.dedupe.Seen(env) {
			slog.Debug("gateway: duplicate inbound dropped",
				"component", "gateway", "channel", env.Channel, "trace_id", env.TraceID)
			continue
		}
		s.debounce.Add(env)
	}
}

// routeInbound resolves the room and target bots for one envelope and
// enqueues it. Called from the debouncer flush.
func (s *Service) routeInbound(env bus.MessageEnvelope) {
	roomID := bus.NormalizeRoomID(env.RoomID)

	// Channel messages without an explicit room are DMs to the leader.
	isDM := roomID == ""
	if isDM {
		roomID = env.Channel + "_" + env.ChatID
	}

	if !isDM && roomID == rooms.GeneralRoom && env.SenderRole == bus.RoleUser {
		roomID = s.maybeCreateProjectRoom(env, roomID)
	}

	d := s.rooms.Dispatch(env.Content, roomID, isDM, s.leader)

	primary := env
	primary.RoomID = d.RoomID
	primary.BotName = d.PrimaryBot
	s.enqueue(primary)

	for _, bot := range d.SecondaryBots {
		fanout := env
		fanout.RoomID = d.RoomID
		fanout.BotName = bot
		s.enqueue(fanout)
	}
}

// maybeCreateProjectRoom lets the leader spin up a project room when the
// message expresses that intent. The message itself is then routed into
// the new room.
func (s *Service) maybeCreateProjectRoom(env bus.MessageEnvelope, roomID string) string {
	create, name, projectType := rooms.ShouldLeaderCreateRoom(env.Content)
	if !create {
		return roomID
	}
	if _, ok := s.rooms.Get(name); ok {
		return name
	}

	bots := rooms.SuggestBotsForProject(projectType)
	if _, err := s.rooms.Create(name, rooms.TypeProject, env.SenderID, bots); err != nil {
		slog.Warn("gateway: project room creation failed",
			"component", "gateway", "room", name, "error", err)
		return roomID
	}
	slog.Info("gateway: project room created",
		"component", "gateway", "room", name, "project_type", projectType, "bots", bots)
	s.msgBus.Broadcast(bus.Event{Name: "room.created", Payload: map[string]interface{}{
		"room": name, "project_type": projectType, "bots": bots,
	}})
	return name
}

func (s *Service) enqueue(env bus.MessageEnvelope) {
	err := s.route(env)
	if err == nil {
		return
	}
	if errors.Is(err, broker.ErrDropped) {
		slog.Error("gateway: room queue full, message dropped",
			"component", "gateway", "room", env.RoomID, "bot", env.BotName, "trace_id", env.TraceID)
		s.msgBus.Broadcast(bus.Event{Name: "message.dropped", Payload: map[string]interface{}{
			"room": env.RoomID, "trace_id": env.TraceID,
		}})
		return
	}
	slog.Error("gateway: enqueue failed",
		"component", "gateway", "room", env.RoomID, "error", err)
}

// handleRoomMessage is the broker handler: it runs the targeted bot's
// loop and publishes the reply. Errors count against the broker's failed
// counter; the cursor still advances so one bad message cannot wedge the
// room.
func (s *Service) handleRoomMessage(ctx context.Context, env bus.MessageEnvelope) error {
	botName := env.BotName
	if botName == "" {
		botName = s.leader
	}
	loop, ok := s.loops[botName]
	if !ok {
		return fmt.Errorf("no loop for bot %q", botName)
	}

	res, err := loop.Run(ctx, agent.RunRequest{
		SessionKey: env.SessionKey(),
		Content:    env.Content,
		Channel:    env.Channel,
		ChatID:     env.ChatID,
		SenderID:   env.SenderID,
		SenderRole: env.SenderRole,
		TraceID:    env.TraceID,
		Media:      env.Media,
	})
	if err != nil {
		return fmt.Errorf("bot %s: %w", botName, err)
	}

	s.msgBus.Broadcast(bus.Event{Name: "message.processed", Payload: map[string]interface{}{
		"room": env.RoomID, "bot": botName, "tier": res.Tier,
		"model": res.Model, "iterations": res.Iterations,
	}})

	out := bus.MessageEnvelope{
		Channel:    env.Channel,
		ChatID:     env.ChatID,
		Content:    res.Content,
		SenderRole: bus.RoleBot,
		BotName:    botName,
		RoomID:     env.RoomID,
		TraceID:    env.TraceID,
		ReplyTo:    env.SenderID,
	}

	switch {
	case env.Channel == "internal":
		// Delegations return their reply through the invoke path.
		return nil
	case env.SenderRole == bus.RoleSystem:
		// System messages carry "originChannel:originChatId" when a reply
		// should go somewhere. Without an origin the reply stays an event.
		ch, origin, ok := agent.SplitOrigin(env.ChatID)
		if !ok {
			s.msgBus.Broadcast(bus.Event{Name: "room.message", Payload: map[string]interface{}{
				"room": env.RoomID, "bot": botName, "content": res.Content,
			}})
			return nil
		}
		out.Channel, out.ChatID = ch, origin
	}

	s.msgBus.PublishOutbound(out)
	return nil
}
