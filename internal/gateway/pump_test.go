package gateway

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nextlevelbuilder/nanoroom/internal/agent"
	"github.com/nextlevelbuilder/nanoroom/internal/broker"
	"github.com/nextlevelbuilder/nanoroom/internal/bus"
	"github.com/nextlevelbuilder/nanoroom/internal/rooms"
)

func newTestService(t *testing.T) (*Service, *[]bus.MessageEnvelope) {
	t.Helper()
	rm, err := rooms.NewManager(filepath.Join(t.TempDir(), "rooms.json"), "nanobot")
	if err != nil {
		t.Fatal(err)
	}
	var routed []bus.MessageEnvelope
	s := &Service{
		msgBus: bus.NewMessageBus(),
		rooms:  rm,
		leader: "nanobot",
		loops:  make(map[string]botRunner),
		dedupe: newDedupeCache(),
		route: func(env bus.MessageEnvelope) error {
			routed = append(routed, env)
			return nil
		},
	}
	return s, &routed
}

func TestRouteInboundDMGoesToLeader(t *testing.T) {
	s, routed := newTestService(t)

	s.routeInbound(bus.MessageEnvelope{
		Channel: "telegram", ChatID: "42", Content: "hello",
		SenderRole: bus.RoleUser,
	})

	if len(*routed) != 1 {
		t.Fatalf("routed %d envelopes, want 1", len(*routed))
	}
	env := (*routed)[0]
	if env.BotName != "nanobot" {
		t.Fatalf("primary bot %q, want nanobot", env.BotName)
	}
	if env.RoomID != "telegram_42" {
		t.Fatalf("room %q, want telegram_42", env.RoomID)
	}
}

func TestRouteInboundMentionTargetsBot(t *testing.T) {
	s, routed := newTestService(t)
	if _, err := s.rooms.Create("dev", rooms.TypeProject, "u1", []string{"coder", "reviewer"}); err != nil {
		t.Fatal(err)
	}

	s.routeInbound(bus.MessageEnvelope{
		Channel: "ws", ChatID: "c1", RoomID: "dev",
		Content: "@coder please fix the parser", SenderRole: bus.RoleUser,
	})

	if len(*routed) != 1 {
		t.Fatalf("routed %d envelopes, want 1", len(*routed))
	}
	if got := (*routed)[0].BotName; got != "coder" {
		t.Fatalf("primary bot %q, want coder", got)
	}
}

func TestRouteInboundAllFansOut(t *testing.T) {
	s, routed := newTestService(t)
	if _, err := s.rooms.Create("dev", rooms.TypeProject, "u1", []string{"coder", "reviewer"}); err != nil {
		t.Fatal(err)
	}

	s.routeInbound(bus.MessageEnvelope{
		Channel: "ws", ChatID: "c1", RoomID: "dev",
		Content: "@all status update please", SenderRole: bus.RoleUser,
	})

	if len(*routed) != 3 {
		t.Fatalf("routed %d envelopes, want 3", len(*routed))
	}
	if got := (*routed)[0].BotName; got != "nanobot" {
		t.Fatalf("leader first, got %q", got)
	}
}

func TestRouteInboundCreatesProjectRoom(t *testing.T) {
	s, routed := newTestService(t)

	s.routeInbound(bus.MessageEnvelope{
		Channel: "ws", ChatID: "c1", RoomID: "general",
		Content:    "let's start a new coding project for the billing api",
		SenderID:   "u1",
		SenderRole: bus.RoleUser,
	})

	if len(*routed) == 0 {
		t.Fatal("nothing routed")
	}
	roomID := (*routed)[0].RoomID
	if roomID == "general" {
		t.Fatal("message stayed in general, want new project room")
	}
	room, ok := s.rooms.Get(roomID)
	if !ok {
		t.Fatalf("room %q not created", roomID)
	}
	if room.Type != rooms.TypeProject {
		t.Fatalf("room type %q, want project", room.Type)
	}
}

type fakeRunner struct {
	result *agent.RunResult
	err    error
	reqs   []agent.RunRequest
}

func (f *fakeRunner) Run(_ context.Context, req agent.RunRequest) (*agent.RunResult, error) {
	f.reqs = append(f.reqs, req)
	return f.result, f.err
}

func TestHandleRoomMessagePublishesReply(t *testing.T) {
	s, _ := newTestService(t)
	runner := &fakeRunner{result: &agent.RunResult{Content: "done", Tier: "simple"}}
	s.loops["nanobot"] = runner

	err := s.handleRoomMessage(context.Background(), bus.MessageEnvelope{
		Channel: "telegram", ChatID: "42", RoomID: "telegram_42",
		Content: "hi", SenderID: "u1", SenderRole: bus.RoleUser, TraceID: "t1",
		Media: []bus.MediaAttachment{{URL: "https://t.me/file/9.jpg", ContentType: "image/jpeg"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out, ok := s.msgBus.SubscribeOutbound(ctx)
	if !ok {
		t.Fatal("no outbound message")
	}
	if out.Channel != "telegram" || out.ChatID != "42" || out.Content != "done" {
		t.Fatalf("outbound %+v", out)
	}
	if out.BotName != "nanobot" || out.SenderRole != bus.RoleBot {
		t.Fatalf("outbound identity %+v", out)
	}
	if len(runner.reqs) != 1 || runner.reqs[0].SessionKey != "room:telegram_42" {
		t.Fatalf("run requests %+v", runner.reqs)
	}
	if len(runner.reqs[0].Media) != 1 || runner.reqs[0].Media[0].URL != "https://t.me/file/9.jpg" {
		t.Fatalf("media not forwarded: %+v", runner.reqs[0].Media)
	}
}

func TestHandleRoomMessageSystemOriginRouting(t *testing.T) {
	s, _ := newTestService(t)
	s.loops["nanobot"] = &fakeRunner{result: &agent.RunResult{Content: "reminder sent"}}

	err := s.handleRoomMessage(context.Background(), bus.MessageEnvelope{
		Channel: "system", ChatID: "telegram:77", RoomID: "general",
		Content: "morning briefing", SenderRole: bus.RoleSystem,
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out, ok := s.msgBus.SubscribeOutbound(ctx)
	if !ok {
		t.Fatal("no outbound message")
	}
	if out.Channel != "telegram" || out.ChatID != "77" {
		t.Fatalf("origin routing got channel=%q chat=%q", out.Channel, out.ChatID)
	}
}

func TestHandleRoomMessageSystemWithoutOriginStaysInternal(t *testing.T) {
	s, _ := newTestService(t)
	s.loops["nanobot"] = &fakeRunner{result: &agent.RunResult{Content: "noted"}}

	var events []bus.Event
	s.msgBus.Subscribe("test", func(e bus.Event) { events = append(events, e) })

	err := s.handleRoomMessage(context.Background(), bus.MessageEnvelope{
		Channel: "system", ChatID: "general", RoomID: "general",
		Content: "standup", SenderRole: bus.RoleSystem,
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if out, ok := s.msgBus.SubscribeOutbound(ctx); ok {
		t.Fatalf("unexpected outbound %+v", out)
	}
	found := false
	for _, e := range events {
		if e.Name == "room.message" {
			found = true
		}
	}
	if !found {
		t.Fatal("room.message event not broadcast")
	}
}

func TestHandleRoomMessageInternalSkipsOutbound(t *testing.T) {
	s, _ := newTestService(t)
	s.loops["coder"] = &fakeRunner{result: &agent.RunResult{Content: "patch ready"}}

	err := s.handleRoomMessage(context.Background(), bus.MessageEnvelope{
		Channel: "internal", ChatID: "general", RoomID: "general",
		Content: "write a patch", BotName: "coder", SenderRole: bus.RoleBot,
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if out, ok := s.msgBus.SubscribeOutbound(ctx); ok {
		t.Fatalf("unexpected outbound %+v", out)
	}
}

func TestHandleRoomMessageUnknownBotFails(t *testing.T) {
	s, _ := newTestService(t)
	err := s.handleRoomMessage(context.Background(), bus.MessageEnvelope{
		Channel: "ws", ChatID: "c", RoomID: "general", BotName: "ghost",
	})
	if err == nil {
		t.Fatal("expected error for unknown bot")
	}
}

func TestInvokeRunsTargetLoop(t *testing.T) {
	s, _ := newTestService(t)
	runner := &fakeRunner{result: &agent.RunResult{Content: "delegated answer"}}
	s.loops["researcher"] = runner
	s.loops["nanobot"] = &fakeRunner{result: &agent.RunResult{Content: "leader"}}

	reply, err := s.Invoke(context.Background(), bus.MessageEnvelope{
		Channel: "internal", ChatID: "general", RoomID: "general",
		Content: "look this up", BotName: "researcher", SenderRole: bus.RoleBot,
	})
	if err != nil {
		t.Fatal(err)
	}
	if reply != "delegated answer" {
		t.Fatalf("reply %q", reply)
	}

	if _, err := s.Invoke(context.Background(), bus.MessageEnvelope{BotName: "ghost"}); err == nil {
		t.Fatal("expected error for unknown bot")
	}

	bots := s.KnownBots()
	if len(bots) != 2 || bots[0] != "nanobot" || bots[1] != "researcher" {
		t.Fatalf("known bots %v", bots)
	}
}

func TestEnqueueDropBroadcastsEvent(t *testing.T) {
	s, _ := newTestService(t)
	s.route = func(bus.MessageEnvelope) error { return broker.ErrDropped }

	var events []bus.Event
	s.msgBus.Subscribe("test", func(e bus.Event) { events = append(events, e) })

	s.enqueue(bus.MessageEnvelope{RoomID: "general", TraceID: "t9"})

	if len(events) != 1 || events[0].Name != "message.dropped" {
		t.Fatalf("events %v", events)
	}
}
