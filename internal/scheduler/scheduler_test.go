package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/nextlevelbuilder/nanoroom/internal/bus"
	"github.com/nextlevelbuilder/nanoroom/internal/config"
)

func TestNewSkipsInvalidCron(t *testing.T) {
	var got []bus.MessageEnvelope
	s := New([]config.ReminderSpec{
		{Room: "general", Schedule: "* * * * *", Message: "standup"},
		{Room: "general", Schedule: "not a cron", Message: "never"},
		{Room: "ops", Schedule: "0 9 * * 1-5", Message: "daily review"},
	}, func(env bus.MessageEnvelope) error {
		got = append(got, env)
		return nil
	})
	if s.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", s.Count())
	}
}

func TestFireDuePublishesSystemEnvelope(t *testing.T) {
	var got []bus.MessageEnvelope
	s := New([]config.ReminderSpec{
		{Room: "general", Schedule: "* * * * *", Message: "standup time"},
	}, func(env bus.MessageEnvelope) error {
		got = append(got, env)
		return nil
	})

	s.fireDue(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	if len(got) != 1 {
		t.Fatalf("published %d envelopes, want 1", len(got))
	}
	env := got[0]
	if env.RoomID != "general" || env.Content != "standup time" {
		t.Fatalf("envelope %+v", env)
	}
	if env.SenderRole != bus.RoleSystem {
		t.Fatalf("sender role %q, want system", env.SenderRole)
	}
	if env.Direction != bus.DirectionInbound {
		t.Fatalf("direction %q, want inbound", env.Direction)
	}
	if env.Channel != "system" {
		t.Fatalf("channel %q, want system", env.Channel)
	}
	if env.TraceID == "" {
		t.Fatal("missing trace id")
	}
}

func TestFireDueSkipsNotDue(t *testing.T) {
	var got []bus.MessageEnvelope
	s := New([]config.ReminderSpec{
		{Room: "ops", Schedule: "30 14 * * *", Message: "afternoon check"},
	}, func(env bus.MessageEnvelope) error {
		got = append(got, env)
		return nil
	})

	s.fireDue(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	if len(got) != 0 {
		t.Fatalf("published %d envelopes, want 0", len(got))
	}
	s.fireDue(time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC))
	if len(got) != 1 {
		t.Fatalf("published %d envelopes, want 1", len(got))
	}
}

func TestFireDuePublishFailureDoesNotStopOthers(t *testing.T) {
	var delivered []string
	s := New([]config.ReminderSpec{
		{Room: "broken", Schedule: "* * * * *", Message: "a"},
		{Room: "general", Schedule: "* * * * *", Message: "b"},
	}, func(env bus.MessageEnvelope) error {
		if env.RoomID == "broken" {
			return errors.New("room gone")
		}
		delivered = append(delivered, env.RoomID)
		return nil
	})

	s.fireDue(time.Now())
	if len(delivered) != 1 || delivered[0] != "general" {
		t.Fatalf("delivered %v", delivered)
	}
}
