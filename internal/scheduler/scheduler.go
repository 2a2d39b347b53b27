// Package scheduler posts cron-scheduled reminder messages into rooms.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/nanoroom/internal/bus"
	"github.com/nextlevelbuilder/nanoroom/internal/config"
)

// PublishFunc routes one system envelope, normally Manager.Route on the
// broker manager.
type PublishFunc func(env bus.MessageEnvelope) error

// Scheduler evaluates reminder cron expressions once per minute.
type Scheduler struct {
	reminders []config.ReminderSpec
	publish   PublishFunc
	cron      *gronx.Gronx
	interval  time.Duration
}

func New(reminders []config.ReminderSpec, publish PublishFunc) *Scheduler {
	s := &Scheduler{
		publish:  publish,
		cron:     gronx.New(),
		interval: time.Minute,
	}
	for _, r := range reminders {
		if !s.cron.IsValid(r.Schedule) {
			slog.Warn("scheduler: invalid cron expression, skipping reminder",
				"component", "scheduler", "room", r.Room, "schedule", r.Schedule)
			continue
		}
		s.reminders = append(s.reminders, r)
	}
	return s
}

// Count returns how many valid reminders are registered.
func (s *Scheduler) Count() int { return len(s.reminders) }

// Run blocks until ctx is cancelled. Each minute tick fires every
// reminder whose expression is due at that instant.
func (s *Scheduler) Run(ctx context.Context) {
	if len(s.reminders) == 0 {
		return
	}
	slog.Info("scheduler: started", "component", "scheduler", "reminders", len(s.reminders))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.fireDue(now)
		}
	}
}

func (s *Scheduler) fireDue(now time.Time) {
	for _, r := range s.reminders {
		due, err := s.cron.IsDue(r.Schedule, now)
		if err != nil || !due {
			continue
		}
		env := bus.MessageEnvelope{
			Channel:    "system",
			ChatID:     r.Room,
			RoomID:     r.Room,
			Content:    r.Message,
			Direction:  bus.DirectionInbound,
			SenderRole: bus.RoleSystem,
			Timestamp:  now.UTC(),
		}
		env.EnsureTraceID()
		if err := s.publish(env); err != nil {
			slog.Warn("scheduler: reminder publish failed",
				"component", "scheduler", "room", r.Room, "error", err)
			continue
		}
		slog.Info("scheduler: reminder fired", "component", "scheduler", "room", r.Room)
	}
}
