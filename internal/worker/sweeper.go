// Package worker runs background maintenance for in-memory conversation state.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule is the sweep schedule when none is configured.
const DefaultSchedule = "@every 5m"

// Evictor drops states that were idle longer than ttl and reports their keys.
type Evictor interface {
	EvictIdle(ttl time.Duration) []string
}

// EvictCallback is called for every state a sweep removed.
type EvictCallback func(userKey string)

// StateSweeper periodically evicts idle conversation states. An evicted
// state is reloaded from the store on the user's next request.
type StateSweeper struct {
	states   Evictor
	ttl      time.Duration
	schedule string
	onEvict  EvictCallback
	cron     *cron.Cron
}

// NewStateSweeper creates a sweeper. An empty schedule uses DefaultSchedule.
func NewStateSweeper(states Evictor, ttl time.Duration, schedule string, onEvict EvictCallback) *StateSweeper {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &StateSweeper{
		states:   states,
		ttl:      ttl,
		schedule: schedule,
		onEvict:  onEvict,
		cron:     cron.New(),
	}
}

// Start schedules the sweep and stops it when ctx is done.
func (s *StateSweeper) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.schedule, func() { s.Sweep() }); err != nil {
		return fmt.Errorf("schedule state sweep %q: %w", s.schedule, err)
	}
	s.cron.Start()
	slog.Info("State sweeper started", "schedule", s.schedule, "ttl", s.ttl)

	go func() {
		<-ctx.Done()
		<-s.cron.Stop().Done()
		slog.Info("State sweeper shutting down", "reason", ctx.Err())
	}()
	return nil
}

// Sweep evicts idle states once and returns the affected user keys.
func (s *StateSweeper) Sweep() []string {
	evicted := s.states.EvictIdle(s.ttl)
	if len(evicted) == 0 {
		return nil
	}
	for _, userKey := range evicted {
		slog.Debug("State sweeper evicted idle state", "user_key", userKey)
		if s.onEvict != nil {
			s.onEvict(userKey)
		}
	}
	slog.Info("State sweep completed", "evicted", len(evicted))
	return evicted
}
