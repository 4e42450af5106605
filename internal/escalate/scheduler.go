// Package escalate polls the durable deadline table and routes expired
// deadlines into the engine. Deadlines survive restarts because they live in
// the database, not in process timers.
package escalate

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"guardpost/internal/engine"
)

const batchSize = 50

type Scheduler struct {
	Engine   engine.Engine
	Interval time.Duration
	Log      zerolog.Logger
}

// Run polls until the context is cancelled.
func (s Scheduler) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	s.Log.Info().Dur("interval", interval).Msg("escalation scheduler started")
	for {
		select {
		case <-ctx.Done():
			s.Log.Info().Msg("escalation scheduler stopped")
			return
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.Log.Error().Err(err).Msg("escalation tick failed")
			}
		}
	}
}

// Tick processes one batch of due timers. Exposed so tests can drive the
// scheduler without waiting on wall-clock time.
func (s Scheduler) Tick(ctx context.Context) error {
	now := s.now().UTC().Format(time.RFC3339)
	due, err := s.Engine.Repo.DueTimers(ctx, now, batchSize)
	if err != nil {
		return err
	}
	for _, timer := range due {
		if err := s.Engine.EscalateAuto(ctx, timer); err != nil {
			s.Log.Error().Err(err).Str("alert_id", timer.AlertID).
				Int64("timer_id", timer.ID).Msg("deadline escalation failed")
		}
	}
	return nil
}

func (s Scheduler) now() time.Time {
	if s.Engine.Now != nil {
		return s.Engine.Now()
	}
	return time.Now()
}
