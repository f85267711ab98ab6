package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// TickFunc is invoked on every interval.
type TickFunc func(ctx context.Context) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	StartupDelay time.Duration
}

// Scheduler drives the periodic reconciliation sweep. Tick errors are
// logged and the loop keeps going; only context cancellation stops it.
type Scheduler struct {
	opts Options
}

func New(opts Options) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{opts: opts}
}

// Run blocks, invoking the tick function at each interval until ctx is
// cancelled.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		started := time.Now()
		if err := tick(ctx); err != nil {
			log.Error().Err(err).Msg("scheduler: tick failed")
		} else {
			log.Info().Dur("elapsed", time.Since(started)).Msg("scheduler: tick completed")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
