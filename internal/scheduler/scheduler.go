package scheduler

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked once per interval.
type TickFunc func(ctx context.Context, at time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval time.Duration
	// Jitter adds a random delay in [0, Jitter) to every wait.
	Jitter         time.Duration
	StartupDelay   time.Duration
	RunImmediately bool
}

// Scheduler is the single periodic driver of check cycles.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking tick after every wait until ctx is cancelled. Ticks
// never overlap: the next wait starts when the previous tick returns.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := sleep(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	if s.opts.RunImmediately {
		s.fire(ctx, tick)
	}

	for {
		delay := s.nextDelay()
		s.logger.Debug().Dur("delay", delay).Time("next_tick", time.Now().Add(delay)).Msg("waiting for next tick")

		if err := sleep(ctx, delay); err != nil {
			return err
		}
		s.fire(ctx, tick)
	}
}

func (s *Scheduler) fire(ctx context.Context, tick TickFunc) {
	if ctx.Err() != nil {
		return
	}
	at := time.Now().UTC()
	s.logger.Info().Time("at", at).Msg("executing scheduled tick")
	if err := tick(ctx, at); err != nil {
		s.logger.Error().Err(err).Time("at", at).Msg("tick execution failed")
	}
}

func (s *Scheduler) nextDelay() time.Duration {
	if s.opts.Jitter <= 0 {
		return s.opts.Interval
	}
	return s.opts.Interval + time.Duration(rand.Int64N(int64(s.opts.Jitter)))
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
