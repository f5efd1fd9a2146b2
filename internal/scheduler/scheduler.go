package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// CycleFunc runs one refresh cycle. cycle is the scheduled start time.
type CycleFunc func(ctx context.Context, cycle time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval time.Duration
	// AlignToInterval starts cycles on multiples of Interval (UTC) instead of relative to startup.
	AlignToInterval bool
	StartupDelay    time.Duration
	// RunOnStart runs one cycle immediately after the startup delay.
	RunOnStart bool
}

// Scheduler drives periodic refresh cycles.
type Scheduler struct {
	opts   Options
	now    func() time.Time
	logger zerolog.Logger
}

// New constructs a Scheduler. A non-positive interval is a configuration error.
func New(opts Options, logger zerolog.Logger) (*Scheduler, error) {
	if opts.Interval <= 0 {
		return nil, errors.New("scheduler interval must be positive")
	}
	return &Scheduler{
		opts:   opts,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With().Str("component", "scheduler").Logger(),
	}, nil
}

// Run blocks, invoking fn every interval until ctx is cancelled. Cycle errors are
// logged and do not stop the loop.
func (s *Scheduler) Run(ctx context.Context, fn CycleFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := sleep(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	if s.opts.RunOnStart {
		s.execute(ctx, fn, s.now())
	}

	next := s.nextCycle(s.now())
	for {
		delay := next.Sub(s.now())
		if delay < 0 {
			next = s.nextCycle(s.now())
			delay = next.Sub(s.now())
		}

		s.logger.Debug().Time("next_cycle", next).Msg("waiting for next cycle")
		if err := sleep(ctx, delay); err != nil {
			return err
		}

		s.execute(ctx, fn, s.cycleStart(next))
		next = next.Add(s.opts.Interval)
	}
}

func (s *Scheduler) execute(ctx context.Context, fn CycleFunc, cycle time.Time) {
	s.logger.Info().Time("cycle", cycle).Msg("executing scheduled cycle")
	started := s.now()
	if err := fn(ctx, cycle); err != nil {
		s.logger.Error().Err(err).Time("cycle", cycle).Msg("cycle failed")
		return
	}
	s.logger.Debug().Time("cycle", cycle).Dur("took", s.now().Sub(started)).Msg("cycle finished")
}

func (s *Scheduler) nextCycle(now time.Time) time.Time {
	if !s.opts.AlignToInterval {
		return now.Add(s.opts.Interval)
	}
	next := now.Truncate(s.opts.Interval)
	if !next.After(now) {
		next = next.Add(s.opts.Interval)
	}
	return next
}

func (s *Scheduler) cycleStart(t time.Time) time.Time {
	if !s.opts.AlignToInterval {
		return t
	}
	return t.Truncate(s.opts.Interval)
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
