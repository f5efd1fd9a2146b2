package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"commodity-intel/internal/apperr"
)

const defaultPollInterval = 100 * time.Millisecond

// ErrTimeout is returned by Wait when no admission was granted in time.
var ErrTimeout = &apperr.Error{
	Kind: apperr.KindRateLimitTimeout,
	Op:   "ratelimit",
	Err:  errors.New("admission not granted before timeout"),
}

// Tier is one sliding window: at most MaxCalls admissions per Window.
type Tier struct {
	Name     string        `mapstructure:"name" json:"name"`
	MaxCalls int           `mapstructure:"max_calls" json:"max_calls"`
	Window   time.Duration `mapstructure:"window" json:"window"`
}

// DefaultTiers mirrors the external API's published limits.
func DefaultTiers() []Tier {
	return []Tier{
		{Name: "second", MaxCalls: 2, Window: time.Second},
		{Name: "minute", MaxCalls: 50, Window: time.Minute},
		{Name: "hour", MaxCalls: 1000, Window: time.Hour},
	}
}

// TierStats is a point-in-time view of one tier.
type TierStats struct {
	Name      string        `json:"name"`
	InWindow  int           `json:"in_window"`
	MaxCalls  int           `json:"max_calls"`
	Window    time.Duration `json:"window"`
	Remaining int           `json:"remaining"`
}

type tierState struct {
	Tier
	calls []time.Time
}

// purge drops admissions that left the window. Callers hold the limiter lock.
func (t *tierState) purge(now time.Time) {
	cutoff := now.Add(-t.Window)
	idx := 0
	for idx < len(t.calls) && t.calls[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		t.calls = append(t.calls[:0], t.calls[idx:]...)
	}
}

func (t *tierState) inWindow(now time.Time) int {
	cutoff := now.Add(-t.Window)
	count := 0
	for _, c := range t.calls {
		if !c.Before(cutoff) {
			count++
		}
	}
	return count
}

// Option customises a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithPollInterval overrides the upper bound on sleeps inside Wait.
func WithPollInterval(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.poll = d
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// Limiter admits a call only when every tier has capacity at the same instant.
type Limiter struct {
	name   string
	mu     sync.Mutex
	tiers  []*tierState
	now    func() time.Time
	poll   time.Duration
	logger zerolog.Logger
}

// New validates tiers and constructs a Limiter.
func New(name string, tiers []Tier, opts ...Option) (*Limiter, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("rate limiter %q: at least one tier is required", name)
	}
	l := &Limiter{
		name:   name,
		now:    time.Now,
		poll:   defaultPollInterval,
		logger: zerolog.Nop(),
	}
	for i, t := range tiers {
		if t.MaxCalls <= 0 {
			return nil, fmt.Errorf("rate limiter %q: tier %d max_calls must be positive", name, i)
		}
		if t.Window <= 0 {
			return nil, fmt.Errorf("rate limiter %q: tier %d window must be positive", name, i)
		}
		if t.Name == "" {
			t.Name = t.Window.String()
		}
		l.tiers = append(l.tiers, &tierState{Tier: t, calls: make([]time.Time, 0, t.MaxCalls)})
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With().Str("component", "ratelimit").Str("limiter", name).Logger()
	return l, nil
}

// Allow admits one call if every tier has room, recording it in all tiers.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for _, t := range l.tiers {
		t.purge(now)
	}
	for _, t := range l.tiers {
		if len(t.calls) >= t.MaxCalls {
			return false
		}
	}
	for _, t := range l.tiers {
		t.calls = append(t.calls, now)
	}
	return true
}

// Wait polls Allow until admitted. It returns ErrTimeout once timeout elapses
// and ctx.Err() if the context ends first.
func (l *Limiter) Wait(ctx context.Context, timeout time.Duration) error {
	deadline := l.now().Add(timeout)
	for {
		if l.Allow() {
			return nil
		}
		remaining := deadline.Sub(l.now())
		if remaining <= 0 {
			l.logger.Warn().Dur("timeout", timeout).Msg("rate limit admission timed out")
			return ErrTimeout
		}

		sleep := l.WaitTime()
		if sleep <= 0 || sleep > l.poll {
			sleep = l.poll
		}
		if sleep > remaining {
			sleep = remaining
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// WaitTime estimates how long until every tier has a free slot. It does not
// modify limiter state.
func (l *Limiter) WaitTime() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	var wait time.Duration
	for _, t := range l.tiers {
		cutoff := now.Add(-t.Window)
		active := make([]time.Time, 0, len(t.calls))
		for _, c := range t.calls {
			if !c.Before(cutoff) {
				active = append(active, c)
			}
		}
		if len(active) < t.MaxCalls {
			continue
		}
		// The slot opens once the oldest blocking admission leaves the window.
		oldest := active[len(active)-t.MaxCalls]
		if d := oldest.Add(t.Window).Sub(now); d > wait {
			wait = d
		}
	}
	return wait
}

// Stats reports the current occupancy per tier.
func (l *Limiter) Stats() []TierStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	out := make([]TierStats, 0, len(l.tiers))
	for _, t := range l.tiers {
		n := t.inWindow(now)
		out = append(out, TierStats{
			Name:      t.Name,
			InWindow:  n,
			MaxCalls:  t.MaxCalls,
			Window:    t.Window,
			Remaining: max(t.MaxCalls-n, 0),
		})
	}
	return out
}

// Reset forgets every recorded admission.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range l.tiers {
		t.calls = t.calls[:0]
	}
	l.logger.Info().Msg("rate limiter reset")
}

// Name returns the limiter's label.
func (l *Limiter) Name() string { return l.name }
