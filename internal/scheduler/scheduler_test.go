package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsNonPositiveInterval(t *testing.T) {
	_, err := New(Options{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestNextCycleAligned(t *testing.T) {
	s, err := New(Options{Interval: 6 * time.Hour, AlignToInterval: true}, zerolog.Nop())
	require.NoError(t, err)

	now := time.Date(2026, 3, 2, 7, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC), s.nextCycle(now))

	onBoundary := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC), s.nextCycle(onBoundary))
}

func TestNextCycleUnaligned(t *testing.T) {
	s, err := New(Options{Interval: time.Hour}, zerolog.Nop())
	require.NoError(t, err)

	now := time.Date(2026, 3, 2, 7, 30, 0, 0, time.UTC)
	assert.Equal(t, now.Add(time.Hour), s.nextCycle(now))
	assert.Equal(t, now, s.cycleStart(now))
}

func TestRunOnStartAndCancel(t *testing.T) {
	s, err := New(Options{Interval: time.Hour, RunOnStart: true}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	err = s.Run(ctx, func(context.Context, time.Time) error {
		calls.Add(1)
		cancel()
		return errors.New("cycle errors are logged, not returned")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.EqualValues(t, 1, calls.Load())
}

func TestRunRepeats(t *testing.T) {
	s, err := New(Options{Interval: 5 * time.Millisecond}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var calls atomic.Int32
	err = s.Run(ctx, func(context.Context, time.Time) error {
		if calls.Add(1) == 3 {
			cancel()
		}
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.EqualValues(t, 3, calls.Load())
}
