package service

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commodity-intel/internal/alerting"
	"commodity-intel/internal/model"
	"commodity-intel/internal/storage"
)

type recordingNotifier struct {
	notes []alerting.Notification
	err   error
}

func (r *recordingNotifier) Notify(_ context.Context, n alerting.Notification) error {
	r.notes = append(r.notes, n)
	return r.err
}

type lockingPrices struct {
	*fakePrices
	acquired bool
	err      error
	locked   int
	unlocked int
}

func (l *lockingPrices) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	if l.err != nil {
		return nil, false, l.err
	}
	if !l.acquired {
		return nil, false, nil
	}
	l.locked++
	return func() { l.unlocked++ }, true, nil
}

var _ storage.AdvisoryLocker = (*lockingPrices)(nil)

func refreshPrices() *fakePrices {
	latest := testRef.AddDate(0, 0, -1)
	return &fakePrices{
		latest: latest,
		series: map[string][]model.PriceObservation{
			"IO62": choppySeries("IO62", latest, 40, 0),
			"HCC":  choppySeries("HCC", latest, 40, 0.2),
		},
	}
}

func refreshOptions() RefreshOptions {
	return RefreshOptions{
		ZScore:         testParams,
		AlertsEnabled:  true,
		AlertThreshold: 2.5,
		Channels:       []string{"telegram"},
	}
}

func TestRunCycleGatesAndAlerts(t *testing.T) {
	f := newFixture(t)
	prices := refreshPrices()
	notifier := &recordingNotifier{}
	r := NewRefresher(f.orch, prices, testCommodities(), notifier, nil, refreshOptions(), zerolog.Nop())

	report, err := r.RunCycle(context.Background(), testNow)
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, prices.latest, report.ReferenceDate)
	assert.Equal(t, 2, report.ZScores)
	assert.Equal(t, 2, report.Queried)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 1, report.Alerts)
	assert.ElementsMatch(t, []string{"Coking Coal", "Steel Rebar"}, f.analyst.Calls())

	require.Len(t, notifier.notes, 1)
	note := notifier.notes[0]
	assert.Equal(t, report.RunID, note.RunID)
	assert.Equal(t, "Coking Coal", note.Commodity)
	assert.Equal(t, "up", note.Direction())
	assert.Equal(t, "bullish", note.Trend)
	assert.Equal(t, "USD 120/ton", note.Price)
	assert.Equal(t, string(model.TimeframeWeek), note.Timeframe)
	assert.Equal(t, []string{"telegram"}, note.Channels)

	entry, ok := f.orch.CacheSnapshot(model.TimeframeWeek)
	require.True(t, ok)
	assert.True(t, entry.IsValid(prices.latest))
}

func TestRunCycleWithoutPricesQueriesEverything(t *testing.T) {
	f := newFixture(t)
	notifier := &recordingNotifier{}
	opts := refreshOptions()
	opts.Timeframes = []model.Timeframe{model.TimeframeWeek, model.TimeframeMonth}
	r := NewRefresher(f.orch, nil, testCommodities(), notifier, nil, opts, zerolog.Nop())

	report, err := r.RunCycle(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, testRef, report.ReferenceDate)
	assert.Equal(t, 3, report.Queried)
	assert.Equal(t, 3, report.Served, "second timeframe is backfilled from the intelligence just saved")
	assert.Zero(t, report.Alerts)
	assert.Empty(t, notifier.notes)
}

func TestRunCycleNotifierFailureIsNotCounted(t *testing.T) {
	f := newFixture(t)
	notifier := &recordingNotifier{err: errors.New("telegram down")}
	r := NewRefresher(f.orch, refreshPrices(), testCommodities(), notifier, nil, refreshOptions(), zerolog.Nop())

	report, err := r.RunCycle(context.Background(), testNow)
	require.NoError(t, err)
	assert.Len(t, notifier.notes, 1)
	assert.Zero(t, report.Alerts)
}

func TestRunCycleAdvisoryLock(t *testing.T) {
	t.Run("held elsewhere", func(t *testing.T) {
		f := newFixture(t)
		prices := &lockingPrices{fakePrices: refreshPrices()}
		opts := refreshOptions()
		opts.LockKey = 42
		r := NewRefresher(f.orch, prices, testCommodities(), nil, nil, opts, zerolog.Nop())

		report, err := r.RunCycle(context.Background(), testNow)
		require.NoError(t, err)
		assert.Empty(t, report.RunID)
		assert.Empty(t, f.analyst.Calls())
	})

	t.Run("acquired", func(t *testing.T) {
		f := newFixture(t)
		prices := &lockingPrices{fakePrices: refreshPrices(), acquired: true}
		opts := refreshOptions()
		opts.LockKey = 42
		r := NewRefresher(f.orch, prices, testCommodities(), nil, nil, opts, zerolog.Nop())

		report, err := r.RunCycle(context.Background(), testNow)
		require.NoError(t, err)
		assert.NotEmpty(t, report.RunID)
		assert.Equal(t, 1, prices.locked)
		assert.Equal(t, 1, prices.unlocked)
	})

	t.Run("lock error", func(t *testing.T) {
		f := newFixture(t)
		reset := errors.New("connection reset")
		prices := &lockingPrices{fakePrices: refreshPrices(), err: reset}
		opts := refreshOptions()
		opts.LockKey = 42
		r := NewRefresher(f.orch, prices, testCommodities(), nil, nil, opts, zerolog.Nop())

		_, err := r.RunCycle(context.Background(), testNow)
		require.Error(t, err)
		assert.ErrorIs(t, err, reset)
		assert.Contains(t, err.Error(), "acquire advisory lock")
	})
}

func TestRunRequiresScheduler(t *testing.T) {
	f := newFixture(t)
	r := NewRefresher(f.orch, nil, testCommodities(), nil, nil, refreshOptions(), zerolog.Nop())
	assert.Error(t, r.Run(context.Background()))
}
