package service

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"commodity-intel/internal/alerting"
	"commodity-intel/internal/model"
	"commodity-intel/internal/scheduler"
	"commodity-intel/internal/stats"
	"commodity-intel/internal/storage"
)

// PriceHistory is the read side of the historical price store used by refresh cycles.
type PriceHistory interface {
	PriceSource
	LatestPriceDate(ctx context.Context) (time.Time, error)
}

// RefreshOptions configure scheduled refresh cycles.
type RefreshOptions struct {
	Timeframes     []model.Timeframe
	ZScore         stats.Params
	AlertsEnabled  bool
	AlertThreshold float64
	Channels       []string
	LockKey        int64
	ForceRefresh   bool
}

// CycleReport summarises one refresh cycle.
type CycleReport struct {
	RunID         string
	ReferenceDate time.Time
	ZScores       int
	Served        int
	Queried       int
	Skipped       int
	Unavailable   int
	Failed        int
	Alerts        int
}

// Refresher runs the orchestrator on a schedule and raises anomaly alerts.
type Refresher struct {
	orch     *Orchestrator
	prices   PriceHistory
	source   CommoditySource
	notifier alerting.Notifier
	locker   storage.AdvisoryLocker
	sched    *scheduler.Scheduler
	opts     RefreshOptions
	logger   zerolog.Logger
}

// NewRefresher wires a refresher. prices, notifier and sched may be nil; the
// advisory lock is used when prices also implements storage.AdvisoryLocker.
func NewRefresher(orch *Orchestrator, prices PriceHistory, source CommoditySource, notifier alerting.Notifier, sched *scheduler.Scheduler, opts RefreshOptions, logger zerolog.Logger) *Refresher {
	if len(opts.Timeframes) == 0 {
		opts.Timeframes = []model.Timeframe{model.TimeframeWeek}
	}

	var locker storage.AdvisoryLocker
	if l, ok := prices.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Refresher{
		orch:     orch,
		prices:   prices,
		source:   source,
		notifier: notifier,
		locker:   locker,
		sched:    sched,
		opts:     opts,
		logger:   logger.With().Str("component", "refresher").Logger(),
	}
}

// Run blocks, executing a cycle at every scheduler tick.
func (r *Refresher) Run(ctx context.Context) error {
	if r.sched == nil {
		return eris.New("scheduler not configured")
	}
	return r.sched.Run(ctx, func(ctx context.Context, cycle time.Time) error {
		_, err := r.RunCycle(ctx, cycle)
		return err
	})
}

// RunCycle executes one refresh unless another runner holds the advisory lock.
func (r *Refresher) RunCycle(ctx context.Context, cycle time.Time) (CycleReport, error) {
	unlock, proceed, err := r.acquireLock(ctx)
	if err != nil {
		return CycleReport{}, err
	}
	if !proceed {
		r.logger.Debug().Time("cycle", cycle).Msg("skip cycle because advisory lock held elsewhere")
		return CycleReport{}, nil
	}
	if unlock != nil {
		defer unlock()
	}
	return r.executeCycle(ctx, cycle)
}

func (r *Refresher) executeCycle(ctx context.Context, cycle time.Time) (CycleReport, error) {
	report := CycleReport{RunID: uuid.NewString(), ReferenceDate: model.DateOnly(cycle)}
	log := r.logger.With().Str("run_id", report.RunID).Logger()

	commodities, err := r.source.Commodities(ctx)
	if err != nil {
		return report, eris.Wrap(err, "load commodities")
	}

	var zscores []ZScoreEntry
	if r.prices != nil {
		latest, err := r.prices.LatestPriceDate(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("latest price date unavailable; using cycle date")
		} else if !latest.IsZero() {
			report.ReferenceDate = model.DateOnly(latest)
		}
		zscores = LatestZScores(ctx, r.prices, commodities, r.opts.ZScore, report.ReferenceDate, log)
	}
	report.ZScores = len(zscores)

	var zmap map[string]float64
	if r.prices != nil {
		zmap = make(map[string]float64, len(zscores))
		for _, z := range zscores {
			zmap[z.Commodity] = z.ZScore
		}
	}

	var primary []model.Result
	for i, tf := range r.opts.Timeframes {
		results, err := r.orch.QueryAll(ctx, Request{
			Timeframe:     tf,
			ReferenceDate: report.ReferenceDate,
			ZScores:       zmap,
			ForceRefresh:  r.opts.ForceRefresh,
		})
		if err != nil {
			return report, eris.Wrapf(err, "query %s", tf)
		}
		if i == 0 {
			primary = results
		}
		report.tally(results)
	}

	report.Alerts = r.alert(ctx, report, zscores, primary, log)

	log.Info().
		Time("reference_date", report.ReferenceDate).
		Int("zscores", report.ZScores).
		Int("served", report.Served).
		Int("queried", report.Queried).
		Int("skipped", report.Skipped).
		Int("unavailable", report.Unavailable).
		Int("failed", report.Failed).
		Int("alerts", report.Alerts).
		Msg("refresh cycle complete")
	return report, nil
}

func (c *CycleReport) tally(results []model.Result) {
	for _, res := range results {
		switch {
		case res.Skipped:
			c.Skipped++
		case res.Unavailable:
			c.Unavailable++
		case !res.Success:
			c.Failed++
		case res.CachedFromStore || res.FromCacheOnly:
			c.Served++
		default:
			c.Queried++
		}
	}
}

func (r *Refresher) alert(ctx context.Context, report CycleReport, zscores []ZScoreEntry, results []model.Result, log zerolog.Logger) int {
	if !r.opts.AlertsEnabled || r.notifier == nil || r.opts.AlertThreshold <= 0 {
		return 0
	}
	byName := make(map[string]model.Result, len(results))
	for _, res := range results {
		byName[res.Commodity] = res
	}

	sent := 0
	for _, z := range zscores {
		if math.Abs(z.ZScore) < r.opts.AlertThreshold {
			continue
		}
		note := alerting.Notification{
			RunID:     report.RunID,
			AsOf:      report.ReferenceDate,
			Commodity: z.Commodity,
			Ticker:    z.Ticker,
			Sector:    z.Sector,
			ZScore:    decimal.NewFromFloat(z.ZScore),
			Threshold: decimal.NewFromFloat(r.opts.AlertThreshold),
			Flag:      string(z.Flag),
			Frequency: string(z.Frequency),
			Channels:  r.opts.Channels,
		}
		if res, ok := byName[z.Commodity]; ok && res.Data != nil {
			note.Timeframe = string(res.Timeframe)
			note.Trend = string(res.Data.Trend)
			note.Price = res.Data.CurrentPrice
			note.Change = res.Data.PriceChange
			note.Outlook = res.Data.PriceOutlook
		}
		if err := r.notifier.Notify(ctx, note); err != nil {
			log.Error().Err(err).Str("commodity", z.Commodity).Msg("failed to dispatch alert")
			continue
		}
		sent++
	}
	return sent
}

func (r *Refresher) acquireLock(ctx context.Context) (func(), bool, error) {
	if r.opts.LockKey == 0 || r.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := r.locker.TryAdvisoryLock(ctx, r.opts.LockKey)
	if err != nil {
		return nil, false, eris.Wrap(err, "acquire advisory lock")
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
