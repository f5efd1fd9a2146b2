package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"commodity-intel/internal/alerting"
	"commodity-intel/internal/catalog"
	"commodity-intel/internal/config"
	"commodity-intel/internal/fetcher"
	"commodity-intel/internal/model"
	"commodity-intel/internal/ratelimit"
	"commodity-intel/internal/scheduler"
	"commodity-intel/internal/server"
	"commodity-intel/internal/service"
	"commodity-intel/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// runtime bundles the wired components a command needs. prices may be nil.
type runtime struct {
	prices  *storage.PriceStore
	store   *storage.ResultStore
	catalog *catalog.Catalog
	orch    *service.Orchestrator
	closers []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// priceHistory avoids handing a typed nil to interface consumers.
func (r *runtime) priceHistory() service.PriceHistory {
	if r.prices == nil {
		return nil
	}
	return r.prices
}

func (a *App) openPrices(ctx context.Context) (*storage.PriceStore, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	prices := storage.NewPriceStore(pool)
	return prices, prices.Close, nil
}

func (a *App) openResults(ctx context.Context) (*storage.ResultStore, func(), error) {
	backend, err := storage.OpenBackend(ctx, a.Config)
	if err != nil {
		return nil, nil, err
	}
	if backend == nil {
		a.Logger.Warn().Msg("result store disabled; analyses will not be persisted")
	}

	store := storage.NewResultStore(ctx, backend, storage.Options{
		TTL:           a.Config.CacheTTL(),
		NewsRetention: a.Config.Analysis.NewsRetention,
		BackfillDays:  a.Config.Analysis.HistoryBackfillDays,
	}, a.Logger)

	closer := func() {
		if backend == nil {
			return
		}
		if err := backend.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("closing result store failed")
		}
	}
	return store, closer, nil
}

func (a *App) loadSectors() *catalog.Sectors {
	path := a.Config.Catalog.SectorsPath
	if path == "" {
		return nil
	}
	sectors, err := catalog.LoadSectors(path)
	if err != nil {
		a.Logger.Warn().Err(err).Str("path", path).Msg("sector sources unavailable; prompts will carry no domain filter")
		return nil
	}
	return sectors
}

func (a *App) newAnalyst() (fetcher.Analyst, error) {
	cfg := a.Config.Perplexity
	return fetcher.NewPerplexity(fetcher.PerplexityOptions{
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     cfg.RequestTimeout,
		UserAgent:   cfg.UserAgent,
		Retry: fetcher.RetryConfig{
			MaxAttempts:    cfg.MaxAttempts,
			InitialBackoff: cfg.InitialBackoff,
		},
	}, a.Logger)
}

func (a *App) newLimiter() (*ratelimit.Limiter, error) {
	tiers := a.Config.Analysis.RateLimitTiers
	if len(tiers) == 0 {
		tiers = ratelimit.DefaultTiers()
	}
	return ratelimit.New("perplexity", tiers, ratelimit.WithLogger(a.Logger))
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled {
		return nil
	}
	notifiers := alerting.Multi{alerting.NewLogNotifier(a.Logger)}
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		notifiers = append(notifiers, alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger))
	}
	return notifiers
}

// newRuntime wires the price store, result store, catalog and orchestrator. An
// analyst is only built when requireAnalyst is set; read-only commands run without one.
func (a *App) newRuntime(ctx context.Context, requireAnalyst bool) (*runtime, error) {
	rt := &runtime{}

	prices, closePrices, err := a.openPrices(ctx)
	if err != nil {
		return nil, err
	}
	if prices == nil {
		return nil, errors.New("database.dsn not configured; the ticker reference is required")
	}
	rt.prices = prices
	rt.closers = append(rt.closers, closePrices)

	store, closeStore, err := a.openResults(ctx)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.store = store
	rt.closers = append(rt.closers, closeStore)

	rt.catalog = catalog.New(prices, a.loadSectors(), a.Config.Catalog.CacheTTL, a.Logger)

	var analyst fetcher.Analyst
	if requireAnalyst {
		p, err := a.newAnalyst()
		if err != nil {
			rt.Close()
			return nil, err
		}
		analyst = p
	}

	limiter, err := a.newLimiter()
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.orch, err = service.New(service.Options{
		Threshold:        a.Config.Analysis.ZScoreThreshold,
		BackfillDays:     a.Config.Analysis.HistoryBackfillDays,
		AdmissionTimeout: a.Config.Analysis.AdmissionTimeout,
		MinNews:          a.Config.Analysis.MinNewsItems,
		MaxNews:          a.Config.Analysis.MaxNewsItems,
	}, rt.catalog, store, analyst, limiter, a.Logger)
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (a *App) timeframes() ([]model.Timeframe, error) {
	var out []model.Timeframe
	for _, raw := range a.Config.Timeframes() {
		tf, err := storage.SanitizeTimeframe(model.Timeframe(raw))
		if err != nil {
			return nil, eris.Wrapf(err, "analysis.timeframes")
		}
		out = append(out, tf)
	}
	return out, nil
}

// Run executes the long-running refresh service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	timeframes, err := a.timeframes()
	if err != nil {
		return err
	}

	rt, err := a.newRuntime(ctx, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	sched, err := scheduler.New(scheduler.Options{
		Interval:        a.Config.Scheduler.Interval,
		AlignToInterval: a.Config.Scheduler.AlignToBucket,
		StartupDelay:    a.Config.Scheduler.StartupDelay,
		RunOnStart:      a.Config.Scheduler.RunOnStart,
	}, a.Logger)
	if err != nil {
		return err
	}

	refresher := service.NewRefresher(rt.orch, rt.priceHistory(), rt.catalog, a.newNotifier(), sched, service.RefreshOptions{
		Timeframes:     timeframes,
		ZScore:         a.Config.ZScore,
		AlertsEnabled:  a.Config.Alerting.Enabled,
		AlertThreshold: a.Config.Alerting.ZScoreThreshold,
		Channels:       a.Config.Alerting.Channels,
		LockKey:        a.Config.Scheduler.AdvisoryLockKey,
		ForceRefresh:   a.Config.Scheduler.ForceRefresh,
	}, a.Logger)

	a.Logger.Info().Strs("timeframes", a.Config.Timeframes()).Msg("starting refresh service")
	err = refresher.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("refresh service terminated with error")
		return err
	}

	a.Logger.Info().Msg("refresh service stopped")
	return nil
}

// Serve runs the JSON API until interrupted.
func (a *App) Serve(ctx context.Context, addr string) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := a.newRuntime(ctx, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	if addr == "" {
		addr = a.Config.Server.Addr
	}
	srv := server.New(server.Options{
		Addr:         addr,
		Mode:         a.Config.Server.Mode,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		ZScore:       a.Config.ZScore,
	}, rt.orch, rt.catalog, rt.priceHistory(), a.Logger)
	return srv.Run(ctx)
}

// QueryOptions configure the query command.
type QueryOptions struct {
	Commodities []string
	Timeframe   string
	Force       bool
	NoGate      bool
	JSON        bool
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Commodity string
	Timeframe string
	News      bool
}

// ZScoreOptions configure the zscores command.
type ZScoreOptions struct {
	AsOf *time.Time
	JSON bool
}

// ExportOptions hold parameters for exporting a price and z-score history.
type ExportOptions struct {
	Commodity string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}
