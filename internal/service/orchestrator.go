package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"commodity-intel/internal/apperr"
	"commodity-intel/internal/fetcher"
	"commodity-intel/internal/model"
	"commodity-intel/internal/normalize"
	"commodity-intel/internal/ratelimit"
	"commodity-intel/internal/storage"
)

// CommoditySource lists the tracked commodities.
type CommoditySource interface {
	Commodities(ctx context.Context) ([]model.Commodity, error)
}

// Options tune the orchestrator's gating and hydration policy.
type Options struct {
	Threshold        float64
	BackfillDays     int
	AdmissionTimeout time.Duration
	MinNews          int
	MaxNews          int
	Now              func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Threshold <= 0 {
		o.Threshold = 2.0
	}
	if o.BackfillDays <= 0 {
		o.BackfillDays = 7
	}
	if o.AdmissionTimeout <= 0 {
		o.AdmissionTimeout = 30 * time.Second
	}
	if o.MinNews <= 0 {
		o.MinNews = 3
	}
	if o.MaxNews <= 0 {
		o.MaxNews = 6
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Request describes one batch query.
type Request struct {
	// Commodities filters the batch by name or ticker. Empty means the full set.
	Commodities []string
	Timeframe   model.Timeframe
	// ReferenceDate keys the memory cache and persisted records. Zero means today.
	ReferenceDate time.Time
	// ZScores maps commodity name to its latest z-score. A missing entry means unknown.
	ZScores      map[string]float64
	ForceRefresh bool
}

// Orchestrator decides per commodity whether to serve cached analyses or query the analyst.
type Orchestrator struct {
	opts    Options
	source  CommoditySource
	store   *storage.ResultStore
	analyst fetcher.Analyst
	limiter *ratelimit.Limiter
	cache   *DailyCache
	logger  zerolog.Logger
}

// New wires an orchestrator. store and analyst may be nil; source and limiter are required.
func New(opts Options, source CommoditySource, store *storage.ResultStore, analyst fetcher.Analyst, limiter *ratelimit.Limiter, logger zerolog.Logger) (*Orchestrator, error) {
	if source == nil {
		return nil, eris.New("commodity source is required")
	}
	if limiter == nil {
		return nil, eris.New("rate limiter is required")
	}
	return &Orchestrator{
		opts:    opts.withDefaults(),
		source:  source,
		store:   store,
		analyst: analyst,
		limiter: limiter,
		cache:   NewDailyCache(),
		logger:  logger.With().Str("component", "orchestrator").Logger(),
	}, nil
}

// slot tracks one requested commodity through the decision chain.
type slot struct {
	name      string
	commodity model.Commodity
	known     bool
	z         *float64
	result    *model.Result
}

// QueryAll returns exactly one result per requested commodity, in request order
// (catalog order for the full set).
func (o *Orchestrator) QueryAll(ctx context.Context, req Request) ([]model.Result, error) {
	tf, err := storage.SanitizeTimeframe(req.Timeframe)
	if err != nil {
		return nil, err
	}
	for _, name := range req.Commodities {
		if _, err := storage.SanitizeCommodity(name); err != nil {
			return nil, err
		}
	}

	all, err := o.source.Commodities(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "load commodities")
	}

	ref := o.referenceDate(req.ReferenceDate)
	filtered := len(req.Commodities) > 0
	slots := o.resolve(all, req.Commodities, req.ZScores)

	log := o.logger.With().Str("timeframe", string(tf)).Str("reference_date", ref.Format(model.DateLayout)).Logger()

	if !req.ForceRefresh {
		if cached, ok := o.cache.Get(tf, ref); ok {
			if results, ok := fromCache(cached, slots, tf, o.opts.Now()); ok {
				log.Debug().Int("count", len(results)).Msg("serving from memory cache")
				return results, nil
			}
		}
	}

	news := o.hydrate(ctx, slots, tf, ref)
	candidates := o.gate(slots, tf, req.ForceRefresh)
	o.external(ctx, slots, candidates, tf, ref, log)

	results := make([]model.Result, len(slots))
	for i := range slots {
		results[i] = *slots[i].result
		if results[i].Success && results[i].Data != nil {
			o.enrich(results[i].Data, news[slots[i].commodity.Name], ref)
		}
	}

	if !filtered {
		o.cache.Store(tf, ref, results)
	}

	log.Info().
		Int("requested", len(slots)).
		Int("queried", len(candidates)).
		Bool("force_refresh", req.ForceRefresh).
		Msg("batch query complete")
	return results, nil
}

// SingleRequest describes a one-commodity query. A zero ReferenceDate means today.
type SingleRequest struct {
	Commodity     string
	Timeframe     model.Timeframe
	ReferenceDate time.Time
	ZScore        *float64
	ForceRefresh  bool
}

// QuerySingle runs the store, gate, query chain for one commodity without touching the memory cache.
// Fresh results are persisted under the reference date, the same key QueryAll hydrates from.
func (o *Orchestrator) QuerySingle(ctx context.Context, req SingleRequest) (model.Result, error) {
	tf, err := storage.SanitizeTimeframe(req.Timeframe)
	if err != nil {
		return model.Result{}, err
	}
	name := req.Commodity
	if _, err := storage.SanitizeCommodity(name); err != nil {
		return model.Result{}, err
	}

	all, err := o.source.Commodities(ctx)
	if err != nil {
		return model.Result{}, eris.Wrap(err, "load commodities")
	}
	now := o.opts.Now()
	s := o.lookup(all, name)
	if !s.known {
		return notFound(name, tf, now), nil
	}
	s.z = req.ZScore
	ref := o.referenceDate(req.ReferenceDate)

	if !req.ForceRefresh {
		rec, err := o.store.GetRecentResult(ctx, s.commodity.Name, tf)
		if err != nil {
			o.logger.Warn().Err(err).Str("commodity", s.commodity.Name).Msg("store lookup failed")
		}
		if rec != nil {
			res := storedResult(rec, s.z, o.opts.Threshold)
			return res, nil
		}
	}

	if s.z != nil && math.Abs(*s.z) <= o.opts.Threshold {
		return skipped(s.commodity, tf, *s.z, o.opts.Threshold, now), nil
	}

	if !o.store.HasWriteAccess() {
		o.logger.Warn().Str("commodity", s.commodity.Name).Msg("result store not writable; external query not attempted")
		return unavailable(s.commodity, tf, now), nil
	}

	res := o.fetch(ctx, s.commodity, tf, ref, s.z)
	if res.Success && res.Data != nil && res.Data.NewsCount() < o.opts.MinNews {
		news, err := o.store.GetWeeklyNews(ctx, s.commodity.Name, o.opts.BackfillDays)
		if err != nil {
			o.logger.Warn().Err(err).Str("commodity", s.commodity.Name).Msg("loading weekly news failed")
		}
		o.enrich(res.Data, news, ref)
	}
	return res, nil
}

// Categories returns the sorted unique sectors of the tracked commodities.
func (o *Orchestrator) Categories(ctx context.Context) ([]string, error) {
	all, err := o.source.Commodities(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "load commodities")
	}
	seen := make(map[string]struct{}, len(all))
	out := make([]string, 0, len(all))
	for _, c := range all {
		if c.Sector == "" {
			continue
		}
		if _, ok := seen[c.Sector]; ok {
			continue
		}
		seen[c.Sector] = struct{}{}
		out = append(out, c.Sector)
	}
	sort.Strings(out)
	return out, nil
}

// CacheSnapshot exposes the memory cache entry for timeframe.
func (o *Orchestrator) CacheSnapshot(timeframe model.Timeframe) (CacheEntry, bool) {
	return o.cache.Snapshot(timeframe)
}

// InvalidateCache drops the memory cache.
func (o *Orchestrator) InvalidateCache() {
	o.cache.Clear()
}

// Limiter returns the shared admission controller.
func (o *Orchestrator) Limiter() *ratelimit.Limiter { return o.limiter }

// Store returns the result store adapter, which may be nil.
func (o *Orchestrator) Store() *storage.ResultStore { return o.store }

func (o *Orchestrator) referenceDate(t time.Time) time.Time {
	if t.IsZero() {
		t = o.opts.Now()
	}
	return model.DateOnly(t)
}

func (o *Orchestrator) resolve(all []model.Commodity, requested []string, zscores map[string]float64) []slot {
	if len(requested) == 0 {
		slots := make([]slot, 0, len(all))
		for _, c := range all {
			slots = append(slots, slot{name: c.Name, commodity: c, known: true, z: zscoreFor(zscores, c)})
		}
		return slots
	}

	seen := make(map[string]struct{}, len(requested))
	slots := make([]slot, 0, len(requested))
	for _, name := range requested {
		s := o.lookup(all, name)
		key := s.name
		if s.known {
			key = s.commodity.Name
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if s.known {
			s.z = zscoreFor(zscores, s.commodity)
		}
		slots = append(slots, s)
	}
	return slots
}

func (o *Orchestrator) lookup(all []model.Commodity, name string) slot {
	for _, c := range all {
		if c.Name == name || (c.Ticker != "" && c.Ticker == name) {
			return slot{name: c.Name, commodity: c, known: true}
		}
	}
	return slot{name: name}
}

func zscoreFor(zscores map[string]float64, c model.Commodity) *float64 {
	if zscores == nil {
		return nil
	}
	if z, ok := zscores[c.Name]; ok {
		return &z
	}
	if z, ok := zscores[c.Ticker]; ok && c.Ticker != "" {
		return &z
	}
	return nil
}

// fromCache picks the cached result of every slot. A known commodity missing from
// the cached set counts as a miss.
func fromCache(cached []model.Result, slots []slot, tf model.Timeframe, now time.Time) ([]model.Result, bool) {
	byName := make(map[string]model.Result, len(cached))
	for _, r := range cached {
		byName[r.Commodity] = r
	}
	out := make([]model.Result, 0, len(slots))
	for _, s := range slots {
		if !s.known {
			out = append(out, notFound(s.name, tf, now))
			continue
		}
		r, ok := byName[s.commodity.Name]
		if !ok {
			return nil, false
		}
		out = append(out, r)
	}
	return out, true
}

// hydrate fills slots from the result store and returns the batch-loaded weekly news.
func (o *Orchestrator) hydrate(ctx context.Context, slots []slot, tf model.Timeframe, ref time.Time) map[string][]model.StoredNews {
	now := o.opts.Now()
	for i := range slots {
		if !slots[i].known {
			r := notFound(slots[i].name, tf, now)
			slots[i].result = &r
		}
	}
	if !o.store.HasReadAccess() {
		return nil
	}

	names := make([]string, 0, len(slots))
	for _, s := range slots {
		if s.known {
			names = append(names, s.commodity.Name)
		}
	}
	news, err := o.store.GetAllWeeklyNewsBatch(ctx, names, o.opts.BackfillDays)
	if err != nil {
		o.logger.Warn().Err(err).Msg("batch news load failed")
		news = nil
	}

	for i := range slots {
		s := &slots[i]
		if !s.known {
			continue
		}
		name := s.commodity.Name

		rec, err := o.store.GetCachedResultByDate(ctx, name, tf, ref)
		if err != nil {
			o.logger.Warn().Err(err).Str("commodity", name).Msg("cached result lookup failed")
		}
		if rec != nil {
			r := storedResult(rec, s.z, o.opts.Threshold)
			s.result = &r
			continue
		}

		intel, err := o.store.GetHistoricalMarketIntelligence(ctx, name, o.opts.BackfillDays)
		if err != nil {
			o.logger.Warn().Err(err).Str("commodity", name).Msg("historical intelligence lookup failed")
		}
		items := news[name]
		if intel == nil && len(items) == 0 {
			continue
		}
		r := backfill(s.commodity, tf, ref, items, intel, o.opts.MaxNews, now)
		applyZScore(r.Data, s.z, o.opts.Threshold)
		s.result = &r
	}
	return news
}

// gate returns the indexes of slots that need an external query. Slots below the
// z-score threshold without data are marked skipped.
func (o *Orchestrator) gate(slots []slot, tf model.Timeframe, force bool) []int {
	now := o.opts.Now()
	var candidates []int
	for i := range slots {
		s := &slots[i]
		if !s.known {
			continue
		}
		if s.result != nil && !force {
			continue
		}
		if s.z != nil && math.Abs(*s.z) <= o.opts.Threshold {
			if s.result == nil {
				r := skipped(s.commodity, tf, *s.z, o.opts.Threshold, now)
				s.result = &r
			}
			o.logger.Debug().Str("commodity", s.commodity.Name).Float64("zscore", *s.z).Msg("z-score within threshold; not querying")
			continue
		}
		candidates = append(candidates, i)
	}
	return candidates
}

func (o *Orchestrator) external(ctx context.Context, slots []slot, candidates []int, tf model.Timeframe, ref time.Time, log zerolog.Logger) {
	if len(candidates) == 0 {
		return
	}
	now := o.opts.Now()
	if !o.store.HasWriteAccess() {
		log.Warn().Int("candidates", len(candidates)).Msg("result store not writable; skipping external queries")
		for _, i := range candidates {
			if slots[i].result == nil {
				r := unavailable(slots[i].commodity, tf, now)
				slots[i].result = &r
			}
		}
		return
	}

	for _, i := range candidates {
		s := &slots[i]
		res := o.fetch(ctx, s.commodity, tf, ref, s.z)
		if !res.Success && s.result != nil {
			log.Warn().Str("commodity", s.commodity.Name).Str("error", res.Error).Msg("refresh failed; keeping stored result")
			continue
		}
		s.result = &res
	}
}

// fetch admits, queries, normalizes and persists one analysis.
func (o *Orchestrator) fetch(ctx context.Context, c model.Commodity, tf model.Timeframe, ref time.Time, z *float64) model.Result {
	log := o.logger.With().Str("commodity", c.Name).Logger()

	if err := o.limiter.Wait(ctx, o.opts.AdmissionTimeout); err != nil {
		log.Warn().Err(err).Msg("rate limiter admission failed")
		return failure(c, tf, err, o.opts.Now())
	}
	if o.analyst == nil {
		return failure(c, tf, apperr.New(apperr.KindExternalService, "query", "no analyst configured"), o.opts.Now())
	}

	resp, err := o.analyst.Query(ctx, fetcher.PromptContext{
		Commodity: c.Name,
		Ticker:    c.Ticker,
		Sector:    c.Sector,
		Timeframe: tf,
		Sources:   c.Sources,
	})
	if err != nil {
		log.Error().Err(err).Msg("external query failed")
		return failure(c, tf, apperr.Wrap(apperr.KindExternalService, "query", err), o.opts.Now())
	}

	analysis, perr := normalize.Normalize(resp.Content, resp.Citations)
	if perr != nil {
		log.Warn().Err(perr).Msg("response parsed heuristically")
	}
	if analysis.Commodity == "" {
		analysis.Commodity = c.Name
	}
	applyZScore(&analysis, z, o.opts.Threshold)

	res := model.Result{
		Success:   true,
		Commodity: c.Name,
		Ticker:    c.Ticker,
		Sector:    c.Sector,
		Timeframe: tf,
		Data:      &analysis,
		CacheDate: ref.Format(model.DateLayout),
		Timestamp: o.opts.Now().UTC(),
	}

	if err := o.store.SaveQueryResult(ctx, c.Name, tf, ref, res); err != nil {
		log.Warn().Err(err).Msg("persisting result failed; returning unsaved result")
	} else {
		log.Info().Str("trend", string(analysis.Trend)).Msg("analysis saved")
	}
	return res
}

// enrich tops up thin news lists with stored news older than ref.
func (o *Orchestrator) enrich(data *model.Analysis, stored []model.StoredNews, ref time.Time) {
	if data.NewsCount() >= o.opts.MinNews || len(stored) == 0 {
		return
	}
	kept := make([]string, 0, len(data.MarketNews)+len(stored))
	for _, n := range data.MarketNews {
		if h := strings.TrimSpace(n.Headline); h != "" {
			kept = append(kept, h)
		}
	}

	var added []model.NewsItem
	for _, n := range stored {
		if len(data.MarketNews) >= o.opts.MaxNews {
			break
		}
		if !model.DateOnly(n.NewsDate).Before(ref) {
			continue
		}
		headline := strings.TrimSpace(n.Headline)
		if headline == "" || normalize.IsDuplicate(headline, kept, normalize.DefaultSimilarity) {
			continue
		}
		kept = append(kept, headline)
		item := storedNewsItem(n)
		data.MarketNews = append(data.MarketNews, item)
		added = append(added, item)
	}
	if len(added) > 0 {
		data.RecentNews = append(data.RecentNews, normalize.RecentNews(added)...)
	}
}

func applyZScore(data *model.Analysis, z *float64, threshold float64) {
	if data == nil || z == nil {
		return
	}
	v := *z
	data.ZScore = &v
	data.BelowThreshold = math.Abs(v) <= threshold
}

func storedResult(rec *model.QueryRecord, z *float64, threshold float64) model.Result {
	r := rec.Result.Clone()
	r.CachedFromStore = true
	r.FromCacheOnly = false
	if r.CacheDate == "" {
		r.CacheDate = rec.QueryDate.Format(model.DateLayout)
	}
	applyZScore(r.Data, z, threshold)
	return r
}

func notFound(name string, tf model.Timeframe, now time.Time) model.Result {
	return model.Result{
		Commodity: name,
		Timeframe: tf,
		Error:     fmt.Sprintf("commodity %q not found", name),
		ErrorKind: apperr.KindValidation.String(),
		Timestamp: now.UTC(),
	}
}

func skipped(c model.Commodity, tf model.Timeframe, z, threshold float64, now time.Time) model.Result {
	zv := z
	return model.Result{
		Commodity: c.Name,
		Ticker:    c.Ticker,
		Sector:    c.Sector,
		Timeframe: tf,
		Skipped:   true,
		Reason:    fmt.Sprintf("z-score %.2f within threshold %.2f", z, threshold),
		Data:      &model.Analysis{Trend: model.TrendUnknown, ZScore: &zv, BelowThreshold: true},
		Timestamp: now.UTC(),
	}
}

func unavailable(c model.Commodity, tf model.Timeframe, now time.Time) model.Result {
	return model.Result{
		Commodity:   c.Name,
		Ticker:      c.Ticker,
		Sector:      c.Sector,
		Timeframe:   tf,
		Unavailable: true,
		Reason:      "no stored analysis and result store is not writable",
		Timestamp:   now.UTC(),
	}
}

func failure(c model.Commodity, tf model.Timeframe, err error, now time.Time) model.Result {
	return model.Result{
		Commodity: c.Name,
		Ticker:    c.Ticker,
		Sector:    c.Sector,
		Timeframe: tf,
		Error:     err.Error(),
		ErrorKind: apperr.KindOf(err).String(),
		Timestamp: now.UTC(),
	}
}
