package storage

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"commodity-intel/internal/apperr"
	"commodity-intel/internal/model"
	"commodity-intel/internal/normalize"
)

const (
	defaultResultTTL      = 24 * time.Hour
	defaultNewsRetention  = 50
	defaultNewsPerSave    = 20
	defaultBackfillDays   = 7
	maxHeadlineLen        = 100
	maxSentimentLen       = 20
	confidenceWithNumbers = 0.8
	confidenceText        = 0.5
)

// Options tune the result store adapter.
type Options struct {
	TTL           time.Duration
	NewsRetention int
	NewsPerSave   int
	BackfillDays  int
	Now           func() time.Time
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = defaultResultTTL
	}
	if o.NewsRetention <= 0 {
		o.NewsRetention = defaultNewsRetention
	}
	if o.NewsPerSave <= 0 {
		o.NewsPerSave = defaultNewsPerSave
	}
	if o.BackfillDays <= 0 {
		o.BackfillDays = defaultBackfillDays
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// ResultStore guards a Backend with the startup access probe and input sanitization.
// A store without read access answers lookups with nothing; writes without write
// access fail with ErrNoWriteAccess.
type ResultStore struct {
	backend Backend
	access  Access
	opts    Options
	logger  zerolog.Logger
}

// NewResultStore probes backend once and records the outcome. backend may be nil.
func NewResultStore(ctx context.Context, backend Backend, opts Options, logger zerolog.Logger) *ResultStore {
	s := &ResultStore{
		backend: backend,
		opts:    opts.withDefaults(),
		logger:  logger.With().Str("component", "result_store").Logger(),
	}

	if backend == nil {
		s.access = Access{Reason: "no result store configured"}
	} else {
		s.access = backend.ProbeAccess(ctx)
	}

	event := s.logger.Info()
	if !s.access.Read || !s.access.Write {
		event = s.logger.Warn()
	}
	event.
		Bool("tables_exist", s.access.TablesExist).
		Bool("read", s.access.Read).
		Bool("write", s.access.Write).
		Str("reason", s.access.Reason).
		Msg("result store access probed")
	return s
}

// Access reports the probe outcome. A nil store has no access.
func (s *ResultStore) Access() Access {
	if s == nil {
		return Access{Reason: "no result store configured"}
	}
	return s.access
}

func (s *ResultStore) HasReadAccess() bool  { return s != nil && s.backend != nil && s.access.Read }
func (s *ResultStore) HasWriteAccess() bool { return s != nil && s.backend != nil && s.access.Write }

// BackfillDays is the historical window used for hydration lookups.
func (s *ResultStore) BackfillDays() int { return s.opts.BackfillDays }

// GetCachedResultByDate returns the unexpired record for the exact date and counts the hit.
func (s *ResultStore) GetCachedResultByDate(ctx context.Context, commodity string, timeframe model.Timeframe, date time.Time) (*model.QueryRecord, error) {
	key, err := sanitizeKey(commodity, timeframe, date)
	if err != nil {
		return nil, err
	}
	if !s.HasReadAccess() {
		return nil, nil
	}

	rec, err := s.backend.GetQueryResult(ctx, key, s.opts.Now())
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStoreAccess, "get cached result", err)
	}
	if rec == nil {
		return nil, nil
	}

	if s.HasWriteAccess() {
		if err := s.backend.IncrementHits(ctx, key); err != nil {
			s.logger.Warn().Err(err).Str("commodity", key.Commodity).Msg("hit counter update failed")
		} else {
			rec.HitCount++
		}
	}
	return rec, nil
}

// GetRecentResult returns the newest unexpired record within the backfill window.
func (s *ResultStore) GetRecentResult(ctx context.Context, commodity string, timeframe model.Timeframe) (*model.QueryRecord, error) {
	key, err := sanitizeKey(commodity, timeframe, time.Time{})
	if err != nil {
		return nil, err
	}
	if !s.HasReadAccess() {
		return nil, nil
	}
	now := s.opts.Now()
	since := model.DateOnly(now).AddDate(0, 0, -s.opts.BackfillDays)
	rec, err := s.backend.LatestQueryResult(ctx, key.Commodity, key.Timeframe, since, now)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStoreAccess, "get recent result", err)
	}
	return rec, nil
}

// GetHistoricalMarketIntelligence returns the newest intelligence row from the last days.
func (s *ResultStore) GetHistoricalMarketIntelligence(ctx context.Context, commodity string, days int) (*model.Intelligence, error) {
	name, err := SanitizeCommodity(commodity)
	if err != nil {
		return nil, err
	}
	if !s.HasReadAccess() {
		return nil, nil
	}
	in, err := s.backend.LatestIntelligence(ctx, name, s.since(days))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStoreAccess, "get historical intelligence", err)
	}
	return in, nil
}

// GetWeeklyNews returns stored news from the last days, newest first.
func (s *ResultStore) GetWeeklyNews(ctx context.Context, commodity string, days int) ([]model.StoredNews, error) {
	name, err := SanitizeCommodity(commodity)
	if err != nil {
		return nil, err
	}
	if !s.HasReadAccess() {
		return nil, nil
	}
	items, err := s.backend.RecentNews(ctx, name, s.since(days), s.opts.NewsRetention)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStoreAccess, "get weekly news", err)
	}
	return items, nil
}

// GetAllWeeklyNewsBatch loads news for many commodities in one round trip.
// Names failing sanitization are left out of the query and the result.
func (s *ResultStore) GetAllWeeklyNewsBatch(ctx context.Context, commodities []string, days int) (map[string][]model.StoredNews, error) {
	if !s.HasReadAccess() {
		return map[string][]model.StoredNews{}, nil
	}
	names := make([]string, 0, len(commodities))
	for _, c := range commodities {
		name, err := SanitizeCommodity(c)
		if err != nil {
			s.logger.Warn().Err(err).Str("commodity", c).Msg("skipping commodity in news batch")
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return map[string][]model.StoredNews{}, nil
	}
	out, err := s.backend.RecentNewsBatch(ctx, names, s.since(days))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStoreAccess, "get weekly news batch", err)
	}
	return out, nil
}

// SaveQueryResult upserts the analysis for (commodity, timeframe, date). Saving the
// same key again replaces the payload and increments the hit counter. Intelligence
// and news derived from the analysis are saved alongside; their failures are logged.
func (s *ResultStore) SaveQueryResult(ctx context.Context, commodity string, timeframe model.Timeframe, date time.Time, result model.Result) error {
	key, err := sanitizeKey(commodity, timeframe, date)
	if err != nil {
		return err
	}
	if !s.HasWriteAccess() {
		return ErrNoWriteAccess
	}

	now := s.opts.Now()
	rec := model.QueryRecord{
		Commodity: key.Commodity,
		Timeframe: key.Timeframe,
		QueryDate: key.Date,
		Result:    result.Clone(),
		CreatedAt: now,
		ExpiresAt: now.Add(s.opts.TTL),
	}
	if err := s.backend.UpsertQueryResult(ctx, rec); err != nil {
		return apperr.Wrap(apperr.KindStoreAccess, "save query result", err)
	}

	if result.Data == nil || !result.Success {
		return nil
	}
	if err := s.SaveMarketIntelligence(ctx, key.Commodity, key.Date, result.Data); err != nil {
		s.logger.Warn().Err(err).Str("commodity", key.Commodity).Msg("saving market intelligence failed")
	}
	if err := s.saveAnalysisNews(ctx, key.Commodity, key.Date, result.Data); err != nil {
		s.logger.Warn().Err(err).Str("commodity", key.Commodity).Msg("saving news items failed")
	}
	return nil
}

// SaveMarketIntelligence stores the numeric view of an analysis for the date.
func (s *ResultStore) SaveMarketIntelligence(ctx context.Context, commodity string, date time.Time, analysis *model.Analysis) error {
	name, err := SanitizeCommodity(commodity)
	if err != nil {
		return err
	}
	if !s.HasWriteAccess() {
		return ErrNoWriteAccess
	}
	if analysis == nil {
		return nil
	}

	price, unit := normalize.ParsePrice(analysis.CurrentPrice)
	change := normalize.ParseChangePct(analysis.PriceChange)
	confidence := confidenceText
	if price != nil && change != nil {
		confidence = confidenceWithNumbers
	}

	in := model.Intelligence{
		Commodity:       name,
		AnalysisDate:    model.DateOnly(date),
		Trend:           analysis.Trend,
		KeyDrivers:      analysis.KeyDrivers,
		CurrentPrice:    price,
		PriceUnit:       unit,
		PriceChangePct:  change,
		ConfidenceScore: confidence,
		PriceOutlook:    analysis.PriceOutlook,
		CreatedAt:       s.opts.Now(),
	}
	if in.Trend == "" {
		in.Trend = model.TrendUnknown
	}
	if err := s.backend.UpsertIntelligence(ctx, in); err != nil {
		return apperr.Wrap(apperr.KindStoreAccess, "save market intelligence", err)
	}
	return nil
}

// SaveNewsItems inserts up to NewsPerSave items and prunes the commodity to NewsRetention rows.
func (s *ResultStore) SaveNewsItems(ctx context.Context, commodity string, date time.Time, items []model.NewsItem) error {
	name, err := SanitizeCommodity(commodity)
	if err != nil {
		return err
	}
	if !s.HasWriteAccess() {
		return ErrNoWriteAccess
	}

	now := s.opts.Now()
	rows := make([]model.StoredNews, 0, min(len(items), s.opts.NewsPerSave))
	for _, item := range items {
		if len(rows) == s.opts.NewsPerSave {
			break
		}
		headline := strings.TrimSpace(item.Headline)
		if headline == "" {
			headline = normalize.Headline(item.Details, maxHeadlineLen)
		}
		if headline == "" {
			continue
		}
		summary := item.Details
		if summary == "" {
			summary = headline
		}
		rows = append(rows, model.StoredNews{
			Commodity: name,
			NewsDate:  model.DateOnly(date),
			Headline:  truncateRunes(headline, maxHeadlineLen),
			Summary:   summary,
			Sources:   item.Sources,
			Sentiment: truncateRunes(strings.ToLower(strings.TrimSpace(item.PriceImpact)), maxSentimentLen),
			CreatedAt: now,
		})
	}
	if len(rows) == 0 {
		return nil
	}
	if err := s.backend.InsertNews(ctx, name, rows, s.opts.NewsRetention); err != nil {
		return apperr.Wrap(apperr.KindStoreAccess, "save news items", err)
	}
	return nil
}

// saveAnalysisNews persists structured news, or the legacy string list when that is all there is.
func (s *ResultStore) saveAnalysisNews(ctx context.Context, commodity string, date time.Time, analysis *model.Analysis) error {
	items := analysis.MarketNews
	if len(items) == 0 {
		for _, line := range analysis.RecentNews {
			items = append(items, model.NewsItem{
				Headline: normalize.Headline(line, maxHeadlineLen),
				Details:  line,
				Sources:  analysis.SourceURLs,
			})
		}
	}
	return s.SaveNewsItems(ctx, commodity, date, items)
}

// ClearCache deletes cached query results for commodity, or for all commodities when empty.
func (s *ResultStore) ClearCache(ctx context.Context, commodity string) (int64, error) {
	name := ""
	if strings.TrimSpace(commodity) != "" {
		var err error
		if name, err = SanitizeCommodity(commodity); err != nil {
			return 0, err
		}
	}
	if !s.HasWriteAccess() {
		return 0, ErrNoWriteAccess
	}
	n, err := s.backend.DeleteQueryResults(ctx, name)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindStoreAccess, "clear cache", err)
	}
	s.logger.Info().Str("commodity", name).Int64("deleted", n).Msg("cleared cached query results")
	return n, nil
}

func (s *ResultStore) since(days int) time.Time {
	if days <= 0 {
		days = s.opts.BackfillDays
	}
	return model.DateOnly(s.opts.Now()).AddDate(0, 0, -days)
}

func sanitizeKey(commodity string, timeframe model.Timeframe, date time.Time) (Key, error) {
	name, err := SanitizeCommodity(commodity)
	if err != nil {
		return Key{}, err
	}
	tf, err := SanitizeTimeframe(timeframe)
	if err != nil {
		return Key{}, err
	}
	return Key{Commodity: name, Timeframe: tf, Date: model.DateOnly(date)}, nil
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
