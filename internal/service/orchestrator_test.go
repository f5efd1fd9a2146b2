package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commodity-intel/internal/apperr"
	"commodity-intel/internal/catalog"
	"commodity-intel/internal/fetcher"
	"commodity-intel/internal/model"
	"commodity-intel/internal/ratelimit"
	"commodity-intel/internal/storage"
)

var (
	testNow = time.Date(2026, 3, 6, 10, 0, 0, 0, time.UTC)
	testRef = model.DateOnly(testNow)
)

func testCommodities() catalog.Static {
	return catalog.Static{
		{Ticker: "IO62", Name: "Iron Ore", Sector: "Steel Raw Materials"},
		{Ticker: "HCC", Name: "Coking Coal", Sector: "Steel Raw Materials"},
		{Ticker: "REBAR", Name: "Steel Rebar", Sector: "Steel"},
	}
}

type fakeAnalyst struct {
	mu    sync.Mutex
	calls []string
	reply func(pc fetcher.PromptContext) (string, error)
}

func (f *fakeAnalyst) Query(_ context.Context, pc fetcher.PromptContext) (*fetcher.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, pc.Commodity)
	f.mu.Unlock()

	reply := f.reply
	if reply == nil {
		reply = defaultReply
	}
	content, err := reply(pc)
	if err != nil {
		return nil, err
	}
	return &fetcher.Response{Content: content, Citations: []string{"https://www.reuters.com/x"}}, nil
}

func (f *fakeAnalyst) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func defaultReply(pc fetcher.PromptContext) (string, error) {
	return fmt.Sprintf(`{
  "commodity": %q,
  "current_price": "USD 120/ton",
  "price_change": "+3.5%%",
  "trend": "bullish",
  "key_drivers": ["Restocking", "Port congestion"],
  "market_news": [
    {"date": "2026-03-05", "headline": "China steel output rises 15%% in December", "category": "supply", "price_impact": "bullish"}
  ],
  "price_outlook": "Firm",
  "source_urls": ["https://www.mining.com/a"]
}`, pc.Commodity), nil
}

type fixture struct {
	backend storage.Backend
	store   *storage.ResultStore
	analyst *fakeAnalyst
	orch    *Orchestrator
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	backend storage.Backend
	noStore bool
	tiers   []ratelimit.Tier
	opts    Options
}

func withBackend(b storage.Backend) fixtureOption { return func(c *fixtureConfig) { c.backend = b } }
func withoutStore() fixtureOption                 { return func(c *fixtureConfig) { c.noStore = true } }
func withTiers(t ...ratelimit.Tier) fixtureOption { return func(c *fixtureConfig) { c.tiers = t } }

func newFixture(t *testing.T, options ...fixtureOption) *fixture {
	t.Helper()
	cfg := fixtureConfig{
		backend: storage.NewWritableMemoryResults(),
		tiers:   []ratelimit.Tier{{Name: "test", MaxCalls: 1000, Window: time.Second}},
		opts:    Options{Now: func() time.Time { return testNow }, AdmissionTimeout: 50 * time.Millisecond},
	}
	for _, o := range options {
		o(&cfg)
	}

	f := &fixture{analyst: &fakeAnalyst{}}
	if !cfg.noStore {
		f.backend = cfg.backend
		f.store = storage.NewResultStore(context.Background(), cfg.backend, storage.Options{
			Now: func() time.Time { return testNow },
		}, zerolog.Nop())
	}

	limiter, err := ratelimit.New("test", cfg.tiers)
	require.NoError(t, err)

	f.orch, err = New(cfg.opts, testCommodities(), f.store, f.analyst, limiter, zerolog.Nop())
	require.NoError(t, err)
	return f
}

func byCommodity(results []model.Result) map[string]model.Result {
	out := make(map[string]model.Result, len(results))
	for _, r := range results {
		out[r.Commodity] = r
	}
	return out
}

func TestNewRequiresSourceAndLimiter(t *testing.T) {
	limiter, err := ratelimit.New("test", ratelimit.DefaultTiers())
	require.NoError(t, err)

	_, err = New(Options{}, nil, nil, nil, limiter, zerolog.Nop())
	assert.Error(t, err)
	_, err = New(Options{}, testCommodities(), nil, nil, nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestQueryAllGatesOnZScore(t *testing.T) {
	f := newFixture(t)

	results, err := f.orch.QueryAll(context.Background(), Request{
		Commodities: []string{"Iron Ore", "Coking Coal"},
		Timeframe:   model.TimeframeWeek,
		ZScores:     map[string]float64{"Iron Ore": 1.0, "Coking Coal": 3.5},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	iron := results[0]
	assert.Equal(t, "Iron Ore", iron.Commodity)
	assert.True(t, iron.Skipped)
	assert.False(t, iron.Success)
	assert.Contains(t, iron.Reason, "1.00")
	require.NotNil(t, iron.Data)
	assert.True(t, iron.Data.BelowThreshold)

	coal := results[1]
	assert.Equal(t, "Coking Coal", coal.Commodity)
	assert.True(t, coal.Success)
	require.NotNil(t, coal.Data)
	assert.Equal(t, model.TrendBullish, coal.Data.Trend)
	require.NotNil(t, coal.Data.ZScore)
	assert.InDelta(t, 3.5, *coal.Data.ZScore, 1e-9)
	assert.False(t, coal.Data.BelowThreshold)
	assert.Equal(t, "2026-03-06", coal.CacheDate)

	assert.Equal(t, []string{"Coking Coal"}, f.analyst.Calls())

	rec, err := f.store.GetCachedResultByDate(context.Background(), "Coking Coal", model.TimeframeWeek, testRef)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "USD 120/ton", rec.Result.Data.CurrentPrice)
}

func TestQueryAllWithoutStoreReportsUnavailable(t *testing.T) {
	f := newFixture(t, withoutStore())

	results, err := f.orch.QueryAll(context.Background(), Request{
		Commodities: []string{"Steel Rebar"},
		Timeframe:   model.TimeframeWeek,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.True(t, results[0].Unavailable)
	assert.Empty(t, f.analyst.Calls())
}

func TestQueryAllUnknownZScoreMeansQuery(t *testing.T) {
	f := newFixture(t)

	results, err := f.orch.QueryAll(context.Background(), Request{
		Timeframe: model.TimeframeWeek,
		ZScores:   map[string]float64{"Iron Ore": 0.2},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	got := byCommodity(results)
	assert.True(t, got["Iron Ore"].Skipped)
	assert.True(t, got["Coking Coal"].Success)
	assert.True(t, got["Steel Rebar"].Success)
	assert.Nil(t, got["Coking Coal"].Data.ZScore)
	assert.Equal(t, []string{"Coking Coal", "Steel Rebar"}, f.analyst.Calls())
}

func TestQueryAllPreservesOrderAndFlagsUnknown(t *testing.T) {
	f := newFixture(t)

	results, err := f.orch.QueryAll(context.Background(), Request{
		Commodities: []string{"Steel Rebar", "Nickel", "IO62"},
		Timeframe:   model.TimeframeMonth,
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "Steel Rebar", results[0].Commodity)
	assert.Equal(t, "Nickel", results[1].Commodity)
	assert.False(t, results[1].Success)
	assert.Equal(t, apperr.KindValidation.String(), results[1].ErrorKind)
	assert.Equal(t, "Iron Ore", results[2].Commodity)
	assert.Equal(t, model.TimeframeMonth, results[2].Timeframe)
}

func TestQueryAllValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.QueryAll(context.Background(), Request{Timeframe: "2 weeks"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.orch.QueryAll(context.Background(), Request{
		Timeframe:   model.TimeframeWeek,
		Commodities: []string{"Iron Ore; DROP TABLE"},
	})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Empty(t, f.analyst.Calls())
}

func TestQueryAllIsolatesExternalFailures(t *testing.T) {
	f := newFixture(t)
	f.analyst.reply = func(pc fetcher.PromptContext) (string, error) {
		if pc.Commodity == "Iron Ore" {
			return "", errors.New("upstream 503")
		}
		return defaultReply(pc)
	}

	results, err := f.orch.QueryAll(context.Background(), Request{Timeframe: model.TimeframeWeek})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.False(t, results[0].Success)
	assert.Equal(t, apperr.KindExternalService.String(), results[0].ErrorKind)
	assert.Contains(t, results[0].Error, "upstream 503")
	assert.True(t, results[1].Success)
	assert.True(t, results[2].Success)
}

func TestQueryAllRateLimitTimeoutIsPerCommodity(t *testing.T) {
	f := newFixture(t, withTiers(ratelimit.Tier{Name: "hour", MaxCalls: 1, Window: time.Hour}))

	results, err := f.orch.QueryAll(context.Background(), Request{
		Commodities: []string{"Iron Ore", "Coking Coal"},
		Timeframe:   model.TimeframeWeek,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.Equal(t, apperr.KindRateLimitTimeout.String(), results[1].ErrorKind)
	assert.Equal(t, []string{"Iron Ore"}, f.analyst.Calls())
}

type failingUpserts struct {
	*storage.MemoryResults
}

func (failingUpserts) UpsertQueryResult(context.Context, model.QueryRecord) error {
	return errors.New("disk full")
}

func TestQueryAllReturnsResultWhenPersistFails(t *testing.T) {
	f := newFixture(t, withBackend(failingUpserts{storage.NewWritableMemoryResults()}))

	results, err := f.orch.QueryAll(context.Background(), Request{
		Commodities: []string{"Coking Coal"},
		Timeframe:   model.TimeframeWeek,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, "USD 120/ton", results[0].Data.CurrentPrice)
}

func TestQueryAllCacheIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	full, err := f.orch.QueryAll(ctx, Request{Timeframe: model.TimeframeWeek})
	require.NoError(t, err)
	require.Len(t, full, 3)

	entry, ok := f.orch.CacheSnapshot(model.TimeframeWeek)
	require.True(t, ok)
	assert.True(t, entry.IsValid(testRef))
	assert.Len(t, entry.Results, 3)

	f.analyst.reply = func(pc fetcher.PromptContext) (string, error) {
		return `{"current_price": "USD 999/ton", "trend": "bearish"}`, nil
	}
	partial, err := f.orch.QueryAll(ctx, Request{
		Commodities:  []string{"Iron Ore"},
		Timeframe:    model.TimeframeWeek,
		ForceRefresh: true,
	})
	require.NoError(t, err)
	require.Len(t, partial, 1)
	assert.Equal(t, "USD 999/ton", partial[0].Data.CurrentPrice)

	after, ok := f.orch.CacheSnapshot(model.TimeframeWeek)
	require.True(t, ok)
	assert.Equal(t, entry.AsOf, after.AsOf)
	assert.Len(t, after.Results, 3)
	assert.Equal(t, "USD 120/ton", byCommodity(after.Results)["Iron Ore"].Data.CurrentPrice)

	calls := len(f.analyst.Calls())
	again, err := f.orch.QueryAll(ctx, Request{Timeframe: model.TimeframeWeek})
	require.NoError(t, err)
	assert.Len(t, again, 3)
	assert.Len(t, f.analyst.Calls(), calls)

	filtered, err := f.orch.QueryAll(ctx, Request{Commodities: []string{"Coking Coal"}, Timeframe: model.TimeframeWeek})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "USD 120/ton", filtered[0].Data.CurrentPrice)
	assert.Len(t, f.analyst.Calls(), calls)

	_, hit := f.orch.cache.Get(model.TimeframeWeek, testRef.AddDate(0, 0, 1))
	assert.False(t, hit)
}

func TestQueryAllServesStoredResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stored := model.Result{
		Success:   true,
		Commodity: "Iron Ore",
		Timeframe: model.TimeframeWeek,
		Data:      &model.Analysis{CurrentPrice: "USD 101/ton", Trend: model.TrendStable},
	}
	require.NoError(t, f.store.SaveQueryResult(ctx, "Iron Ore", model.TimeframeWeek, testRef, stored))

	results, err := f.orch.QueryAll(ctx, Request{
		Commodities: []string{"Iron Ore"},
		Timeframe:   model.TimeframeWeek,
		ZScores:     map[string]float64{"Iron Ore": 0.4},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].CachedFromStore)
	assert.False(t, results[0].Skipped)
	assert.Equal(t, "USD 101/ton", results[0].Data.CurrentPrice)
	require.NotNil(t, results[0].Data.ZScore)
	assert.True(t, results[0].Data.BelowThreshold)
	assert.Empty(t, f.analyst.Calls())
}

func TestQueryAllBackfillsFromHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	older := testRef.AddDate(0, 0, -2)

	headlines := []string{
		"Australian coal exports slow after cyclone",
		"Indian mills cut blast furnace runs",
		"Mongolian rail volumes hit record",
		"Chinese port stocks climb for third week",
		"Queensland mine restarts longwall",
		"Freight rates drop on Capesize glut",
		"Japan utilities sign long term supply deal",
		"Russian shipments diverted to Turkey",
	}
	var items []model.NewsItem
	for _, h := range headlines {
		items = append(items, model.NewsItem{
			Headline:    h,
			PriceImpact: "Bearish",
			Sources:     []string{"https://www.mining.com/coal"},
		})
	}
	require.NoError(t, f.store.SaveNewsItems(ctx, "Coking Coal", older, items))
	require.NoError(t, f.store.SaveMarketIntelligence(ctx, "Coking Coal", older, &model.Analysis{
		CurrentPrice: "USD 230.5/ton",
		PriceChange:  "-4.2%",
		Trend:        model.TrendBearish,
		KeyDrivers:   []string{"Weak demand"},
	}))

	results, err := f.orch.QueryAll(ctx, Request{Commodities: []string{"Coking Coal"}, Timeframe: model.TimeframeWeek})
	require.NoError(t, err)
	require.Len(t, results, 1)

	r := results[0]
	assert.True(t, r.Success)
	assert.True(t, r.FromCacheOnly)
	assert.Equal(t, older.Format(model.DateLayout), r.CacheDate)
	assert.Equal(t, model.TrendBearish, r.Data.Trend)
	assert.Equal(t, "USD 230.5/ton", r.Data.CurrentPrice)
	assert.Equal(t, "-4.20%", r.Data.PriceChange)
	assert.Equal(t, []string{"Weak demand"}, r.Data.KeyDrivers)
	assert.Len(t, r.Data.MarketNews, 6)
	assert.Equal(t, "bearish", r.Data.MarketNews[0].PriceImpact)
	assert.Equal(t, []string{"https://www.mining.com/coal"}, r.Data.SourceURLs)
	assert.Empty(t, f.analyst.Calls())
}

func TestQueryAllBackfillPlaceholders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SaveNewsItems(ctx, "Steel Rebar", testRef.AddDate(0, 0, -1), []model.NewsItem{{Headline: "Rebar demand steady"}}))

	results, err := f.orch.QueryAll(ctx, Request{Commodities: []string{"Steel Rebar"}, Timeframe: model.TimeframeWeek})
	require.NoError(t, err)
	r := results[0]
	assert.True(t, r.FromCacheOnly)
	assert.Equal(t, "N/A", r.Data.CurrentPrice)
	assert.Equal(t, "N/A", r.Data.PriceChange)
	assert.Equal(t, model.TrendUnknown, r.Data.Trend)
	assert.Empty(t, r.Data.KeyDrivers)
	assert.Len(t, r.Data.MarketNews, 1)
}

func TestQueryAllBackfillDropsRecurringNews(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, day := range []int{-2, -1} {
		results, err := f.orch.QueryAll(ctx, Request{
			Commodities:   []string{"Coking Coal"},
			Timeframe:     model.TimeframeWeek,
			ReferenceDate: testRef.AddDate(0, 0, day),
			ForceRefresh:  true,
		})
		require.NoError(t, err)
		require.True(t, results[0].Success)
	}
	require.Len(t, f.analyst.Calls(), 2)

	stored, err := f.store.GetWeeklyNews(ctx, "Coking Coal", 7)
	require.NoError(t, err)
	require.Len(t, stored, 2)

	results, err := f.orch.QueryAll(ctx, Request{Commodities: []string{"Coking Coal"}, Timeframe: model.TimeframeWeek})
	require.NoError(t, err)
	r := results[0]
	assert.True(t, r.FromCacheOnly)
	require.Len(t, r.Data.MarketNews, 1)
	assert.Equal(t, "China steel output rises 15% in December", r.Data.MarketNews[0].Headline)
	assert.Equal(t, testRef.AddDate(0, 0, -1).Format(model.DateLayout), r.Data.MarketNews[0].Date)
	assert.Len(t, f.analyst.Calls(), 2)
}

func TestQueryAllReadOnlyStore(t *testing.T) {
	backend := storage.NewMemoryResults(storage.Access{TablesExist: true, Read: true})
	require.NoError(t, backend.UpsertQueryResult(context.Background(), model.QueryRecord{
		Commodity: "Iron Ore",
		Timeframe: model.TimeframeWeek,
		QueryDate: testRef,
		Result:    model.Result{Success: true, Commodity: "Iron Ore", Data: &model.Analysis{Trend: model.TrendBullish}},
		CreatedAt: testNow,
		ExpiresAt: testNow.Add(24 * time.Hour),
	}))
	f := newFixture(t, withBackend(backend))

	results, err := f.orch.QueryAll(context.Background(), Request{Timeframe: model.TimeframeWeek})
	require.NoError(t, err)
	require.Len(t, results, 3)

	got := byCommodity(results)
	assert.True(t, got["Iron Ore"].CachedFromStore)
	assert.True(t, got["Coking Coal"].Unavailable)
	assert.True(t, got["Steel Rebar"].Unavailable)
	assert.Empty(t, f.analyst.Calls())
}

func TestQueryAllForceRefreshKeepsHydratedData(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, name := range []string{"Iron Ore", "Coking Coal"} {
		require.NoError(t, f.store.SaveQueryResult(ctx, name, model.TimeframeWeek, testRef, model.Result{
			Success:   true,
			Commodity: name,
			Data:      &model.Analysis{CurrentPrice: "stored"},
		}))
	}
	f.analyst.reply = func(pc fetcher.PromptContext) (string, error) {
		if pc.Commodity == "Coking Coal" {
			return "", errors.New("timeout")
		}
		return defaultReply(pc)
	}

	results, err := f.orch.QueryAll(ctx, Request{
		Commodities:  []string{"Iron Ore", "Coking Coal", "Steel Rebar"},
		Timeframe:    model.TimeframeWeek,
		ZScores:      map[string]float64{"Iron Ore": 0.5, "Coking Coal": 2.5, "Steel Rebar": 1.0},
		ForceRefresh: true,
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.True(t, results[0].CachedFromStore, "below threshold keeps stored data")
	assert.Equal(t, "stored", results[0].Data.CurrentPrice)
	assert.True(t, results[1].CachedFromStore, "failed refresh keeps stored data")
	assert.True(t, results[2].Skipped)
	assert.Equal(t, []string{"Coking Coal"}, f.analyst.Calls())
}

func TestQueryAllEnrichesThinNews(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SaveNewsItems(ctx, "Iron Ore", testRef.AddDate(0, 0, -1), []model.NewsItem{
		{Headline: "CHINA STEEL OUTPUT RISES 15% IN DECEMBER"},
		{Headline: "Port inventories fall", PriceImpact: "bullish"},
		{Headline: "Mills restock ahead of holiday"},
	}))
	require.NoError(t, f.store.SaveNewsItems(ctx, "Iron Ore", testRef, []model.NewsItem{{Headline: "Same-day headline"}}))

	results, err := f.orch.QueryAll(ctx, Request{
		Commodities:  []string{"Iron Ore"},
		Timeframe:    model.TimeframeWeek,
		ForceRefresh: true,
	})
	require.NoError(t, err)
	r := results[0]
	require.True(t, r.Success)
	assert.False(t, r.FromCacheOnly)

	var headlines []string
	for _, n := range r.Data.MarketNews {
		headlines = append(headlines, n.Headline)
	}
	assert.ElementsMatch(t, []string{
		"China steel output rises 15% in December",
		"Port inventories fall",
		"Mills restock ahead of holiday",
	}, headlines)
	assert.Len(t, r.Data.RecentNews, 3)
}

func TestQuerySingle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	low := 0.3
	res, err := f.orch.QuerySingle(ctx, SingleRequest{Commodity: "Iron Ore", Timeframe: model.TimeframeWeek, ZScore: &low})
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	res, err = f.orch.QuerySingle(ctx, SingleRequest{Commodity: "Unobtainium", Timeframe: model.TimeframeWeek})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, apperr.KindValidation.String(), res.ErrorKind)

	res, err = f.orch.QuerySingle(ctx, SingleRequest{Commodity: "HCC", Timeframe: model.TimeframeWeek})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "Coking Coal", res.Commodity)

	res, err = f.orch.QuerySingle(ctx, SingleRequest{Commodity: "Coking Coal", Timeframe: model.TimeframeWeek})
	require.NoError(t, err)
	assert.True(t, res.CachedFromStore)
	assert.Len(t, f.analyst.Calls(), 1)

	_, ok := f.orch.CacheSnapshot(model.TimeframeWeek)
	assert.False(t, ok)

	_, err = f.orch.QuerySingle(ctx, SingleRequest{Commodity: "Iron Ore", Timeframe: "daily"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestQuerySingleKeysOnReferenceDate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	priceDate := testRef.AddDate(0, 0, -3)

	res, err := f.orch.QuerySingle(ctx, SingleRequest{Commodity: "Coking Coal", Timeframe: model.TimeframeWeek, ReferenceDate: priceDate})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, priceDate.Format(model.DateLayout), res.CacheDate)

	rec, err := f.store.GetCachedResultByDate(ctx, "Coking Coal", model.TimeframeWeek, priceDate)
	require.NoError(t, err)
	require.NotNil(t, rec)

	results, err := f.orch.QueryAll(ctx, Request{
		Commodities:   []string{"Coking Coal"},
		Timeframe:     model.TimeframeWeek,
		ReferenceDate: priceDate,
	})
	require.NoError(t, err)
	assert.True(t, results[0].CachedFromStore)
	assert.Len(t, f.analyst.Calls(), 1)
}

func TestQuerySingleWithoutStore(t *testing.T) {
	f := newFixture(t, withoutStore())
	res, err := f.orch.QuerySingle(context.Background(), SingleRequest{Commodity: "Steel Rebar", Timeframe: model.TimeframeWeek})
	require.NoError(t, err)
	assert.True(t, res.Unavailable)
	assert.Empty(t, f.analyst.Calls())
}

func TestCategories(t *testing.T) {
	f := newFixture(t)
	cats, err := f.orch.Categories(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Steel", "Steel Raw Materials"}, cats)
}
