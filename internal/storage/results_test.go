package storage

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commodity-intel/internal/apperr"
	"commodity-intel/internal/model"
)

var testNow = time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)

func newTestResultStore(t *testing.T, backend Backend) *ResultStore {
	t.Helper()
	return NewResultStore(context.Background(), backend, Options{Now: func() time.Time { return testNow }}, zerolog.Nop())
}

func sampleResult(name string) model.Result {
	return model.Result{
		Success:   true,
		Commodity: name,
		Timeframe: model.TimeframeWeek,
		Data: &model.Analysis{
			CurrentPrice: "USD 105.30/ton",
			PriceChange:  "+2.5%",
			Trend:        model.TrendBullish,
			KeyDrivers:   []string{"China stimulus"},
			MarketNews: []model.NewsItem{
				{Date: "Jan 5", Headline: "China unveils infrastructure package", PriceImpact: "Bullish"},
				{Date: "Jan 4", Details: "Port stocks fell for a third week. Traders expect more."},
			},
		},
	}
}

func TestSanitizeCommodity(t *testing.T) {
	for _, ok := range []string{"Iron Ore", " Coking Coal ", "Zinc (LME)", "HRC_China-East"} {
		_, err := SanitizeCommodity(ok)
		assert.NoError(t, err, ok)
	}
	for _, bad := range []string{
		"", "   ", "Iron Ore; DROP TABLE x", "coal--", "Select Grade Ore", "ore/*x*/",
		"Iron Ore Fines 62 percent Fe delivered Qingdao port cash", "xp_cmdshell",
	} {
		_, err := SanitizeCommodity(bad)
		require.Error(t, err, bad)
		assert.True(t, apperr.Is(err, apperr.KindValidation), bad)
	}

	name, err := SanitizeCommodity("  Iron Ore  ")
	require.NoError(t, err)
	assert.Equal(t, "Iron Ore", name)
}

func TestSanitizeTimeframe(t *testing.T) {
	tf, err := SanitizeTimeframe(" 1 month ")
	require.NoError(t, err)
	assert.Equal(t, model.TimeframeMonth, tf)

	_, err = SanitizeTimeframe("2 weeks")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestResultStoreNilBackend(t *testing.T) {
	store := newTestResultStore(t, nil)
	assert.False(t, store.HasReadAccess())
	assert.False(t, store.HasWriteAccess())

	rec, err := store.GetCachedResultByDate(context.Background(), "Iron Ore", model.TimeframeWeek, testNow)
	require.NoError(t, err)
	assert.Nil(t, rec)

	err = store.SaveQueryResult(context.Background(), "Iron Ore", model.TimeframeWeek, testNow, sampleResult("Iron Ore"))
	assert.ErrorIs(t, err, ErrNoWriteAccess)
	assert.True(t, apperr.Is(err, apperr.KindStoreAccess))
}

func TestResultStoreReadOnly(t *testing.T) {
	backend := NewWritableMemoryResults()
	seed := newTestResultStore(t, backend)
	require.NoError(t, seed.SaveQueryResult(context.Background(), "Iron Ore", model.TimeframeWeek, testNow, sampleResult("Iron Ore")))

	backend.access = Access{TablesExist: true, Read: true}
	store := newTestResultStore(t, backend)
	assert.True(t, store.HasReadAccess())
	assert.False(t, store.HasWriteAccess())

	rec, err := store.GetCachedResultByDate(context.Background(), "Iron Ore", model.TimeframeWeek, testNow)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 0, rec.HitCount)

	_, err = store.ClearCache(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoWriteAccess)
	assert.ErrorIs(t, store.SaveNewsItems(context.Background(), "Iron Ore", testNow, nil), ErrNoWriteAccess)
}

func TestResultStoreValidationBeforeAccessCheck(t *testing.T) {
	store := newTestResultStore(t, nil)
	err := store.SaveQueryResult(context.Background(), "ore; DROP", model.TimeframeWeek, testNow, model.Result{})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = store.GetCachedResultByDate(context.Background(), "Iron Ore", "2 weeks", testNow)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestResultStoreSaveDerivesIntelligenceAndNews(t *testing.T) {
	backend := NewWritableMemoryResults()
	store := newTestResultStore(t, backend)
	ctx := context.Background()

	require.NoError(t, store.SaveQueryResult(ctx, "Iron Ore", model.TimeframeWeek, testNow, sampleResult("Iron Ore")))

	rec, err := store.GetCachedResultByDate(ctx, "Iron Ore", model.TimeframeWeek, testNow)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 1, rec.HitCount)
	assert.Equal(t, testNow.Add(24*time.Hour), rec.ExpiresAt)

	in, err := store.GetHistoricalMarketIntelligence(ctx, "Iron Ore", 7)
	require.NoError(t, err)
	require.NotNil(t, in)
	require.NotNil(t, in.CurrentPrice)
	assert.Equal(t, "105.3", in.CurrentPrice.String())
	assert.Equal(t, "USD/ton", in.PriceUnit)
	require.NotNil(t, in.PriceChangePct)
	assert.Equal(t, "2.5", in.PriceChangePct.String())
	assert.Equal(t, 0.8, in.ConfidenceScore)

	news, err := store.GetWeeklyNews(ctx, "Iron Ore", 7)
	require.NoError(t, err)
	require.Len(t, news, 2)
	headlines := []string{news[0].Headline, news[1].Headline}
	assert.Contains(t, headlines, "China unveils infrastructure package")
	assert.Contains(t, headlines, "Port stocks fell for a third week.")
	for _, n := range news {
		if n.Headline == "China unveils infrastructure package" {
			assert.Equal(t, "bullish", n.Sentiment)
		}
	}
}

func TestResultStoreSaveNewsCapsPerSave(t *testing.T) {
	backend := NewWritableMemoryResults()
	store := newTestResultStore(t, backend)
	items := make([]model.NewsItem, 30)
	for i := range items {
		items[i] = model.NewsItem{Headline: "Headline number " + string(rune('A'+i))}
	}
	require.NoError(t, store.SaveNewsItems(context.Background(), "Iron Ore", testNow, items))

	news, err := store.GetWeeklyNews(context.Background(), "Iron Ore", 7)
	require.NoError(t, err)
	assert.Len(t, news, 20)
}

func TestResultStoreGetRecentResultWithinBackfill(t *testing.T) {
	backend := NewWritableMemoryResults()
	store := newTestResultStore(t, backend)
	ctx := context.Background()

	old := testNow.AddDate(0, 0, -10)
	require.NoError(t, backend.UpsertQueryResult(ctx, model.QueryRecord{
		Commodity: "Iron Ore", Timeframe: model.TimeframeWeek, QueryDate: old,
		CreatedAt: testNow, ExpiresAt: testNow.Add(time.Hour),
	}))
	rec, err := store.GetRecentResult(ctx, "Iron Ore", model.TimeframeWeek)
	require.NoError(t, err)
	assert.Nil(t, rec)

	recent := testNow.AddDate(0, 0, -2)
	require.NoError(t, backend.UpsertQueryResult(ctx, model.QueryRecord{
		Commodity: "Iron Ore", Timeframe: model.TimeframeWeek, QueryDate: recent,
		CreatedAt: testNow, ExpiresAt: testNow.Add(time.Hour),
	}))
	rec, err = store.GetRecentResult(ctx, "Iron Ore", model.TimeframeWeek)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, model.DateOnly(recent), rec.QueryDate)
}

func TestResultStoreBatchSkipsInvalidNames(t *testing.T) {
	backend := NewWritableMemoryResults()
	store := newTestResultStore(t, backend)
	ctx := context.Background()
	require.NoError(t, store.SaveNewsItems(ctx, "Iron Ore", testNow, []model.NewsItem{{Headline: "Ore rallies"}}))

	out, err := store.GetAllWeeklyNewsBatch(ctx, []string{"Iron Ore", "bad;name"}, 7)
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.Len(t, out["Iron Ore"], 1)
}

func TestResultStoreClearCache(t *testing.T) {
	backend := NewWritableMemoryResults()
	store := newTestResultStore(t, backend)
	ctx := context.Background()
	for _, c := range []string{"Iron Ore", "Coking Coal"} {
		require.NoError(t, store.SaveQueryResult(ctx, c, model.TimeframeWeek, testNow, model.Result{Commodity: c}))
	}

	n, err := store.ClearCache(ctx, "Iron Ore")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	rec, err := store.GetCachedResultByDate(ctx, "Coking Coal", model.TimeframeWeek, testNow)
	require.NoError(t, err)
	assert.NotNil(t, rec)
}
