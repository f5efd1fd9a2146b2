package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"commodity-intel/internal/model"
	"commodity-intel/internal/stats"
)

// PriceSource reads historical price series.
type PriceSource interface {
	PriceSeries(ctx context.Context, ticker string, from, to time.Time) ([]model.PriceObservation, error)
}

// ZScoreEntry is the latest z-score of one commodity.
type ZScoreEntry struct {
	Commodity string          `json:"commodity"`
	Ticker    string          `json:"ticker"`
	Sector    string          `json:"sector,omitempty"`
	ZScore    float64         `json:"zscore"`
	Frequency stats.Frequency `json:"frequency"`
	Flag      stats.Flag      `json:"flag,omitempty"`
}

// HistoryDays is how far back prices are loaded so a weekly series still fills the rolling window.
func HistoryDays(params stats.Params) int {
	p := params
	if p.LookbackDays <= 0 || p.Window < 2 {
		p = stats.DefaultParams()
	}
	return p.LookbackDays + 7*(p.Window+1)
}

// LatestZScores computes the latest z-score per commodity as of asOf. Commodities
// without a ticker, without prices or without enough history are left out and
// logged.
func LatestZScores(ctx context.Context, prices PriceSource, commodities []model.Commodity, params stats.Params, asOf time.Time, logger zerolog.Logger) []ZScoreEntry {
	to := model.DateOnly(asOf).AddDate(0, 0, 1)
	from := to.AddDate(0, 0, -HistoryDays(params))

	out := make([]ZScoreEntry, 0, len(commodities))
	for _, c := range commodities {
		if c.Ticker == "" {
			continue
		}
		obs, err := prices.PriceSeries(ctx, c.Ticker, from, to)
		if err != nil {
			logger.Warn().Err(err).Str("ticker", c.Ticker).Msg("price series unavailable; z-score unknown")
			continue
		}
		z, freq, ok := stats.LatestZScore(stats.Series(obs), params)
		if !ok {
			logger.Debug().Str("ticker", c.Ticker).Int("points", len(obs)).Msg("not enough history for z-score")
			continue
		}
		out = append(out, ZScoreEntry{
			Commodity: c.Name,
			Ticker:    c.Ticker,
			Sector:    c.Sector,
			ZScore:    z,
			Frequency: freq,
			Flag:      stats.Classify(z),
		})
	}
	return out
}

// ZScoreMap returns the gating map keyed by commodity name. Commodities that are
// missing from the map are queried rather than skipped.
func ZScoreMap(ctx context.Context, prices PriceSource, commodities []model.Commodity, params stats.Params, asOf time.Time, logger zerolog.Logger) map[string]float64 {
	entries := LatestZScores(ctx, prices, commodities, params, asOf, logger)
	out := make(map[string]float64, len(entries))
	for _, e := range entries {
		out[e.Commodity] = e.ZScore
	}
	return out
}
