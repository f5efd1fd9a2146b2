package service

import (
	"strings"
	"time"

	"commodity-intel/internal/model"
	"commodity-intel/internal/normalize"
)

const placeholderNA = "N/A"

// backfill synthesizes a from-cache-only result out of stored news and the newest
// intelligence row. Missing fields get neutral placeholders.
func backfill(c model.Commodity, tf model.Timeframe, ref time.Time, news []model.StoredNews, intel *model.Intelligence, maxNews int, now time.Time) model.Result {
	data := &model.Analysis{
		Commodity:    c.Name,
		CurrentPrice: placeholderNA,
		PriceChange:  placeholderNA,
		Trend:        model.TrendUnknown,
		KeyDrivers:   []string{},
		MarketNews:   []model.NewsItem{},
		SourceURLs:   []string{},
	}

	items := make([]model.NewsItem, 0, len(news))
	for _, n := range news {
		items = append(items, storedNewsItem(n))
	}
	// The same story is stored once per query date it was reported on.
	items = normalize.Dedupe(items, normalize.DefaultSimilarity)
	if len(items) > maxNews {
		items = items[:maxNews]
	}
	data.MarketNews = append(data.MarketNews, items...)

	seenURL := make(map[string]struct{})
	for _, n := range items {
		for _, u := range n.Sources {
			if _, ok := seenURL[u]; ok || u == "" {
				continue
			}
			seenURL[u] = struct{}{}
			data.SourceURLs = append(data.SourceURLs, u)
		}
	}

	cacheDate := ref.Format(model.DateLayout)
	if intel != nil {
		if intel.Trend != "" {
			data.Trend = intel.Trend
		}
		if len(intel.KeyDrivers) > 0 {
			data.KeyDrivers = append(data.KeyDrivers, intel.KeyDrivers...)
		}
		if intel.CurrentPrice != nil {
			data.CurrentPrice = formatPrice(intel)
		}
		if intel.PriceChangePct != nil {
			change := intel.PriceChangePct.StringFixed(2) + "%"
			if intel.PriceChangePct.IsPositive() {
				change = "+" + change
			}
			data.PriceChange = change
		}
		data.PriceOutlook = intel.PriceOutlook
		cacheDate = intel.AnalysisDate.Format(model.DateLayout)
	}

	return model.Result{
		Success:       true,
		Commodity:     c.Name,
		Ticker:        c.Ticker,
		Sector:        c.Sector,
		Timeframe:     tf,
		Data:          data,
		CacheDate:     cacheDate,
		FromCacheOnly: true,
		Timestamp:     now.UTC(),
	}
}

// formatPrice renders "USD 105.30/ton" style prices from a "USD/ton" unit label.
func formatPrice(intel *model.Intelligence) string {
	amount := intel.CurrentPrice.String()
	currency, per, ok := strings.Cut(intel.PriceUnit, "/")
	switch {
	case intel.PriceUnit == "":
		return amount
	case ok && per != "":
		return currency + " " + amount + "/" + per
	default:
		return intel.PriceUnit + " " + amount
	}
}

func storedNewsItem(n model.StoredNews) model.NewsItem {
	return model.NewsItem{
		Date:        n.NewsDate.Format(model.DateLayout),
		Headline:    n.Headline,
		Details:     n.Summary,
		PriceImpact: sentimentImpact(n.Sentiment),
		Sources:     n.Sources,
	}
}

func sentimentImpact(sentiment string) string {
	s := strings.ToLower(sentiment)
	switch {
	case strings.Contains(s, "bullish"):
		return "bullish"
	case strings.Contains(s, "bearish"):
		return "bearish"
	default:
		return "neutral"
	}
}
