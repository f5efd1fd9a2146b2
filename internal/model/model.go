package model

import (
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the canonical calendar-date representation used in keys and payloads.
const DateLayout = "2006-01-02"

// Source is a trusted news outlet for a sector.
type Source struct {
	Name string `yaml:"name" json:"name"`
	URL  string `yaml:"url" json:"url"`
}

// Commodity identifies a tracked market.
type Commodity struct {
	Ticker  string   `json:"ticker"`
	Name    string   `json:"name"`
	Sector  string   `json:"sector"`
	Unit    string   `json:"unit,omitempty"`
	Sources []Source `json:"sources,omitempty"`
}

// PriceObservation is one point of a historical price series.
type PriceObservation struct {
	Ticker string
	Date   time.Time
	Price  decimal.Decimal
}

// Timeframe labels the analysis window.
type Timeframe string

const (
	TimeframeWeek    Timeframe = "1 week"
	TimeframeMonth   Timeframe = "1 month"
	TimeframeQuarter Timeframe = "1 quarter"
	TimeframeYear    Timeframe = "1 year"
)

// Timeframes lists every accepted timeframe.
func Timeframes() []Timeframe {
	return []Timeframe{TimeframeWeek, TimeframeMonth, TimeframeQuarter, TimeframeYear}
}

// Valid reports whether t is one of the accepted timeframes.
func (t Timeframe) Valid() bool {
	return slices.Contains(Timeframes(), t)
}

// Trend is the qualitative market direction.
type Trend string

const (
	TrendBullish Trend = "bullish"
	TrendBearish Trend = "bearish"
	TrendStable  Trend = "stable"
	TrendUnknown Trend = "unknown"
)

// ParseTrend maps free text onto a Trend.
func ParseTrend(s string) Trend {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bullish":
		return TrendBullish
	case "bearish":
		return TrendBearish
	case "stable", "neutral":
		return TrendStable
	default:
		return TrendUnknown
	}
}

// NewsMetrics is the optional quantitative part of a news item.
type NewsMetrics struct {
	Value string `json:"value,omitempty"`
	Type  string `json:"type,omitempty"`
}

// NewsItem is a structured market news entry.
type NewsItem struct {
	Date        string       `json:"date"`
	Headline    string       `json:"headline"`
	Details     string       `json:"details,omitempty"`
	Category    string       `json:"category,omitempty"`
	PriceImpact string       `json:"price_impact,omitempty"`
	Metrics     *NewsMetrics `json:"metrics,omitempty"`
	Sources     []string     `json:"sources,omitempty"`
}

// Clone copies the item including its metrics and sources.
func (n NewsItem) Clone() NewsItem {
	if n.Metrics != nil {
		m := *n.Metrics
		n.Metrics = &m
	}
	n.Sources = slices.Clone(n.Sources)
	return n
}

// Analysis is the normalized payload of one commodity analysis.
type Analysis struct {
	Commodity      string     `json:"commodity,omitempty"`
	CurrentPrice   string     `json:"current_price"`
	PriceChange    string     `json:"price_change"`
	Trend          Trend      `json:"trend"`
	KeyDrivers     []string   `json:"key_drivers"`
	MarketNews     []NewsItem `json:"market_news"`
	RecentNews     []string   `json:"recent_news,omitempty"`
	PriceOutlook   string     `json:"price_outlook,omitempty"`
	SourceURLs     []string   `json:"source_urls"`
	RawResponse    string     `json:"raw_response,omitempty"`
	ParseError     string     `json:"parse_error,omitempty"`
	ZScore         *float64   `json:"zscore,omitempty"`
	BelowThreshold bool       `json:"below_threshold"`
}

// NewsCount reports how many news entries the analysis carries.
func (a *Analysis) NewsCount() int {
	if a == nil {
		return 0
	}
	if len(a.MarketNews) > 0 {
		return len(a.MarketNews)
	}
	return len(a.RecentNews)
}

// Result is one per-commodity entry of a batch query.
type Result struct {
	Success         bool      `json:"success"`
	Commodity       string    `json:"commodity"`
	Ticker          string    `json:"ticker,omitempty"`
	Sector          string    `json:"sector,omitempty"`
	Timeframe       Timeframe `json:"timeframe,omitempty"`
	Skipped         bool      `json:"skipped,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	Unavailable     bool      `json:"unavailable,omitempty"`
	Error           string    `json:"error,omitempty"`
	ErrorKind       string    `json:"error_kind,omitempty"`
	Data            *Analysis `json:"data,omitempty"`
	CacheDate       string    `json:"cache_date,omitempty"`
	FromCacheOnly   bool      `json:"from_cache_only,omitempty"`
	CachedFromStore bool      `json:"cached_from_store,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Clone returns a deep copy so cached results cannot be mutated by callers.
func (r Result) Clone() Result {
	if r.Data == nil {
		return r
	}
	data := *r.Data
	data.KeyDrivers = slices.Clone(r.Data.KeyDrivers)
	if r.Data.MarketNews != nil {
		data.MarketNews = make([]NewsItem, len(r.Data.MarketNews))
		for i, n := range r.Data.MarketNews {
			data.MarketNews[i] = n.Clone()
		}
	}
	data.RecentNews = slices.Clone(r.Data.RecentNews)
	data.SourceURLs = slices.Clone(r.Data.SourceURLs)
	if r.Data.ZScore != nil {
		z := *r.Data.ZScore
		data.ZScore = &z
	}
	r.Data = &data
	return r
}

// CloneResults deep-copies a result list.
func CloneResults(in []Result) []Result {
	if in == nil {
		return nil
	}
	out := make([]Result, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}

// QueryRecord is a persisted analysis keyed by commodity, timeframe and query date.
type QueryRecord struct {
	Commodity string
	Timeframe Timeframe
	QueryDate time.Time
	Result    Result
	HitCount  int
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the record may no longer be served directly.
func (q QueryRecord) Expired(now time.Time) bool {
	return !now.Before(q.ExpiresAt)
}

// Intelligence is the per-day market summary derived from an analysis.
type Intelligence struct {
	Commodity       string
	AnalysisDate    time.Time
	Trend           Trend
	KeyDrivers      []string
	CurrentPrice    *decimal.Decimal
	PriceUnit       string
	PriceChangePct  *decimal.Decimal
	ConfidenceScore float64
	PriceOutlook    string
	CreatedAt       time.Time
}

// StoredNews is a persisted news row.
type StoredNews struct {
	ID        int64
	Commodity string
	NewsDate  time.Time
	Headline  string
	Summary   string
	Sources   []string
	Sentiment string
	CreatedAt time.Time
}

// DateOnly truncates t to its UTC calendar date.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
