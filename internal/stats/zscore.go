package stats

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"commodity-intel/internal/model"
)

// Frequency is the native update cadence of a price series.
type Frequency string

const (
	Daily  Frequency = "daily"
	Weekly Frequency = "weekly"
)

// Flag grades the magnitude of a z-score.
type Flag string

const (
	FlagNone    Flag = ""
	FlagNotice  Flag = "notice"
	FlagNotable Flag = "notable"
	FlagExtreme Flag = "extreme"
)

// Point is a single dated price.
type Point struct {
	Date  time.Time
	Price float64
}

// Params tune frequency detection and rolling statistics.
type Params struct {
	LookbackDays   int     `mapstructure:"lookback_days"`
	Window         int     `mapstructure:"window"`
	DailyThreshold float64 `mapstructure:"daily_threshold"`
}

// DefaultParams returns the 90-day lookback, 30-period window, 0.5 threshold set.
func DefaultParams() Params {
	return Params{LookbackDays: 90, Window: 30, DailyThreshold: 0.5}
}

func (p Params) withDefaults() Params {
	def := DefaultParams()
	if p.LookbackDays <= 0 {
		p.LookbackDays = def.LookbackDays
	}
	if p.Window < 2 {
		p.Window = def.Window
	}
	if p.DailyThreshold <= 0 {
		p.DailyThreshold = def.DailyThreshold
	}
	return p
}

// Record is one row of z-score output. Nil fields are undefined at that row.
type Record struct {
	Date        time.Time `json:"date"`
	Price       float64   `json:"price"`
	Frequency   Frequency `json:"frequency"`
	Return      *float64  `json:"return"`
	RollingMean *float64  `json:"rolling_mean"`
	RollingStd  *float64  `json:"rolling_std"`
	ZScore      *float64  `json:"zscore"`
	Flag        Flag      `json:"flag"`
}

// Series converts observations to points ordered by date. Later duplicates win.
func Series(obs []model.PriceObservation) []Point {
	byDate := make(map[time.Time]float64, len(obs))
	for _, o := range obs {
		byDate[model.DateOnly(o.Date)] = o.Price.InexactFloat64()
	}
	points := make([]Point, 0, len(byDate))
	for d, p := range byDate {
		points = append(points, Point{Date: d, Price: p})
	}
	sortPoints(points)
	return points
}

// Classify maps |z| onto a flag; thresholds are inclusive.
func Classify(z float64) Flag {
	a := math.Abs(z)
	switch {
	case math.IsNaN(a):
		return FlagNone
	case a >= 3:
		return FlagExtreme
	case a >= 2:
		return FlagNotable
	case a >= 1:
		return FlagNotice
	default:
		return FlagNone
	}
}

// DetectFrequency classifies a series as daily when the share of non-zero
// period-over-period changes inside the lookback exceeds threshold.
func DetectFrequency(points []Point, lookbackDays int, threshold float64) Frequency {
	pts := sortedCopy(points)
	if len(pts) < 2 {
		return Daily
	}
	cutoff := pts[len(pts)-1].Date.AddDate(0, 0, -lookbackDays)
	start := sort.Search(len(pts), func(i int) bool { return !pts[i].Date.Before(cutoff) })
	recent := pts[start:]
	if len(recent) < 2 {
		return Daily
	}

	var nonZero, total int
	for i := 1; i < len(recent); i++ {
		r := pctChange(recent[i-1].Price, recent[i].Price)
		if math.IsNaN(r) {
			continue
		}
		total++
		if r != 0 {
			nonZero++
		}
	}
	if total == 0 {
		return Daily
	}
	if float64(nonZero)/float64(total) > threshold {
		return Daily
	}
	return Weekly
}

// ZScore computes rolling z-scores directly on period returns without resampling.
func ZScore(points []Point, window int) []Record {
	if window < 2 {
		window = DefaultParams().Window
	}
	pts := sortedCopy(points)
	return compute(pts, window, Daily)
}

// FrequencyAwareZScore computes z-scores at the series' detected cadence. Weekly
// series are resampled to week-ending Friday and the weekly columns are carried
// forward onto the original dates.
func FrequencyAwareZScore(points []Point, params Params) []Record {
	p := params.withDefaults()
	pts := sortedCopy(points)
	freq := DetectFrequency(pts, p.LookbackDays, p.DailyThreshold)
	if freq == Daily {
		return compute(pts, p.Window, Daily)
	}

	weekly := compute(resampleWeekly(pts), p.Window, Weekly)
	out := make([]Record, len(pts))
	var carried Record
	j := -1
	for i, pt := range pts {
		for j+1 < len(weekly) && !weekly[j+1].Date.After(pt.Date) {
			j++
			carried = carryForward(carried, weekly[j])
		}
		rec := carried
		rec.Date = pt.Date
		rec.Price = pt.Price
		rec.Frequency = Weekly
		rec.Flag = FlagNone
		if rec.ZScore != nil {
			rec.Flag = Classify(*rec.ZScore)
		}
		out[i] = rec
	}
	return out
}

// LatestZScore returns the z-score of the most recent return at the detected cadence.
func LatestZScore(points []Point, params Params) (float64, Frequency, bool) {
	p := params.withDefaults()
	pts := sortedCopy(points)
	freq := DetectFrequency(pts, p.LookbackDays, p.DailyThreshold)
	series := pts
	if freq == Weekly {
		series = resampleWeekly(pts)
	}
	recs := compute(series, p.Window, freq)
	if len(recs) == 0 || recs[len(recs)-1].ZScore == nil {
		return 0, freq, false
	}
	return *recs[len(recs)-1].ZScore, freq, true
}

func compute(pts []Point, window int, freq Frequency) []Record {
	returns := make([]float64, len(pts))
	for i := range pts {
		if i == 0 {
			returns[i] = math.NaN()
			continue
		}
		returns[i] = pctChange(pts[i-1].Price, pts[i].Price)
	}

	out := make([]Record, len(pts))
	for i, pt := range pts {
		rec := Record{Date: pt.Date, Price: pt.Price, Frequency: freq, Return: opt(returns[i])}
		if i >= window-1 {
			mean, std := rollingStats(returns[i-window+1 : i+1])
			rec.RollingMean = opt(mean)
			rec.RollingStd = opt(std)
			if !math.IsNaN(returns[i]) && !math.IsNaN(std) && std != 0 {
				z := (returns[i] - mean) / std
				rec.ZScore = opt(z)
				rec.Flag = Classify(z)
			}
		}
		out[i] = rec
	}
	return out
}

func rollingStats(window []float64) (float64, float64) {
	for _, v := range window {
		if math.IsNaN(v) {
			return math.NaN(), math.NaN()
		}
	}
	return stat.MeanStdDev(window, nil)
}

// resampleWeekly buckets points by week-ending Friday keeping the last price per
// week. Weeks without observations are kept as NaN gaps.
func resampleWeekly(pts []Point) []Point {
	if len(pts) == 0 {
		return nil
	}
	first := weekEnding(pts[0].Date)
	last := weekEnding(pts[len(pts)-1].Date)
	weeks := int(last.Sub(first).Hours()/24)/7 + 1

	out := make([]Point, weeks)
	for i := range out {
		out[i] = Point{Date: first.AddDate(0, 0, 7*i), Price: math.NaN()}
	}
	for _, pt := range pts {
		idx := int(weekEnding(pt.Date).Sub(first).Hours()/24) / 7
		out[idx].Price = pt.Price
	}
	return out
}

func weekEnding(t time.Time) time.Time {
	d := model.DateOnly(t)
	offset := (int(time.Friday) - int(d.Weekday()) + 7) % 7
	return d.AddDate(0, 0, offset)
}

func carryForward(prev, next Record) Record {
	if next.Return != nil {
		prev.Return = next.Return
	}
	if next.RollingMean != nil {
		prev.RollingMean = next.RollingMean
	}
	if next.RollingStd != nil {
		prev.RollingStd = next.RollingStd
	}
	if next.ZScore != nil {
		prev.ZScore = next.ZScore
	}
	return prev
}

func pctChange(prev, cur float64) float64 {
	if math.IsNaN(prev) || math.IsNaN(cur) || prev == 0 {
		return math.NaN()
	}
	return (cur - prev) / prev
}

func opt(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func sortedCopy(points []Point) []Point {
	pts := make([]Point, len(points))
	copy(pts, points)
	sortPoints(pts)
	return pts
}

func sortPoints(pts []Point) {
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].Date.Before(pts[j].Date) })
}
