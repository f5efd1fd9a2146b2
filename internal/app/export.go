package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"commodity-intel/internal/model"
	"commodity-intel/internal/service"
	"commodity-intel/internal/stats"
)

// Export renders a commodity's price history and z-scores as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.Commodity == "" {
		return errors.New("--commodity is required")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	prices, closePrices, err := a.openPrices(ctx)
	if err != nil {
		return err
	}
	if prices == nil {
		return errors.New("database not configured; cannot export")
	}
	defer closePrices()

	commodities, err := prices.ListCommodities(ctx)
	if err != nil {
		return err
	}
	selected := filterCommodities(commodities, opts.Commodity)
	if len(selected) == 0 {
		return fmt.Errorf("commodity %q not found", opts.Commodity)
	}
	c := selected[0]

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.AddDate(0, 0, -service.HistoryDays(a.Config.ZScore))
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	obs, err := prices.PriceSeries(ctx, c.Ticker, from, to)
	if err != nil {
		return err
	}
	if len(obs) == 0 {
		a.Logger.Info().Str("ticker", c.Ticker).Msg("no prices found for export window")
		return nil
	}

	records := stats.FrequencyAwareZScore(stats.Series(obs), a.Config.ZScore)
	exported := downsampleRecords(records, opts.MaxPoints)
	a.Logger.Info().
		Str("ticker", c.Ticker).
		Int("total", len(records)).
		Int("exported", len(exported)).
		Msg("exporting price history")

	if opts.CSVPath != "" {
		if err := writeRecordsCSV(opts.CSVPath, c, exported); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeRecordsPNG(opts.PNGPath, c, exported); err != nil {
			return err
		}
	}

	return nil
}

func downsampleRecords(records []stats.Record, max int) []stats.Record {
	if max <= 0 || len(records) <= max {
		return records
	}
	if max == 1 {
		return records[len(records)-1:]
	}

	result := make([]stats.Record, 0, max)
	step := float64(len(records)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(records) {
			idx = len(records) - 1
		}
		result = append(result, records[idx])
	}
	return result
}

func writeRecordsCSV(path string, c model.Commodity, records []stats.Record) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{"date", "ticker", "price", "frequency", "return", "rolling_mean", "rolling_std", "zscore", "flag"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, r := range records {
		record := []string{
			r.Date.Format(model.DateLayout),
			c.Ticker,
			strconv.FormatFloat(r.Price, 'f', -1, 64),
			string(r.Frequency),
			formatOptional(r.Return),
			formatOptional(r.RollingMean),
			formatOptional(r.RollingStd),
			formatOptional(r.ZScore),
			string(r.Flag),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeRecordsPNG(path string, c model.Commodity, records []stats.Record) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, 0, len(records))
	price := make([]float64, 0, len(records))
	zx := make([]time.Time, 0, len(records))
	z := make([]float64, 0, len(records))

	for _, r := range records {
		if math.IsNaN(r.Price) {
			continue
		}
		x = append(x, r.Date)
		price = append(price, r.Price)
		if r.ZScore != nil {
			zx = append(zx, r.Date)
			z = append(z, *r.ZScore)
		}
	}
	if len(x) < 2 {
		return errors.New("not enough points to render a chart")
	}

	series := []chart.Series{
		chart.TimeSeries{
			Name:    c.Name,
			XValues: x,
			YValues: price,
		},
	}
	if len(zx) >= 2 {
		series = append(series, chart.TimeSeries{
			Name:    "Z-score",
			XValues: zx,
			YValues: z,
			YAxis:   chart.YAxisSecondary,
		})
	}

	priceName := "Price"
	if c.Unit != "" {
		priceName = "Price (" + c.Unit + ")"
	}
	graph := chart.Chart{
		Title:  fmt.Sprintf("%s (%s)", c.Name, c.Ticker),
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: priceName,
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.2f")
			},
		},
		YAxisSecondary: chart.YAxis{
			Name: "Z-score",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.1f")
			},
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 6, 64)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
