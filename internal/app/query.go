package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"commodity-intel/internal/model"
	"commodity-intel/internal/service"
)

// Query runs one gated batch and prints the results.
func (a *App) Query(ctx context.Context, opts QueryOptions) error {
	rt, err := a.newRuntime(ctx, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	commodities, err := rt.catalog.Commodities(ctx)
	if err != nil {
		return err
	}

	ref := model.DateOnly(time.Now())
	var zscores map[string]float64
	if !opts.NoGate {
		if latest, err := rt.prices.LatestPriceDate(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("latest price date unavailable; using today")
		} else if !latest.IsZero() {
			ref = model.DateOnly(latest)
		}
		zscores = service.ZScoreMap(ctx, rt.prices, commodities, a.Config.ZScore, ref, a.Logger)
	}

	results, err := rt.orch.QueryAll(ctx, service.Request{
		Commodities:   opts.Commodities,
		Timeframe:     model.Timeframe(opts.Timeframe),
		ReferenceDate: ref,
		ZScores:       zscores,
		ForceRefresh:  opts.Force,
	})
	if err != nil {
		return err
	}

	if opts.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	return writeResults(os.Stdout, results)
}

func writeResults(out io.Writer, results []model.Result) error {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Commodity\tStatus\tZ\tTrend\tPrice\tChange\tNews\tAs Of\tDetail")

	for _, r := range results {
		z, trend, price, change, news := "-", "-", "-", "-", 0
		if r.Data != nil {
			if r.Data.ZScore != nil {
				z = fmt.Sprintf("%.2f", *r.Data.ZScore)
			}
			trend = string(r.Data.Trend)
			price = orDash(r.Data.CurrentPrice)
			change = orDash(r.Data.PriceChange)
			news = r.Data.NewsCount()
		}
		detail := r.Reason
		if r.Error != "" {
			detail = r.ErrorKind + ": " + r.Error
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			r.Commodity,
			resultStatus(r),
			z,
			orDash(trend),
			price,
			change,
			news,
			orDash(r.CacheDate),
			sanitizeInline(detail),
		)
	}
	return writer.Flush()
}

func resultStatus(r model.Result) string {
	switch {
	case r.Skipped:
		return "skipped"
	case r.Unavailable:
		return "unavailable"
	case !r.Success:
		return "failed"
	case r.FromCacheOnly:
		return "backfill"
	case r.CachedFromStore:
		return "stored"
	default:
		return "queried"
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
