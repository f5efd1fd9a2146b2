package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"commodity-intel/internal/model"
	"commodity-intel/internal/service"
)

// Show prints the newest stored analysis per commodity and, optionally, the stored news.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	rt, err := a.newRuntime(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	if !rt.store.HasReadAccess() {
		return fmt.Errorf("result store not readable: %s", rt.store.Access().Reason)
	}

	commodities, err := rt.catalog.Commodities(ctx)
	if err != nil {
		return err
	}
	selected := filterCommodities(commodities, opts.Commodity)
	if len(selected) == 0 {
		return fmt.Errorf("commodity %q not found", opts.Commodity)
	}

	tf := model.Timeframe(opts.Timeframe)
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Commodity\tTimeframe\tQuery Date\tTrend\tPrice\tChange\tHits\tExpires (UTC)")

	for _, c := range selected {
		rec, err := rt.store.GetRecentResult(ctx, c.Name, tf)
		if err != nil {
			return err
		}
		if rec == nil {
			fmt.Fprintf(writer, "%s\t%s\t-\t-\t-\t-\t-\t-\n", c.Name, tf)
			continue
		}
		trend, price, change := "-", "-", "-"
		if d := rec.Result.Data; d != nil {
			trend, price, change = string(d.Trend), orDash(d.CurrentPrice), orDash(d.PriceChange)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			c.Name,
			rec.Timeframe,
			rec.QueryDate.Format(model.DateLayout),
			trend,
			price,
			change,
			rec.HitCount,
			rec.ExpiresAt.UTC().Format(time.RFC3339),
		)
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	if !opts.News {
		return nil
	}
	for _, c := range selected {
		news, err := rt.store.GetWeeklyNews(ctx, c.Name, 0)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "\n%s: %d stored news items\n", c.Name, len(news))
		nw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, n := range news {
			fmt.Fprintf(nw, "  %s\t%s\t%s\n", n.NewsDate.Format(model.DateLayout), orDash(n.Sentiment), sanitizeInline(n.Headline))
		}
		if err := nw.Flush(); err != nil {
			return err
		}
	}
	return nil
}

// ZScores prints the latest z-score per commodity.
func (a *App) ZScores(ctx context.Context, opts ZScoreOptions) error {
	prices, closePrices, err := a.openPrices(ctx)
	if err != nil {
		return err
	}
	if prices == nil {
		return errors.New("database not configured; cannot compute z-scores")
	}
	defer closePrices()

	commodities, err := prices.ListCommodities(ctx)
	if err != nil {
		return err
	}

	var asOf time.Time
	if opts.AsOf != nil {
		asOf = *opts.AsOf
	} else if asOf, err = prices.LatestPriceDate(ctx); err != nil {
		return err
	}
	if asOf.IsZero() {
		asOf = time.Now()
	}

	entries := service.LatestZScores(ctx, prices, commodities, a.Config.ZScore, asOf, a.Logger)
	if opts.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	threshold := a.Config.Analysis.ZScoreThreshold
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "As of %s (gate |z| > %.2f)\n", model.DateOnly(asOf).Format(model.DateLayout), threshold)
	fmt.Fprintln(writer, "Commodity\tTicker\tSector\tCadence\tZ-Score\tFlag\tGate")
	for _, e := range entries {
		gate := "skip"
		if e.ZScore > threshold || e.ZScore < -threshold {
			gate = "query"
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%.3f\t%s\t%s\n", e.Commodity, e.Ticker, orDash(e.Sector), e.Frequency, e.ZScore, orDash(string(e.Flag)), gate)
	}
	return writer.Flush()
}

func filterCommodities(all []model.Commodity, name string) []model.Commodity {
	name = strings.TrimSpace(name)
	if name == "" {
		return all
	}
	for _, c := range all {
		if strings.EqualFold(c.Name, name) || strings.EqualFold(c.Ticker, name) {
			return []model.Commodity{c}
		}
	}
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
