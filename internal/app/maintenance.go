package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"commodity-intel/internal/model"
	"commodity-intel/internal/storage"
)

// Health probes every external dependency and prints the outcome.
func (a *App) Health(ctx context.Context) error {
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer writer.Flush()

	var failed []string

	prices, closePrices, err := a.openPrices(ctx)
	switch {
	case err != nil:
		fmt.Fprintf(writer, "price store\terror\t%s\n", sanitizeInline(err.Error()))
		failed = append(failed, "price store")
	case prices == nil:
		fmt.Fprintln(writer, "price store\tdisabled\tdatabase.dsn not set")
	default:
		defer closePrices()
		if err := prices.Ping(ctx); err != nil {
			fmt.Fprintf(writer, "price store\terror\t%s\n", sanitizeInline(err.Error()))
			failed = append(failed, "price store")
		} else if latest, err := prices.LatestPriceDate(ctx); err != nil {
			fmt.Fprintf(writer, "price store\terror\t%s\n", sanitizeInline(err.Error()))
			failed = append(failed, "price store")
		} else {
			fmt.Fprintf(writer, "price store\tok\tlatest price %s\n", latest.Format(model.DateLayout))
		}
	}

	store, closeStore, err := a.openResults(ctx)
	if err != nil {
		fmt.Fprintf(writer, "result store\terror\t%s\n", sanitizeInline(err.Error()))
		failed = append(failed, "result store")
	} else {
		defer closeStore()
		access := store.Access()
		status := "ok"
		if !access.Read || !access.Write {
			status = "degraded"
		}
		fmt.Fprintf(writer, "result store\t%s\tdriver=%s tables=%t read=%t write=%t %s\n",
			status, a.Config.ResultStore.Driver, access.TablesExist, access.Read, access.Write, access.Reason)
	}

	if _, err := a.newAnalyst(); err != nil {
		fmt.Fprintf(writer, "perplexity\terror\t%s\n", sanitizeInline(err.Error()))
		failed = append(failed, "perplexity")
	} else {
		fmt.Fprintf(writer, "perplexity\tok\tmodel=%s\n", a.Config.Perplexity.Model)
	}

	if len(failed) > 0 {
		return fmt.Errorf("unhealthy: %v", failed)
	}
	return nil
}

// ClearCache deletes persisted query results for one commodity, or all when empty.
func (a *App) ClearCache(ctx context.Context, commodity string) error {
	store, closeStore, err := a.openResults(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	n, err := store.ClearCache(ctx, commodity)
	if err != nil {
		return err
	}
	target := commodity
	if target == "" {
		target = "all commodities"
	}
	fmt.Fprintf(os.Stdout, "deleted %d cached results for %s\n", n, target)
	return nil
}

// Migrate creates the result store tables.
func (a *App) Migrate(ctx context.Context) error {
	backend, err := storage.OpenBackend(ctx, a.Config)
	if err != nil {
		return err
	}
	if backend == nil {
		return errors.New("result_store.driver is none; nothing to migrate")
	}
	defer backend.Close()

	if err := backend.Migrate(ctx); err != nil {
		return err
	}
	a.Logger.Info().Str("driver", a.Config.ResultStore.Driver).Msg("result store migrated")
	return nil
}
