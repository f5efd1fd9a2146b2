package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"commodity-intel/internal/alerting"
	"commodity-intel/internal/model"
	"commodity-intel/internal/stats"
)

// SimulateOptions describe a synthetic anomaly.
type SimulateOptions struct {
	Commodity string
	Ticker    string
	ZScore    float64
	DryRun    bool
}

// SimulateAlert renders and dispatches an alert for a synthetic z-score so
// channels can be checked without waiting for a real anomaly.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if opts.Commodity == "" {
		return errors.New("--commodity is required")
	}

	note := alerting.Notification{
		RunID:     uuid.NewString(),
		AsOf:      model.DateOnly(time.Now()),
		Commodity: opts.Commodity,
		Ticker:    opts.Ticker,
		ZScore:    decimal.NewFromFloat(opts.ZScore),
		Threshold: decimal.NewFromFloat(a.Config.Alerting.ZScoreThreshold),
		Flag:      string(stats.Classify(opts.ZScore)),
		Trend:     "simulated",
		Channels:  a.Config.Alerting.Channels,
	}

	if opts.DryRun {
		fmt.Fprint(os.Stdout, alerting.RenderMessage(note))
		return nil
	}

	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is disabled")
	}
	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("no alert channel configured")
	}
	return notifier.Notify(ctx, note)
}
