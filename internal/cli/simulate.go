package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"commodity-intel/internal/app"
)

var (
	simulateCommodity string
	simulateTicker    string
	simulateZScore    float64
	simulateDryRun    bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Send an alert for a synthetic z-score",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateZScore == 0 {
			return errors.New("--zscore must be non-zero")
		}
		return getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			Commodity: simulateCommodity,
			Ticker:    simulateTicker,
			ZScore:    simulateZScore,
			DryRun:    simulateDryRun,
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateCommodity, "commodity", "", "Commodity name")
	simulateCmd.Flags().StringVar(&simulateTicker, "ticker", "", "Commodity ticker")
	simulateCmd.Flags().Float64Var(&simulateZScore, "zscore", 0, "Synthetic z-score")
	simulateCmd.Flags().BoolVar(&simulateDryRun, "dry-run", false, "Print the message instead of sending it")
}
