package cli

import (
	"github.com/spf13/cobra"

	"commodity-intel/internal/app"
	"commodity-intel/internal/model"
)

var (
	queryTimeframe string
	queryForce     bool
	queryNoGate    bool
	queryJSON      bool
)

var queryCmd = &cobra.Command{
	Use:   "query [commodity...]",
	Short: "Run one gated analysis batch",
	Long: "Query serves cached or stored analyses and only calls the AI service for commodities\n" +
		"whose latest z-score exceeds the threshold or is unknown. Without arguments every\n" +
		"tracked commodity is processed.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Query(cmd.Context(), app.QueryOptions{
			Commodities: args,
			Timeframe:   queryTimeframe,
			Force:       queryForce,
			NoGate:      queryNoGate,
			JSON:        queryJSON,
		})
	},
}

func init() {
	queryCmd.Flags().StringVar(&queryTimeframe, "timeframe", string(model.TimeframeWeek), "Analysis timeframe (1 week, 1 month, 1 quarter, 1 year)")
	queryCmd.Flags().BoolVar(&queryForce, "force", false, "Bypass the memory cache and same-day stored results")
	queryCmd.Flags().BoolVar(&queryNoGate, "no-gate", false, "Skip z-score gating and query every commodity without data")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "Print results as JSON")
}
