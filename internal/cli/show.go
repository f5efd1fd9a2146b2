package cli

import (
	"github.com/spf13/cobra"

	"commodity-intel/internal/app"
	"commodity-intel/internal/model"
)

var (
	showCommodity string
	showTimeframe string
	showNews      bool

	zscoresAsOf string
	zscoresJSON bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display stored analyses",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ShowOptions{
			Commodity: showCommodity,
			Timeframe: showTimeframe,
			News:      showNews,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

var zscoresCmd = &cobra.Command{
	Use:   "zscores",
	Short: "Display the latest frequency-aware z-score per commodity",
	RunE: func(cmd *cobra.Command, args []string) error {
		asOf, err := dateFlag("as-of", zscoresAsOf)
		if err != nil {
			return err
		}
		return getApp().ZScores(cmd.Context(), app.ZScoreOptions{AsOf: asOf, JSON: zscoresJSON})
	},
}

func init() {
	showCmd.Flags().StringVar(&showCommodity, "commodity", "", "Commodity name or ticker (default all)")
	showCmd.Flags().StringVar(&showTimeframe, "timeframe", string(model.TimeframeWeek), "Analysis timeframe")
	showCmd.Flags().BoolVar(&showNews, "news", false, "Also list stored news inside the backfill window")

	zscoresCmd.Flags().StringVar(&zscoresAsOf, "as-of", "", "Reference date (YYYY-MM-DD, defaults to latest price date)")
	zscoresCmd.Flags().BoolVar(&zscoresJSON, "json", false, "Print entries as JSON")
}
