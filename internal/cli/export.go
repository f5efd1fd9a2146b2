package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"commodity-intel/internal/app"
	"commodity-intel/internal/model"
)

var (
	exportCommodity string
	exportFrom      string
	exportTo        string
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a commodity's price and z-score history to CSV and/or a PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := dateFlag("from", exportFrom)
		if err != nil {
			return err
		}
		to, err := dateFlag("to", exportTo)
		if err != nil {
			return err
		}

		return getApp().Export(cmd.Context(), app.ExportOptions{
			Commodity: exportCommodity,
			From:      from,
			To:        to,
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
		})
	},
}

// dateFlag parses an optional YYYY-MM-DD flag value. Empty yields nil.
func dateFlag(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(model.DateLayout, value)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s value: %w", name, err)
	}
	return &t, nil
}

func init() {
	exportCmd.Flags().StringVar(&exportCommodity, "commodity", "", "Commodity name or ticker")
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "First price date (YYYY-MM-DD, inclusive)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "Last price date (YYYY-MM-DD, inclusive)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Chart output path")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "CSV output path")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Downsample to at most this many rows (defaults to export.max_data_points)")
}
