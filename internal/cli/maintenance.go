package cli

import (
	"github.com/spf13/cobra"
)

var clearCommodity string

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check price store, result store and AI service configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Health(cmd.Context())
	},
}

var clearCacheCmd = &cobra.Command{
	Use:   "clear-cache",
	Short: "Delete persisted query results",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ClearCache(cmd.Context(), clearCommodity)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the result store tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Migrate(cmd.Context())
	},
}

func init() {
	clearCacheCmd.Flags().StringVar(&clearCommodity, "commodity", "", "Only clear this commodity")
}
