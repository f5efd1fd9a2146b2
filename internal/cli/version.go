package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"commodity-intel/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", cmd.Root().Name(), version.String())
	},
}
