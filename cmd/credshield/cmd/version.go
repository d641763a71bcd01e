package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var plainVersion bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	RunE: func(cmd *cobra.Command, args []string) error {
		if plainVersion {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
			return nil
		}
		printBanner(cmd.OutOrStdout())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVar(&plainVersion, "short", false, "Print only the version string")
}
