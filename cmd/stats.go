package cmd

import (
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Shows a summary of the tracked state",
	Long:  `Shows how many pull requests are active, dormant, merged and closed, the merge rate and when the last run happened. No network access is needed.`,
	Run: func(cmd *cobra.Command, args []string) {
		e := setup(cmd)
		printResult(cmd, e.store.GetStats())
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
