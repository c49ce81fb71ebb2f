package cmd

import (
	"github.com/spf13/cobra"
)

var untrackCmd = &cobra.Command{
	Use:   "untrack <pull-request-url>...",
	Short: "Stops tracking pull requests",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e := setup(cmd)
		for _, url := range args {
			if err := e.store.UntrackPR(url); err != nil {
				e.save()
				fail("Failed to untrack %s: %v", url, err)
			}
		}
		e.save()
		printResult(cmd, e.store.GetStats())
	},
}

func init() {
	rootCmd.AddCommand(untrackCmd)
}
