package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/naka-gawa/pr-autopilot/internal/usecase"
)

type syncOutput struct {
	Added    []string              `json:"added" yaml:"added"`
	Check    *usecase.CheckSummary `json:"check" yaml:"check"`
	Failures []failureView         `json:"failures" yaml:"failures"`
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Tracks new pull requests and re-checks every tracked one",
	Long: `Adds open pull requests found by search to the state, then checks each
tracked pull request one by one and moves it to merged, closed, dormant or
back to active as GitHub reports.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		e := setup(cmd)
		tracker := usecase.NewTracker(e.store, e.prFetcher(), e.logger)

		added, err := tracker.SyncPRs(ctx)
		if err != nil {
			fail("Failed to sync pull requests: %v", err)
		}
		summary, err := tracker.CheckAllPRs(ctx)
		if err != nil {
			// Keep what SyncPRs added.
			e.save()
			fail("Failed to check pull requests: %v", err)
		}

		e.store.MarkRun()
		e.save()
		printResult(cmd, syncOutput{Added: added, Check: summary, Failures: failureViews(summary.Failures)})
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
