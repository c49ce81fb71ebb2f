package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/naka-gawa/pr-autopilot/internal/domain"
	"github.com/naka-gawa/pr-autopilot/internal/usecase"
)

var digestCmd = &cobra.Command{
	Use:   "digest",
	Short: "Summarizes your open pull requests by what they need",
	Long: `Fetches and classifies your open pull requests, then groups them into
needs attention, going dormant, waiting and healthy, with per repository
counts and idle-time statistics. The digest is cached in the state file.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		e := setup(cmd)
		prs := e.prFetcher()
		tracker := usecase.NewTracker(e.store, prs, e.logger)

		result, err := prs.FetchUserOpenPRs(ctx, e.store.Config())
		if err != nil {
			fail("Failed to fetch pull requests: %v", err)
		}
		for _, f := range result.Failures {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", f)
		}
		tracker.ApplyFetched(result.PRs, result.Failures)

		top, _ := cmd.Flags().GetInt("top")
		generator := usecase.NewDigestGenerator(domain.RealClock{}, e.logger, top)
		digest := generator.Generate(result.PRs, e.store.GetStats(), e.store.Scores().Top(-1))

		e.store.SetLastDigest(digest)
		e.store.MarkRun()
		e.save()
		printResult(cmd, digest)
	},
}

func init() {
	rootCmd.AddCommand(digestCmd)
	digestCmd.Flags().Int("top", 5, "Number of best scoring repositories to include")
}
