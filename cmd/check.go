package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/naka-gawa/pr-autopilot/internal/domain"
	"github.com/naka-gawa/pr-autopilot/internal/usecase"
)

// checkOutput is what check prints.
type checkOutput struct {
	PRs      []domain.FetchedPR    `json:"prs" yaml:"prs"`
	Applied  usecase.ApplySummary  `json:"applied" yaml:"applied"`
	Resolved *usecase.CheckSummary `json:"resolved,omitempty" yaml:"resolved,omitempty"`
	Failures []failureView         `json:"failures" yaml:"failures"`
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Fetches and classifies your open pull requests",
	Long: `Searches every open pull request you authored, classifies each one
(failing CI, merge conflict, waiting on a maintainer, going dormant, ...),
records the result in the state file and prints it.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		e := setup(cmd)
		prs := e.prFetcher()
		tracker := usecase.NewTracker(e.store, prs, e.logger)

		result, err := prs.FetchUserOpenPRs(ctx, e.store.Config())
		if err != nil {
			fail("Failed to fetch pull requests: %v", err)
		}
		out := checkOutput{
			PRs:      result.PRs,
			Applied:  tracker.ApplyFetched(result.PRs, result.Failures),
			Failures: failureViews(result.Failures),
		}

		// PRs that dropped out of the search were probably merged or closed.
		if len(out.Applied.Missing) > 0 {
			resolved, err := tracker.CheckPRs(ctx, out.Applied.Missing)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Warning: could not resolve %d missing pull requests: %v\n", len(out.Applied.Missing), err)
			} else {
				out.Resolved = resolved
				out.Failures = append(out.Failures, failureViews(resolved.Failures)...)
			}
		}

		e.store.MarkRun()
		e.save()
		printResult(cmd, out)
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
