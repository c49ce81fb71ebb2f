package cmd

import (
	"github.com/spf13/cobra"

	"github.com/naka-gawa/pr-autopilot/internal/domain"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Shows or changes the tracking preferences",
	Long: `Shows the preferences stored in the state file. Pass flags to change
them; only the flags given are updated.`,
	Example: `  pr-autopilot config --user octocat
  pr-autopilot config --exclude-org my-company --dormant-days 45`,
	Run: func(cmd *cobra.Command, args []string) {
		e := setup(cmd)
		flags := cmd.Flags()

		changed := false
		for _, name := range []string{"user", "exclude-repo", "exclude-org", "dormant-days", "approaching-days"} {
			changed = changed || flags.Changed(name)
		}
		if !changed {
			printResult(cmd, e.store.Config())
			return
		}

		cfg := e.store.UpdateConfig(func(cfg *domain.Config) {
			if flags.Changed("user") {
				cfg.GithubUsername, _ = flags.GetString("user")
			}
			if flags.Changed("exclude-repo") {
				cfg.ExcludeRepos, _ = flags.GetStringSlice("exclude-repo")
			}
			if flags.Changed("exclude-org") {
				cfg.ExcludeOrgs, _ = flags.GetStringSlice("exclude-org")
			}
			if flags.Changed("dormant-days") {
				cfg.DormantThresholdDays, _ = flags.GetInt("dormant-days")
			}
			if flags.Changed("approaching-days") {
				cfg.ApproachingDormantDays, _ = flags.GetInt("approaching-days")
			}
		})
		e.save()
		printResult(cmd, cfg)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.Flags().StringP("user", "u", "", "Your GitHub login")
	configCmd.Flags().StringSlice("exclude-repo", nil, "Repositories (owner/name) to ignore; replaces the current list")
	configCmd.Flags().StringSlice("exclude-org", nil, "Organizations to ignore; replaces the current list")
	configCmd.Flags().Int("dormant-days", domain.DefaultDormantThresholdDays, "Days without activity before a pull request is dormant")
	configCmd.Flags().Int("approaching-days", domain.DefaultApproachingDormantDays, "Days without activity before a pull request is approaching dormant")
}
