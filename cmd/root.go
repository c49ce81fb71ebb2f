// Package cmd contains all the CLI commands for the application,
// built using the Cobra library.
package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/naka-gawa/pr-autopilot/internal/config"
	"github.com/naka-gawa/pr-autopilot/internal/domain"
	"github.com/naka-gawa/pr-autopilot/internal/gateway"
	"github.com/naka-gawa/pr-autopilot/internal/state"
	"github.com/naka-gawa/pr-autopilot/internal/usecase"
)

var rootCmd = &cobra.Command{
	Use:   "pr-autopilot",
	Short: "A CLI tool to keep track of your open-source pull requests.",
	Long: `pr-autopilot tracks the pull requests you opened on other people's
repositories, classifies their health (CI, review, conflicts, silence) and
keeps the result in a local state file between runs.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	// Add a persistent flag for verbose output, available to all commands.
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose/debug logging")
	rootCmd.PersistentFlags().String("state-dir", "", "Directory holding state.json and its backups (default ~/.pr-autopilot)")
	rootCmd.PersistentFlags().Int("concurrency", usecase.DefaultConcurrency, "Maximum number of pull requests fetched in parallel")
	rootCmd.PersistentFlags().Duration("task-timeout", 2*time.Minute, "Per pull request fetch timeout (0 disables it)")
	rootCmd.PersistentFlags().StringP("format", "f", "json", "Output format: json or yaml")
}

// env is what every command needs: settings, a logger and the loaded store.
type env struct {
	settings *config.Settings
	logger   *log.Logger
	store    *state.Store
}

// newLogger discards everything unless --verbose is set.
func newLogger(cmd *cobra.Command) *log.Logger {
	verbose, _ := cmd.Flags().GetBool("verbose")
	logger := log.New(io.Discard, "", log.LstdFlags)
	if verbose {
		logger.SetOutput(os.Stderr)
	}
	return logger
}

// setup resolves settings and loads the state store.
func setup(cmd *cobra.Command) *env {
	logger := newLogger(cmd)
	settings, err := config.Load(cmd.Flags())
	if err != nil {
		fail("Failed to load settings: %v", err)
	}

	store := state.New(state.Options{
		Dir:       settings.StateDir,
		LegacyDir: settings.LegacyStateDir,
		Logger:    logger,
	})
	result, err := store.Load()
	if err != nil {
		fail("Failed to load state: %v", err)
	}
	switch result.Source {
	case state.SourceBackup:
		fmt.Fprintf(os.Stderr, "Warning: state file was unreadable and has been restored from %s\n", result.Backup)
	case state.SourceFresh:
		if result.CorruptPath != "" {
			fmt.Fprintf(os.Stderr, "Warning: state file was unreadable (kept as %s) and no backup could be used; starting fresh\n", result.CorruptPath)
		}
	}
	if result.Dropped > 0 {
		fmt.Fprintf(os.Stderr, "Warning: dropped %d duplicate pull request entries from the state file\n", result.Dropped)
	}
	return &env{settings: settings, logger: logger, store: store}
}

// client builds the GitHub gateway. A token is required.
func (e *env) client() gateway.Fetcher {
	if e.settings.Token == "" {
		fail("Error: GITHUB_TOKEN environment variable is not set.")
	}
	gw, err := gateway.NewGitHubGateway(e.settings.Token, e.logger)
	if err != nil {
		fail("Failed to create GitHub gateway: %v", err)
	}
	return gw
}

func (e *env) prFetcher() *usecase.PRFetcher {
	return usecase.NewPRFetcher(e.client(), domain.RealClock{}, e.logger, usecase.FetchOptions{
		Concurrency: e.settings.Concurrency,
		TaskTimeout: e.settings.TaskTimeout,
	})
}

// save persists the state. A failed save is reported but does not abort the
// command: the in-memory result is still printed.
func (e *env) save() {
	err := e.store.Save()
	if err == nil {
		return
	}
	var saveErr *domain.SaveError
	if errors.As(err, &saveErr) {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", saveErr)
		return
	}
	fmt.Fprintf(os.Stderr, "Warning: failed to save state: %v\n", err)
}

// failureView is the printable form of a PartialFetchFailure.
type failureView struct {
	URL   string `json:"url" yaml:"url"`
	Error string `json:"error" yaml:"error"`
}

func failureViews(failures []domain.PartialFetchFailure) []failureView {
	views := make([]failureView, 0, len(failures))
	for _, f := range failures {
		views = append(views, failureView{URL: f.URL, Error: f.Err.Error()})
	}
	return views
}

// printResult writes v to stdout in the format chosen with --format.
func printResult(cmd *cobra.Command, v any) {
	format, _ := cmd.Flags().GetString("format")
	var (
		data []byte
		err  error
	)
	switch format {
	case "yaml", "yml":
		data, err = yaml.Marshal(v)
	case "json", "":
		// Marshal the results into a pretty-printed JSON string.
		data, err = json.MarshalIndent(v, "", "  ")
		data = append(data, '\n')
	default:
		fail("Unknown --format %q (use json or yaml)", format)
	}
	if err != nil {
		fail("Failed to marshal results: %v", err)
	}
	fmt.Print(string(data))
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
