// Package cli implements the ratcrowler command line surface: flag
// parsing and logger setup, delegating the actual run to internal/app.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/TheBoringRats/ratcrowler/internal/app"
	"github.com/TheBoringRats/ratcrowler/internal/config"
	"github.com/TheBoringRats/ratcrowler/internal/logring"
	"github.com/spf13/cobra"
)

var (
	databasesPath string
	seedsPath     string
	progressPath  string
	reset         bool
	status        bool
	startPage     int
	maxPages      int
	batchSize     int
	metricsPort   int
)

// Ring is the process-wide log ring that backs a future --status-style
// log inspection surface; the handler installed by Execute mirrors every
// slog record into it.
var Ring = logring.New(logring.DefaultCapacity)

var rootCmd = &cobra.Command{
	Use:   "ratcrowler",
	Short: "Crawls seed URLs, extracts backlinks, and scores domain authority.",
	Long: `ratcrowler crawls a set of seed URLs breadth-first, respecting
robots.txt, extracts the backlink graph from discovered pages, and scores
it with PageRank and domain authority. Results are written across a
quota-aware, round-robin pool of remote SQLite-compatible databases.`,
	Run: func(cmd *cobra.Command, args []string) {
		logger := newLogger()
		slog.SetDefault(logger)

		dbPath := databasesPath
		if !cmd.Flags().Changed("databases") {
			if env := config.LoadEnv(); env.JSONPath != "" {
				dbPath = env.JSONPath
			}
		}

		opts := app.Options{
			DatabasesPath: dbPath,
			SeedsPath:     seedsPath,
			ProgressPath:  progressPath,
			Reset:         reset,
			Status:        status,
			StartPage:     startPage,
			MaxPages:      maxPages,
			BatchSize:     batchSize,
			MetricsPort:   metricsPort,
		}

		code := app.Run(context.Background(), opts, logger)
		os.Exit(code)
	},
}

func newLogger() *slog.Logger {
	base := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	return slog.New(logring.NewHandler(base, Ring))
}

// Execute runs the root command. Called once from cmd/ratcrowler/main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&databasesPath, "databases", "databases.json", "path to the backend database registry")
	rootCmd.PersistentFlags().StringVar(&seedsPath, "seeds", "seed_urls.json", "path to the seed URL file")
	rootCmd.PersistentFlags().StringVar(&progressPath, "progress", "crawl_progress.json", "path to the local progress file")
	rootCmd.PersistentFlags().BoolVar(&reset, "reset", false, "clear saved progress and exit")
	rootCmd.PersistentFlags().BoolVar(&status, "status", false, "print current progress and exit")
	rootCmd.PersistentFlags().IntVar(&startPage, "start-page", 0, "override the starting URL page for this run (0 keeps the saved value)")
	rootCmd.PersistentFlags().IntVar(&maxPages, "max-pages", 0, "stop after this many URLs in this run (0 for unlimited)")
	rootCmd.PersistentFlags().IntVar(&batchSize, "batch-size", 0, "override the URL page size for this run (0 keeps the saved value)")
	rootCmd.PersistentFlags().IntVar(&metricsPort, "metrics-port", 0, "expose Prometheus metrics on this port (0 disables)")
}

// ResetFlags restores every flag to its default, for use between test cases.
func ResetFlags() {
	databasesPath = "databases.json"
	seedsPath = "seed_urls.json"
	progressPath = "crawl_progress.json"
	reset = false
	status = false
	startPage = 0
	maxPages = 0
	batchSize = 0
	metricsPort = 0
}

// SetDatabasesPathForTest overrides databasesPath for a test case.
func SetDatabasesPathForTest(path string) { databasesPath = path }

// SetSeedsPathForTest overrides seedsPath for a test case.
func SetSeedsPathForTest(path string) { seedsPath = path }

// SetProgressPathForTest overrides progressPath for a test case.
func SetProgressPathForTest(path string) { progressPath = path }
