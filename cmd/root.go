// Package cmd implements the maestro CLI commands.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/maestro-sh/maestro/internal/auth"
	"github.com/maestro-sh/maestro/internal/config"
	"github.com/maestro-sh/maestro/internal/pricing"
	"github.com/maestro-sh/maestro/internal/stats"

	"github.com/spf13/cobra"
)

var (
	flagDays        int
	flagDataDir     string
	flagDBPath      string
	flagVerbose     bool
	flagNoSubagents bool
)

var rootCmd = &cobra.Command{
	Use:   "maestro",
	Short: "Usage and cost reconciliation for AI coding agents",
	Long:  "Track token usage and billing costs across agent sessions, reconstruct history from journals, and audit locally computed costs against provider-reported ones.",
	RunE:  runSummary,
}

// Execute is the main entry point called from main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().IntVarP(&flagDays, "days", "n", 30, "Time window in days")
	rootCmd.PersistentFlags().StringVarP(&flagDataDir, "data-dir", "d", "", "Claude data directory (default ~/.claude)")
	rootCmd.PersistentFlags().StringVar(&flagDBPath, "db", "", "Stats database path")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&flagNoSubagents, "no-subagents", false, "Exclude subagent sessions")
}

func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if flagVerbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// loadConfig degrades to defaults when the config file is unreadable,
// downgrading the failure to a warning.
func loadConfig(log *slog.Logger) config.Config {
	cfg, err := config.Load()
	if err != nil {
		log.Warn("config unreadable, using defaults", "path", config.ConfigPath(), "error", err)
	}
	return cfg
}

func dataDir(cfg config.Config) string {
	if flagDataDir != "" {
		return flagDataDir
	}
	return cfg.ClaudeDir()
}

func dbPath(cfg config.Config) string {
	if flagDBPath != "" {
		return flagDBPath
	}
	return cfg.DBPath()
}

func openStore(cfg config.Config, log *slog.Logger) (*stats.Store, error) {
	store, err := stats.Open(dbPath(cfg), stats.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("opening stats database: %w", err)
	}
	return store, nil
}

func newResolver(cfg config.Config, log *slog.Logger) *pricing.Resolver {
	return &pricing.Resolver{
		Configs:      &config.PricingStore{KV: config.NewFileStore(config.SettingsPath())},
		Detector:     &auth.LocalDetector{ClaudeDir: dataDir(cfg)},
		Log:          log,
		DefaultModel: cfg.General.DefaultModel,
	}
}

// timeWindow returns the [since, until) range selected by --days.
func timeWindow() (time.Time, time.Time) {
	now := time.Now()
	return now.AddDate(0, 0, -flagDays), now
}
