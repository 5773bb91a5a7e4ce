package cmd

import (
	"fmt"

	"github.com/maestro-sh/maestro/internal/config"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show current configuration",
	RunE:  runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(_ *cobra.Command, _ []string) error {
	log := newLogger()
	cfg := loadConfig(log)

	fmt.Printf("  Config file: %s\n", config.ConfigPath())
	if config.Exists() {
		fmt.Println("  Status: loaded")
	} else {
		fmt.Println("  Status: using defaults (no config file)")
	}
	fmt.Println()

	fmt.Println("  [General]")
	fmt.Printf("    Claude directory:  %s\n", cfg.ClaudeDir())
	fmt.Printf("    Include subagents: %v\n", cfg.General.IncludeSubagents)
	if cfg.General.DefaultModel != "" {
		fmt.Printf("    Default model:     %s\n", cfg.General.DefaultModel)
	}
	fmt.Println()

	fmt.Println("  [Stats]")
	fmt.Printf("    Database: %s\n", cfg.DBPath())
	fmt.Println()

	fmt.Println("  [Remotes]")
	if len(cfg.Remotes) == 0 {
		fmt.Println("    None configured")
	}
	for _, rc := range cfg.Remotes {
		dir := rc.ClaudeDir
		if dir == "" {
			dir = "~/.claude"
		}
		fmt.Printf("    %s (%s)\n", rc.Host, dir)
	}
	fmt.Println()

	fmt.Printf("  Pricing overrides: %s\n", config.SettingsPath())
	fmt.Println("  Run `maestro pricing resolve` to inspect effective pricing.")
	return nil
}
