package cmd

import (
	"fmt"
	"time"

	"github.com/maestro-sh/maestro/internal/cli"
	"github.com/maestro-sh/maestro/internal/config"
	"github.com/maestro-sh/maestro/internal/journal"
	"github.com/maestro-sh/maestro/internal/notify"
	"github.com/maestro-sh/maestro/internal/reconstruct"
	"github.com/maestro-sh/maestro/internal/remote"

	"github.com/spf13/cobra"
)

var (
	flagReconDryRun  bool
	flagReconSince   string
	flagReconUntil   string
	flagReconAgentID string
	flagReconRemotes []string
	flagReconLocal   bool
)

var reconstructCmd = &cobra.Command{
	Use:   "reconstruct",
	Short: "Backfill query history from agent journal files",
	Long:  "Parse local and remote JSONL journals and upsert the usage they record into the stats database. Safe to re-run; existing rows are updated in place.",
	RunE:  runReconstruct,
}

func init() {
	reconstructCmd.Flags().BoolVar(&flagReconDryRun, "dry-run", false, "Report what would change without writing")
	reconstructCmd.Flags().StringVar(&flagReconSince, "since", "", "Only include entries on or after this date (YYYY-MM-DD)")
	reconstructCmd.Flags().StringVar(&flagReconUntil, "until", "", "Only include entries before this date (YYYY-MM-DD)")
	reconstructCmd.Flags().StringVar(&flagReconAgentID, "agent-id", "", "Agent id to attribute backfilled rows to")
	reconstructCmd.Flags().StringArrayVar(&flagReconRemotes, "remote", nil, "Remote host to scan (repeatable); uses configured remotes when omitted")
	reconstructCmd.Flags().BoolVar(&flagReconLocal, "local", true, "Scan the local data directory")
	rootCmd.AddCommand(reconstructCmd)
}

func runReconstruct(cmd *cobra.Command, _ []string) error {
	log := newLogger()
	cfg := loadConfig(log)

	since, err := parseDateFlag(flagReconSince)
	if err != nil {
		return fmt.Errorf("invalid --since: %w", err)
	}
	until, err := parseDateFlag(flagReconUntil)
	if err != nil {
		return fmt.Errorf("invalid --until: %w", err)
	}

	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	svc := &reconstruct.Service{
		Store:    store,
		Resolver: newResolver(cfg, log),
		Parser:   &journal.Parser{Log: log},
		Runner:   &remote.SSHRunner{},
		Updated:  notify.New(),
		Log:      log,
	}

	opts := reconstruct.Options{
		IncludeSubagents: !flagNoSubagents,
		Since:            since,
		Until:            until,
		DryRun:           flagReconDryRun,
		AgentID:          flagReconAgentID,
		Remotes:          remoteSources(cfg),
	}
	if flagReconLocal {
		opts.LocalDir = dataDir(cfg)
	}

	if opts.LocalDir == "" && len(opts.Remotes) == 0 {
		return fmt.Errorf("nothing to scan: local disabled and no remotes configured")
	}

	if flagReconDryRun {
		fmt.Println("\n  Dry run: no rows will be written.")
	}

	result, err := svc.Start(cmd.Context(), opts)
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Printf("  %s\n", result.Describe())
	if !result.DateRangeStart.IsZero() {
		fmt.Printf("  Range: %s to %s\n",
			result.DateRangeStart.Format("2006-01-02"),
			result.DateRangeEnd.Format("2006-01-02"))
	}

	if len(result.Errors) > 0 {
		fmt.Println()
		rows := make([][]string, 0, len(result.Errors))
		for _, fe := range result.Errors {
			rows = append(rows, []string{fe.Path, fe.Message})
		}
		fmt.Print(cli.RenderTable(cli.Table{
			Title:   "Files with errors",
			Headers: []string{"File", "Error"},
			Rows:    rows,
		}))
	}

	return nil
}

// remoteSources maps --remote hosts, or the configured remotes when no
// flag is given, to scan sources.
func remoteSources(cfg config.Config) []reconstruct.RemoteSource {
	if len(flagReconRemotes) > 0 {
		sources := make([]reconstruct.RemoteSource, 0, len(flagReconRemotes))
		for _, host := range flagReconRemotes {
			dir := ".claude"
			for _, rc := range cfg.Remotes {
				if rc.Host == host && rc.ClaudeDir != "" {
					dir = rc.ClaudeDir
				}
			}
			sources = append(sources, reconstruct.RemoteSource{Host: host, DataDir: dir})
		}
		return sources
	}

	sources := make([]reconstruct.RemoteSource, 0, len(cfg.Remotes))
	for _, rc := range cfg.Remotes {
		dir := rc.ClaudeDir
		if dir == "" {
			dir = ".claude"
		}
		sources = append(sources, reconstruct.RemoteSource{Host: rc.Host, DataDir: dir})
	}
	return sources
}

func parseDateFlag(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation("2006-01-02", s, time.Local)
}
