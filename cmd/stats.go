package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/maestro-sh/maestro/internal/cli"
	"github.com/maestro-sh/maestro/internal/stats"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Usage breakdowns from the stats database",
}

var statsDailyCmd = &cobra.Command{
	Use:   "daily",
	Short: "Daily usage table",
	RunE:  runStatsDaily,
}

var statsAgentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Usage by agent",
	RunE:  runStatsAgents,
}

var statsSessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Usage by session",
	RunE:  runStatsSessions,
}

var flagSessionLimit int

func init() {
	statsSessionsCmd.Flags().IntVar(&flagSessionLimit, "limit", 20, "Max sessions to show")

	statsCmd.AddCommand(statsDailyCmd)
	statsCmd.AddCommand(statsAgentsCmd)
	statsCmd.AddCommand(statsSessionsCmd)
	rootCmd.AddCommand(statsCmd)
}

func aggregateRows(ctx context.Context, fn func(context.Context, time.Time, time.Time) ([]stats.AggRow, error)) ([]stats.AggRow, error) {
	since, until := timeWindow()
	return fn(ctx, since, until)
}

func runStatsDaily(cmd *cobra.Command, _ []string) error {
	log := newLogger()
	cfg := loadConfig(log)

	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	days, err := aggregateRows(cmd.Context(), store.AggregateByDay)
	if err != nil {
		return err
	}
	if len(days) == 0 {
		fmt.Println("\n  No data for the selected period.")
		return nil
	}

	fmt.Println()
	fmt.Println(cli.RenderTitle(fmt.Sprintf("DAILY USAGE  Last %dd", flagDays)))
	fmt.Println()

	rows := make([][]string, 0, len(days))
	for _, d := range days {
		day := ""
		if t, err := time.Parse("2006-01-02", d.Key); err == nil {
			day = cli.FormatDayOfWeek(int(t.Weekday()))
		}
		rows = append(rows, []string{
			d.Key,
			day,
			cli.FormatNumber(d.Queries),
			cli.FormatTokens(d.TotalTokens),
			cli.FormatThroughput(d.AvgTokensPerSecond),
			cli.FormatCost(d.AnthropicCostUSD),
			cli.FormatCost(d.MaestroCostUSD),
		})
	}

	fmt.Print(cli.RenderTable(cli.Table{
		Headers: []string{"Date", "Day", "Queries", "Tokens", "Throughput", "Provider", "Computed"},
		Rows:    rows,
	}))

	return nil
}

func runStatsAgents(cmd *cobra.Command, _ []string) error {
	log := newLogger()
	cfg := loadConfig(log)

	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	types, err := aggregateRows(cmd.Context(), store.AggregateByAgentType)
	if err != nil {
		return err
	}
	agents, err := aggregateRows(cmd.Context(), store.AggregateByAgentID)
	if err != nil {
		return err
	}
	if len(agents) == 0 {
		fmt.Println("\n  No data for the selected period.")
		return nil
	}

	fmt.Println()
	fmt.Println(cli.RenderTitle(fmt.Sprintf("AGENT USAGE  Last %dd", flagDays)))
	fmt.Println()

	typeRows := make([][]string, 0, len(types))
	for _, t := range types {
		typeRows = append(typeRows, []string{
			t.Key,
			cli.FormatNumber(t.Queries),
			cli.FormatTokens(t.TotalTokens),
			cli.FormatCost(t.AnthropicCostUSD),
			cli.FormatCost(t.MaestroCostUSD),
		})
	}
	fmt.Print(cli.RenderTable(cli.Table{
		Title:   "By agent type",
		Headers: []string{"Type", "Queries", "Tokens", "Provider", "Computed"},
		Rows:    typeRows,
	}))
	fmt.Println()

	agentRows := make([][]string, 0, len(agents))
	for _, a := range agents {
		agentRows = append(agentRows, []string{
			a.Key,
			cli.FormatNumber(a.Queries),
			cli.FormatTokens(a.TotalTokens),
			cli.FormatThroughput(a.AvgTokensPerSecond),
			cli.FormatCost(a.MaestroCostUSD),
		})
	}
	fmt.Print(cli.RenderTable(cli.Table{
		Title:   "By agent",
		Headers: []string{"Agent", "Queries", "Tokens", "Throughput", "Computed"},
		Rows:    agentRows,
	}))

	return nil
}

func runStatsSessions(cmd *cobra.Command, _ []string) error {
	log := newLogger()
	cfg := loadConfig(log)

	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	sessions, err := aggregateRows(cmd.Context(), store.AggregateBySession)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("\n  No data for the selected period.")
		return nil
	}
	if flagSessionLimit > 0 && len(sessions) > flagSessionLimit {
		sessions = sessions[:flagSessionLimit]
	}

	fmt.Println()
	fmt.Println(cli.RenderTitle(fmt.Sprintf("SESSIONS  Last %dd", flagDays)))
	fmt.Println()

	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		rows = append(rows, []string{
			truncateID(s.Key, 12),
			cli.FormatNumber(s.Queries),
			cli.FormatDuration(int64(s.TotalDuration.Seconds())),
			cli.FormatTokens(s.TotalTokens),
			cli.FormatCost(s.MaestroCostUSD),
		})
	}

	fmt.Print(cli.RenderTable(cli.Table{
		Headers: []string{"Session", "Queries", "Time", "Tokens", "Computed"},
		Rows:    rows,
	}))

	return nil
}

func truncateID(id string, n int) string {
	if len(id) <= n {
		return id
	}
	return id[:n]
}
