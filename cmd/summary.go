package cmd

import (
	"fmt"
	"time"

	"github.com/maestro-sh/maestro/internal/cli"

	"github.com/spf13/cobra"
)

func runSummary(cmd *cobra.Command, _ []string) error {
	log := newLogger()
	cfg := loadConfig(log)

	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	since, until := timeWindow()
	days, err := store.AggregateByDay(cmd.Context(), since, until)
	if err != nil {
		return err
	}

	if len(days) == 0 {
		fmt.Println("\n  No queries recorded for the selected period.")
		fmt.Println("  Run `maestro reconstruct` to backfill from journals.")
		return nil
	}

	var (
		queries       int64
		totalTokens   int64
		outputTokens  int64
		totalDuration time.Duration
		anthropicCost float64
		maestroCost   float64
		costSeries    []float64
	)
	for _, d := range days {
		queries += d.Queries
		totalTokens += d.TotalTokens
		outputTokens += d.OutputTokens
		totalDuration += d.TotalDuration
		anthropicCost += d.AnthropicCostUSD
		maestroCost += d.MaestroCostUSD
		costSeries = append(costSeries, d.MaestroCostUSD)
	}

	fmt.Println()
	fmt.Println(cli.RenderTitle(fmt.Sprintf("MAESTRO USAGE  Last %dd", flagDays)))
	fmt.Println()

	fmt.Printf("  Queries:         %s\n", cli.FormatNumber(queries))
	fmt.Printf("  Tokens:          %s (%s output)\n", cli.FormatTokens(totalTokens), cli.FormatTokens(outputTokens))
	fmt.Printf("  Active time:     %s\n", cli.FormatDuration(int64(totalDuration.Seconds())))
	fmt.Printf("  Provider cost:   %s\n", cli.FormatCost(anthropicCost))
	fmt.Printf("  Computed cost:   %s (%s)\n", cli.FormatCost(maestroCost), cli.FormatDelta(maestroCost, anthropicCost))
	fmt.Println()
	fmt.Printf("  Daily cost:      %s\n", cli.RenderSparkline(costSeries))
	fmt.Println()
	fmt.Println("  Run `maestro audit` to reconcile computed vs provider costs.")

	return nil
}
