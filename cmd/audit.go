package cmd

import (
	"fmt"

	"github.com/maestro-sh/maestro/internal/audit"
	"github.com/maestro-sh/maestro/internal/cli"

	"github.com/spf13/cobra"
)

var flagAuditLimit int

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Reconcile computed costs against provider-reported costs",
	RunE:  runAudit,
}

var auditHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List saved audit runs",
	RunE:  runAuditHistory,
}

var auditDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a saved audit run",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuditDelete,
}

func init() {
	auditHistoryCmd.Flags().IntVar(&flagAuditLimit, "limit", 10, "Max runs to show")

	auditCmd.AddCommand(auditHistoryCmd)
	auditCmd.AddCommand(auditDeleteCmd)
	rootCmd.AddCommand(auditCmd)
}

func runAudit(cmd *cobra.Command, _ []string) error {
	log := newLogger()
	cfg := loadConfig(log)

	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	svc := &audit.Service{Store: store, Log: log}

	since, until := timeWindow()
	result, err := svc.Run(cmd.Context(), since, until)
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println(cli.RenderTitle(fmt.Sprintf("COST AUDIT  Last %dd", flagDays)))
	fmt.Println()

	if len(result.Entries) == 0 {
		fmt.Println("  No query events in the selected period.")
		return nil
	}

	fmt.Printf("  Queries:       %s\n", cli.FormatNumber(int64(len(result.Entries))))
	fmt.Printf("  Provider cost: %s\n", cli.FormatCost(result.TotalAnthropicCost))
	fmt.Printf("  Computed cost: %s (%s)\n",
		cli.FormatCost(result.TotalMaestroCost),
		cli.FormatDelta(result.TotalMaestroCost, result.TotalAnthropicCost))
	fmt.Printf("  Verdicts:      %d %s, %d %s, %d %s, %d %s\n",
		result.Matches, cli.RenderStatus("match"),
		result.Minors, cli.RenderStatus("minor"),
		result.Majors, cli.RenderStatus("major"),
		result.Missings, cli.RenderStatus("missing"))
	fmt.Println()

	modelRows := make([][]string, 0, len(result.Models))
	for _, m := range result.Models {
		modelRows = append(modelRows, []string{
			m.Model,
			cli.FormatNumber(int64(m.Entries)),
			cli.FormatTokens(m.Tokens.Maestro),
			cli.FormatCost(m.Costs.AnthropicCost),
			cli.FormatCost(m.Costs.MaestroCost),
			cli.FormatNumber(int64(m.Major)),
		})
	}
	fmt.Print(cli.RenderTable(cli.Table{
		Title:   "By model",
		Headers: []string{"Model", "Queries", "Tokens", "Provider", "Computed", "Major"},
		Rows:    modelRows,
	}))
	fmt.Println()

	modeRows := make([][]string, 0, len(result.Modes))
	for _, m := range result.Modes {
		savings := "-"
		if m.CacheSavings > 0 {
			savings = cli.FormatCost(m.CacheSavings)
		}
		modeRows = append(modeRows, []string{
			string(m.BillingMode),
			cli.FormatNumber(int64(m.Entries)),
			cli.FormatCost(m.Costs.AnthropicCost),
			cli.FormatCost(m.Costs.MaestroCost),
			savings,
		})
	}
	fmt.Print(cli.RenderTable(cli.Table{
		Title:   "By billing mode",
		Headers: []string{"Mode", "Queries", "Provider", "Computed", "Cache savings"},
		Rows:    modeRows,
	}))

	if len(result.Anomalies) > 0 {
		fmt.Println()
		anomalyRows := make([][]string, 0, len(result.Anomalies))
		for _, e := range result.Anomalies {
			anomalyRows = append(anomalyRows, []string{
				truncateID(e.ID, 12),
				e.Date.Format("2006-01-02"),
				e.Model,
				cli.FormatCost(e.Costs.AnthropicCost),
				cli.FormatCost(e.Costs.MaestroCost),
				cli.FormatPercentPoints(e.DiscrepancyPercent),
				cli.RenderStatus(string(e.Status)),
			})
		}
		fmt.Print(cli.RenderTable(cli.Table{
			Title:   "Anomalies",
			Headers: []string{"Query", "Date", "Model", "Provider", "Computed", "Delta", "Status"},
			Rows:    anomalyRows,
		}))
	}

	fmt.Printf("\n  Saved as run %s\n", result.ID)
	return nil
}

func runAuditHistory(cmd *cobra.Command, _ []string) error {
	log := newLogger()
	cfg := loadConfig(log)

	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	svc := &audit.Service{Store: store, Log: log}
	runs, err := svc.History(cmd.Context(), flagAuditLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("\n  No saved audit runs.")
		return nil
	}

	fmt.Println()
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			r.ID,
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
			fmt.Sprintf("%s to %s", r.PeriodStart.Format("01-02"), r.PeriodEnd.Format("01-02")),
			cli.FormatNumber(int64(len(r.Entries))),
			cli.FormatNumber(int64(r.Majors)),
			cli.FormatCost(r.TotalMaestroCost),
		})
	}
	fmt.Print(cli.RenderTable(cli.Table{
		Headers: []string{"Run", "Created", "Period", "Queries", "Major", "Computed"},
		Rows:    rows,
	}))

	return nil
}

func runAuditDelete(cmd *cobra.Command, args []string) error {
	log := newLogger()
	cfg := loadConfig(log)

	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	svc := &audit.Service{Store: store, Log: log}
	if err := svc.Delete(cmd.Context(), args[0]); err != nil {
		return err
	}

	fmt.Printf("  Deleted audit run %s\n", args[0])
	return nil
}
