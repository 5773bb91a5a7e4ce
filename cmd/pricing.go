package cmd

import (
	"fmt"

	"github.com/maestro-sh/maestro/internal/cli"
	"github.com/maestro-sh/maestro/internal/config"
	"github.com/maestro-sh/maestro/internal/model"
	"github.com/maestro-sh/maestro/internal/pricing"

	"github.com/spf13/cobra"
)

var (
	flagPricingAgent  string
	flagPricingFolder string
	flagPricingMode   string
	flagPricingModel  string
)

var pricingCmd = &cobra.Command{
	Use:   "pricing",
	Short: "Inspect and configure per-agent pricing",
}

var pricingModelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Show the pricing table for known models",
	RunE:  runPricingModels,
}

var pricingResolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Show the effective billing mode and model for an agent",
	RunE:  runPricingResolve,
}

var pricingSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Set agent or folder pricing overrides",
	RunE:  runPricingSet,
}

func init() {
	pricingResolveCmd.Flags().StringVar(&flagPricingAgent, "agent", "claude", "Agent id")
	pricingResolveCmd.Flags().StringVar(&flagPricingFolder, "folder", "", "Folder id")

	pricingSetCmd.Flags().StringVar(&flagPricingAgent, "agent", "", "Agent id to configure")
	pricingSetCmd.Flags().StringVar(&flagPricingFolder, "folder", "", "Folder id to configure")
	pricingSetCmd.Flags().StringVar(&flagPricingMode, "mode", "", "Billing mode: api, max, or auto")
	pricingSetCmd.Flags().StringVar(&flagPricingModel, "model", "", "Pricing model id, or auto")

	pricingCmd.AddCommand(pricingModelsCmd)
	pricingCmd.AddCommand(pricingResolveCmd)
	pricingCmd.AddCommand(pricingSetCmd)
	rootCmd.AddCommand(pricingCmd)
}

func runPricingModels(_ *cobra.Command, _ []string) error {
	fmt.Println()
	fmt.Println(cli.RenderTitle("MODEL PRICING  $/MTok"))
	fmt.Println()

	models := pricing.KnownModels()
	rows := make([][]string, 0, len(models))
	for _, name := range models {
		p, _ := pricing.ForModel(name)
		marker := ""
		if name == pricing.DefaultModel {
			marker = " *"
		}
		rows = append(rows, []string{
			name + marker,
			fmt.Sprintf("%.2f", p.InputPerMTok),
			fmt.Sprintf("%.2f", p.OutputPerMTok),
			fmt.Sprintf("%.2f", p.CacheReadPerMTok),
			fmt.Sprintf("%.2f", p.CacheWritePerMTok),
		})
	}

	fmt.Print(cli.RenderTable(cli.Table{
		Headers: []string{"Model", "Input", "Output", "Cache read", "Cache write"},
		Rows:    rows,
	}))
	fmt.Println("  * default model. Cache rates are zeroed under Max billing.")

	return nil
}

func runPricingResolve(_ *cobra.Command, _ []string) error {
	log := newLogger()
	cfg := loadConfig(log)

	resolver := newResolver(cfg, log)
	resolved := resolver.Resolve(flagPricingAgent, flagPricingFolder)

	fmt.Println()
	fmt.Printf("  Agent:        %s\n", flagPricingAgent)
	if flagPricingFolder != "" {
		fmt.Printf("  Folder:       %s\n", flagPricingFolder)
	}
	fmt.Printf("  Billing mode: %s (from %s)\n", resolved.BillingMode, resolved.BillingModeSource)
	fmt.Printf("  Model:        %s (from %s)\n", resolved.Model, resolved.ModelSource)

	p, ok := pricing.ForModel(resolved.Model)
	if !ok {
		fmt.Printf("  Pricing:      unknown model, default rates apply\n")
		p = pricing.Default()
	}
	fmt.Printf("  Rates:        $%.2f in / $%.2f out per MTok\n", p.InputPerMTok, p.OutputPerMTok)

	return nil
}

func runPricingSet(_ *cobra.Command, _ []string) error {
	if flagPricingAgent == "" && flagPricingFolder == "" {
		return fmt.Errorf("either --agent or --folder is required")
	}
	if flagPricingMode == "" && flagPricingModel == "" {
		return fmt.Errorf("nothing to set: pass --mode and/or --model")
	}

	mode, err := parseModeChoice(flagPricingMode)
	if err != nil {
		return err
	}

	store := &config.PricingStore{KV: config.NewFileStore(config.SettingsPath())}

	if flagPricingFolder != "" {
		if flagPricingModel != "" {
			return fmt.Errorf("--model applies to agents, not folders")
		}
		if err := store.SetFolderPricing(flagPricingFolder, config.FolderPricing{BillingMode: mode}); err != nil {
			return err
		}
		fmt.Printf("  Folder %s billing mode set to %s\n", flagPricingFolder, choiceWord(flagPricingMode))
		return nil
	}

	// Preserve the cached detection when updating explicit choices.
	current, err := store.AgentPricing(flagPricingAgent)
	if err != nil {
		return err
	}
	if flagPricingMode != "" {
		current.BillingMode = mode
	}
	if flagPricingModel != "" {
		current.Model = parseModelChoice(flagPricingModel)
	}
	if err := store.SetAgentPricing(flagPricingAgent, current); err != nil {
		return err
	}

	fmt.Printf("  Agent %s pricing updated\n", flagPricingAgent)
	return nil
}

func parseModeChoice(s string) (config.ModeChoice, error) {
	switch s {
	case "", "auto":
		return config.InheritMode(), nil
	case string(model.BillingAPI):
		return config.ExplicitMode(model.BillingAPI), nil
	case string(model.BillingMax):
		return config.ExplicitMode(model.BillingMax), nil
	default:
		return config.ModeChoice{}, fmt.Errorf("invalid billing mode %q: want api, max, or auto", s)
	}
}

func parseModelChoice(s string) config.ModelChoice {
	if s == "" || s == "auto" {
		return config.InheritModel()
	}
	return config.ExplicitModel(s)
}

func choiceWord(s string) string {
	if s == "" {
		return "auto"
	}
	return s
}
