package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"xstock-portfolio/internal/app"
	"xstock-portfolio/internal/config"
	"xstock-portfolio/internal/logging"
)

var (
	configPath string
	storeKind  string
	logLevel   string
	outFormat  string
	keypairs   []string
)

// rootCmd is the base command for the xStock portfolio CLI
var rootCmd = &cobra.Command{
	Use:   "xstockctl",
	Short: "Tokenized stock portfolio manager",
	Long: `xstockctl builds and maintains risk-tiered portfolios of tokenized
stocks (xStocks) on Solana. Portfolios are bought through the Jupiter
aggregator, valued against live prices and rebalanced when their
allocation drifts from the target.`,
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", os.Getenv("CONFIG_FILE"), "Path to YAML config file")
	pf.StringVar(&storeKind, "store", "", "Record store override: memory, postgres or demo")
	pf.StringVar(&logLevel, "log-level", "", "Log level override; logs go to stderr")
	pf.StringVar(&outFormat, "format", "table", "Output format: table or json")
	pf.StringSliceVar(&keypairs, "keypair", nil, "Solana keypair file to sign with (repeatable)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads the config file and environment, then applies the root flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cmd.Flags().Changed("store") {
		cfg.Store.Kind = storeKind
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	cfg.Keypairs = append(cfg.Keypairs, keypairs...)
	return cfg, nil
}

// buildApp loads the configuration and wires every component.
func buildApp(ctx context.Context, cmd *cobra.Command) (*app.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := logging.Must(cfg.Log.Level, cfg.Log.Format)
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("build components: %w", err)
	}
	return a, nil
}

func jsonOutput() (bool, error) {
	switch strings.ToLower(outFormat) {
	case "json":
		return true, nil
	case "table", "":
		return false, nil
	default:
		return false, fmt.Errorf("unknown output format %q", outFormat)
	}
}

func outputJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
