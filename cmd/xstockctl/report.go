package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"xstock-portfolio/internal/reporting"
)

var (
	reportDays   int
	reportCSV    string
	reportOutput string
)

// reportCmd renders a portfolio statement
var reportCmd = &cobra.Command{
	Use:   "report WALLET",
	Short: "Render a portfolio report as Markdown or CSV",
	Long: `Render a statement of a portfolio: valued positions, risk metrics,
valuation history over the last days and the transaction log.

Example usage:
  xstockctl report <WALLET>                        # Markdown to stdout
  xstockctl report <WALLET> --days 90 --output report.md
  xstockctl report <WALLET> --csv transactions     # Transaction log as CSV
  xstockctl report <WALLET> --csv positions`,
	Args: cobra.ExactArgs(1),
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().IntVar(&reportDays, "days", 30, "Days of valuation history to cover")
	reportCmd.Flags().StringVar(&reportCSV, "csv", "", "Render a CSV table instead: transactions or positions")
	reportCmd.Flags().StringVar(&reportOutput, "output", "", "Write to a file instead of stdout")
}

func runReport(cmd *cobra.Command, args []string) error {
	if reportDays <= 0 {
		return fmt.Errorf("days must be positive, got %d", reportDays)
	}
	if reportCSV != "" && reportCSV != "transactions" && reportCSV != "positions" {
		return fmt.Errorf("unknown csv table %q", reportCSV)
	}

	ctx := context.Background()
	a, err := buildApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := reporting.NewGenerator(a.Stores, a.Valuer).
		Generate(ctx, args[0], time.Duration(reportDays)*24*time.Hour)
	if err != nil {
		return err
	}

	var content string
	switch reportCSV {
	case "transactions":
		content = reporting.RenderCSV(report.Transactions)
	case "positions":
		content = reporting.RenderPositionsCSV(report.Positions)
	default:
		content = reporting.RenderMarkdown(report)
	}

	if reportOutput == "" {
		_, err := fmt.Fprint(cmd.OutOrStdout(), content)
		return err
	}
	if err := os.WriteFile(reportOutput, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Report written to %s\n", reportOutput)
	return nil
}
