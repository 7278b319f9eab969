package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"xstock-portfolio/internal/api"
	"xstock-portfolio/internal/domain"
	"xstock-portfolio/internal/risk"
)

var riskTolerance int

// riskCmd scores a portfolio against a risk tolerance
var riskCmd = &cobra.Command{
	Use:   "risk WALLET",
	Short: "Score the risk of a portfolio against a tolerance",
	Long: `Value a portfolio at current prices, compute its volatility,
diversification and risk score, and compare the score with a tolerance.

The tolerance defaults to the portfolio's risk level.

Example usage:
  xstockctl risk <WALLET>
  xstockctl risk <WALLET> --tolerance 3 --format=json`,
	Args: cobra.ExactArgs(1),
	RunE: runRisk,
}

func init() {
	rootCmd.AddCommand(riskCmd)
	riskCmd.Flags().IntVar(&riskTolerance, "tolerance", 0, "Risk tolerance between 1 and 10")
}

func runRisk(cmd *cobra.Command, args []string) error {
	asJSON, err := jsonOutput()
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := buildApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.Stores.Portfolios.GetByWallet(ctx, args[0])
	if err != nil {
		return fmt.Errorf("load portfolio of %s: %w", args[0], err)
	}

	tolerance := p.RiskLevel
	if cmd.Flags().Changed("tolerance") {
		if !domain.ValidRiskLevel(riskTolerance) {
			return fmt.Errorf("tolerance %d: %w", riskTolerance, domain.ErrInvalidRiskLevel)
		}
		tolerance = riskTolerance
	}

	rep, err := a.Valuer.Value(ctx, p)
	if err != nil {
		return err
	}
	view := api.NewRiskView(p.WalletAddress, risk.Score(rep.Portfolio.Positions, tolerance), rep.Unpriced)

	out := cmd.OutOrStdout()
	if asJSON {
		return outputJSON(out, view)
	}

	fmt.Fprintf(out, "Wallet:          %s\n", view.Wallet)
	fmt.Fprintf(out, "Risk score:      %d (tolerance %d)\n", view.RiskScore, view.RiskTolerance)
	fmt.Fprintf(out, "Volatility:      %.2f\n", view.Volatility)
	fmt.Fprintf(out, "Sharpe ratio:    %.2f\n", view.SharpeRatio)
	fmt.Fprintf(out, "Diversification: %.2f\n", view.DiversificationScore)
	if len(view.Unpriced) > 0 {
		fmt.Fprintf(out, "Unpriced:        %v\n", view.Unpriced)
	}
	fmt.Fprintf(out, "\n%s\n", view.Recommendation)
	for _, action := range view.Actions {
		fmt.Fprintf(out, "  - %s\n", action)
	}
	for _, adj := range view.Adjustments {
		fmt.Fprintf(out, "  * %s\n", adj)
	}
	return nil
}
