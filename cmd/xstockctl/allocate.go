package main

import (
	"context"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"xstock-portfolio/internal/allocation"
	"xstock-portfolio/internal/api"
	"xstock-portfolio/internal/assets"
	"xstock-portfolio/internal/domain"
)

var (
	allocCapital string
	allocPreview bool
)

// allocateCmd prints the target allocation of a risk level
var allocateCmd = &cobra.Command{
	Use:   "allocate RISK_LEVEL",
	Short: "Show the target allocation for a risk level",
	Long: `Show the target allocation for a risk level between 1 and 10.

With --capital the notional of every entry is computed. With --preview the
entries are also priced and the token amount each would buy is estimated.

Example usage:
  xstockctl allocate 5
  xstockctl allocate 7 --capital 2500 --preview
  xstockctl allocate 3 --capital 1000 --format=json`,
	Args: cobra.ExactArgs(1),
	RunE: runAllocate,
}

func init() {
	rootCmd.AddCommand(allocateCmd)
	allocateCmd.Flags().StringVar(&allocCapital, "capital", "0", "Capital to allocate, in the quote asset")
	allocateCmd.Flags().BoolVar(&allocPreview, "preview", false, "Price the allocation at current prices")
}

func runAllocate(cmd *cobra.Command, args []string) error {
	asJSON, err := jsonOutput()
	if err != nil {
		return err
	}
	level, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("risk level must be an integer: %w", err)
	}
	capital, err := decimal.NewFromString(allocCapital)
	if err != nil {
		return fmt.Errorf("capital must be a decimal number: %w", err)
	}

	var resp api.AllocationResponse
	if allocPreview {
		resp, err = previewAllocation(cmd, level, capital)
	} else {
		resp, err = computeAllocation(cmd, level, capital)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		return outputJSON(out, resp)
	}

	fmt.Fprintf(out, "Risk level %d, capital %s\n\n", resp.RiskLevel, resp.Capital)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Symbol\tWeight\tNotional\tPrice\tEst. amount")
	fmt.Fprintln(w, "------\t------\t--------\t-----\t-----------")
	for _, a := range resp.Allocations {
		price, amount := a.Price, a.EstimatedAmount
		if a.Unpriced != "" {
			price, amount = "-", a.Unpriced
		}
		fmt.Fprintf(w, "%s\t%.0f%%\t%s\t%s\t%s\n", a.Symbol, a.Percentage, a.Notional, price, amount)
	}
	return w.Flush()
}

// computeAllocation runs the allocation engine alone; no network access is needed.
func computeAllocation(cmd *cobra.Command, level int, capital decimal.Decimal) (api.AllocationResponse, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return api.AllocationResponse{}, err
	}
	var reg *assets.Registry
	if cfg.AssetsFile != "" {
		reg, err = assets.Load(cfg.AssetsFile)
	} else {
		reg, err = assets.Default()
	}
	if err != nil {
		return api.AllocationResponse{}, fmt.Errorf("load assets: %w", err)
	}

	engine := allocation.New(allocation.Options{Precision: reg.Quote().Decimals})
	allocs, err := engine.Compute(level, capital)
	if err != nil {
		return api.AllocationResponse{}, err
	}
	return allocationResponse(level, capital, allocs), nil
}

func previewAllocation(cmd *cobra.Command, level int, capital decimal.Decimal) (api.AllocationResponse, error) {
	ctx := context.Background()
	a, err := buildApp(ctx, cmd)
	if err != nil {
		return api.AllocationResponse{}, err
	}
	defer a.Close()

	allocs, err := a.Engine.Compute(level, capital)
	if err != nil {
		return api.AllocationResponse{}, err
	}
	lines, err := a.Orchestrator.Preview(ctx, allocs)
	if err != nil {
		return api.AllocationResponse{}, err
	}

	resp := allocationResponse(level, capital, allocs)
	for i, line := range lines {
		if line.Priced {
			resp.Allocations[i].Price = line.Price.String()
			resp.Allocations[i].EstimatedAmount = line.EstimatedAmount.StringFixed(6)
		} else {
			resp.Allocations[i].Unpriced = line.Reason
		}
	}
	return resp, nil
}

func allocationResponse(level int, capital decimal.Decimal, allocs []domain.TargetAllocation) api.AllocationResponse {
	resp := api.AllocationResponse{
		RiskLevel:   level,
		Capital:     capital.String(),
		Allocations: make([]api.AllocationView, 0, len(allocs)),
	}
	for _, a := range allocs {
		resp.Allocations = append(resp.Allocations, api.AllocationView{
			Symbol:     a.Symbol,
			Percentage: a.Percentage,
			Notional:   a.Notional.String(),
		})
	}
	return resp
}
