package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"xstock-portfolio/internal/api"
)

var (
	constructWallet  string
	constructRisk    int
	constructCapital string
)

// constructCmd buys a portfolio or tops one up
var constructCmd = &cobra.Command{
	Use:   "construct",
	Short: "Buy a portfolio for a wallet, or top up its existing one",
	Long: `Buy the target allocation of a risk level with the given capital.

A wallet that already has a portfolio is topped up. The risk level must then
match the level the portfolio was built with.

The wallet must be controlled by a loaded keypair (--keypair or the
keypairs config entry). Swaps run one at a time; assets that fail are
reported and the confirmed ones form the portfolio.

Example usage:
  xstockctl construct --keypair ~/.config/solana/id.json --wallet <ADDRESS> --risk 5 --capital 1000`,
	Args: cobra.NoArgs,
	RunE: runConstruct,
}

func init() {
	rootCmd.AddCommand(constructCmd)
	constructCmd.Flags().StringVar(&constructWallet, "wallet", "", "Wallet address to build the portfolio for")
	constructCmd.Flags().IntVar(&constructRisk, "risk", 5, "Risk level between 1 and 10")
	constructCmd.Flags().StringVar(&constructCapital, "capital", "", "Capital to deploy, in the quote asset")
	_ = constructCmd.MarkFlagRequired("wallet")
	_ = constructCmd.MarkFlagRequired("capital")
}

// ConstructView is the JSON output of construct.
type ConstructView struct {
	Wallet      string         `json:"wallet"`
	PortfolioID string         `json:"portfolio_id,omitempty"`
	Outcome     string         `json:"outcome"`
	Deployed    string         `json:"deployed"`
	Swaps       []api.SwapView `json:"swaps"`
	Missing     []string       `json:"missing,omitempty"`
	StoreErrors []string       `json:"store_errors,omitempty"`
	Summary     string         `json:"summary"`
}

func runConstruct(cmd *cobra.Command, _ []string) error {
	asJSON, err := jsonOutput()
	if err != nil {
		return err
	}
	capital, err := decimal.NewFromString(constructCapital)
	if err != nil {
		return fmt.Errorf("capital must be a decimal number: %w", err)
	}

	ctx := context.Background()
	a, err := buildApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	s, ok := a.Keyring.Signer(constructWallet)
	if !ok {
		return fmt.Errorf("no keypair loaded for wallet %s", constructWallet)
	}

	allocs, err := a.Engine.Compute(constructRisk, capital)
	if err != nil {
		return err
	}
	res, err := a.Orchestrator.Construct(ctx, constructWallet, constructRisk, allocs, capital, s)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		if err := outputJSON(out, ConstructView{
			Wallet:      res.Wallet,
			PortfolioID: res.PortfolioID,
			Outcome:     string(res.Outcome),
			Deployed:    res.Deployed.String(),
			Swaps:       api.SwapViews(res),
			Missing:     res.MissingSymbols(),
			StoreErrors: res.StoreErrors,
			Summary:     res.Summary(),
		}); err != nil {
			return err
		}
		return res.Err()
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Symbol\tKind\tStatus\tSignature")
	fmt.Fprintln(w, "------\t----\t------\t---------")
	for _, sw := range api.SwapViews(res) {
		status := "confirmed"
		if !sw.Success {
			status = fmt.Sprintf("failed at %s: %s", sw.Stage, sw.Error)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", sw.Symbol, sw.Kind, status, sw.Signature)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%s\n", res.Summary())
	return res.Err()
}
