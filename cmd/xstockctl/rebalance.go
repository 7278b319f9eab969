package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"xstock-portfolio/internal/api"
	"xstock-portfolio/internal/app"
	"xstock-portfolio/internal/rebalance"
)

var (
	rebalanceForce  bool
	rebalanceDryRun bool
	rebalanceAll    bool
)

// rebalanceCmd checks and corrects allocation drift
var rebalanceCmd = &cobra.Command{
	Use:   "rebalance [WALLET]",
	Short: "Rebalance a portfolio whose allocation drifted from its target",
	Long: `Compare a portfolio with the target allocation of its risk level and
trade it back when any position drifted past the threshold.

With --all every active portfolio is checked once, as the server's
scheduler does; portfolios without a loaded keypair are only checked.

Example usage:
  xstockctl rebalance <WALLET> --dry-run      # Show drift only
  xstockctl rebalance <WALLET> --keypair id.json
  xstockctl rebalance <WALLET> --keypair id.json --force
  xstockctl rebalance --all`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRebalance,
}

func init() {
	rootCmd.AddCommand(rebalanceCmd)
	rebalanceCmd.Flags().BoolVar(&rebalanceForce, "force", false, "Trade even when drift is within the threshold")
	rebalanceCmd.Flags().BoolVar(&rebalanceDryRun, "dry-run", false, "Report drift without trading")
	rebalanceCmd.Flags().BoolVar(&rebalanceAll, "all", false, "Run one scheduler pass over all active portfolios")
}

func runRebalance(cmd *cobra.Command, args []string) error {
	asJSON, err := jsonOutput()
	if err != nil {
		return err
	}
	if rebalanceAll == (len(args) == 1) {
		return errors.New("give either a wallet or --all")
	}

	ctx := context.Background()
	a, err := buildApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	if rebalanceAll {
		return rebalanceAllPortfolios(ctx, a, out, asJSON)
	}

	wallet := args[0]
	p, err := a.Stores.Portfolios.GetByWallet(ctx, wallet)
	if err != nil {
		return fmt.Errorf("load portfolio of %s: %w", wallet, err)
	}

	check, err := a.Rebalancer.NeedsRebalance(ctx, p)
	if err != nil {
		return err
	}
	if rebalanceDryRun || (!check.Needed && !rebalanceForce) {
		resp := api.RebalanceResponse{
			Wallet:   wallet,
			Decision: string(rebalance.DecisionHold),
			MaxDrift: check.MaxDrift,
		}
		for _, d := range check.Drifts {
			resp.Drifts = append(resp.Drifts, api.DriftView{Symbol: d.Symbol, Current: d.Current, Target: d.Target, Drift: d.Drift})
		}
		return printRebalance(out, resp, check.Needed, asJSON)
	}

	s, ok := a.Keyring.Signer(wallet)
	if !ok {
		return fmt.Errorf("no keypair loaded for wallet %s", wallet)
	}
	outcome, err := a.Rebalancer.RebalanceChecked(ctx, p, check, s)
	if err != nil {
		return err
	}
	if err := printRebalance(out, api.NewRebalanceResponse(outcome), check.Needed, asJSON); err != nil {
		return err
	}
	return outcome.Err
}

func printRebalance(out io.Writer, resp api.RebalanceResponse, needed, asJSON bool) error {
	if asJSON {
		return outputJSON(out, resp)
	}

	fmt.Fprintf(out, "Wallet %s: %s (max drift %.2f%%, rebalance needed: %t)\n\n", resp.Wallet, resp.Decision, resp.MaxDrift, needed)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Symbol\tCurrent\tTarget\tDrift")
	fmt.Fprintln(w, "------\t-------\t------\t-----")
	for _, d := range resp.Drifts {
		fmt.Fprintf(w, "%s\t%.2f%%\t%.2f%%\t%.2f\n", d.Symbol, d.Current, d.Target, d.Drift)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(resp.Swaps) > 0 {
		fmt.Fprintln(out)
		w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "Symbol\tKind\tConfirmed\tSignature")
		for _, sw := range resp.Swaps {
			fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", sw.Symbol, sw.Kind, sw.Success, sw.Signature)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}
	if resp.Summary != "" {
		fmt.Fprintf(out, "\n%s\n", resp.Summary)
	}
	return nil
}

// BatchView is the JSON output of rebalance --all.
type BatchView struct {
	Active    int                     `json:"active"`
	Duration  string                  `json:"duration"`
	Decisions map[string]int          `json:"decisions"`
	Outcomes  []api.RebalanceResponse `json:"outcomes"`
	Errors    []string                `json:"errors,omitempty"`
}

func rebalanceAllPortfolios(ctx context.Context, a *app.App, out io.Writer, asJSON bool) error {
	report, err := a.Scheduler().RunOnce(ctx)
	if err != nil {
		return err
	}

	view := BatchView{
		Active:    report.Active,
		Duration:  report.Duration.String(),
		Decisions: make(map[string]int),
	}
	for _, o := range report.Outcomes {
		view.Decisions[string(o.Decision)]++
		view.Outcomes = append(view.Outcomes, api.NewRebalanceResponse(o))
	}
	for _, e := range report.Errors() {
		view.Errors = append(view.Errors, e.Error())
	}

	if asJSON {
		return outputJSON(out, view)
	}

	fmt.Fprintf(out, "Checked %d active portfolios in %s\n\n", view.Active, view.Duration)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Wallet\tDecision\tMax drift\tError")
	fmt.Fprintln(w, "------\t--------\t---------\t-----")
	for _, o := range view.Outcomes {
		fmt.Fprintf(w, "%s\t%s\t%.2f%%\t%s\n", o.Wallet, o.Decision, o.MaxDrift, o.Error)
	}
	return w.Flush()
}
