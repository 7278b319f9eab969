package api

import (
	"time"

	"xstock-portfolio/internal/domain"
	"xstock-portfolio/internal/orchestrator"
	"xstock-portfolio/internal/rebalance"
)

// AllocationView is one entry of a target allocation.
type AllocationView struct {
	Symbol          string  `json:"symbol"`
	Percentage      float64 `json:"percentage"`
	Notional        string  `json:"notional"`
	Price           string  `json:"price,omitempty"`
	EstimatedAmount string  `json:"estimated_amount,omitempty"`
	Unpriced        string  `json:"unpriced,omitempty"`
}

// AllocationResponse is returned by GET /allocations/{risk}.
type AllocationResponse struct {
	RiskLevel   int              `json:"risk_level"`
	Capital     string           `json:"capital"`
	Allocations []AllocationView `json:"allocations"`
}

// PositionView is a valued position.
type PositionView struct {
	Symbol            string  `json:"symbol"`
	Address           string  `json:"address"`
	Amount            string  `json:"amount"`
	TargetPercentage  float64 `json:"target_percentage"`
	CurrentPercentage float64 `json:"current_percentage"`
	AverageEntryPrice string  `json:"average_entry_price"`
	CurrentPrice      string  `json:"current_price,omitempty"`
	UnrealizedPnlAbs  string  `json:"unrealized_pnl_abs,omitempty"`
	UnrealizedPnlPct  float64 `json:"unrealized_pnl_pct"`
	Priced            bool    `json:"priced"`
}

// PortfolioView is returned by GET /portfolios/{wallet}.
type PortfolioView struct {
	ID                string         `json:"id"`
	Wallet            string         `json:"wallet"`
	RiskLevel         int            `json:"risk_level"`
	InitialInvestment string         `json:"initial_investment"`
	TotalValue        string         `json:"total_value"`
	PnlAbs            string         `json:"pnl_abs"`
	PnlPct            float64        `json:"pnl_pct"`
	LastRebalancedAt  *time.Time     `json:"last_rebalanced_at,omitempty"`
	RebalanceCount    int            `json:"rebalance_count"`
	PartiallyPriced   bool           `json:"partially_priced"`
	Unpriced          []string       `json:"unpriced,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	Positions         []PositionView `json:"positions"`
}

// RiskView is returned by GET /portfolios/{wallet}/risk.
type RiskView struct {
	Wallet               string   `json:"wallet"`
	Volatility           float64  `json:"volatility"`
	SharpeRatio          float64  `json:"sharpe_ratio"`
	DiversificationScore float64  `json:"diversification_score"`
	RiskScore            int      `json:"risk_score"`
	RiskTolerance        int      `json:"risk_tolerance"`
	Recommendation       string   `json:"recommendation"`
	Actions              []string `json:"actions"`
	Adjustments          []string `json:"adjustments"`
	RebalanceNeeded      bool     `json:"rebalance_needed"`
	Unpriced             []string `json:"unpriced,omitempty"`
}

// DriftView is the drift of one symbol.
type DriftView struct {
	Symbol  string  `json:"symbol"`
	Current float64 `json:"current"`
	Target  float64 `json:"target"`
	Drift   float64 `json:"drift"`
}

// DriftResponse is returned by GET /portfolios/{wallet}/drift.
type DriftResponse struct {
	Wallet   string      `json:"wallet"`
	Needed   bool        `json:"needed"`
	MaxDrift float64     `json:"max_drift"`
	Drifts   []DriftView `json:"drifts"`
	Error    string      `json:"error,omitempty"`
}

// OrderView is one planned order.
type OrderView struct {
	Kind   string `json:"kind"`
	Symbol string `json:"symbol"`
	Amount string `json:"amount"`
}

// SwapView is the result of one swap.
type SwapView struct {
	Kind      string `json:"kind"`
	Symbol    string `json:"symbol"`
	Success   bool   `json:"success"`
	Signature string `json:"signature,omitempty"`
	Stage     string `json:"stage"`
	Error     string `json:"error,omitempty"`
}

// RebalanceResponse is returned by POST /portfolios/{wallet}/rebalance.
type RebalanceResponse struct {
	Wallet   string      `json:"wallet"`
	Decision string      `json:"decision"`
	MaxDrift float64     `json:"max_drift"`
	Drifts   []DriftView `json:"drifts"`
	Orders   []OrderView `json:"orders,omitempty"`
	Outcome  string      `json:"outcome,omitempty"`
	Swaps    []SwapView  `json:"swaps,omitempty"`
	Missing  []string    `json:"missing,omitempty"`
	Summary  string      `json:"summary,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// TransactionView is a logged swap.
type TransactionView struct {
	ID           string    `json:"id"`
	Signature    string    `json:"signature,omitempty"`
	Kind         string    `json:"kind"`
	Symbol       string    `json:"symbol"`
	InputAmount  string    `json:"input_amount"`
	OutputAmount string    `json:"output_amount"`
	Price        string    `json:"price"`
	Status       string    `json:"status"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// HistoryPoint is one valuation snapshot.
type HistoryPoint struct {
	Timestamp  time.Time `json:"timestamp"`
	TotalValue float64   `json:"total_value"`
	PnlPct     float64   `json:"pnl_pct"`
	MaxDrift   float64   `json:"max_drift"`
}

// HistoryResponse is returned by GET /portfolios/{wallet}/history.
type HistoryResponse struct {
	Wallet         string         `json:"wallet"`
	MaxDrawdownPct float64        `json:"max_drawdown_pct"`
	Points         []HistoryPoint `json:"points"`
}

// NewPortfolioView converts a valued portfolio.
func NewPortfolioView(p *domain.Portfolio, unpriced []string) PortfolioView {
	v := PortfolioView{
		ID:                p.ID,
		Wallet:            p.WalletAddress,
		RiskLevel:         p.RiskLevel,
		InitialInvestment: p.InitialInvestment.String(),
		TotalValue:        p.TotalValue.String(),
		PnlAbs:            p.CurrentPnlAbs.String(),
		PnlPct:            p.CurrentPnlPct,
		RebalanceCount:    p.RebalanceCount,
		PartiallyPriced:   p.PartiallyPriced,
		Unpriced:          unpriced,
		CreatedAt:         p.CreatedAt,
		Positions:         make([]PositionView, 0, len(p.Positions)),
	}
	if !p.LastRebalancedAt.IsZero() {
		t := p.LastRebalancedAt
		v.LastRebalancedAt = &t
	}
	for _, pos := range p.Positions {
		pv := PositionView{
			Symbol:            pos.Symbol,
			Address:           pos.Address,
			Amount:            pos.Amount.String(),
			TargetPercentage:  pos.TargetPercentage,
			CurrentPercentage: pos.CurrentPercentage,
			AverageEntryPrice: pos.AverageEntryPrice.String(),
			UnrealizedPnlPct:  pos.UnrealizedPnlPct,
			Priced:            pos.Priced,
		}
		if pos.Priced {
			pv.CurrentPrice = pos.CurrentPrice.String()
			pv.UnrealizedPnlAbs = pos.UnrealizedPnlAbs.String()
		}
		v.Positions = append(v.Positions, pv)
	}
	return v
}

// NewRiskView converts risk metrics of wallet.
func NewRiskView(wallet string, m domain.RiskMetrics, unpriced []string) RiskView {
	return RiskView{
		Wallet:               wallet,
		Volatility:           m.PortfolioVolatility,
		SharpeRatio:          m.SharpeRatio,
		DiversificationScore: m.DiversificationScore,
		RiskScore:            m.RiskScore,
		RiskTolerance:        m.RiskTolerance,
		Recommendation:       m.Recommendation,
		Actions:              m.Actions,
		Adjustments:          m.Adjustments,
		RebalanceNeeded:      m.RebalanceNeeded,
		Unpriced:             unpriced,
	}
}

func driftViews(drifts []rebalance.Drift) []DriftView {
	out := make([]DriftView, 0, len(drifts))
	for _, d := range drifts {
		out = append(out, DriftView{Symbol: d.Symbol, Current: d.Current, Target: d.Target, Drift: d.Drift})
	}
	return out
}

func orderViews(orders []orchestrator.Order) []OrderView {
	out := make([]OrderView, 0, len(orders))
	for _, o := range orders {
		out = append(out, OrderView{Kind: string(o.Kind), Symbol: o.Asset.Symbol, Amount: o.Amount.String()})
	}
	return out
}

// NewRebalanceResponse converts a rebalance outcome.
func NewRebalanceResponse(out *rebalance.Outcome) RebalanceResponse {
	resp := RebalanceResponse{
		Wallet:   out.Wallet,
		Decision: string(out.Decision),
		MaxDrift: out.MaxDrift,
		Drifts:   driftViews(out.Drifts),
		Orders:   orderViews(out.Orders),
	}
	if out.Err != nil {
		resp.Error = out.Err.Error()
	}
	if res := out.Result; res != nil {
		resp.Outcome = string(res.Outcome)
		resp.Missing = res.MissingSymbols()
		resp.Summary = res.Summary()
		resp.Swaps = SwapViews(res)
	}
	return resp
}

// SwapViews converts the attempted swaps of a run.
func SwapViews(res *orchestrator.Result) []SwapView {
	var out []SwapView
	for _, r := range res.Results {
		out = append(out, SwapView{
			Kind:      string(r.Order.Kind),
			Symbol:    r.Order.Asset.Symbol,
			Success:   r.Swap.Success,
			Signature: r.Swap.Signature,
			Stage:     string(r.Swap.Stage),
			Error:     r.Swap.Error,
		})
	}
	return out
}

func transactionView(rec *domain.TransactionRecord) TransactionView {
	return TransactionView{
		ID:           rec.ID,
		Signature:    rec.Signature,
		Kind:         string(rec.Kind),
		Symbol:       rec.Symbol,
		InputAmount:  rec.InputAmount.String(),
		OutputAmount: rec.OutputAmount.String(),
		Price:        rec.Price.String(),
		Status:       string(rec.Status),
		Error:        rec.Error,
		CreatedAt:    rec.CreatedAt,
	}
}
