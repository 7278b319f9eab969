package rebalance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"xstock-portfolio/internal/domain"
	"xstock-portfolio/internal/observability"
	"xstock-portfolio/internal/orchestrator"
	"xstock-portfolio/internal/risk"
	"xstock-portfolio/internal/signer"
	"xstock-portfolio/internal/storage"
	"xstock-portfolio/internal/valuation"
)

// Allocator computes target allocations for a risk level.
type Allocator interface {
	Compute(riskLevel int, capital decimal.Decimal) ([]domain.TargetAllocation, error)
}

// Valuer revalues a portfolio at current prices.
type Valuer interface {
	Value(ctx context.Context, p *domain.Portfolio) (*valuation.Report, error)
}

// OrderRunner executes corrective orders and stamps new targets.
type OrderRunner interface {
	Rebalance(ctx context.Context, wallet string, orders []orchestrator.Order, targets []domain.TargetAllocation, s signer.Signer) (*orchestrator.Result, error)
}

// Policy holds the rebalance tunables.
type Policy struct {
	Threshold   float64       // per-position drift in percentage points
	MinInterval time.Duration // time gate between attempts
	Dust        decimal.Decimal
	// CountPartialAttempts stamps lastRebalancedAt and bumps rebalanceCount after
	// partial and failed attempts too. When false only a fully successful
	// rebalance is recorded, so a failed one is retried on the next pass.
	CountPartialAttempts bool
}

// DefaultPolicy returns the default rebalance policy.
func DefaultPolicy() Policy {
	return Policy{
		Threshold:            DefaultThreshold,
		MinInterval:          DefaultMinInterval,
		Dust:                 DefaultDust,
		CountPartialAttempts: true,
	}
}

// Decision is what a check or rebalance concluded for one portfolio.
type Decision string

const (
	DecisionNotDue     Decision = "not_due"
	DecisionHold       Decision = "hold"
	DecisionNoSigner   Decision = "no_signer"
	DecisionRebalanced Decision = "rebalanced"
	DecisionPartial    Decision = "partial"
	DecisionFailed     Decision = "failed"
	DecisionError      Decision = "error"
)

// Check is the drift assessment of one portfolio.
type Check struct {
	Portfolio *domain.Portfolio // valued copy with fresh targets stamped
	Targets   []domain.TargetAllocation
	Needed    bool
	Drifts    []Drift
	MaxDrift  float64
	Risk      domain.RiskMetrics
}

// Outcome is the result of handling one portfolio.
type Outcome struct {
	PortfolioID string
	Wallet      string
	Decision    Decision
	MaxDrift    float64
	Drifts      []Drift
	Orders      []orchestrator.Order
	Result      *orchestrator.Result
	Err         error
}

// Rebalancer values portfolios, compares them with their targets and corrects them.
type Rebalancer struct {
	engine     Allocator
	valuer     Valuer
	runner     OrderRunner
	portfolios storage.PortfolioStore
	comparator Comparator
	planner    Planner
	policy     Policy
	logger     *zap.Logger
	now        func() time.Time
}

// Options for creating a Rebalancer.
type Options struct {
	Engine     Allocator
	Valuer     Valuer
	Runner     OrderRunner
	Portfolios storage.PortfolioStore
	Assets     AssetResolver
	Policy     Policy
	Logger     *zap.Logger
	Now        func() time.Time
}

// New creates a new Rebalancer. Zero policy fields take defaults.
func New(opts Options) *Rebalancer {
	policy := opts.Policy
	def := DefaultPolicy()
	if policy.Threshold <= 0 {
		policy.Threshold = def.Threshold
	}
	if policy.MinInterval <= 0 {
		policy.MinInterval = def.MinInterval
	}
	if !policy.Dust.IsPositive() {
		policy.Dust = def.Dust
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Rebalancer{
		engine:     opts.Engine,
		valuer:     opts.Valuer,
		runner:     opts.Runner,
		portfolios: opts.Portfolios,
		comparator: Comparator{Threshold: policy.Threshold},
		planner:    Planner{Assets: opts.Assets, Dust: policy.Dust},
		policy:     policy,
		logger:     opts.Logger,
		now:        opts.Now,
	}
}

// Policy returns the effective policy.
func (r *Rebalancer) Policy() Policy {
	return r.policy
}

// NeedsRebalance values p, recomputes its targets for the stored risk level and
// compares. On an unpriced position the check is returned together with an
// error wrapping domain.ErrPricingUnavailable and Needed is false.
func (r *Rebalancer) NeedsRebalance(ctx context.Context, p *domain.Portfolio) (*Check, error) {
	rep, err := r.valuer.Value(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("value portfolio %s: %w", p.ID, err)
	}
	valued := rep.Portfolio

	targets, err := r.engine.Compute(p.RiskLevel, valued.TotalValue)
	if err != nil {
		return nil, fmt.Errorf("targets of portfolio %s: %w", p.ID, err)
	}
	valued.SetTargets(targets)

	needed, drifts, cmpErr := r.comparator.NeedsRebalance(withUnheldTargets(valued.Positions, targets))
	check := &Check{
		Portfolio: valued,
		Targets:   targets,
		Needed:    needed,
		Drifts:    drifts,
		MaxDrift:  MaxDrift(drifts),
		Risk:      risk.Score(valued.Positions, p.RiskLevel),
	}
	if cmpErr != nil {
		return check, fmt.Errorf("portfolio %s: %w", p.ID, cmpErr)
	}
	return check, nil
}

// Rebalance checks p and brings it back to its targets with orders signed by s,
// whether or not the drift threshold is crossed.
func (r *Rebalancer) Rebalance(ctx context.Context, p *domain.Portfolio, s signer.Signer) (*Outcome, error) {
	check, err := r.NeedsRebalance(ctx, p)
	if err != nil {
		return nil, err
	}
	return r.RebalanceChecked(ctx, p, check, s)
}

// RebalanceChecked trades p back to the targets of a check returned by
// NeedsRebalance, without valuing it again.
func (r *Rebalancer) RebalanceChecked(ctx context.Context, p *domain.Portfolio, check *Check, s signer.Signer) (*Outcome, error) {
	log := r.logger.With(zap.String("portfolio_id", p.ID), zap.String("wallet", p.WalletAddress))

	orders, err := r.planner.Plan(check.Portfolio, check.Targets)
	if err != nil {
		return nil, err
	}

	log.Info("rebalancing",
		zap.Float64("max_drift", check.MaxDrift),
		zap.Int("orders", len(orders)))

	res, err := r.runner.Rebalance(ctx, p.WalletAddress, orders, check.Targets, s)
	if err != nil {
		return nil, fmt.Errorf("rebalance %s: %w", p.ID, err)
	}

	out := &Outcome{
		PortfolioID: p.ID,
		Wallet:      p.WalletAddress,
		Decision:    decisionOf(res.Outcome),
		MaxDrift:    check.MaxDrift,
		Drifts:      check.Drifts,
		Orders:      orders,
		Result:      res,
		Err:         res.Err(),
	}

	if r.policy.CountPartialAttempts || res.Outcome == orchestrator.AllSuccessful {
		if err := r.stamp(ctx, p.ID); err != nil {
			log.Error("rebalance not recorded", zap.Error(err))
			out.Err = errors.Join(out.Err, err)
		}
	}

	observability.RecordRebalance(string(out.Decision))
	log.Info("rebalance finished",
		zap.String("decision", string(out.Decision)),
		zap.Int("confirmed", res.Confirmed()),
		zap.Strings("missing", res.MissingSymbols()))
	return out, nil
}

// stamp records the attempt on the stored portfolio, retrying once on a version conflict.
func (r *Rebalancer) stamp(ctx context.Context, id string) error {
	for attempt := 0; ; attempt++ {
		p, err := r.portfolios.GetByID(ctx, id)
		if err != nil {
			return fmt.Errorf("reload portfolio %s: %w", id, err)
		}
		p.MarkRebalanced(r.now().UTC())
		err = r.portfolios.Update(ctx, p)
		if err == nil {
			return nil
		}
		if !errors.Is(err, storage.ErrConflict) || attempt > 0 {
			return fmt.Errorf("stamp portfolio %s: %w", id, err)
		}
	}
}

func decisionOf(o orchestrator.Outcome) Decision {
	switch o {
	case orchestrator.AllSuccessful:
		return DecisionRebalanced
	case orchestrator.PartialSuccess:
		return DecisionPartial
	default:
		return DecisionFailed
	}
}

// withUnheldTargets adds an empty, priced position for every target not held,
// so a missing asset shows up as drift equal to its target.
func withUnheldTargets(positions []domain.Position, targets []domain.TargetAllocation) []domain.Position {
	held := make(map[string]bool, len(positions))
	for _, p := range positions {
		held[p.Symbol] = true
	}
	out := append([]domain.Position(nil), positions...)
	for _, t := range targets {
		if !held[t.Symbol] {
			out = append(out, domain.Position{
				Symbol:           t.Symbol,
				Amount:           decimal.Zero,
				TargetPercentage: t.Percentage,
				Priced:           true,
			})
		}
	}
	return out
}
