// Package orchestrator turns a target allocation into a sequence of swaps.
// It coordinates: filter -> swap (one at a time) -> portfolio update -> transaction log
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"xstock-portfolio/internal/domain"
	"xstock-portfolio/internal/idhash"
	"xstock-portfolio/internal/observability"
	"xstock-portfolio/internal/pricing"
	"xstock-portfolio/internal/signer"
	"xstock-portfolio/internal/storage"
)

// DefaultSwapDelay separates consecutive swaps of one run.
const DefaultSwapDelay = time.Second

// Swapper executes one swap and reports the outcome.
type Swapper interface {
	Swap(ctx context.Context, in, out domain.Asset, amount decimal.Decimal, s signer.Signer) domain.SwapResult
}

// AssetResolver looks assets up in the tradable universe.
type AssetResolver interface {
	Quote() domain.Asset
	BySymbol(symbol string) (domain.Asset, bool)
}

// Order is one swap against the quote asset.
type Order struct {
	Kind  domain.TransactionKind
	Asset domain.Asset
	// Amount is in quote units for a buy and in asset token units for a sell.
	Amount decimal.Decimal
}

// Orchestrator runs orders sequentially and keeps the record store in step.
type Orchestrator struct {
	swapper      Swapper
	assets       AssetResolver
	prices       pricing.Gateway
	portfolios   storage.PortfolioStore
	transactions storage.TransactionLog

	swapDelay time.Duration
	logger    *zap.Logger
	now       func() time.Time

	mu    sync.Mutex
	locks map[string]*semaphore.Weighted
}

// Options for creating an Orchestrator.
type Options struct {
	// Required
	Swapper      Swapper
	Assets       AssetResolver
	Portfolios   storage.PortfolioStore
	Transactions storage.TransactionLog

	// Prices is used by Preview only.
	Prices pricing.Gateway

	// SwapDelay is the pause between swaps. Zero uses DefaultSwapDelay.
	SwapDelay time.Duration
	Logger    *zap.Logger
	Now       func() time.Time
}

// New creates a new Orchestrator.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		swapper:      opts.Swapper,
		assets:       opts.Assets,
		prices:       opts.Prices,
		portfolios:   opts.Portfolios,
		transactions: opts.Transactions,
		swapDelay:    opts.SwapDelay,
		logger:       opts.Logger,
		now:          opts.Now,
		locks:        make(map[string]*semaphore.Weighted),
	}
	if o.swapDelay == 0 {
		o.swapDelay = DefaultSwapDelay
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// runPlan carries what a run needs beyond its orders.
type runPlan struct {
	kind string
	// template is persisted on the first confirmed swap when the wallet has no portfolio.
	template *domain.Portfolio
	targets  []domain.TargetAllocation
}

// Construct buys every valid allocation entry with the quote asset.
// On a wallet that already has a portfolio it tops the portfolio up, and
// riskLevel must then match the portfolio's level.
//
// Entries with a zero notional or an unknown symbol are skipped and reported.
// ErrNoValidAllocations is returned when nothing remains. Partial and total
// failures are reported through the result, see Result.Err.
func (o *Orchestrator) Construct(
	ctx context.Context,
	wallet string,
	riskLevel int,
	allocations []domain.TargetAllocation,
	capital decimal.Decimal,
	s signer.Signer,
) (*Result, error) {
	if !domain.ValidRiskLevel(riskLevel) {
		return nil, fmt.Errorf("risk level %d: %w", riskLevel, domain.ErrInvalidRiskLevel)
	}

	var orders []Order
	var skipped []MissingAsset
	for _, a := range allocations {
		asset, ok := o.assets.BySymbol(a.Symbol)
		switch {
		case !ok:
			skipped = append(skipped, MissingAsset{Symbol: a.Symbol, Reason: domain.ErrUnknownAsset.Error()})
		case !a.Notional.IsPositive():
			skipped = append(skipped, MissingAsset{Symbol: a.Symbol, Reason: "zero notional"})
		default:
			orders = append(orders, Order{Kind: domain.TransactionBuy, Asset: asset, Amount: a.Notional})
		}
	}
	if len(orders) == 0 {
		return nil, fmt.Errorf("%d entries skipped: %w", len(skipped), domain.ErrNoValidAllocations)
	}

	o.logger.Info("constructing portfolio",
		zap.String("wallet", wallet),
		zap.Int("risk_level", riskLevel),
		zap.String("capital", capital.String()),
		zap.Int("orders", len(orders)),
		zap.Int("skipped", len(skipped)))

	res, err := o.run(ctx, wallet, orders, s, runPlan{
		kind: "construct",
		template: &domain.Portfolio{
			WalletAddress: wallet,
			RiskLevel:     riskLevel,
		},
		targets: allocations,
	})
	if err != nil {
		return nil, err
	}
	res.Skipped = skipped
	return res, nil
}

// ExecuteOrders runs orders for a wallet that already has an active portfolio.
// Sells should precede buys so the quote asset they release funds the buys.
func (o *Orchestrator) ExecuteOrders(ctx context.Context, wallet string, orders []Order, s signer.Signer) (*Result, error) {
	return o.run(ctx, wallet, orders, s, runPlan{kind: "orders"})
}

// Rebalance runs orders and stamps new targets on the portfolio.
func (o *Orchestrator) Rebalance(ctx context.Context, wallet string, orders []Order, targets []domain.TargetAllocation, s signer.Signer) (*Result, error) {
	return o.run(ctx, wallet, orders, s, runPlan{kind: "rebalance", targets: targets})
}

func (o *Orchestrator) run(ctx context.Context, wallet string, orders []Order, s signer.Signer, plan runPlan) (*Result, error) {
	if s == nil {
		return nil, errors.New("no signer")
	}
	if s.PublicKey() != wallet {
		return nil, fmt.Errorf("signer %s does not control wallet %s", s.PublicKey(), wallet)
	}

	unlock, err := o.lock(ctx, wallet)
	if err != nil {
		return nil, err
	}
	defer unlock()

	portfolio, err := o.portfolios.GetByWallet(ctx, wallet)
	switch {
	case errors.Is(err, storage.ErrNotFound) && plan.template != nil:
		portfolio = nil
	case err != nil:
		return nil, fmt.Errorf("load portfolio of %s: %w", wallet, err)
	case plan.template != nil && portfolio.RiskLevel != plan.template.RiskLevel:
		return nil, fmt.Errorf("portfolio of %s is at risk level %d, not %d: %w",
			wallet, portfolio.RiskLevel, plan.template.RiskLevel, domain.ErrInvalidRiskLevel)
	}

	r := &runner{
		o:         o,
		plan:      plan,
		wallet:    wallet,
		portfolio: portfolio,
		log:       o.logger.With(zap.String("wallet", wallet), zap.String("kind", plan.kind)),
		res: &Result{
			Kind:     plan.kind,
			Wallet:   wallet,
			Deployed: decimal.Zero,
		},
	}

	for i, order := range orders {
		if i > 0 && !sleep(ctx, o.swapDelay) {
			r.cancelRemaining(orders[i:], ctx.Err())
			break
		}
		if ctx.Err() != nil {
			r.cancelRemaining(orders[i:], ctx.Err())
			break
		}
		r.execute(ctx, order, s)
	}

	r.finish(ctx, len(orders))
	observability.RecordOrderRun(plan.kind, string(r.res.Outcome))
	r.log.Info("run finished",
		zap.String("outcome", string(r.res.Outcome)),
		zap.Int("confirmed", r.res.Confirmed()),
		zap.Int("missing", len(r.res.Missing)))
	return r.res, nil
}

// lock serializes runs per wallet within this process.
func (o *Orchestrator) lock(ctx context.Context, wallet string) (func(), error) {
	o.mu.Lock()
	sem, ok := o.locks[wallet]
	if !ok {
		sem = semaphore.NewWeighted(1)
		o.locks[wallet] = sem
	}
	o.mu.Unlock()

	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("wait for wallet %s: %w", wallet, err)
	}
	return func() { sem.Release(1) }, nil
}

// runner holds the mutable state of one run.
type runner struct {
	o         *Orchestrator
	plan      runPlan
	wallet    string
	portfolio *domain.Portfolio
	log       *zap.Logger
	res       *Result
}

func (r *runner) execute(ctx context.Context, order Order, s signer.Signer) {
	quote := r.o.assets.Quote()
	in, out := quote, order.Asset
	if order.Kind == domain.TransactionSell {
		in, out = order.Asset, quote
	}

	log := r.log.With(zap.String("symbol", order.Asset.Symbol), zap.String("side", string(order.Kind)))
	swap := r.o.swapper.Swap(ctx, in, out, order.Amount, s)
	r.res.Results = append(r.res.Results, OrderResult{Order: order, Swap: swap})

	rec := &domain.TransactionRecord{
		WalletAddress: r.wallet,
		Signature:     swap.Signature,
		Kind:          order.Kind,
		Symbol:        order.Asset.Symbol,
		InputAddress:  in.Address,
		OutputAddress: out.Address,
		InputAmount:   swap.InAmount,
		OutputAmount:  swap.OutAmount,
		CreatedAt:     r.o.now().UTC(),
	}

	if !swap.Success {
		log.Warn("swap failed", zap.String("stage", string(swap.FailedAt)), zap.String("error", swap.Error))
		r.res.Missing = append(r.res.Missing, MissingAsset{Symbol: order.Asset.Symbol, Reason: swap.Error})
		rec.Status = domain.TransactionFailed
		rec.Error = swap.Error
		r.appendRecord(ctx, rec)
		return
	}

	delta, price := fill(order.Kind, swap)
	rec.Status = domain.TransactionConfirmed
	rec.Price = price
	if order.Kind == domain.TransactionBuy {
		r.res.Deployed = r.res.Deployed.Add(swap.InAmount)
	}

	if err := r.applyFill(ctx, order.Asset, delta, price, swap.InAmount); err != nil {
		log.Error("swap confirmed but portfolio not updated",
			zap.String("signature", swap.Signature), zap.Error(err))
		r.res.StoreErrors = append(r.res.StoreErrors, fmt.Sprintf("%s: %v", order.Asset.Symbol, err))
	}
	if r.portfolio != nil {
		rec.PortfolioID = r.portfolio.ID
	}
	r.appendRecord(ctx, rec)
	log.Info("swap confirmed", zap.String("signature", swap.Signature), zap.String("delta", delta.String()))
}

// applyFill applies one confirmed swap and persists the portfolio.
// A version conflict reloads the stored portfolio and applies the fill once more.
func (r *runner) applyFill(ctx context.Context, asset domain.Asset, delta, price, spent decimal.Decimal) error {
	if r.portfolio == nil {
		p := r.plan.template.Clone()
		p.ID = uuid.NewString()
		p.CreatedAt = r.o.now().UTC()
		if err := r.prepare(p, asset, delta, price, spent); err != nil {
			return err
		}
		if err := r.o.portfolios.Create(ctx, p); err != nil {
			return fmt.Errorf("create portfolio: %w", err)
		}
		r.portfolio = p
		return nil
	}

	for attempt := 0; ; attempt++ {
		p := r.portfolio.Clone()
		if err := r.prepare(p, asset, delta, price, spent); err != nil {
			return err
		}
		err := r.o.portfolios.Update(ctx, p)
		if err == nil {
			r.portfolio = p
			return nil
		}
		if !errors.Is(err, storage.ErrConflict) || attempt > 0 {
			return fmt.Errorf("update portfolio: %w", err)
		}

		fresh, getErr := r.o.portfolios.GetByID(ctx, r.portfolio.ID)
		if getErr != nil {
			return fmt.Errorf("reload portfolio: %w", getErr)
		}
		r.portfolio = fresh
	}
}

// prepare applies the fill to p and refreshes its derived fields from fill prices.
func (r *runner) prepare(p *domain.Portfolio, asset domain.Asset, delta, price, spent decimal.Decimal) error {
	if err := p.ApplyFill(asset.Symbol, asset.Address, delta, price); err != nil {
		return err
	}
	if r.plan.kind == "construct" && delta.IsPositive() {
		p.InitialInvestment = p.InitialInvestment.Add(spent)
	}
	if r.plan.targets != nil {
		p.SetTargets(r.plan.targets)
	}
	p.Revalue(lastFillPrices(p))
	return nil
}

func (r *runner) appendRecord(ctx context.Context, rec *domain.TransactionRecord) {
	rec.ID = idhash.ComputeTransactionID(rec.WalletAddress, rec.Signature, rec.Symbol, rec.CreatedAt)
	if err := r.o.transactions.Append(ctx, rec); err != nil {
		r.log.Error("append transaction", zap.String("symbol", rec.Symbol), zap.Error(err))
		r.res.StoreErrors = append(r.res.StoreErrors, fmt.Sprintf("log %s: %v", rec.Symbol, err))
	}
}

func (r *runner) cancelRemaining(orders []Order, cause error) {
	reason := context.Canceled.Error()
	if cause != nil {
		reason = cause.Error()
	}
	for _, order := range orders {
		r.res.Missing = append(r.res.Missing, MissingAsset{Symbol: order.Asset.Symbol, Reason: reason})
	}
	r.log.Warn("run canceled", zap.Int("remaining", len(orders)))
}

func (r *runner) finish(ctx context.Context, total int) {
	r.res.Outcome = outcomeOf(r.res.Confirmed(), total)
	if r.portfolio == nil {
		return
	}
	// Targets must land even when no fill touched the portfolio.
	if r.plan.targets != nil && r.res.Confirmed() == 0 {
		p := r.portfolio.Clone()
		p.SetTargets(r.plan.targets)
		if err := r.o.portfolios.Update(ctx, p); err != nil {
			r.log.Error("store targets", zap.Error(err))
			r.res.StoreErrors = append(r.res.StoreErrors, fmt.Sprintf("targets: %v", err))
		} else {
			r.portfolio = p
		}
	}
	r.res.PortfolioID = r.portfolio.ID
	r.res.Portfolio = r.portfolio.Clone()
}

// fill converts a confirmed swap into a position delta and a unit price in quote units.
func fill(kind domain.TransactionKind, swap domain.SwapResult) (delta, price decimal.Decimal) {
	if kind == domain.TransactionSell {
		if swap.InAmount.IsPositive() {
			price = swap.OutAmount.Div(swap.InAmount)
		}
		return swap.InAmount.Neg(), price
	}
	if swap.OutAmount.IsPositive() {
		price = swap.InAmount.Div(swap.OutAmount)
	}
	return swap.OutAmount, price
}

// lastFillPrices prices every position at its last known price.
func lastFillPrices(p *domain.Portfolio) domain.PriceMap {
	prices := make(domain.PriceMap, len(p.Positions))
	for _, pos := range p.Positions {
		if pos.CurrentPrice.IsPositive() {
			prices[pos.Address] = pos.CurrentPrice
		}
	}
	return prices
}

// sleep waits for d or until ctx is done. It reports whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
