package rebalance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xstock-portfolio/internal/allocation"
	"xstock-portfolio/internal/assets"
	"xstock-portfolio/internal/domain"
	"xstock-portfolio/internal/executor"
	jstub "xstock-portfolio/internal/jupiter/stub"
	"xstock-portfolio/internal/orchestrator"
	"xstock-portfolio/internal/pricing"
	"xstock-portfolio/internal/signer"
	signerstub "xstock-portfolio/internal/signer/stub"
	"xstock-portfolio/internal/solana"
	sstub "xstock-portfolio/internal/solana/stub"
	"xstock-portfolio/internal/storage"
	"xstock-portfolio/internal/storage/memory"
	"xstock-portfolio/internal/valuation"
)

// clock is a settable time source shared by every component of a fixture.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	reg        *assets.Registry
	agg        *jstub.Aggregator
	rpc        *sstub.RPCClient
	stores     *storage.Stores
	keyring    *signer.Keyring
	clock      *clock
	rebalancer *Rebalancer
	scheduler  *Scheduler
}

func newFixture(t *testing.T, policy Policy) *fixture {
	t.Helper()

	reg, err := assets.Default()
	require.NoError(t, err)

	f := &fixture{
		reg:     reg,
		agg:     jstub.NewAggregator(),
		rpc:     sstub.NewRPCClient(),
		stores:  memory.NewStores(),
		keyring: signer.NewKeyring(),
		clock:   &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	f.rpc.ConfirmOnSend = true

	quote := reg.Quote()
	f.agg.List(quote.Address, quote.Decimals, decimal.NewFromInt(1))
	f.setPrice(t, "SPYx", 600)
	f.setPrice(t, "QQQx", 500)
	f.setPrice(t, "AAPLx", 200)
	f.setPrice(t, "MSFTx", 400)

	execPolicy := executor.DefaultPolicy()
	execPolicy.RetryInitialDelay = time.Millisecond
	execPolicy.RetryMaxDelay = 2 * time.Millisecond
	execPolicy.ConfirmTimeout = 500 * time.Millisecond
	exec := executor.New(f.agg, f.rpc, executor.Options{
		Policy:    execPolicy,
		Confirmer: executor.NewPollingConfirmer(f.rpc, 5*time.Millisecond, solana.CommitmentConfirmed, nil),
	})

	orch := orchestrator.New(orchestrator.Options{
		Swapper:      exec,
		Assets:       reg,
		Portfolios:   f.stores.Portfolios,
		Transactions: f.stores.Transactions,
		SwapDelay:    time.Millisecond,
		Now:          f.clock.Now,
	})

	f.rebalancer = New(Options{
		Engine:     allocation.New(allocation.Options{}),
		Valuer:     valuation.New(pricing.NewBatchGateway(f.agg, pricing.Options{}), valuation.Options{}),
		Runner:     orch,
		Portfolios: f.stores.Portfolios,
		Assets:     reg,
		Policy:     policy,
		Now:        f.clock.Now,
	})
	f.scheduler = NewScheduler(f.rebalancer, SchedulerOptions{
		Portfolios: f.stores.Portfolios,
		Snapshots:  f.stores.Snapshots,
		Signers:    f.keyring,
		Workers:    2,
		Now:        f.clock.Now,
	})
	return f
}

func (f *fixture) setPrice(t *testing.T, symbol string, price int64) {
	t.Helper()
	a, ok := f.reg.BySymbol(symbol)
	require.True(t, ok, symbol)
	f.agg.List(a.Address, a.Decimals, decimal.NewFromInt(price))
}

// seed stores a level 1 portfolio worth 1000 at the fixture's initial prices.
func (f *fixture) seed(t *testing.T, s signer.Signer, createdAt time.Time) *domain.Portfolio {
	t.Helper()
	p := &domain.Portfolio{
		ID:                "p-" + s.PublicKey()[:8],
		WalletAddress:     s.PublicKey(),
		RiskLevel:         1,
		InitialInvestment: decimal.NewFromInt(1000),
		CreatedAt:         createdAt,
	}
	for _, h := range []struct {
		symbol, amount string
		price          int64
		target         float64
	}{
		{"SPYx", "1", 600, 60},
		{"QQQx", "0.4", 500, 20},
		{"AAPLx", "0.5", 200, 10},
		{"MSFTx", "0.25", 400, 10},
	} {
		a, _ := f.reg.BySymbol(h.symbol)
		require.NoError(t, p.ApplyFill(h.symbol, a.Address, decimal.RequireFromString(h.amount), decimal.NewFromInt(h.price)))
	}
	p.SetTargets([]domain.TargetAllocation{
		{Symbol: "SPYx", Percentage: 60}, {Symbol: "QQQx", Percentage: 20},
		{Symbol: "AAPLx", Percentage: 10}, {Symbol: "MSFTx", Percentage: 10},
	})
	require.NoError(t, f.stores.Portfolios.Create(context.Background(), p))
	return p
}

func TestRebalancer_NeedsRebalance(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	p := f.seed(t, signerstub.New("a"), f.clock.Now())

	check, err := f.rebalancer.NeedsRebalance(t.Context(), p)
	require.NoError(t, err)
	assert.False(t, check.Needed)
	assert.InDelta(t, 0, check.MaxDrift, 1e-9)

	f.setPrice(t, "AAPLx", 2000)
	check, err = f.rebalancer.NeedsRebalance(t.Context(), p)
	require.NoError(t, err)
	assert.True(t, check.Needed)
	assert.Equal(t, "AAPLx", check.Drifts[0].Symbol)
	assert.InDelta(t, 1000.0/1900*100-10, check.MaxDrift, 1e-9)
	assert.Equal(t, 1, check.Risk.RiskTolerance)
}

func TestRebalancer_UnpricedWithholdsDecision(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	p := f.seed(t, signerstub.New("a"), f.clock.Now())
	f.setPrice(t, "MSFTx", 0)

	check, err := f.rebalancer.NeedsRebalance(t.Context(), p)
	assert.ErrorIs(t, err, domain.ErrPricingUnavailable)
	require.NotNil(t, check)
	assert.False(t, check.Needed)
	assert.True(t, check.Portfolio.PartiallyPriced)
}

func TestScheduler_RebalancesDriftedPortfolio(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	s := signerstub.New("a")
	f.keyring.Add(s)
	p := f.seed(t, s, f.clock.Now())

	f.setPrice(t, "AAPLx", 2000)
	f.clock.Advance(25 * time.Hour)

	report, err := f.scheduler.RunOnce(t.Context())
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)
	require.NoError(t, report.SnapshotErr)

	out := report.Outcomes[0]
	require.Equal(t, DecisionRebalanced, out.Decision, "err: %v", out.Err)
	assert.NoError(t, out.Err)
	require.Len(t, out.Orders, 4)
	assert.Equal(t, domain.TransactionSell, out.Orders[0].Kind)
	assert.Equal(t, "AAPLx", out.Orders[0].Asset.Symbol)
	assert.Equal(t, "0.405", out.Orders[0].Amount.String())

	stored, err := f.stores.Portfolios.GetByID(t.Context(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.RebalanceCount)
	assert.Equal(t, f.clock.Now(), stored.LastRebalancedAt)

	aapl, _ := stored.Position("AAPLx")
	assert.Equal(t, "0.095", aapl.Amount.String())
	spy, _ := stored.Position("SPYx")
	assert.Equal(t, "1.9", spy.Amount.String())

	snaps, err := f.stores.Snapshots.GetByPortfolio(t.Context(), p.ID, 0, f.clock.Now().UnixMilli())
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.InDelta(t, 1900, snaps[0].TotalValue, 1e-9)
	assert.InDelta(t, out.MaxDrift, snaps[0].MaxDrift, 1e-9)

	// The attempt closes the gate.
	report, err = f.scheduler.RunOnce(t.Context())
	require.NoError(t, err)
	assert.Equal(t, DecisionNotDue, report.Outcomes[0].Decision)
}

func TestScheduler_RunReportsEveryPass(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	f.seed(t, signerstub.New("a"), f.clock.Now())
	scheduler := NewScheduler(f.rebalancer, SchedulerOptions{
		Portfolios: f.stores.Portfolios,
		Interval:   5 * time.Millisecond,
		Now:        f.clock.Now,
	})

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	var reports []*BatchReport
	err := scheduler.Run(ctx, func(r *BatchReport) {
		reports = append(reports, r)
		if len(reports) == 2 {
			cancel()
		}
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, reports, 2)
	for _, r := range reports {
		assert.Equal(t, 1, r.Active)
	}
}

func TestScheduler_GateSkipsRecentPortfolios(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	f.seed(t, signerstub.New("a"), f.clock.Now())
	f.setPrice(t, "AAPLx", 2000)

	report, err := f.scheduler.RunOnce(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(DecisionNotDue))
	assert.Equal(t, 0, f.agg.QuoteCount())
}

func TestScheduler_WithoutSignerOnlyChecks(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	p := f.seed(t, signerstub.New("a"), f.clock.Now())
	f.setPrice(t, "AAPLx", 2000)
	f.clock.Advance(25 * time.Hour)

	report, err := f.scheduler.RunOnce(t.Context())
	require.NoError(t, err)
	assert.Equal(t, DecisionNoSigner, report.Outcomes[0].Decision)
	assert.Equal(t, 0, f.agg.QuoteCount())

	stored, err := f.stores.Portfolios.GetByID(t.Context(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.RebalanceCount)
}

func TestScheduler_IsolatesFailures(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	healthy := signerstub.New("healthy")
	broken := signerstub.New("broken")
	f.keyring.Add(healthy)
	f.keyring.Add(broken)
	f.seed(t, healthy, f.clock.Now())
	pb := f.seed(t, broken, f.clock.Now())

	// The broken wallet also holds an asset without a price.
	pb, err := f.stores.Portfolios.GetByID(t.Context(), pb.ID)
	require.NoError(t, err)
	tsla, _ := f.reg.BySymbol("TSLAx")
	require.NoError(t, pb.ApplyFill("TSLAx", tsla.Address, decimal.NewFromInt(1), decimal.NewFromInt(300)))
	require.NoError(t, f.stores.Portfolios.Update(t.Context(), pb))

	f.clock.Advance(25 * time.Hour)
	report, err := f.scheduler.RunOnce(t.Context())
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 2)

	byWallet := map[string]*Outcome{}
	for _, o := range report.Outcomes {
		byWallet[o.Wallet] = o
	}
	assert.Equal(t, DecisionHold, byWallet[healthy.PublicKey()].Decision)
	assert.Equal(t, DecisionError, byWallet[broken.PublicKey()].Decision)
	assert.ErrorIs(t, byWallet[broken.PublicKey()].Err, domain.ErrPricingUnavailable)
	assert.Len(t, report.Errors(), 1)
}

func TestRebalancer_PartialAttemptBookkeeping(t *testing.T) {
	for _, count := range []bool{true, false} {
		t.Run(map[bool]string{true: "counted", false: "not counted"}[count], func(t *testing.T) {
			policy := DefaultPolicy()
			policy.CountPartialAttempts = count
			f := newFixture(t, policy)
			s := signerstub.New("a")
			p := f.seed(t, s, f.clock.Now())

			f.setPrice(t, "AAPLx", 2000)
			spy, _ := f.reg.BySymbol("SPYx")
			f.agg.NoRoute[spy.Address] = true

			out, err := f.rebalancer.Rebalance(t.Context(), p, s)
			require.NoError(t, err)
			assert.Equal(t, DecisionPartial, out.Decision)
			assert.True(t, errors.Is(out.Err, domain.ErrPartialPortfolioFailure))
			assert.Equal(t, []string{"SPYx"}, out.Result.MissingSymbols())

			stored, err := f.stores.Portfolios.GetByID(t.Context(), p.ID)
			require.NoError(t, err)
			if count {
				assert.Equal(t, 1, stored.RebalanceCount)
				assert.False(t, stored.LastRebalancedAt.IsZero())
			} else {
				assert.Equal(t, 0, stored.RebalanceCount)
				assert.True(t, stored.LastRebalancedAt.IsZero())
			}
		})
	}
}
