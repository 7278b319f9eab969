package orchestrator

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
	"xstock-portfolio/internal/pricing"
	"xstock-portfolio/internal/signer"
	signerstub "xstock-portfolio/internal/signer/stub"
	"xstock-portfolio/internal/solana"
	sstub "xstock-portfolio/internal/solana/stub"
	"xstock-portfolio/internal/storage"
	"xstock-portfolio/internal/storage/memory"
)

var testPrices = map[string]int64{
	"QQQx":   500,
	"AAPLx":  200,
	"MSFTx":  400,
	"NVDAx":  100,
	"GOOGLx": 150,
}

type fixture struct {
	orch   *Orchestrator
	reg    *assets.Registry
	agg    *jstub.Aggregator
	rpc    *sstub.RPCClient
	signer *signerstub.Signer
	stores *storage.Stores
	wallet string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	reg, err := assets.Default()
	require.NoError(t, err)

	f := &fixture{
		reg:    reg,
		agg:    jstub.NewAggregator(),
		rpc:    sstub.NewRPCClient(),
		signer: signerstub.New("orchestrator-test"),
		stores: memory.NewStores(),
	}
	f.wallet = f.signer.PublicKey()
	f.rpc.ConfirmOnSend = true

	quote := reg.Quote()
	f.agg.List(quote.Address, quote.Decimals, decimal.NewFromInt(1))
	for symbol, price := range testPrices {
		a, ok := reg.BySymbol(symbol)
		require.True(t, ok, symbol)
		f.agg.List(a.Address, a.Decimals, decimal.NewFromInt(price))
	}

	policy := executor.DefaultPolicy()
	policy.RetryInitialDelay = time.Millisecond
	policy.RetryMaxDelay = 2 * time.Millisecond
	policy.ConfirmTimeout = 500 * time.Millisecond
	exec := executor.New(f.agg, f.rpc, executor.Options{
		Policy:    policy,
		Confirmer: executor.NewPollingConfirmer(f.rpc, 5*time.Millisecond, solana.CommitmentConfirmed, nil),
	})

	f.orch = New(Options{
		Swapper:      exec,
		Assets:       reg,
		Portfolios:   f.stores.Portfolios,
		Transactions: f.stores.Transactions,
		Prices:       pricing.NewBatchGateway(f.agg, pricing.Options{}),
		SwapDelay:    time.Millisecond,
	})
	return f
}

func (f *fixture) allocations(t *testing.T, level int, capital int64) []domain.TargetAllocation {
	t.Helper()
	allocs, err := allocation.New(allocation.Options{}).Compute(level, decimal.NewFromInt(capital))
	require.NoError(t, err)
	return allocs
}

func (f *fixture) noRoute(t *testing.T, symbols ...string) {
	t.Helper()
	for _, s := range symbols {
		a, ok := f.reg.BySymbol(s)
		require.True(t, ok, s)
		f.agg.NoRoute[a.Address] = true
	}
}

func TestConstruct_AllSuccessful(t *testing.T) {
	f := newFixture(t)
	allocs := f.allocations(t, 5, 1000)

	res, err := f.orch.Construct(t.Context(), f.wallet, 5, allocs, decimal.NewFromInt(1000), f.signer)
	require.NoError(t, err)

	assert.Equal(t, AllSuccessful, res.Outcome)
	assert.NoError(t, res.Err())
	assert.Equal(t, 5, res.Confirmed())
	assert.Empty(t, res.Missing)
	assert.Empty(t, res.StoreErrors)
	assert.Equal(t, "1000", res.Deployed.String())
	assert.Contains(t, res.Summary(), "All 5 swaps confirmed")

	p, err := f.stores.Portfolios.GetByWallet(t.Context(), f.wallet)
	require.NoError(t, err)
	assert.Equal(t, res.PortfolioID, p.ID)
	assert.Equal(t, 5, p.RiskLevel)
	assert.Equal(t, "1000", p.InitialInvestment.String())
	assert.Len(t, p.Positions, 5)

	qqq, ok := p.Position("QQQx")
	require.True(t, ok)
	assert.Equal(t, "0.6", qqq.Amount.String())
	assert.Equal(t, "500", qqq.AverageEntryPrice.String())
	assert.Equal(t, 30.0, qqq.TargetPercentage)
	assert.InDelta(t, 30.0, qqq.CurrentPercentage, 1e-9)
	assert.True(t, p.TotalValue.Equal(decimal.NewFromInt(1000)))

	recs, err := f.stores.Transactions.ListByWallet(t.Context(), f.wallet, 0)
	require.NoError(t, err)
	require.Len(t, recs, 5)
	for _, r := range recs {
		assert.Equal(t, domain.TransactionConfirmed, r.Status)
		assert.Equal(t, domain.TransactionBuy, r.Kind)
		assert.Equal(t, p.ID, r.PortfolioID)
		assert.NotEmpty(t, r.Signature)
		assert.NotEmpty(t, r.ID)
	}
}

func TestConstruct_PartialSuccessNamesMissingAssets(t *testing.T) {
	f := newFixture(t)
	f.noRoute(t, "NVDAx", "GOOGLx")
	allocs := f.allocations(t, 5, 1000)

	res, err := f.orch.Construct(t.Context(), f.wallet, 5, allocs, decimal.NewFromInt(1000), f.signer)
	require.NoError(t, err)

	assert.Equal(t, PartialSuccess, res.Outcome)
	assert.Equal(t, 3, res.Confirmed())
	assert.Equal(t, []string{"NVDAx", "GOOGLx"}, res.MissingSymbols())
	for _, m := range res.Missing {
		assert.Contains(t, m.Reason, domain.ErrNoRouteFound.Error())
	}
	assert.ErrorIs(t, res.Err(), domain.ErrPartialPortfolioFailure)
	assert.Contains(t, res.Err().Error(), "NVDAx")
	assert.Contains(t, res.Err().Error(), "GOOGLx")
	assert.Equal(t, "700", res.Deployed.String())

	// Confirmed swaps stay in place.
	p, err := f.stores.Portfolios.GetByWallet(t.Context(), f.wallet)
	require.NoError(t, err)
	assert.Len(t, p.Positions, 3)
	assert.Equal(t, "700", p.InitialInvestment.String())
	_, held := p.Position("NVDAx")
	assert.False(t, held)

	recs, err := f.stores.Transactions.ListByWallet(t.Context(), f.wallet, 0)
	require.NoError(t, err)
	require.Len(t, recs, 5)
	failed := 0
	for _, r := range recs {
		if r.Status == domain.TransactionFailed {
			failed++
			assert.NotEmpty(t, r.Error)
			assert.Empty(t, r.Signature)
		}
	}
	assert.Equal(t, 2, failed)
}

func TestConstruct_TotalFailureDeploysNothing(t *testing.T) {
	f := newFixture(t)
	f.signer.Reject = true
	allocs := f.allocations(t, 1, 500)

	res, err := f.orch.Construct(t.Context(), f.wallet, 1, allocs, decimal.NewFromInt(500), f.signer)
	require.NoError(t, err)

	assert.Equal(t, TotalFailure, res.Outcome)
	assert.ErrorIs(t, res.Err(), domain.ErrTotalFailure)
	assert.Equal(t, 0, res.Confirmed())
	assert.Len(t, res.Missing, len(allocs))
	assert.Empty(t, res.PortfolioID)
	assert.Nil(t, res.Portfolio)
	assert.True(t, res.Deployed.IsZero())
	assert.Contains(t, res.Summary(), "no capital was deployed")
	assert.Equal(t, 0, f.rpc.SubmitCount())

	_, err = f.stores.Portfolios.GetByWallet(t.Context(), f.wallet)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestConstruct_NoValidAllocations(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		allocs []domain.TargetAllocation
	}{
		{"empty", nil},
		{"zero notionals", []domain.TargetAllocation{{Symbol: "AAPLx", Percentage: 100, Notional: decimal.Zero}}},
		{"unknown symbols", []domain.TargetAllocation{{Symbol: "NOPEx", Percentage: 100, Notional: decimal.NewFromInt(10)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.orch.Construct(t.Context(), f.wallet, 3, tt.allocs, decimal.NewFromInt(10), f.signer)
			assert.ErrorIs(t, err, domain.ErrNoValidAllocations)
			assert.Nil(t, res)
		})
	}
	assert.Equal(t, 0, f.agg.QuoteCount())
}

func TestConstruct_SkipsInvalidEntries(t *testing.T) {
	f := newFixture(t)
	allocs := []domain.TargetAllocation{
		{Symbol: "AAPLx", Percentage: 50, Notional: decimal.NewFromInt(100)},
		{Symbol: "NOPEx", Percentage: 25, Notional: decimal.NewFromInt(50)},
		{Symbol: "MSFTx", Percentage: 25, Notional: decimal.Zero},
	}

	res, err := f.orch.Construct(t.Context(), f.wallet, 3, allocs, decimal.NewFromInt(150), f.signer)
	require.NoError(t, err)

	assert.Equal(t, AllSuccessful, res.Outcome)
	require.Len(t, res.Skipped, 2)
	assert.Equal(t, "NOPEx", res.Skipped[0].Symbol)
	assert.Equal(t, domain.ErrUnknownAsset.Error(), res.Skipped[0].Reason)
	assert.Equal(t, "MSFTx", res.Skipped[1].Symbol)
	assert.Contains(t, res.Summary(), "Skipped: NOPEx")
}

func TestConstruct_InvalidRiskLevel(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.Construct(t.Context(), f.wallet, 11, f.allocations(t, 5, 100), decimal.NewFromInt(100), f.signer)
	assert.ErrorIs(t, err, domain.ErrInvalidRiskLevel)
}

func TestConstruct_SignerMustControlWallet(t *testing.T) {
	f := newFixture(t)
	other := signerstub.New("someone-else")

	_, err := f.orch.Construct(t.Context(), f.wallet, 5, f.allocations(t, 5, 100), decimal.NewFromInt(100), other)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not control wallet")
	assert.Equal(t, 0, f.agg.QuoteCount())
}

// cancelingSwapper cancels the run after its first swap.
type cancelingSwapper struct {
	next   Swapper
	cancel context.CancelFunc
	calls  int
}

func (s *cancelingSwapper) Swap(ctx context.Context, in, out domain.Asset, amount decimal.Decimal, sg signer.Signer) domain.SwapResult {
	s.calls++
	res := s.next.Swap(ctx, in, out, amount, sg)
	s.cancel()
	return res
}

func TestConstruct_CancellationStopsNewSwaps(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	swapper := &cancelingSwapper{next: f.orch.swapper, cancel: cancel}
	f.orch.swapper = swapper
	f.orch.swapDelay = time.Second

	allocs := f.allocations(t, 5, 1000)
	res, err := f.orch.Construct(ctx, f.wallet, 5, allocs, decimal.NewFromInt(1000), f.signer)
	require.NoError(t, err)

	assert.Equal(t, 1, swapper.calls)
	assert.Equal(t, PartialSuccess, res.Outcome)
	assert.Equal(t, 1, res.Confirmed())
	require.Len(t, res.Missing, 4)
	for _, m := range res.Missing {
		assert.Equal(t, "context canceled", m.Reason)
	}

	// The first buy is kept.
	p, err := f.stores.Portfolios.GetByWallet(t.Context(), f.wallet)
	require.NoError(t, err)
	assert.Len(t, p.Positions, 1)
}

func TestExecuteOrders_SellReducesPosition(t *testing.T) {
	f := newFixture(t)
	allocs := []domain.TargetAllocation{{Symbol: "AAPLx", Percentage: 100, Notional: decimal.NewFromInt(200)}}
	_, err := f.orch.Construct(t.Context(), f.wallet, 3, allocs, decimal.NewFromInt(200), f.signer)
	require.NoError(t, err)

	aapl, _ := f.reg.BySymbol("AAPLx")
	res, err := f.orch.ExecuteOrders(t.Context(), f.wallet, []Order{
		{Kind: domain.TransactionSell, Asset: aapl, Amount: decimal.RequireFromString("0.25")},
	}, f.signer)
	require.NoError(t, err)
	require.Equal(t, AllSuccessful, res.Outcome)
	assert.True(t, res.Deployed.IsZero())

	pos, ok := res.Portfolio.Position("AAPLx")
	require.True(t, ok)
	assert.Equal(t, "0.75", pos.Amount.String())
	assert.Equal(t, "200", pos.AverageEntryPrice.String())
	assert.Equal(t, "200", res.Portfolio.InitialInvestment.String())

	recs, err := f.stores.Transactions.ListByWallet(t.Context(), f.wallet, 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.TransactionSell, recs[0].Kind)
	assert.Equal(t, "50", recs[0].OutputAmount.String())
	assert.Equal(t, "200", recs[0].Price.String())
}

func TestExecuteOrders_RequiresPortfolio(t *testing.T) {
	f := newFixture(t)
	aapl, _ := f.reg.BySymbol("AAPLx")

	_, err := f.orch.ExecuteOrders(t.Context(), f.wallet, []Order{
		{Kind: domain.TransactionBuy, Asset: aapl, Amount: decimal.NewFromInt(10)},
	}, f.signer)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRebalance_StampsTargetsWithoutFills(t *testing.T) {
	f := newFixture(t)
	allocs := []domain.TargetAllocation{{Symbol: "AAPLx", Percentage: 100, Notional: decimal.NewFromInt(200)}}
	_, err := f.orch.Construct(t.Context(), f.wallet, 3, allocs, decimal.NewFromInt(200), f.signer)
	require.NoError(t, err)

	targets := []domain.TargetAllocation{{Symbol: "AAPLx", Percentage: 40}, {Symbol: "MSFTx", Percentage: 60}}
	res, err := f.orch.Rebalance(t.Context(), f.wallet, nil, targets, f.signer)
	require.NoError(t, err)

	assert.Equal(t, AllSuccessful, res.Outcome)
	p, err := f.stores.Portfolios.GetByWallet(t.Context(), f.wallet)
	require.NoError(t, err)
	pos, ok := p.Position("AAPLx")
	require.True(t, ok)
	assert.Equal(t, 40.0, pos.TargetPercentage)
}

func TestConstruct_TopUpKeepsRiskLevel(t *testing.T) {
	f := newFixture(t)
	allocs := []domain.TargetAllocation{{Symbol: "AAPLx", Percentage: 100, Notional: decimal.NewFromInt(200)}}
	_, err := f.orch.Construct(t.Context(), f.wallet, 5, allocs, decimal.NewFromInt(200), f.signer)
	require.NoError(t, err)

	_, err = f.orch.Construct(t.Context(), f.wallet, 2, allocs, decimal.NewFromInt(200), f.signer)
	require.ErrorIs(t, err, domain.ErrInvalidRiskLevel)

	p, err := f.stores.Portfolios.GetByWallet(t.Context(), f.wallet)
	require.NoError(t, err)
	assert.Equal(t, 5, p.RiskLevel)
	assert.Equal(t, "200", p.InitialInvestment.String())

	res, err := f.orch.Construct(t.Context(), f.wallet, 5, allocs, decimal.NewFromInt(200), f.signer)
	require.NoError(t, err)
	assert.Equal(t, AllSuccessful, res.Outcome)

	p, err = f.stores.Portfolios.GetByWallet(t.Context(), f.wallet)
	require.NoError(t, err)
	assert.Equal(t, 5, p.RiskLevel)
	assert.Equal(t, "400", p.InitialInvestment.String())
	aapl, ok := p.Position("AAPLx")
	require.True(t, ok)
	assert.Equal(t, "2", aapl.Amount.String())
}

// brokenUpdates rejects every Update.
type brokenUpdates struct {
	storage.PortfolioStore
}

func (brokenUpdates) Update(context.Context, *domain.Portfolio) error {
	return errors.New("disk full")
}

func TestRebalance_TargetsStoreErrorIsReported(t *testing.T) {
	f := newFixture(t)
	allocs := []domain.TargetAllocation{{Symbol: "AAPLx", Percentage: 100, Notional: decimal.NewFromInt(200)}}
	_, err := f.orch.Construct(t.Context(), f.wallet, 3, allocs, decimal.NewFromInt(200), f.signer)
	require.NoError(t, err)

	f.orch.portfolios = brokenUpdates{PortfolioStore: f.stores.Portfolios}
	targets := []domain.TargetAllocation{{Symbol: "AAPLx", Percentage: 40}, {Symbol: "MSFTx", Percentage: 60}}
	res, err := f.orch.Rebalance(t.Context(), f.wallet, nil, targets, f.signer)
	require.NoError(t, err)

	require.Len(t, res.StoreErrors, 1)
	assert.Contains(t, res.StoreErrors[0], "targets: disk full")

	pos, ok := res.Portfolio.Position("AAPLx")
	require.True(t, ok)
	assert.Equal(t, 100.0, pos.TargetPercentage)
}

// conflictingStore fails the first Update with a version conflict.
type conflictingStore struct {
	storage.PortfolioStore
	mu        sync.Mutex
	conflicts int
}

func (s *conflictingStore) Update(ctx context.Context, p *domain.Portfolio) error {
	s.mu.Lock()
	if s.conflicts == 0 {
		s.conflicts++
		s.mu.Unlock()
		return storage.ErrConflict
	}
	s.mu.Unlock()
	return s.PortfolioStore.Update(ctx, p)
}

func TestConstruct_ConflictReloadsAndRetries(t *testing.T) {
	f := newFixture(t)
	store := &conflictingStore{PortfolioStore: f.stores.Portfolios}
	f.orch.portfolios = store

	allocs := []domain.TargetAllocation{
		{Symbol: "AAPLx", Percentage: 50, Notional: decimal.NewFromInt(200)},
		{Symbol: "MSFTx", Percentage: 50, Notional: decimal.NewFromInt(200)},
	}
	res, err := f.orch.Construct(t.Context(), f.wallet, 3, allocs, decimal.NewFromInt(400), f.signer)
	require.NoError(t, err)

	assert.Equal(t, AllSuccessful, res.Outcome)
	assert.Empty(t, res.StoreErrors)
	assert.Equal(t, 1, store.conflicts)

	p, err := f.stores.Portfolios.GetByWallet(t.Context(), f.wallet)
	require.NoError(t, err)
	assert.Len(t, p.Positions, 2)
	assert.Equal(t, "400", p.InitialInvestment.String())
}

// failingLog rejects every append.
type failingLog struct{}

func (failingLog) Append(context.Context, *domain.TransactionRecord) error {
	return errors.New("log unavailable")
}

func (failingLog) ListByWallet(context.Context, string, int) ([]*domain.TransactionRecord, error) {
	return nil, nil
}

func TestConstruct_StoreErrorsDoNotFailSwaps(t *testing.T) {
	f := newFixture(t)
	f.orch.transactions = failingLog{}

	allocs := []domain.TargetAllocation{{Symbol: "AAPLx", Percentage: 100, Notional: decimal.NewFromInt(200)}}
	res, err := f.orch.Construct(t.Context(), f.wallet, 3, allocs, decimal.NewFromInt(200), f.signer)
	require.NoError(t, err)

	assert.Equal(t, AllSuccessful, res.Outcome)
	require.Len(t, res.StoreErrors, 1)
	assert.Contains(t, res.StoreErrors[0], "log unavailable")
	assert.Contains(t, res.Summary(), "need reconciliation")
}

func TestPreview(t *testing.T) {
	f := newFixture(t)
	allocs := []domain.TargetAllocation{
		{Symbol: "AAPLx", Percentage: 50, Notional: decimal.NewFromInt(100)},
		{Symbol: "TSLAx", Percentage: 30, Notional: decimal.NewFromInt(60)},
		{Symbol: "NOPEx", Percentage: 20, Notional: decimal.NewFromInt(40)},
	}

	lines, err := f.orch.Preview(t.Context(), allocs)
	require.NoError(t, err)
	require.Len(t, lines, 3)

	assert.True(t, lines[0].Priced)
	assert.Equal(t, "200", lines[0].Price.String())
	assert.Equal(t, "0.5", lines[0].EstimatedAmount.String())

	assert.False(t, lines[1].Priced, "TSLAx has no listed price")
	assert.NotEmpty(t, lines[1].Reason)
	assert.True(t, lines[1].EstimatedAmount.IsZero())

	assert.False(t, lines[2].Priced)
	assert.Equal(t, domain.ErrUnknownAsset.Error(), lines[2].Reason)
	assert.Equal(t, 0, f.rpc.SubmitCount())
}

func TestOutcomeOf(t *testing.T) {
	assert.Equal(t, AllSuccessful, outcomeOf(0, 0))
	assert.Equal(t, AllSuccessful, outcomeOf(3, 3))
	assert.Equal(t, PartialSuccess, outcomeOf(1, 3))
	assert.Equal(t, TotalFailure, outcomeOf(0, 3))
}
