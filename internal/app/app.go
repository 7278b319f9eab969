// Package app wires the configured components of the portfolio manager.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"xstock-portfolio/internal/allocation"
	"xstock-portfolio/internal/assets"
	"xstock-portfolio/internal/config"
	"xstock-portfolio/internal/executor"
	"xstock-portfolio/internal/jupiter"
	"xstock-portfolio/internal/orchestrator"
	"xstock-portfolio/internal/pricing"
	"xstock-portfolio/internal/rebalance"
	"xstock-portfolio/internal/signer"
	"xstock-portfolio/internal/solana"
	"xstock-portfolio/internal/storage"
	chstore "xstock-portfolio/internal/storage/clickhouse"
	"xstock-portfolio/internal/storage/demo"
	"xstock-portfolio/internal/storage/memory"
	pgstore "xstock-portfolio/internal/storage/postgres"
	"xstock-portfolio/internal/valuation"
)

// ChangeListener delivers the IDs of portfolios changed by any process.
type ChangeListener interface {
	Listen(ctx context.Context, fn func(portfolioID string)) error
}

// Aggregator quotes, builds swaps and prices assets.
type Aggregator interface {
	executor.Aggregator
	pricing.Source
}

// App holds every wired component.
type App struct {
	Config *config.Config
	Logger *zap.Logger

	Assets       *assets.Registry
	Engine       *allocation.Engine
	Stores       *storage.Stores
	Aggregator   Aggregator
	Ledger       solana.RPCClient
	Prices       pricing.Gateway
	Executor     *executor.Executor
	Orchestrator *orchestrator.Orchestrator
	Valuer       *valuation.Valuer
	Rebalancer   *rebalance.Rebalancer
	Keyring      *signer.Keyring

	// Changes is set for stores that publish change notifications.
	Changes ChangeListener

	closers []func()
}

// Build creates all components described by cfg. Call Close when done.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	var err error
	if a.Config.AssetsFile != "" {
		a.Assets, err = assets.Load(a.Config.AssetsFile)
	} else {
		a.Assets, err = assets.Default()
	}
	if err != nil {
		return fmt.Errorf("load assets: %w", err)
	}

	a.Engine = allocation.New(allocation.Options{Precision: a.Assets.Quote().Decimals})
	if err := a.Engine.Validate(a.Assets); err != nil {
		return fmt.Errorf("allocation table: %w", err)
	}

	if err := a.buildStores(ctx); err != nil {
		return err
	}
	if err := a.buildClients(ctx); err != nil {
		return err
	}
	if err := a.buildEngines(); err != nil {
		return err
	}
	return a.buildKeyring()
}

func (a *App) demo() bool {
	return a.Config.Store.Kind == config.StoreDemo
}

// buildStores creates the record stores for the configured kind.
func (a *App) buildStores(ctx context.Context) error {
	cfg := a.Config.Store
	switch cfg.Kind {
	case config.StoreMemory:
		a.Stores = memory.NewStores()

	case config.StoreDemo:
		stores, err := demo.NewStores(ctx, a.Assets, time.Now())
		if err != nil {
			return fmt.Errorf("seed demo store: %w", err)
		}
		a.Stores = stores

	case config.StorePostgres:
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		a.Stores = pgstore.NewStores(pool)
		if l, ok := a.Stores.Portfolios.(ChangeListener); ok {
			a.Changes = l
		}

		if cfg.ClickhouseDSN == "" {
			a.Logger.Warn("no clickhouse dsn, valuation snapshots kept in memory")
			a.Stores.Snapshots = memory.NewSnapshotStore()
			break
		}
		conn, err := chstore.NewConn(ctx, cfg.ClickhouseDSN)
		if err != nil {
			return fmt.Errorf("connect to clickhouse: %w", err)
		}
		a.closers = append(a.closers, func() { _ = conn.Close() })
		a.Stores.Snapshots = chstore.NewSnapshotStore(conn)

	default:
		return fmt.Errorf("unknown store %q", cfg.Kind)
	}
	return nil
}

// buildClients creates the aggregator, ledger, price gateway and confirmer inputs.
func (a *App) buildClients(ctx context.Context) error {
	cfg := a.Config

	if a.demo() {
		a.Aggregator = demo.NewAggregator(a.Assets)
		a.Ledger = demo.NewLedger()
	} else {
		a.Aggregator = jupiter.NewClient(
			jupiter.WithSwapURL(cfg.Jupiter.SwapURL),
			jupiter.WithPriceURL(cfg.Jupiter.PriceURL),
			jupiter.WithAPIKey(cfg.Jupiter.APIKey),
			jupiter.WithTimeout(cfg.Jupiter.Timeout),
			jupiter.WithLogger(a.Logger.Named("jupiter")),
		)
		a.Ledger = solana.NewHTTPClient(cfg.Solana.RPCEndpoint, solana.HTTPOptions{
			RequestsPerSec: cfg.Solana.RPCRequestsPerSec,
		})
	}

	var prices pricing.Gateway = pricing.NewBatchGateway(a.Aggregator, pricing.Options{
		BatchSize:      cfg.Pricing.BatchSize,
		RequestsPerSec: rate.Limit(cfg.Pricing.RequestsPerSec),
		Logger:         a.Logger.Named("pricing"),
	})
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			// Cache errors fall through to upstream.
			a.Logger.Warn("redis unreachable, price cache degraded", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		prices = pricing.NewCachedGateway(prices, rdb, cfg.Redis.CacheTTL, a.Logger.Named("price-cache"))
	}
	a.Prices = prices
	return nil
}

// buildEngines creates the executor, orchestrator, valuer and rebalancer.
func (a *App) buildEngines() error {
	cfg := a.Config

	policy := executor.DefaultPolicy()
	policy.MaxPriceImpactPct = cfg.Execution.MaxPriceImpactPct
	policy.EnforcePriceImpact = cfg.Execution.EnforcePriceImpact
	policy.SlippageBps = cfg.Execution.SlippageBps
	policy.MaxSubmitAttempts = cfg.Execution.MaxSubmitAttempts
	policy.ConfirmTimeout = cfg.Execution.ConfirmTimeout

	confirmer, err := a.confirmer()
	if err != nil {
		return err
	}
	a.Executor = executor.New(a.Aggregator, a.Ledger, executor.Options{
		Policy:    policy,
		Confirmer: confirmer,
		Logger:    a.Logger.Named("executor"),
	})

	a.Orchestrator = orchestrator.New(orchestrator.Options{
		Swapper:      a.Executor,
		Assets:       a.Assets,
		Prices:       a.Prices,
		Portfolios:   a.Stores.Portfolios,
		Transactions: a.Stores.Transactions,
		SwapDelay:    cfg.Execution.SwapDelay,
		Logger:       a.Logger.Named("orchestrator"),
	})

	vopts := valuation.Options{Logger: a.Logger.Named("valuation")}
	if cfg.Valuation.RefreshBalances && !a.demo() {
		vopts.Balances = valuation.NewBalanceReader(a.Ledger)
		vopts.Assets = a.Assets
	}
	a.Valuer = valuation.New(a.Prices, vopts)

	rpolicy := rebalance.DefaultPolicy()
	rpolicy.Threshold = cfg.Rebalance.DriftThreshold
	rpolicy.MinInterval = cfg.Rebalance.MinInterval
	rpolicy.CountPartialAttempts = cfg.Rebalance.CountPartialAttempts
	a.Rebalancer = rebalance.New(rebalance.Options{
		Engine:     a.Engine,
		Valuer:     a.Valuer,
		Runner:     a.Orchestrator,
		Portfolios: a.Stores.Portfolios,
		Assets:     a.Assets,
		Policy:     rpolicy,
		Logger:     a.Logger.Named("rebalance"),
	})
	return nil
}

func (a *App) confirmer() (executor.Confirmer, error) {
	cfg := a.Config
	if cfg.Execution.WSConfirm && cfg.Solana.WSEndpoint != "" && !a.demo() {
		ws, err := solana.NewWSClient(context.Background(), cfg.Solana.WSEndpoint, solana.WSConfig{
			Logger: a.Logger.Named("ws"),
		})
		if err != nil {
			return nil, fmt.Errorf("connect websocket: %w", err)
		}
		a.closers = append(a.closers, func() { _ = ws.Close() })
		return executor.NewWSConfirmer(ws, solana.CommitmentConfirmed), nil
	}
	return executor.NewPollingConfirmer(a.Ledger, executor.DefaultPollInterval, solana.CommitmentConfirmed, a.Logger.Named("confirm")), nil
}

func (a *App) buildKeyring() error {
	a.Keyring = signer.NewKeyring()
	if a.demo() {
		a.Keyring.Add(demo.Signer())
	}
	for _, path := range a.Config.Keypairs {
		s, err := signer.LoadKeypair(path)
		if err != nil {
			return fmt.Errorf("load keypair %s: %w", path, err)
		}
		a.Keyring.Add(s)
		a.Logger.Info("signer loaded", zap.String("wallet", s.PublicKey()))
	}
	return nil
}

// Scheduler returns a rebalance scheduler over the app's stores and keyring.
func (a *App) Scheduler() *rebalance.Scheduler {
	return rebalance.NewScheduler(a.Rebalancer, rebalance.SchedulerOptions{
		Portfolios: a.Stores.Portfolios,
		Snapshots:  a.Stores.Snapshots,
		Signers:    a.Keyring,
		Workers:    a.Config.Rebalance.Workers,
		Interval:   a.Config.Rebalance.CheckInterval,
		Logger:     a.Logger.Named("scheduler"),
	})
}

// Close releases connections in reverse creation order. Safe to call twice.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	if a.Stores != nil && a.Stores.Close != nil {
		a.Stores.Close()
		a.Stores.Close = nil
	}
}
