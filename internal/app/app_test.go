package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xstock-portfolio/internal/config"
	"xstock-portfolio/internal/pricing"
	"xstock-portfolio/internal/rebalance"
	"xstock-portfolio/internal/storage/demo"
)

func demoConfig() *config.Config {
	cfg := config.Default()
	cfg.Store.Kind = config.StoreDemo
	cfg.Execution.SwapDelay = time.Millisecond
	return cfg
}

func TestBuild_Demo(t *testing.T) {
	ctx := context.Background()
	a, err := Build(ctx, demoConfig(), nil)
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, 1, a.Keyring.Len())
	_, ok := a.Keyring.Signer(demo.Wallet())
	assert.True(t, ok)
	assert.Nil(t, a.Changes)

	p, err := a.Stores.Portfolios.GetByWallet(ctx, demo.Wallet())
	require.NoError(t, err)

	rep, err := a.Valuer.Value(ctx, p)
	require.NoError(t, err)
	assert.Empty(t, rep.Unpriced)
	assert.True(t, rep.Portfolio.TotalValue.GreaterThan(decimal.NewFromInt(10000)))
}

func TestBuild_DemoSchedulerPass(t *testing.T) {
	ctx := context.Background()
	a, err := Build(ctx, demoConfig(), nil)
	require.NoError(t, err)
	defer a.Close()

	report, err := a.Scheduler().RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Active)
	assert.Empty(t, report.Errors())
	// The seeded portfolio is a month old and within the drift threshold.
	assert.Equal(t, 1, report.Count(rebalance.DecisionHold))
}

func TestBuild_MemoryWithRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := config.Default()
	cfg.Solana.RPCEndpoint = "http://127.0.0.1:1"
	cfg.Redis.Addr = mr.Addr()

	a, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	_, cached := a.Prices.(*pricing.CachedGateway)
	assert.True(t, cached)
	assert.Equal(t, 0, a.Keyring.Len())
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"unknown store", func(c *config.Config) { c.Store.Kind = "sqlite" }},
		{"missing keypair", func(c *config.Config) {
			c.Keypairs = []string{filepath.Join(t.TempDir(), "absent.json")}
		}},
		{"missing assets file", func(c *config.Config) {
			c.AssetsFile = filepath.Join(t.TempDir(), "assets.yaml")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := demoConfig()
			tt.mutate(cfg)
			a, err := Build(context.Background(), cfg, nil)
			assert.Error(t, err)
			assert.Nil(t, a)
		})
	}
}
