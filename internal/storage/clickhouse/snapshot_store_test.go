package clickhouse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xstock-portfolio/internal/domain"
)

func TestSnapshotStore_InsertBulkAndRange(t *testing.T) {
	conn := newTestConn(t)

	store := NewSnapshotStore(conn)
	ctx := context.Background()

	require.NoError(t, store.InsertBulk(ctx, nil))

	snaps := []*domain.PortfolioSnapshot{
		{PortfolioID: "p1", WalletAddress: "w1", TimestampMs: 2000, RiskLevel: 5, TotalValue: 1010, PnlAbs: 10, PnlPct: 1, PositionCount: 5, MaxDrift: 2.5},
		{PortfolioID: "p1", WalletAddress: "w1", TimestampMs: 1000, RiskLevel: 5, TotalValue: 1000, PositionCount: 5},
		{PortfolioID: "p1", WalletAddress: "w1", TimestampMs: 3000, RiskLevel: 5, TotalValue: 990, PartiallyPriced: true},
		{PortfolioID: "p2", WalletAddress: "w2", TimestampMs: 2000, RiskLevel: 9, TotalValue: 50},
	}
	require.NoError(t, store.InsertBulk(ctx, snaps))

	got, err := store.GetByPortfolio(ctx, "p1", 1000, 2000)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1000), got[0].TimestampMs)
	assert.Equal(t, int64(2000), got[1].TimestampMs)
	assert.Equal(t, 1010.0, got[1].TotalValue)
	assert.Equal(t, 2.5, got[1].MaxDrift)
	assert.Equal(t, 5, got[1].RiskLevel)

	last, err := store.GetByPortfolio(ctx, "p1", 3000, 3000)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.True(t, last[0].PartiallyPriced)
}

func TestSnapshotStore_ResentPointCollapses(t *testing.T) {
	conn := newTestConn(t)

	store := NewSnapshotStore(conn)
	ctx := context.Background()

	snap := &domain.PortfolioSnapshot{PortfolioID: "p1", WalletAddress: "w1", TimestampMs: 1000, RiskLevel: 3, TotalValue: 1000}
	require.NoError(t, store.InsertBulk(ctx, []*domain.PortfolioSnapshot{snap}))
	require.NoError(t, store.InsertBulk(ctx, []*domain.PortfolioSnapshot{snap}))

	got, err := store.GetByPortfolio(ctx, "p1", 0, 5000)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
