package clickhouse

import (
	"context"
	"fmt"
	"time"

	"xstock-portfolio/internal/domain"
	"xstock-portfolio/internal/storage"
)

// SnapshotStore implements storage.SnapshotStore using ClickHouse.
// The table is a ReplacingMergeTree keyed by (portfolio_id, timestamp_ms), so a
// re-sent point collapses into the existing one.
type SnapshotStore struct {
	conn *Conn
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(conn *Conn) *SnapshotStore {
	return &SnapshotStore{conn: conn}
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

// InsertBulk adds snapshots in one batch.
func (s *SnapshotStore) InsertBulk(ctx context.Context, snapshots []*domain.PortfolioSnapshot) (err error) {
	if len(snapshots) == 0 {
		return nil
	}
	for _, snap := range snapshots {
		if snap == nil || snap.PortfolioID == "" {
			return storage.ErrInvalidInput
		}
	}

	start := time.Now()
	defer func() { observe("insert_snapshots", start, err) }()

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO portfolio_snapshots (
			portfolio_id, wallet_address, timestamp_ms, risk_level,
			total_value, pnl_abs, pnl_pct, position_count, max_drift, partially_priced
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range snapshots {
		err = batch.Append(
			p.PortfolioID, p.WalletAddress, uint64(p.TimestampMs), uint8(p.RiskLevel),
			p.TotalValue, p.PnlAbs, p.PnlPct, uint32(p.PositionCount), p.MaxDrift, boolToUInt8(p.PartiallyPriced),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByPortfolio retrieves snapshots within [start, end] (inclusive), ordered by timestamp ASC.
func (s *SnapshotStore) GetByPortfolio(ctx context.Context, portfolioID string, start, end int64) ([]*domain.PortfolioSnapshot, error) {
	query := `
		SELECT portfolio_id, wallet_address, timestamp_ms, risk_level,
			total_value, pnl_abs, pnl_pct, position_count, max_drift, partially_priced
		FROM portfolio_snapshots FINAL
		WHERE portfolio_id = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC
	`

	began := time.Now()
	rows, err := s.conn.Query(ctx, query, portfolioID, uint64(start), uint64(end))
	observe("get_snapshots", began, err)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// scanSnapshots scans multiple rows.
func scanSnapshots(rows rowScanner) ([]*domain.PortfolioSnapshot, error) {
	var snaps []*domain.PortfolioSnapshot

	for rows.Next() {
		var p domain.PortfolioSnapshot
		var timestampMs uint64
		var riskLevel, partial uint8
		var positions uint32

		err := rows.Scan(
			&p.PortfolioID, &p.WalletAddress, &timestampMs, &riskLevel,
			&p.TotalValue, &p.PnlAbs, &p.PnlPct, &positions, &p.MaxDrift, &partial,
		)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}

		p.TimestampMs = int64(timestampMs)
		p.RiskLevel = int(riskLevel)
		p.PositionCount = int(positions)
		p.PartiallyPriced = partial == 1
		snaps = append(snaps, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot rows: %w", err)
	}

	return snaps, nil
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
