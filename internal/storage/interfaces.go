package storage

import (
	"context"

	"xstock-portfolio/internal/domain"
)

// PortfolioStore provides access to portfolios and their positions.
// A wallet has at most one active portfolio.
type PortfolioStore interface {
	// Create inserts a new active portfolio with version 1.
	// Returns ErrDuplicateKey if the wallet already has an active portfolio or the ID exists.
	Create(ctx context.Context, p *domain.Portfolio) error

	// GetByWallet retrieves the active portfolio of a wallet. Returns ErrNotFound if none.
	GetByWallet(ctx context.Context, wallet string) (*domain.Portfolio, error)

	// GetByID retrieves a portfolio by ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.Portfolio, error)

	// Update replaces the portfolio and its positions when p.Version matches the
	// stored version, then bumps p.Version. Returns ErrConflict on a stale version.
	Update(ctx context.Context, p *domain.Portfolio) error

	// ListActive retrieves all active portfolios ordered by wallet address.
	ListActive(ctx context.Context) ([]*domain.Portfolio, error)
}

// TransactionLog is the append-only log of executed swaps.
type TransactionLog interface {
	// Append adds a record. Returns ErrDuplicateKey if the ID exists.
	Append(ctx context.Context, rec *domain.TransactionRecord) error

	// ListByWallet retrieves up to limit records of a wallet, newest first.
	// A non-positive limit returns all records.
	ListByWallet(ctx context.Context, wallet string, limit int) ([]*domain.TransactionRecord, error)
}

// SnapshotStore provides access to portfolio valuation snapshots.
type SnapshotStore interface {
	// InsertBulk adds snapshots. Points with an existing (portfolio_id, timestamp_ms) are skipped.
	InsertBulk(ctx context.Context, snapshots []*domain.PortfolioSnapshot) error

	// GetByPortfolio retrieves snapshots within [start, end] (inclusive, unix ms), ordered by timestamp ASC.
	GetByPortfolio(ctx context.Context, portfolioID string, start, end int64) ([]*domain.PortfolioSnapshot, error)
}

// Stores bundles the record stores a process runs with.
type Stores struct {
	Portfolios   PortfolioStore
	Transactions TransactionLog
	Snapshots    SnapshotStore

	// Close releases the underlying connections. Nil for in-memory stores.
	Close func()
}
