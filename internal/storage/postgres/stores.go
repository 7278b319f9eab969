package postgres

import "xstock-portfolio/internal/storage"

// NewStores returns the Postgres-backed portfolio store and transaction log.
// Snapshots live in the analytics store and are left for the caller to set.
func NewStores(pool *Pool) *storage.Stores {
	return &storage.Stores{
		Portfolios:   NewPortfolioStore(pool),
		Transactions: NewTransactionLog(pool),
		Close:        pool.Close,
	}
}
