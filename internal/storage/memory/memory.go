// Package memory provides mutex-guarded in-memory record stores.
// Every read and write copies, so callers never share state with the store.
package memory

import "xstock-portfolio/internal/storage"

// NewStores returns an empty set of in-memory stores.
func NewStores() *storage.Stores {
	return &storage.Stores{
		Portfolios:   NewPortfolioStore(),
		Transactions: NewTransactionLog(),
		Snapshots:    NewSnapshotStore(),
	}
}
