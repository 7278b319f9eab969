package memory

import (
	"context"
	"sort"
	"sync"

	"xstock-portfolio/internal/domain"
	"xstock-portfolio/internal/storage"
)

// TransactionLog is an in-memory implementation of storage.TransactionLog.
type TransactionLog struct {
	mu      sync.RWMutex
	ids     map[string]struct{}
	records []*domain.TransactionRecord // append order
}

// NewTransactionLog creates a new in-memory transaction log.
func NewTransactionLog() *TransactionLog {
	return &TransactionLog{
		ids: make(map[string]struct{}),
	}
}

// Append adds a record. Returns ErrDuplicateKey if the ID exists.
func (l *TransactionLog) Append(_ context.Context, rec *domain.TransactionRecord) error {
	if rec == nil || rec.ID == "" || rec.WalletAddress == "" {
		return storage.ErrInvalidInput
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.ids[rec.ID]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *rec
	l.ids[rec.ID] = struct{}{}
	l.records = append(l.records, &copy)
	return nil
}

// ListByWallet retrieves up to limit records of a wallet, newest first.
func (l *TransactionLog) ListByWallet(_ context.Context, wallet string, limit int) ([]*domain.TransactionRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var result []*domain.TransactionRecord
	for i := len(l.records) - 1; i >= 0; i-- {
		if l.records[i].WalletAddress == wallet {
			copy := *l.records[i]
			result = append(result, &copy)
		}
	}

	// Stable keeps append order among records sharing a timestamp.
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

var _ storage.TransactionLog = (*TransactionLog)(nil)
