package memory

import (
	"context"
	"sort"
	"sync"

	"xstock-portfolio/internal/domain"
	"xstock-portfolio/internal/storage"
)

type snapshotKey struct {
	portfolioID string
	timestampMs int64
}

// SnapshotStore is an in-memory implementation of storage.SnapshotStore.
type SnapshotStore struct {
	mu   sync.RWMutex
	data map[snapshotKey]*domain.PortfolioSnapshot
}

// NewSnapshotStore creates a new in-memory snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		data: make(map[snapshotKey]*domain.PortfolioSnapshot),
	}
}

// InsertBulk adds snapshots, skipping points that already exist.
func (s *SnapshotStore) InsertBulk(_ context.Context, snapshots []*domain.PortfolioSnapshot) error {
	for _, snap := range snapshots {
		if snap == nil || snap.PortfolioID == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, snap := range snapshots {
		key := snapshotKey{snap.PortfolioID, snap.TimestampMs}
		if _, exists := s.data[key]; exists {
			continue
		}
		copy := *snap
		s.data[key] = &copy
	}
	return nil
}

// GetByPortfolio retrieves snapshots within [start, end], ordered by timestamp ASC.
func (s *SnapshotStore) GetByPortfolio(_ context.Context, portfolioID string, start, end int64) ([]*domain.PortfolioSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PortfolioSnapshot
	for key, snap := range s.data {
		if key.portfolioID == portfolioID && key.timestampMs >= start && key.timestampMs <= end {
			copy := *snap
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].TimestampMs < result[j].TimestampMs
	})
	return result, nil
}

var _ storage.SnapshotStore = (*SnapshotStore)(nil)
