package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"xstock-portfolio/internal/domain"
	"xstock-portfolio/internal/storage"
)

// PortfolioStore is an in-memory implementation of storage.PortfolioStore.
type PortfolioStore struct {
	mu       sync.RWMutex
	data     map[string]*domain.Portfolio // keyed by portfolio ID
	byWallet map[string]string            // wallet -> active portfolio ID
}

// NewPortfolioStore creates a new in-memory portfolio store.
func NewPortfolioStore() *PortfolioStore {
	return &PortfolioStore{
		data:     make(map[string]*domain.Portfolio),
		byWallet: make(map[string]string),
	}
}

// Create inserts a new active portfolio. Returns ErrDuplicateKey if the wallet already has one.
func (s *PortfolioStore) Create(_ context.Context, p *domain.Portfolio) error {
	if p == nil || p.ID == "" || p.WalletAddress == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[p.ID]; exists {
		return storage.ErrDuplicateKey
	}
	if _, exists := s.byWallet[p.WalletAddress]; exists {
		return storage.ErrDuplicateKey
	}

	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	p.Active = true
	p.Version = 1

	s.data[p.ID] = p.Clone()
	s.byWallet[p.WalletAddress] = p.ID
	return nil
}

// GetByWallet retrieves the active portfolio of a wallet. Returns ErrNotFound if none.
func (s *PortfolioStore) GetByWallet(_ context.Context, wallet string) (*domain.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.byWallet[wallet]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return s.data[id].Clone(), nil
}

// GetByID retrieves a portfolio by ID. Returns ErrNotFound if not exists.
func (s *PortfolioStore) GetByID(_ context.Context, id string) (*domain.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return p.Clone(), nil
}

// Update replaces the portfolio when versions match and bumps p.Version.
func (s *PortfolioStore) Update(_ context.Context, p *domain.Portfolio) error {
	if p == nil || p.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.data[p.ID]
	if !exists {
		return storage.ErrNotFound
	}
	if current.Version != p.Version {
		return storage.ErrConflict
	}
	if current.WalletAddress != p.WalletAddress {
		return storage.ErrInvalidInput
	}

	p.Version++
	p.UpdatedAt = time.Now().UTC()
	p.CreatedAt = current.CreatedAt

	if p.Active {
		if id, taken := s.byWallet[p.WalletAddress]; taken && id != p.ID {
			p.Version--
			return storage.ErrDuplicateKey
		}
		s.byWallet[p.WalletAddress] = p.ID
	} else if s.byWallet[p.WalletAddress] == p.ID {
		delete(s.byWallet, p.WalletAddress)
	}

	s.data[p.ID] = p.Clone()
	return nil
}

// ListActive retrieves all active portfolios ordered by wallet address.
func (s *PortfolioStore) ListActive(_ context.Context) ([]*domain.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Portfolio, 0, len(s.byWallet))
	for _, id := range s.byWallet {
		result = append(result, s.data[id].Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].WalletAddress < result[j].WalletAddress
	})
	return result, nil
}

var _ storage.PortfolioStore = (*PortfolioStore)(nil)
