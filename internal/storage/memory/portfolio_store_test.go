package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"xstock-portfolio/internal/domain"
	"xstock-portfolio/internal/storage"
)

func newPortfolio(id, wallet string) *domain.Portfolio {
	return &domain.Portfolio{
		ID:                id,
		WalletAddress:     wallet,
		RiskLevel:         5,
		InitialInvestment: decimal.NewFromInt(1000),
		Positions: []domain.Position{
			{Symbol: "AAPLx", Address: "aapl-mint", Amount: decimal.RequireFromString("2.5"), AverageEntryPrice: decimal.NewFromInt(200)},
		},
	}
}

func TestPortfolioStore_CreateAndGet(t *testing.T) {
	store := NewPortfolioStore()
	ctx := context.Background()

	p := newPortfolio("p1", "wallet1")
	if err := store.Create(ctx, p); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if p.Version != 1 || !p.Active {
		t.Errorf("Create should set version 1 and active, got version=%d active=%v", p.Version, p.Active)
	}

	byWallet, err := store.GetByWallet(ctx, "wallet1")
	if err != nil {
		t.Fatalf("GetByWallet failed: %v", err)
	}
	byID, err := store.GetByID(ctx, "p1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if byWallet.ID != byID.ID {
		t.Errorf("lookups disagree: %s vs %s", byWallet.ID, byID.ID)
	}
	if !byWallet.Positions[0].Amount.Equal(decimal.RequireFromString("2.5")) {
		t.Errorf("Amount mismatch: got %s", byWallet.Positions[0].Amount)
	}
}

func TestPortfolioStore_OneActivePerWallet(t *testing.T) {
	store := NewPortfolioStore()
	ctx := context.Background()

	if err := store.Create(ctx, newPortfolio("p1", "wallet1")); err != nil {
		t.Fatalf("first Create failed: %v", err)
	}
	err := store.Create(ctx, newPortfolio("p2", "wallet1"))
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestPortfolioStore_CopiesInAndOut(t *testing.T) {
	store := NewPortfolioStore()
	ctx := context.Background()

	p := newPortfolio("p1", "wallet1")
	if err := store.Create(ctx, p); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	p.Positions[0].Amount = decimal.NewFromInt(99)

	got, _ := store.GetByID(ctx, "p1")
	got.Positions[0].Symbol = "mutated"

	again, _ := store.GetByID(ctx, "p1")
	if again.Positions[0].Symbol != "AAPLx" || !again.Positions[0].Amount.Equal(decimal.RequireFromString("2.5")) {
		t.Errorf("store state leaked: %+v", again.Positions[0])
	}
}

func TestPortfolioStore_UpdateVersionCheck(t *testing.T) {
	store := NewPortfolioStore()
	ctx := context.Background()

	if err := store.Create(ctx, newPortfolio("p1", "wallet1")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	a, _ := store.GetByID(ctx, "p1")
	b, _ := store.GetByID(ctx, "p1")

	a.RebalanceCount = 1
	if err := store.Update(ctx, a); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if a.Version != 2 {
		t.Errorf("Version = %d, want 2", a.Version)
	}

	b.RebalanceCount = 7
	if err := store.Update(ctx, b); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("Expected ErrConflict, got %v", err)
	}

	got, _ := store.GetByID(ctx, "p1")
	if got.RebalanceCount != 1 {
		t.Errorf("RebalanceCount = %d, want 1", got.RebalanceCount)
	}
}

func TestPortfolioStore_DeactivateFreesWallet(t *testing.T) {
	store := NewPortfolioStore()
	ctx := context.Background()

	p := newPortfolio("p1", "wallet1")
	if err := store.Create(ctx, p); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	p.Active = false
	if err := store.Update(ctx, p); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if _, err := store.GetByWallet(ctx, "wallet1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := store.Create(ctx, newPortfolio("p2", "wallet1")); err != nil {
		t.Errorf("Create after deactivation failed: %v", err)
	}
}

func TestPortfolioStore_ListActive(t *testing.T) {
	store := NewPortfolioStore()
	ctx := context.Background()

	for _, w := range []string{"walletC", "walletA", "walletB"} {
		if err := store.Create(ctx, newPortfolio("p-"+w, w)); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	list, err := store.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive failed: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("Expected 3 portfolios, got %d", len(list))
	}
	for i, want := range []string{"walletA", "walletB", "walletC"} {
		if list[i].WalletAddress != want {
			t.Errorf("list[%d] = %s, want %s", i, list[i].WalletAddress, want)
		}
	}
}

func TestPortfolioStore_NotFound(t *testing.T) {
	store := NewPortfolioStore()
	ctx := context.Background()

	if _, err := store.GetByID(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := store.Update(ctx, newPortfolio("missing", "w")); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
