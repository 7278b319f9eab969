package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"xstock-portfolio/internal/domain"
	"xstock-portfolio/internal/storage"
)

// PortfolioChangesChannel is the NOTIFY channel carrying changed portfolio IDs.
const PortfolioChangesChannel = "portfolio_changes"

// PortfolioStore implements storage.PortfolioStore using PostgreSQL.
// A portfolio row and its position rows are always written in one transaction.
type PortfolioStore struct {
	pool *Pool
}

// NewPortfolioStore creates a new PortfolioStore.
func NewPortfolioStore(pool *Pool) *PortfolioStore {
	return &PortfolioStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PortfolioStore = (*PortfolioStore)(nil)

const portfolioColumns = `
	id, wallet_address, risk_level, initial_investment::text, total_value::text,
	current_pnl_abs::text, current_pnl_pct, last_rebalanced_at, rebalance_count,
	active, partially_priced, version, created_at, updated_at
`

// Create inserts a new active portfolio. Returns ErrDuplicateKey if the wallet already has one.
func (s *PortfolioStore) Create(ctx context.Context, p *domain.Portfolio) (err error) {
	if p == nil || p.ID == "" || p.WalletAddress == "" {
		return storage.ErrInvalidInput
	}
	start := time.Now()
	defer func() { observe("create_portfolio", start, err) }()

	now := time.Now().UTC()
	created := *p
	if created.CreatedAt.IsZero() {
		created.CreatedAt = now
	}
	created.UpdatedAt = now
	created.Active = true
	created.Version = 1

	err = s.pool.InTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO portfolios (
				id, wallet_address, risk_level, initial_investment, total_value,
				current_pnl_abs, current_pnl_pct, last_rebalanced_at, rebalance_count,
				active, partially_priced, version, created_at, updated_at
			) VALUES (
				$1, $2, $3, $4::numeric, $5::numeric,
				$6::numeric, $7, $8, $9,
				$10, $11, $12, $13, $14
			)
		`,
			created.ID, created.WalletAddress, created.RiskLevel, created.InitialInvestment.String(), created.TotalValue.String(),
			created.CurrentPnlAbs.String(), created.CurrentPnlPct, nullTime(created.LastRebalancedAt), created.RebalanceCount,
			created.Active, created.PartiallyPriced, created.Version, created.CreatedAt, created.UpdatedAt,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert portfolio: %w", err)
		}

		if err := insertPositions(ctx, tx, created.ID, created.Positions); err != nil {
			return err
		}
		if err := notifyChange(ctx, tx, created.ID); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	p.CreatedAt, p.UpdatedAt, p.Active, p.Version = created.CreatedAt, created.UpdatedAt, true, 1
	return nil
}

// GetByWallet retrieves the active portfolio of a wallet. Returns ErrNotFound if none.
func (s *PortfolioStore) GetByWallet(ctx context.Context, wallet string) (p *domain.Portfolio, err error) {
	start := time.Now()
	defer func() { observe("get_portfolio", start, err) }()

	row := s.pool.QueryRow(ctx, `SELECT `+portfolioColumns+` FROM portfolios WHERE wallet_address = $1 AND active`, wallet)
	return s.load(ctx, row)
}

// GetByID retrieves a portfolio by ID. Returns ErrNotFound if not exists.
func (s *PortfolioStore) GetByID(ctx context.Context, id string) (p *domain.Portfolio, err error) {
	start := time.Now()
	defer func() { observe("get_portfolio", start, err) }()

	row := s.pool.QueryRow(ctx, `SELECT `+portfolioColumns+` FROM portfolios WHERE id = $1`, id)
	return s.load(ctx, row)
}

func (s *PortfolioStore) load(ctx context.Context, row pgx.Row) (*domain.Portfolio, error) {
	p, err := scanPortfolio(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}

	positions, err := s.positions(ctx, []string{p.ID})
	if err != nil {
		return nil, err
	}
	p.Positions = positions[p.ID]
	return p, nil
}

// Update replaces the portfolio when versions match and bumps p.Version.
func (s *PortfolioStore) Update(ctx context.Context, p *domain.Portfolio) (err error) {
	if p == nil || p.ID == "" {
		return storage.ErrInvalidInput
	}
	start := time.Now()
	defer func() { observe("update_portfolio", start, err) }()

	now := time.Now().UTC()

	err = s.pool.InTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE portfolios SET
				risk_level = $3,
				initial_investment = $4::numeric,
				total_value = $5::numeric,
				current_pnl_abs = $6::numeric,
				current_pnl_pct = $7,
				last_rebalanced_at = $8,
				rebalance_count = $9,
				active = $10,
				partially_priced = $11,
				version = version + 1,
				updated_at = $12
			WHERE id = $1 AND version = $2
		`,
			p.ID, p.Version,
			p.RiskLevel, p.InitialInvestment.String(), p.TotalValue.String(),
			p.CurrentPnlAbs.String(), p.CurrentPnlPct, nullTime(p.LastRebalancedAt),
			p.RebalanceCount, p.Active, p.PartiallyPriced, now,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("update portfolio: %w", err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM portfolios WHERE id = $1)`, p.ID).Scan(&exists); err != nil {
				return fmt.Errorf("check portfolio exists: %w", err)
			}
			if !exists {
				return storage.ErrNotFound
			}
			return storage.ErrConflict
		}

		if _, err := tx.Exec(ctx, `DELETE FROM positions WHERE portfolio_id = $1`, p.ID); err != nil {
			return fmt.Errorf("delete positions: %w", err)
		}
		if err := insertPositions(ctx, tx, p.ID, p.Positions); err != nil {
			return err
		}
		if err := notifyChange(ctx, tx, p.ID); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	p.Version++
	p.UpdatedAt = now
	return nil
}

// ListActive retrieves all active portfolios ordered by wallet address.
func (s *PortfolioStore) ListActive(ctx context.Context) (result []*domain.Portfolio, err error) {
	start := time.Now()
	defer func() { observe("list_active", start, err) }()

	rows, err := s.pool.Query(ctx, `SELECT `+portfolioColumns+` FROM portfolios WHERE active ORDER BY wallet_address ASC`)
	if err != nil {
		return nil, fmt.Errorf("query active portfolios: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		p, err := scanPortfolio(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
		ids = append(ids, p.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate portfolio rows: %w", err)
	}
	if len(ids) == 0 {
		return result, nil
	}

	positions, err := s.positions(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, p := range result {
		p.Positions = positions[p.ID]
	}
	return result, nil
}

// Listen blocks delivering the ID of every portfolio created or updated by any
// process sharing the database. It returns nil when ctx is canceled.
func (s *PortfolioStore) Listen(ctx context.Context, fn func(portfolioID string)) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer func() {
		// The session still holds LISTEN state; drop it instead of returning it to the pool.
		_ = conn.Conn().Close(context.Background())
		conn.Release()
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+PortfolioChangesChannel); err != nil {
		return fmt.Errorf("listen %s: %w", PortfolioChangesChannel, err)
	}

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("wait for notification: %w", err)
		}
		fn(n.Payload)
	}
}

func (s *PortfolioStore) positions(ctx context.Context, ids []string) (map[string][]domain.Position, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT portfolio_id, symbol, address, amount::text, target_percentage, current_percentage,
			average_entry_price::text, current_price::text, unrealized_pnl_abs::text,
			unrealized_pnl_pct, priced
		FROM positions
		WHERE portfolio_id = ANY($1)
		ORDER BY portfolio_id, symbol
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]domain.Position, len(ids))
	for rows.Next() {
		var pos domain.Position
		var portfolioID, amount, entry, current, unrealized string
		err := rows.Scan(
			&portfolioID, &pos.Symbol, &pos.Address, &amount, &pos.TargetPercentage, &pos.CurrentPercentage,
			&entry, &current, &unrealized, &pos.UnrealizedPnlPct, &pos.Priced,
		)
		if err != nil {
			return nil, fmt.Errorf("scan position row: %w", err)
		}
		if pos.Amount, err = parseNumeric(amount); err != nil {
			return nil, err
		}
		if pos.AverageEntryPrice, err = parseNumeric(entry); err != nil {
			return nil, err
		}
		if pos.CurrentPrice, err = parseNumeric(current); err != nil {
			return nil, err
		}
		if pos.UnrealizedPnlAbs, err = parseNumeric(unrealized); err != nil {
			return nil, err
		}
		out[portfolioID] = append(out[portfolioID], pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate position rows: %w", err)
	}
	return out, nil
}

func insertPositions(ctx context.Context, tx pgx.Tx, portfolioID string, positions []domain.Position) error {
	for _, pos := range positions {
		_, err := tx.Exec(ctx, `
			INSERT INTO positions (
				portfolio_id, symbol, address, amount, target_percentage, current_percentage,
				average_entry_price, current_price, unrealized_pnl_abs, unrealized_pnl_pct, priced
			) VALUES (
				$1, $2, $3, $4::numeric, $5, $6,
				$7::numeric, $8::numeric, $9::numeric, $10, $11
			)
		`,
			portfolioID, pos.Symbol, pos.Address, pos.Amount.String(), pos.TargetPercentage, pos.CurrentPercentage,
			pos.AverageEntryPrice.String(), pos.CurrentPrice.String(), pos.UnrealizedPnlAbs.String(), pos.UnrealizedPnlPct, pos.Priced,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert position %s: %w", pos.Symbol, err)
		}
	}
	return nil
}

func notifyChange(ctx context.Context, tx pgx.Tx, portfolioID string) error {
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, PortfolioChangesChannel, portfolioID); err != nil {
		return fmt.Errorf("notify %s: %w", PortfolioChangesChannel, err)
	}
	return nil
}

func scanPortfolio(row scanner) (*domain.Portfolio, error) {
	var p domain.Portfolio
	var initial, total, pnlAbs string
	var lastRebalanced *time.Time
	err := row.Scan(
		&p.ID, &p.WalletAddress, &p.RiskLevel, &initial, &total,
		&pnlAbs, &p.CurrentPnlPct, &lastRebalanced, &p.RebalanceCount,
		&p.Active, &p.PartiallyPriced, &p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("scan portfolio row: %w", err)
	}

	if p.InitialInvestment, err = parseNumeric(initial); err != nil {
		return nil, err
	}
	if p.TotalValue, err = parseNumeric(total); err != nil {
		return nil, err
	}
	if p.CurrentPnlAbs, err = parseNumeric(pnlAbs); err != nil {
		return nil, err
	}
	if lastRebalanced != nil {
		p.LastRebalancedAt = lastRebalanced.UTC()
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
