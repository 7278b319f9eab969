package postgres

import (
	"context"
	"fmt"
	"time"

	"xstock-portfolio/internal/domain"
	"xstock-portfolio/internal/storage"
)

// TransactionLog implements storage.TransactionLog using PostgreSQL.
type TransactionLog struct {
	pool *Pool
}

// NewTransactionLog creates a new TransactionLog.
func NewTransactionLog(pool *Pool) *TransactionLog {
	return &TransactionLog{pool: pool}
}

// Compile-time interface check.
var _ storage.TransactionLog = (*TransactionLog)(nil)

// Append adds a record. Returns ErrDuplicateKey if the ID exists.
func (l *TransactionLog) Append(ctx context.Context, rec *domain.TransactionRecord) (err error) {
	if rec == nil || rec.ID == "" || rec.WalletAddress == "" {
		return storage.ErrInvalidInput
	}
	start := time.Now()
	defer func() { observe("append_transaction", start, err) }()

	_, err = l.pool.Exec(ctx, `
		INSERT INTO transactions (
			id, wallet_address, portfolio_id, signature, kind, symbol,
			input_address, output_address, input_amount, output_amount, price,
			status, error, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9::numeric, $10::numeric, $11::numeric,
			$12, $13, $14
		)
	`,
		rec.ID, rec.WalletAddress, rec.PortfolioID, rec.Signature, string(rec.Kind), rec.Symbol,
		rec.InputAddress, rec.OutputAddress, rec.InputAmount.String(), rec.OutputAmount.String(), rec.Price.String(),
		string(rec.Status), rec.Error, rec.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// ListByWallet retrieves up to limit records of a wallet, newest first.
func (l *TransactionLog) ListByWallet(ctx context.Context, wallet string, limit int) (result []*domain.TransactionRecord, err error) {
	start := time.Now()
	defer func() { observe("list_transactions", start, err) }()

	query := `
		SELECT id, wallet_address, portfolio_id, signature, kind, symbol,
			input_address, output_address, input_amount::text, output_amount::text, price::text,
			status, error, created_at
		FROM transactions
		WHERE wallet_address = $1
		ORDER BY created_at DESC, id DESC
	`
	args := []any{wallet}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transaction rows: %w", err)
	}
	return result, nil
}

func scanTransaction(row scanner) (*domain.TransactionRecord, error) {
	var rec domain.TransactionRecord
	var kind, status, in, out, price string

	err := row.Scan(
		&rec.ID, &rec.WalletAddress, &rec.PortfolioID, &rec.Signature, &kind, &rec.Symbol,
		&rec.InputAddress, &rec.OutputAddress, &in, &out, &price,
		&status, &rec.Error, &rec.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan transaction row: %w", err)
	}

	rec.Kind = domain.TransactionKind(kind)
	rec.Status = domain.TransactionStatus(status)
	rec.CreatedAt = rec.CreatedAt.UTC()
	if rec.InputAmount, err = parseNumeric(in); err != nil {
		return nil, err
	}
	if rec.OutputAmount, err = parseNumeric(out); err != nil {
		return nil, err
	}
	if rec.Price, err = parseNumeric(price); err != nil {
		return nil, err
	}
	return &rec, nil
}
