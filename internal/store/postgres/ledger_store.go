package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wkoss/polystop/internal/domain"
)

// LedgerStore implements domain.LedgerStore using PostgreSQL. The ledger is
// append-only; nothing in this store mutates existing rows.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a LedgerStore backed by the given connection pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// Append inserts one liquidation record.
func (s *LedgerStore) Append(ctx context.Context, rec domain.LiquidationRecord) error {
	receipts, err := json.Marshal(rec.Result.Receipts)
	if err != nil {
		return fmt.Errorf("postgres: marshal receipts for %s: %w", rec.ID, err)
	}

	reasons := make([]string, 0, len(rec.Reasons))
	for _, r := range rec.Reasons {
		reasons = append(reasons, string(r))
	}

	const query = `
		INSERT INTO liquidations (
			id, token_id, market_name, outcome,
			size, value, pnl, pnl_percent,
			reasons, success, orders_placed, total_size_ordered,
			remaining_size, receipts, failure_reason, dry_run, created_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11, $12,
			$13, $14, $15, $16, $17
		)`

	_, err = s.pool.Exec(ctx, query,
		rec.ID, rec.TokenID, rec.MarketName, rec.Outcome,
		rec.Size, rec.Value, rec.PnL, rec.PnLPercent,
		reasons, rec.Result.Success, rec.Result.OrdersPlaced, rec.Result.TotalSizeOrdered,
		rec.Result.RemainingSize, receipts, rec.Result.Reason, rec.DryRun, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append liquidation %s: %w", rec.ID, err)
	}
	return nil
}

const ledgerSelectCols = `id, token_id, market_name, outcome,
	size, value, pnl, pnl_percent,
	reasons, success, orders_placed, total_size_ordered,
	remaining_size, receipts, failure_reason, dry_run, created_at`

// List returns ledger records newest-first, filtered by opts.
func (s *LedgerStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.LiquidationRecord, error) {
	query := `SELECT ` + ledgerSelectCols + ` FROM liquidations WHERE 1=1`
	args := []any{}
	argN := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argN)
		args = append(args, *opts.Since)
		argN++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at < $%d", argN)
		args = append(args, *opts.Until)
		argN++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argN)
		args = append(args, opts.Limit)
		argN++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argN)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list liquidations: %w", err)
	}
	defer rows.Close()

	return scanLedgerRows(rows)
}

// ListBefore returns all records created strictly before the given time,
// oldest-first. The archiver uses it to build retention batches.
func (s *LedgerStore) ListBefore(ctx context.Context, before time.Time) ([]domain.LiquidationRecord, error) {
	query := `SELECT ` + ledgerSelectCols + ` FROM liquidations
		WHERE created_at < $1 ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list liquidations before %s: %w", before, err)
	}
	defer rows.Close()

	return scanLedgerRows(rows)
}

func scanLedgerRows(rows pgx.Rows) ([]domain.LiquidationRecord, error) {
	var records []domain.LiquidationRecord

	for rows.Next() {
		var rec domain.LiquidationRecord
		var reasons []string
		var receipts []byte

		err := rows.Scan(
			&rec.ID, &rec.TokenID, &rec.MarketName, &rec.Outcome,
			&rec.Size, &rec.Value, &rec.PnL, &rec.PnLPercent,
			&reasons, &rec.Result.Success, &rec.Result.OrdersPlaced, &rec.Result.TotalSizeOrdered,
			&rec.Result.RemainingSize, &receipts, &rec.Result.Reason, &rec.DryRun, &rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan liquidation: %w", err)
		}

		for _, r := range reasons {
			rec.Reasons = append(rec.Reasons, domain.TriggerReason(r))
		}
		if len(receipts) > 0 {
			if err := json.Unmarshal(receipts, &rec.Result.Receipts); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal receipts for %s: %w", rec.ID, err)
			}
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate liquidations: %w", err)
	}
	return records, nil
}

var _ domain.LedgerStore = (*LedgerStore)(nil)
