package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wkoss/polystop/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates an OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Create inserts a new order.
func (s *OrderStore) Create(ctx context.Context, o domain.Order) error {
	var makerAmount, takerAmount *string
	if o.MakerAmount != nil {
		v := o.MakerAmount.String()
		makerAmount = &v
	}
	if o.TakerAmount != nil {
		v := o.TakerAmount.String()
		takerAmount = &v
	}

	const query = `
		INSERT INTO orders (
			id, token_id, wallet, side, order_type,
			price_ticks, size_units, maker_amount, taker_amount,
			status, signature, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		o.ID, o.TokenID, o.Wallet, string(o.Side), string(o.Type),
		o.PriceTicks, o.SizeUnits, makerAmount, takerAmount,
		string(o.Status), o.Signature, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create order %s: %w", o.ID, err)
	}
	return nil
}

// UpdateStatus changes the status of an existing order.
func (s *OrderStore) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) error {
	const query = `UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2`

	tag, err := s.pool.Exec(ctx, query, string(status), id)
	if err != nil {
		return fmt.Errorf("postgres: update order status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const orderSelectCols = `id, token_id, wallet, side, order_type,
	price_ticks, size_units, maker_amount, taker_amount,
	status, signature, created_at`

func scanOrder(scanner interface{ Scan(dest ...any) error }) (domain.Order, error) {
	var o domain.Order
	var side, orderType, status string
	var makerAmount, takerAmount *string

	err := scanner.Scan(
		&o.ID, &o.TokenID, &o.Wallet, &side, &orderType,
		&o.PriceTicks, &o.SizeUnits, &makerAmount, &takerAmount,
		&status, &o.Signature, &o.CreatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}

	o.Side = domain.OrderSide(side)
	o.Type = domain.OrderType(orderType)
	o.Status = domain.OrderStatus(status)

	if makerAmount != nil {
		if v, ok := new(big.Int).SetString(*makerAmount, 10); ok {
			o.MakerAmount = v
		}
	}
	if takerAmount != nil {
		if v, ok := new(big.Int).SetString(*takerAmount, 10); ok {
			o.TakerAmount = v
		}
	}

	return o, nil
}

// GetByID retrieves a single order. Returns domain.ErrNotFound when absent.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	query := `SELECT ` + orderSelectCols + ` FROM orders WHERE id = $1`

	o, err := scanOrder(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// ListByToken returns orders for a token, newest-first.
func (s *OrderStore) ListByToken(ctx context.Context, tokenID string, opts domain.ListOpts) ([]domain.Order, error) {
	query := `SELECT ` + orderSelectCols + ` FROM orders WHERE token_id = $1 ORDER BY created_at DESC`
	args := []any{tokenID}

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", len(args)+1)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders for %s: %w", tokenID, err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate orders: %w", err)
	}

	return orders, nil
}

var _ domain.OrderStore = (*OrderStore)(nil)
