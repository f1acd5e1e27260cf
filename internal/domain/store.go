package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// LedgerStore persists the append-only liquidation ledger.
type LedgerStore interface {
	Append(ctx context.Context, rec LiquidationRecord) error
	List(ctx context.Context, opts ListOpts) ([]LiquidationRecord, error)
	ListBefore(ctx context.Context, before time.Time) ([]LiquidationRecord, error)
}

// OrderStore persists the individual orders placed during liquidations.
type OrderStore interface {
	Create(ctx context.Context, order Order) error
	UpdateStatus(ctx context.Context, id string, status OrderStatus) error
	GetByID(ctx context.Context, id string) (Order, error)
	ListByToken(ctx context.Context, tokenID string, opts ListOpts) ([]Order, error)
}

// SelectionStore persists the Selected monitoring set across restarts.
// Save replaces the whole set.
type SelectionStore interface {
	Save(ctx context.Context, tokenIDs []string) error
	Load(ctx context.Context) ([]string, error)
	Clear(ctx context.Context) error
}
