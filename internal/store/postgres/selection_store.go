package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wkoss/polystop/internal/domain"
)

// SelectionStore implements domain.SelectionStore using PostgreSQL. The
// selected set survives restarts; Save replaces the whole set in one
// transaction so a crash can never leave a half-written selection behind.
type SelectionStore struct {
	pool *pgxpool.Pool
}

// NewSelectionStore creates a SelectionStore backed by the given pool.
func NewSelectionStore(pool *pgxpool.Pool) *SelectionStore {
	return &SelectionStore{pool: pool}
}

// Save replaces the persisted selection with the given token ids.
func (s *SelectionStore) Save(ctx context.Context, tokenIDs []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin selection save: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM selected_tokens`); err != nil {
		return fmt.Errorf("postgres: clear selection: %w", err)
	}

	for _, id := range tokenIDs {
		if id == "" {
			continue
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO selected_tokens (token_id) VALUES ($1) ON CONFLICT DO NOTHING`,
			id,
		); err != nil {
			return fmt.Errorf("postgres: save selection token %s: %w", id, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit selection save: %w", err)
	}
	return nil
}

// Load returns the persisted token ids, in insertion order.
func (s *SelectionStore) Load(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT token_id FROM selected_tokens ORDER BY added_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load selection: %w", err)
	}
	defer rows.Close()

	var tokenIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan selection token: %w", err)
		}
		tokenIDs = append(tokenIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate selection: %w", err)
	}

	return tokenIDs, nil
}

// Clear removes all persisted token ids.
func (s *SelectionStore) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM selected_tokens`); err != nil {
		return fmt.Errorf("postgres: clear selection: %w", err)
	}
	return nil
}

var _ domain.SelectionStore = (*SelectionStore)(nil)
