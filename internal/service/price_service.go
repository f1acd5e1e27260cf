package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wkoss/polystop/internal/domain"
)

// BookFetcher reads the live orderbook over REST.
type BookFetcher interface {
	GetBook(ctx context.Context, tokenID string) (domain.OrderbookSnapshot, error)
}

// PriceService answers best-bid queries for the executor. It prefers the
// WS-fed cache when the snapshot is fresh enough and falls back to a REST
// book read, warming the cache on the way back.
type PriceService struct {
	cache  domain.OrderbookCache // nil disables the cache path
	clob   BookFetcher
	maxAge time.Duration
	logger *slog.Logger
}

// NewPriceService creates a PriceService. maxAge bounds how stale a cached
// snapshot may be before a REST read is forced.
func NewPriceService(cache domain.OrderbookCache, clob BookFetcher, maxAge time.Duration, logger *slog.Logger) *PriceService {
	return &PriceService{
		cache:  cache,
		clob:   clob,
		maxAge: maxAge,
		logger: logger.With(slog.String("component", "price_service")),
	}
}

// BestBid returns the current best bid for a token. A zero bid with a nil
// error means the book has no bids; a non-nil error means the book could not
// be read at all.
func (s *PriceService) BestBid(ctx context.Context, tokenID string) (float64, error) {
	if s.cache != nil {
		snap, err := s.cache.GetSnapshot(ctx, tokenID)
		switch {
		case err == nil:
			if time.Since(snap.Timestamp) <= s.maxAge {
				return snap.BestBid, nil
			}
		case !errors.Is(err, domain.ErrNotFound):
			s.logger.WarnContext(ctx, "book cache read failed",
				slog.String("token_id", tokenID),
				slog.String("error", err.Error()))
		}
	}

	snap, err := s.clob.GetBook(ctx, tokenID)
	if err != nil {
		return 0, fmt.Errorf("price_service: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.SetSnapshot(ctx, tokenID, snap); err != nil {
			s.logger.WarnContext(ctx, "book cache write failed",
				slog.String("token_id", tokenID),
				slog.String("error", err.Error()))
		}
	}

	return snap.BestBid, nil
}
