package domain

import (
	"context"
	"time"
)

// OrderbookCache stores live orderbook state fed by the WS stream. The
// executor consults it before falling back to a REST book query.
type OrderbookCache interface {
	SetSnapshot(ctx context.Context, assetID string, snap OrderbookSnapshot) error
	GetSnapshot(ctx context.Context, assetID string) (OrderbookSnapshot, error)
	UpdateLevel(ctx context.Context, assetID string, side string, price, size float64) error
	GetBBO(ctx context.Context, assetID string) (bestBid, bestAsk float64, err error)
}

// RateLimiter provides distributed rate limiting for order submission.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking. The scheduler uses it as the
// per-token in-flight guard so a liquidation that spans multiple check
// intervals is never double-submitted.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// LiquidationLockKey is the LockManager key guarding one token's liquidation.
func LiquidationLockKey(tokenID string) string {
	return "liquidate:" + tokenID
}

// BlobWriter uploads objects to blob storage (ledger archives).
type BlobWriter interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
}
