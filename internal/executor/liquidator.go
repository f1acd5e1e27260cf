// Package executor sells triggered positions into the book. A liquidation
// walks the position down in chunks, repricing on rejection, and ends with a
// deep-discount sweep when normal chunks stop getting through.
package executor

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/wkoss/polystop/internal/domain"
)

const (
	// priceFloor is the minimum order price the CLOB accepts.
	priceFloor = 0.001

	// rejectionDiscount reprices a chunk the venue rejected in-band.
	rejectionDiscount = 0.95

	// exceptionDiscount reprices a chunk whose submission failed outright.
	// Deeper than the rejection discount: if the venue is flaky we want out
	// faster, not slower.
	exceptionDiscount = 0.90

	// noBidsDiscount and bookErrorDiscount seed the starting price when the
	// book is empty or unreadable.
	noBidsDiscount    = 0.95
	bookErrorDiscount = 0.90

	// sweepDiscount prices the final sweep order.
	sweepDiscount = 0.50
)

// SellGateway submits one sell order. A nil error with Success=false is a
// clean venue rejection; a non-nil error is a submission failure.
type SellGateway interface {
	SellGTC(ctx context.Context, tokenID string, price, size float64) (domain.OrderResult, error)
}

// BidSource answers best-bid queries. Zero bid with nil error means an empty
// book.
type BidSource interface {
	BestBid(ctx context.Context, tokenID string) (float64, error)
}

// Config holds the liquidation tuning knobs.
type Config struct {
	// MaxChunkSize caps the share size of a single order.
	MaxChunkSize float64

	// DustThreshold is the remaining size below which a position counts as
	// fully liquidated.
	DustThreshold float64

	// MaxRetriesPerChunk bounds reprice attempts for one chunk.
	MaxRetriesPerChunk int

	// SettleDelay is the pause between consecutive chunk orders.
	SettleDelay time.Duration
}

// DefaultConfig returns the standard liquidation parameters.
func DefaultConfig() Config {
	return Config{
		MaxChunkSize:       50,
		DustThreshold:      0.1,
		MaxRetriesPerChunk: 10,
		SettleDelay:        2 * time.Second,
	}
}

// Liquidator executes stop-loss liquidations.
type Liquidator struct {
	gateway SellGateway
	bids    BidSource
	cfg     Config
	logger  *slog.Logger
}

// NewLiquidator creates a Liquidator. Zero-valued config fields fall back to
// the defaults.
func NewLiquidator(gateway SellGateway, bids BidSource, cfg Config, logger *slog.Logger) *Liquidator {
	def := DefaultConfig()
	if cfg.MaxChunkSize <= 0 {
		cfg.MaxChunkSize = def.MaxChunkSize
	}
	if cfg.DustThreshold <= 0 {
		cfg.DustThreshold = def.DustThreshold
	}
	if cfg.MaxRetriesPerChunk <= 0 {
		cfg.MaxRetriesPerChunk = def.MaxRetriesPerChunk
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}

	return &Liquidator{
		gateway: gateway,
		bids:    bids,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "liquidator")),
	}
}

// Liquidate sells the whole position. Accounting is by ordered size: a chunk
// counts as done once the venue accepts the order, regardless of fill state.
// TotalSizeOrdered + RemainingSize always equals the original position size.
func (l *Liquidator) Liquidate(ctx context.Context, pos domain.Position) domain.ExecutionResult {
	result := domain.ExecutionResult{RemainingSize: pos.Size}

	if pos.Size <= l.cfg.DustThreshold {
		// Nothing sellable; treat as vacuously complete.
		result.Success = true
		result.Reason = "position below dust threshold"
		return result
	}

	price := l.discoverPrice(ctx, pos)

	l.logger.InfoContext(ctx, "liquidation started",
		slog.String("token_id", pos.TokenID),
		slog.Float64("size", pos.Size),
		slog.Float64("start_price", price))

	for result.RemainingSize > l.cfg.DustThreshold {
		if ctx.Err() != nil {
			result.Reason = "cancelled: " + ctx.Err().Error()
			break
		}

		chunk := math.Min(result.RemainingSize, l.cfg.MaxChunkSize)

		receipt, newPrice, ok := l.placeChunk(ctx, pos.TokenID, price, chunk)
		price = newPrice
		if !ok {
			// placeChunk also bails on a cancelled context; only exhausted
			// retries earn the sweep.
			if ctx.Err() != nil {
				result.Reason = "cancelled: " + ctx.Err().Error()
				break
			}
			l.sweep(ctx, pos, &result)
			break
		}

		result.Receipts = append(result.Receipts, receipt)
		result.OrdersPlaced++
		result.TotalSizeOrdered += chunk
		result.RemainingSize -= chunk

		if result.RemainingSize > l.cfg.DustThreshold && l.cfg.SettleDelay > 0 {
			timer := time.NewTimer(l.cfg.SettleDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
			}
		}
	}

	result.Success = result.OrdersPlaced > 0
	if !result.Success && result.Reason == "" {
		result.Reason = "no order accepted"
	}

	l.logger.InfoContext(ctx, "liquidation finished",
		slog.String("token_id", pos.TokenID),
		slog.Bool("success", result.Success),
		slog.Int("orders", result.OrdersPlaced),
		slog.Float64("ordered", result.TotalSizeOrdered),
		slog.Float64("remaining", result.RemainingSize))

	return result
}

// discoverPrice picks the starting order price: best bid when the book has
// one, a discount off the position's last price otherwise.
func (l *Liquidator) discoverPrice(ctx context.Context, pos domain.Position) float64 {
	bid, err := l.bids.BestBid(ctx, pos.TokenID)
	switch {
	case err != nil:
		l.logger.WarnContext(ctx, "book read failed, discounting last price",
			slog.String("token_id", pos.TokenID),
			slog.String("error", err.Error()))
		return clampPrice(pos.CurrentPrice * bookErrorDiscount)
	case bid <= 0:
		l.logger.WarnContext(ctx, "no bids in book, discounting last price",
			slog.String("token_id", pos.TokenID))
		return clampPrice(pos.CurrentPrice * noBidsDiscount)
	default:
		return clampPrice(bid)
	}
}

// placeChunk submits one chunk, repricing on rejection or exception up to
// the retry cap. It returns the (possibly repriced) price for the next chunk
// and whether the chunk was accepted.
func (l *Liquidator) placeChunk(ctx context.Context, tokenID string, price, chunk float64) (domain.OrderReceipt, float64, bool) {
	for attempt := 0; attempt < l.cfg.MaxRetriesPerChunk; attempt++ {
		if ctx.Err() != nil {
			return domain.OrderReceipt{}, price, false
		}

		res, err := l.gateway.SellGTC(ctx, tokenID, price, chunk)
		if err != nil {
			l.logger.WarnContext(ctx, "chunk submission failed",
				slog.String("token_id", tokenID),
				slog.Int("attempt", attempt+1),
				slog.Float64("price", price),
				slog.String("error", err.Error()))
			price = clampPrice(price * exceptionDiscount)
			continue
		}
		if !res.Success {
			l.logger.InfoContext(ctx, "chunk rejected, repricing",
				slog.String("token_id", tokenID),
				slog.Int("attempt", attempt+1),
				slog.Float64("price", price),
				slog.String("message", res.Message))
			price = clampPrice(price * rejectionDiscount)
			continue
		}

		return domain.OrderReceipt{
			OrderID:  res.OrderID,
			Price:    price,
			Size:     chunk,
			PlacedAt: time.Now().UTC(),
		}, price, true
	}

	return domain.OrderReceipt{}, price, false
}

// sweep places one last deep-discount order for everything still unsold.
// It is never retried: at half the last price, a rejection means the book is
// gone and repricing further is pointless.
func (l *Liquidator) sweep(ctx context.Context, pos domain.Position, result *domain.ExecutionResult) {
	sweepPrice := clampPrice(pos.CurrentPrice * sweepDiscount)
	size := result.RemainingSize

	l.logger.WarnContext(ctx, "final sweep",
		slog.String("token_id", pos.TokenID),
		slog.Float64("price", sweepPrice),
		slog.Float64("size", size))

	res, err := l.gateway.SellGTC(ctx, pos.TokenID, sweepPrice, size)
	if err != nil {
		result.Reason = "final sweep failed: " + err.Error()
		return
	}
	if !res.Success {
		result.Reason = "final sweep rejected: " + res.Message
		return
	}

	result.Receipts = append(result.Receipts, domain.OrderReceipt{
		OrderID:  res.OrderID,
		Price:    sweepPrice,
		Size:     size,
		PlacedAt: time.Now().UTC(),
	})
	result.OrdersPlaced++
	result.TotalSizeOrdered += size
	result.RemainingSize = 0
}

func clampPrice(p float64) float64 {
	if p < priceFloor {
		return priceFloor
	}
	return p
}
