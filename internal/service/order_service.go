// Package service contains the application services between the monitoring
// core and the venue clients: order submission and price discovery.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/wkoss/polystop/internal/crypto"
	"github.com/wkoss/polystop/internal/domain"
)

const (
	// zeroAddress is the taker for public (non-negotiated) orders.
	zeroAddress = "0x0000000000000000000000000000000000000000"

	// ordersPerSecond caps CLOB order submissions across all instances
	// sharing the rate limiter.
	ordersPerSecond = 5

	rateLimitPollInterval = 100 * time.Millisecond
)

// Signer abstracts EIP-712 order signing so the service layer never depends
// on concrete key management.
type Signer interface {
	SignOrder(payload crypto.OrderPayload) (string, error)
	Address() common.Address
}

// OrderPoster submits signed orders to the CLOB and reads them back.
type OrderPoster interface {
	PostOrder(ctx context.Context, payload crypto.OrderPayload, signature string, orderType domain.OrderType) (domain.OrderResult, error)
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
}

// OrderServiceConfig carries the wallet-level order parameters.
type OrderServiceConfig struct {
	// FunderAddress is the maker when orders are funded by a proxy wallet.
	// Empty means the signer address funds its own orders.
	FunderAddress string

	// SignatureType per the CLOB order schema: 0 EOA, 1 proxy, 2 gnosis safe.
	SignatureType int
}

// OrderService turns (token, price, size) sell requests into signed CLOB
// orders. It is the single submission path: rate limiting, signing, posting,
// and order persistence all happen here.
type OrderService struct {
	orders  domain.OrderStore
	limiter domain.RateLimiter
	signer  Signer
	clob    OrderPoster
	cfg     OrderServiceConfig
	logger  *slog.Logger
}

// NewOrderService creates an OrderService with all required dependencies.
func NewOrderService(
	orders domain.OrderStore,
	limiter domain.RateLimiter,
	signer Signer,
	clob OrderPoster,
	cfg OrderServiceConfig,
	logger *slog.Logger,
) *OrderService {
	return &OrderService{
		orders:  orders,
		limiter: limiter,
		signer:  signer,
		clob:    clob,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "order_service")),
	}
}

// SellGTC submits one GTC sell order for the given token.
//
// A nil error with Success=false means the venue rejected the order cleanly;
// a non-nil error means the submission itself failed (signing, transport,
// auth). Callers reprice differently for the two cases.
func (s *OrderService) SellGTC(ctx context.Context, tokenID string, price, size float64) (domain.OrderResult, error) {
	// Outcome token prices live in (0, 1).
	if tokenID == "" || size <= 0 || price <= 0 || price >= 1 {
		return domain.OrderResult{}, fmt.Errorf("order_service: %w: token=%q price=%v size=%v",
			domain.ErrInvalidOrder, tokenID, price, size)
	}

	if err := s.waitForRateLimit(ctx); err != nil {
		return domain.OrderResult{}, err
	}

	signerAddr := s.signer.Address().Hex()
	maker := s.cfg.FunderAddress
	if maker == "" {
		maker = signerAddr
	}

	// Selling size shares for size*price USDC, both in 1e6 fixed point.
	makerAmount := int64(math.Round(size * 1e6))
	takerAmount := int64(math.Floor(size * price * 1e6))

	payload := crypto.OrderPayload{
		Salt:          fmt.Sprintf("%d", time.Now().UnixNano()),
		Maker:         maker,
		Signer:        signerAddr,
		Taker:         zeroAddress,
		TokenID:       tokenID,
		MakerAmount:   fmt.Sprintf("%d", makerAmount),
		TakerAmount:   fmt.Sprintf("%d", takerAmount),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          1, // SELL
		SignatureType: s.cfg.SignatureType,
	}

	signature, err := s.signer.SignOrder(payload)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("order_service: %w: %v", domain.ErrSigningFailed, err)
	}

	result, err := s.clob.PostOrder(ctx, payload, signature, domain.OrderTypeGTC)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("order_service: %w", err)
	}

	if !result.Success {
		s.logger.InfoContext(ctx, "order rejected",
			slog.String("token_id", tokenID),
			slog.Float64("price", price),
			slog.Float64("size", size),
			slog.String("message", result.Message))
		return result, nil
	}

	orderID := result.OrderID
	if orderID == "" {
		orderID = uuid.New().String()
		result.OrderID = orderID
	}

	// Persistence is observational; a store failure must not fail the sell.
	order := domain.Order{
		ID:          orderID,
		TokenID:     tokenID,
		Wallet:      maker,
		Side:        domain.OrderSideSell,
		Type:        domain.OrderTypeGTC,
		PriceTicks:  int64(math.Round(price * 1e6)),
		SizeUnits:   makerAmount,
		MakerAmount: big.NewInt(makerAmount),
		TakerAmount: big.NewInt(takerAmount),
		Status:      result.Status,
		Signature:   signature,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.orders.Create(ctx, order); err != nil {
		s.logger.WarnContext(ctx, "persist order failed",
			slog.String("order_id", orderID),
			slog.String("error", err.Error()))
	}

	s.logger.InfoContext(ctx, "sell order placed",
		slog.String("order_id", orderID),
		slog.String("token_id", tokenID),
		slog.Float64("price", price),
		slog.Float64("size", size),
		slog.String("status", string(result.Status)))

	return result, nil
}

// RefreshStatuses polls the venue for the current status of the given orders
// and updates the local store. Fill progress is advisory: liquidation
// accounting is by ordered size, so failures here are only logged.
func (s *OrderService) RefreshStatuses(ctx context.Context, orderIDs []string) {
	for _, id := range orderIDs {
		order, err := s.clob.GetOrder(ctx, id)
		if err != nil {
			s.logger.WarnContext(ctx, "order status poll failed",
				slog.String("order_id", id),
				slog.String("error", err.Error()))
			continue
		}
		if err := s.orders.UpdateStatus(ctx, id, order.Status); err != nil {
			s.logger.WarnContext(ctx, "order status update failed",
				slog.String("order_id", id),
				slog.String("error", err.Error()))
		}
	}
}

// waitForRateLimit blocks until the shared submission limit admits one more
// order, polling at a fixed interval.
func (s *OrderService) waitForRateLimit(ctx context.Context) error {
	key := "clob:orders:" + s.signer.Address().Hex()

	for {
		allowed, err := s.limiter.Allow(ctx, key, ordersPerSecond, time.Second)
		if err != nil {
			return fmt.Errorf("order_service: rate limiter: %w", err)
		}
		if allowed {
			return nil
		}

		timer := time.NewTimer(rateLimitPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("order_service: rate limit wait: %w", ctx.Err())
		case <-timer.C:
		}
	}
}
