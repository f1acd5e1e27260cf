package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wkoss/polystop/internal/domain"
)

// sellCall records one SellGTC invocation.
type sellCall struct {
	price float64
	size  float64
}

// scriptedGateway replays a fixed sequence of responses. When the script runs
// out it keeps accepting.
type scriptedGateway struct {
	script []func() (domain.OrderResult, error)
	calls  []sellCall
}

func (g *scriptedGateway) SellGTC(ctx context.Context, tokenID string, price, size float64) (domain.OrderResult, error) {
	g.calls = append(g.calls, sellCall{price: price, size: size})
	if len(g.script) == 0 {
		return accepted(), nil
	}
	next := g.script[0]
	g.script = g.script[1:]
	return next()
}

func accepted() domain.OrderResult {
	return domain.OrderResult{Success: true, OrderID: fmt.Sprintf("order-%d", ordinal()), Status: domain.OrderStatusOpen}
}

var counter int

func ordinal() int {
	counter++
	return counter
}

func accept() func() (domain.OrderResult, error) {
	return func() (domain.OrderResult, error) { return accepted(), nil }
}

func reject(msg string) func() (domain.OrderResult, error) {
	return func() (domain.OrderResult, error) {
		return domain.OrderResult{Success: false, Message: msg}, nil
	}
}

func fail(msg string) func() (domain.OrderResult, error) {
	return func() (domain.OrderResult, error) {
		return domain.OrderResult{}, errors.New(msg)
	}
}

type fixedBids struct {
	bid float64
	err error
}

func (b fixedBids) BestBid(ctx context.Context, tokenID string) (float64, error) {
	return b.bid, b.err
}

func newTestLiquidator(gw SellGateway, bids BidSource, cfg Config) *Liquidator {
	cfg.SettleDelay = 0
	return NewLiquidator(gw, bids, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func pos(size, price float64) domain.Position {
	return domain.NewPosition("tok", "Market", "Yes", size, price, size*price, size*price*1.5)
}

func TestLiquidate_ChunksFullPosition(t *testing.T) {
	gw := &scriptedGateway{}
	l := newTestLiquidator(gw, fixedBids{bid: 0.40}, Config{MaxChunkSize: 50, DustThreshold: 0.1})

	res := l.Liquidate(context.Background(), pos(120, 0.45))

	require.True(t, res.Success)
	assert.Equal(t, 3, res.OrdersPlaced)
	assert.Len(t, res.Receipts, 3)
	assert.InDelta(t, 120, res.TotalSizeOrdered, 1e-9)
	assert.Zero(t, res.RemainingSize)

	// 50 + 50 + 20, all at the best bid.
	require.Len(t, gw.calls, 3)
	assert.InDelta(t, 50, gw.calls[0].size, 1e-9)
	assert.InDelta(t, 50, gw.calls[1].size, 1e-9)
	assert.InDelta(t, 20, gw.calls[2].size, 1e-9)
	assert.InDelta(t, 0.40, gw.calls[0].price, 1e-9)
}

func TestLiquidate_RejectionReprices(t *testing.T) {
	gw := &scriptedGateway{script: []func() (domain.OrderResult, error){
		reject("price too high"),
		accept(),
	}}
	l := newTestLiquidator(gw, fixedBids{bid: 0.40}, Config{MaxChunkSize: 50, DustThreshold: 0.1})

	res := l.Liquidate(context.Background(), pos(40, 0.45))

	require.True(t, res.Success)
	require.Len(t, gw.calls, 2)
	assert.InDelta(t, 0.40, gw.calls[0].price, 1e-9)
	assert.InDelta(t, 0.40*0.95, gw.calls[1].price, 1e-9)
}

func TestLiquidate_ExceptionRepricesDeeper(t *testing.T) {
	gw := &scriptedGateway{script: []func() (domain.OrderResult, error){
		fail("connection reset"),
		accept(),
	}}
	l := newTestLiquidator(gw, fixedBids{bid: 0.40}, Config{MaxChunkSize: 50, DustThreshold: 0.1})

	res := l.Liquidate(context.Background(), pos(40, 0.45))

	require.True(t, res.Success)
	require.Len(t, gw.calls, 2)
	assert.InDelta(t, 0.40*0.90, gw.calls[1].price, 1e-9)
}

func TestLiquidate_RetryCapHandsOffToSweep(t *testing.T) {
	var script []func() (domain.OrderResult, error)
	for i := 0; i < 3; i++ {
		script = append(script, reject("no"))
	}
	script = append(script, accept()) // the sweep

	gw := &scriptedGateway{script: script}
	l := newTestLiquidator(gw, fixedBids{bid: 0.40}, Config{
		MaxChunkSize: 50, DustThreshold: 0.1, MaxRetriesPerChunk: 3,
	})

	res := l.Liquidate(context.Background(), pos(80, 0.50))

	require.True(t, res.Success)
	require.Len(t, gw.calls, 4)

	// Sweep sells everything left at half the position's last price, in one
	// order, regardless of chunk size.
	sweep := gw.calls[3]
	assert.InDelta(t, 0.25, sweep.price, 1e-9)
	assert.InDelta(t, 80, sweep.size, 1e-9)
	assert.Zero(t, res.RemainingSize)
	assert.Equal(t, 1, res.OrdersPlaced)
}

func TestLiquidate_SweepRejectionNotRetried(t *testing.T) {
	gw := &scriptedGateway{script: []func() (domain.OrderResult, error){
		reject("no"), reject("no"), // chunk retries exhausted
		reject("book gone"), // the sweep itself
	}}
	l := newTestLiquidator(gw, fixedBids{bid: 0.40}, Config{
		MaxChunkSize: 50, DustThreshold: 0.1, MaxRetriesPerChunk: 2,
	})

	res := l.Liquidate(context.Background(), pos(80, 0.50))

	assert.False(t, res.Success)
	assert.Contains(t, res.Reason, "final sweep rejected")
	assert.Len(t, gw.calls, 3)
	assert.InDelta(t, 80, res.RemainingSize, 1e-9)
}

func TestLiquidate_OrderedPlusRemainingEqualsOriginal(t *testing.T) {
	gw := &scriptedGateway{script: []func() (domain.OrderResult, error){
		accept(),            // first chunk of 50
		reject("no"), reject("no"), // second chunk exhausts retries
		fail("venue down"), // sweep fails
	}}
	l := newTestLiquidator(gw, fixedBids{bid: 0.40}, Config{
		MaxChunkSize: 50, DustThreshold: 0.1, MaxRetriesPerChunk: 2,
	})

	original := 120.0
	res := l.Liquidate(context.Background(), pos(original, 0.50))

	// Partial: one accepted order, the rest never sold. No dust folding.
	assert.True(t, res.Success)
	assert.InDelta(t, original, res.TotalSizeOrdered+res.RemainingSize, 1e-9)
	assert.InDelta(t, 50, res.TotalSizeOrdered, 1e-9)
	assert.Contains(t, res.Reason, "final sweep failed")
}

func TestLiquidate_DustPositionIsVacuouslyComplete(t *testing.T) {
	gw := &scriptedGateway{}
	l := newTestLiquidator(gw, fixedBids{bid: 0.40}, Config{MaxChunkSize: 50, DustThreshold: 0.1})

	res := l.Liquidate(context.Background(), pos(0.05, 0.50))

	assert.True(t, res.Success)
	assert.Empty(t, gw.calls)
	assert.Zero(t, res.OrdersPlaced)
	assert.InDelta(t, 0.05, res.RemainingSize, 1e-9)
}

func TestLiquidate_NoBidsDiscountsLastPrice(t *testing.T) {
	gw := &scriptedGateway{}
	l := newTestLiquidator(gw, fixedBids{bid: 0}, Config{MaxChunkSize: 50, DustThreshold: 0.1})

	l.Liquidate(context.Background(), pos(10, 0.60))

	require.NotEmpty(t, gw.calls)
	assert.InDelta(t, 0.60*0.95, gw.calls[0].price, 1e-9)
}

func TestLiquidate_BookErrorDiscountsDeeper(t *testing.T) {
	gw := &scriptedGateway{}
	l := newTestLiquidator(gw, fixedBids{err: errors.New("timeout")}, Config{MaxChunkSize: 50, DustThreshold: 0.1})

	l.Liquidate(context.Background(), pos(10, 0.60))

	require.NotEmpty(t, gw.calls)
	assert.InDelta(t, 0.60*0.90, gw.calls[0].price, 1e-9)
}

func TestLiquidate_PriceNeverBelowFloor(t *testing.T) {
	var script []func() (domain.OrderResult, error)
	for i := 0; i < 10; i++ {
		script = append(script, reject("no"))
	}
	gw := &scriptedGateway{script: script}
	l := newTestLiquidator(gw, fixedBids{bid: 0.002}, Config{
		MaxChunkSize: 50, DustThreshold: 0.1, MaxRetriesPerChunk: 10,
	})

	l.Liquidate(context.Background(), pos(10, 0.002))

	for _, c := range gw.calls {
		assert.GreaterOrEqual(t, c.price, 0.001)
	}
}

func TestLiquidate_CancelMidChunkSkipsSweep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The venue rejects the first chunk and the operator interrupts at the
	// same moment.
	gw := &scriptedGateway{script: []func() (domain.OrderResult, error){
		func() (domain.OrderResult, error) {
			cancel()
			return domain.OrderResult{Success: false, Message: "price too high"}, nil
		},
	}}
	l := newTestLiquidator(gw, fixedBids{bid: 0.40}, Config{
		MaxChunkSize: 50, DustThreshold: 0.1, MaxRetriesPerChunk: 5,
	})

	res := l.Liquidate(ctx, pos(100, 0.50))

	// An interrupt must never be answered with the half-price sweep order.
	assert.Len(t, gw.calls, 1)
	assert.False(t, res.Success)
	assert.Contains(t, res.Reason, "cancelled")
	assert.InDelta(t, 100, res.RemainingSize, 1e-9)
}

func TestLiquidate_CancelledContextStopsChunking(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	gw := &scriptedGateway{}
	l := newTestLiquidator(gw, fixedBids{bid: 0.40}, Config{MaxChunkSize: 50, DustThreshold: 0.1})

	res := l.Liquidate(ctx, pos(100, 0.50))

	assert.False(t, res.Success)
	assert.Contains(t, res.Reason, "cancelled")
	assert.Empty(t, gw.calls)
}
