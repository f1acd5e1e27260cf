package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wkoss/polystop/internal/domain"
)

type fakeBookCache struct {
	snaps map[string]domain.OrderbookSnapshot
	sets  int
	err   error
}

func (f *fakeBookCache) GetSnapshot(ctx context.Context, assetID string) (domain.OrderbookSnapshot, error) {
	if f.err != nil {
		return domain.OrderbookSnapshot{}, f.err
	}
	snap, ok := f.snaps[assetID]
	if !ok {
		return domain.OrderbookSnapshot{}, domain.ErrNotFound
	}
	return snap, nil
}

func (f *fakeBookCache) SetSnapshot(ctx context.Context, assetID string, snap domain.OrderbookSnapshot) error {
	if f.snaps == nil {
		f.snaps = make(map[string]domain.OrderbookSnapshot)
	}
	f.snaps[assetID] = snap
	f.sets++
	return nil
}

func (f *fakeBookCache) UpdateLevel(ctx context.Context, assetID, side string, price, size float64) error {
	return nil
}

func (f *fakeBookCache) GetBBO(ctx context.Context, assetID string) (float64, float64, error) {
	return 0, 0, nil
}

type fakeBookFetcher struct {
	snap  domain.OrderbookSnapshot
	err   error
	calls int
}

func (f *fakeBookFetcher) GetBook(ctx context.Context, tokenID string) (domain.OrderbookSnapshot, error) {
	f.calls++
	return f.snap, f.err
}

func priceLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBestBid_FreshCacheSkipsREST(t *testing.T) {
	cache := &fakeBookCache{snaps: map[string]domain.OrderbookSnapshot{
		"tok": {AssetID: "tok", BestBid: 0.42, Timestamp: time.Now()},
	}}
	fetcher := &fakeBookFetcher{}
	svc := NewPriceService(cache, fetcher, 10*time.Second, priceLogger())

	bid, err := svc.BestBid(context.Background(), "tok")
	require.NoError(t, err)
	assert.InDelta(t, 0.42, bid, 1e-9)
	assert.Zero(t, fetcher.calls)
}

func TestBestBid_StaleCacheFallsBackAndRewarms(t *testing.T) {
	cache := &fakeBookCache{snaps: map[string]domain.OrderbookSnapshot{
		"tok": {AssetID: "tok", BestBid: 0.42, Timestamp: time.Now().Add(-time.Minute)},
	}}
	fetcher := &fakeBookFetcher{snap: domain.OrderbookSnapshot{AssetID: "tok", BestBid: 0.39, Timestamp: time.Now()}}
	svc := NewPriceService(cache, fetcher, 10*time.Second, priceLogger())

	bid, err := svc.BestBid(context.Background(), "tok")
	require.NoError(t, err)
	assert.InDelta(t, 0.39, bid, 1e-9)
	assert.Equal(t, 1, fetcher.calls)
	assert.Equal(t, 1, cache.sets)
}

func TestBestBid_CacheErrorIsNotFatal(t *testing.T) {
	cache := &fakeBookCache{err: errors.New("redis down")}
	fetcher := &fakeBookFetcher{snap: domain.OrderbookSnapshot{BestBid: 0.33}}
	svc := NewPriceService(cache, fetcher, 10*time.Second, priceLogger())

	bid, err := svc.BestBid(context.Background(), "tok")
	require.NoError(t, err)
	assert.InDelta(t, 0.33, bid, 1e-9)
}

func TestBestBid_NilCacheGoesStraightToREST(t *testing.T) {
	fetcher := &fakeBookFetcher{snap: domain.OrderbookSnapshot{BestBid: 0.5}}
	svc := NewPriceService(nil, fetcher, 10*time.Second, priceLogger())

	bid, err := svc.BestBid(context.Background(), "tok")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, bid, 1e-9)
}

func TestBestBid_EmptyBookIsZeroNotError(t *testing.T) {
	fetcher := &fakeBookFetcher{snap: domain.OrderbookSnapshot{}}
	svc := NewPriceService(nil, fetcher, 10*time.Second, priceLogger())

	bid, err := svc.BestBid(context.Background(), "tok")
	require.NoError(t, err)
	assert.Zero(t, bid)
}

func TestBestBid_RESTErrorPropagates(t *testing.T) {
	fetcher := &fakeBookFetcher{err: errors.New("timeout")}
	svc := NewPriceService(nil, fetcher, 10*time.Second, priceLogger())

	_, err := svc.BestBid(context.Background(), "tok")
	assert.Error(t, err)
}
