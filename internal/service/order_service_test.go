package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wkoss/polystop/internal/crypto"
	"github.com/wkoss/polystop/internal/domain"
)

type fakeSigner struct {
	addr common.Address
	err  error
}

func (f *fakeSigner) SignOrder(payload crypto.OrderPayload) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "0xsignature", nil
}

func (f *fakeSigner) Address() common.Address { return f.addr }

type fakePoster struct {
	payloads []crypto.OrderPayload
	result   domain.OrderResult
	err      error
	orders   map[string]domain.Order
}

func (f *fakePoster) PostOrder(ctx context.Context, payload crypto.OrderPayload, signature string, orderType domain.OrderType) (domain.OrderResult, error) {
	f.payloads = append(f.payloads, payload)
	return f.result, f.err
}

func (f *fakePoster) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	o, ok := f.orders[orderID]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

type fakeOrderStore struct {
	created  []domain.Order
	statuses map[string]domain.OrderStatus
	err      error
}

func (f *fakeOrderStore) Create(ctx context.Context, order domain.Order) error {
	if f.err != nil {
		return f.err
	}
	f.created = append(f.created, order)
	return nil
}

func (f *fakeOrderStore) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) error {
	if f.statuses == nil {
		f.statuses = make(map[string]domain.OrderStatus)
	}
	f.statuses[id] = status
	return nil
}

func (f *fakeOrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	return domain.Order{}, domain.ErrNotFound
}

func (f *fakeOrderStore) ListByToken(ctx context.Context, tokenID string, opts domain.ListOpts) ([]domain.Order, error) {
	return nil, nil
}

type openLimiter struct{}

func (openLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	return true, nil
}

func newTestOrderService(store *fakeOrderStore, poster *fakePoster, cfg OrderServiceConfig) *OrderService {
	signer := &fakeSigner{addr: common.HexToAddress("0x00000000000000000000000000000000000000aa")}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewOrderService(store, openLimiter{}, signer, poster, cfg, logger)
}

func TestSellGTC_BuildsFixedPointAmounts(t *testing.T) {
	store := &fakeOrderStore{}
	poster := &fakePoster{result: domain.OrderResult{Success: true, OrderID: "ord-1", Status: domain.OrderStatusOpen}}
	svc := newTestOrderService(store, poster, OrderServiceConfig{SignatureType: 1})

	res, err := svc.SellGTC(context.Background(), "tok", 0.405, 50)
	require.NoError(t, err)
	assert.True(t, res.Success)

	require.Len(t, poster.payloads, 1)
	p := poster.payloads[0]
	assert.Equal(t, "50000000", p.MakerAmount) // 50 shares
	assert.Equal(t, "20250000", p.TakerAmount) // 50 * 0.405 USDC, floored
	assert.Equal(t, 1, p.Side)
	assert.Equal(t, 1, p.SignatureType)
	assert.Equal(t, "tok", p.TokenID)

	// Without a funder the signer address makes its own orders.
	assert.Equal(t, p.Signer, p.Maker)
}

func TestSellGTC_FunderIsMaker(t *testing.T) {
	poster := &fakePoster{result: domain.OrderResult{Success: true, OrderID: "ord-1"}}
	svc := newTestOrderService(&fakeOrderStore{}, poster, OrderServiceConfig{
		FunderAddress: "0xproxy",
		SignatureType: 1,
	})

	_, err := svc.SellGTC(context.Background(), "tok", 0.40, 10)
	require.NoError(t, err)

	p := poster.payloads[0]
	assert.Equal(t, "0xproxy", p.Maker)
	assert.NotEqual(t, p.Maker, p.Signer)
}

func TestSellGTC_RejectsInvalidParameters(t *testing.T) {
	poster := &fakePoster{}
	svc := newTestOrderService(&fakeOrderStore{}, poster, OrderServiceConfig{})

	cases := []struct {
		name    string
		tokenID string
		price   float64
		size    float64
	}{
		{"empty token", "", 0.40, 10},
		{"zero size", "tok", 0.40, 0},
		{"zero price", "tok", 0, 10},
		{"price at one", "tok", 1.0, 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.SellGTC(context.Background(), tc.tokenID, tc.price, tc.size)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrInvalidOrder)
		})
	}
	assert.Empty(t, poster.payloads)
}

func TestSellGTC_CleanRejectionIsNotAnError(t *testing.T) {
	store := &fakeOrderStore{}
	poster := &fakePoster{result: domain.OrderResult{Success: false, Message: "price too aggressive"}}
	svc := newTestOrderService(store, poster, OrderServiceConfig{})

	res, err := svc.SellGTC(context.Background(), "tok", 0.40, 10)

	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Empty(t, store.created)
}

func TestSellGTC_TransportFailureIsError(t *testing.T) {
	poster := &fakePoster{err: errors.New("connection reset")}
	svc := newTestOrderService(&fakeOrderStore{}, poster, OrderServiceConfig{})

	_, err := svc.SellGTC(context.Background(), "tok", 0.40, 10)
	assert.Error(t, err)
}

func TestSellGTC_SigningFailureIsError(t *testing.T) {
	poster := &fakePoster{}
	svc := newTestOrderService(&fakeOrderStore{}, poster, OrderServiceConfig{})
	svc.signer = &fakeSigner{err: errors.New("bad key")}

	_, err := svc.SellGTC(context.Background(), "tok", 0.40, 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSigningFailed)
	assert.Empty(t, poster.payloads)
}

func TestSellGTC_PersistsAcceptedOrders(t *testing.T) {
	store := &fakeOrderStore{}
	poster := &fakePoster{result: domain.OrderResult{Success: true, OrderID: "ord-1", Status: domain.OrderStatusOpen}}
	svc := newTestOrderService(store, poster, OrderServiceConfig{})

	_, err := svc.SellGTC(context.Background(), "tok", 0.40, 10)
	require.NoError(t, err)

	require.Len(t, store.created, 1)
	o := store.created[0]
	assert.Equal(t, "ord-1", o.ID)
	assert.Equal(t, domain.OrderSideSell, o.Side)
	assert.Equal(t, int64(400000), o.PriceTicks)
	assert.Equal(t, "10000000", o.MakerAmount.String())
}

func TestSellGTC_StoreFailureDoesNotFailTheSell(t *testing.T) {
	store := &fakeOrderStore{err: errors.New("db down")}
	poster := &fakePoster{result: domain.OrderResult{Success: true, OrderID: "ord-1"}}
	svc := newTestOrderService(store, poster, OrderServiceConfig{})

	res, err := svc.SellGTC(context.Background(), "tok", 0.40, 10)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestSellGTC_MissingOrderIDGetsFallback(t *testing.T) {
	store := &fakeOrderStore{}
	poster := &fakePoster{result: domain.OrderResult{Success: true}}
	svc := newTestOrderService(store, poster, OrderServiceConfig{})

	res, err := svc.SellGTC(context.Background(), "tok", 0.40, 10)
	require.NoError(t, err)
	assert.NotEmpty(t, res.OrderID)
}

func TestRefreshStatuses_UpdatesStore(t *testing.T) {
	store := &fakeOrderStore{}
	poster := &fakePoster{orders: map[string]domain.Order{
		"a": {ID: "a", Status: domain.OrderStatusFilled},
	}}
	svc := newTestOrderService(store, poster, OrderServiceConfig{})

	// "gone" fails the poll; the refresh carries on with the rest.
	svc.RefreshStatuses(context.Background(), []string{"gone", "a"})

	assert.Equal(t, domain.OrderStatusFilled, store.statuses["a"])
	assert.NotContains(t, store.statuses, "gone")
}
