package polymarket

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wkoss/polystop/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGetPositions_QueryAndMapping(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		gotQuery = map[string]string{
			"user":          q.Get("user"),
			"sizeThreshold": q.Get("sizeThreshold"),
			"limit":         q.Get("limit"),
			"sortBy":        q.Get("sortBy"),
			"sortDirection": q.Get("sortDirection"),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"asset":"tok1","title":"Will it rain","outcome":"Yes","size":100,"curPrice":0.4,"currentValue":40,"initialValue":50},
			{"asset":"tok2","size":20,"curPrice":0.1,"currentValue":2,"initialValue":0}
		]`))
	}))
	defer srv.Close()

	c := NewDataClient(srv.URL, discardLogger())
	positions, err := c.GetPositions(context.Background(), "0xwallet")
	require.NoError(t, err)

	assert.Equal(t, "0xwallet", gotQuery["user"])
	assert.Equal(t, "0.1", gotQuery["sizeThreshold"])
	assert.Equal(t, "100", gotQuery["limit"])
	assert.Equal(t, "CURRENT", gotQuery["sortBy"])
	assert.Equal(t, "DESC", gotQuery["sortDirection"])

	require.Len(t, positions, 2)

	first := positions[0]
	assert.Equal(t, "tok1", first.TokenID)
	assert.Equal(t, "Will it rain", first.MarketName)
	assert.InDelta(t, -10, first.PnL, 1e-9)
	assert.InDelta(t, -20, first.PnLPercent, 1e-9)

	// Missing display fields get defaults; no cost basis means PnLPercent 0.
	second := positions[1]
	assert.Equal(t, "Unknown market", second.MarketName)
	assert.Equal(t, "?", second.Outcome)
	assert.Zero(t, second.PnLPercent)
}

func TestGetPositions_SkipsMalformedRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"asset":"","size":100,"curPrice":0.4},
			{"asset":"neg","size":-1,"curPrice":0.4},
			{"asset":"bad-price","size":10,"curPrice":1.5},
			{"asset":"good","size":10,"curPrice":0.4,"currentValue":4,"initialValue":5}
		]`))
	}))
	defer srv.Close()

	c := NewDataClient(srv.URL, discardLogger())
	positions, err := c.GetPositions(context.Background(), "0xwallet")
	require.NoError(t, err)

	require.Len(t, positions, 1)
	assert.Equal(t, "good", positions[0].TokenID)
}

func TestGetPositions_MalformedBodyIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"not":"an array"}`))
	}))
	defer srv.Close()

	c := NewDataClient(srv.URL, discardLogger())
	_, err := c.GetPositions(context.Background(), "0xwallet")
	assert.ErrorIs(t, err, domain.ErrMalformedData)
}

func TestGetPositions_HTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewDataClient(srv.URL, discardLogger())
	_, err := c.GetPositions(context.Background(), "0xwallet")
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}
