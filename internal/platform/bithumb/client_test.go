package bithumb

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bithumbbot/internal/crypto"
	"github.com/alanyoungcy/bithumbbot/internal/domain"
	"github.com/alanyoungcy/bithumbbot/internal/ratelimit"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	auth := &crypto.HMACAuth{Key: "test-key", Secret: "test-secret"}
	policy := ratelimit.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, RateLimitMult: 1}
	return NewClient(cfg, auth, nil, policy, testLogger()), srv
}

func TestFetchTicker(t *testing.T) {
	var hits atomic.Int64
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/public/ticker/BTC_KRW", r.URL.Path)
		io.WriteString(w, `{"status":"0000","data":{
			"closing_price":"100000000","buy_price":"99990000","sell_price":"100010000",
			"units_traded_24H":"1234.5","date":"1700000000000"}}`)
	}))

	tk, err := c.FetchTicker(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, 100000000.0, tk.Last)
	assert.Equal(t, 99990000.0, tk.Bid)
	assert.Equal(t, 100010000.0, tk.Ask)
	assert.Equal(t, 1234.5, tk.Volume)

	// Second read comes from the cache.
	_, err = c.FetchTicker(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits.Load())
}

func TestFetchBalance(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/info/balance", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("Api-Key"))
		assert.NotEmpty(t, r.Header.Get("Api-Sign"))
		assert.NotEmpty(t, r.Header.Get("Api-Nonce"))
		io.WriteString(w, `{"status":"0000","data":{
			"available_krw":"500000","in_use_krw":"10000","total_krw":"510000",
			"available_btc":"0.5","in_use_btc":"0","total_btc":"0.5"}}`)
	}))

	balances, err := c.FetchBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.Balance{Free: 500000, Used: 10000, Total: 510000}, balances["KRW"])
	assert.Equal(t, domain.Balance{Free: 0.5, Total: 0.5}, balances["BTC"])
}

func TestCreateMarketBuy(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/trade/market_buy", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "BTC", r.PostForm.Get("order_currency"))
		assert.Equal(t, "KRW", r.PostForm.Get("payment_currency"))
		assert.Equal(t, "0.01", r.PostForm.Get("units"))
		assert.NotEmpty(t, r.PostForm.Get("client_order_id"))
		io.WriteString(w, `{"status":"0000","order_id":"C0101000007408440032"}`)
	}))

	res, err := c.CreateMarketBuy(context.Background(), "BTC", 0.01)
	require.NoError(t, err)
	assert.Equal(t, "C0101000007408440032", res.OrderID)
	assert.NotEmpty(t, res.ClientID)
	assert.Equal(t, domain.OrderSideBuy, res.Side)
	assert.Equal(t, 0.01, res.Quantity)
}

func TestAPIErrorStatus(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"5600","message":"insufficient funds"}`)
	}))

	_, err := c.CreateMarketBuy(context.Background(), "BTC", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "5600")
	assert.Contains(t, err.Error(), "insufficient funds")
}

func TestRetryOnServerError(t *testing.T) {
	var hits atomic.Int64
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		io.WriteString(w, `{"status":"0000","data":{"closing_price":"100"}}`)
	}))

	tk, err := c.FetchTicker(context.Background(), "ETH")
	require.NoError(t, err)
	assert.Equal(t, 100.0, tk.Last)
	assert.Equal(t, int64(2), hits.Load())
}

func TestRateLimitedMapsToSentinel(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := c.FetchTicker(context.Background(), "ETH")
	require.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestAverageBuyPrice(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"0000","data":[
			{"search":"1","units":"1.0","price":"100"},
			{"search":"1","units":"3.0","price":"80"}]}`)
	}))

	avg, err := c.AverageBuyPrice(context.Background(), "XRP")
	require.NoError(t, err)
	assert.InDelta(t, (1*100+3*80.0)/4, avg, 1e-9)
}

func TestAverageBuyPriceNoFills(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"0000","data":[]}`)
	}))

	_, err := c.AverageBuyPrice(context.Background(), "XRP")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOrderInvalidatesBalanceCache(t *testing.T) {
	var balanceHits atomic.Int64
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/info/balance":
			balanceHits.Add(1)
			io.WriteString(w, `{"status":"0000","data":{"available_krw":"100"}}`)
		case "/trade/market_buy":
			io.WriteString(w, `{"status":"0000","order_id":"o1"}`)
		}
	}))
	ctx := context.Background()

	_, err := c.FetchBalance(ctx)
	require.NoError(t, err)
	_, err = c.FetchBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), balanceHits.Load())

	_, err = c.CreateMarketBuy(ctx, "BTC", 0.01)
	require.NoError(t, err)

	_, err = c.FetchBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), balanceHits.Load(), "order submission must drop the cached balance")
}
