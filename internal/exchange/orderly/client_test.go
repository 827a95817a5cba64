package orderly

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valentinrey/fundingbot/internal/config"
	"github.com/valentinrey/fundingbot/internal/domain"
)

func testSeed() []byte {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	return seed
}

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(config.OrderlyConfig{
		BaseURL:    baseURL,
		AccountID:  "0xacc",
		OrderlyKey: "ed25519:pubkey",
		SecretKey:  base58.Encode(testSeed()),
	})
	require.NoError(t, err)
	return c
}

func TestNewSignerSignatureVerifies(t *testing.T) {
	seed := testSeed()
	s, err := newSigner(base58.Encode(seed))
	require.NoError(t, err)

	sig := s.Sign("1756464000000", "POST", "/v1/order", `{"symbol":"PERP_BTC_USDC"}`)
	raw, err := base64.URLEncoding.DecodeString(sig)
	require.NoError(t, err)

	pub := ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)
	msg := "1756464000000POST/v1/order" + `{"symbol":"PERP_BTC_USDC"}`
	assert.True(t, ed25519.Verify(pub, []byte(msg), raw))
}

func TestNewSignerStripsPrefix(t *testing.T) {
	encoded := base58.Encode(testSeed())

	plain, err := newSigner(encoded)
	require.NoError(t, err)
	prefixed, err := newSigner("ed25519:" + encoded)
	require.NoError(t, err)

	assert.Equal(t,
		plain.Sign("1", "GET", "/v1/positions", ""),
		prefixed.Sign("1", "GET", "/v1/positions", ""),
	)
}

func TestNewSignerAcceptsSeedWithAppendedPublicKey(t *testing.T) {
	seed := testSeed()
	priv := ed25519.NewKeyFromSeed(seed)

	// 64-byte export: seed followed by the public key.
	s, err := newSigner(base58.Encode(priv))
	require.NoError(t, err)

	short, err := newSigner(base58.Encode(seed))
	require.NoError(t, err)
	assert.Equal(t, short.Sign("1", "GET", "/x", ""), s.Sign("1", "GET", "/x", ""))
}

func TestNewSignerRejectsShortKey(t *testing.T) {
	_, err := newSigner(base58.Encode([]byte("tooshort")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too short")
}

func TestSymbolMapping(t *testing.T) {
	assert.Equal(t, "BTC-PERP", normalizeSymbol("PERP_BTC_USDC"))
	assert.Equal(t, "ETH-PERP", normalizeSymbol("PERP_ETH_USDC"))
	assert.Equal(t, "SPOT-BTC-USDC", normalizeSymbol("SPOT_BTC_USDC"))

	assert.Equal(t, "PERP_BTC_USDC", apiSymbol("BTC-PERP"))
	assert.Equal(t, "PERP_SOL_USDC", apiSymbol("SOL-PERP"))
	assert.Equal(t, "BTC_USDT", apiSymbol("BTC-USDT"))
}

func TestFundingRates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/public/funding_rates", r.URL.Path)
		w.Write([]byte(`{
			"success": true,
			"data": {"rows": [
				{
					"symbol": "PERP_BTC_USDC",
					"est_funding_rate": 0.0001,
					"last_funding_rate": 0.00008,
					"next_funding_time": 1756483200000,
					"mark_price": 50000,
					"open_interest": 1234.5,
					"24h_volume": 99.5
				},
				{
					"symbol": "PERP_ETH_USDC",
					"est_funding_rate": 0,
					"last_funding_rate": -0.0002,
					"next_funding_time": 1756483200000,
					"mark_price": 3000
				}
			]}
		}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	rates, err := c.FundingRates(context.Background())
	require.NoError(t, err)
	require.Len(t, rates, 2)

	btc := rates[0]
	assert.Equal(t, "orderly", btc.Exchange)
	assert.Equal(t, "BTC-PERP", btc.Symbol)
	assert.Equal(t, 0.0001, btc.Rate)
	// 8h rate annualised: 1095 periods, percent.
	assert.InDelta(t, 10.95, btc.APR, 1e-9)
	assert.Equal(t, 50000.0, btc.MarkPrice)
	assert.Equal(t, time.UnixMilli(1756483200000), btc.NextFundingAt)

	// Zero estimate falls back to the last settled rate.
	eth := rates[1]
	assert.Equal(t, -0.0002, eth.Rate)
	assert.InDelta(t, -21.9, eth.APR, 1e-9)
}

func TestFundingRatesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success": false, "code": 1001, "message": "maintenance"}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.FundingRates(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maintenance")
}

func TestDoRequestRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.FundingRates(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestSignedRequestHeaders(t *testing.T) {
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		w.Write([]byte(`{"success": true, "data": {"holding": []}}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.Balance(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "0xacc", gotHeaders.Get("orderly-account-id"))
	assert.Equal(t, "ed25519:pubkey", gotHeaders.Get("orderly-key"))
	require.NotEmpty(t, gotHeaders.Get("orderly-timestamp"))

	sig, err := base64.URLEncoding.DecodeString(gotHeaders.Get("orderly-signature"))
	require.NoError(t, err)
	pub := ed25519.NewKeyFromSeed(testSeed()).Public().(ed25519.PublicKey)
	msg := gotHeaders.Get("orderly-timestamp") + "GET/v1/client/holding"
	assert.True(t, ed25519.Verify(pub, []byte(msg), sig))
}

func TestBalanceParsesUSDCHolding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success": true, "data": {"holding": [
			{"token": "ETH", "holding": 2.0, "frozen": 0},
			{"token": "USDC", "holding": 800.5, "frozen": 120.25}
		]}}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	bal, err := c.Balance(context.Background())
	require.NoError(t, err)

	assert.True(t, bal.FreeUSD.Equal(decimal.NewFromFloat(800.5)), "got %s", bal.FreeUSD)
	assert.True(t, bal.UsedMarginUSD.Equal(decimal.NewFromFloat(120.25)))
	assert.True(t, bal.TotalUSD.Equal(decimal.NewFromFloat(920.75)))
}

func TestRoundQuantity(t *testing.T) {
	c := testClient(t, "http://unreachable.invalid")
	c.markets["BTC-PERP"] = marketInfoRow{BaseMin: 0.001, BaseTick: 0.001}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"rounds down to tick", "0.0129", "0.012"},
		{"clamps to minimum size", "0.0001", "0.001"},
		{"exact tick unchanged", "0.015", "0.015"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := decimal.NewFromString(tt.in)
			require.NoError(t, err)
			got, err := c.roundQuantity(context.Background(), "BTC-PERP", in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestRoundQuantityZeroIsInvalid(t *testing.T) {
	c := testClient(t, "http://unreachable.invalid")
	c.markets["BTC-PERP"] = marketInfoRow{BaseMin: 0, BaseTick: 1}

	_, err := c.roundQuantity(context.Background(), "BTC-PERP", decimal.NewFromFloat(0.5))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
}
