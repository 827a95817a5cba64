package feed

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valentinrey/fundingbot/internal/domain"
)

type captureCache struct {
	rates []domain.FundingRate
}

var _ domain.FundingCache = (*captureCache)(nil)

func (c *captureCache) Set(_ context.Context, rate domain.FundingRate) error {
	c.rates = append(c.rates, rate)
	return nil
}

func (c *captureCache) Get(context.Context, string, string) (domain.FundingRate, error) {
	return domain.FundingRate{}, domain.ErrNotFound
}

func (c *captureCache) GetSymbol(context.Context, string, []string) ([]domain.FundingRate, error) {
	return nil, nil
}

func (c *captureCache) SetBatch(_ context.Context, rates []domain.FundingRate) error {
	c.rates = append(c.rates, rates...)
	return nil
}

const assetCtxMsg = `{
	"channel": "activeAssetCtx",
	"data": {
		"coin": "BTC",
		"ctx": {
			"funding": "0.0000125",
			"markPx": "50000.5",
			"openInterest": "1234.5",
			"dayNtlVlm": "9876543.21"
		}
	}
}`

func TestHandleMessageUpdatesCacheAndHandler(t *testing.T) {
	cache := &captureCache{}
	var handled []domain.FundingRate
	onRate := func(_ context.Context, rate domain.FundingRate) {
		handled = append(handled, rate)
	}

	f := NewHyperliquidFeed("wss://example/ws", []string{"BTC-PERP"}, cache, onRate, slog.Default())
	f.handleMessage(context.Background(), []byte(assetCtxMsg))

	require.Len(t, cache.rates, 1)
	require.Len(t, handled, 1)

	got := handled[0]
	assert.Equal(t, "hyperliquid", got.Exchange)
	assert.Equal(t, "BTC-PERP", got.Symbol)
	assert.InDelta(t, 0.0000125, got.Rate, 1e-12)
	assert.InDelta(t, 0.0000125*8760*100, got.APR, 1e-9)
	assert.InDelta(t, 50000.5, got.MarkPrice, 1e-9)
	assert.Equal(t, cache.rates[0], got)
}

func TestHandleMessageIgnoresOtherChannels(t *testing.T) {
	cache := &captureCache{}
	called := false
	f := NewHyperliquidFeed("wss://example/ws", []string{"BTC-PERP"}, cache,
		func(context.Context, domain.FundingRate) { called = true }, slog.Default())

	f.handleMessage(context.Background(), []byte(`{"channel":"pong"}`))
	f.handleMessage(context.Background(), []byte(`not json`))

	assert.Empty(t, cache.rates)
	assert.False(t, called)
}
