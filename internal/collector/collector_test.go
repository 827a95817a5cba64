package collector

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valentinrey/fundingbot/internal/domain"
	"github.com/valentinrey/fundingbot/internal/exchange"
)

type fakeExchange struct {
	name  string
	rates []domain.FundingRate
	err   error
}

func (f *fakeExchange) Name() string { return f.name }

func (f *fakeExchange) FundingRates(ctx context.Context) ([]domain.FundingRate, error) {
	return f.rates, f.err
}

func (f *fakeExchange) Balance(ctx context.Context) (domain.Balance, error) {
	return domain.Balance{}, nil
}

func (f *fakeExchange) Positions(ctx context.Context) ([]domain.ExchangePosition, error) {
	return nil, nil
}

func (f *fakeExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return nil
}

func (f *fakeExchange) PlaceMarketOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	return domain.OrderResult{}, errors.New("not trading")
}

func (f *fakeExchange) ClosePosition(ctx context.Context, symbol string) error { return nil }

var _ exchange.Exchange = (*fakeExchange)(nil)

type fakeFundingCache struct {
	batch []domain.FundingRate
}

func (c *fakeFundingCache) Set(ctx context.Context, rate domain.FundingRate) error { return nil }

func (c *fakeFundingCache) Get(ctx context.Context, exchange, symbol string) (domain.FundingRate, error) {
	return domain.FundingRate{}, domain.ErrNotFound
}

func (c *fakeFundingCache) GetSymbol(ctx context.Context, symbol string, exchanges []string) ([]domain.FundingRate, error) {
	return nil, nil
}

func (c *fakeFundingCache) SetBatch(ctx context.Context, rates []domain.FundingRate) error {
	c.batch = rates
	return nil
}

type fakeOppCache struct {
	opps []domain.Opportunity
}

func (c *fakeOppCache) Replace(ctx context.Context, opps []domain.Opportunity, ttl time.Duration) error {
	c.opps = opps
	return nil
}

func (c *fakeOppCache) List(ctx context.Context) ([]domain.Opportunity, error) { return c.opps, nil }

func (c *fakeOppCache) Get(ctx context.Context, symbol string) (domain.Opportunity, error) {
	return domain.Opportunity{}, domain.ErrNotFound
}

func sample(ex, symbol string, rate, apr float64) domain.FundingRate {
	return domain.FundingRate{
		Exchange:  ex,
		Symbol:    symbol,
		Rate:      rate,
		APR:       apr,
		FetchedAt: time.Now(),
	}
}

func TestPairLongNegativeShortPositive(t *testing.T) {
	opp, ok := pair("BTC-PERP", []domain.FundingRate{
		sample("orderly", "BTC-PERP", -0.0001, -109.5),
		sample("hyperliquid", "BTC-PERP", 0.00002, 175.2),
	})

	require.True(t, ok)
	assert.Equal(t, "orderly", opp.LongExchange)
	assert.Equal(t, "hyperliquid", opp.ShortExchange)
	// Both legs earn: long collects 109.5, short collects 175.2.
	assert.InDelta(t, 284.7, opp.NetAPR, 1e-9)
	assert.InDelta(t, 0.00012, opp.RateSpread, 1e-12)
}

func TestPairOnlyShortLegEarns(t *testing.T) {
	opp, ok := pair("ETH-PERP", []domain.FundingRate{
		sample("orderly", "ETH-PERP", 0.00001, 10.95),
		sample("hyperliquid", "ETH-PERP", 0.0001, 87.6),
	})

	require.True(t, ok)
	// The long leg pays funding (positive rate), so it contributes nothing.
	assert.InDelta(t, 87.6, opp.NetAPR, 1e-9)
}

func TestPairRejectsSingleVenue(t *testing.T) {
	_, ok := pair("BTC-PERP", []domain.FundingRate{
		sample("orderly", "BTC-PERP", -0.0001, -109.5),
		sample("orderly", "BTC-PERP", -0.0001, -109.5),
	})
	assert.False(t, ok)
}

func TestPairRejectsThinSpread(t *testing.T) {
	// NetAPR below the viability floor.
	_, ok := pair("BTC-PERP", []domain.FundingRate{
		sample("orderly", "BTC-PERP", -0.000001, -1.1),
		sample("hyperliquid", "BTC-PERP", 0.0000005, 3.5),
	})
	assert.False(t, ok)
}

func TestConfidence(t *testing.T) {
	cases := []struct {
		name   string
		spread float64
		venues int
		want   float64
	}{
		{"zero spread", 0, 2, 0},
		{"small spread", 0.0005, 2, 0.5},
		{"wide spread caps at one", 0.01, 2, 1},
		{"negative spread uses magnitude", -0.0005, 2, 0.5},
		{"extra venue boosts", 0.0005, 3, 0.55},
		{"boost still capped", 0.001, 4, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, confidence(tc.spread, tc.venues), 1e-9)
		})
	}
}

func TestCollectRoundTrip(t *testing.T) {
	rates := &fakeFundingCache{}
	opps := &fakeOppCache{}
	c := New(Config{
		Exchanges: []exchange.Exchange{
			&fakeExchange{name: "orderly", rates: []domain.FundingRate{
				sample("orderly", "BTC-PERP", -0.0002, -219),
				sample("orderly", "ETH-PERP", 0.00001, 10.95),
			}},
			&fakeExchange{name: "hyperliquid", rates: []domain.FundingRate{
				sample("hyperliquid", "BTC-PERP", 0.00005, 438),
				sample("hyperliquid", "SOL-PERP", 0.00001, 87.6),
			}},
		},
		Rates:  rates,
		Opps:   opps,
		Logger: slog.Default(),
	})

	got, err := c.Collect(context.Background())
	require.NoError(t, err)

	// Only BTC-PERP is listed on both venues.
	require.Len(t, got, 1)
	assert.Equal(t, "BTC-PERP", got[0].Symbol)
	assert.InDelta(t, 657, got[0].NetAPR, 1e-9)

	assert.Len(t, rates.batch, 4)
	assert.Len(t, opps.opps, 1)
}

func TestCollectRequiresTwoVenues(t *testing.T) {
	c := New(Config{
		Exchanges: []exchange.Exchange{
			&fakeExchange{name: "orderly", rates: []domain.FundingRate{
				sample("orderly", "BTC-PERP", -0.0002, -219),
			}},
			&fakeExchange{name: "hyperliquid", err: errors.New("venue down")},
		},
		Rates:  &fakeFundingCache{},
		Opps:   &fakeOppCache{},
		Logger: slog.Default(),
	})

	_, err := c.Collect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "need 2")
}
