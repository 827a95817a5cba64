// Package collector fetches funding rates from all configured venues and
// turns them into cross-venue arbitrage opportunities.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/valentinrey/fundingbot/internal/domain"
	"github.com/valentinrey/fundingbot/internal/exchange"
	"github.com/valentinrey/fundingbot/internal/metrics"
)

// cacheTTL bounds how long a collection round stays authoritative in Redis.
const cacheTTL = 10 * time.Minute

// Collector polls every venue for funding rates, pairs them per symbol and
// publishes the resulting opportunity set.
type Collector struct {
	exchanges []exchange.Exchange
	rates     domain.FundingCache
	opps      domain.OpportunityCache
	store     domain.FundingStore
	bus       domain.SignalBus
	logger    *slog.Logger
}

// Config configures the collector.
type Config struct {
	Exchanges []exchange.Exchange
	Rates     domain.FundingCache
	Opps      domain.OpportunityCache
	Store     domain.FundingStore
	Bus       domain.SignalBus
	Logger    *slog.Logger
}

// New creates a collector over the given venues.
func New(cfg Config) *Collector {
	return &Collector{
		exchanges: cfg.Exchanges,
		rates:     cfg.Rates,
		opps:      cfg.Opps,
		store:     cfg.Store,
		bus:       cfg.Bus,
		logger:    cfg.Logger.With(slog.String("component", "collector")),
	}
}

// Collect runs one full round: fetch all venues in parallel, consolidate per
// symbol, build opportunities, then cache, persist and publish. A venue
// failure degrades the round instead of failing it, as long as at least two
// venues answered.
func (c *Collector) Collect(ctx context.Context) ([]domain.Opportunity, error) {
	start := time.Now()
	defer func() {
		metrics.CollectDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	bySymbol, venuesUp, err := c.fetchAll(ctx)
	if err != nil {
		return nil, err
	}
	if venuesUp < 2 {
		return nil, fmt.Errorf("collector: only %d venue(s) answered, need 2", venuesUp)
	}

	opps := c.pairAll(bySymbol)

	if err := c.publish(ctx, bySymbol, opps); err != nil {
		c.logger.Warn("publishing collection round failed", slog.String("error", err.Error()))
	}

	c.logger.Info("collection round done",
		slog.Int("symbols", len(bySymbol)),
		slog.Int("opportunities", len(opps)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return opps, nil
}

// fetchAll polls every venue concurrently and groups the samples by symbol.
func (c *Collector) fetchAll(ctx context.Context) (map[string][]domain.FundingRate, int, error) {
	results := make([][]domain.FundingRate, len(c.exchanges))
	var g errgroup.Group

	for i, ex := range c.exchanges {
		g.Go(func() error {
			rates, err := ex.FundingRates(ctx)
			if err != nil {
				metrics.CollectErrors.WithLabelValues(ex.Name()).Inc()
				c.logger.Warn("venue fetch failed",
					slog.String("exchange", ex.Name()),
					slog.String("error", err.Error()),
				)
				return nil
			}
			metrics.FundingRatesCollected.WithLabelValues(ex.Name()).Add(float64(len(rates)))
			results[i] = rates
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	bySymbol := make(map[string][]domain.FundingRate)
	venuesUp := 0
	for _, rates := range results {
		if rates == nil {
			continue
		}
		venuesUp++
		for _, r := range rates {
			bySymbol[r.Symbol] = append(bySymbol[r.Symbol], r)
		}
	}
	return bySymbol, venuesUp, nil
}

// pairAll builds at most one opportunity per symbol from the venue samples.
func (c *Collector) pairAll(bySymbol map[string][]domain.FundingRate) []domain.Opportunity {
	var opps []domain.Opportunity
	for symbol, rates := range bySymbol {
		if len(rates) < 2 {
			continue
		}
		opp, ok := pair(symbol, rates)
		if !ok {
			continue
		}
		metrics.OpportunitiesDetected.Inc()
		metrics.OpportunityNetAPR.Observe(opp.NetAPR)
		opps = append(opps, opp)
	}
	return opps
}

// pair picks the long leg on the venue paying longs the most and the short
// leg on the venue paying shorts the most. The long leg only contributes
// yield when its rate is negative, the short leg when positive.
func pair(symbol string, rates []domain.FundingRate) (domain.Opportunity, bool) {
	long := rates[0]
	short := rates[0]
	for _, r := range rates[1:] {
		if r.APR < long.APR {
			long = r
		}
		if r.APR > short.APR {
			short = r
		}
	}
	if long.Exchange == short.Exchange {
		return domain.Opportunity{}, false
	}

	netAPR := 0.0
	if long.Rate < 0 {
		netAPR += -long.APR
	}
	if short.Rate > 0 {
		netAPR += short.APR
	}

	rateSpread := short.Rate - long.Rate

	opp := domain.Opportunity{
		ID:            uuid.NewString(),
		Symbol:        symbol,
		LongExchange:  long.Exchange,
		ShortExchange: short.Exchange,
		LongRate:      long.Rate,
		ShortRate:     short.Rate,
		LongAPR:       long.APR,
		ShortAPR:      short.APR,
		NetAPR:        netAPR,
		RateSpread:    rateSpread,
		Confidence:    confidence(rateSpread, len(rates)),
		DetectedAt:    time.Now(),
	}
	if !opp.Viable() {
		return domain.Opportunity{}, false
	}
	return opp, true
}

// confidence scores how exploitable the spread looks: wider spreads and more
// confirming venues score higher, capped at 1.
func confidence(rateSpread float64, venues int) float64 {
	if rateSpread < 0 {
		rateSpread = -rateSpread
	}
	score := rateSpread * 1000
	if score > 1 {
		score = 1
	}
	score *= 1 + float64(venues-2)*0.1
	if score > 1 {
		score = 1
	}
	return score
}

// publish caches the round in Redis, persists samples to Postgres and emits
// the opportunity set on the signal bus.
func (c *Collector) publish(ctx context.Context, bySymbol map[string][]domain.FundingRate, opps []domain.Opportunity) error {
	var all []domain.FundingRate
	for _, rates := range bySymbol {
		all = append(all, rates...)
	}

	if err := c.rates.SetBatch(ctx, all); err != nil {
		return fmt.Errorf("collector: cache rates: %w", err)
	}
	if err := c.opps.Replace(ctx, opps, cacheTTL); err != nil {
		return fmt.Errorf("collector: cache opportunities: %w", err)
	}
	if c.store != nil {
		if err := c.store.InsertBatch(ctx, all); err != nil {
			return fmt.Errorf("collector: persist rates: %w", err)
		}
	}
	if c.bus != nil {
		payload := []byte(fmt.Sprintf(`{"event":"opportunities","count":%d}`, len(opps)))
		if err := c.bus.Publish(ctx, "opportunities", payload); err != nil {
			return fmt.Errorf("collector: publish opportunities: %w", err)
		}
	}
	return nil
}
