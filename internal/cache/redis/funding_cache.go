package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/valentinrey/fundingbot/internal/domain"
)

// FundingCache implements domain.FundingCache using Redis hashes. Each sample
// is stored at key "funding:{exchange}:{symbol}" with one field per attribute,
// expiring after ttl so stale venue data never feeds the analyzer.
type FundingCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewFundingCache creates a FundingCache backed by the given Client. A zero
// ttl disables expiry.
func NewFundingCache(c *Client, ttl time.Duration) *FundingCache {
	return &FundingCache{rdb: c.Underlying(), ttl: ttl}
}

func fundingKey(exchange, symbol string) string {
	return "funding:" + exchange + ":" + symbol
}

// Set stores one funding-rate sample.
func (fc *FundingCache) Set(ctx context.Context, rate domain.FundingRate) error {
	key := fundingKey(rate.Exchange, rate.Symbol)
	pipe := fc.rdb.Pipeline()
	pipe.HSet(ctx, key, fundingFields(rate))
	if fc.ttl > 0 {
		pipe.Expire(ctx, key, fc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set funding %s/%s: %w", rate.Exchange, rate.Symbol, err)
	}
	return nil
}

// SetBatch stores many samples through a single pipeline.
func (fc *FundingCache) SetBatch(ctx context.Context, rates []domain.FundingRate) error {
	if len(rates) == 0 {
		return nil
	}
	pipe := fc.rdb.Pipeline()
	for _, r := range rates {
		key := fundingKey(r.Exchange, r.Symbol)
		pipe.HSet(ctx, key, fundingFields(r))
		if fc.ttl > 0 {
			pipe.Expire(ctx, key, fc.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set funding batch: %w", err)
	}
	return nil
}

// Get retrieves the latest cached sample for one exchange/symbol pair.
// It returns domain.ErrNotFound when the key does not exist.
func (fc *FundingCache) Get(ctx context.Context, exchange, symbol string) (domain.FundingRate, error) {
	vals, err := fc.rdb.HGetAll(ctx, fundingKey(exchange, symbol)).Result()
	if err != nil {
		return domain.FundingRate{}, fmt.Errorf("redis: get funding %s/%s: %w", exchange, symbol, err)
	}
	if len(vals) == 0 {
		return domain.FundingRate{}, domain.ErrNotFound
	}
	return parseFundingFields(exchange, symbol, vals)
}

// GetSymbol retrieves the cached samples for one symbol across the given
// exchanges using a pipeline. Exchanges without a cached sample are omitted.
func (fc *FundingCache) GetSymbol(ctx context.Context, symbol string, exchanges []string) ([]domain.FundingRate, error) {
	if len(exchanges) == 0 {
		return nil, nil
	}

	pipe := fc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(exchanges))
	for _, ex := range exchanges {
		cmds[ex] = pipe.HGetAll(ctx, fundingKey(ex, symbol))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get funding pipeline %s: %w", symbol, err)
	}

	rates := make([]domain.FundingRate, 0, len(exchanges))
	for _, ex := range exchanges {
		vals, err := cmds[ex].Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		r, err := parseFundingFields(ex, symbol, vals)
		if err != nil {
			continue
		}
		rates = append(rates, r)
	}
	return rates, nil
}

func fundingFields(r domain.FundingRate) map[string]interface{} {
	return map[string]interface{}{
		"rate":          strconv.FormatFloat(r.Rate, 'f', -1, 64),
		"apr":           strconv.FormatFloat(r.APR, 'f', -1, 64),
		"mark_price":    strconv.FormatFloat(r.MarkPrice, 'f', -1, 64),
		"open_interest": strconv.FormatFloat(r.OpenInterest, 'f', -1, 64),
		"volume_24h":    strconv.FormatFloat(r.Volume24h, 'f', -1, 64),
		"next_funding":  strconv.FormatInt(r.NextFundingAt.UnixNano(), 10),
		"fetched_at":    strconv.FormatInt(r.FetchedAt.UnixNano(), 10),
	}
}

func parseFundingFields(exchange, symbol string, vals map[string]string) (domain.FundingRate, error) {
	r := domain.FundingRate{Exchange: exchange, Symbol: symbol}

	var err error
	if r.Rate, err = strconv.ParseFloat(vals["rate"], 64); err != nil {
		return domain.FundingRate{}, fmt.Errorf("redis: parse funding rate %s/%s: %w", exchange, symbol, err)
	}
	if r.APR, err = strconv.ParseFloat(vals["apr"], 64); err != nil {
		return domain.FundingRate{}, fmt.Errorf("redis: parse funding apr %s/%s: %w", exchange, symbol, err)
	}
	r.MarkPrice, _ = strconv.ParseFloat(vals["mark_price"], 64)
	r.OpenInterest, _ = strconv.ParseFloat(vals["open_interest"], 64)
	r.Volume24h, _ = strconv.ParseFloat(vals["volume_24h"], 64)
	if ns, err := strconv.ParseInt(vals["next_funding"], 10, 64); err == nil && ns > 0 {
		r.NextFundingAt = time.Unix(0, ns)
	}
	if ns, err := strconv.ParseInt(vals["fetched_at"], 10, 64); err == nil && ns > 0 {
		r.FetchedAt = time.Unix(0, ns)
	}
	return r, nil
}

// Compile-time interface check.
var _ domain.FundingCache = (*FundingCache)(nil)
