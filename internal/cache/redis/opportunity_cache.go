package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/valentinrey/fundingbot/internal/domain"
)

const oppSetKey = "opps:current"

// OpportunityCache implements domain.OpportunityCache. The full opportunity
// set is replaced atomically each collection cycle: each opportunity is stored
// as JSON at "opp:{symbol}" and the symbol set lives in a separate key, all
// with the same TTL.
type OpportunityCache struct {
	rdb *redis.Client
}

// NewOpportunityCache creates an OpportunityCache backed by the given Client.
func NewOpportunityCache(c *Client) *OpportunityCache {
	return &OpportunityCache{rdb: c.Underlying()}
}

func oppKey(symbol string) string {
	return "opp:" + symbol
}

// Replace swaps in a new opportunity set. The previous set is removed in the
// same transaction so readers never observe a mix of two cycles.
func (oc *OpportunityCache) Replace(ctx context.Context, opps []domain.Opportunity, ttl time.Duration) error {
	prev, err := oc.rdb.SMembers(ctx, oppSetKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis: read opportunity set: %w", err)
	}

	pipe := oc.rdb.TxPipeline()
	for _, sym := range prev {
		pipe.Del(ctx, oppKey(sym))
	}
	pipe.Del(ctx, oppSetKey)

	for _, opp := range opps {
		data, err := json.Marshal(opp)
		if err != nil {
			return fmt.Errorf("redis: marshal opportunity %s: %w", opp.Symbol, err)
		}
		pipe.Set(ctx, oppKey(opp.Symbol), data, ttl)
		pipe.SAdd(ctx, oppSetKey, opp.Symbol)
	}
	if len(opps) > 0 && ttl > 0 {
		pipe.Expire(ctx, oppSetKey, ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: replace opportunities: %w", err)
	}
	return nil
}

// List returns all currently cached opportunities sorted by priority
// descending. Symbols whose entry expired between the set read and the
// pipeline read are skipped.
func (oc *OpportunityCache) List(ctx context.Context) ([]domain.Opportunity, error) {
	symbols, err := oc.rdb.SMembers(ctx, oppSetKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: list opportunity set: %w", err)
	}
	if len(symbols) == 0 {
		return nil, nil
	}

	pipe := oc.rdb.Pipeline()
	cmds := make([]*redis.StringCmd, len(symbols))
	for i, sym := range symbols {
		cmds[i] = pipe.Get(ctx, oppKey(sym))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: list opportunities pipeline: %w", err)
	}

	opps := make([]domain.Opportunity, 0, len(symbols))
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			continue
		}
		var opp domain.Opportunity
		if err := json.Unmarshal(data, &opp); err != nil {
			continue
		}
		opps = append(opps, opp)
	}

	sort.Slice(opps, func(i, j int) bool { return opps[i].Priority > opps[j].Priority })
	return opps, nil
}

// Get returns the cached opportunity for one symbol, or domain.ErrNotFound.
func (oc *OpportunityCache) Get(ctx context.Context, symbol string) (domain.Opportunity, error) {
	data, err := oc.rdb.Get(ctx, oppKey(symbol)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Opportunity{}, domain.ErrNotFound
		}
		return domain.Opportunity{}, fmt.Errorf("redis: get opportunity %s: %w", symbol, err)
	}

	var opp domain.Opportunity
	if err := json.Unmarshal(data, &opp); err != nil {
		return domain.Opportunity{}, fmt.Errorf("redis: decode opportunity %s: %w", symbol, err)
	}
	return opp, nil
}

// Compile-time interface check.
var _ domain.OpportunityCache = (*OpportunityCache)(nil)
