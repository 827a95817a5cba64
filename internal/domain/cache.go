package domain

import (
	"context"
	"time"
)

// FundingCache provides fast access to the latest funding rates per venue.
type FundingCache interface {
	Set(ctx context.Context, rate FundingRate) error
	Get(ctx context.Context, exchange, symbol string) (FundingRate, error)
	GetSymbol(ctx context.Context, symbol string, exchanges []string) ([]FundingRate, error)
	SetBatch(ctx context.Context, rates []FundingRate) error
}

// OpportunityCache stores the current opportunity set, replaced each cycle.
type OpportunityCache interface {
	Replace(ctx context.Context, opps []Opportunity, ttl time.Duration) error
	List(ctx context.Context) ([]Opportunity, error)
	Get(ctx context.Context, symbol string) (Opportunity, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
