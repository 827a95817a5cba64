package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// FundingStore persists funding-rate samples for history and summaries.
type FundingStore interface {
	InsertBatch(ctx context.Context, rates []FundingRate) error
	ListBySymbol(ctx context.Context, symbol string, opts ListOpts) ([]FundingRate, error)
	Latest(ctx context.Context, exchange, symbol string) (FundingRate, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]FundingRate, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ArbPositionStore persists dual-leg arbitrage positions.
type ArbPositionStore interface {
	Create(ctx context.Context, pos ArbPosition) error
	Update(ctx context.Context, pos ArbPosition) error
	Close(ctx context.Context, id string, reason CloseReason, pnlUSD string) error
	GetByID(ctx context.Context, id string) (ArbPosition, error)
	GetOpen(ctx context.Context) ([]ArbPosition, error)
	GetOpenBySymbol(ctx context.Context, symbol string) (ArbPosition, error)
	ListHistory(ctx context.Context, opts ListOpts) ([]ArbPosition, error)
	SummarizeDay(ctx context.Context, day time.Time) (DailySummary, error)
}

// ExecutionStore persists dual-leg executions and their legs.
type ExecutionStore interface {
	Create(ctx context.Context, exec Execution) error
	GetByID(ctx context.Context, id string) (Execution, error)
	ListRecent(ctx context.Context, limit int) ([]Execution, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]Execution, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
