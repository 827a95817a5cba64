package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExecStatus is the outcome of a dual-leg entry or exit attempt.
type ExecStatus string

const (
	ExecStatusFilled     ExecStatus = "filled"
	ExecStatusRolledBack ExecStatus = "rolled_back"
	ExecStatusFailed     ExecStatus = "failed"
)

// ExecLeg is one venue-side order of an execution.
type ExecLeg struct {
	Exchange     string
	Side         OrderSide
	OrderID      string
	Quantity     decimal.Decimal
	AvgFillPrice decimal.Decimal
	FeeUSD       decimal.Decimal
	Status       OrderStatus
}

// Execution records one dual-leg entry or exit, including rollbacks after a
// partial fill.
type Execution struct {
	ID            string
	PositionID    string
	OpportunityID string
	Symbol        string
	Kind          string // "entry" or "exit"
	Legs          []ExecLeg
	NotionalUSD   decimal.Decimal
	Status        ExecStatus
	Error         string
	StartedAt     time.Time
	CompletedAt   *time.Time
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}
