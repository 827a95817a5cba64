package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionStatus tracks whether an arbitrage position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
)

// CloseReason records why a position was exited.
type CloseReason string

const (
	CloseReasonAPRDecay      CloseReason = "apr_decay"
	CloseReasonStopLoss      CloseReason = "stop_loss"
	CloseReasonTimeout       CloseReason = "timeout"
	CloseReasonMaxLoss       CloseReason = "max_loss"
	CloseReasonFundingFlip   CloseReason = "funding_flip"
	CloseReasonManual        CloseReason = "manual"
)

// ArbPosition is one delta-neutral funding arbitrage position: a long leg on
// LongExchange and a short leg of equal notional on ShortExchange.
type ArbPosition struct {
	ID            string
	Symbol        string
	LongExchange  string
	ShortExchange string

	CollateralUSD decimal.Decimal // margin committed per leg
	NotionalUSD   decimal.Decimal // collateral x leverage
	Leverage      int

	EntryAPR   float64
	CurrentAPR float64

	FundingReceivedUSD decimal.Decimal
	PnLUSD             decimal.Decimal

	Status      PositionStatus
	CloseReason CloseReason
	OpenedAt    time.Time
	ClosedAt    *time.Time
}

// Age returns how long the position has been open.
func (p ArbPosition) Age(now time.Time) time.Duration {
	return now.Sub(p.OpenedAt)
}

// ExchangePosition is a raw venue-side position as reported by an exchange.
type ExchangePosition struct {
	Exchange     string
	Symbol       string
	Side         OrderSide
	Size         decimal.Decimal // base quantity, always positive
	EntryPrice   decimal.Decimal
	MarkPrice    decimal.Decimal
	UnrealizedPnL decimal.Decimal
	Leverage     int
}

// Balance is a venue account snapshot.
type Balance struct {
	Exchange       string
	TotalUSD       decimal.Decimal
	FreeUSD        decimal.Decimal
	UsedMarginUSD  decimal.Decimal
	UnrealizedPnL  decimal.Decimal
	FetchedAt      time.Time
}
