package domain

import "time"

// SignalUrgency indicates how quickly a signal should be acted upon.
type SignalUrgency int

const (
	SignalUrgencyLow SignalUrgency = iota
	SignalUrgencyMedium
	SignalUrgencyHigh
	SignalUrgencyImmediate
)

// EntrySignal is emitted by the analyzer to request a dual-leg entry.
type EntrySignal struct {
	ID          string // UUID for dedup
	Source      string // "analyzer" or "manual"
	Opportunity Opportunity
	Urgency     SignalUrgency
	Reason      string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// BotStatus is a summary of the bot's current operational state.
type BotStatus struct {
	Mode            string
	UptimeSeconds   int64
	OpenPositions   int32
	LastCycleAt     time.Time
	LastCycleMillis int64
	CyclesCompleted int64
	WSConnected     bool
}

// DailySummary aggregates a UTC day of trading activity.
type DailySummary struct {
	Date               string // "2006-01-02"
	PositionsOpened    int
	PositionsClosed    int
	FundingReceivedUSD float64
	RealizedPnLUSD     float64
	CapitalUtilization float64 // fraction of total balance committed as margin
	BestSymbol         string
	BestSymbolAPR      float64
}
