// Package domain defines the core types and interfaces of the funding-rate
// arbitrage bot: funding samples, opportunities, dual-leg positions, and the
// store/cache contracts their implementations satisfy.
package domain

import "time"

// FundingRate is one funding-rate sample for a perpetual on a single venue.
// Symbol is always in canonical form ("BTC-PERP"); Rate is the per-period
// funding rate as a fraction and APR its annualised percentage extrapolation
// (venue period length applied by the exchange client).
type FundingRate struct {
	Exchange      string
	Symbol        string
	Rate          float64
	APR           float64
	MarkPrice     float64
	OpenInterest  float64
	Volume24h     float64
	NextFundingAt time.Time
	FetchedAt     time.Time
}

// PaysLong reports whether holding a long position earns funding, i.e. the
// rate is negative and shorts pay longs.
func (f FundingRate) PaysLong() bool {
	return f.Rate < 0
}

// Opportunity is a funding-rate differential between two venues on one symbol.
// NetAPR is the combined annualised yield of holding the long leg on
// LongExchange and the short leg on ShortExchange.
type Opportunity struct {
	ID            string
	Symbol        string
	LongExchange  string
	ShortExchange string
	LongRate      float64
	ShortRate     float64
	LongAPR       float64
	ShortAPR      float64
	NetAPR        float64
	RateSpread    float64
	Confidence    float64
	Priority      float64
	// RiskScore grades the opportunity 0 (safe) to 1 (risky).
	RiskScore float64
	// EstProfitPerDayUSD assumes the configured collateral tier and leverage.
	EstProfitPerDayUSD float64
	DetectedAt         time.Time
}

// Viable applies the hard validity bounds on a candidate opportunity. The
// upper bound drops obviously broken venue data (delistings report absurd
// rates), the lower bound drops noise not worth the fees.
func (o Opportunity) Viable() bool {
	if o.LongExchange == "" || o.ShortExchange == "" || o.LongExchange == o.ShortExchange {
		return false
	}
	return o.NetAPR > 5 && o.NetAPR < 2000
}
