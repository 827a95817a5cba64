// Package analyzer filters and ranks collected opportunities and turns the
// survivors into entry signals.
package analyzer

import (
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/valentinrey/fundingbot/internal/config"
	"github.com/valentinrey/fundingbot/internal/domain"
	"github.com/valentinrey/fundingbot/internal/metrics"
)

// signalTTL bounds how long an entry signal stays actionable after analysis.
const signalTTL = 5 * time.Minute

// Analyzer ranks opportunities against the configured entry rules.
type Analyzer struct {
	cfg    config.TradingConfig
	logger *slog.Logger
	now    func() time.Time
}

// New creates an analyzer with the given trading parameters.
func New(cfg config.TradingConfig, logger *slog.Logger) *Analyzer {
	return &Analyzer{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "analyzer")),
		now:    time.Now,
	}
}

// Analyze filters, scores and sorts the opportunity set, returning at most
// MaxEntriesPerCycle candidates, best first.
func (a *Analyzer) Analyze(opps []domain.Opportunity) []domain.Opportunity {
	now := a.now()

	var kept []domain.Opportunity
	for _, opp := range opps {
		if reason := a.reject(opp, now); reason != "" {
			metrics.OpportunitiesRejected.WithLabelValues(reason).Inc()
			continue
		}
		opp.Priority = priority(opp)
		opp.RiskScore = riskScore(opp)
		opp.EstProfitPerDayUSD = a.estProfitPerDay(opp)
		kept = append(kept, opp)
	}

	sort.Slice(kept, func(i, j int) bool {
		return kept[i].Priority > kept[j].Priority
	})

	if max := a.cfg.MaxEntriesPerCycle; max > 0 && len(kept) > max {
		kept = kept[:max]
	}

	a.logger.Debug("analysis done",
		slog.Int("in", len(opps)),
		slog.Int("out", len(kept)),
	)
	return kept
}

// reject returns a non-empty reason when the opportunity fails an entry rule.
func (a *Analyzer) reject(opp domain.Opportunity, now time.Time) string {
	if !opp.Viable() {
		return "invalid"
	}
	if opp.NetAPR < a.cfg.MinEntryAPR {
		return "apr_below_min"
	}
	if opp.Confidence < a.cfg.MinConfidence {
		return "low_confidence"
	}
	if tooCloseToFunding(now, a.cfg.FundingBuffer.Duration) {
		return "funding_imminent"
	}
	return ""
}

// tooCloseToFunding reports whether the next funding hour is inside the
// buffer window. Entering right before a payment risks paying the first
// funding instead of collecting it.
func tooCloseToFunding(now time.Time, buffer time.Duration) bool {
	if buffer <= 0 {
		return false
	}
	nextHour := now.Truncate(time.Hour).Add(time.Hour)
	return nextHour.Sub(now) < buffer
}

// priority weighs net APR by confidence. High-confidence pairs take the
// moderate boost; only the remainder with an extreme spread get doubled.
func priority(opp domain.Opportunity) float64 {
	switch {
	case opp.Confidence > 0.5:
		return opp.NetAPR * 1.5
	case opp.NetAPR > 500:
		return opp.NetAPR * 2.0
	default:
		return opp.NetAPR * opp.Confidence * 10
	}
}

// majorSymbols are the deep-liquidity perpetuals that earn the lower
// liquidity-risk weight.
var majorSymbols = map[string]bool{
	"BTC-PERP":  true,
	"ETH-PERP":  true,
	"SOL-PERP":  true,
	"AVAX-PERP": true,
}

// riskScore blends mean-reversion risk (extreme spreads collapse), confidence
// and liquidity into a 0..1 score. Informational only; no entry rule keys on
// it.
func riskScore(opp domain.Opportunity) float64 {
	aprRisk := opp.NetAPR / 1000
	if aprRisk > 0.4 {
		aprRisk = 0.4
	}
	confidenceRisk := (1 - opp.Confidence) * 0.5
	liquidityRisk := 0.2
	if majorSymbols[opp.Symbol] {
		liquidityRisk = 0.1
	}

	score := (aprRisk + confidenceRisk + liquidityRisk) / 3
	if score > 1 {
		score = 1
	}
	return score
}

// estProfitPerDay estimates the daily funding yield of the position this
// opportunity would open at the maximum collateral tier.
func (a *Analyzer) estProfitPerDay(opp domain.Opportunity) float64 {
	notional := a.cfg.MaxCollateralUSD * float64(a.cfg.Leverage)
	return notional * opp.NetAPR / 100 / 365
}

// Signals wraps ranked opportunities into entry signals for the executor.
func (a *Analyzer) Signals(opps []domain.Opportunity) []domain.EntrySignal {
	now := a.now()
	signals := make([]domain.EntrySignal, 0, len(opps))
	for _, opp := range opps {
		signals = append(signals, domain.EntrySignal{
			ID:          uuid.NewString(),
			Source:      "analyzer",
			Opportunity: opp,
			Urgency:     urgency(opp),
			Reason:      "funding spread",
			CreatedAt:   now,
			ExpiresAt:   now.Add(signalTTL),
		})
	}
	return signals
}

func urgency(opp domain.Opportunity) domain.SignalUrgency {
	switch {
	case opp.NetAPR > 500:
		return domain.SignalUrgencyImmediate
	case opp.NetAPR > 200:
		return domain.SignalUrgencyHigh
	case opp.Confidence > 0.5:
		return domain.SignalUrgencyMedium
	default:
		return domain.SignalUrgencyLow
	}
}
