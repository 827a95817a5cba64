package trader

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valentinrey/fundingbot/internal/config"
	"github.com/valentinrey/fundingbot/internal/domain"
	"github.com/valentinrey/fundingbot/internal/portfolio"
)

// summaryStore counts SummarizeDay calls; everything else is inert.
type summaryStore struct {
	calls atomic.Int64
}

var _ domain.ArbPositionStore = (*summaryStore)(nil)

func (s *summaryStore) Create(context.Context, domain.ArbPosition) error { return nil }
func (s *summaryStore) Update(context.Context, domain.ArbPosition) error { return nil }
func (s *summaryStore) Close(context.Context, string, domain.CloseReason, string) error {
	return nil
}
func (s *summaryStore) GetByID(context.Context, string) (domain.ArbPosition, error) {
	return domain.ArbPosition{}, domain.ErrNotFound
}
func (s *summaryStore) GetOpen(context.Context) ([]domain.ArbPosition, error) { return nil, nil }
func (s *summaryStore) GetOpenBySymbol(context.Context, string) (domain.ArbPosition, error) {
	return domain.ArbPosition{}, domain.ErrNotFound
}
func (s *summaryStore) ListHistory(context.Context, domain.ListOpts) ([]domain.ArbPosition, error) {
	return nil, nil
}
func (s *summaryStore) SummarizeDay(_ context.Context, day time.Time) (domain.DailySummary, error) {
	s.calls.Add(1)
	return domain.DailySummary{Date: day.Format("2006-01-02")}, nil
}

func summaryTrader(t *testing.T, store domain.ArbPositionStore) *Trader {
	t.Helper()
	mon := portfolio.New(portfolio.Config{
		Positions: store,
		Trading:   config.Defaults().Trading,
		Logger:    slog.Default(),
	})
	return New(Config{
		Monitor: mon,
		Trading: config.Defaults().Trading,
		Logger:  slog.Default(),
	})
}

func TestSummaryFallbackSkipsCurrentDay(t *testing.T) {
	store := &summaryStore{}
	tr := summaryTrader(t, store)

	// lastSummaryDay is initialised to today, so the fallback is a no-op.
	tr.summaryFallback(context.Background())
	assert.Equal(t, int64(0), store.calls.Load())
}

func TestSummaryFallbackFiresAfterRollover(t *testing.T) {
	store := &summaryStore{}
	tr := summaryTrader(t, store)

	tr.summaryMu.Lock()
	tr.lastSummaryDay = "2026-08-28"
	tr.summaryMu.Unlock()

	tr.summaryFallback(context.Background())
	require.Equal(t, int64(1), store.calls.Load())

	// The fallback records the day it ran, so a second pass is a no-op.
	tr.summaryFallback(context.Background())
	assert.Equal(t, int64(1), store.calls.Load())
}

func TestDailySummaryConcurrentWithFallback(t *testing.T) {
	store := &summaryStore{}
	tr := summaryTrader(t, store)

	// The cron goroutine and the cycle loop both touch lastSummaryDay;
	// hammer them together so the race detector can observe the pairing.
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			tr.dailySummary(context.Background())
		}()
		go func() {
			defer wg.Done()
			tr.summaryFallback(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, time.Now().UTC().Format("2006-01-02"), func() string {
		tr.summaryMu.Lock()
		defer tr.summaryMu.Unlock()
		return tr.lastSummaryDay
	}())
}
