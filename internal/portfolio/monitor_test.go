package portfolio

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valentinrey/fundingbot/internal/config"
	"github.com/valentinrey/fundingbot/internal/domain"
	"github.com/valentinrey/fundingbot/internal/exchange"
)

type fakePositions struct {
	open    []domain.ArbPosition
	updated []domain.ArbPosition
	openErr error
}

func (s *fakePositions) Create(ctx context.Context, pos domain.ArbPosition) error { return nil }

func (s *fakePositions) Update(ctx context.Context, pos domain.ArbPosition) error {
	s.updated = append(s.updated, pos)
	return nil
}

func (s *fakePositions) Close(ctx context.Context, id string, reason domain.CloseReason, pnlUSD string) error {
	return nil
}

func (s *fakePositions) GetByID(ctx context.Context, id string) (domain.ArbPosition, error) {
	return domain.ArbPosition{}, domain.ErrNotFound
}

func (s *fakePositions) GetOpen(ctx context.Context) ([]domain.ArbPosition, error) {
	return s.open, s.openErr
}

func (s *fakePositions) GetOpenBySymbol(ctx context.Context, symbol string) (domain.ArbPosition, error) {
	return domain.ArbPosition{}, domain.ErrNotFound
}

func (s *fakePositions) ListHistory(ctx context.Context, opts domain.ListOpts) ([]domain.ArbPosition, error) {
	return nil, nil
}

func (s *fakePositions) SummarizeDay(ctx context.Context, day time.Time) (domain.DailySummary, error) {
	return domain.DailySummary{Date: day.Format("2006-01-02")}, nil
}

var _ domain.ArbPositionStore = (*fakePositions)(nil)

type fakeCloser struct {
	closed map[string]domain.CloseReason
	err    error
}

func (c *fakeCloser) ClosePosition(ctx context.Context, pos domain.ArbPosition, reason domain.CloseReason) error {
	if c.err != nil {
		return c.err
	}
	if c.closed == nil {
		c.closed = map[string]domain.CloseReason{}
	}
	c.closed[pos.ID] = reason
	return nil
}

type fakeRates struct {
	rates map[string]domain.FundingRate // keyed exchange|symbol
}

func (c *fakeRates) Set(ctx context.Context, rate domain.FundingRate) error { return nil }

func (c *fakeRates) Get(ctx context.Context, exchange, symbol string) (domain.FundingRate, error) {
	r, ok := c.rates[exchange+"|"+symbol]
	if !ok {
		return domain.FundingRate{}, domain.ErrNotFound
	}
	return r, nil
}

func (c *fakeRates) GetSymbol(ctx context.Context, symbol string, exchanges []string) ([]domain.FundingRate, error) {
	return nil, nil
}

func (c *fakeRates) SetBatch(ctx context.Context, rates []domain.FundingRate) error { return nil }

type fakeVenue struct {
	name      string
	balance   domain.Balance
	positions []domain.ExchangePosition
	balErr    error
}

func (f *fakeVenue) Name() string { return f.name }

func (f *fakeVenue) FundingRates(ctx context.Context) ([]domain.FundingRate, error) {
	return nil, nil
}

func (f *fakeVenue) Balance(ctx context.Context) (domain.Balance, error) {
	return f.balance, f.balErr
}

func (f *fakeVenue) Positions(ctx context.Context) ([]domain.ExchangePosition, error) {
	return f.positions, nil
}

func (f *fakeVenue) SetLeverage(ctx context.Context, symbol string, leverage int) error { return nil }

func (f *fakeVenue) PlaceMarketOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	return domain.OrderResult{}, errors.New("not trading")
}

func (f *fakeVenue) ClosePosition(ctx context.Context, symbol string) error { return nil }

var _ exchange.Exchange = (*fakeVenue)(nil)

var testNow = time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

func testMonitor(t *testing.T, cfg Config) *Monitor {
	t.Helper()
	if cfg.Trading.CycleInterval.Duration == 0 {
		cfg.Trading = config.Defaults().Trading
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Positions == nil {
		cfg.Positions = &fakePositions{}
	}
	if cfg.Rates == nil {
		cfg.Rates = &fakeRates{}
	}
	if cfg.Closer == nil {
		cfg.Closer = &fakeCloser{}
	}
	m := New(cfg)
	m.now = func() time.Time { return testNow }
	return m
}

func openPosition(id string, entryAPR float64, age time.Duration) domain.ArbPosition {
	return domain.ArbPosition{
		ID:            id,
		Symbol:        "BTC-PERP",
		LongExchange:  "hyperliquid",
		ShortExchange: "orderly",
		CollateralUSD: decimal.NewFromInt(100),
		NotionalUSD:   decimal.NewFromInt(300),
		Leverage:      3,
		EntryAPR:      entryAPR,
		CurrentAPR:    entryAPR,
		Status:        domain.PositionStatusOpen,
		OpenedAt:      testNow.Add(-age),
	}
}

func TestDecayedAPR(t *testing.T) {
	tests := []struct {
		name     string
		entryAPR float64
		age      time.Duration
		want     float64
	}{
		{"fresh position keeps entry yield", 200, 0, 200},
		{"ten hours decays thirty percent", 200, 10 * time.Hour, 140},
		{"factor floors at 0.3", 200, 40 * time.Hour, 60},
		{"result floors at 20", 40, 30 * time.Hour, 20},
		{"two days old pins to floor", 1000, 48 * time.Hour, 20},
		{"beyond two days stays pinned", 1000, 72 * time.Hour, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, decayedAPR(tt.entryAPR, tt.age), 1e-9)
		})
	}
}

func TestShouldCloseRules(t *testing.T) {
	m := testMonitor(t, Config{})

	tests := []struct {
		name   string
		mutate func(*domain.ArbPosition)
		reason domain.CloseReason
		hit    bool
	}{
		{
			name:   "healthy position stays open",
			mutate: func(p *domain.ArbPosition) { p.CurrentAPR = 120 },
		},
		{
			name:   "inverted yield is a stop loss",
			mutate: func(p *domain.ArbPosition) { p.CurrentAPR = -15 },
			reason: domain.CloseReasonStopLoss,
			hit:    true,
		},
		{
			name: "loss past the limit",
			mutate: func(p *domain.ArbPosition) {
				p.PnLUSD = decimal.NewFromInt(-60)
			},
			reason: domain.CloseReasonMaxLoss,
			hit:    true,
		},
		{
			name: "paying out funding",
			mutate: func(p *domain.ArbPosition) {
				p.FundingReceivedUSD = decimal.NewFromInt(-35)
			},
			reason: domain.CloseReasonFundingFlip,
			hit:    true,
		},
		{
			name: "older than max age",
			mutate: func(p *domain.ArbPosition) {
				p.OpenedAt = testNow.Add(-49 * time.Hour)
			},
			reason: domain.CloseReasonTimeout,
			hit:    true,
		},
		{
			name:   "yield decayed below exit threshold",
			mutate: func(p *domain.ArbPosition) { p.CurrentAPR = 30 },
			reason: domain.CloseReasonAPRDecay,
			hit:    true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos := openPosition("p1", 200, time.Hour)
			tt.mutate(&pos)
			reason, hit := m.shouldClose(pos)
			assert.Equal(t, tt.hit, hit)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestShouldCloseUsesConfiguredStopLoss(t *testing.T) {
	cfg := Config{Trading: config.Defaults().Trading}
	cfg.Trading.StopLossAPR = -30
	m := testMonitor(t, cfg)

	// Above the configured stop: only the exit threshold fires.
	pos := openPosition("p1", 200, time.Hour)
	pos.CurrentAPR = -15
	reason, hit := m.shouldClose(pos)
	assert.True(t, hit)
	assert.Equal(t, domain.CloseReasonAPRDecay, reason)

	pos.CurrentAPR = -40
	reason, hit = m.shouldClose(pos)
	assert.True(t, hit)
	assert.Equal(t, domain.CloseReasonStopLoss, reason)
}

func TestShouldCloseSeverityOrder(t *testing.T) {
	m := testMonitor(t, Config{})

	// A position matching every rule reports the most severe one.
	pos := openPosition("p1", 200, 60*time.Hour)
	pos.CurrentAPR = -20
	pos.PnLUSD = decimal.NewFromInt(-100)
	pos.FundingReceivedUSD = decimal.NewFromInt(-100)

	reason, hit := m.shouldClose(pos)
	require.True(t, hit)
	assert.Equal(t, domain.CloseReasonStopLoss, reason)

	pos.CurrentAPR = 120
	reason, hit = m.shouldClose(pos)
	require.True(t, hit)
	assert.Equal(t, domain.CloseReasonMaxLoss, reason)

	pos.PnLUSD = decimal.Zero
	reason, hit = m.shouldClose(pos)
	require.True(t, hit)
	assert.Equal(t, domain.CloseReasonFundingFlip, reason)

	pos.FundingReceivedUSD = decimal.Zero
	reason, hit = m.shouldClose(pos)
	require.True(t, hit)
	assert.Equal(t, domain.CloseReasonTimeout, reason)
}

func TestLiveAPR(t *testing.T) {
	tests := []struct {
		name      string
		longRate  float64
		longAPR   float64
		shortRate float64
		shortAPR  float64
		want      float64
	}{
		{"both legs earning", -0.0001, -100, 0.0002, 200, 300},
		{"long leg flipped to paying", 0.0001, 100, 0.0002, 200, 100},
		{"short leg flipped to paying", -0.0001, -100, -0.0002, -200, -100},
		{"both legs paying", 0.0001, 100, -0.0002, -200, -300},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rates := &fakeRates{rates: map[string]domain.FundingRate{
				"hyperliquid|BTC-PERP": {Exchange: "hyperliquid", Symbol: "BTC-PERP", Rate: tt.longRate, APR: tt.longAPR},
				"orderly|BTC-PERP":     {Exchange: "orderly", Symbol: "BTC-PERP", Rate: tt.shortRate, APR: tt.shortAPR},
			}}
			m := testMonitor(t, Config{Rates: rates})

			pos := openPosition("p1", 300, time.Hour)
			apr, err := m.liveAPR(context.Background(), &pos)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, apr, 1e-9)
		})
	}
}

func TestRefreshFallsBackToDecay(t *testing.T) {
	// Empty cache: CurrentAPR comes from simulated decay of the entry level.
	m := testMonitor(t, Config{})

	pos := openPosition("p1", 200, 10*time.Hour)
	m.refresh(context.Background(), &pos)
	assert.InDelta(t, 140, pos.CurrentAPR, 1e-9)

	// One cycle of funding at the decayed APR on 300 notional.
	cycle := config.Defaults().Trading.CycleInterval.Duration
	want := 300 * 1.40 * cycle.Hours() / 8760
	got, _ := pos.FundingReceivedUSD.Float64()
	assert.InDelta(t, want, got, 1e-9)
}

func TestRefreshAccruesAtMostElapsed(t *testing.T) {
	m := testMonitor(t, Config{})

	// A position younger than one cycle only accrues for its actual age.
	pos := openPosition("p1", 200, 6*time.Minute)
	m.refresh(context.Background(), &pos)

	want := 300 * (pos.CurrentAPR / 100) * 0.1 / 8760
	got, _ := pos.FundingReceivedUSD.Float64()
	assert.InDelta(t, want, got, 1e-9)
}

func TestCheckClosesDecayedPositions(t *testing.T) {
	store := &fakePositions{open: []domain.ArbPosition{
		openPosition("healthy", 400, time.Hour),
		openPosition("stale", 40, 47*time.Hour),
	}}
	closer := &fakeCloser{}
	m := testMonitor(t, Config{Positions: store, Closer: closer})

	remaining, closed, err := m.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)
	assert.Equal(t, 1, closed)

	require.Len(t, closer.closed, 1)
	assert.Equal(t, domain.CloseReasonAPRDecay, closer.closed["stale"])

	// Both positions were refreshed and persisted before the exit decision.
	require.Len(t, store.updated, 2)
	assert.InDelta(t, decayedAPR(400, time.Hour), store.updated[0].CurrentAPR, 1e-9)
}

func TestCheckKeepsPositionOpenWhenCloseFails(t *testing.T) {
	store := &fakePositions{open: []domain.ArbPosition{
		openPosition("stale", 40, 47*time.Hour),
	}}
	closer := &fakeCloser{err: errors.New("venue down")}
	m := testMonitor(t, Config{Positions: store, Closer: closer})

	remaining, closed, err := m.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)
	assert.Equal(t, 0, closed)
}

func TestCheckPropagatesStoreError(t *testing.T) {
	store := &fakePositions{openErr: errors.New("db down")}
	m := testMonitor(t, Config{Positions: store})

	_, _, err := m.Check(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list open positions")
}

func TestCapitalUtilization(t *testing.T) {
	store := &fakePositions{open: []domain.ArbPosition{
		openPosition("p1", 200, time.Hour),
		openPosition("p2", 200, time.Hour),
	}}
	venues := map[string]exchange.Exchange{
		"hyperliquid": &fakeVenue{name: "hyperliquid", balance: domain.Balance{TotalUSD: decimal.NewFromInt(600)}},
		"orderly":     &fakeVenue{name: "orderly", balance: domain.Balance{TotalUSD: decimal.NewFromInt(400)}},
	}
	m := testMonitor(t, Config{Positions: store, Venues: venues})

	// 2 positions x 2 legs x 100 collateral against 1000 total.
	util, err := m.CapitalUtilization(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 0.4, util, 1e-9)
}

func TestCapitalUtilizationCappedAtOne(t *testing.T) {
	store := &fakePositions{open: []domain.ArbPosition{
		openPosition("p1", 200, time.Hour),
	}}
	venues := map[string]exchange.Exchange{
		"hyperliquid": &fakeVenue{name: "hyperliquid", balance: domain.Balance{TotalUSD: decimal.NewFromInt(50)}},
	}
	m := testMonitor(t, Config{Positions: store, Venues: venues})

	util, err := m.CapitalUtilization(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.0, util)
}

func TestCapitalUtilizationZeroBalance(t *testing.T) {
	m := testMonitor(t, Config{Venues: map[string]exchange.Exchange{}})

	util, err := m.CapitalUtilization(context.Background())
	require.NoError(t, err)
	assert.Zero(t, util)
}

type fakeBus struct {
	published map[string][][]byte
}

var _ domain.SignalBus = (*fakeBus)(nil)

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	if b.published == nil {
		b.published = make(map[string][][]byte)
	}
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func (b *fakeBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func TestCheckPublishesRefreshedPositions(t *testing.T) {
	store := &fakePositions{open: []domain.ArbPosition{openPosition("p1", 200, time.Hour)}}
	bus := &fakeBus{}
	m := testMonitor(t, Config{Positions: store, Bus: bus})

	_, _, err := m.Check(context.Background())
	require.NoError(t, err)

	require.Len(t, bus.published["positions"], 1)
	var pos domain.ArbPosition
	require.NoError(t, json.Unmarshal(bus.published["positions"][0], &pos))
	assert.Equal(t, "p1", pos.ID)
	assert.InDelta(t, decayedAPR(200, time.Hour), pos.CurrentAPR, 1e-9)
}
