package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valentinrey/fundingbot/internal/config"
	"github.com/valentinrey/fundingbot/internal/domain"
)

type stubSender struct {
	name   string
	err    error
	titles []string
}

func (s *stubSender) Send(ctx context.Context, title, message string) error {
	if s.err != nil {
		return s.err
	}
	s.titles = append(s.titles, title)
	return nil
}

func (s *stubSender) Name() string { return s.name }

func TestNotifyEventFilter(t *testing.T) {
	sender := &stubSender{name: "stub"}
	n := New([]Sender{sender}, []string{EventPositionOpened}, slog.Default())

	require.NoError(t, n.Notify(context.Background(), EventPositionOpened, "opened", "body"))
	require.NoError(t, n.Notify(context.Background(), EventRollback, "rollback", "body"))

	// The rollback event is filtered; only the open alert went out.
	assert.Equal(t, []string{"opened"}, sender.titles)
}

func TestNotifyAllIgnoresFilter(t *testing.T) {
	sender := &stubSender{name: "stub"}
	n := New([]Sender{sender}, []string{EventDailySummary}, slog.Default())

	require.NoError(t, n.NotifyAll(context.Background(), "urgent", "body"))
	assert.Equal(t, []string{"urgent"}, sender.titles)
}

func TestNotifyEmptyFilterAllowsEverything(t *testing.T) {
	sender := &stubSender{name: "stub"}
	n := New([]Sender{sender}, nil, slog.Default())

	require.NoError(t, n.Notify(context.Background(), EventError, "boom", "body"))
	assert.Len(t, sender.titles, 1)
}

func TestNotifyOneFailingSenderDoesNotBlockOthers(t *testing.T) {
	broken := &stubSender{name: "telegram", err: errors.New("api down")}
	healthy := &stubSender{name: "discord"}
	n := New([]Sender{broken, healthy}, nil, slog.Default())

	err := n.Notify(context.Background(), EventError, "boom", "body")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram: api down")
	assert.Len(t, healthy.titles, 1)
}

func TestNotifierNoSendersIsNoop(t *testing.T) {
	n := FromConfig(config.NotifyConfig{}, slog.Default())
	assert.NoError(t, n.Notify(context.Background(), EventError, "boom", "body"))
}

func TestTelegramSend(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottoken123/sendMessage", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("token123", "chat42")
	s.apiBase = srv.URL

	err := s.Send(context.Background(), "Alert", "something happened")
	require.NoError(t, err)
	assert.Equal(t, "chat42", got["chat_id"])
	assert.Equal(t, "*Alert*\nsomething happened", got["text"])
	assert.Equal(t, "Markdown", got["parse_mode"])
}

func TestTelegramSendErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"ok":false,"description":"chat not found"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewTelegramSender("token123", "chat42")
	s.apiBase = srv.URL

	err := s.Send(context.Background(), "Alert", "body")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Contains(t, err.Error(), "chat not found")
}

func TestDiscordSend(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	err := s.Send(context.Background(), "Alert", "something happened")
	require.NoError(t, err)
	assert.Equal(t, "**Alert**\nsomething happened", got["content"])
}

func TestFormatPositionOpened(t *testing.T) {
	pos := domain.ArbPosition{
		Symbol:        "BTC-PERP",
		LongExchange:  "hyperliquid",
		ShortExchange: "orderly",
		CollateralUSD: decimal.NewFromInt(150),
		NotionalUSD:   decimal.NewFromInt(450),
		Leverage:      3,
		EntryAPR:      312.5,
	}
	title, msg := FormatPositionOpened(pos)
	assert.Equal(t, "Position opened: BTC-PERP", title)
	assert.Contains(t, msg, "Long hyperliquid / Short orderly")
	assert.Contains(t, msg, "150.00 USDC x3")
	assert.Contains(t, msg, "Entry APR: 312.5%")
}

func TestFormatDailySummary(t *testing.T) {
	title, msg := FormatDailySummary(domain.DailySummary{
		Date:               "2026-08-29",
		PositionsOpened:    3,
		PositionsClosed:    2,
		FundingReceivedUSD: 41.7,
		RealizedPnLUSD:     38.25,
		CapitalUtilization: 0.62,
		BestSymbol:         "SOL-PERP",
		BestSymbolAPR:      410,
	})
	assert.Equal(t, "Daily summary 2026-08-29", title)
	assert.Contains(t, msg, "Opened: 3 | Closed: 2")
	assert.Contains(t, msg, "Realized PnL: 38.25 USDC")
	assert.Contains(t, msg, "Capital utilization: 62%")
	assert.Contains(t, msg, "Best symbol: SOL-PERP (410.0% APR)")
}

func TestFormatDailySummaryOmitsEmptyBestSymbol(t *testing.T) {
	_, msg := FormatDailySummary(domain.DailySummary{Date: "2026-08-29"})
	assert.NotContains(t, msg, "Best symbol")
}
