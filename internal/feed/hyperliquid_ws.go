// Package feed streams live funding context from the Hyperliquid websocket
// so the cache stays fresher than the REST polling interval.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/valentinrey/fundingbot/internal/domain"
	"github.com/valentinrey/fundingbot/internal/exchange"
	"github.com/valentinrey/fundingbot/internal/metrics"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed between server messages before the
	// connection is considered dead.
	pongWait = 60 * time.Second

	// pingPeriod sends protocol pings at this interval. Must be less than
	// pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before reconnecting.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the backoff.
	maxReconnectDelay = 60 * time.Second

	hoursPerYear = 8760
)

// RateHandler is called for each funding update pushed by the venue.
type RateHandler func(ctx context.Context, rate domain.FundingRate)

// HyperliquidFeed subscribes to activeAssetCtx for a set of coins and feeds
// the funding cache between collection rounds. It reconnects with backoff.
type HyperliquidFeed struct {
	wsURL   string
	coins   []string
	cache   domain.FundingCache
	onRate  RateHandler
	logger  *slog.Logger
	dialer  websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewHyperliquidFeed creates a feed for the given canonical symbols
// ("BTC-PERP"). onRate may be nil.
func NewHyperliquidFeed(wsURL string, symbols []string, cache domain.FundingCache, onRate RateHandler, logger *slog.Logger) *HyperliquidFeed {
	coins := make([]string, 0, len(symbols))
	for _, s := range symbols {
		coins = append(coins, exchange.BaseSymbol(s))
	}
	return &HyperliquidFeed{
		wsURL:  wsURL,
		coins:  coins,
		cache:  cache,
		onRate: onRate,
		logger: logger.With(slog.String("component", "hyperliquid_feed")),
		dialer: websocket.Dialer{HandshakeTimeout: 15 * time.Second},
	}
}

// Run connects and processes messages until ctx is cancelled, reconnecting
// with exponential backoff on failure.
func (f *HyperliquidFeed) Run(ctx context.Context) error {
	if len(f.coins) == 0 {
		f.logger.Info("no symbols to subscribe, feed idle")
		<-ctx.Done()
		return ctx.Err()
	}

	delay := reconnectDelay
	for {
		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		metrics.WSReconnects.WithLabelValues("hyperliquid").Inc()
		f.logger.Warn("feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

type wsCommand struct {
	Method       string         `json:"method"`
	Subscription map[string]any `json:"subscription,omitempty"`
}

type wsMessage struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type assetCtxData struct {
	Coin string `json:"coin"`
	Ctx  struct {
		Funding      string `json:"funding"`
		MarkPx       string `json:"markPx"`
		OpenInterest string `json:"openInterest"`
		DayNtlVlm    string `json:"dayNtlVlm"`
	} `json:"ctx"`
}

// runConnection dials, subscribes and reads until the connection drops.
func (f *HyperliquidFeed) runConnection(ctx context.Context) error {
	conn, _, err := f.dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
	defer conn.Close()

	for _, coin := range f.coins {
		cmd := wsCommand{
			Method:       "subscribe",
			Subscription: map[string]any{"type": "activeAssetCtx", "coin": coin},
		}
		if err := f.send(cmd); err != nil {
			return fmt.Errorf("feed: subscribe %s: %w", coin, err)
		}
	}
	f.logger.Info("feed subscribed", slog.Int("coins", len(f.coins)))

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go f.pingLoop(pingCtx)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: %w: %v", domain.ErrWSDisconnect, err)
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		f.handleMessage(ctx, raw)
	}
}

// pingLoop sends protocol pings; the server answers on the "pong" channel,
// which resets the read deadline like any other message.
func (f *HyperliquidFeed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.send(wsCommand{Method: "ping"}); err != nil {
				return
			}
		}
	}
}

func (f *HyperliquidFeed) send(cmd wsCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn == nil {
		return domain.ErrWSDisconnect
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return f.conn.WriteJSON(cmd)
}

func (f *HyperliquidFeed) handleMessage(ctx context.Context, raw []byte) {
	var msg wsMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		f.logger.Debug("undecodable message", slog.String("error", err.Error()))
		return
	}
	if msg.Channel != "activeAssetCtx" {
		return
	}

	var data assetCtxData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		f.logger.Debug("undecodable asset ctx", slog.String("error", err.Error()))
		return
	}

	rate, _ := strconv.ParseFloat(data.Ctx.Funding, 64)
	mark, _ := strconv.ParseFloat(data.Ctx.MarkPx, 64)
	oi, _ := strconv.ParseFloat(data.Ctx.OpenInterest, 64)
	vol, _ := strconv.ParseFloat(data.Ctx.DayNtlVlm, 64)

	now := time.Now()
	fr := domain.FundingRate{
		Exchange:      "hyperliquid",
		Symbol:        exchange.CanonicalSymbol(data.Coin),
		Rate:          rate,
		APR:           rate * hoursPerYear * 100,
		MarkPrice:     mark,
		OpenInterest:  oi,
		Volume24h:     vol,
		NextFundingAt: now.Truncate(time.Hour).Add(time.Hour),
		FetchedAt:     now,
	}

	if f.cache != nil {
		if err := f.cache.Set(ctx, fr); err != nil {
			f.logger.Debug("cache update failed", slog.String("error", err.Error()))
		}
	}
	if f.onRate != nil {
		f.onRate(ctx, fr)
	}
}
