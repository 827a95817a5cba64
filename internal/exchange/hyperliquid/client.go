// Package hyperliquid implements the Hyperliquid perpetuals connector on the
// native info/exchange REST API.
package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/valentinrey/fundingbot/internal/config"
	"github.com/valentinrey/fundingbot/internal/domain"
	"github.com/valentinrey/fundingbot/internal/exchange"
)

const (
	// hoursPerYear annualises the hourly funding rate.
	hoursPerYear = 8760

	// marketSlippage is applied to the mark price when emulating market
	// orders with aggressive IoC limits.
	marketSlippage = 0.002

	// maxLeverage caps the per-asset leverage setting.
	maxLeverage = 5

	// maxPriceDecimals bounds price precision: a perp price may carry at
	// most 6 - szDecimals decimal places.
	maxPriceDecimals = 6
)

type asset struct {
	index       int
	szDecimals  int
	maxLeverage int
}

// Client is the REST client for Hyperliquid.
type Client struct {
	baseURL       string
	walletAddress string
	signer        *signer
	httpClient    *http.Client

	mu     sync.RWMutex
	assets map[string]asset // canonical symbol -> asset specs
}

// NewClient creates a new Hyperliquid client. cfg.PrivateKey must hold the
// hex-encoded agent key; encrypted key files are resolved by the caller.
func NewClient(cfg config.HyperliquidConfig) (*Client, error) {
	s, err := newSigner(cfg.PrivateKey, strings.Contains(cfg.BaseURL, "testnet"))
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		walletAddress: cfg.WalletAddress,
		signer:        s,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		assets: make(map[string]asset),
	}, nil
}

// Name returns the venue identifier.
func (c *Client) Name() string { return "hyperliquid" }

// FundingRates returns current hourly funding for all perpetuals. The call
// also refreshes the cached asset table.
func (c *Client) FundingRates(ctx context.Context) ([]domain.FundingRate, error) {
	body, err := c.doInfo(ctx, infoRequest{Type: "metaAndAssetCtxs"})
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: get funding rates: %w", err)
	}

	var payload []json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil || len(payload) < 2 {
		return nil, fmt.Errorf("hyperliquid: decode metaAndAssetCtxs: %w", err)
	}

	var m meta
	if err := json.Unmarshal(payload[0], &m); err != nil {
		return nil, fmt.Errorf("hyperliquid: decode universe: %w", err)
	}
	var ctxs []assetCtx
	if err := json.Unmarshal(payload[1], &ctxs); err != nil {
		return nil, fmt.Errorf("hyperliquid: decode asset contexts: %w", err)
	}

	c.mu.Lock()
	for i, a := range m.Universe {
		c.assets[exchange.CanonicalSymbol(a.Name)] = asset{
			index:       i,
			szDecimals:  a.SzDecimals,
			maxLeverage: a.MaxLeverage,
		}
	}
	c.mu.Unlock()

	now := time.Now()
	nextHour := now.Truncate(time.Hour).Add(time.Hour)

	rates := make([]domain.FundingRate, 0, len(ctxs))
	for i, cx := range ctxs {
		if i >= len(m.Universe) {
			break
		}
		rate := parseFloat(cx.Funding)
		rates = append(rates, domain.FundingRate{
			Exchange:      c.Name(),
			Symbol:        exchange.CanonicalSymbol(m.Universe[i].Name),
			Rate:          rate,
			APR:           rate * hoursPerYear * 100,
			MarkPrice:     parseFloat(cx.MarkPx),
			OpenInterest:  parseFloat(cx.OpenInterest),
			Volume24h:     parseFloat(cx.DayNtlVlm),
			NextFundingAt: nextHour,
			FetchedAt:     now,
		})
	}
	return rates, nil
}

// Balance returns the perp account margin snapshot.
func (c *Client) Balance(ctx context.Context) (domain.Balance, error) {
	state, err := c.clearinghouse(ctx)
	if err != nil {
		return domain.Balance{}, err
	}

	total, _ := decimal.NewFromString(state.MarginSummary.AccountValue)
	used, _ := decimal.NewFromString(state.MarginSummary.TotalMarginUsed)
	free, _ := decimal.NewFromString(state.Withdrawable)

	return domain.Balance{
		Exchange:      c.Name(),
		TotalUSD:      total,
		FreeUSD:       free,
		UsedMarginUSD: used,
		FetchedAt:     time.Now(),
	}, nil
}

// Positions returns all open perp positions.
func (c *Client) Positions(ctx context.Context) ([]domain.ExchangePosition, error) {
	state, err := c.clearinghouse(ctx)
	if err != nil {
		return nil, err
	}

	var positions []domain.ExchangePosition
	for _, ap := range state.AssetPositions {
		szi, err := decimal.NewFromString(ap.Position.Szi)
		if err != nil || szi.IsZero() {
			continue
		}
		side := domain.OrderSideBuy
		if szi.IsNegative() {
			side = domain.OrderSideSell
		}
		entry, _ := decimal.NewFromString(ap.Position.EntryPx)
		pnl, _ := decimal.NewFromString(ap.Position.UnrealizedPnl)

		positions = append(positions, domain.ExchangePosition{
			Exchange:      c.Name(),
			Symbol:        exchange.CanonicalSymbol(ap.Position.Coin),
			Side:          side,
			Size:          szi.Abs(),
			EntryPrice:    entry,
			UnrealizedPnL: pnl,
			Leverage:      ap.Position.Leverage.Value,
		})
	}
	return positions, nil
}

// SetLeverage sets cross leverage for a symbol, clamped to both the venue
// asset maximum and the client cap.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	a, err := c.asset(ctx, symbol)
	if err != nil {
		return err
	}

	if leverage > maxLeverage {
		leverage = maxLeverage
	}
	if a.maxLeverage > 0 && leverage > a.maxLeverage {
		leverage = a.maxLeverage
	}

	action := leverageAction{
		Type:     "updateLeverage",
		Asset:    a.index,
		IsCross:  true,
		Leverage: leverage,
	}
	if _, err := c.doExchange(ctx, action); err != nil {
		return fmt.Errorf("hyperliquid: set leverage %s: %w", symbol, err)
	}
	return nil
}

// PlaceMarketOrder emulates a market order with an aggressive IoC limit:
// the limit price is the mark price moved by the slippage allowance in the
// trade direction.
func (c *Client) PlaceMarketOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	a, err := c.asset(ctx, req.Symbol)
	if err != nil {
		return domain.OrderResult{}, err
	}

	mark, err := c.markPrice(ctx, req.Symbol)
	if err != nil {
		return domain.OrderResult{}, err
	}

	isBuy := req.Side == domain.OrderSideBuy
	px := mark * (1 + marketSlippage)
	if !isBuy {
		px = mark * (1 - marketSlippage)
	}

	size := req.Quantity.RoundDown(int32(a.szDecimals))
	if size.IsZero() {
		return domain.OrderResult{}, fmt.Errorf("hyperliquid: size rounds to zero for %s: %w", req.Symbol, domain.ErrInvalidOrder)
	}

	action := orderAction{
		Type: "order",
		Orders: []wireOrder{{
			Asset:      a.index,
			IsBuy:      isBuy,
			Price:      formatPrice(px, a.szDecimals),
			Size:       size.String(),
			ReduceOnly: req.ReduceOnly,
			Type:       orderType{Limit: limitTif{Tif: "Ioc"}},
		}},
		Grouping: "na",
	}

	submitted := time.Now()
	body, err := c.doExchange(ctx, action)
	if err != nil {
		return domain.OrderResult{
			Status:      domain.OrderStatusFailed,
			Message:     err.Error(),
			ShouldRetry: true,
			SubmittedAt: submitted,
		}, fmt.Errorf("hyperliquid: place order %s: %w", req.Symbol, err)
	}

	var resp exchangeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OrderResult{}, fmt.Errorf("hyperliquid: decode order response: %w", err)
	}

	result := domain.OrderResult{SubmittedAt: submitted}
	for _, st := range resp.Response.Data.Statuses {
		switch {
		case st.Filled != nil:
			result.Success = true
			result.Status = domain.OrderStatusFilled
			result.OrderID = strconv.FormatInt(st.Filled.Oid, 10)
			result.FilledQty, _ = decimal.NewFromString(st.Filled.TotalSz)
			result.AvgFillPrice, _ = decimal.NewFromString(st.Filled.AvgPx)
		case st.Resting != nil:
			// IoC orders never rest; treat as unexpected partial state.
			result.Status = domain.OrderStatusPartial
			result.OrderID = strconv.FormatInt(st.Resting.Oid, 10)
		case st.Error != "":
			result.Status = domain.OrderStatusFailed
			result.Message = st.Error
			result.ShouldRetry = !strings.Contains(st.Error, "margin")
		}
	}
	if result.Status == domain.OrderStatusFailed {
		return result, fmt.Errorf("hyperliquid: order rejected %s: %s", req.Symbol, result.Message)
	}
	return result, nil
}

// ClosePosition flattens any open position on the symbol. No open position is
// not an error.
func (c *Client) ClosePosition(ctx context.Context, symbol string) error {
	positions, err := c.Positions(ctx)
	if err != nil {
		return err
	}

	for _, pos := range positions {
		if pos.Symbol != symbol {
			continue
		}
		_, err := c.PlaceMarketOrder(ctx, domain.OrderRequest{
			Symbol:     symbol,
			Side:       pos.Side.Opposite(),
			Quantity:   pos.Size,
			ReduceOnly: true,
		})
		if err != nil {
			return fmt.Errorf("hyperliquid: close position %s: %w", symbol, err)
		}
		return nil
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (c *Client) clearinghouse(ctx context.Context) (clearinghouseState, error) {
	body, err := c.doInfo(ctx, infoRequest{Type: "clearinghouseState", User: c.walletAddress})
	if err != nil {
		return clearinghouseState{}, fmt.Errorf("hyperliquid: get clearinghouse state: %w", err)
	}

	var state clearinghouseState
	if err := json.Unmarshal(body, &state); err != nil {
		return clearinghouseState{}, fmt.Errorf("hyperliquid: decode clearinghouse state: %w", err)
	}
	return state, nil
}

// asset resolves the venue asset specs for a canonical symbol, refreshing the
// universe on a miss.
func (c *Client) asset(ctx context.Context, symbol string) (asset, error) {
	c.mu.RLock()
	a, ok := c.assets[symbol]
	c.mu.RUnlock()
	if ok {
		return a, nil
	}

	if _, err := c.FundingRates(ctx); err != nil {
		return asset{}, err
	}

	c.mu.RLock()
	a, ok = c.assets[symbol]
	c.mu.RUnlock()
	if !ok {
		return asset{}, fmt.Errorf("hyperliquid: unknown symbol %s: %w", symbol, domain.ErrNotFound)
	}
	return a, nil
}

// markPrice returns the current mark price for a symbol.
func (c *Client) markPrice(ctx context.Context, symbol string) (float64, error) {
	body, err := c.doInfo(ctx, infoRequest{Type: "allMids"})
	if err != nil {
		return 0, fmt.Errorf("hyperliquid: get mids: %w", err)
	}

	var mids map[string]string
	if err := json.Unmarshal(body, &mids); err != nil {
		return 0, fmt.Errorf("hyperliquid: decode mids: %w", err)
	}

	mid, ok := mids[exchange.BaseSymbol(symbol)]
	if !ok {
		return 0, fmt.Errorf("hyperliquid: no mid for %s: %w", symbol, domain.ErrNotFound)
	}
	px := parseFloat(mid)
	if px <= 0 {
		return 0, fmt.Errorf("hyperliquid: bad mid price %q for %s", mid, symbol)
	}
	return px, nil
}

// doInfo posts a read-only query to the /info endpoint.
func (c *Client) doInfo(ctx context.Context, req infoRequest) ([]byte, error) {
	return c.post(ctx, "/info", req)
}

// doExchange signs an L1 action and posts it to the /exchange endpoint.
func (c *Client) doExchange(ctx context.Context, action any) ([]byte, error) {
	nonce := time.Now().UnixMilli()
	sig, err := c.signer.SignAction(action, nonce)
	if err != nil {
		return nil, err
	}

	body, err := c.post(ctx, "/exchange", exchangeRequest{
		Action:    action,
		Nonce:     nonce,
		Signature: sig,
	})
	if err != nil {
		return nil, err
	}

	var resp exchangeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode exchange response: %w", err)
	}
	if resp.Status != "ok" {
		return nil, fmt.Errorf("exchange error: %s", resp.Status)
	}
	return body, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, domain.ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, respBody)
	}
	return respBody, nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// formatPrice renders a price with at most 5 significant figures and at most
// 6 - szDecimals decimal places, the venue's tick rules.
func formatPrice(px float64, szDecimals int) string {
	rounded, _ := strconv.ParseFloat(strconv.FormatFloat(px, 'g', 5, 64), 64)
	maxDecimals := maxPriceDecimals - szDecimals
	if maxDecimals < 0 {
		maxDecimals = 0
	}
	d := decimal.NewFromFloat(rounded).Round(int32(maxDecimals))
	return d.String()
}

// Compile-time interface check.
var _ exchange.Exchange = (*Client)(nil)
