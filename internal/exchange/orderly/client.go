// Package orderly implements the WooFi Pro connector on the Orderly Network
// REST API.
package orderly

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

// fundingPeriodsPerYear annualises the 8-hour funding rate: 3 payments a day,
// 365 days.
const fundingPeriodsPerYear = 1095

// Client is the REST client for WooFi Pro (Orderly Network).
type Client struct {
	baseURL    string
	accountID  string
	orderlyKey string
	signer     *signer
	httpClient *http.Client

	mu      sync.RWMutex
	markets map[string]marketInfoRow // canonical symbol -> contract specs
}

// NewClient creates a new WooFi Pro client from the Orderly credentials.
func NewClient(cfg config.OrderlyConfig) (*Client, error) {
	s, err := newSigner(cfg.SecretKey)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		accountID:  cfg.AccountID,
		orderlyKey: cfg.OrderlyKey,
		signer:     s,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		markets: make(map[string]marketInfoRow),
	}, nil
}

// Name returns the venue identifier.
func (c *Client) Name() string { return "orderly" }

// FundingRates returns current estimated funding for all Orderly perpetuals.
func (c *Client) FundingRates(ctx context.Context) ([]domain.FundingRate, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/v1/public/funding_rates", nil, false)
	if err != nil {
		return nil, fmt.Errorf("orderly: get funding rates: %w", err)
	}

	var data fundingRatesData
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("orderly: decode funding rates: %w", err)
	}

	now := time.Now()
	rates := make([]domain.FundingRate, 0, len(data.Rows))
	for _, row := range data.Rows {
		rate := row.EstFundingRate
		if rate == 0 {
			rate = row.LastFundingRate
		}
		rates = append(rates, domain.FundingRate{
			Exchange:      c.Name(),
			Symbol:        normalizeSymbol(row.Symbol),
			Rate:          rate,
			APR:           rate * fundingPeriodsPerYear * 100,
			MarkPrice:     row.MarkPrice,
			OpenInterest:  row.OpenInterest,
			Volume24h:     row.Volume24h,
			NextFundingAt: time.UnixMilli(row.NextFundingTime),
			FetchedAt:     now,
		})
	}
	return rates, nil
}

// Balance returns the USDC collateral snapshot.
func (c *Client) Balance(ctx context.Context) (domain.Balance, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/v1/client/holding", nil, true)
	if err != nil {
		return domain.Balance{}, fmt.Errorf("orderly: get holding: %w", err)
	}

	var data holdingData
	if err := json.Unmarshal(body, &data); err != nil {
		return domain.Balance{}, fmt.Errorf("orderly: decode holding: %w", err)
	}

	bal := domain.Balance{Exchange: c.Name(), FetchedAt: time.Now()}
	for _, h := range data.Holding {
		if h.Token != "USDC" {
			continue
		}
		free := decimal.NewFromFloat(h.Holding)
		locked := decimal.NewFromFloat(h.Frozen)
		bal.FreeUSD = free
		bal.UsedMarginUSD = locked
		bal.TotalUSD = free.Add(locked)
	}
	return bal, nil
}

// Positions returns all open positions.
func (c *Client) Positions(ctx context.Context) ([]domain.ExchangePosition, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/v1/positions", nil, true)
	if err != nil {
		return nil, fmt.Errorf("orderly: get positions: %w", err)
	}

	var data positionsData
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("orderly: decode positions: %w", err)
	}

	var positions []domain.ExchangePosition
	for _, row := range data.Rows {
		if row.PositionQty == 0 {
			continue
		}
		side := domain.OrderSideBuy
		qty := row.PositionQty
		if qty < 0 {
			side = domain.OrderSideSell
			qty = -qty
		}
		pnl := row.UnrealizedPnL
		if pnl == 0 {
			pnl = row.UnsettledPnL
		}
		positions = append(positions, domain.ExchangePosition{
			Exchange:      c.Name(),
			Symbol:        normalizeSymbol(row.Symbol),
			Side:          side,
			Size:          decimal.NewFromFloat(qty),
			EntryPrice:    decimal.NewFromFloat(row.AverageOpenPrice),
			MarkPrice:     decimal.NewFromFloat(row.MarkPrice),
			UnrealizedPnL: decimal.NewFromFloat(pnl),
			Leverage:      int(row.Leverage),
		})
	}
	return positions, nil
}

// maxLeverage caps the per-symbol leverage setting.
const maxLeverage = 5

// SetLeverage configures cross leverage for a symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if leverage > maxLeverage {
		leverage = maxLeverage
	}
	req := leverageRequest{
		Symbol:   apiSymbol(symbol),
		Leverage: leverage,
	}
	if _, err := c.doRequest(ctx, http.MethodPost, "/v1/client/leverage", req, true); err != nil {
		return fmt.Errorf("orderly: set leverage %s: %w", symbol, err)
	}
	return nil
}

// PlaceMarketOrder submits a market order, rounding the quantity to the
// contract's base tick and enforcing the minimum order size.
func (c *Client) PlaceMarketOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	qty, err := c.roundQuantity(ctx, req.Symbol, req.Quantity)
	if err != nil {
		return domain.OrderResult{}, err
	}

	side := "BUY"
	if req.Side == domain.OrderSideSell {
		side = "SELL"
	}

	order := orderRequest{
		Symbol:        apiSymbol(req.Symbol),
		ClientOrderID: fmt.Sprintf("arb_%d_%s", time.Now().UnixMilli(), exchange.BaseSymbol(req.Symbol)),
		OrderType:     "MARKET",
		Side:          side,
		OrderQuantity: qty.String(),
		ReduceOnly:    req.ReduceOnly,
	}

	submitted := time.Now()
	body, err := c.doRequest(ctx, http.MethodPost, "/v1/order", order, true)
	if err != nil {
		return domain.OrderResult{
			Status:      domain.OrderStatusFailed,
			Message:     err.Error(),
			ShouldRetry: true,
			SubmittedAt: submitted,
		}, fmt.Errorf("orderly: place order %s: %w", req.Symbol, err)
	}

	var data orderData
	if err := json.Unmarshal(body, &data); err != nil {
		return domain.OrderResult{}, fmt.Errorf("orderly: decode order response: %w", err)
	}

	return domain.OrderResult{
		Success:     true,
		OrderID:     data.OrderID.String(),
		Status:      domain.OrderStatusFilled,
		FilledQty:   qty,
		SubmittedAt: submitted,
	}, nil
}

// ClosePosition flattens any open position on the symbol with a reduce-only
// market order. No open position is not an error.
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
			return fmt.Errorf("orderly: close position %s: %w", symbol, err)
		}
		return nil
	}
	return nil
}

// roundQuantity clamps the quantity to the contract's minimum order size and
// rounds down to the base tick.
func (c *Client) roundQuantity(ctx context.Context, symbol string, qty decimal.Decimal) (decimal.Decimal, error) {
	info, err := c.marketInfo(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}

	minSize := decimal.NewFromFloat(info.BaseMin)
	if qty.LessThan(minSize) {
		qty = minSize
	}
	if info.BaseTick > 0 {
		tick := decimal.NewFromFloat(info.BaseTick)
		qty = qty.Div(tick).Floor().Mul(tick)
	}
	if qty.IsZero() {
		return decimal.Zero, fmt.Errorf("orderly: quantity rounds to zero for %s: %w", symbol, domain.ErrInvalidOrder)
	}
	return qty, nil
}

// marketInfo returns contract specs for a symbol, loading the full instrument
// table on first use.
func (c *Client) marketInfo(ctx context.Context, symbol string) (marketInfoRow, error) {
	c.mu.RLock()
	info, ok := c.markets[symbol]
	c.mu.RUnlock()
	if ok {
		return info, nil
	}

	body, err := c.doRequest(ctx, http.MethodGet, "/v1/public/info", nil, false)
	if err != nil {
		return marketInfoRow{}, fmt.Errorf("orderly: get market info: %w", err)
	}

	var data marketInfoData
	if err := json.Unmarshal(body, &data); err != nil {
		return marketInfoRow{}, fmt.Errorf("orderly: decode market info: %w", err)
	}

	c.mu.Lock()
	for _, row := range data.Rows {
		c.markets[normalizeSymbol(row.Symbol)] = row
	}
	info, ok = c.markets[symbol]
	c.mu.Unlock()

	if !ok {
		return marketInfoRow{}, fmt.Errorf("orderly: unknown symbol %s: %w", symbol, domain.ErrNotFound)
	}
	return info, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doRequest builds, optionally signs, sends and reads an HTTP request against
// the Orderly API. Signed requests carry the orderly-* auth headers.
func (c *Client) doRequest(ctx context.Context, method, path string, reqBody any, signed bool) ([]byte, error) {
	var jsonBody []byte
	var bodyReader io.Reader
	if reqBody != nil {
		var err error
		jsonBody, err = json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if signed {
		timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
		req.Header.Set("orderly-timestamp", timestamp)
		req.Header.Set("orderly-account-id", c.accountID)
		req.Header.Set("orderly-key", c.orderlyKey)
		req.Header.Set("orderly-signature", c.signer.Sign(timestamp, method, path, string(jsonBody)))
	}

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
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnauthorized, truncate(respBody))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(respBody))
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if !env.Success {
		return nil, fmt.Errorf("api error %d: %s", env.Code, env.Message)
	}
	return env.Data, nil
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

// normalizeSymbol converts an Orderly instrument name to the canonical form:
// "PERP_BTC_USDC" -> "BTC-PERP".
func normalizeSymbol(apiSym string) string {
	parts := strings.Split(apiSym, "_")
	if len(parts) >= 3 && parts[0] == "PERP" {
		return exchange.CanonicalSymbol(parts[1])
	}
	return strings.ReplaceAll(apiSym, "_", "-")
}

// apiSymbol converts a canonical symbol to the Orderly instrument name:
// "BTC-PERP" -> "PERP_BTC_USDC".
func apiSymbol(symbol string) string {
	if strings.HasSuffix(symbol, "-PERP") {
		return "PERP_" + exchange.BaseSymbol(symbol) + "_USDC"
	}
	return strings.ReplaceAll(symbol, "-", "_")
}

// Compile-time interface check.
var _ exchange.Exchange = (*Client)(nil)
