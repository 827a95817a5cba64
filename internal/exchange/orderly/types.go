package orderly

import "encoding/json"

// envelope is the common Orderly response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type fundingRateRow struct {
	Symbol          string  `json:"symbol"`
	EstFundingRate  float64 `json:"est_funding_rate"`
	LastFundingRate float64 `json:"last_funding_rate"`
	NextFundingTime int64   `json:"next_funding_time"` // epoch millis
	MarkPrice       float64 `json:"mark_price"`
	OpenInterest    float64 `json:"open_interest"`
	Volume24h       float64 `json:"24h_volume"`
}

type fundingRatesData struct {
	Rows []fundingRateRow `json:"rows"`
}

type marketInfoRow struct {
	Symbol      string  `json:"symbol"`
	BaseMin     float64 `json:"base_min"`
	BaseTick    float64 `json:"base_tick"`
	QuoteTick   float64 `json:"quote_tick"`
	MinNotional float64 `json:"min_notional"`
	MaxLeverage float64 `json:"max_leverage"`
}

type marketInfoData struct {
	Rows []marketInfoRow `json:"rows"`
}

type positionRow struct {
	Symbol           string  `json:"symbol"`
	PositionQty      float64 `json:"position_qty"`
	AverageOpenPrice float64 `json:"average_open_price"`
	MarkPrice        float64 `json:"mark_price"`
	UnrealizedPnL    float64 `json:"unrealized_pnl"`
	UnsettledPnL     float64 `json:"unsettled_pnl"`
	Leverage         float64 `json:"leverage"`
}

type positionsData struct {
	Rows []positionRow `json:"rows"`
}

type holdingRow struct {
	Token   string  `json:"token"`
	Holding float64 `json:"holding"`
	Frozen  float64 `json:"frozen"`
}

type holdingData struct {
	Holding []holdingRow `json:"holding"`
}

type orderRequest struct {
	Symbol        string `json:"symbol"`
	ClientOrderID string `json:"client_order_id"`
	OrderType     string `json:"order_type"`
	Side          string `json:"side"`
	OrderQuantity string `json:"order_quantity"`
	ReduceOnly    bool   `json:"reduce_only,omitempty"`
}

type orderData struct {
	OrderID  json.Number `json:"order_id"`
	ClientID string      `json:"client_order_id"`
	Status   string      `json:"status"`
}

type leverageRequest struct {
	Symbol   string `json:"symbol"`
	Leverage int    `json:"leverage"`
}
