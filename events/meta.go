package events

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// OrderMeta is the payload attached to order lifecycle events.
type OrderMeta struct {
	OrderID   int64           `json:"order_id"`
	Trader    string          `json:"trader"`
	Type      int             `json:"type"`
	Side      int             `json:"side"`
	Status    int             `json:"status"`
	AssetIn   string          `json:"asset_in"`
	AssetOut  string          `json:"asset_out"`
	AmountIn  decimal.Decimal `json:"amount_in"`
	AmountOut decimal.Decimal `json:"amount_out"`
	Price     decimal.Decimal `json:"price"`
	FilledIn  decimal.Decimal `json:"filled_in"`
	FilledOut decimal.Decimal `json:"filled_out"`
}

// TradeMeta is the payload attached to trade executed events.
type TradeMeta struct {
	MakerOrderID int64           `json:"maker_order_id"`
	TakerOrderID int64           `json:"taker_order_id"`
	MakerFilled  bool            `json:"maker_filled"`
	IsBuy        bool            `json:"is_buy"`
	Base         decimal.Decimal `json:"base"`
	Quote        decimal.Decimal `json:"quote"`
	Price        decimal.Decimal `json:"price"`
}

// ParseTradeMeta decodes a TradeMeta payload from event metadata.
func ParseTradeMeta(b []byte) (TradeMeta, error) {
	var m TradeMeta
	err := json.Unmarshal(b, &m)

	return m, err
}

// ParseOrderMeta decodes an OrderMeta payload from event metadata.
func ParseOrderMeta(b []byte) (OrderMeta, error) {
	var m OrderMeta
	err := json.Unmarshal(b, &m)

	return m, err
}
