package book

import (
	"time"

	"github.com/shopspring/decimal"
)

// Asset identifies one token of a trading pair.
type Asset string

type Type int

const (
	TypeUnknown Type = 0
	TypeLimit   Type = 1
	TypeIOC     Type = 2
	TypeFOK     Type = 3
)

type Side int

const (
	SideUnknown Side = 0
	SideBuy     Side = 1
	SideSell    Side = 2
)

type Status int

const (
	StatusUnknown   Status = 0
	StatusOpen      Status = 1
	StatusPartial   Status = 2
	StatusFilled    Status = 3
	StatusCancelled Status = 4
)

// Order is a standing intention to exchange AmountIn of AssetIn for at
// least AmountOut of AssetOut. Fill fields only ever advance, status only
// ever moves forward through the lifecycle.
type Order struct {
	ID     int64
	Trader string
	Type   Type
	Side   Side
	Status Status

	AssetIn   Asset
	AssetOut  Asset
	AmountIn  decimal.Decimal
	AmountOut decimal.Decimal

	// Price is the normalised quote-per-base limit rate, computed once at
	// creation and never recomputed.
	Price decimal.Decimal

	FilledIn  decimal.Decimal
	FilledOut decimal.Decimal

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (o Order) RemainingIn() decimal.Decimal {
	return o.AmountIn.Sub(o.FilledIn)
}

func (o Order) RemainingOut() decimal.Decimal {
	return o.AmountOut.Sub(o.FilledOut)
}

// Terminal returns true if the order reached a final status and may not be
// mutated further.
func (o Order) Terminal() bool {
	return o.Status == StatusFilled || o.Status == StatusCancelled
}
