package matcher

import (
	"github.com/shopspring/decimal"
)

// Trade is the outcome of one match step between a taker and a resting
// maker. Base and Quote are the two settlement legs; Price is the maker's
// limit rate, which always sets the execution rate.
type Trade struct {
	MakerOrderID int64
	TakerOrderID int64
	MakerFilled  bool
	IsBuy        bool // Taker side.

	Base  decimal.Decimal
	Quote decimal.Decimal
	Price decimal.Decimal
}

// Result is the outcome of a match plan for one taker order. The plan is
// computed without mutating the book, so fill-or-kill decisions and
// settlement can happen before any state changes.
type Result struct {
	Trades []Trade

	// RemainingIn and RemainingOut are the taker's unfilled amounts after
	// all planned trades execute.
	RemainingIn  decimal.Decimal
	RemainingOut decimal.Decimal
}

// TakerFilled returns true if the planned trades complete the taker, either
// by exhausting its input or by delivering its full requested output.
func (r Result) TakerFilled() bool {
	return r.RemainingIn.Sign() == 0 || r.RemainingOut.Sign() == 0
}
