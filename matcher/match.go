package matcher

import (
	"github.com/shopspring/decimal"

	"clob/book"
)

// Plan walks the opposite queue in priority order and computes the trades
// for the taker without mutating the book or the store. The scan stops at
// the first maker that does not cross since the queue is priority sorted.
func Plan(taker *book.Order, opp *book.Queue, scale int32) Result {
	r := Result{
		RemainingIn:  taker.RemainingIn(),
		RemainingOut: taker.RemainingOut(),
	}

	opp.Scan(func(maker *book.Order) bool {
		if !crosses(taker, maker) {
			return false
		}

		t, ok := size(taker, maker, r.RemainingIn, r.RemainingOut, scale)
		if !ok {
			return false
		}

		if taker.Side == book.SideBuy {
			r.RemainingIn = r.RemainingIn.Sub(t.Quote)
			r.RemainingOut = r.RemainingOut.Sub(t.Base)
		} else {
			r.RemainingIn = r.RemainingIn.Sub(t.Base)
			r.RemainingOut = r.RemainingOut.Sub(t.Quote)
		}
		r.Trades = append(r.Trades, t)

		return r.RemainingIn.IsPositive() && r.RemainingOut.IsPositive()
	})

	return r
}

// crosses returns true if the taker's limit rate is compatible with the
// maker's. Both prices are normalised quote-per-base, so a buy crosses when
// it pays at least what the sell requires.
func crosses(taker, maker *book.Order) bool {
	if taker.Side == book.SideBuy {
		return taker.Price.GreaterThanOrEqual(maker.Price)
	}

	return maker.Price.GreaterThanOrEqual(taker.Price)
}

// size computes the trade between the taker and one maker. Quantities are
// derived in base units at the maker's price. Whichever capacity binds
// contributes its exact remaining amount, so full fills close orders
// without rounding residue.
func size(taker, maker *book.Order, remIn, remOut decimal.Decimal, scale int32) (Trade, bool) {
	p := maker.Price

	var takerInCap, takerOutCap decimal.Decimal // Base units.
	if taker.Side == book.SideBuy {
		takerInCap = divFloor(remIn, p, scale)
		takerOutCap = remOut
	} else {
		takerInCap = remIn
		takerOutCap = divFloor(remOut, p, scale)
	}

	// A sell maker offers its remaining input in base, a buy maker wants
	// its remaining output in base.
	var makerCap decimal.Decimal
	if maker.Side == book.SideSell {
		makerCap = maker.RemainingIn()
	} else {
		makerCap = maker.RemainingOut()
	}

	base := decimal.Min(takerInCap, takerOutCap, makerCap)
	if base.Sign() <= 0 {
		return Trade{}, false
	}

	var quote decimal.Decimal
	switch {
	case base.Equal(makerCap):
		// Maker fully consumed; settle its exact remaining quote so it
		// receives precisely what it asked for.
		if maker.Side == book.SideSell {
			quote = maker.RemainingOut()
		} else {
			quote = maker.RemainingIn()
		}
	case taker.Side == book.SideBuy && base.Equal(takerInCap):
		// Taker spends its entire input.
		quote = remIn
	default:
		quote = base.Mul(p)
	}

	// Clamp the quote leg to both parties' remaining capacity; price
	// rounding can leave sub-scale dust on the exact branches.
	if taker.Side == book.SideBuy {
		quote = decimal.Min(quote, remIn, maker.RemainingOut())
	} else {
		quote = decimal.Min(quote, remOut, maker.RemainingIn())
	}

	return Trade{
		MakerOrderID: maker.ID,
		IsBuy:        taker.Side == book.SideBuy,
		Base:         base,
		Quote:        quote,
		Price:        p,
	}, true
}

// LimitPrice normalises an order's limit rate to quote-per-base. Buy rates
// round down and sell rates round up so rounding can never cross either
// side's stated minimum.
func LimitPrice(side book.Side, amountIn, amountOut decimal.Decimal, scale int32) decimal.Decimal {
	if side == book.SideBuy {
		return divFloor(amountIn, amountOut, scale)
	}

	return divCeil(amountOut, amountIn, scale)
}

// divFloor returns a/b rounded down to scale decimal places.
func divFloor(a, b decimal.Decimal, scale int32) decimal.Decimal {
	q := a.DivRound(b, scale)
	if q.Mul(b).GreaterThan(a) {
		q = q.Sub(decimal.New(1, -scale))
	}

	return q
}

// divCeil returns a/b rounded up to scale decimal places.
func divCeil(a, b decimal.Decimal, scale int32) decimal.Decimal {
	q := a.DivRound(b, scale)
	if q.Mul(b).LessThan(a) {
		q = q.Add(decimal.New(1, -scale))
	}

	return q
}
