package matcher

import (
	"github.com/luno/jettison/errors"

	"clob/book"
)

// Commit applies a planned result to the store: it advances both parties'
// fills, stamps the taker id on each trade and eagerly removes filled
// makers from the opposite queue. Commit performs no external calls;
// settlement of all legs must complete before commit so the book never
// reflects unsettled trades.
func Commit(st *book.Store, opp *book.Queue, taker *book.Order, r *Result) error {
	for i := range r.Trades {
		t := &r.Trades[i]
		t.TakerOrderID = taker.ID

		maker, err := st.Get(t.MakerOrderID)
		if err != nil {
			return err
		}

		makerIn, makerOut := t.Base, t.Quote
		takerIn, takerOut := t.Quote, t.Base
		if taker.Side == book.SideSell {
			makerIn, makerOut = t.Quote, t.Base
			takerIn, takerOut = t.Base, t.Quote
		}

		err = st.ApplyFill(maker.ID, makerIn, makerOut)
		if err != nil {
			return errors.Wrap(err, "maker fill")
		}
		if maker.Terminal() {
			t.MakerFilled = true
			opp.Remove(maker)
		}

		err = st.ApplyFill(taker.ID, takerIn, takerOut)
		if err != nil {
			return errors.Wrap(err, "taker fill")
		}
	}

	return nil
}
