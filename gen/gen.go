// Package gen provides functionality for generating orders easily.
package gen

import (
	"context"
	"math/rand"

	"github.com/google/uuid"
	"github.com/luno/jettison/errors"
	"github.com/shopspring/decimal"

	"clob"
	"clob/book"
	"clob/settle"
)

// Request defines an order generation request.
type Request struct {
	Rand *rand.Rand `yaml:"-"` // Rand for deterministic behaviour.

	Count   int `yaml:"count"`   // Number of orders to create.
	Traders int `yaml:"traders"` // Number of trader accounts to spread orders over.

	Type book.Type `yaml:"type"` // Type of orders to create.
	Buy  bool      `yaml:"buy"`  // Buys or sells.

	Amount       float64 `yaml:"amount"`        // Base amount to buy/sell.
	AmountStdDev float64 `yaml:"amount_stddev"` // Standard deviation amount fuzz (10% of amount is a good start).
	AmountScale  int     `yaml:"amount_scale"`  // Scale for base amounts.

	Price       float64 `yaml:"price"`        // Price to aim at.
	PriceStdDev float64 `yaml:"price_stddev"` // Standard deviation price fuzz (10% of price is a good start).
	PriceScale  int     `yaml:"price_scale"`  // Scale for prices/quote amounts.

	CancelProb float64 `yaml:"cancel_prob"` // Probability a limit order will be cancelled.
}

// GenOrders creates random orders against the exchange based on the
// request values, funding generated traders through the ledger.
func GenOrders(ctx context.Context, ex *clob.Exchange, ledger *settle.Ledger, req Request) error {
	base, quote := ex.Pair()

	n := req.Traders
	if n <= 0 {
		n = 1
	}

	// Fund each trader generously enough to cover its share of orders.
	baseFund := decimal.NewFromFloat((req.Amount + 10*req.AmountStdDev) * float64(req.Count))
	quoteFund := decimal.NewFromFloat((req.Amount + 10*req.AmountStdDev) *
		(req.Price + 10*req.PriceStdDev) * float64(req.Count))

	traders := make([]string, n)
	for i := range traders {
		traders[i] = uuid.New().String()
		ledger.Deposit(traders[i], base, baseFund)
		ledger.Deposit(traders[i], quote, quoteFund)
	}

	ch := make(chan rands, 1000)
	go genRands(req, ch)

	type cancel struct {
		id     int64
		trader string
	}
	var cancels []cancel

	for rnd := range ch {
		if rnd.BaseAmount.Sign() <= 0 || rnd.QuoteAmount.Sign() <= 0 {
			continue
		}

		trader := traders[int(rnd.Floats[3]*float64(len(traders)))%len(traders)]

		oreq := clob.OrderReq{
			Trader: trader,
			Type:   req.Type,
		}
		if req.Buy {
			oreq.Side = book.SideBuy
			oreq.AssetIn = quote
			oreq.AssetOut = base
			oreq.AmountIn = rnd.QuoteAmount
			oreq.AmountOut = rnd.BaseAmount
		} else {
			oreq.Side = book.SideSell
			oreq.AssetIn = base
			oreq.AssetOut = quote
			oreq.AmountIn = rnd.BaseAmount
			oreq.AmountOut = rnd.QuoteAmount
		}

		id, err := ex.PlaceOrder(ctx, oreq)
		if err != nil {
			return err
		}

		// Maybe add to future cancels.
		if req.Type == book.TypeLimit && rnd.Floats[0] < req.CancelProb {
			cancels = append(cancels, cancel{id: id, trader: trader})
		}

		// Maybe cancel one previous.
		if len(cancels) > 0 && rnd.Floats[1] < req.CancelProb {
			// Pick either head or tail.
			var c cancel
			if rnd.Floats[2] < 0.5 {
				c = cancels[0]
				cancels = cancels[1:]
			} else {
				last := len(cancels) - 1
				c = cancels[last]
				cancels = cancels[:last]
			}

			err := ex.CancelOrder(ctx, c.id, c.trader)
			if err != nil && !errors.Is(err, book.ErrAlreadyFinalized) {
				return err
			}
		}
	}

	return nil
}

type rands struct {
	BaseAmount  decimal.Decimal
	QuoteAmount decimal.Decimal

	// Floats provide 5 random floats for custom logic.
	Floats [5]float64
}

// genRands returns req.Count deterministic rands structs.
func genRands(req Request, ch chan<- rands) {
	for i := 0; i < req.Count; i++ {
		price, _ := fuzz(req.Rand, req.Price, req.PriceStdDev)
		vol, volDec := fuzz(req.Rand, req.Amount, req.AmountStdDev)

		if price <= 0 {
			price = req.Price
		}
		if vol <= 0 {
			vol = req.Amount
			volDec = decimal.NewFromFloat(vol)
		}

		volDec = volDec.Round(int32(req.AmountScale))
		quoteDec := decimal.NewFromFloat(vol * price).Round(int32(req.PriceScale))

		var floats [5]float64
		for k := range floats {
			floats[k] = req.Rand.Float64()
		}

		ch <- rands{
			BaseAmount:  volDec,
			QuoteAmount: quoteDec,
			Floats:      floats,
		}
	}

	close(ch)
}

func fuzz(r *rand.Rand, mean, stdDev float64) (float64, decimal.Decimal) {
	res := r.NormFloat64()*stdDev + mean
	return res, decimal.NewFromFloat(res)
}
