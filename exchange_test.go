package clob_test

import (
	"context"
	"testing"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/jtest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"clob"
	"clob/book"
	"clob/events"
	"clob/settle"
	"clob/trades"
)

const (
	btc = book.Asset("BTC")
	zar = book.Asset("ZAR")
)

func setup(t *testing.T, opts ...clob.Option) (context.Context, *clob.Exchange, *settle.Ledger) {
	t.Helper()

	ledger := settle.NewLedger()
	ex := clob.New(btc, zar, ledger, opts...)

	return context.Background(), ex, ledger
}

func TestFullCross(t *testing.T) {
	ctx, ex, ledger := setup(t)
	ledger.Deposit("alice", btc, d(100))
	ledger.Deposit("bob", zar, d(200))

	makerID, err := ex.PlaceOrder(ctx, sellReq("alice", 100, 200))
	jtest.Require(t, nil, err)
	require.Equal(t, []int64{makerID}, ex.SellQueue())

	takerID, err := ex.PlaceOrder(ctx, buyReq("bob", 200, 100))
	jtest.Require(t, nil, err)

	maker, err := ex.GetOrder(makerID)
	jtest.Require(t, nil, err)
	require.Equal(t, book.StatusFilled, maker.Status)

	taker, err := ex.GetOrder(takerID)
	jtest.Require(t, nil, err)
	require.Equal(t, book.StatusFilled, taker.Status)

	require.Empty(t, ex.SellQueue())
	require.Empty(t, ex.BuyQueue())

	// The seller holds exactly the 200 ZAR asked, the buyer the 100 BTC
	// bought, and the escrow account is flat.
	requireBalance(t, ledger, "alice", zar, 200)
	requireBalance(t, ledger, "alice", btc, 0)
	requireBalance(t, ledger, "bob", btc, 100)
	requireBalance(t, ledger, "bob", zar, 0)
	requireBalance(t, ledger, ex.Account(), btc, 0)
	requireBalance(t, ledger, ex.Account(), zar, 0)
}

func TestPartialFillRests(t *testing.T) {
	ctx, ex, ledger := setup(t)
	ledger.Deposit("alice", btc, d(200))
	ledger.Deposit("bob", zar, d(200))

	makerID, err := ex.PlaceOrder(ctx, sellReq("alice", 200, 400))
	jtest.Require(t, nil, err)

	_, err = ex.PlaceOrder(ctx, buyReq("bob", 200, 100))
	jtest.Require(t, nil, err)

	// Half the maker remains at its original queue position.
	maker, err := ex.GetOrder(makerID)
	jtest.Require(t, nil, err)
	require.Equal(t, book.StatusPartial, maker.Status)
	require.True(t, maker.RemainingIn().Equal(d(100)))
	require.Equal(t, []int64{makerID}, ex.SellQueue())

	requireBalance(t, ledger, "alice", zar, 200)
	requireBalance(t, ledger, "bob", btc, 100)

	// Cancelling the remainder refunds exactly the unfilled input.
	err = ex.CancelOrder(ctx, makerID, "alice")
	jtest.Require(t, nil, err)

	requireBalance(t, ledger, "alice", btc, 100)
	requireBalance(t, ledger, ex.Account(), btc, 0)
	require.Empty(t, ex.SellQueue())
}

func TestCancel(t *testing.T) {
	ledger := settle.NewLedger()
	conn := &countingConnector{inner: ledger}
	ex := clob.New(btc, zar, conn)
	ctx := context.Background()

	ledger.Deposit("alice", btc, d(100))

	id, err := ex.PlaceOrder(ctx, sellReq("alice", 100, 200))
	jtest.Require(t, nil, err)
	require.Equal(t, 1, conn.moves) // Escrow only.
	requireBalance(t, ledger, "alice", btc, 0)

	err = ex.CancelOrder(ctx, id, "alice")
	jtest.Require(t, nil, err)
	require.Equal(t, 2, conn.moves) // Exactly one refund.
	requireBalance(t, ledger, "alice", btc, 100)

	o, err := ex.GetOrder(id)
	jtest.Require(t, nil, err)
	require.Equal(t, book.StatusCancelled, o.Status)

	// Cancelling again is rejected without a second refund.
	err = ex.CancelOrder(ctx, id, "alice")
	jtest.Require(t, book.ErrAlreadyFinalized, err)
	require.Equal(t, 2, conn.moves)
}

func TestCancelUnauthorized(t *testing.T) {
	ctx, ex, ledger := setup(t)
	ledger.Deposit("alice", btc, d(100))

	id, err := ex.PlaceOrder(ctx, sellReq("alice", 100, 200))
	jtest.Require(t, nil, err)

	err = ex.CancelOrder(ctx, id, "mallory")
	jtest.Require(t, clob.ErrUnauthorized, err)

	o, err := ex.GetOrder(id)
	jtest.Require(t, nil, err)
	require.Equal(t, book.StatusOpen, o.Status)
	require.Equal(t, []int64{id}, ex.SellQueue())
}

func TestCancelNotFound(t *testing.T) {
	ctx, ex, _ := setup(t)

	err := ex.CancelOrder(ctx, 404, "alice")
	jtest.Require(t, book.ErrOrderNotFound, err)
}

func TestIOCUnmatched(t *testing.T) {
	ledger := settle.NewLedger()
	conn := &countingConnector{inner: ledger}
	ex := clob.New(btc, zar, conn)
	ctx := context.Background()

	ledger.Deposit("bob", zar, d(200))

	req := buyReq("bob", 200, 100)
	req.Type = book.TypeIOC
	id, err := ex.PlaceOrder(ctx, req)
	jtest.Require(t, nil, err)

	// Killed outright; no funds ever moved and nothing rests.
	require.Equal(t, 0, conn.moves)
	require.Empty(t, ex.BuyQueue())

	o, err := ex.GetOrder(id)
	jtest.Require(t, nil, err)
	require.Equal(t, book.StatusCancelled, o.Status)
	requireBalance(t, ledger, "bob", zar, 200)
}

func TestIOCPartial(t *testing.T) {
	ctx, ex, ledger := setup(t)
	ledger.Deposit("alice", btc, d(50))
	ledger.Deposit("bob", zar, d(200))

	_, err := ex.PlaceOrder(ctx, sellReq("alice", 50, 100))
	jtest.Require(t, nil, err)

	req := buyReq("bob", 200, 100)
	req.Type = book.TypeIOC
	id, err := ex.PlaceOrder(ctx, req)
	jtest.Require(t, nil, err)

	// The matched half executes, the residual cancels with a refund.
	o, err := ex.GetOrder(id)
	jtest.Require(t, nil, err)
	require.Equal(t, book.StatusCancelled, o.Status)
	require.Empty(t, ex.BuyQueue())

	requireBalance(t, ledger, "bob", btc, 50)
	requireBalance(t, ledger, "bob", zar, 100)
	requireBalance(t, ledger, "alice", zar, 100)
	requireBalance(t, ledger, ex.Account(), zar, 0)
}

func TestFOKKilled(t *testing.T) {
	ledger := settle.NewLedger()
	conn := &countingConnector{inner: ledger}
	ex := clob.New(btc, zar, conn)
	ctx := context.Background()

	ledger.Deposit("alice", btc, d(50))
	ledger.Deposit("bob", zar, d(200))

	_, err := ex.PlaceOrder(ctx, sellReq("alice", 50, 100))
	jtest.Require(t, nil, err)
	movesBefore := conn.moves

	req := buyReq("bob", 200, 100)
	req.Type = book.TypeFOK
	id, err := ex.PlaceOrder(ctx, req)
	jtest.Require(t, nil, err)

	// Insufficient liquidity kills the order before any settlement; the
	// resting maker is untouched.
	require.Equal(t, movesBefore, conn.moves)
	o, err := ex.GetOrder(id)
	jtest.Require(t, nil, err)
	require.Equal(t, book.StatusCancelled, o.Status)
	require.True(t, o.FilledIn.IsZero())
	require.Len(t, ex.SellQueue(), 1)
	requireBalance(t, ledger, "bob", zar, 200)
}

func TestFOKFilled(t *testing.T) {
	ctx, ex, ledger := setup(t)
	ledger.Deposit("alice", btc, d(100))
	ledger.Deposit("bob", zar, d(200))

	_, err := ex.PlaceOrder(ctx, sellReq("alice", 50, 100))
	jtest.Require(t, nil, err)
	_, err = ex.PlaceOrder(ctx, sellReq("alice", 50, 100))
	jtest.Require(t, nil, err)

	req := buyReq("bob", 200, 100)
	req.Type = book.TypeFOK
	id, err := ex.PlaceOrder(ctx, req)
	jtest.Require(t, nil, err)

	o, err := ex.GetOrder(id)
	jtest.Require(t, nil, err)
	require.Equal(t, book.StatusFilled, o.Status)
	require.Empty(t, ex.SellQueue())
	requireBalance(t, ledger, "bob", btc, 100)
	requireBalance(t, ledger, "alice", zar, 200)
}

func TestFOKFilledByOutput(t *testing.T) {
	ctx, ex, ledger := setup(t)
	ledger.Deposit("alice", btc, d(100))
	ledger.Deposit("bob", zar, d(300))

	_, err := ex.PlaceOrder(ctx, sellReq("alice", 100, 200))
	jtest.Require(t, nil, err)

	// A fill-or-kill matched at better than its limit completes once its
	// output target is met, so only part of its input is spent and the
	// rest is refunded. Full output delivery wins over spending the full
	// input; funds are conserved either way.
	req := buyReq("bob", 300, 100)
	req.Type = book.TypeFOK
	id, err := ex.PlaceOrder(ctx, req)
	jtest.Require(t, nil, err)

	o, err := ex.GetOrder(id)
	jtest.Require(t, nil, err)
	require.Equal(t, book.StatusFilled, o.Status)
	require.True(t, o.FilledIn.Equal(d(200)))
	require.True(t, o.FilledOut.Equal(d(100)))

	requireBalance(t, ledger, "bob", btc, 100)
	requireBalance(t, ledger, "bob", zar, 100)
	requireBalance(t, ledger, ex.Account(), zar, 0)
}

func TestMakerFilledByOutputRefund(t *testing.T) {
	ctx, ex, ledger := setup(t)
	ledger.Deposit("alice", btc, d(3))
	ledger.Deposit("bob", zar, dec("1.00000001"))

	// The sell's price rounds up, so its remaining output sits just below
	// price times remaining input and the quote leg clamps to it.
	makerID, err := ex.PlaceOrder(ctx, sellReq("alice", 3, 1))
	jtest.Require(t, nil, err)

	req := buyReq("bob", 0, 0)
	req.AmountIn = dec("1.00000001")
	req.AmountOut = dec("2.99999995")
	takerID, err := ex.PlaceOrder(ctx, req)
	jtest.Require(t, nil, err)

	// The maker completes by output with input to spare; both it and the
	// taker get their unspent escrow back in the same placement.
	maker, err := ex.GetOrder(makerID)
	jtest.Require(t, nil, err)
	require.Equal(t, book.StatusFilled, maker.Status)
	require.True(t, maker.RemainingIn().Equal(dec("0.00000005")))

	taker, err := ex.GetOrder(takerID)
	jtest.Require(t, nil, err)
	require.Equal(t, book.StatusFilled, taker.Status)

	require.True(t, ledger.Balance("alice", btc).Equal(dec("0.00000005")))
	require.True(t, ledger.Balance("alice", zar).Equal(d(1)))
	require.True(t, ledger.Balance("bob", btc).Equal(dec("2.99999995")))
	require.True(t, ledger.Balance("bob", zar).Equal(dec("0.00000001")))
	requireBalance(t, ledger, ex.Account(), btc, 0)
	requireBalance(t, ledger, ex.Account(), zar, 0)

	require.Empty(t, ex.SellQueue())
	require.Empty(t, ex.BuyQueue())
}

func TestValidation(t *testing.T) {
	ctx, ex, _ := setup(t)

	tests := []struct {
		name string
		req  clob.OrderReq
	}{
		{name: "missing trader", req: clob.OrderReq{
			AssetIn: zar, AssetOut: btc, AmountIn: d(1), AmountOut: d(1),
			Type: book.TypeLimit, Side: book.SideBuy,
		}},
		{name: "zero amount in", req: clob.OrderReq{
			Trader: "bob", AssetIn: zar, AssetOut: btc, AmountIn: d(0), AmountOut: d(1),
			Type: book.TypeLimit, Side: book.SideBuy,
		}},
		{name: "negative amount out", req: clob.OrderReq{
			Trader: "bob", AssetIn: zar, AssetOut: btc, AmountIn: d(1), AmountOut: d(-1),
			Type: book.TypeLimit, Side: book.SideBuy,
		}},
		{name: "identical assets", req: clob.OrderReq{
			Trader: "bob", AssetIn: zar, AssetOut: zar, AmountIn: d(1), AmountOut: d(1),
			Type: book.TypeLimit, Side: book.SideBuy,
		}},
		{name: "unknown type", req: clob.OrderReq{
			Trader: "bob", AssetIn: zar, AssetOut: btc, AmountIn: d(1), AmountOut: d(1),
			Side: book.SideBuy,
		}},
		{name: "unknown side", req: clob.OrderReq{
			Trader: "bob", AssetIn: zar, AssetOut: btc, AmountIn: d(1), AmountOut: d(1),
			Type: book.TypeLimit,
		}},
		{name: "buy offering base", req: clob.OrderReq{
			Trader: "bob", AssetIn: btc, AssetOut: zar, AmountIn: d(1), AmountOut: d(1),
			Type: book.TypeLimit, Side: book.SideBuy,
		}},
		{name: "sell offering quote", req: clob.OrderReq{
			Trader: "bob", AssetIn: zar, AssetOut: btc, AmountIn: d(1), AmountOut: d(1),
			Type: book.TypeLimit, Side: book.SideSell,
		}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := ex.PlaceOrder(ctx, test.req)
			jtest.Require(t, clob.ErrInvalidOrder, err)
		})
	}
}

func TestSettlementFailureAborts(t *testing.T) {
	ledger := settle.NewLedger()
	ledger.Deposit("alice", btc, d(100))
	ledger.Deposit("bob", zar, d(200))

	// Fail the third transfer: bob's escrow succeeds, the base trade leg
	// fails, and the escrow must reverse.
	conn := &failingConnector{inner: ledger, failAt: 3}
	ex := clob.New(btc, zar, conn)
	ctx := context.Background()

	makerID, err := ex.PlaceOrder(ctx, sellReq("alice", 100, 200))
	jtest.Require(t, nil, err)

	_, err = ex.PlaceOrder(ctx, buyReq("bob", 200, 100))
	jtest.Require(t, clob.ErrSettlementFailed, err)

	// The book is untouched and the taker's escrow was reversed.
	maker, err := ex.GetOrder(makerID)
	jtest.Require(t, nil, err)
	require.Equal(t, book.StatusOpen, maker.Status)
	require.True(t, maker.FilledIn.IsZero())
	require.Equal(t, []int64{makerID}, ex.SellQueue())
	require.Empty(t, ex.BuyQueue())

	requireBalance(t, ledger, "bob", zar, 200)
	requireBalance(t, ledger, ex.Account(), btc, 100)
}

func TestEventsAndTrades(t *testing.T) {
	elog := events.NewLog()
	ledger := settle.NewLedger()
	ex := clob.New(btc, zar, ledger,
		clob.WithEventLog(elog),
		clob.WithMetrics(clob.NewMetrics(prometheus.NewRegistry())),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ledger.Deposit("alice", btc, d(100))
	ledger.Deposit("bob", zar, d(200))

	_, err := ex.PlaceOrder(ctx, sellReq("alice", 100, 200))
	jtest.Require(t, nil, err)
	takerID, err := ex.PlaceOrder(ctx, buyReq("bob", 200, 100))
	jtest.Require(t, nil, err)

	// Two placements, one trade, the maker's fill and the taker's fill.
	require.Equal(t, 5, elog.Len())

	tlog := trades.NewLog()
	go func() {
		// Returns with the context error on cancel.
		_ = trades.Consume(ctx, elog, tlog)
	}()

	require.Eventually(t, func() bool {
		return len(tlog.List()) == 1
	}, time.Second*2, time.Millisecond*10)

	tr := tlog.List()[0]
	require.Equal(t, takerID, tr.TakerOrderID)
	require.True(t, tr.Base.Equal(d(100)))
	require.True(t, tr.Quote.Equal(d(200)))
	require.True(t, tr.IsBuy)
}

type countingConnector struct {
	inner settle.Connector
	moves int
}

func (c *countingConnector) MoveFunds(ctx context.Context, payer, payee string, asset book.Asset, amount decimal.Decimal) error {
	c.moves++
	return c.inner.MoveFunds(ctx, payer, payee, asset, amount)
}

type failingConnector struct {
	inner  settle.Connector
	failAt int
	calls  int
}

func (c *failingConnector) MoveFunds(ctx context.Context, payer, payee string, asset book.Asset, amount decimal.Decimal) error {
	c.calls++
	if c.calls == c.failAt {
		return errors.New("transfer rejected")
	}
	return c.inner.MoveFunds(ctx, payer, payee, asset, amount)
}

func buyReq(trader string, amountIn, amountOut int64) clob.OrderReq {
	return clob.OrderReq{
		Trader:    trader,
		AssetIn:   zar,
		AssetOut:  btc,
		AmountIn:  d(amountIn),
		AmountOut: d(amountOut),
		Type:      book.TypeLimit,
		Side:      book.SideBuy,
	}
}

func sellReq(trader string, amountIn, amountOut int64) clob.OrderReq {
	return clob.OrderReq{
		Trader:    trader,
		AssetIn:   btc,
		AssetOut:  zar,
		AmountIn:  d(amountIn),
		AmountOut: d(amountOut),
		Type:      book.TypeLimit,
		Side:      book.SideSell,
	}
}

func requireBalance(t *testing.T, l *settle.Ledger, account string, asset book.Asset, want int64) {
	t.Helper()
	got := l.Balance(account, asset)
	require.True(t, got.Equal(d(want)), "balance %s %s: got %s want %d", account, asset, got, want)
}

func d(i int64) decimal.Decimal {
	return decimal.NewFromInt(i)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
