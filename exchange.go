// Package clob implements a single-pair central limit order book: orders
// match under price-time priority with partial fills, and immediate-or-
// cancel and fill-or-kill semantics are enforced on placement.
package clob

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/luno/jettison/log"
	"github.com/shopspring/decimal"

	"clob/book"
	"clob/events"
	"clob/matcher"
	"clob/settle"
)

var (
	ErrInvalidOrder     = errors.New("invalid order", j.C("ERR_a1f2090b37c6de45"))
	ErrUnauthorized     = errors.New("requester does not own order", j.C("ERR_40d8512acb97fe63"))
	ErrSettlementFailed = errors.New("settlement failed", j.C("ERR_73b6f90412d8ca5e"))
)

// DefaultScale is the decimal precision of price normalisation and trade
// sizing divisions.
const DefaultScale = 8

// Exchange is the order book of one base/quote pair. All mutating calls
// are serialised on a single mutex held for the whole call, so no partial
// match is ever visible; reads take the same mutex and are therefore
// snapshot consistent. Separate pairs get separate Exchange instances and
// share no state.
type Exchange struct {
	base      book.Asset
	quote     book.Asset
	account   string
	scale     int32
	connector settle.Connector

	elog    *events.Log
	metrics *Metrics

	mu    sync.Mutex
	store *book.Store
	bids  *book.Queue
	asks  *book.Queue
}

type Option func(*Exchange)

// WithEventLog emits order lifecycle and trade events to the given log.
func WithEventLog(l *events.Log) Option {
	return func(e *Exchange) {
		e.elog = l
	}
}

func WithMetrics(m *Metrics) Option {
	return func(e *Exchange) {
		e.metrics = m
	}
}

func WithScale(scale int32) Option {
	return func(e *Exchange) {
		e.scale = scale
	}
}

// WithAccount overrides the book's escrow account identity.
func WithAccount(account string) Option {
	return func(e *Exchange) {
		e.account = account
	}
}

// New returns an exchange for one base/quote pair settling through the
// given connector.
func New(base, quote book.Asset, connector settle.Connector, opts ...Option) *Exchange {
	e := &Exchange{
		base:      base,
		quote:     quote,
		account:   "book:" + string(base) + "/" + string(quote),
		scale:     DefaultScale,
		connector: connector,
		store:     book.NewStore(),
		bids:      book.NewQueue(book.SideBuy),
		asks:      book.NewQueue(book.SideSell),
	}
	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Pair returns the book's base and quote assets.
func (e *Exchange) Pair() (base, quote book.Asset) {
	return e.base, e.quote
}

// Account returns the book's escrow account identity.
func (e *Exchange) Account() string {
	return e.account
}

// OrderReq specifies a new order: exchange AmountIn of AssetIn for at
// least AmountOut of AssetOut. Buys offer quote for base, sells the
// reverse.
type OrderReq struct {
	Trader    string
	AssetIn   book.Asset
	AssetOut  book.Asset
	AmountIn  decimal.Decimal
	AmountOut decimal.Decimal
	Type      book.Type
	Side      book.Side
}

// PlaceOrder validates and creates a new order, matches it against the
// opposite queue and applies the order type's residual policy: limit
// residuals rest, IOC residuals cancel with a refund and FOK orders are
// killed outright unless the plan fills them completely. It returns the
// new order's id.
//
// Settlement is all or nothing. Every leg of the placement (escrow, trade
// legs, refunds) settles before any book state mutates; a failed leg
// reverses the placement's earlier legs and returns ErrSettlementFailed
// with the book untouched.
func (e *Exchange) PlaceOrder(ctx context.Context, req OrderReq) (int64, error) {
	price, err := e.validate(req)
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	taker := &book.Order{
		Trader:    req.Trader,
		Type:      req.Type,
		Side:      req.Side,
		Status:    book.StatusOpen,
		AssetIn:   req.AssetIn,
		AssetOut:  req.AssetOut,
		AmountIn:  req.AmountIn,
		AmountOut: req.AmountOut,
		Price:     price,
	}

	own, opp := e.bids, e.asks
	if req.Side == book.SideSell {
		own, opp = e.asks, e.bids
	}

	r := matcher.Plan(taker, opp, e.scale)

	// Fill-or-kill is decided on the plan, before any settlement.
	if req.Type == book.TypeFOK && !r.TakerFilled() {
		return e.killOrder(ctx, req, price, "fok not fillable")
	}

	// An IOC with nothing to match never settles or rests.
	if req.Type == book.TypeIOC && len(r.Trades) == 0 {
		return e.killOrder(ctx, req, price, "ioc unmatched")
	}

	legs, err := e.buildLegs(req, r)
	if err != nil {
		return 0, err
	}
	err = e.settleAll(ctx, legs)
	if err != nil {
		return 0, err
	}

	o := e.store.Create(createReq(req, price))
	e.emitOrder(events.TypeOrderPlaced, o)

	err = matcher.Commit(e.store, opp, o, &r)
	if err != nil {
		return 0, err
	}

	for _, t := range r.Trades {
		e.emitTrade(t)

		maker, err := e.store.Get(t.MakerOrderID)
		if err != nil {
			return 0, err
		}
		if maker.Status == book.StatusFilled {
			e.emitOrder(events.TypeOrderFilled, maker)
		} else {
			e.emitOrder(events.TypePartialFill, maker)
		}
	}

	switch {
	case o.Status == book.StatusFilled:
		e.emitOrder(events.TypeOrderFilled, o)

	case req.Type == book.TypeLimit:
		// Rest the residual as a maker for future takers.
		own.Insert(o)
		if o.Status == book.StatusPartial {
			e.emitOrder(events.TypePartialFill, o)
		}

	default:
		// IOC residual cancels immediately; the refund already settled.
		err := e.store.Cancel(o.ID)
		if err != nil {
			return 0, err
		}
		e.emitOrder(events.TypeOrderCancelled, o)
	}

	if e.metrics != nil {
		e.metrics.ordersPlaced.Inc()
		e.metrics.tradesExecuted.Add(float64(len(r.Trades)))
		e.metrics.setDepth(e.bids.Len(), e.asks.Len())
	}

	log.Info(ctx, "order placed", j.MKV{
		"order_id": o.ID,
		"side":     int(req.Side),
		"type":     int(req.Type),
		"status":   int(o.Status),
		"trades":   len(r.Trades),
	})

	return o.ID, nil
}

// CancelOrder cancels an open or partially filled order, refunding the
// unfilled input to the trader. Only the order's owner may cancel;
// finalised orders return ErrAlreadyFinalized without any effect.
func (e *Exchange) CancelOrder(ctx context.Context, orderID int64, requester string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, err := e.store.Get(orderID)
	if err != nil {
		return err
	}
	if o.Trader != requester {
		return errors.Wrap(ErrUnauthorized, "", j.KV("order_id", orderID))
	}
	if o.Terminal() {
		return errors.Wrap(book.ErrAlreadyFinalized, "", j.KV("order_id", orderID))
	}

	refund := o.RemainingIn()
	if refund.IsPositive() {
		err := e.connector.MoveFunds(ctx, e.account, o.Trader, o.AssetIn, refund)
		if err != nil {
			return errors.Wrap(ErrSettlementFailed, "cancel refund", j.KV("order_id", orderID))
		}
	}

	if o.Side == book.SideBuy {
		e.bids.Remove(o)
	} else {
		e.asks.Remove(o)
	}

	err = e.store.Cancel(orderID)
	if err != nil {
		return err
	}

	e.emitOrder(events.TypeOrderCancelled, o)
	if e.metrics != nil {
		e.metrics.ordersCancelled.Inc()
		e.metrics.setDepth(e.bids.Len(), e.asks.Len())
	}

	log.Info(ctx, "order cancelled", j.KV("order_id", orderID))

	return nil
}

// GetOrder returns a snapshot of the order with the given id.
func (e *Exchange) GetOrder(orderID int64) (book.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, err := e.store.Get(orderID)
	if err != nil {
		return book.Order{}, err
	}

	return *o, nil
}

// BuyQueue returns the resting bid order ids in priority order.
func (e *Exchange) BuyQueue() []int64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.bids.IDs()
}

// SellQueue returns the resting ask order ids in priority order.
func (e *Exchange) SellQueue() []int64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.asks.IDs()
}

func (e *Exchange) validate(req OrderReq) (decimal.Decimal, error) {
	var zero decimal.Decimal

	if req.Trader == "" {
		return zero, errors.Wrap(ErrInvalidOrder, "missing trader")
	}
	if req.AssetIn == "" || req.AssetOut == "" {
		return zero, errors.Wrap(ErrInvalidOrder, "missing asset")
	}
	if req.AssetIn == req.AssetOut {
		return zero, errors.Wrap(ErrInvalidOrder, "identical assets")
	}
	if !req.AmountIn.IsPositive() || !req.AmountOut.IsPositive() {
		return zero, errors.Wrap(ErrInvalidOrder, "non-positive amount")
	}

	switch req.Type {
	case book.TypeLimit, book.TypeIOC, book.TypeFOK:
	default:
		return zero, errors.Wrap(ErrInvalidOrder, "unknown order type")
	}

	switch req.Side {
	case book.SideBuy:
		if req.AssetIn != e.quote || req.AssetOut != e.base {
			return zero, errors.Wrap(ErrInvalidOrder, "buy must offer quote for base")
		}
	case book.SideSell:
		if req.AssetIn != e.base || req.AssetOut != e.quote {
			return zero, errors.Wrap(ErrInvalidOrder, "sell must offer base for quote")
		}
	default:
		return zero, errors.Wrap(ErrInvalidOrder, "unknown side")
	}

	return matcher.LimitPrice(req.Side, req.AmountIn, req.AmountOut, e.scale), nil
}

// killOrder records an order rejected without any settlement and
// immediately cancels it.
func (e *Exchange) killOrder(ctx context.Context, req OrderReq, price decimal.Decimal, reason string) (int64, error) {
	o := e.store.Create(createReq(req, price))
	e.emitOrder(events.TypeOrderPlaced, o)

	err := e.store.Cancel(o.ID)
	if err != nil {
		return 0, err
	}
	e.emitOrder(events.TypeOrderCancelled, o)

	if e.metrics != nil {
		e.metrics.ordersPlaced.Inc()
		e.metrics.ordersCancelled.Inc()
	}

	log.Info(ctx, "order killed", j.MKV{"order_id": o.ID, "reason": reason})

	return o.ID, nil
}

type leg struct {
	payer  string
	payee  string
	asset  book.Asset
	amount decimal.Decimal
}

// buildLegs returns the settlement legs of a placement: the taker's escrow
// into the book account, both legs of every planned trade paid out of
// escrowed funds, and any refund of input the taker will never spend.
func (e *Exchange) buildLegs(req OrderReq, r matcher.Result) ([]leg, error) {
	legs := []leg{{
		payer:  req.Trader,
		payee:  e.account,
		asset:  req.AssetIn,
		amount: req.AmountIn,
	}}

	for _, t := range r.Trades {
		maker, err := e.store.Get(t.MakerOrderID)
		if err != nil {
			return nil, err
		}

		// Base flows to the buyer, quote to the seller.
		buyer, seller := req.Trader, maker.Trader
		if req.Side == book.SideSell {
			buyer, seller = maker.Trader, req.Trader
		}

		legs = append(legs,
			leg{payer: e.account, payee: buyer, asset: e.base, amount: t.Base},
			leg{payer: e.account, payee: seller, asset: e.quote, amount: t.Quote},
		)

		// A maker completing by output keeps unspent escrowed input; it
		// finalises with this placement, so refund the remainder now.
		makerDeltaIn, makerDeltaOut := t.Base, t.Quote
		if req.Side == book.SideSell {
			makerDeltaIn, makerDeltaOut = t.Quote, t.Base
		}
		makerRemIn := maker.RemainingIn().Sub(makerDeltaIn)
		makerRemOut := maker.RemainingOut().Sub(makerDeltaOut)
		if makerRemOut.Sign() == 0 && makerRemIn.IsPositive() {
			legs = append(legs, leg{
				payer:  e.account,
				payee:  maker.Trader,
				asset:  maker.AssetIn,
				amount: makerRemIn,
			})
		}
	}

	// IOC residuals and takers completed by output leave escrowed input
	// that will never be spent.
	var refund decimal.Decimal
	if req.Type != book.TypeLimit || r.TakerFilled() {
		refund = r.RemainingIn
	}
	if refund.IsPositive() {
		legs = append(legs, leg{
			payer:  e.account,
			payee:  req.Trader,
			asset:  req.AssetIn,
			amount: refund,
		})
	}

	return legs, nil
}

// settleAll executes legs in order. On failure it reverses the already
// executed legs (best effort) and returns ErrSettlementFailed.
func (e *Exchange) settleAll(ctx context.Context, legs []leg) error {
	for i, l := range legs {
		err := e.connector.MoveFunds(ctx, l.payer, l.payee, l.asset, l.amount)
		if err == nil {
			continue
		}

		for k := i - 1; k >= 0; k-- {
			rl := legs[k]
			rerr := e.connector.MoveFunds(ctx, rl.payee, rl.payer, rl.asset, rl.amount)
			if rerr != nil {
				log.Error(ctx, errors.Wrap(rerr, "reversing settlement leg"))
			}
		}

		return errors.Wrap(ErrSettlementFailed, "", j.MKV{
			"payer": l.payer, "payee": l.payee, "asset": string(l.asset),
		})
	}

	return nil
}

func (e *Exchange) emitOrder(typ events.Type, o *book.Order) {
	if e.elog == nil {
		return
	}

	b, err := json.Marshal(events.OrderMeta{
		OrderID:   o.ID,
		Trader:    o.Trader,
		Type:      int(o.Type),
		Side:      int(o.Side),
		Status:    int(o.Status),
		AssetIn:   string(o.AssetIn),
		AssetOut:  string(o.AssetOut),
		AmountIn:  o.AmountIn,
		AmountOut: o.AmountOut,
		Price:     o.Price,
		FilledIn:  o.FilledIn,
		FilledOut: o.FilledOut,
	})
	if err != nil {
		return
	}

	e.elog.Append(typ, o.ID, b)
}

func (e *Exchange) emitTrade(t matcher.Trade) {
	if e.elog == nil {
		return
	}

	b, err := json.Marshal(events.TradeMeta{
		MakerOrderID: t.MakerOrderID,
		TakerOrderID: t.TakerOrderID,
		MakerFilled:  t.MakerFilled,
		IsBuy:        t.IsBuy,
		Base:         t.Base,
		Quote:        t.Quote,
		Price:        t.Price,
	})
	if err != nil {
		return
	}

	e.elog.Append(events.TypeTradeExecuted, t.TakerOrderID, b)
}

func createReq(req OrderReq, price decimal.Decimal) book.CreateReq {
	return book.CreateReq{
		Trader:    req.Trader,
		Type:      req.Type,
		Side:      req.Side,
		AssetIn:   req.AssetIn,
		AssetOut:  req.AssetOut,
		AmountIn:  req.AmountIn,
		AmountOut: req.AmountOut,
		Price:     price,
	}
}
