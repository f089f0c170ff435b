package book

import (
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/shopspring/decimal"
)

var (
	ErrOrderNotFound    = errors.New("order not found", j.C("ERR_5f7a3c09d1b2e481"))
	ErrAlreadyFinalized = errors.New("order already finalised", j.C("ERR_8c41be72a90df513"))
)

// Store owns the canonical set of orders of one book keyed by id. Orders are
// never deleted; finalised orders are retained for queries.
//
// The store performs no external calls and assumes the caller serialises
// access.
type Store struct {
	orders map[int64]*Order
	nextID int64
}

func NewStore() *Store {
	return &Store{
		orders: make(map[int64]*Order),
		nextID: 1,
	}
}

type CreateReq struct {
	Trader    string
	Type      Type
	Side      Side
	AssetIn   Asset
	AssetOut  Asset
	AmountIn  decimal.Decimal
	AmountOut decimal.Decimal
	Price     decimal.Decimal
}

// Create inserts a new open order with zero fills and returns it. Ids are
// monotonically increasing from 1, so id order is also arrival order.
func (s *Store) Create(req CreateReq) *Order {
	o := &Order{
		ID:        s.nextID,
		Trader:    req.Trader,
		Type:      req.Type,
		Side:      req.Side,
		Status:    StatusOpen,
		AssetIn:   req.AssetIn,
		AssetOut:  req.AssetOut,
		AmountIn:  req.AmountIn,
		AmountOut: req.AmountOut,
		Price:     req.Price,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	s.nextID++
	s.orders[o.ID] = o

	return o
}

func (s *Store) Get(id int64) (*Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, errors.Wrap(ErrOrderNotFound, "", j.KV("order_id", id))
	}

	return o, nil
}

// ApplyFill advances an order's cumulative fills and recomputes its status.
// An order is filled once either its input or its output is exhausted; a
// taker matched at better than its limit rate completes by output.
func (s *Store) ApplyFill(id int64, deltaIn, deltaOut decimal.Decimal) error {
	o, err := s.Get(id)
	if err != nil {
		return err
	}
	if o.Terminal() {
		return errors.Wrap(ErrAlreadyFinalized, "", j.KV("order_id", id))
	}

	filledIn := o.FilledIn.Add(deltaIn)
	filledOut := o.FilledOut.Add(deltaOut)
	if filledIn.GreaterThan(o.AmountIn) || filledOut.GreaterThan(o.AmountOut) {
		return errors.New("fill exceeds order amount", j.KV("order_id", id))
	}

	o.FilledIn = filledIn
	o.FilledOut = filledOut
	if filledIn.Equal(o.AmountIn) || filledOut.Equal(o.AmountOut) {
		o.Status = StatusFilled
	} else {
		o.Status = StatusPartial
	}
	o.UpdatedAt = time.Now()

	return nil
}

// Cancel finalises an order. It rejects orders that already reached a
// terminal status, making cancellation idempotence checks trivial for
// callers.
func (s *Store) Cancel(id int64) error {
	o, err := s.Get(id)
	if err != nil {
		return err
	}
	if o.Terminal() {
		return errors.Wrap(ErrAlreadyFinalized, "", j.KV("order_id", id))
	}

	o.Status = StatusCancelled
	o.UpdatedAt = time.Now()

	return nil
}

// Len returns the total number of orders ever created.
func (s *Store) Len() int {
	return len(s.orders)
}
