// Package settle defines the settlement connector the engine moves funds
// through, and an in-memory ledger implementation of it.
package settle

import (
	"context"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/shopspring/decimal"

	"clob/book"
)

var ErrInsufficientFunds = errors.New("insufficient funds", j.C("ERR_2d9e6b10c84fa377"))

// Connector executes a single fund movement synchronously. The engine
// treats any error as aborting the operation that triggered the move.
type Connector interface {
	MoveFunds(ctx context.Context, payer, payee string, asset book.Asset, amount decimal.Decimal) error
}

// ConnectorFunc adapts a function to the Connector interface.
type ConnectorFunc func(ctx context.Context, payer, payee string, asset book.Asset, amount decimal.Decimal) error

func (f ConnectorFunc) MoveFunds(ctx context.Context, payer, payee string, asset book.Asset, amount decimal.Decimal) error {
	return f(ctx, payer, payee, asset, amount)
}
