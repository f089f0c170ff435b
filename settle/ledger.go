package settle

import (
	"context"
	"sync"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/shopspring/decimal"

	"clob/book"
)

// Ledger is an in-memory settlement backend tracking per-account balances.
// It is safe for concurrent use and never allows a balance below zero.
type Ledger struct {
	mu       sync.Mutex
	balances map[string]map[book.Asset]decimal.Decimal
}

func NewLedger() *Ledger {
	return &Ledger{
		balances: make(map[string]map[book.Asset]decimal.Decimal),
	}
}

// Deposit credits an account, creating it if needed.
func (l *Ledger) Deposit(account string, asset book.Asset, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.credit(account, asset, amount)
}

// Balance returns the current balance of an account.
func (l *Ledger) Balance(account string, asset book.Asset) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.balances[account][asset]
}

// MoveFunds implements Connector. Zero amounts are a no-op; it fails
// without effect if the payer's balance cannot cover the amount.
func (l *Ledger) MoveFunds(ctx context.Context, payer, payee string, asset book.Asset, amount decimal.Decimal) error {
	if amount.Sign() < 0 {
		return errors.New("negative settlement amount", j.KV("amount", amount.String()))
	}
	if amount.Sign() == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	bal := l.balances[payer][asset]
	if bal.LessThan(amount) {
		return errors.Wrap(ErrInsufficientFunds, "", j.MKV{
			"payer": payer, "asset": string(asset), "amount": amount.String(),
		})
	}

	l.balances[payer][asset] = bal.Sub(amount)
	l.credit(payee, asset, amount)

	return nil
}

func (l *Ledger) credit(account string, asset book.Asset, amount decimal.Decimal) {
	m, ok := l.balances[account]
	if !ok {
		m = make(map[book.Asset]decimal.Decimal)
		l.balances[account] = m
	}
	m[asset] = m[asset].Add(amount)
}
