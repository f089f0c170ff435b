// Package trades maintains an in-memory audit history of executed trades,
// projected from the engine's event stream.
package trades

import (
	"context"
	"sync"
	"time"

	"github.com/luno/fate"
	"github.com/luno/jettison/errors"
	"github.com/luno/reflex"
	"github.com/shopspring/decimal"

	"clob/events"
)

type Trade struct {
	ID           int64
	MakerOrderID int64
	TakerOrderID int64
	MakerFilled  bool
	IsBuy        bool
	Base         decimal.Decimal
	Quote        decimal.Decimal
	Price        decimal.Decimal
	CreatedAt    time.Time
}

// Log is an append-only trade history.
type Log struct {
	mu   sync.Mutex
	list []Trade
}

func NewLog() *Log {
	return new(Log)
}

func (l *Log) append(t Trade) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t.ID = int64(len(l.list) + 1)
	l.list = append(l.list, t)
}

// List returns a snapshot of all recorded trades in execution order.
func (l *Log) List() []Trade {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]Trade(nil), l.list...)
}

// Consumer returns a reflex consumer that projects trade executed events
// into the log.
func Consumer(l *Log) reflex.Consumer {
	return reflex.NewConsumer("trade_projection",
		func(ctx context.Context, f fate.Fate, e *reflex.Event) error {
			if !reflex.IsType(e.Type, events.TypeTradeExecuted) {
				return nil
			}

			m, err := events.ParseTradeMeta(e.MetaData)
			if err != nil {
				return errors.Wrap(err, "parse trade meta")
			}

			l.append(Trade{
				MakerOrderID: m.MakerOrderID,
				TakerOrderID: m.TakerOrderID,
				MakerFilled:  m.MakerFilled,
				IsBuy:        m.IsBuy,
				Base:         m.Base,
				Quote:        m.Quote,
				Price:        m.Price,
				CreatedAt:    e.Timestamp,
			})

			return nil
		},
	)
}

// Consume streams the event log into the trade history until the context
// is cancelled or an error occurs.
func Consume(ctx context.Context, elog *events.Log, l *Log) error {
	spec := reflex.NewSpec(
		elog.Stream,
		events.NewCursorStore(),
		Consumer(l),
	)

	return reflex.Run(ctx, spec)
}
