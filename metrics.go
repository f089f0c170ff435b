package clob

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes engine counters and resting depth gauges.
type Metrics struct {
	ordersPlaced    prometheus.Counter
	ordersCancelled prometheus.Counter
	tradesExecuted  prometheus.Counter
	bidDepth        prometheus.Gauge
	askDepth        prometheus.Gauge
}

// NewMetrics registers and returns the engine metrics. A nil registerer
// defaults to the prometheus default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		ordersPlaced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clob",
			Name:      "orders_placed_total",
			Help:      "Total number of orders placed",
		}),
		ordersCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clob",
			Name:      "orders_cancelled_total",
			Help:      "Total number of orders cancelled",
		}),
		tradesExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clob",
			Name:      "trades_executed_total",
			Help:      "Total number of trades executed",
		}),
		bidDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "clob",
			Name:      "bid_depth",
			Help:      "Number of resting bid orders",
		}),
		askDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "clob",
			Name:      "ask_depth",
			Help:      "Number of resting ask orders",
		}),
	}

	reg.MustRegister(m.ordersPlaced, m.ordersCancelled, m.tradesExecuted,
		m.bidDepth, m.askDepth)

	return m
}

func (m *Metrics) setDepth(bids, asks int) {
	m.bidDepth.Set(float64(bids))
	m.askDepth.Set(float64(asks))
}
