package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/uhyunpark/stocksim/pkg/matching"
)

const namespace = "stocksim"

// Metrics owns a private registry so tests and multiple engines never collide.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	trades       *prometheus.CounterVec
	volume       *prometheus.CounterVec
	expired      *prometheus.CounterVec
	price        *prometheus.GaugeVec
	orders       *prometheus.CounterVec
	settlements  *prometheus.CounterVec
	reconcile    *prometheus.CounterVec
	tickDuration prometheus.Histogram
	apiRequests  *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "trades_total", Help: "Executed trades",
		}, []string{"ticker"}),
		volume: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "traded_shares_total", Help: "Executed quantity",
		}, []string{"ticker"}),
		expired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "expired_orders_total", Help: "Orders removed without trading",
		}, []string{"ticker", "reason"}),
		price: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_price_won", Help: "Last traded price",
		}, []string{"ticker"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "user_orders_total", Help: "User order submissions by outcome",
		}, []string{"ticker", "outcome"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "settlements_total", Help: "Ledger settlements by source",
		}, []string{"ticker", "source"}),
		reconcile: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "reconcile_records_total", Help: "Pending records examined by reconciliation",
		}, []string{"result"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "tick_duration_seconds", Help: "Market loop tick duration",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "api_requests_total", Help: "HTTP requests by route and status",
		}, []string{"route", "status"}),
	}
	m.reg.MustRegister(
		m.trades, m.volume, m.expired, m.price, m.orders, m.settlements, m.reconcile, m.tickDuration, m.apiRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// OnTrade implements matching.Sink
func (m *Metrics) OnTrade(t matching.Trade) {
	if m == nil {
		return
	}
	m.trades.WithLabelValues(t.Ticker).Inc()
	m.volume.WithLabelValues(t.Ticker).Add(float64(t.Quantity))
	m.price.WithLabelValues(t.Ticker).Set(float64(t.Price))
}

// OnExpire implements matching.Sink
func (m *Metrics) OnExpire(e matching.Expiry) {
	if m == nil {
		return
	}
	m.expired.WithLabelValues(e.Ticker, string(e.Reason)).Inc()
}

func (m *Metrics) OrderSubmitted(ticker, outcome string) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(ticker, outcome).Inc()
}

// Settled counts a ledger settlement; source is "fill", "reconcile" or "expire"
func (m *Metrics) Settled(ticker, source string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(ticker, source).Inc()
}

// Reconciled counts a pending record examined by reconciliation: "open", "settled", "skipped"
func (m *Metrics) Reconciled(result string) {
	if m == nil {
		return
	}
	m.reconcile.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveTick(d time.Duration) {
	if m == nil {
		return
	}
	m.tickDuration.Observe(d.Seconds())
}

func (m *Metrics) APIRequest(route string, status int) {
	if m == nil {
		return
	}
	m.apiRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}
