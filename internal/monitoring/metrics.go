package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Trading metrics
	tradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perp_engine_trades_total",
			Help: "Total number of fills executed",
		},
		[]string{"symbol", "side", "note"},
	)

	rejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perp_engine_rejections_total",
			Help: "Total number of guard rejections",
		},
		[]string{"symbol", "reason"},
	)

	// Account metrics
	equityGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "perp_engine_equity",
			Help: "Current account equity",
		},
	)

	drawdownGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "perp_engine_drawdown",
			Help: "Current drawdown from equity peak (negative or zero)",
		},
	)

	openLotsGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "perp_engine_open_lots",
			Help: "Open lot count per symbol",
		},
		[]string{"symbol"},
	)

	// Market data metrics
	currentPrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "perp_engine_current_price",
			Help: "Latest observed price per symbol",
		},
		[]string{"symbol"},
	)

	// Error metrics
	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perp_engine_errors_total",
			Help: "Total number of tick-level errors",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(tradesTotal)
	prometheus.MustRegister(rejectionsTotal)
	prometheus.MustRegister(equityGauge)
	prometheus.MustRegister(drawdownGauge)
	prometheus.MustRegister(openLotsGauge)
	prometheus.MustRegister(currentPrice)
	prometheus.MustRegister(errorsTotal)
}

// MetricsHandler handles Prometheus metrics endpoint
type MetricsHandler struct{}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{}
}

// ServeHTTP serves the Prometheus metrics endpoint
func (m *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// RecordTrade records an executed fill
func RecordTrade(symbol, side, note string) {
	tradesTotal.WithLabelValues(symbol, side, note).Inc()
}

// RecordRejection records a guard rejection
func RecordRejection(symbol, reason string) {
	rejectionsTotal.WithLabelValues(symbol, reason).Inc()
}

// UpdateEquity updates equity and drawdown gauges
func UpdateEquity(equity, peak float64) {
	equityGauge.Set(equity)
	if peak > 0 {
		drawdownGauge.Set((equity - peak) / peak)
	}
}

// UpdateOpenLots updates the open lot count for a symbol
func UpdateOpenLots(symbol string, count int) {
	openLotsGauge.WithLabelValues(symbol).Set(float64(count))
}

// UpdatePrice updates the current price metric
func UpdatePrice(symbol string, price float64) {
	currentPrice.WithLabelValues(symbol).Set(price)
}

// RecordError records an error metric
func RecordError(errorType string) {
	errorsTotal.WithLabelValues(errorType).Inc()
}
