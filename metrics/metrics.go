// Package metrics holds the Prometheus collectors for zap splitting, wallet
// requests and LNURL lookups. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the zap pipeline.
type Metrics struct {
	// Zap metrics
	ZapSharesTotal   *prometheus.CounterVec
	ZapAmountTotal   *prometheus.CounterVec
	ZapOutcomeTotal  *prometheus.CounterVec
	ZapReceiptsTotal *prometheus.CounterVec

	// Wallet metrics
	WalletRequestsTotal      *prometheus.CounterVec
	WalletRequestDuration    *prometheus.HistogramVec
	WalletPendingRequests    prometheus.Gauge
	BudgetRejectionsTotal    prometheus.Counter
	EncryptionFallbacksTotal *prometheus.CounterVec

	// LNURL metrics
	LnurlRequestsTotal  *prometheus.CounterVec
	LnurlCacheHitsTotal prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)
	return &Metrics{
		ZapSharesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zapsplit_shares_total",
				Help: "Zap shares attempted, by recipient and status",
			},
			[]string{"recipient", "status"},
		),
		ZapAmountTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zapsplit_paid_sats_total",
				Help: "Satoshis successfully paid, by recipient",
			},
			[]string{"recipient"},
		),
		ZapOutcomeTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zapsplit_zaps_total",
				Help: "Split zaps completed, by overall outcome",
			},
			[]string{"outcome"},
		),
		ZapReceiptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zapsplit_receipt_validations_total",
				Help: "Zap receipt checks of paid shares, by recipient and status",
			},
			[]string{"recipient", "status"},
		),
		WalletRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zapsplit_wallet_requests_total",
				Help: "Wallet connect requests, by method and outcome",
			},
			[]string{"method", "outcome"},
		),
		WalletRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "zapsplit_wallet_request_duration_seconds",
				Help:    "Round trip time of wallet connect requests",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 25, 60},
			},
			[]string{"method"},
		),
		WalletPendingRequests: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "zapsplit_wallet_pending_requests",
				Help: "Wallet requests waiting for a response",
			},
		),
		BudgetRejectionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "zapsplit_budget_rejections_total",
				Help: "Payments refused locally because the wallet budget was exceeded",
			},
		),
		EncryptionFallbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zapsplit_encryption_fallbacks_total",
				Help: "Requests retried under another encryption scheme",
			},
			[]string{"from", "to", "reason"},
		),
		LnurlRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zapsplit_lnurl_requests_total",
				Help: "LNURL HTTP requests, by stage and outcome",
			},
			[]string{"stage", "outcome"},
		),
		LnurlCacheHitsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "zapsplit_lnurl_cache_hits_total",
				Help: "Pay descriptors served from cache",
			},
		),
	}
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// ObserveShare records one attempted zap share.
func (m *Metrics) ObserveShare(recipient, status string, sats uint64) {
	if m == nil {
		return
	}
	m.ZapSharesTotal.WithLabelValues(recipient, status).Inc()
	if status == "success" {
		m.ZapAmountTotal.WithLabelValues(recipient).Add(float64(sats))
	}
}

// ObserveZap records the overall outcome of a split zap.
func (m *Metrics) ObserveZap(outcome string) {
	if m == nil {
		return
	}
	m.ZapOutcomeTotal.WithLabelValues(outcome).Inc()
}

// ObserveReceipt records the zap receipt check of a paid share.
func (m *Metrics) ObserveReceipt(recipient, status string) {
	if m == nil {
		return
	}
	m.ZapReceiptsTotal.WithLabelValues(recipient, status).Inc()
}

// ObserveWalletRequest records a finished wallet request.
func (m *Metrics) ObserveWalletRequest(method, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.WalletRequestsTotal.WithLabelValues(method, outcome).Inc()
	m.WalletRequestDuration.WithLabelValues(method).Observe(d.Seconds())
}

// PendingDelta adjusts the pending request gauge.
func (m *Metrics) PendingDelta(n int) {
	if m == nil {
		return
	}
	m.WalletPendingRequests.Add(float64(n))
}

// ObserveBudgetRejection counts a payment refused before sending.
func (m *Metrics) ObserveBudgetRejection() {
	if m == nil {
		return
	}
	m.BudgetRejectionsTotal.Inc()
}

// ObserveFallback counts a retry under a different encryption scheme.
func (m *Metrics) ObserveFallback(from, to, reason string) {
	if m == nil {
		return
	}
	m.EncryptionFallbacksTotal.WithLabelValues(from, to, reason).Inc()
}

// ObserveLnurl records an LNURL HTTP request.
func (m *Metrics) ObserveLnurl(stage, outcome string) {
	if m == nil {
		return
	}
	m.LnurlRequestsTotal.WithLabelValues(stage, outcome).Inc()
}

// ObserveCacheHit counts a descriptor served from cache.
func (m *Metrics) ObserveCacheHit() {
	if m == nil {
		return
	}
	m.LnurlCacheHitsTotal.Inc()
}
