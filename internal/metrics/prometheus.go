package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vaporwidget"

// Outcome labels shared by the counters below.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Collector holds the widget's Prometheus metrics in a dedicated registry so
// they do not interfere with the default global registry.
//
// All methods are safe on a nil *Collector, which records nothing.
type Collector struct {
	registry *prometheus.Registry

	stakes          *prometheus.CounterVec
	approvals       *prometheus.CounterVec
	referralReports *prometheus.CounterVec
	walletConnects  *prometheus.CounterVec
	apiRequests     *prometheus.CounterVec
	apiDuration     *prometheus.HistogramVec

	activeWidgets  prometheus.Gauge
	bridgeSessions prometheus.Gauge
	uptimeSeconds  prometheus.GaugeFunc

	startTime time.Time
}

// NewCollector creates a Collector with all metrics registered.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	start := time.Now()

	c := &Collector{
		registry:  reg,
		startTime: start,
		stakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stakes_total",
			Help:      "Stake submissions by outcome code (empty code on success).",
		}, []string{"result", "code"}),
		approvals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approvals_total",
			Help:      "Token approval transactions by outcome.",
		}, []string{"result"}),
		referralReports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "referral_reports_total",
			Help:      "Referral attribution reports by outcome.",
		}, []string{"result"}),
		walletConnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wallet_connects_total",
			Help:      "Wallet connection attempts by outcome code (empty code on success).",
		}, []string{"result", "code"}),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Metadata backend requests by endpoint and HTTP status (0 on transport failure).",
		}, []string{"endpoint", "status"}),
		apiDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "Metadata backend latency by endpoint.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"endpoint"}),
		activeWidgets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_widgets",
			Help:      "Number of initialized widget instances.",
		}),
		bridgeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bridge_sessions",
			Help:      "Number of connected wallet bridge pages.",
		}),
		uptimeSeconds: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Time since the process started in seconds.",
		}, func() float64 { return time.Since(start).Seconds() }),
	}

	reg.MustRegister(
		c.stakes,
		c.approvals,
		c.referralReports,
		c.walletConnects,
		c.apiRequests,
		c.apiDuration,
		c.activeWidgets,
		c.bridgeSessions,
		c.uptimeSeconds,
	)

	return c
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// ObserveStake records the outcome of a Stake call; code is empty on success.
func (c *Collector) ObserveStake(code string) {
	if c == nil {
		return
	}
	c.stakes.WithLabelValues(resultFor(code), code).Inc()
}

// ObserveApproval records the outcome of an approval transaction.
func (c *Collector) ObserveApproval(ok bool) {
	if c == nil {
		return
	}
	c.approvals.WithLabelValues(resultOf(ok)).Inc()
}

// ObserveReferralReport records the outcome of a background referral report.
func (c *Collector) ObserveReferralReport(ok bool) {
	if c == nil {
		return
	}
	c.referralReports.WithLabelValues(resultOf(ok)).Inc()
}

// ObserveWalletConnect records the outcome of a wallet connection attempt.
func (c *Collector) ObserveWalletConnect(code string) {
	if c == nil {
		return
	}
	c.walletConnects.WithLabelValues(resultFor(code), code).Inc()
}

// ObserveAPIRequest records one metadata backend round trip.
func (c *Collector) ObserveAPIRequest(endpoint string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.apiRequests.WithLabelValues(endpoint, statusLabel(status)).Inc()
	c.apiDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// SetActiveWidgets sets the number of live widget instances.
func (c *Collector) SetActiveWidgets(n int) {
	if c == nil {
		return
	}
	c.activeWidgets.Set(float64(n))
}

// BridgeSessionOpened increments the connected bridge page gauge.
func (c *Collector) BridgeSessionOpened() {
	if c == nil {
		return
	}
	c.bridgeSessions.Inc()
}

// BridgeSessionClosed decrements the connected bridge page gauge.
func (c *Collector) BridgeSessionClosed() {
	if c == nil {
		return
	}
	c.bridgeSessions.Dec()
}

// Handler returns an http.Handler that serves metrics in the Prometheus
// text exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func resultFor(code string) string {
	return resultOf(code == "")
}

func resultOf(ok bool) string {
	if ok {
		return ResultSuccess
	}
	return ResultFailure
}

func statusLabel(status int) string {
	if status <= 0 {
		return "0"
	}
	return strconv.Itoa(status)
}
