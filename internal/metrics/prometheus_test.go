package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewCollector(t *testing.T) {
	c := NewCollector()
	if c.Registry() == nil {
		t.Fatal("expected non-nil registry")
	}
	if c.Registry() == prometheus.DefaultRegisterer {
		t.Error("collector must not use the global registry")
	}
}

func TestObserveStake(t *testing.T) {
	c := NewCollector()

	c.ObserveStake("")
	c.ObserveStake("")
	c.ObserveStake("TRANSACTION_REJECTED")

	if got := getCounterValue(t, c.stakes, ResultSuccess, ""); got != 2 {
		t.Errorf("expected 2 successful stakes, got %f", got)
	}
	if got := getCounterValue(t, c.stakes, ResultFailure, "TRANSACTION_REJECTED"); got != 1 {
		t.Errorf("expected 1 rejected stake, got %f", got)
	}
}

func TestObserveApprovalAndReferral(t *testing.T) {
	c := NewCollector()

	c.ObserveApproval(true)
	c.ObserveApproval(false)
	c.ObserveReferralReport(false)

	if got := getCounterValue(t, c.approvals, ResultSuccess); got != 1 {
		t.Errorf("approvals success = %f", got)
	}
	if got := getCounterValue(t, c.approvals, ResultFailure); got != 1 {
		t.Errorf("approvals failure = %f", got)
	}
	if got := getCounterValue(t, c.referralReports, ResultFailure); got != 1 {
		t.Errorf("referral failures = %f", got)
	}
}

func TestObserveWalletConnect(t *testing.T) {
	c := NewCollector()
	c.ObserveWalletConnect("WALLET_NOT_CONNECTED")

	if got := getCounterValue(t, c.walletConnects, ResultFailure, "WALLET_NOT_CONNECTED"); got != 1 {
		t.Errorf("wallet connect failures = %f", got)
	}
}

func TestObserveAPIRequest(t *testing.T) {
	c := NewCollector()

	c.ObserveAPIRequest("/strategies", 200, 30*time.Millisecond)
	c.ObserveAPIRequest("/strategies", 401, 10*time.Millisecond)
	c.ObserveAPIRequest("/strategies", 0, time.Second)

	if got := getCounterValue(t, c.apiRequests, "/strategies", "200"); got != 1 {
		t.Errorf("200 count = %f", got)
	}
	if got := getCounterValue(t, c.apiRequests, "/strategies", "0"); got != 1 {
		t.Errorf("transport failure count = %f", got)
	}

	metric := &dto.Metric{}
	if err := c.apiDuration.WithLabelValues("/strategies").(prometheus.Metric).Write(metric); err != nil {
		t.Fatalf("failed to read histogram: %v", err)
	}
	if metric.GetHistogram().GetSampleCount() != 3 {
		t.Errorf("expected 3 latency samples, got %d", metric.GetHistogram().GetSampleCount())
	}
}

func TestGauges(t *testing.T) {
	c := NewCollector()

	c.SetActiveWidgets(3)
	c.BridgeSessionOpened()
	c.BridgeSessionOpened()
	c.BridgeSessionClosed()

	if got := getGaugeValue(t, c.activeWidgets); got != 3 {
		t.Errorf("active widgets = %f", got)
	}
	if got := getGaugeValue(t, c.bridgeSessions); got != 1 {
		t.Errorf("bridge sessions = %f", got)
	}
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector

	c.ObserveStake("")
	c.ObserveApproval(true)
	c.ObserveReferralReport(true)
	c.ObserveWalletConnect("")
	c.ObserveAPIRequest("/tokens/whitelist", 200, time.Millisecond)
	c.SetActiveWidgets(1)
	c.BridgeSessionOpened()
	c.BridgeSessionClosed()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("nil collector handler status = %d", rec.Code)
	}
}

func TestHandler(t *testing.T) {
	c := NewCollector()
	c.ObserveStake("")
	c.SetActiveWidgets(2)

	server := httptest.NewServer(c.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	text := string(body)

	for _, want := range []string{
		"vaporwidget_stakes_total",
		"vaporwidget_active_widgets 2",
		"vaporwidget_uptime_seconds",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

// getCounterValue extracts the current counter value for the given labels from a CounterVec.
func getCounterValue(t *testing.T, cv *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := cv.WithLabelValues(labels...).(prometheus.Metric).Write(metric); err != nil {
		t.Fatalf("failed to read counter metric: %v", err)
	}
	return metric.GetCounter().GetValue()
}

// getGaugeValue extracts the current value from a Prometheus Gauge.
func getGaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := g.Write(metric); err != nil {
		t.Fatalf("failed to read gauge metric: %v", err)
	}
	return metric.GetGauge().GetValue()
}
