package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestAttributionMetricsObserve(t *testing.T) {
	m := NewAttributionMetrics(prometheus.NewRegistry())
	m.ObserveResolution("exact_phone", 0.01)
	m.ObserveResolution("exact_phone", 0.02)
	m.ObserveResolution("unresolved", 0.01)
	m.ObserveDelay("exact_phone", 42)
	m.ObserveConversion("created")
	m.ObserveTransition("lead", "cancelled")
	m.ObservePendingExpired(3)
	m.ObserveWebhook("inbound", "queued")
	m.ObserveLatency("process", 0.2)

	if got := testutil.ToFloat64(m.resolutions.WithLabelValues("exact_phone")); got != 2 {
		t.Fatalf("expected 2 exact_phone resolutions, got %v", got)
	}
	if got := testutil.ToFloat64(m.pendingExpired); got != 3 {
		t.Fatalf("expected 3 expired, got %v", got)
	}
	if got := testutil.ToFloat64(m.transitions.WithLabelValues("lead", "cancelled")); got != 1 {
		t.Fatalf("expected one transition, got %v", got)
	}
}

func TestAttributionMetricsDefaultRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewAttributionMetrics(reg)
	m.ObserveConversion("duplicate")
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected registered families")
	}
}

func TestAttributionMetricsNilSafe(t *testing.T) {
	var m *AttributionMetrics
	m.ObserveResolution("ad_click_id", 0.1)
	m.ObserveDelay("ad_click_id", 1)
	m.ObserveConversion("created")
	m.ObserveTransition("new", "lead")
	m.ObservePendingExpired(1)
	m.ObserveWebhook("outbound", "queued")
	m.ObserveLatency("webhook", 0.1)
}
