package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMustRegister(t *testing.T) {
	reg := prometheus.NewRegistry()

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("MustRegister() panicked: %v", r)
		}
	}()
	MustRegister(reg)

	// Record some values so metrics appear in Gather()
	RecordDelivery("health-report", "success", 100*time.Millisecond)
	RecordRetry("water-quality")
	UpdateQueueDepth("case-update", 3)
	RecordCacheRequest("network_first", "cache_hit")

	metricFamilies, err := reg.Gather()
	if err != nil {
		t.Fatalf("Registry.Gather() error: %v", err)
	}

	expectedMetrics := []string{
		"syncguard_deliveries_total",
		"syncguard_delivery_latency_seconds",
		"syncguard_retries_total",
		"syncguard_queue_depth",
		"syncguard_cache_requests_total",
	}

	registered := make(map[string]bool)
	for _, mf := range metricFamilies {
		registered[mf.GetName()] = true
	}
	for _, name := range expectedMetrics {
		if !registered[name] {
			t.Errorf("metric %s not registered", name)
		}
	}
}

func TestMustRegisterTwicePanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	MustRegister(reg)

	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	MustRegister(reg)
}
