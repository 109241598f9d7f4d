package metrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusRecorder_CountersUseSanitizedNamesAndTags(t *testing.T) {
	registry := prometheus.NewRegistry()
	recorder := NewPrometheusRecorder(registry)
	ctx := context.Background()

	tags := map[string]string{"operation": "connect", "status": "success", "provider": "erp"}
	recorder.IncCounter(ctx, "integrations.connect.total", 1, tags)
	recorder.IncCounter(ctx, "integrations.connect.total", 2, tags)
	recorder.IncCounter(ctx, "integrations.connect.total", 1, map[string]string{"operation": "connect", "status": "failure", "provider": "erp"})

	counter := recorder.counters["integrations_connect_total"]
	if counter == nil {
		t.Fatalf("expected counter to be registered")
	}
	if got := testutil.ToFloat64(counter.vec.WithLabelValues("connect", "erp", "success")); got != 3 {
		t.Fatalf("expected 3 successful connects, got %v", got)
	}
	if got := testutil.ToFloat64(counter.vec.WithLabelValues("connect", "erp", "failure")); got != 1 {
		t.Fatalf("expected 1 failed connect, got %v", got)
	}
}

func TestPrometheusRecorder_LabelSetFixedByFirstObservation(t *testing.T) {
	registry := prometheus.NewRegistry()
	recorder := NewPrometheusRecorder(registry, WithNamespace("app"))
	ctx := context.Background()

	recorder.IncCounter(ctx, "integrations.audit.emit_failed", 1, map[string]string{"action": "erp.connected"})
	recorder.IncCounter(ctx, "integrations.audit.emit_failed", 1, map[string]string{"action": "erp.connected", "extra": "dropped"})
	recorder.IncCounter(ctx, "integrations.audit.emit_failed", 1, nil)

	counter := recorder.counters["integrations_audit_emit_failed"]
	if len(counter.labels) != 1 || counter.labels[0] != "action" {
		t.Fatalf("expected single action label, got %v", counter.labels)
	}
	if got := testutil.ToFloat64(counter.vec.WithLabelValues("erp.connected")); got != 2 {
		t.Fatalf("expected 2 observations for erp.connected, got %v", got)
	}
	if got := testutil.ToFloat64(counter.vec.WithLabelValues("")); got != 1 {
		t.Fatalf("expected untagged observation under empty label, got %v", got)
	}
}

func TestPrometheusRecorder_HistogramsRegisterOnce(t *testing.T) {
	registry := prometheus.NewRegistry()
	recorder := NewPrometheusRecorder(registry, WithBuckets([]float64{1, 10, 100}))
	ctx := context.Background()

	recorder.ObserveHistogram(ctx, "integrations.sync.duration_ms", 12, map[string]string{"operation": "sync"})
	recorder.ObserveHistogram(ctx, "integrations.sync.duration_ms", 120, map[string]string{"operation": "sync"})

	if count := testutil.CollectAndCount(registry, "integrations_sync_duration_ms"); count != 1 {
		t.Fatalf("expected one histogram series, got %d", count)
	}

	other := NewPrometheusRecorder(registry)
	other.ObserveHistogram(ctx, "integrations.sync.duration_ms", 5, map[string]string{"operation": "sync"})
	if other.histograms["integrations_sync_duration_ms"] == nil {
		t.Fatalf("expected second recorder to reuse the registered histogram")
	}
}

func TestSanitizeName(t *testing.T) {
	cases := map[string]string{
		"integrations.connect.total": "integrations_connect_total",
		" sync-enabled ":             "sync_enabled",
		"9lives":                     "_9lives",
		"":                           "",
	}
	for input, want := range cases {
		if got := sanitizeName(input); got != want {
			t.Fatalf("sanitizeName(%q) = %q, want %q", input, got, want)
		}
	}
}
