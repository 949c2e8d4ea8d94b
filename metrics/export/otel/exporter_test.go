package otel

import (
	"context"
	"sync"
	"testing"

	goSession "github.com/MrEthical07/goSession"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	counters map[goSession.MetricID]uint64
	hists    map[goSession.MetricID][]uint64
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() goSession.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := goSession.MetricsSnapshot{
		Counters:   make(map[goSession.MetricID]uint64, len(f.counters)),
		Histograms: make(map[goSession.MetricID][]uint64, len(f.hists)),
	}
	for k, v := range f.counters {
		out.Counters[k] = v
	}
	for k, v := range f.hists {
		out.Histograms[k] = append([]uint64(nil), v...)
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func newReader(t *testing.T) (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return reader, provider
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					out[m.Name] = dp.Value
				}
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					out[m.Name] = dp.Value
				}
			}
		}
	}
	return out
}

func TestExporterReportsSnapshot(t *testing.T) {
	reader, provider := newReader(t)
	src := &fakeSource{
		counters: map[goSession.MetricID]uint64{goSession.MetricRotationSuccess: 3},
		hists:    map[goSession.MetricID][]uint64{goSession.MetricAuthenticateLatency: {1, 1, 1, 1, 1, 1, 1, 1}},
		dropped:  1,
	}
	exp, err := NewExporterFromSource(provider.Meter("gosession-test"), src)
	if err != nil {
		t.Fatalf("NewExporterFromSource: %v", err)
	}
	defer exp.Close()

	got := collect(t, reader)
	if got["gosession_rotation_success_total"] != 3 {
		t.Fatalf("rotation counter = %d", got["gosession_rotation_success_total"])
	}
	if got["gosession_audit_dropped_total"] != 1 {
		t.Fatalf("audit dropped = %d", got["gosession_audit_dropped_total"])
	}
	if got["gosession_authenticate_latency_seconds_bucket_le_0_01"] != 2 {
		t.Fatalf("cumulative bucket = %d", got["gosession_authenticate_latency_seconds_bucket_le_0_01"])
	}
	if got["gosession_authenticate_latency_seconds_count"] != 8 {
		t.Fatalf("count = %d", got["gosession_authenticate_latency_seconds_count"])
	}
	if _, ok := got["gosession_rotation_latency_seconds_count"]; ok {
		t.Fatal("histogram absent from snapshot must not be reported")
	}
}

func TestExporterRejectsNilInputs(t *testing.T) {
	_, provider := newReader(t)
	if _, err := NewExporterFromSource(provider.Meter("x"), nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := NewExporterFromSource(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
	if _, err := NewExporter(provider.Meter("x"), nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource for nil engine, got %v", err)
	}
}

func TestExporterStopsAfterClose(t *testing.T) {
	reader, provider := newReader(t)
	src := &fakeSource{counters: map[goSession.MetricID]uint64{goSession.MetricLogout: 5}}
	exp, err := NewExporterFromSource(provider.Meter("gosession-test"), src)
	if err != nil {
		t.Fatalf("NewExporterFromSource: %v", err)
	}
	if got := collect(t, reader); got["gosession_logout_total"] != 5 {
		t.Fatalf("logout counter = %d", got["gosession_logout_total"])
	}
	if err := exp.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := collect(t, reader); got["gosession_logout_total"] != 0 {
		t.Fatalf("closed exporter still reports %d", got["gosession_logout_total"])
	}
}

func TestExporterConcurrentCollect(t *testing.T) {
	reader, provider := newReader(t)
	src := &fakeSource{counters: map[goSession.MetricID]uint64{goSession.MetricLoginSuccess: 1}}
	exp, err := NewExporterFromSource(provider.Meter("gosession-test"), src)
	if err != nil {
		t.Fatalf("NewExporterFromSource: %v", err)
	}
	defer exp.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.counters[goSession.MetricLoginSuccess] = v
			src.mu.Unlock()
			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
