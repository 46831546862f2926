package otel

import (
	"context"
	"sync"
	"testing"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot goGuard.MetricsSnapshot
}

func (f *fakeSource) MetricsSnapshot() goGuard.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := goGuard.MetricsSnapshot{
		Counters:   make(map[goGuard.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[goGuard.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		out.Histograms[k] = append([]uint64(nil), buckets...)
	}
	return out
}

func newMeter(t *testing.T) (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

// findPoint returns the data point of name whose attr equals value. An
// empty attr matches a point without attributes.
func findPoint(rm metricdata.ResourceMetrics, name, attr, value string) (int64, bool) {
	match := func(set attribute.Set) bool {
		if attr == "" {
			return set.Len() == 0
		}
		v, ok := set.Value(attribute.Key(attr))
		return ok && v.AsString() == value
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					if match(dp.Attributes) {
						return dp.Value, true
					}
				}
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					if match(dp.Attributes) {
						return dp.Value, true
					}
				}
			}
		}
	}
	return 0, false
}

func TestEveryCounterBelongsToOneFamily(t *testing.T) {
	seen := map[goGuard.MetricID]string{}
	for _, f := range families {
		for _, m := range f.members {
			if prev, ok := seen[m.id]; ok {
				t.Fatalf("metric %d in both %s and %s", m.id, prev, f.name)
			}
			seen[m.id] = f.name
		}
	}
	for _, def := range internaldefs.CounterDefs {
		if _, ok := seen[def.ID]; !ok {
			t.Fatalf("counter %s is not exported", def.Name)
		}
	}
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader, provider := newMeter(t)

	src := &fakeSource{
		snapshot: goGuard.MetricsSnapshot{
			Counters: map[goGuard.MetricID]uint64{
				goGuard.MetricGateAllowed:     3,
				goGuard.MetricGateRateLimited: 2,
				goGuard.MetricLockoutDegraded: 4,
				goGuard.MetricTokenReplay:     5,
				goGuard.MetricAuditDropped:    1,
			},
			Histograms: map[goGuard.MetricID][]uint64{
				goGuard.MetricGateLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
	}

	exp, err := NewExporterFromSource(provider.Meter("goguard-test"), src)
	if err != nil {
		t.Fatalf("NewExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	cases := []struct {
		name, attr, value string
		want              int64
	}{
		{"goguard.gate.decisions", "outcome", "allow", 3},
		{"goguard.gate.decisions", "outcome", "rate_limited", 2},
		{"goguard.gate.decisions", "outcome", "blocked", 0},
		{"goguard.gate.degraded", "check", "lockout", 4},
		{"goguard.credentials", "op", "replay", 5},
		{"goguard.audit.dropped", "", "", 1},
		{"goguard.gate.latency.buckets", "le", "+Inf", 8},
		{"goguard.gate.latency.buckets", "le", "0.025", 3},
		{"goguard.gate.latency.count", "", "", 8},
	}
	for _, tc := range cases {
		v, ok := findPoint(rm, tc.name, tc.attr, tc.value)
		if !ok || v != tc.want {
			t.Fatalf("%s{%s=%q}: expected %d, got %d (found=%v)", tc.name, tc.attr, tc.value, tc.want, v, ok)
		}
	}
}

func TestExporterSkipsLatencyWithoutHistogram(t *testing.T) {
	reader, provider := newMeter(t)
	src := &fakeSource{snapshot: goGuard.MetricsSnapshot{
		Counters: map[goGuard.MetricID]uint64{goGuard.MetricGateAllowed: 1},
	}}

	exp, err := NewExporterFromSource(provider.Meter("goguard-test"), src)
	if err != nil {
		t.Fatalf("NewExporterFromSource failed: %v", err)
	}
	defer exp.Close()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if _, ok := findPoint(rm, "goguard.gate.latency.count", "", ""); ok {
		t.Fatal("latency must not be reported when histograms are off")
	}
	if v, ok := findPoint(rm, "goguard.gate.decisions", "outcome", "allow"); !ok || v != 1 {
		t.Fatalf("expected allow=1, got %d (found=%v)", v, ok)
	}
}

func TestExporterRejectsNilInputs(t *testing.T) {
	_, provider := newMeter(t)

	if _, err := NewExporterFromSource(provider.Meter("goguard-test"), nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := NewExporter(provider.Meter("goguard-test"), nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource for a nil guard, got %v", err)
	}
	if _, err := NewExporterFromSource(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader, provider := newMeter(t)

	src := &fakeSource{
		snapshot: goGuard.MetricsSnapshot{
			Counters: map[goGuard.MetricID]uint64{
				goGuard.MetricGateAllowed: 1,
			},
			Histograms: map[goGuard.MetricID][]uint64{
				goGuard.MetricGateLatency: {1, 0, 0, 0, 0, 0, 0, 0},
			},
		},
	}

	exp, err := NewExporterFromSource(provider.Meter("goguard-test"), src)
	if err != nil {
		t.Fatalf("NewExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[goGuard.MetricGateAllowed] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
