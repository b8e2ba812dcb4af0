package observability

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"go.opentelemetry.io/otel"
)

func TestShapeCollectorRecordsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewShapeCollector(reg)
	if err != nil {
		t.Fatalf("NewShapeCollector: %v", err)
	}

	c.ObserveIntersection("hit", 2*time.Millisecond)
	c.ObserveIntersection("hit", time.Millisecond)
	c.ObserveIntersection("miss", time.Millisecond)
	c.ObserveRefiner("secant", "converged", 3)

	if got := testutil.ToFloat64(c.Intersections.WithLabelValues("hit")); got != 2 {
		t.Fatalf("demray_intersections_total{hit} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.Intersections.WithLabelValues("miss")); got != 1 {
		t.Fatalf("demray_intersections_total{miss} = %v, want 1", got)
	}
	if count := histogramSampleCount(t, reg, "demray_refiner_iterations", map[string]string{
		"refiner": "secant",
		"status":  "converged",
	}); count != 1 {
		t.Fatalf("demray_refiner_iterations sample_count = %d, want 1", count)
	}
	if count := histogramSampleCount(t, reg, "demray_intersection_duration_seconds", nil); count != 3 {
		t.Fatalf("demray_intersection_duration_seconds sample_count = %d, want 3", count)
	}
}

func TestShapeCollectorReRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewShapeCollector(reg)
	if err != nil {
		t.Fatalf("NewShapeCollector: %v", err)
	}
	second, err := NewShapeCollector(reg)
	if err != nil {
		t.Fatalf("second NewShapeCollector: %v", err)
	}
	second.ObserveIntersection("hit", 0)
	if got := testutil.ToFloat64(first.Intersections.WithLabelValues("hit")); got != 1 {
		t.Fatalf("collectors do not share metrics: %v", got)
	}
}

func TestMiddlewareAndHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewShapeCollector(reg)
	if err != nil {
		t.Fatalf("NewShapeCollector: %v", err)
	}
	c.SetRasterCacheStats(3, 1)

	h := c.Middleware("/radius", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("lat") == "" {
			http.Error(w, "invalid lat", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	for _, target := range []string{"/radius?lat=1", "/radius"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, target, nil))
	}
	if got := testutil.ToFloat64(c.HTTPRequests.WithLabelValues("/radius", "200")); got != 1 {
		t.Errorf("requests{200} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.HTTPRequests.WithLabelValues("/radius", "400")); got != 1 {
		t.Errorf("requests{400} = %v, want 1", got)
	}

	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"demray_http_requests_total",
		"demray_raster_cache_hit_ratio 0.75",
	} {
		if !strings.Contains(body, metric) {
			t.Errorf("expected %q in /metrics output", metric)
		}
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *ShapeCollector
	c.ObserveIntersection("hit", 0)
	c.ObserveRefiner("secant", "failed", 1)
	c.SetRasterCacheStats(1, 1)
	if c.Gatherer() != nil {
		t.Fatalf("nil collector returned a gatherer")
	}
}

func TestInitTracingStdout(t *testing.T) {
	t.Setenv("DEMRAY_TRACING_ENABLED", "true")
	t.Setenv("DEMRAY_TRACING_SAMPLE_RATIO", "2")
	cfg := TracingConfigFromEnv()
	if !cfg.Enabled || cfg.Exporter != ExporterStdout || cfg.SampleRatio != 1 {
		t.Fatalf("config = %+v", cfg)
	}

	var buf bytes.Buffer
	cfg.Output = &buf
	ctx := context.Background()
	shutdown, err := InitTracing(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	_, span := otel.Tracer("test").Start(ctx, "probe")
	span.End()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !strings.Contains(buf.String(), "probe") {
		t.Errorf("span not exported: %q", buf.String())
	}

	if _, err := InitTracing(ctx, TracingConfig{Enabled: true, Exporter: "zipkin"}, nil); err == nil {
		t.Errorf("unsupported exporter accepted")
	}
	off, err := InitTracing(ctx, TracingConfig{}, nil)
	if err != nil {
		t.Fatalf("InitTracing disabled: %v", err)
	}
	ShutdownWithTimeout(ctx, off, nil)
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
