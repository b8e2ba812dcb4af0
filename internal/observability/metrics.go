// Package observability wires Prometheus metrics and OpenTelemetry tracing.
package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ShapeCollector bundles Prometheus metrics for DEM intersections and the
// HTTP surface that serves them.
type ShapeCollector struct {
	gatherer prometheus.Gatherer

	Intersections        *prometheus.CounterVec
	IntersectionDuration prometheus.Histogram
	RefinerIterations    *prometheus.HistogramVec
	HTTPRequests         *prometheus.CounterVec
	RasterCacheHitRatio  prometheus.Gauge
}

// NewShapeCollector registers metrics against reg, defaulting to the global
// Prometheus registry when nil.
func NewShapeCollector(reg prometheus.Registerer) (*ShapeCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	intersections, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "demray_intersections_total",
		Help: "Ray/DEM intersections, labeled by outcome (hit, miss, cancelled).",
	}, []string{"outcome"}), "demray_intersections_total")
	if err != nil {
		return nil, err
	}

	duration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "demray_intersection_duration_seconds",
		Help:    "Wall time of one ray/DEM intersection.",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	}), "demray_intersection_duration_seconds")
	if err != nil {
		return nil, err
	}

	iterations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "demray_refiner_iterations",
		Help:    "Iterations used by each refinement stage, labeled by refiner and terminal status.",
		Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21, 50, 100},
	}, []string{"refiner", "status"}), "demray_refiner_iterations")
	if err != nil {
		return nil, err
	}

	requests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "demray_http_requests_total",
		Help: "Handled HTTP requests, labeled by path and status code.",
	}, []string{"path", "code"}), "demray_http_requests_total")
	if err != nil {
		return nil, err
	}

	ratio, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "demray_raster_cache_hit_ratio",
		Help: "Hit ratio of the DEM raster block cache.",
	}), "demray_raster_cache_hit_ratio")
	if err != nil {
		return nil, err
	}

	return &ShapeCollector{
		gatherer:             gatherer,
		Intersections:        intersections,
		IntersectionDuration: duration,
		RefinerIterations:    iterations,
		HTTPRequests:         requests,
		RasterCacheHitRatio:  ratio,
	}, nil
}

// ObserveIntersection satisfies shape.Recorder.
func (c *ShapeCollector) ObserveIntersection(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.Intersections.WithLabelValues(outcome).Inc()
	c.IntersectionDuration.Observe(d.Seconds())
}

// ObserveRefiner satisfies shape.Recorder.
func (c *ShapeCollector) ObserveRefiner(refiner, status string, iterations int) {
	if c == nil {
		return
	}
	c.RefinerIterations.WithLabelValues(refiner, status).Observe(float64(iterations))
}

// SetRasterCacheStats derives the block cache hit ratio from raw counts.
func (c *ShapeCollector) SetRasterCacheStats(hits, misses int64) {
	if c == nil || hits+misses == 0 {
		return
	}
	c.RasterCacheHitRatio.Set(float64(hits) / float64(hits+misses))
}

// Middleware counts requests served by next under the given path label.
func (c *ShapeCollector) Middleware(path string, next http.Handler) http.Handler {
	if c == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)
		c.HTTPRequests.WithLabelValues(path, strconv.Itoa(sw.code)).Inc()
	})
}

// Handler exposes a ready-to-use /metrics handler.
func (c *ShapeCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *ShapeCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
