package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pavletto/demray/internal/elevation"
	"github.com/pavletto/demray/internal/logging"
	"github.com/pavletto/demray/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const tracerName = "github.com/pavletto/demray/internal/api"

type Server struct {
	Env     *Env
	Metrics *observability.ShapeCollector
	Logger  logging.Logger
	// Timeout bounds each request; zero means 10s.
	Timeout time.Duration
}

// Routes returns the server mux with metrics wired in.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/intersection", s.Metrics.Middleware("/intersection", http.HandlerFunc(s.HandleIntersection)))
	mux.Handle("/radius", s.Metrics.Middleware("/radius", http.HandlerFunc(s.HandleRadius)))
	mux.HandleFunc("/health", s.HandleHealth)
	if s.Metrics != nil {
		mux.Handle("/metrics", s.Metrics.Handler())
	}
	return mux
}

func (s *Server) HandleIntersection(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	observer, err := parseVec(q.Get("observer"), 3)
	if err != nil {
		http.Error(w, "invalid observer: "+err.Error(), http.StatusBadRequest)
		return
	}
	req := IntersectionRequest{
		Normal: q.Get("normal"),
		Verify: q.Get("verify") == "true",
	}
	copy(req.Observer[:], observer)

	if qs := q.Get("quat"); qs != "" {
		quat, err := parseVec(qs, 4)
		if err != nil {
			http.Error(w, "invalid quat: "+err.Error(), http.StatusBadRequest)
			return
		}
		req.Quat = &[4]float64{}
		copy(req.Quat[:], quat)
	} else {
		look, err := parseVec(q.Get("look"), 3)
		if err != nil {
			http.Error(w, "invalid look: "+err.Error(), http.StatusBadRequest)
			return
		}
		copy(req.Look[:], look)
	}
	if as := q.Get("neighbor_angle"); as != "" {
		if req.NeighborAngle, err = strconv.ParseFloat(as, 64); err != nil {
			http.Error(w, "invalid neighbor_angle", http.StatusBadRequest)
			return
		}
	}

	ctx, cancel := s.context(r)
	defer cancel()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "http/intersection")
	defer span.End()

	result, err := SearchIntersection(ctx, s.Env, req)
	if err != nil {
		span.RecordError(err)
		s.fail(ctx, w, "intersection search failed", err)
		return
	}
	span.SetAttributes(attribute.Bool("hit", result.Hit))
	writeJSON(w, result)
}

func (s *Server) HandleRadius(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		http.Error(w, "invalid lat", http.StatusBadRequest)
		return
	}
	lon, err := strconv.ParseFloat(q.Get("lon"), 64)
	if err != nil {
		http.Error(w, "invalid lon", http.StatusBadRequest)
		return
	}

	ctx, cancel := s.context(r)
	defer cancel()

	result, err := PickRadius(ctx, s.Env, RadiusRequest{Lat: lat, Lon: lon})
	if err != nil {
		s.fail(ctx, w, "radius lookup failed", err)
		return
	}
	writeJSON(w, result)
}

func (s *Server) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) context(r *http.Request) (context.Context, context.CancelFunc) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx := r.Context()
	if s.Logger != nil {
		ctx = logging.ContextWithLogger(ctx, s.Logger)
	}
	return context.WithTimeout(ctx, timeout)
}

func (s *Server) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrBadRequest):
		code = http.StatusBadRequest
	case errors.Is(err, elevation.ErrNoData):
		code = http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
	}
	if code == http.StatusInternalServerError {
		logging.FromContext(ctx).Error(ctx, msg, logging.Err(err))
	}
	http.Error(w, msg+": "+err.Error(), code)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// parseVec parses n comma-separated floats.
func parseVec(s string, n int) ([]float64, error) {
	if s == "" {
		return nil, fmt.Errorf("%d comma-separated values required", n)
	}
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("want %d values, got %d", n, len(parts))
	}
	out := make([]float64, n)
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}
