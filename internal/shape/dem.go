package shape

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/pavletto/demray/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gonum.org/v1/gonum/spatial/r3"
)

const tracerName = "github.com/pavletto/demray/internal/shape"

// guessMargin keeps the initial sphere strictly below the observer, in km.
const guessMargin = 1e-4

// Surface is a DEM as seen by DemShape.
type Surface interface {
	RadiusSource
	// FindDemValue is a representative DEM radius in km.
	FindDemValue() float64
	// DemScale is the DEM resolution in pixels per degree.
	DemScale() float64
	// Radii are the target tri-axial radii in km.
	Radii() [3]float64
}

// Recorder receives per-call measurements. observability.ShapeCollector
// implements it.
type Recorder interface {
	ObserveIntersection(outcome string, d time.Duration)
	ObserveRefiner(refiner, status string, iterations int)
}

type Config struct {
	// Resolver supplies metres per pixel at candidate points. Defaults to the
	// DEM pixel size when the surface reports one.
	Resolver                Resolver
	MaxSecantIterations     int
	MaxFixedPointIterations int
	// Stages replaces the default secant then fixed-point sequence.
	Stages  []Refiner
	Logger  logging.Logger
	Metrics Recorder
}

// DemShape intersects rays with a DEM surface. The surface may be shared
// between shapes; a DemShape itself holds per-ray state and must not be used
// from more than one goroutine at a time.
type DemShape struct {
	surface  Surface
	resolver Resolver
	stages   []Refiner
	log      logging.Logger
	metrics  Recorder

	state IntersectionState
}

func New(surface Surface, cfg Config) (*DemShape, error) {
	if surface == nil {
		return nil, fmt.Errorf("shape: surface required")
	}
	resolver := cfg.Resolver
	if resolver == nil {
		gs, ok := surface.(GroundSampler)
		if !ok {
			return nil, fmt.Errorf("shape: resolver required for surface without ground sample distance")
		}
		resolver = DemResolver{DEM: gs}
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Noop()
	}
	stages := cfg.Stages
	if len(stages) == 0 {
		stages = []Refiner{
			&Secant{Surface: surface, Resolver: resolver, MaxIterations: cfg.MaxSecantIterations, Logger: log},
			&FixedPoint{Surface: surface, Resolver: resolver, MaxIterations: cfg.MaxFixedPointIterations, Logger: log},
		}
	}
	return &DemShape{
		surface:  surface,
		resolver: resolver,
		stages:   stages,
		log:      log,
		metrics:  cfg.Metrics,
	}, nil
}

// IsDEM reports that this shape model is backed by a DEM.
func (d *DemShape) IsDEM() bool { return true }

func (d *DemShape) DemScale() float64 { return d.surface.DemScale() }

func (d *DemShape) LocalRadius(lat, lon float64) (float64, bool) {
	return d.surface.LocalRadius(lat, lon)
}

// State returns a copy of the current intersection state.
func (d *DemShape) State() IntersectionState { return d.state }

func (d *DemShape) HasIntersection() bool { return d.state.HasIntersection }

// SurfaceIntersection returns the last intersection point.
func (d *DemShape) SurfaceIntersection() (r3.Vec, bool) {
	return d.state.Point, d.state.HasIntersection
}

// Clear forgets the last intersection.
func (d *DemShape) Clear() { d.state = IntersectionState{} }

// IntersectSurface finds where the ray from observer along look first meets
// the DEM and reports whether it did. Failures of any stage leave the shape
// without an intersection; they never abort the caller.
func (d *DemShape) IntersectSurface(ctx context.Context, observer, look r3.Vec) bool {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "shape/intersect",
		trace.WithAttributes(
			attribute.Float64Slice("observer_km", []float64{observer.X, observer.Y, observer.Z}),
			attribute.Float64Slice("look", []float64{look.X, look.Y, look.Z}),
		))
	defer span.End()

	st, err := d.intersect(ctx, span, Ray{Origin: observer, Dir: look})
	d.state = st

	outcome := "hit"
	if !st.HasIntersection {
		outcome = "miss"
		if ctx.Err() != nil {
			outcome = "cancelled"
		}
		if err != nil {
			span.RecordError(err)
		}
		d.log.Debug(ctx, "no intersection", logging.Err(err))
	}
	span.SetAttributes(attribute.String("outcome", outcome))
	if d.metrics != nil {
		d.metrics.ObserveIntersection(outcome, time.Since(start))
	}
	return st.HasIntersection
}

func (d *DemShape) intersect(ctx context.Context, span trace.Span, ray Ray) (IntersectionState, error) {
	st := IntersectionState{Observer: ray.Origin}
	if !ray.valid() {
		return st, fmt.Errorf("shape: invalid ray: %w", ErrEllipsoidMiss)
	}

	r := math.Min(d.surface.FindDemValue(), r3.Norm(ray.Origin)-guessMargin)
	guess, ok := IntersectSphere(ray, r)
	if !ok {
		return st, fmt.Errorf("shape: initial guess at radius %.6f km: %w", r, ErrEllipsoidMiss)
	}
	span.AddEvent("initial guess", trace.WithAttributes(attribute.Float64("radius_km", r)))

	seed := Seed{Point: guess}
	var last Outcome
	for _, stage := range d.stages {
		last = stage.Converge(ctx, ray, seed)
		st.Stages = append(st.Stages, last)
		d.observe(ctx, span, last)
		if err := ctx.Err(); err != nil {
			return st, err
		}
		if last.HasPoint {
			seed = Seed{Point: last.Point}
		}
	}
	if !last.Converged() {
		return st, last.Err
	}
	st.Point = last.Point
	st.HasIntersection = true
	st.setResolution(last.Resolution)
	return st, nil
}

func (d *DemShape) observe(ctx context.Context, span trace.Span, o Outcome) {
	attrs := []attribute.KeyValue{
		attribute.String("refiner", o.Refiner),
		attribute.String("status", o.Status.String()),
		attribute.Int("iterations", o.Iterations),
	}
	if o.Err != nil {
		attrs = append(attrs, attribute.String("error", o.Err.Error()))
	}
	span.AddEvent("refiner done", trace.WithAttributes(attrs...))
	d.log.Debug(ctx, "refiner done",
		logging.String("refiner", o.Refiner),
		logging.String("status", o.Status.String()),
		logging.Int("iterations", o.Iterations),
		logging.Err(o.Err),
	)
	if d.metrics != nil {
		d.metrics.ObserveRefiner(o.Refiner, o.Status.String(), o.Iterations)
	}
}

// Resolution returns metres per pixel at the intersection point, computing it
// on first use.
func (d *DemShape) Resolution() (float64, error) {
	if !d.state.HasIntersection {
		return 0, ErrNoIntersection
	}
	if !d.state.hasResolution {
		d.state.setResolution(d.resolver.Resolution(d.state.Observer, d.state.Point))
	}
	return d.state.resolution, nil
}

// CalculateSurfaceNormal sets the normal to that of the target ellipsoid at
// the intersection point. This is the default normal.
func (d *DemShape) CalculateSurfaceNormal() (r3.Vec, error) {
	if !d.state.HasIntersection {
		return r3.Vec{}, ErrNoIntersection
	}
	radii := d.surface.Radii()
	var n r3.Vec
	if radii[0] > 0 && radii[1] > 0 && radii[2] > 0 {
		n = EllipsoidNormal(radii[0], radii[1], radii[2], d.state.Point)
	} else if r3.Norm(d.state.Point) > 0 {
		n = r3.Unit(d.state.Point)
	}
	ok := r3.Norm(n) > 0
	d.state.setNormal(n, ok)
	if !ok {
		return n, ErrDegenerateNormal
	}
	return n, nil
}

// CalculateLocalNormal sets the normal from four surface points around the
// intersection, ordered top, bottom, left, right.
func (d *DemShape) CalculateLocalNormal(neighbors []r3.Vec) (r3.Vec, error) {
	if !d.state.HasIntersection {
		return r3.Vec{}, ErrNoIntersection
	}
	n, err := LocalNormal(d.state.Point, neighbors)
	d.state.setNormal(n, err == nil)
	return n, err
}

// NeighborPoints intersects each look from observer with a scratch shape on
// the same surface. The current state is left untouched.
func (d *DemShape) NeighborPoints(ctx context.Context, observer r3.Vec, looks []r3.Vec) ([]r3.Vec, error) {
	scratch := &DemShape{
		surface:  d.surface,
		resolver: d.resolver,
		stages:   d.stages,
		log:      d.log,
	}
	pts := make([]r3.Vec, 0, len(looks))
	for i, look := range looks {
		if !scratch.IntersectSurface(ctx, observer, look) {
			return nil, fmt.Errorf("shape: neighbor %d: %w", i, ErrNoIntersection)
		}
		pts = append(pts, scratch.state.Point)
	}
	return pts, nil
}
