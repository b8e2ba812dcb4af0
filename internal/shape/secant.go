package shape

import (
	"context"
	"log/slog"
	"math"

	"github.com/pavletto/demray/internal/logging"
)

// DefaultPerturbation is the step from the first to the second secant
// iterate, in km.
const DefaultPerturbation = 1e-4

// Secant finds the root of the radial error along the ray with the secant
// method. It starts at the projection of the seed onto the ray.
type Secant struct {
	Surface       RadiusSource
	Resolver      Resolver
	MaxIterations int
	Perturbation  float64
	Logger        logging.Logger
}

func (s *Secant) Name() string { return "secant" }

func (s *Secant) Converge(ctx context.Context, ray Ray, seed Seed) Outcome {
	log := s.Logger
	if log == nil {
		log = logging.FromContext(ctx)
	}
	debug := log.Enabled(ctx, slog.LevelDebug)
	eps := s.Perturbation
	if eps <= 0 {
		eps = DefaultPerturbation
	}
	maxIt := maxIterations(s.MaxIterations)

	out := Outcome{Refiner: s.Name()}
	f := ErrorFunc{Ray: ray, Surface: s.Surface}
	var bestErr float64
	// keep tracks the evaluation closest to the surface
	keep := func(e EvalResult) {
		if !out.HasPoint || math.Abs(e.Error) < math.Abs(bestErr) {
			out.Point, out.T, out.HasPoint = e.Point, e.T, true
			bestErr = e.Error
		}
	}

	e0 := f.Evaluate(ray.ParamOf(seed.Point))
	if e0.Err != nil {
		out.Err = e0.Err
		return out
	}
	keep(e0)
	e1 := f.Evaluate(e0.T + eps)
	if e1.Err != nil {
		out.Err = e1.Err
		return out
	}
	keep(e1)

	tol := tolerance(s.Resolver.Resolution(ray.Origin, seed.Point))
	for i := 0; i < maxIt; i++ {
		if err := ctx.Err(); err != nil {
			out.Err = err
			return out
		}
		if debug {
			log.Debug(ctx, "secant iteration",
				logging.Int("iteration", i),
				logging.Float("t", e1.T),
				logging.Float("error_m", e1.Error*1000),
				logging.Float("tol_m", tol),
			)
		}

		if math.Abs(e1.Error)*1000 < tol {
			res := s.Resolver.Resolution(ray.Origin, e1.Point)
			tol = tolerance(res)
			if math.Abs(e1.Error)*1000 < tol {
				out.Status = StatusConverged
				out.Point, out.T, out.HasPoint = e1.Point, e1.T, true
				out.Iterations = i
				out.Resolution = res
				return out
			}
		}

		if e1.Error == e0.Error {
			out.Status = StatusStagnant
			out.Iterations = i
			out.Err = ErrStagnation
			return out
		}

		t2 := e1.T - e1.Error*(e1.T-e0.T)/(e1.Error-e0.Error)
		e2 := f.Evaluate(t2)
		out.Iterations = i + 1
		if e2.Err != nil {
			out.Err = e2.Err
			return out
		}
		keep(e2)
		e0, e1 = e1, e2
	}
	out.Err = ErrIterationBudget
	return out
}
