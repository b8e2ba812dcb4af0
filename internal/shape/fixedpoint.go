package shape

import (
	"context"
	"log/slog"

	"github.com/pavletto/demray/internal/logging"
	"gonum.org/v1/gonum/spatial/r3"
)

// FixedPoint repeatedly looks up the DEM radius under the current point and
// re-intersects the ray with a sphere of that radius, until successive points
// are closer than a hundredth of a pixel.
type FixedPoint struct {
	Surface       RadiusSource
	Resolver      Resolver
	MaxIterations int
	Logger        logging.Logger
}

func (f *FixedPoint) Name() string { return "fixed_point" }

func (f *FixedPoint) Converge(ctx context.Context, ray Ray, seed Seed) Outcome {
	log := f.Logger
	if log == nil {
		log = logging.FromContext(ctx)
	}
	debug := log.Enabled(ctx, slog.LevelDebug)
	maxIt := maxIterations(f.MaxIterations)

	out := Outcome{Refiner: f.Name()}
	cur := seed.Point
	tol := tolerance(f.Resolver.Resolution(ray.Origin, cur))
	for it := 1; it <= maxIt; it++ {
		if err := ctx.Err(); err != nil {
			out.Err = err
			return out
		}
		out.Iterations = it

		r, ok := f.Surface.LocalRadius(LatLon(cur))
		if !ok {
			out.Err = ErrNoData
			return out
		}
		next, ok := IntersectSphere(ray, r)
		if !ok {
			out.Err = ErrEllipsoidMiss
			return out
		}
		dist2 := r3.Norm2(r3.Sub(next, cur)) * 1e6 // m²
		cur = next
		out.Point, out.T, out.HasPoint = cur, ray.ParamOf(cur), true

		if debug {
			log.Debug(ctx, "fixed point iteration",
				logging.Int("iteration", it),
				logging.Float("radius_km", r),
				logging.Float("step_m2", dist2),
				logging.Float("tol_m", tol),
			)
		}

		if dist2 < tol*tol {
			res := f.Resolver.Resolution(ray.Origin, cur)
			tol = tolerance(res)
			if dist2 < tol*tol {
				out.Status = StatusConverged
				out.Resolution = res
				return out
			}
		}
	}
	out.Err = ErrIterationBudget
	return out
}
