package shape

import (
	"gonum.org/v1/gonum/spatial/r3"
)

// MarchParams bounds a brute-force search. Step and MaxT are in ray
// parameter units.
type MarchParams struct {
	Step       float64
	MaxT       float64
	Bisections int
}

// March walks the ray from its origin in fixed steps until a point falls on
// or below the surface, then bisects between the last point above and the
// first point below. It is slow and independent of the refiners, which makes
// it useful for checking them. Points without DEM data are stepped over.
func March(ray Ray, surface RadiusSource, p MarchParams) (EvalResult, bool) {
	if !ray.valid() {
		return EvalResult{}, false
	}
	if p.MaxT <= 0 {
		// far enough to cross any body the observer is outside of
		p.MaxT = 2 * r3.Norm(ray.Origin) / r3.Norm(ray.Dir)
	}
	if p.Step <= 0 {
		p.Step = p.MaxT / 1e5
	}
	if p.Bisections <= 0 {
		p.Bisections = 60
	}

	f := ErrorFunc{Ray: ray, Surface: surface}
	var prev EvalResult
	havePrev := false
	for i := 0; ; i++ {
		t := float64(i) * p.Step
		if t > p.MaxT {
			return EvalResult{}, false
		}
		cur := f.Evaluate(t)
		if cur.Err != nil {
			havePrev = false
			continue
		}
		if cur.Error <= 0 {
			if !havePrev {
				// started under the surface or right after a data gap
				return cur, cur.Error == 0
			}
			return bisect(f, prev, cur, p.Bisections)
		}
		prev, havePrev = cur, true
	}
}

func bisect(f ErrorFunc, above, below EvalResult, n int) (EvalResult, bool) {
	for i := 0; i < n; i++ {
		mid := f.Evaluate(0.5 * (above.T + below.T))
		if mid.Err != nil {
			return EvalResult{}, false
		}
		if mid.Error > 0 {
			above = mid
		} else {
			below = mid
		}
	}
	return below, true
}
