package shape

import (
	"gonum.org/v1/gonum/spatial/r3"
)

// RadiusSource answers local surface radius queries in km.
type RadiusSource interface {
	LocalRadius(lat, lon float64) (radius float64, ok bool)
}

// EvalResult is one evaluation of the radial error along a ray.
type EvalResult struct {
	T             float64
	Point         r3.Vec
	Lat, Lon      float64
	PointRadius   float64 // km
	SurfaceRadius float64 // km, zero when Err is set
	// Error is PointRadius - SurfaceRadius in km: positive above the
	// surface, negative below.
	Error float64
	Err   error
}

// ErrorFunc measures how far the points of a ray sit above the DEM surface.
// Evaluate has no side effects.
type ErrorFunc struct {
	Ray     Ray
	Surface RadiusSource
}

func (f ErrorFunc) Evaluate(t float64) EvalResult {
	p := f.Ray.At(t)
	lat, lon := LatLon(p)
	res := EvalResult{
		T:           t,
		Point:       p,
		Lat:         lat,
		Lon:         lon,
		PointRadius: r3.Norm(p),
	}
	sr, ok := f.Surface.LocalRadius(lat, lon)
	if !ok {
		res.Err = ErrNoData
		return res
	}
	res.SurfaceRadius = sr
	res.Error = res.PointRadius - sr
	return res
}
