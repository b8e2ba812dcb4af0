// Package shape intersects observer rays with a DEM-shaped target body.
//
// All vectors are body-fixed and in km. Latitudes are planetocentric and
// longitudes positive east, both in degrees.
package shape

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

const rad2deg = 180 / math.Pi

// Ray is the half line Origin + t*Dir, t >= 0. Dir need not be unit length;
// its magnitude scales t.
type Ray struct {
	Origin r3.Vec
	Dir    r3.Vec
}

// At returns the point at ray parameter t.
func (r Ray) At(t float64) r3.Vec {
	return r3.Add(r.Origin, r3.Scale(t, r.Dir))
}

// ParamOf returns the ray parameter of the orthogonal projection of p onto
// the ray's line.
func (r Ray) ParamOf(p r3.Vec) float64 {
	return r3.Dot(r3.Sub(p, r.Origin), r.Dir) / r3.Norm2(r.Dir)
}

func (r Ray) valid() bool {
	n := r3.Norm2(r.Dir)
	return n > 0 && !math.IsInf(n, 0) && !math.IsNaN(n) && !math.IsNaN(r3.Norm2(r.Origin))
}

// LatLon converts a body-fixed point to planetocentric latitude and positive
// east longitude in [0, 360).
func LatLon(p r3.Vec) (lat, lon float64) {
	lat = math.Atan2(p.Z, math.Hypot(p.X, p.Y)) * rad2deg
	lon = math.Atan2(p.Y, p.X) * rad2deg
	if lon < 0 {
		lon += 360
	}
	return lat, lon
}
