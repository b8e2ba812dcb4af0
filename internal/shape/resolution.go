package shape

import (
	"gonum.org/v1/gonum/spatial/r3"
)

// Resolver reports the ground sample distance in metres per pixel for a
// surface point seen from observer. The sensor model owns this value.
type Resolver interface {
	Resolution(observer, point r3.Vec) float64
}

// AngularResolver scales slant range by the instantaneous field of view of
// one pixel (radians).
type AngularResolver struct {
	IFOV float64
}

func (r AngularResolver) Resolution(observer, point r3.Vec) float64 {
	return r3.Norm(r3.Sub(point, observer)) * 1000 * r.IFOV
}

// FixedResolver is a constant resolution in metres per pixel.
type FixedResolver float64

func (r FixedResolver) Resolution(_, _ r3.Vec) float64 { return float64(r) }

// GroundSampler is implemented by DEMs that know their own pixel size.
type GroundSampler interface {
	GroundSampleDistance() float64
}

// DemResolver stands in for a sensor by using the DEM pixel size.
type DemResolver struct {
	DEM GroundSampler
}

func (r DemResolver) Resolution(_, _ r3.Vec) float64 {
	return r.DEM.GroundSampleDistance()
}

// tolerance is a hundredth of a pixel, in metres.
func tolerance(resolution float64) float64 {
	return resolution / 100
}
