package elevation

import (
	"fmt"
	"math"
	"strings"
)

// Projection maps planetocentric latitude and positive-east longitude in
// degrees to fractional 0-based pixel coordinates, where integer values are
// pixel centres.
type Projection interface {
	ToPixel(lat, lon float64) (sample, line float64)
	ToGround(sample, line float64) (lat, lon float64)
	// Scale is the map resolution in pixels per degree.
	Scale() float64
}

// Equirectangular is a simple cylindrical projection anchored at the
// upper-left corner of pixel (0, 0).
type Equirectangular struct {
	UpperLeftLat    float64
	UpperLeftLon    float64
	PixelsPerDegree float64
}

func NewProjection(name string, upperLeftLat, upperLeftLon, pixelsPerDegree float64) (Projection, error) {
	if pixelsPerDegree <= 0 {
		return nil, fmt.Errorf("projection: scale must be positive, got %v", pixelsPerDegree)
	}
	switch strings.ToLower(name) {
	case "", "equirectangular", "simplecylindrical":
		return Equirectangular{
			UpperLeftLat:    upperLeftLat,
			UpperLeftLon:    upperLeftLon,
			PixelsPerDegree: pixelsPerDegree,
		}, nil
	}
	return nil, fmt.Errorf("projection: unsupported %q", name)
}

func (p Equirectangular) ToPixel(lat, lon float64) (sample, line float64) {
	lon = math.Mod(lon-p.UpperLeftLon, 360)
	if lon < 0 {
		lon += 360
	}
	sample = lon*p.PixelsPerDegree - 0.5
	line = (p.UpperLeftLat-lat)*p.PixelsPerDegree - 0.5
	return sample, line
}

func (p Equirectangular) ToGround(sample, line float64) (lat, lon float64) {
	lat = p.UpperLeftLat - (line+0.5)/p.PixelsPerDegree
	lon = p.UpperLeftLon + (sample+0.5)/p.PixelsPerDegree
	return lat, lon
}

func (p Equirectangular) Scale() float64 { return p.PixelsPerDegree }
