package elevation

import (
	"fmt"
	"math"
	"strings"

	"github.com/westphae/geomag/pkg/egm96"
)

// WGS84 semi-axes in km, the reference surface of EGM96 heights.
const (
	wgs84A = 6378.137
	wgs84C = 6356.752314245
)

// Datum converts a DEM value in metres to a geocentric radius in km.
type Datum interface {
	Radius(lat, lon, value float64) float64
}

// RadiusDatum is used by DEMs that already store radii.
type RadiusDatum struct{}

func (RadiusDatum) Radius(_, _, value float64) float64 { return value / 1000 }

// EllipsoidDatum treats values as heights above a biaxial ellipsoid with
// equatorial radius A and polar radius C (km).
type EllipsoidDatum struct {
	A, C float64
}

func (d EllipsoidDatum) Radius(lat, _, value float64) float64 {
	return ellipsoidRadius(d.A, d.C, lat) + value/1000
}

// GeoidDatum treats values as heights above the EGM96 geoid. The geoid
// undulation is added to the WGS84 ellipsoid radius.
type GeoidDatum struct{}

func (GeoidDatum) Radius(lat, lon, value float64) float64 {
	return ellipsoidRadius(wgs84A, wgs84C, lat) + (value+geoidUndulation(lat, lon))/1000
}

// geoidUndulation returns the EGM96 geoid height above WGS84 in metres at
// planetocentric lat.
func geoidUndulation(lat, lon float64) float64 {
	if lon > 180 {
		lon -= 360
	}
	loc := egm96.NewLocationGeodetic(geodeticLatitude(wgs84A, wgs84C, lat), lon, 0)
	hMSL, err := loc.HeightAboveMSL()
	if err != nil {
		// outside the model grid: fall back to the bare ellipsoid
		return 0
	}
	return -hMSL
}

// geodeticLatitude converts planetocentric lat (degrees) on the surface of a
// biaxial ellipsoid to geodetic latitude: tan φg = tan φc · a²/c².
func geodeticLatitude(a, c, lat float64) float64 {
	s, co := math.Sincos(lat * math.Pi / 180)
	return math.Atan2(s*a*a, co*c*c) * 180 / math.Pi
}

// ellipsoidRadius is the geocentric radius of a biaxial ellipsoid at
// planetocentric latitude lat (degrees).
func ellipsoidRadius(a, c, lat float64) float64 {
	if a == c {
		return a
	}
	s, co := math.Sincos(lat * math.Pi / 180)
	return a * c / math.Sqrt(c*c*co*co+a*a*s*s)
}

// NewDatum resolves a label datum name. radii are the target radii in km and
// are only consulted by the ellipsoid datum.
func NewDatum(name string, radii [3]float64) (Datum, error) {
	switch strings.ToLower(name) {
	case "", "radius":
		return RadiusDatum{}, nil
	case "ellipsoid":
		if radii[0] <= 0 || radii[2] <= 0 {
			return nil, fmt.Errorf("datum: ellipsoid needs target radii")
		}
		return EllipsoidDatum{A: (radii[0] + radii[1]) / 2, C: radii[2]}, nil
	case "egm96", "geoid":
		return GeoidDatum{}, nil
	}
	return nil, fmt.Errorf("datum: unsupported %q", name)
}
