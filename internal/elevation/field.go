// Package elevation turns a DEM raster into local radii of the target body.
package elevation

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/pavletto/demray/internal/raster"
)

// ErrNoData marks a lookup whose interpolation window touches a no-data
// pixel, leaves the raster, or starts from an undefined coordinate.
var ErrNoData = errors.New("elevation: no data")

// probes per axis when searching the raster for a representative value
const demProbes = 5

type Config struct {
	Raster     raster.Raster
	Projection Projection
	Datum      Datum
	// Radii are the target tri-axial radii in km.
	Radii [3]float64
}

// Field answers local radius queries against a DEM. It only reads the raster,
// so a single Field may be shared when the raster itself is safe for
// concurrent reads.
type Field struct {
	raster raster.Raster
	proj   Projection
	datum  Datum
	radii  [3]float64
	wrap   bool

	once     sync.Once
	demValue float64
}

func New(cfg Config) (*Field, error) {
	if cfg.Raster == nil {
		return nil, fmt.Errorf("elevation: raster required")
	}
	if cfg.Projection == nil {
		return nil, fmt.Errorf("elevation: projection required")
	}
	if cfg.Datum == nil {
		cfg.Datum = RadiusDatum{}
	}
	span := float64(cfg.Raster.Samples()) / cfg.Projection.Scale()
	return &Field{
		raster: cfg.Raster,
		proj:   cfg.Projection,
		datum:  cfg.Datum,
		radii:  cfg.Radii,
		wrap:   span >= 360-1e-9,
	}, nil
}

// FromLabel builds a Field for a raster described by label. Non-zero radii
// override the label's target radii.
func FromLabel(r raster.Raster, label raster.Label, radii [3]float64) (*Field, error) {
	if radii == ([3]float64{}) && len(label.Target.Radii) == 3 {
		copy(radii[:], label.Target.Radii)
	}
	proj, err := NewProjection(label.Mapping.Projection, label.Mapping.UpperLeftLatitude,
		label.Mapping.UpperLeftLongitude, label.Mapping.Scale)
	if err != nil {
		return nil, err
	}
	datum, err := NewDatum(label.Mapping.Datum, radii)
	if err != nil {
		return nil, err
	}
	return New(Config{Raster: r, Projection: proj, Datum: datum, Radii: radii})
}

// Radius returns the bilinearly interpolated geocentric radius in km at
// planetocentric lat and positive-east lon (degrees).
func (f *Field) Radius(lat, lon float64) (float64, error) {
	if math.IsNaN(lat) || math.IsNaN(lon) || lat < -90 || lat > 90 {
		return 0, ErrNoData
	}
	sample, line := f.proj.ToPixel(lat, lon)
	s0, l0 := math.Floor(sample), math.Floor(line)
	w, err := f.window(int(s0), int(l0))
	if err != nil {
		return 0, fmt.Errorf("elevation: read (%d, %d): %w", int(s0), int(l0), err)
	}
	v, ok := bilinear(w, sample-s0, line-l0)
	if !ok {
		return 0, ErrNoData
	}
	return f.datum.Radius(lat, lon, v), nil
}

// LocalRadius is Radius with every failure folded into ok == false.
func (f *Field) LocalRadius(lat, lon float64) (radius float64, ok bool) {
	r, err := f.Radius(lat, lon)
	if err != nil {
		return 0, false
	}
	return r, true
}

// FindDemValue returns a representative DEM radius in km: the first valid
// pixel of a coarse interior grid in raster scan order, or the mean target
// radius when none is valid. The value is computed once.
func (f *Field) FindDemValue() float64 {
	f.once.Do(func() {
		f.demValue = f.probe()
	})
	return f.demValue
}

func (f *Field) probe() float64 {
	samples, lines := f.raster.Samples(), f.raster.Lines()
	sampleSpacing := max(samples/(demProbes+1), 1)
	lineSpacing := max(lines/(demProbes+1), 1)

	var px [1]float64
	for s := sampleSpacing; s <= samples-sampleSpacing; s += sampleSpacing {
		for l := lineSpacing; l <= lines-lineSpacing; l += lineSpacing {
			if err := f.raster.Read(s, l, 1, 1, px[:]); err != nil || math.IsNaN(px[0]) {
				continue
			}
			lat, lon := f.proj.ToGround(float64(s), float64(l))
			return f.datum.Radius(lat, lon, px[0])
		}
	}
	return (f.radii[0] + f.radii[1] + f.radii[2]) / 3
}

// DemScale is the DEM map resolution in pixels per degree.
func (f *Field) DemScale() float64 { return f.proj.Scale() }

// Radii returns the target radii in km.
func (f *Field) Radii() [3]float64 { return f.radii }

// GroundSampleDistance is the DEM pixel size in metres at the representative
// DEM radius.
func (f *Field) GroundSampleDistance() float64 {
	return f.FindDemValue() * 1000 * math.Pi / 180 / f.proj.Scale()
}

// window reads the 2×2 neighbourhood whose upper-left pixel is (s0, l0),
// wrapping samples around the antimeridian for global DEMs.
func (f *Field) window(s0, l0 int) ([4]float64, error) {
	var w [4]float64
	n := f.raster.Samples()
	if !f.wrap || (s0 >= 0 && s0+1 < n) {
		err := f.raster.Read(s0, l0, 2, 2, w[:])
		return w, err
	}
	var col [2]float64
	for i := 0; i < 2; i++ {
		s := ((s0+i)%n + n) % n
		if err := f.raster.Read(s, l0, 1, 2, col[:]); err != nil {
			return w, err
		}
		w[i], w[2+i] = col[0], col[1]
	}
	return w, nil
}

// bilinear interpolates p = {p00, p10, p01, p11} (row-major 2×2) at
// fractional offsets fx, fy. Any NaN corner makes the result invalid.
func bilinear(p [4]float64, fx, fy float64) (float64, bool) {
	for _, v := range p {
		if math.IsNaN(v) {
			return 0, false
		}
	}
	a := p[0]*(1-fx) + p[1]*fx
	b := p[2]*(1-fx) + p[3]*fx
	return a*(1-fy) + b*fy, true
}
