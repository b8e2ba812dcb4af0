// Package api exposes ray/DEM intersection and radius lookup as reusable
// operations for the CLI and the HTTP server.
package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/pavletto/demray/internal/logging"
	"github.com/pavletto/demray/internal/shape"
	"gonum.org/v1/gonum/spatial/r3"
)

// Surface is a DEM that can explain why a radius lookup failed.
type Surface interface {
	shape.Surface
	Radius(lat, lon float64) (float64, error)
}

// Env is what every request runs against. Surface is shared read-only;
// each request builds its own DemShape from Shape.
type Env struct {
	DEM     string // name reported back to clients
	Surface Surface
	Shape   shape.Config
	Logger  logging.Logger
}

// Normal kinds accepted in IntersectionRequest.Normal.
const (
	NormalNone      = ""
	NormalEllipsoid = "ellipsoid"
	NormalLocal     = "local"
)

// IntersectionRequest contains parameters for a ray/DEM intersection.
type IntersectionRequest struct {
	Observer [3]float64  // body-fixed km
	Look     [3]float64  // body-fixed direction, any length
	Quat     *[4]float64 // camera attitude (w, x, y, z); overrides Look when set
	Normal   string      // none, ellipsoid or local
	// NeighborAngle is the tilt in radians for local normal neighbours. Zero
	// means one pixel at the intersection.
	NeighborAngle float64
	// Verify repeats the search with a brute-force march.
	Verify bool
}

// StageResult summarises one refiner run.
type StageResult struct {
	Refiner    string `json:"refiner"`
	Status     string `json:"status"`
	Iterations int    `json:"iterations"`
	Error      string `json:"error,omitempty"`
}

// VerifyResult compares the refined point with a brute-force march.
type VerifyResult struct {
	Found   bool       `json:"found"`
	Point   [3]float64 `json:"point_km"`
	OffsetM float64    `json:"offset_m"`
}

// IntersectionResult contains the result of an intersection search.
type IntersectionResult struct {
	DEM        string        `json:"dem,omitempty"`
	Hit        bool          `json:"hit"`
	Point      [3]float64    `json:"point_km"`
	Lat        float64       `json:"lat"`
	Lon        float64       `json:"lon"`
	Radius     float64       `json:"radius_km"`
	Resolution float64       `json:"resolution_m"`
	Normal     *[3]float64   `json:"normal,omitempty"`
	NormalKind string        `json:"normal_kind,omitempty"`
	Stages     []StageResult `json:"stages"`
	Verify     *VerifyResult `json:"verify,omitempty"`
}

// RadiusRequest contains parameters for a local radius lookup.
type RadiusRequest struct {
	Lat float64
	Lon float64
}

// RadiusResult contains the result of a radius lookup.
type RadiusResult struct {
	DEM    string  `json:"dem,omitempty"`
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
	Radius float64 `json:"radius_km"`
}

// ErrBadRequest marks requests that cannot be answered as given.
var ErrBadRequest = errors.New("bad request")

// SearchIntersection intersects one ray with the DEM. A miss is a normal
// result with Hit == false, not an error.
func SearchIntersection(ctx context.Context, env *Env, req IntersectionRequest) (IntersectionResult, error) {
	if env == nil || env.Surface == nil {
		return IntersectionResult{}, fmt.Errorf("surface is nil")
	}
	log := env.Logger
	if log == nil {
		log = logging.Noop()
	}

	observer := vec(req.Observer)
	look := vec(req.Look)
	if req.Quat != nil {
		var ok bool
		if look, ok = shape.LookFromQuaternion(*req.Quat); !ok {
			return IntersectionResult{}, fmt.Errorf("%w: quaternion must be non-zero", ErrBadRequest)
		}
	}
	if r3.Norm(look) == 0 {
		return IntersectionResult{}, fmt.Errorf("%w: look direction must be non-zero", ErrBadRequest)
	}
	switch req.Normal {
	case NormalNone, NormalEllipsoid, NormalLocal:
	default:
		return IntersectionResult{}, fmt.Errorf("%w: unknown normal %q", ErrBadRequest, req.Normal)
	}

	d, err := shape.New(env.Surface, env.Shape)
	if err != nil {
		return IntersectionResult{}, fmt.Errorf("create shape: %w", err)
	}

	res := IntersectionResult{DEM: env.DEM}
	res.Hit = d.IntersectSurface(ctx, observer, look)
	st := d.State()
	for _, o := range st.Stages {
		sr := StageResult{Refiner: o.Refiner, Status: o.Status.String(), Iterations: o.Iterations}
		if o.Err != nil {
			sr.Error = o.Err.Error()
		}
		res.Stages = append(res.Stages, sr)
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	if req.Verify {
		res.Verify = verify(shape.Ray{Origin: observer, Dir: look}, env.Surface, st)
	}
	if !res.Hit {
		log.Debug(ctx, "ray missed DEM", logging.Int("stages", len(st.Stages)))
		return res, nil
	}

	res.Point = arr(st.Point)
	res.Lat, res.Lon = shape.LatLon(st.Point)
	res.Radius = r3.Norm(st.Point)
	if res.Resolution, err = d.Resolution(); err != nil {
		return res, err
	}

	if req.Normal == NormalNone {
		return res, nil
	}
	n, kind := normal(ctx, d, req, observer, look, res.Resolution, log)
	if kind != "" {
		res.Normal, res.NormalKind = &n, kind
	}
	return res, nil
}

// normal computes the requested normal. A local normal whose neighbours miss
// the DEM falls back to the ellipsoid normal.
func normal(ctx context.Context, d *shape.DemShape, req IntersectionRequest, observer, look r3.Vec, resolution float64, log logging.Logger) ([3]float64, string) {
	if req.Normal == NormalLocal {
		angle := req.NeighborAngle
		if angle <= 0 {
			p, _ := d.SurfaceIntersection()
			angle = resolution / (r3.Norm(r3.Sub(p, observer)) * 1000)
		}
		pts, err := d.NeighborPoints(ctx, observer, shape.NeighborLooks(look, angle))
		if err == nil {
			var n r3.Vec
			if n, err = d.CalculateLocalNormal(pts); err == nil {
				return arr(n), NormalLocal
			}
		}
		log.Debug(ctx, "local normal unavailable, using ellipsoid", logging.Err(err))
	}
	n, err := d.CalculateSurfaceNormal()
	if err != nil {
		return [3]float64{}, ""
	}
	return arr(n), NormalEllipsoid
}

func verify(ray shape.Ray, surface shape.RadiusSource, st shape.IntersectionState) *VerifyResult {
	e, ok := shape.March(ray, surface, shape.MarchParams{})
	v := &VerifyResult{Found: ok}
	if !ok {
		return v
	}
	v.Point = arr(e.Point)
	if st.HasIntersection {
		v.OffsetM = r3.Norm(r3.Sub(e.Point, st.Point)) * 1000
	}
	return v
}

// PickRadius returns the local DEM radius at a location.
func PickRadius(ctx context.Context, env *Env, req RadiusRequest) (RadiusResult, error) {
	if env == nil || env.Surface == nil {
		return RadiusResult{}, fmt.Errorf("surface is nil")
	}
	if req.Lat < -90 || req.Lat > 90 {
		return RadiusResult{}, fmt.Errorf("%w: latitude %v out of range", ErrBadRequest, req.Lat)
	}
	r, err := env.Surface.Radius(req.Lat, req.Lon)
	if err != nil {
		return RadiusResult{}, fmt.Errorf("radius lookup failed: %w", err)
	}
	return RadiusResult{DEM: env.DEM, Lat: req.Lat, Lon: req.Lon, Radius: r}, nil
}

func vec(a [3]float64) r3.Vec { return r3.Vec{X: a[0], Y: a[1], Z: a[2]} }
func arr(v r3.Vec) [3]float64 { return [3]float64{v.X, v.Y, v.Z} }
