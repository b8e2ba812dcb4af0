package shape

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/pavletto/demray/internal/elevation"
	"github.com/pavletto/demray/internal/raster"
	"gonum.org/v1/gonum/spatial/r3"
)

var marsRadii = [3]float64{3396.19, 3396.19, 3376.2}

func field(t *testing.T, g *raster.Grid, upperLat, upperLon, ppd float64) *elevation.Field {
	t.Helper()
	f, err := elevation.New(elevation.Config{
		Raster:     g,
		Projection: elevation.Equirectangular{UpperLeftLat: upperLat, UpperLeftLon: upperLon, PixelsPerDegree: ppd},
		Radii:      marsRadii,
	})
	if err != nil {
		t.Fatalf("elevation.New: %v", err)
	}
	return f
}

// flatField is a 10°×10° patch centred on lat 0, lon 0 at radius 3396 km.
func flatField(t *testing.T) *elevation.Field {
	return field(t, raster.Fill(10, 10, func(int, int) float64 { return 3396000 }), 5, -5, 1)
}

// stepField straddles lon 0 with 3396.000 km cells to the west and 3396.010
// km cells to the east.
func stepField(t *testing.T) *elevation.Field {
	g := raster.Fill(4, 4, func(s, _ int) float64 {
		if s < 2 {
			return 3396000
		}
		return 3396010
	})
	return field(t, g, 0.02, -0.02, 100)
}

func newShape(t *testing.T, s Surface, cfg Config) *DemShape {
	t.Helper()
	d, err := New(s, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func near(a, b r3.Vec, tol float64) bool { return r3.Norm(r3.Sub(a, b)) <= tol }

type constRadius float64

func (c constRadius) LocalRadius(_, _ float64) (float64, bool) { return float64(c), true }

func TestIntersectEllipsoid(t *testing.T) {
	tests := []struct {
		name    string
		ray     Ray
		a, b, c float64
		want    r3.Vec
		ok      bool
	}{
		{"outside toward centre", Ray{r3.Vec{X: 2}, r3.Vec{X: -1}}, 1, 1, 1, r3.Vec{X: 1}, true},
		{"unnormalised direction", Ray{r3.Vec{X: 2}, r3.Vec{X: -7}}, 1, 1, 1, r3.Vec{X: 1}, true},
		{"pointing away", Ray{r3.Vec{X: 2}, r3.Vec{X: 1}}, 1, 1, 1, r3.Vec{}, false},
		{"passes beside", Ray{r3.Vec{X: 2, Y: 2}, r3.Vec{X: -1}}, 1, 1, 1, r3.Vec{}, false},
		{"from centre", Ray{r3.Vec{}, r3.Vec{Y: 3}}, 1, 1, 1, r3.Vec{Y: 1}, true},
		{"triaxial pole", Ray{r3.Vec{Z: 5}, r3.Vec{Z: -1}}, 2, 3, 1, r3.Vec{Z: 1}, true},
		{"triaxial equator", Ray{r3.Vec{Y: 5}, r3.Vec{Y: -1}}, 2, 3, 1, r3.Vec{Y: 3}, true},
		{"zero direction", Ray{r3.Vec{X: 2}, r3.Vec{}}, 1, 1, 1, r3.Vec{}, false},
		{"zero radius", Ray{r3.Vec{X: 2}, r3.Vec{X: -1}}, 0, 1, 1, r3.Vec{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := IntersectEllipsoid(tt.ray, tt.a, tt.b, tt.c)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && !near(got, tt.want, 1e-12) {
				t.Errorf("point = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLatLonAndParam(t *testing.T) {
	tests := []struct {
		p        r3.Vec
		lat, lon float64
	}{
		{r3.Vec{X: 1}, 0, 0},
		{r3.Vec{Y: -1}, 0, 270},
		{r3.Vec{X: -1}, 0, 180},
		{r3.Vec{Z: 2}, 90, 0},
		{r3.Vec{X: 1, Z: -1}, -45, 0},
	}
	for _, tt := range tests {
		lat, lon := LatLon(tt.p)
		if math.Abs(lat-tt.lat) > 1e-12 || math.Abs(lon-tt.lon) > 1e-12 {
			t.Errorf("LatLon(%v) = (%v, %v), want (%v, %v)", tt.p, lat, lon, tt.lat, tt.lon)
		}
	}

	r := Ray{Origin: r3.Vec{X: 10}, Dir: r3.Vec{X: -2}}
	if got := r.ParamOf(r3.Vec{X: 4, Y: 3}); got != 3 {
		t.Errorf("ParamOf = %v, want 3", got)
	}
	if got := r.At(3); got != (r3.Vec{X: 4}) {
		t.Errorf("At(3) = %v", got)
	}
}

func TestEvaluate(t *testing.T) {
	f := ErrorFunc{Ray: Ray{Origin: r3.Vec{X: 5000}, Dir: r3.Vec{X: -1}}, Surface: flatField(t)}

	above := f.Evaluate(1000)
	if above.Err != nil || math.Abs(above.Error-604) > 1e-9 {
		t.Errorf("Evaluate(1000) = %+v, want error 604 km", above)
	}
	below := f.Evaluate(1700)
	if below.Err != nil || math.Abs(below.Error+96) > 1e-9 {
		t.Errorf("Evaluate(1700) = %+v, want error -96 km", below)
	}

	// the far side of the body is outside the DEM patch
	far := f.Evaluate(9000)
	if !errors.Is(far.Err, ErrNoData) {
		t.Errorf("Evaluate(9000) err = %v, want ErrNoData", far.Err)
	}
	if far.Point != (r3.Vec{X: -4000}) || math.Abs(far.Lon-180) > 1e-9 {
		t.Errorf("failed evaluation should still report its point, got %+v", far)
	}
}

func TestIntersectSurfaceFlat(t *testing.T) {
	d := newShape(t, flatField(t), Config{})
	observer, look := r3.Vec{X: 5000}, r3.Vec{X: -1}

	if !d.IntersectSurface(context.Background(), observer, look) {
		t.Fatalf("IntersectSurface = false, state %+v", d.State())
	}
	p, ok := d.SurfaceIntersection()
	if !ok || !near(p, r3.Vec{X: 3396}, 1e-9) {
		t.Fatalf("intersection = %v, %v, want (3396, 0, 0)", p, ok)
	}

	n, err := d.CalculateSurfaceNormal()
	if err != nil || !near(n, r3.Vec{X: 1}, 1e-12) {
		t.Errorf("surface normal = %v, %v, want (1, 0, 0)", n, err)
	}

	pts, err := d.NeighborPoints(context.Background(), observer, NeighborLooks(look, 1e-4))
	if err != nil {
		t.Fatalf("NeighborPoints: %v", err)
	}
	n, err = d.CalculateLocalNormal(pts)
	if err != nil || !near(n, r3.Vec{X: 1}, 1e-6) {
		t.Errorf("local normal = %v, %v, want (1, 0, 0)", n, err)
	}
	if st := d.State(); !st.HasNormal || !near(st.Point, r3.Vec{X: 3396}, 1e-9) {
		t.Errorf("neighbour search disturbed state: %+v", st)
	}

	if !d.IsDEM() || d.DemScale() != 1 {
		t.Errorf("IsDEM = %v, DemScale = %v", d.IsDEM(), d.DemScale())
	}
}

func TestIntersectSurfaceNoData(t *testing.T) {
	hole := field(t, raster.Fill(10, 10, func(int, int) float64 { return math.NaN() }), 5, -5, 1)
	d := newShape(t, hole, Config{Resolver: FixedResolver(1)})

	if d.IntersectSurface(context.Background(), r3.Vec{X: 5000}, r3.Vec{X: -1}) {
		t.Fatalf("IntersectSurface = true over a no-data DEM")
	}
	st := d.State()
	if st.HasIntersection {
		t.Errorf("HasIntersection = true")
	}
	if len(st.Stages) != 2 {
		t.Fatalf("stages = %d, want secant and fixed point", len(st.Stages))
	}
	for _, o := range st.Stages {
		if !errors.Is(o.Err, ErrNoData) {
			t.Errorf("%s err = %v, want ErrNoData", o.Refiner, o.Err)
		}
	}
	if _, err := d.CalculateSurfaceNormal(); !errors.Is(err, ErrNoIntersection) {
		t.Errorf("CalculateSurfaceNormal err = %v, want ErrNoIntersection", err)
	}
	if _, err := d.Resolution(); !errors.Is(err, ErrNoIntersection) {
		t.Errorf("Resolution err = %v, want ErrNoIntersection", err)
	}
}

func TestIntersectSurfaceMissesBody(t *testing.T) {
	d := newShape(t, flatField(t), Config{})
	if d.IntersectSurface(context.Background(), r3.Vec{X: 5000}, r3.Vec{Y: 1}) {
		t.Fatalf("ray parallel to the surface reported a hit")
	}
	if len(d.State().Stages) != 0 {
		t.Errorf("refiners ran after the initial guess missed")
	}
}

func TestSecantStraddlingCells(t *testing.T) {
	surface := stepField(t)
	observer := r3.Vec{X: 3500, Y: -2}
	ray := Ray{Origin: observer, Dir: r3.Sub(r3.Vec{X: 3396.005}, observer)}

	want, ok := March(ray, surface, MarchParams{Step: 1e-3, MaxT: 2})
	if !ok {
		t.Fatalf("March found no crossing")
	}

	d := newShape(t, surface, Config{Resolver: FixedResolver(0.01)})
	if !d.IntersectSurface(context.Background(), ray.Origin, ray.Dir) {
		t.Fatalf("IntersectSurface = false, state %+v", d.State())
	}
	st := d.State()
	sec := st.Stages[0]
	if !sec.Converged() || sec.Iterations >= 10 {
		t.Errorf("secant status %v after %d iterations, want convergence in < 10", sec.Status, sec.Iterations)
	}
	if !near(st.Point, want.Point, 1e-6) {
		t.Errorf("point %v is %.3g mm from brute force %v", st.Point, r3.Norm(r3.Sub(st.Point, want.Point))*1e6, want.Point)
	}

	r, ok := d.LocalRadius(LatLon(st.Point))
	if !ok {
		t.Fatalf("no radius at intersection")
	}
	res, err := d.Resolution()
	if err != nil {
		t.Fatalf("Resolution: %v", err)
	}
	if got := math.Abs(r-r3.Norm(st.Point)) * 1000; got >= res/100 {
		t.Errorf("radial residual %v m, want < %v m", got, res/100)
	}
	if r < 3396.0 || r > 3396.010 {
		t.Errorf("radius %v outside the straddled cells", r)
	}
}

func TestIntersectSurfaceIsIdempotent(t *testing.T) {
	d := newShape(t, stepField(t), Config{Resolver: FixedResolver(0.01)})
	observer := r3.Vec{X: 3500, Y: -2}
	look := r3.Sub(r3.Vec{X: 3396.005}, observer)

	if !d.IntersectSurface(context.Background(), observer, look) {
		t.Fatalf("first call missed")
	}
	first := d.State().Point
	d.Clear()
	if d.HasIntersection() {
		t.Fatalf("Clear kept the intersection")
	}
	if !d.IntersectSurface(context.Background(), observer, look) {
		t.Fatalf("second call missed")
	}
	if second := d.State().Point; second != first {
		t.Errorf("second point %v differs from first %v", second, first)
	}
}

func TestSecantStagnation(t *testing.T) {
	// |p| is symmetric about the closest approach at t = 5e-5, so the first
	// two iterates have the same error
	s := &Secant{Surface: constRadius(3396), Resolver: FixedResolver(1)}
	ray := Ray{Origin: r3.Vec{X: 4000, Y: -5e-5}, Dir: r3.Vec{Y: 1}}

	out := s.Converge(context.Background(), ray, Seed{Point: ray.Origin})
	if out.Status != StatusStagnant || !errors.Is(out.Err, ErrStagnation) {
		t.Fatalf("outcome = %+v, want stagnation", out)
	}
	if !out.HasPoint {
		t.Errorf("stagnant outcome dropped its best point")
	}
}

func TestFixedPointBudget(t *testing.T) {
	// zero resolution makes the tolerance unreachable
	f := &FixedPoint{Surface: constRadius(3396), Resolver: FixedResolver(0), MaxIterations: 3}
	ray := Ray{Origin: r3.Vec{X: 5000}, Dir: r3.Vec{X: -1}}

	out := f.Converge(context.Background(), ray, Seed{Point: r3.Vec{X: 3400}})
	if !errors.Is(out.Err, ErrIterationBudget) || out.Iterations != 3 {
		t.Fatalf("outcome = %+v, want budget exceeded after 3 iterations", out)
	}
	if !out.HasPoint || !near(out.Point, r3.Vec{X: 3396}, 1e-9) {
		t.Errorf("best point = %v", out.Point)
	}
}

func TestFixedPointMiss(t *testing.T) {
	f := &FixedPoint{Surface: constRadius(10), Resolver: FixedResolver(1)}
	ray := Ray{Origin: r3.Vec{X: 5000, Y: 100}, Dir: r3.Vec{X: -1}}

	out := f.Converge(context.Background(), ray, Seed{Point: r3.Vec{X: 3396, Y: 100}})
	if !errors.Is(out.Err, ErrEllipsoidMiss) || out.Converged() {
		t.Fatalf("outcome = %+v, want ellipsoid miss", out)
	}
}

// seedResolver is coarse at the seed point and fine everywhere else, so a
// tolerance accepted at the seed must be rechecked at the candidate.
type seedResolver struct{ seed r3.Vec }

func (r seedResolver) Resolution(_, p r3.Vec) float64 {
	if p == r.seed {
		return 1e6
	}
	return 1e-4
}

func TestSecantTightensTolerance(t *testing.T) {
	seed := r3.Vec{X: 3396.001}
	s := &Secant{Surface: constRadius(3396), Resolver: seedResolver{seed: seed}}
	ray := Ray{Origin: r3.Vec{X: 5000}, Dir: r3.Vec{X: -1}}

	// the first iterate is 0.9 m off: inside the seed tolerance of 1e4 m,
	// outside the 1e-6 m tolerance at the iterate itself
	out := s.Converge(context.Background(), ray, Seed{Point: seed})
	if !out.Converged() {
		t.Fatalf("outcome = %+v, want convergence", out)
	}
	if out.Iterations < 1 {
		t.Errorf("accepted on the seed tolerance after %d iterations", out.Iterations)
	}
	if out.Resolution != 1e-4 {
		t.Errorf("resolution = %v, want the candidate's 1e-4", out.Resolution)
	}
	if got := math.Abs(r3.Norm(out.Point)-3396) * 1000; got >= tolerance(1e-4) {
		t.Errorf("residual %v m exceeds the tightened tolerance", got)
	}
}

func TestFixedPointTightensTolerance(t *testing.T) {
	seed := r3.Vec{X: 3396.001}
	f := &FixedPoint{Surface: constRadius(3396), Resolver: seedResolver{seed: seed}}
	ray := Ray{Origin: r3.Vec{X: 5000}, Dir: r3.Vec{X: -1}}

	// the first step moves 1 m, which only the seed tolerance accepts
	out := f.Converge(context.Background(), ray, Seed{Point: seed})
	if !out.Converged() || out.Iterations != 2 {
		t.Fatalf("outcome = %+v, want convergence on the second iteration", out)
	}
	if out.Resolution != 1e-4 || !near(out.Point, r3.Vec{X: 3396}, 1e-9) {
		t.Errorf("point %v resolution %v", out.Point, out.Resolution)
	}
}

func TestSecantBudget(t *testing.T) {
	// zero resolution makes the tolerance unreachable
	s := &Secant{Surface: constRadius(3396), Resolver: FixedResolver(0), MaxIterations: 1}
	ray := Ray{Origin: r3.Vec{X: 5000}, Dir: r3.Vec{X: -1}}

	out := s.Converge(context.Background(), ray, Seed{Point: r3.Vec{X: 3400}})
	if !errors.Is(out.Err, ErrIterationBudget) || out.Status != StatusFailed || out.Iterations != 1 {
		t.Fatalf("outcome = %+v, want budget exceeded after 1 iteration", out)
	}
	if !out.HasPoint || !near(out.Point, r3.Vec{X: 3396}, 1e-9) {
		t.Errorf("best point = %v", out.Point)
	}
}

func TestIntersectSurfaceCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := &recorder{}
	d := newShape(t, flatField(t), Config{Metrics: rec})
	if d.IntersectSurface(ctx, r3.Vec{X: 5000}, r3.Vec{X: -1}) {
		t.Fatalf("cancelled call reported a hit")
	}
	st := d.State()
	if len(st.Stages) != 1 || !errors.Is(st.Stages[0].Err, context.Canceled) {
		t.Errorf("stages = %+v, want one cancelled secant", st.Stages)
	}
	if rec.outcomes["cancelled"] != 1 {
		t.Errorf("outcomes = %v", rec.outcomes)
	}
}

type recorder struct {
	outcomes   map[string]int
	iterations map[string]int
}

func (r *recorder) ObserveIntersection(outcome string, _ time.Duration) {
	if r.outcomes == nil {
		r.outcomes = map[string]int{}
	}
	r.outcomes[outcome]++
}

func (r *recorder) ObserveRefiner(refiner, _ string, iterations int) {
	if r.iterations == nil {
		r.iterations = map[string]int{}
	}
	r.iterations[refiner] += iterations
}

func TestMetricsRecorded(t *testing.T) {
	rec := &recorder{}
	d := newShape(t, flatField(t), Config{Metrics: rec})
	d.IntersectSurface(context.Background(), r3.Vec{X: 5000}, r3.Vec{X: -1})
	d.IntersectSurface(context.Background(), r3.Vec{X: 5000}, r3.Vec{X: 1})

	if rec.outcomes["hit"] != 1 || rec.outcomes["miss"] != 1 {
		t.Errorf("outcomes = %v, want one hit and one miss", rec.outcomes)
	}
	if rec.iterations["fixed_point"] != 1 {
		t.Errorf("fixed point iterations = %d, want 1", rec.iterations["fixed_point"])
	}
}

func TestLocalNormal(t *testing.T) {
	p := r3.Vec{X: 10}
	// top/bottom along +Z, left/right along ±Y
	nb := []r3.Vec{
		Top:    {X: 10, Z: 1},
		Bottom: {X: 10, Z: -1},
		Left:   {X: 10, Y: -1},
		Right:  {X: 10, Y: 1},
	}
	n, err := LocalNormal(p, nb)
	if err != nil || !near(n, r3.Vec{X: 1}, 1e-12) {
		t.Errorf("normal = %v, %v, want (1, 0, 0)", n, err)
	}

	// swapping left and right flips the cross product; orientation fixes it
	nb[Left], nb[Right] = nb[Right], nb[Left]
	if n, err := LocalNormal(p, nb); err != nil || r3.Dot(n, r3.Unit(p)) < 0 {
		t.Errorf("normal = %v, %v, want outward", n, err)
	}

	if n, err := LocalNormal(p, nil); !errors.Is(err, ErrDegenerateNormal) || n != (r3.Vec{}) {
		t.Errorf("empty neighbours: %v, %v", n, err)
	}
	collinear := []r3.Vec{{Z: 1}, {Z: -1}, {Z: -2}, {Z: 2}}
	if _, err := LocalNormal(p, collinear); !errors.Is(err, ErrDegenerateNormal) {
		t.Errorf("collinear neighbours err = %v", err)
	}
}

func TestCalculateLocalNormalDegenerate(t *testing.T) {
	d := newShape(t, flatField(t), Config{})
	if _, err := d.CalculateLocalNormal(make([]r3.Vec, 4)); !errors.Is(err, ErrNoIntersection) {
		t.Fatalf("err = %v, want ErrNoIntersection", err)
	}
	d.IntersectSurface(context.Background(), r3.Vec{X: 5000}, r3.Vec{X: -1})
	if _, err := d.CalculateLocalNormal(nil); !errors.Is(err, ErrDegenerateNormal) {
		t.Errorf("err = %v, want ErrDegenerateNormal", err)
	}
	st := d.State()
	if st.HasNormal || st.Normal != (r3.Vec{}) || !st.HasIntersection {
		t.Errorf("state after degenerate normal = %+v", st)
	}
}

func TestResolvers(t *testing.T) {
	o, p := r3.Vec{X: 5000}, r3.Vec{X: 3396}
	if got := (AngularResolver{IFOV: 1e-5}).Resolution(o, p); math.Abs(got-16.04) > 1e-9 {
		t.Errorf("AngularResolver = %v, want 16.04", got)
	}
	if got := FixedResolver(2).Resolution(o, p); got != 2 {
		t.Errorf("FixedResolver = %v", got)
	}
	if _, err := New(constSurface{}, Config{}); err == nil {
		t.Errorf("New accepted a surface without resolver or ground sample distance")
	}

	d := newShape(t, flatField(t), Config{Resolver: AngularResolver{IFOV: 1e-5}})
	d.IntersectSurface(context.Background(), o, r3.Vec{X: -1})
	if res, err := d.Resolution(); err != nil || math.Abs(res-16.04) > 1e-6 {
		t.Errorf("Resolution = %v, %v, want 16.04", res, err)
	}
}

type constSurface struct{ constRadius }

func (constSurface) FindDemValue() float64 { return 1 }
func (constSurface) DemScale() float64     { return 1 }
func (constSurface) Radii() [3]float64     { return [3]float64{1, 1, 1} }

func TestLookFromQuaternion(t *testing.T) {
	h := math.Sqrt2 / 2
	tests := []struct {
		name string
		q    [4]float64
		want r3.Vec
	}{
		{"identity", [4]float64{1, 0, 0, 0}, r3.Vec{X: 1}},
		{"yaw 90", [4]float64{h, 0, 0, h}, r3.Vec{Y: 1}},
		{"pitch 90", [4]float64{h, 0, h, 0}, r3.Vec{Z: -1}},
		{"unnormalised", [4]float64{2, 0, 0, 0}, r3.Vec{X: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := LookFromQuaternion(tt.q)
			if !ok || !near(got, tt.want, 1e-12) {
				t.Errorf("look = %v, %v, want %v", got, ok, tt.want)
			}
		})
	}
	if _, ok := LookFromQuaternion([4]float64{}); ok {
		t.Errorf("zero quaternion accepted")
	}
}

func TestNeighborLooks(t *testing.T) {
	look := r3.Vec{X: -2}
	nb := NeighborLooks(look, 0.01)
	if len(nb) != 4 {
		t.Fatalf("len = %d", len(nb))
	}
	if nb[Top].Z <= 0 || nb[Bottom].Z >= 0 {
		t.Errorf("top/bottom not split along +Z: %v", nb)
	}
	for i, v := range nb {
		cos := r3.Dot(r3.Unit(v), r3.Unit(look))
		if math.Abs(math.Acos(cos)-0.01) > 1e-9 {
			t.Errorf("neighbour %d tilted by %v rad, want 0.01", i, math.Acos(cos))
		}
	}
	if NeighborLooks(r3.Vec{}, 0.01) != nil {
		t.Errorf("zero look produced neighbours")
	}
}
