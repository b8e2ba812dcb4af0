package shape

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// IntersectEllipsoid intersects ray with the origin-centred ellipsoid of
// semi-axes a, b, c. From outside it returns the near intersection; from
// inside it returns the exit point. ok is false when the ray misses, points
// away from the body or the inputs are degenerate.
func IntersectEllipsoid(ray Ray, a, b, c float64) (p r3.Vec, ok bool) {
	if a <= 0 || b <= 0 || c <= 0 || !ray.valid() {
		return r3.Vec{}, false
	}
	// scale the body to the unit sphere
	o := r3.Vec{X: ray.Origin.X / a, Y: ray.Origin.Y / b, Z: ray.Origin.Z / c}
	d := r3.Vec{X: ray.Dir.X / a, Y: ray.Dir.Y / b, Z: ray.Dir.Z / c}

	qa := r3.Norm2(d)
	qb := 2 * r3.Dot(o, d)
	qc := r3.Norm2(o) - 1
	disc := qb*qb - 4*qa*qc
	if disc < 0 {
		return r3.Vec{}, false
	}

	var t1, t2 float64
	if q := -0.5 * (qb + math.Copysign(math.Sqrt(disc), qb)); q != 0 {
		t1, t2 = q/qa, qc/q
		if t1 > t2 {
			t1, t2 = t2, t1
		}
	}

	switch {
	case qc > 0 && t1 >= 0:
		return ray.At(t1), true
	case qc <= 0 && t2 >= 0:
		return ray.At(t2), true
	}
	return r3.Vec{}, false
}

// IntersectSphere intersects ray with a sphere of radius r. The refiners use
// it to approximate the body locally by a sphere of the current DEM radius,
// the same radius on all three axes.
func IntersectSphere(ray Ray, r float64) (r3.Vec, bool) {
	return IntersectEllipsoid(ray, r, r, r)
}

// EllipsoidNormal returns the outward unit normal of the ellipsoid a, b, c at
// the surface point p. It is the zero vector when p is the origin.
func EllipsoidNormal(a, b, c float64, p r3.Vec) r3.Vec {
	n := r3.Vec{X: p.X / (a * a), Y: p.Y / (b * b), Z: p.Z / (c * c)}
	if r3.Norm(n) == 0 {
		return r3.Vec{}
	}
	return r3.Unit(n)
}
