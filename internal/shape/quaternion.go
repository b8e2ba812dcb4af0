package shape

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Boresight is the camera look axis in the camera frame.
var Boresight = r3.Vec{X: 1}

// LookFromQuaternion rotates the camera boresight into the body-fixed frame
// with the attitude q = (w, x, y, z). q need not be normalised; ok is false
// for a zero or non-finite quaternion.
func LookFromQuaternion(q [4]float64) (look r3.Vec, ok bool) {
	n := quat.Number{Real: q[0], Imag: q[1], Jmag: q[2], Kmag: q[3]}
	abs := quat.Abs(n)
	if abs < 1e-9 || math.IsInf(abs, 0) || math.IsNaN(abs) {
		return r3.Vec{}, false
	}
	n = quat.Scale(1/abs, n)

	v := quat.Number{Imag: Boresight.X, Jmag: Boresight.Y, Kmag: Boresight.Z}
	r := quat.Mul(quat.Mul(n, v), quat.Conj(n))
	return r3.Vec{X: r.Imag, Y: r.Jmag, Z: r.Kmag}, true
}

// NeighborLooks returns four looks tilted by angle radians from look,
// ordered top, bottom, left, right as LocalNormal expects. Top tilts toward
// the body's +Z axis.
func NeighborLooks(look r3.Vec, angle float64) []r3.Vec {
	norm := r3.Norm(look)
	if norm == 0 {
		return nil
	}
	u := r3.Scale(1/norm, look)
	right := r3.Cross(r3.Vec{Z: 1}, u)
	if r3.Norm(right) < 1e-12 {
		right = r3.Cross(r3.Vec{X: 1}, u)
	}
	right = r3.Unit(right)
	up := r3.Unit(r3.Cross(u, right))

	k := math.Tan(angle) * norm
	return []r3.Vec{
		Top:    r3.Add(look, r3.Scale(k, up)),
		Bottom: r3.Sub(look, r3.Scale(k, up)),
		Left:   r3.Sub(look, r3.Scale(k, right)),
		Right:  r3.Add(look, r3.Scale(k, right)),
	}
}
