package shape

import (
	"gonum.org/v1/gonum/spatial/r3"
)

// Neighbor order expected by LocalNormal.
const (
	Top = iota
	Bottom
	Left
	Right
)

// LocalNormal estimates the unit surface normal at point from four surface
// points around it, ordered top, bottom, left, right. The normal is
// (top-bottom) × (right-left), flipped to point away from the body centre.
// A missing or collinear neighbour set yields the zero vector and
// ErrDegenerateNormal.
func LocalNormal(point r3.Vec, neighbors []r3.Vec) (r3.Vec, error) {
	if len(neighbors) != 4 {
		return r3.Vec{}, ErrDegenerateNormal
	}
	n := r3.Cross(
		r3.Sub(neighbors[Top], neighbors[Bottom]),
		r3.Sub(neighbors[Right], neighbors[Left]),
	)
	if r3.Norm(n) == 0 {
		return r3.Vec{}, ErrDegenerateNormal
	}
	n = r3.Unit(n)
	if r3.Norm(point) > 0 && r3.Dot(n, r3.Unit(point)) < 0 {
		n = r3.Scale(-1, n)
	}
	return n, nil
}
