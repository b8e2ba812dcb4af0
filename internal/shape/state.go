package shape

import (
	"gonum.org/v1/gonum/spatial/r3"
)

// IntersectionState is the result of the last IntersectSurface call on a
// DemShape. It is replaced as a whole at the end of each call.
type IntersectionState struct {
	Observer        r3.Vec
	Point           r3.Vec
	HasIntersection bool

	// resolution is computed on first use, in metres per pixel
	resolution    float64
	hasResolution bool

	Normal    r3.Vec
	HasNormal bool

	// Stages holds one outcome per refiner, in the order they ran.
	Stages []Outcome
}

func (s *IntersectionState) setResolution(res float64) {
	s.resolution, s.hasResolution = res, true
}

func (s *IntersectionState) setNormal(n r3.Vec, ok bool) {
	s.Normal, s.HasNormal = n, ok
}
