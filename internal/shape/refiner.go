package shape

import (
	"context"
	"errors"

	"github.com/pavletto/demray/internal/elevation"
	"gonum.org/v1/gonum/spatial/r3"
)

var (
	// ErrNoData is returned when the DEM has no sample at a required point.
	ErrNoData = elevation.ErrNoData
	// ErrEllipsoidMiss is returned when a ray does not meet the approximating
	// sphere or ellipsoid.
	ErrEllipsoidMiss = errors.New("shape: ray misses ellipsoid")
	// ErrStagnation is returned when successive secant errors are equal but
	// still outside tolerance.
	ErrStagnation = errors.New("shape: secant stagnated")
	// ErrIterationBudget is returned when a refiner runs out of iterations.
	ErrIterationBudget = errors.New("shape: iteration budget exceeded")
	// ErrDegenerateNormal is returned when local normal neighbours are
	// missing or collinear.
	ErrDegenerateNormal = errors.New("shape: degenerate normal")
	// ErrNoIntersection is returned by operations that need a surface point
	// before one has been found.
	ErrNoIntersection = errors.New("shape: no intersection")
)

const DefaultMaxIterations = 100

// Status is the terminal state of a refinement.
type Status int

const (
	StatusFailed Status = iota
	StatusConverged
	StatusStagnant
)

func (s Status) String() string {
	switch s {
	case StatusConverged:
		return "converged"
	case StatusStagnant:
		return "stagnant"
	}
	return "failed"
}

// Seed is the starting candidate handed to a refiner.
type Seed struct {
	Point r3.Vec
}

// Outcome reports how a refiner ended. Point holds the best candidate seen
// whenever HasPoint is set, including after a failure.
type Outcome struct {
	Refiner    string
	Status     Status
	Point      r3.Vec
	HasPoint   bool
	T          float64
	Iterations int
	// Resolution is metres per pixel at Point when Status is converged.
	Resolution float64
	Err        error
}

func (o Outcome) Converged() bool { return o.Status == StatusConverged }

// Refiner converges a seed point onto the DEM surface along a ray.
type Refiner interface {
	Name() string
	Converge(ctx context.Context, ray Ray, seed Seed) Outcome
}

func maxIterations(n int) int {
	if n <= 0 {
		return DefaultMaxIterations
	}
	return n
}
