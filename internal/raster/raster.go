// Package raster provides read access to DEM grids addressed by
// (sample, line) pixel coordinates.
package raster

import (
	"errors"
	"fmt"
	"math"
)

// ErrWindow is returned when a read window has a non-positive size or the
// destination buffer is too small.
var ErrWindow = errors.New("raster: invalid read window")

// Raster is a read-only 2-D grid of DEM samples. Pixels outside the grid and
// pixels flagged as no-data are returned as NaN.
type Raster interface {
	Samples() int
	Lines() int
	// Read fills buf in row-major order with the width×height window whose
	// upper-left pixel is (sample, line). Coordinates are 0-based.
	Read(sample, line, width, height int, buf []float64) error
}

// Grid is an in-memory raster.
type Grid struct {
	samples, lines int
	values         []float64
}

// NewGrid wraps values (row-major, samples per line) as a raster. NaN marks no-data.
func NewGrid(samples, lines int, values []float64) (*Grid, error) {
	if samples <= 0 || lines <= 0 {
		return nil, fmt.Errorf("raster: bad grid size %dx%d", samples, lines)
	}
	if len(values) != samples*lines {
		return nil, fmt.Errorf("raster: grid has %d values, want %d", len(values), samples*lines)
	}
	return &Grid{samples: samples, lines: lines, values: values}, nil
}

// Fill builds a grid where every pixel holds f(sample, line).
func Fill(samples, lines int, f func(sample, line int) float64) *Grid {
	values := make([]float64, samples*lines)
	for l := 0; l < lines; l++ {
		for s := 0; s < samples; s++ {
			values[l*samples+s] = f(s, l)
		}
	}
	return &Grid{samples: samples, lines: lines, values: values}
}

func (g *Grid) Samples() int { return g.samples }
func (g *Grid) Lines() int   { return g.lines }

func (g *Grid) Read(sample, line, width, height int, buf []float64) error {
	if err := checkWindow(width, height, buf); err != nil {
		return err
	}
	for j := 0; j < height; j++ {
		for i := 0; i < width; i++ {
			buf[j*width+i] = g.at(sample+i, line+j)
		}
	}
	return nil
}

func (g *Grid) at(s, l int) float64 {
	if s < 0 || l < 0 || s >= g.samples || l >= g.lines {
		return math.NaN()
	}
	return g.values[l*g.samples+s]
}

func checkWindow(width, height int, buf []float64) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrWindow, width, height)
	}
	if len(buf) < width*height {
		return fmt.Errorf("%w: buffer %d < %d", ErrWindow, len(buf), width*height)
	}
	return nil
}
