// Package proximity decides from a depth grid alone whether something is close
// in front of the camera.
package proximity

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/seesafe/seesafe-agent/pkg/types"
)

// Config holds the evaluator parameters
type Config struct {
	// Factor scales the frame's maximum depth into the per-frame threshold
	Factor float64
	// Region is the central window, as fractions of the grid
	Region types.RegionFraction
}

// DefaultConfig is columns 64..194 and rows 0..190 of a 256x256 grid
func DefaultConfig() Config {
	return Config{
		Factor: 0.7,
		Region: types.RegionFraction{X0: 64.0 / 256, Y0: 0, X1: 194.0 / 256, Y1: 190.0 / 256},
	}
}

// Evaluator is stateless and safe for concurrent use
type Evaluator struct {
	cfg Config
}

// NewEvaluator creates an Evaluator
func NewEvaluator(cfg Config) *Evaluator {
	return &Evaluator{cfg: cfg}
}

// Config returns the parameters in use
func (e *Evaluator) Config() Config {
	return e.cfg
}

// Evaluate runs IsNearbyObject over the configured central region
func (e *Evaluator) Evaluate(depth types.DepthGrid) (bool, error) {
	if err := depth.Validate(); err != nil {
		return false, err
	}
	return e.IsNearbyObject(depth, e.cfg.Region.Resolve(depth.Width, depth.Height))
}

// IsNearbyObject reports whether any cell of region is strictly deeper than
// Factor times the maximum of the whole grid. region is half-open and is
// clamped to the grid; an empty result is invalid.
func (e *Evaluator) IsNearbyObject(depth types.DepthGrid, region types.GridRegion) (bool, error) {
	if err := depth.Validate(); err != nil {
		return false, err
	}

	r := types.GridRegion{
		X0: clamp(region.X0, 0, depth.Width),
		Y0: clamp(region.Y0, 0, depth.Height),
		X1: clamp(region.X1, 0, depth.Width),
		Y1: clamp(region.Y1, 0, depth.Height),
	}
	if r.Empty() {
		return false, fmt.Errorf("%w: central region %+v is empty on a %dx%d grid",
			types.ErrInvalidInput, region, depth.Width, depth.Height)
	}

	threshold := e.cfg.Factor * floats.Max(depth.Data)

	for y := r.Y0; y < r.Y1; y++ {
		row := depth.Row(y)
		for x := r.X0; x < r.X1; x++ {
			if row[x] > threshold {
				return true, nil
			}
		}
	}
	return false, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
