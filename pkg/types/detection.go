package types

import (
	"fmt"
	"math"
)

// CoordinateSpace tells how DetectionBox coordinates are expressed
type CoordinateSpace int

const (
	// SpaceNormalized means coordinates are fractions of the image, in [0,1]
	SpaceNormalized CoordinateSpace = iota
	// SpacePixel means coordinates are already image pixels
	SpacePixel
)

func (s CoordinateSpace) String() string {
	switch s {
	case SpaceNormalized:
		return "normalized"
	case SpacePixel:
		return "pixel"
	default:
		return "unknown"
	}
}

// DetectionBox is one detector output row for a frame
type DetectionBox struct {
	CenterX    float64         `json:"cx"`
	CenterY    float64         `json:"cy"`
	Width      float64         `json:"w"`
	Height     float64         `json:"h"`
	Confidence float64         `json:"confidence"`
	ClassID    int             `json:"classId"`
	Space      CoordinateSpace `json:"space"`
}

// Validate rejects NaN/Inf coordinates and negative extents
func (d DetectionBox) Validate() error {
	for _, v := range []float64{d.CenterX, d.CenterY, d.Width, d.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite box coordinate", ErrInvalidInput)
		}
	}
	if d.Width < 0 || d.Height < 0 {
		return fmt.Errorf("%w: negative box extent %.3fx%.3f", ErrInvalidInput, d.Width, d.Height)
	}
	return nil
}

// DepthGrid is a row-major grid of relative depth values.
// Larger values are closer.
type DepthGrid struct {
	Width  int       `json:"width"`
	Height int       `json:"height"`
	Data   []float64 `json:"data"`
}

// NewDepthGrid returns a grid filled with v
func NewDepthGrid(width, height int, v float64) DepthGrid {
	data := make([]float64, width*height)
	if v != 0 {
		for i := range data {
			data[i] = v
		}
	}
	return DepthGrid{Width: width, Height: height, Data: data}
}

// Validate checks that dimensions are positive and match the data length
func (g DepthGrid) Validate() error {
	if g.Width <= 0 || g.Height <= 0 {
		return fmt.Errorf("%w: depth grid dimensions %dx%d", ErrInvalidInput, g.Width, g.Height)
	}
	if len(g.Data) != g.Width*g.Height {
		return fmt.Errorf("%w: depth grid has %d values, want %d", ErrInvalidInput, len(g.Data), g.Width*g.Height)
	}
	return nil
}

// At returns the value at column x, row y. Callers must stay in bounds.
func (g DepthGrid) At(x, y int) float64 {
	return g.Data[y*g.Width+x]
}

// Row returns row y as a sub-slice of Data
func (g DepthGrid) Row(y int) []float64 {
	return g.Data[y*g.Width : (y+1)*g.Width]
}

// PixelBox is an inclusive rectangle in image pixels
type PixelBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// GridBox is an inclusive rectangle of depth grid cells, always in bounds
type GridBox struct {
	X1 int
	Y1 int
	X2 int
	Y2 int
}

// Cells returns the number of cells covered
func (b GridBox) Cells() int {
	return (b.X2 - b.X1 + 1) * (b.Y2 - b.Y1 + 1)
}

// GridRegion is a half-open cell rectangle [X0,X1)x[Y0,Y1)
type GridRegion struct {
	X0 int
	Y0 int
	X1 int
	Y1 int
}

// Empty reports whether the region covers no cells
func (r GridRegion) Empty() bool {
	return r.X1 <= r.X0 || r.Y1 <= r.Y0
}

// RegionFraction is a GridRegion expressed as fractions of the grid size
type RegionFraction struct {
	X0 float64 `yaml:"x0" json:"x0"`
	Y0 float64 `yaml:"y0" json:"y0"`
	X1 float64 `yaml:"x1" json:"x1"`
	Y1 float64 `yaml:"y1" json:"y1"`
}

// Resolve maps the fractions onto a gridW x gridH grid, truncating toward zero
func (f RegionFraction) Resolve(gridW, gridH int) GridRegion {
	return GridRegion{
		X0: int(f.X0 * float64(gridW)),
		Y0: int(f.Y0 * float64(gridH)),
		X1: int(f.X1 * float64(gridW)),
		Y1: int(f.Y1 * float64(gridH)),
	}
}

// ObstacleRecord is a detection that passed both the confidence and depth thresholds
type ObstacleRecord struct {
	PixelBox
	ClassID    int     `json:"class"`
	ClassName  string  `json:"name"`
	MeanDepth  float64 `json:"depth"`
	Confidence float64 `json:"confidence"`
}
