// Package geometry maps detector boxes into image pixels and depth grid cells.
//
// All conversions truncate toward zero (Go's float-to-int conversion), so a
// pixel edge at 191.9 becomes 191 and one at -0.4 becomes 0.
package geometry

import (
	"fmt"

	"github.com/seesafe/seesafe-agent/pkg/types"
)

// ToPixelBox converts a detection's center/extent into an inclusive pixel rectangle.
// Normalized boxes are scaled by the image size; pixel-space boxes are used as is.
func ToPixelBox(box types.DetectionBox, imageW, imageH int) (types.PixelBox, error) {
	if imageW <= 0 || imageH <= 0 {
		return types.PixelBox{}, fmt.Errorf("%w: image dimensions %dx%d", types.ErrInvalidInput, imageW, imageH)
	}
	if err := box.Validate(); err != nil {
		return types.PixelBox{}, err
	}

	sx, sy := 1.0, 1.0
	if box.Space == types.SpaceNormalized {
		sx, sy = float64(imageW), float64(imageH)
	}

	return types.PixelBox{
		X1: int((box.CenterX - box.Width/2) * sx),
		Y1: int((box.CenterY - box.Height/2) * sy),
		X2: int((box.CenterX + box.Width/2) * sx),
		Y2: int((box.CenterY + box.Height/2) * sy),
	}, nil
}

// ToDepthGridCoords rescales a pixel rectangle onto a gridW x gridH depth grid.
// Every coordinate is clamped to [0, dim-1]; the result is always indexable.
func ToDepthGridCoords(px types.PixelBox, imageW, imageH, gridW, gridH int) (types.GridBox, error) {
	if imageW <= 0 || imageH <= 0 {
		return types.GridBox{}, fmt.Errorf("%w: image dimensions %dx%d", types.ErrInvalidInput, imageW, imageH)
	}
	if gridW <= 0 || gridH <= 0 {
		return types.GridBox{}, fmt.Errorf("%w: grid dimensions %dx%d", types.ErrInvalidInput, gridW, gridH)
	}
	if px.X2 < px.X1 || px.Y2 < px.Y1 {
		return types.GridBox{}, fmt.Errorf("%w: inverted pixel box %+v", types.ErrInvalidInput, px)
	}

	return types.GridBox{
		X1: scale(px.X1, imageW, gridW),
		Y1: scale(px.Y1, imageH, gridH),
		X2: scale(px.X2, imageW, gridW),
		Y2: scale(px.Y2, imageH, gridH),
	}, nil
}

// scale maps v from [0,from) onto [0,to) using integer arithmetic and clamps.
func scale(v, from, to int) int {
	return clamp(int(int64(v)*int64(to)/int64(from)), 0, to-1)
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
