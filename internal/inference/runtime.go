// Package inference bridges the obstacle pipeline to the detection and depth
// models: image preprocessing into model tensors, decoding of raw detector
// rows, and the out-of-process model worker.
package inference

import (
	"context"
	"fmt"

	"github.com/seesafe/seesafe-agent/pkg/types"
)

// Runtime executes the detector and depth models. Failures wrap types.ErrInference.
type Runtime interface {
	RunDetector(ctx context.Context, input types.ImageTensor) ([]types.DetectionBox, error)
	RunDepthModel(ctx context.Context, input types.ImageTensor) (types.DepthGrid, error)
	Close() error
}

// Layout names the detector output row format
type Layout string

const (
	// LayoutFlat rows are [cx, cy, w, h, confidence, classId]
	LayoutFlat Layout = "flat"
	// LayoutYOLOv5 rows are [cx, cy, w, h, objectness, score0..scoreN]
	LayoutYOLOv5 Layout = "yolov5"
)

// ParseLayout validates a layout name; empty means LayoutFlat
func ParseLayout(s string) (Layout, error) {
	switch Layout(s) {
	case "", LayoutFlat:
		return LayoutFlat, nil
	case LayoutYOLOv5:
		return LayoutYOLOv5, nil
	default:
		return "", fmt.Errorf("unknown detector layout %q", s)
	}
}

// DecodeDetections turns raw detector rows into normalized boxes. Rows too
// short for the layout are skipped.
func DecodeDetections(rows [][]float32, layout Layout) []types.DetectionBox {
	boxes := make([]types.DetectionBox, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		box := types.DetectionBox{
			CenterX: float64(row[0]),
			CenterY: float64(row[1]),
			Width:   float64(row[2]),
			Height:  float64(row[3]),
			Space:   types.SpaceNormalized,
		}

		switch layout {
		case LayoutYOLOv5:
			best := 5
			for i := 6; i < len(row); i++ {
				if row[i] > row[best] {
					best = i
				}
			}
			box.ClassID = best - 5
			box.Confidence = float64(row[4] * row[best])
		default:
			box.Confidence = float64(row[4])
			box.ClassID = int(row[5])
		}
		boxes = append(boxes, box)
	}
	return boxes
}
