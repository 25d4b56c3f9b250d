// Package fusion combines detector boxes with a depth grid into obstacle records.
package fusion

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/seesafe/seesafe-agent/internal/geometry"
	"github.com/seesafe/seesafe-agent/pkg/types"
)

// Config holds the fusion thresholds
type Config struct {
	// ConfidenceThreshold: detections at or below are discarded
	ConfidenceThreshold float64
	// ObstacleThreshold: mean depth at or below is discarded (raw model units)
	ObstacleThreshold float64
}

// DefaultConfig returns the thresholds of the shipped detector/depth pair
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.3,
		ObstacleThreshold:   200.0,
	}
}

// Fuser is stateless and safe for concurrent use
type Fuser struct {
	cfg    Config
	labels Labels
}

// NewFuser creates a Fuser. A nil label table resolves every class to UnknownClass.
func NewFuser(cfg Config, labels Labels) *Fuser {
	return &Fuser{cfg: cfg, labels: labels}
}

// Config returns the thresholds in use
func (f *Fuser) Config() Config {
	return f.cfg
}

// Fuse returns the detections that are both confident and close, in input order.
// Duplicates are not suppressed.
func (f *Fuser) Fuse(detections []types.DetectionBox, depth types.DepthGrid, imageW, imageH int) ([]types.ObstacleRecord, error) {
	if err := depth.Validate(); err != nil {
		return nil, err
	}
	if imageW <= 0 || imageH <= 0 {
		return nil, fmt.Errorf("%w: image dimensions %dx%d", types.ErrInvalidInput, imageW, imageH)
	}

	var records []types.ObstacleRecord
	for i, det := range detections {
		if det.Confidence <= f.cfg.ConfidenceThreshold {
			continue
		}

		px, err := geometry.ToPixelBox(det, imageW, imageH)
		if err != nil {
			return nil, fmt.Errorf("detection %d: %w", i, err)
		}
		cells, err := geometry.ToDepthGridCoords(px, imageW, imageH, depth.Width, depth.Height)
		if err != nil {
			return nil, fmt.Errorf("detection %d: %w", i, err)
		}

		mean := MeanDepth(depth, cells)
		if mean <= f.cfg.ObstacleThreshold {
			continue
		}

		records = append(records, types.ObstacleRecord{
			PixelBox:   px,
			ClassID:    det.ClassID,
			ClassName:  f.labels.Name(det.ClassID),
			MeanDepth:  mean,
			Confidence: det.Confidence,
		})
	}
	return records, nil
}

// MeanDepth averages the inclusive cell rectangle. The box must be in bounds;
// it always covers at least one cell.
func MeanDepth(depth types.DepthGrid, box types.GridBox) float64 {
	var sum float64
	for y := box.Y1; y <= box.Y2; y++ {
		sum += floats.Sum(depth.Row(y)[box.X1 : box.X2+1])
	}
	return sum / float64(box.Cells())
}
