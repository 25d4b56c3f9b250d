package collector

import (
	"gonum.org/v1/gonum/floats"

	"github.com/seesafe/seesafe-agent/pkg/types"
)

// FallConfig holds the thresholds of the two-phase fall heuristic. Magnitudes
// are in g, the unit phone accelerometers report.
type FallConfig struct {
	FreeFallG float64
	ImpactG   float64
	// WindowMs is the longest gap between free fall and impact
	WindowMs int64
}

// DefaultFallConfig: below 0.4g, then above 2.5g within one second
func DefaultFallConfig() FallConfig {
	return FallConfig{FreeFallG: 0.4, ImpactG: 2.5, WindowMs: 1000}
}

// Magnitude is the euclidean norm of one sample
func Magnitude(s types.AccelerometerSample) float64 {
	return floats.Norm([]float64{s.X, s.Y, s.Z}, 2)
}

// DetectFall reports whether samples (in timestamp order) contain a free-fall
// phase followed by an impact within the window.
func DetectFall(samples []types.AccelerometerSample, cfg FallConfig) bool {
	var (
		falling    bool
		freeFallAt int64
	)
	for _, s := range samples {
		m := Magnitude(s)
		if m < cfg.FreeFallG {
			falling, freeFallAt = true, s.Timestamp
			continue
		}
		if falling && m > cfg.ImpactG {
			if s.Timestamp-freeFallAt <= cfg.WindowMs {
				return true
			}
			falling = false
		}
	}
	return false
}
