package types

import "time"

// DetectionMode selects which per-frame computation the agent runs
type DetectionMode string

const (
	ModeFusion    DetectionMode = "fusion"
	ModeProximity DetectionMode = "proximity"
)

// ObstacleEvent is the outcome of one frame cycle
type ObstacleEvent struct {
	FrameNum  uint64           `json:"frame_number"`
	Timestamp time.Time        `json:"timestamp"`
	Mode      DetectionMode    `json:"mode"`
	Nearby    bool             `json:"nearby"`
	Message   string           `json:"message,omitempty"`
	Obstacles []ObstacleRecord `json:"obstacles"`
	LatencyMs int64            `json:"latency_ms"`
}
