package webmonitor

import "github.com/seesafe/seesafe-agent/pkg/types"

// FrameStats summarizes the frame pipeline counters.
type FrameStats struct {
	FramesCaptured  uint64  `json:"frames_captured"`
	FramesProcessed uint64  `json:"frames_processed"`
	FramesSkipped   uint64  `json:"frames_skipped"`
	CaptureErrors   uint64  `json:"capture_errors"`
	InferenceErrors uint64  `json:"inference_errors"`
	CycleLatencyMs  uint64  `json:"cycle_latency_ms"`
	CurrentFPS      float64 `json:"current_fps"`
}

// TelemetryStats summarizes sensor buffering and chunk delivery.
type TelemetryStats struct {
	SamplesPending   int    `json:"samples_pending"`
	SnapshotsFlushed uint64 `json:"snapshots_flushed"`
	ChunksSent       uint64 `json:"chunks_sent"`
	ChunksDropped    uint64 `json:"chunks_dropped"`
	CriticalFailures uint64 `json:"critical_failures"`
}

// Status is the payload of /api/status and /api/status/stream.
type Status struct {
	Device        types.DeviceContext   `json:"device"`
	Frames        FrameStats            `json:"frames"`
	Telemetry     TelemetryStats        `json:"telemetry"`
	LatestEvent   *types.ObstacleEvent  `json:"latest_event"`
	EventHistory  []types.ObstacleEvent `json:"event_history"`
	EventVersion  int                   `json:"event_version"`
	UptimeSeconds float64               `json:"uptime_seconds"`
	Timestamp     float64               `json:"timestamp"`
}
