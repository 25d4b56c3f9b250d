package webmonitor

import (
	"sync"
	"time"

	"github.com/seesafe/seesafe-agent/internal/metrics"
	"github.com/seesafe/seesafe-agent/pkg/types"
)

// Sources are read on every snapshot; nil members are skipped.
type Sources struct {
	Metrics *metrics.Metrics
	Device  func() types.DeviceContext
	Pending func() int
}

// Monitor keeps the latest obstacle events for the status API.
// It is a pipeline event sink.
type Monitor struct {
	startTime   time.Time
	src         Sources
	historySize int

	mu          sync.Mutex
	version     int
	latest      *types.ObstacleEvent
	history     []types.ObstacleEvent
	lastFrames  uint64
	lastSampled time.Time
	currentFPS  float64
}

// NewMonitor creates a Monitor that keeps historySize interesting events.
func NewMonitor(src Sources, historySize int) *Monitor {
	if historySize <= 0 {
		historySize = DefaultConfig().HistorySize
	}
	now := time.Now()
	return &Monitor{
		startTime:   now,
		src:         src,
		historySize: historySize,
		lastSampled: now,
	}
}

// HandleEvent stores an event. Events with obstacles or a nearby signal go
// to the history, newest first.
func (m *Monitor) HandleEvent(ev types.ObstacleEvent) {
	m.mu.Lock()
	m.version++
	m.latest = &ev
	if ev.Nearby || len(ev.Obstacles) > 0 {
		m.history = append([]types.ObstacleEvent{ev}, m.history...)
		if len(m.history) > m.historySize {
			m.history = m.history[:m.historySize]
		}
	}
	m.mu.Unlock()
}

// Snapshot assembles the current status.
func (m *Monitor) Snapshot() Status {
	now := time.Now()
	st := Status{
		UptimeSeconds: now.Sub(m.startTime).Seconds(),
		Timestamp:     float64(now.UnixMilli()) / 1000,
	}
	if m.src.Device != nil {
		st.Device = m.src.Device()
	}
	if m.src.Pending != nil {
		st.Telemetry.SamplesPending = m.src.Pending()
	}
	if mt := m.src.Metrics; mt != nil {
		st.Frames = FrameStats{
			FramesCaptured:  mt.FramesCaptured.Load(),
			FramesProcessed: mt.FramesProcessed.Load(),
			FramesSkipped:   mt.FramesSkipped.Load(),
			CaptureErrors:   mt.CaptureErrors.Load(),
			InferenceErrors: mt.InferenceErrors.Load(),
			CycleLatencyMs:  mt.CycleLatencyMs.Load(),
		}
		st.Telemetry.SnapshotsFlushed = mt.SnapshotsFlushed.Load()
		st.Telemetry.ChunksSent = mt.ChunksSent.Load()
		st.Telemetry.ChunksDropped = mt.ChunksDropped.Load()
		st.Telemetry.CriticalFailures = mt.CriticalFailures.Load()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// FPS over the interval since the previous snapshot
	if elapsed := now.Sub(m.lastSampled).Seconds(); elapsed >= 1 {
		m.currentFPS = float64(st.Frames.FramesProcessed-m.lastFrames) / elapsed
		m.lastFrames = st.Frames.FramesProcessed
		m.lastSampled = now
	}
	st.Frames.CurrentFPS = m.currentFPS

	st.EventVersion = m.version
	if m.latest != nil {
		latest := *m.latest
		st.LatestEvent = &latest
	}
	st.EventHistory = make([]types.ObstacleEvent, len(m.history))
	copy(st.EventHistory, m.history)
	return st
}
