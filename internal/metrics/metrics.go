package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the device agent counters
type Metrics struct {
	// Frame cycle counters
	FramesCaptured  atomic.Uint64
	FramesProcessed atomic.Uint64
	FramesSkipped   atomic.Uint64 // ticks dropped because a cycle was still running

	// Error counters
	CaptureErrors   atomic.Uint64
	InferenceErrors atomic.Uint64
	FusionErrors    atomic.Uint64

	// Obstacle signal
	ObstaclesDetected atomic.Uint64
	NearbySignals     atomic.Uint64
	Announcements     atomic.Uint64

	// Latency tracking
	CycleLatencyMs atomic.Uint64

	// Telemetry delivery
	SamplesBuffered  atomic.Uint64
	SnapshotsFlushed atomic.Uint64
	ChunksSent       atomic.Uint64
	ChunksDropped    atomic.Uint64
	CriticalFailures atomic.Uint64

	// Alert emitter
	AlertsPublished atomic.Uint64
	AlertErrors     atomic.Uint64

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	r := registrar{m.registry, "seesafe_agent_"}

	r.gauge("frames_captured_total", "Total frames captured from the camera", &m.FramesCaptured)
	r.gauge("frames_processed_total", "Total frames that completed a detection cycle", &m.FramesProcessed)
	r.gauge("frames_skipped_total", "Ticks skipped because the previous cycle was still running", &m.FramesSkipped)

	r.gauge("capture_errors_total", "Total camera capture errors", &m.CaptureErrors)
	r.gauge("inference_errors_total", "Total inference runtime errors", &m.InferenceErrors)
	r.gauge("fusion_errors_total", "Total invalid-input errors while fusing", &m.FusionErrors)

	r.gauge("obstacles_detected_total", "Total obstacle records emitted", &m.ObstaclesDetected)
	r.gauge("nearby_signals_total", "Total frames with a nearby-object signal", &m.NearbySignals)
	r.gauge("announcements_total", "Total warning messages spoken", &m.Announcements)

	r.gauge("cycle_latency_ms", "Latency of the last frame cycle in milliseconds", &m.CycleLatencyMs)

	r.gauge("samples_buffered", "Sensor samples waiting for the next flush", &m.SamplesBuffered)
	r.gauge("snapshots_flushed_total", "Total telemetry snapshots flushed", &m.SnapshotsFlushed)
	r.gauge("chunks_sent_total", "Total telemetry chunks acknowledged by the transport", &m.ChunksSent)
	r.gauge("chunks_dropped_total", "Total telemetry chunks lost to non-critical failures", &m.ChunksDropped)
	r.gauge("critical_failures_total", "Total critical delivery failures", &m.CriticalFailures)

	r.gauge("alerts_published_total", "Total obstacle alerts published over MQTT", &m.AlertsPublished)
	r.gauge("alert_errors_total", "Total obstacle alert publish errors", &m.AlertErrors)
}

// UpdateCycleLatency stores the duration of the last frame cycle
func (m *Metrics) UpdateCycleLatency(d time.Duration) {
	m.CycleLatencyMs.Store(uint64(d.Milliseconds()))
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the private registry for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// CollectorMetrics holds the reference collector counters
type CollectorMetrics struct {
	Requests           atomic.Uint64
	BadRequests        atomic.Uint64
	ChunksReceived     atomic.Uint64
	SnapshotsAssembled atomic.Uint64
	IncompleteExpired  atomic.Uint64
	FallsDetected      atomic.Uint64
	DevicesRegistered  atomic.Uint64
	DataChannelPeers   atomic.Uint64

	registry *prometheus.Registry
}

// NewCollector creates collector metrics on a private registry
func NewCollector() *CollectorMetrics {
	m := &CollectorMetrics{registry: prometheus.NewRegistry()}
	r := registrar{m.registry, "seesafe_collector_"}

	r.gauge("requests_total", "Total requests handled", &m.Requests)
	r.gauge("bad_requests_total", "Total requests rejected as malformed", &m.BadRequests)
	r.gauge("chunks_received_total", "Total telemetry chunks received", &m.ChunksReceived)
	r.gauge("snapshots_assembled_total", "Total telemetry snapshots reassembled", &m.SnapshotsAssembled)
	r.gauge("incomplete_expired_total", "Total incomplete chunk sets expired", &m.IncompleteExpired)
	r.gauge("falls_detected_total", "Total snapshots flagged as a fall", &m.FallsDetected)
	r.gauge("devices_registered_total", "Total devices registered", &m.DevicesRegistered)
	r.gauge("datachannel_peers", "Open WebRTC data channel peers", &m.DataChannelPeers)
	return m
}

// Handler returns the Prometheus HTTP handler
func (m *CollectorMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

type registrar struct {
	reg    *prometheus.Registry
	prefix string
}

func (r registrar) gauge(name, help string, v *atomic.Uint64) {
	r.reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: r.prefix + name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}
