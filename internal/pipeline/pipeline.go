// Package pipeline runs the capture, inference and obstacle evaluation
// cycle at a fixed cadence.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tevino/abool"

	"github.com/seesafe/seesafe-agent/internal/camera"
	"github.com/seesafe/seesafe-agent/internal/fusion"
	"github.com/seesafe/seesafe-agent/internal/inference"
	"github.com/seesafe/seesafe-agent/internal/logger"
	"github.com/seesafe/seesafe-agent/internal/metrics"
	"github.com/seesafe/seesafe-agent/internal/proximity"
	"github.com/seesafe/seesafe-agent/pkg/types"
)

// DefaultInterval is the capture cadence
const DefaultInterval = 100 * time.Millisecond

// Config for the frame cycle
type Config struct {
	Mode     types.DetectionMode
	Interval time.Duration
	Detector inference.TensorSize
	Depth    inference.TensorSize
}

// EventSink receives the outcome of every completed cycle. Implementations
// must not block.
type EventSink interface {
	HandleEvent(types.ObstacleEvent)
}

// SinkFunc adapts a function to EventSink
type SinkFunc func(types.ObstacleEvent)

func (f SinkFunc) HandleEvent(ev types.ObstacleEvent) { f(ev) }

// Runner owns the ticker and the non-reentrancy guard
type Runner struct {
	cfg       Config
	cam       camera.Camera
	rt        inference.Runtime
	fuser     *fusion.Fuser
	evaluator *proximity.Evaluator
	announcer *Announcer
	metrics   *metrics.Metrics
	sinks     []EventSink

	busy *abool.AtomicBool
	wg   sync.WaitGroup

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRunner wires the collaborators. fuser is required in fusion mode,
// evaluator in proximity mode.
func NewRunner(cfg Config, cam camera.Camera, rt inference.Runtime, fuser *fusion.Fuser,
	evaluator *proximity.Evaluator, announcer *Announcer, m *metrics.Metrics, sinks ...EventSink) (*Runner, error) {
	if cam == nil || rt == nil {
		return nil, fmt.Errorf("pipeline: camera and runtime are required")
	}
	switch cfg.Mode {
	case types.ModeFusion:
		if fuser == nil {
			return nil, fmt.Errorf("pipeline: fusion mode needs a fuser")
		}
	case types.ModeProximity:
		if evaluator == nil {
			return nil, fmt.Errorf("pipeline: proximity mode needs an evaluator")
		}
	default:
		return nil, fmt.Errorf("pipeline: unknown mode %q", cfg.Mode)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if announcer == nil {
		announcer = NewAnnouncer(nil)
	}
	if m == nil {
		m = metrics.New()
	}
	return &Runner{
		cfg:       cfg,
		cam:       cam,
		rt:        rt,
		fuser:     fuser,
		evaluator: evaluator,
		announcer: announcer,
		metrics:   m,
		sinks:     sinks,
		busy:      abool.New(),
	}, nil
}

// AddSink registers a sink; call before Start
func (r *Runner) AddSink(s EventSink) {
	r.sinks = append(r.sinks, s)
}

// Start launches the ticker loop
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go r.loop(ctx, r.done)
	logger.Info("Pipeline", "Started in %s mode, interval %v", r.cfg.Mode, r.cfg.Interval)
}

// Stop cancels the ticker and waits for the in-flight cycle
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	r.wg.Wait()
	logger.Info("Pipeline", "Stopped")
}

func (r *Runner) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick starts one cycle in the background unless a previous one is still
// running, in which case the tick is dropped. It reports whether a cycle started.
func (r *Runner) Tick(ctx context.Context) bool {
	if !r.busy.SetToIf(false, true) {
		r.metrics.FramesSkipped.Add(1)
		return false
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.busy.UnSet()
		if _, err := r.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("Pipeline", "Cycle aborted: %v", err)
		}
	}()
	return true
}

// RunOnce executes a single capture, inference and evaluation cycle and
// fans the event out to the sinks. It does not take the guard.
func (r *Runner) RunOnce(ctx context.Context) (types.ObstacleEvent, error) {
	start := time.Now()

	frame, err := r.cam.Capture(ctx)
	if err != nil {
		r.metrics.CaptureErrors.Add(1)
		return types.ObstacleEvent{}, err
	}
	r.metrics.FramesCaptured.Add(1)

	detector := r.cfg.Detector
	if r.cfg.Mode == types.ModeProximity {
		detector = inference.TensorSize{}
	}
	in, err := inference.Preprocess(frame.Data, detector, r.cfg.Depth)
	if err != nil {
		r.metrics.CaptureErrors.Add(1)
		return types.ObstacleEvent{}, err
	}

	ev := types.ObstacleEvent{
		FrameNum:  frame.FrameNum,
		Timestamp: frame.Timestamp,
		Mode:      r.cfg.Mode,
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = start
	}

	switch r.cfg.Mode {
	case types.ModeFusion:
		records, err := r.fuse(ctx, in)
		if err != nil {
			return types.ObstacleEvent{}, err
		}
		ev.Obstacles = records
		ev.Nearby = len(records) > 0
		r.metrics.ObstaclesDetected.Add(uint64(len(records)))
	case types.ModeProximity:
		depth, err := r.rt.RunDepthModel(ctx, in.Depth)
		if err != nil {
			r.metrics.InferenceErrors.Add(1)
			return types.ObstacleEvent{}, err
		}
		nearby, err := r.evaluator.Evaluate(depth)
		if err != nil {
			r.metrics.FusionErrors.Add(1)
			return types.ObstacleEvent{}, err
		}
		ev.Nearby = nearby
	}

	if ev.Nearby {
		r.metrics.NearbySignals.Add(1)
	}
	if msg := r.announcer.Announce(ctx, ev.Nearby); msg != "" {
		ev.Message = msg
		r.metrics.Announcements.Add(1)
	}

	elapsed := time.Since(start)
	ev.LatencyMs = elapsed.Milliseconds()
	r.metrics.UpdateCycleLatency(elapsed)
	r.metrics.FramesProcessed.Add(1)

	for _, s := range r.sinks {
		s.HandleEvent(ev)
	}
	logger.Debug("Pipeline", "Frame %d: nearby=%v obstacles=%d (%v)", ev.FrameNum, ev.Nearby, len(ev.Obstacles), elapsed)
	return ev, nil
}

func (r *Runner) fuse(ctx context.Context, in inference.Inputs) ([]types.ObstacleRecord, error) {
	dets, err := r.rt.RunDetector(ctx, in.Detector)
	if err != nil {
		r.metrics.InferenceErrors.Add(1)
		return nil, err
	}
	depth, err := r.rt.RunDepthModel(ctx, in.Depth)
	if err != nil {
		r.metrics.InferenceErrors.Add(1)
		return nil, err
	}
	records, err := r.fuser.Fuse(dets, depth, in.ImageWidth, in.ImageHeight)
	if err != nil {
		r.metrics.FusionErrors.Add(1)
		return nil, err
	}
	return records, nil
}
