package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seesafe/seesafe-agent/internal/logger"
	"github.com/seesafe/seesafe-agent/internal/metrics"
	"github.com/seesafe/seesafe-agent/internal/transport"
	"github.com/seesafe/seesafe-agent/pkg/types"
)

// DefaultFlushInterval is the flush window length
const DefaultFlushInterval = 6 * time.Second

// Deliverer is the subset of delivery.Policy the sender needs
type Deliverer interface {
	Deliver(ctx context.Context, req types.DeliveryRequest) (*transport.Response, error)
}

// SenderConfig configures a Sender
type SenderConfig struct {
	// Endpoint receives one POST per chunk, e.g. "10.0.0.2:5683/sensorsData"
	Endpoint      string
	FlushInterval time.Duration
	MaxChunkSize  int
}

// Sender periodically drains an Accumulator and ships the snapshot as
// non-critical chunk requests. Windows are sent concurrently with later
// flushes; chunks inside one window go out in index order.
type Sender struct {
	cfg     SenderConfig
	acc     *Accumulator
	out     Deliverer
	metrics *metrics.Metrics

	seq atomic.Uint64
	wg  sync.WaitGroup
}

// NewSender creates a Sender. m may be nil.
func NewSender(cfg SenderConfig, acc *Accumulator, out Deliverer, m *metrics.Metrics) *Sender {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.MaxChunkSize <= 0 {
		cfg.MaxChunkSize = DefaultMaxChunkSize
	}
	s := &Sender{cfg: cfg, acc: acc, out: out, metrics: m}
	// windows from a previous run of the process must not collide on the receiver
	s.seq.Store(uint64(time.Now().UnixMilli()))
	return s
}

// Run flushes every FlushInterval until ctx is done, then waits for windows
// still in flight. Those see the cancelled context and stop early.
func (s *Sender) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	logger.Info("Telemetry", "Sender started (every %v, chunks of %d to %s)",
		s.cfg.FlushInterval, s.cfg.MaxChunkSize, s.cfg.Endpoint)

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			logger.Info("Telemetry", "Sender stopped")
			return
		case <-ticker.C:
			s.FlushAndSend(ctx)
		}
	}
}

// FlushAndSend drains the accumulator and starts delivering the window.
// It returns the chunks handed to the background sender.
func (s *Sender) FlushAndSend(ctx context.Context) []types.Chunk {
	snap := s.acc.Flush()
	if s.metrics != nil {
		s.metrics.SnapshotsFlushed.Add(1)
		s.metrics.SamplesBuffered.Store(0)
	}
	if snap.DeviceID == "" {
		logger.Debug("Telemetry", "No device id yet, discarding %d samples",
			len(snap.AccelerometerData)+len(snap.GyroscopeData))
		return nil
	}

	payload, err := EncodeSnapshot(snap)
	if err != nil {
		logger.Error("Telemetry", "Encode snapshot: %v", err)
		return nil
	}
	chunks, err := Chunk(payload, s.cfg.MaxChunkSize, snap.DeviceID)
	if err != nil {
		logger.Error("Telemetry", "Chunk snapshot: %v", err)
		return nil
	}

	seq := s.seq.Add(1)
	for i := range chunks {
		chunks[i].Seq = seq
	}
	logger.Debug("Telemetry", "Window %d: %d bytes in %d chunks", seq, len(payload), len(chunks))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sendWindow(ctx, chunks)
	}()
	return chunks
}

// Wait blocks until every started window finished or gave up
func (s *Sender) Wait() {
	s.wg.Wait()
}

func (s *Sender) sendWindow(ctx context.Context, chunks []types.Chunk) {
	for _, c := range chunks {
		if ctx.Err() != nil {
			return
		}
		body, err := json.Marshal(c)
		if err != nil {
			logger.Error("Telemetry", "Encode chunk %d: %v", c.Index, err)
			continue
		}

		resp, _ := s.out.Deliver(ctx, types.DeliveryRequest{
			Method:     string(types.MethodPost),
			Endpoint:   s.cfg.Endpoint,
			IsCritical: false,
			Body:       types.StringPtr(string(body)),
		})
		if s.metrics == nil {
			continue
		}
		if resp == nil {
			s.metrics.ChunksDropped.Add(1)
		} else {
			s.metrics.ChunksSent.Add(1)
		}
	}
}
