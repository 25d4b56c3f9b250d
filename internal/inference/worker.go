package inference

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/seesafe/seesafe-agent/internal/logger"
	"github.com/seesafe/seesafe-agent/pkg/types"
)

// maxFrameSize bounds a single worker message (a 512x512 float32 depth map is 1 MiB)
const maxFrameSize = 64 << 20

const (
	modelDetector = "detector"
	modelDepth    = "depth"
)

type workerRequest struct {
	ID       uint64    `msgpack:"id"`
	Model    string    `msgpack:"model"`
	Width    int       `msgpack:"width"`
	Height   int       `msgpack:"height"`
	Channels int       `msgpack:"channels"`
	Data     []float32 `msgpack:"data"`
}

type workerResponse struct {
	ID    uint64      `msgpack:"id"`
	Error string      `msgpack:"error"`
	Rows  [][]float32 `msgpack:"rows"`
	// depth model output, row-major
	DepthWidth  int       `msgpack:"depth_width"`
	DepthHeight int       `msgpack:"depth_height"`
	Depth       []float32 `msgpack:"depth"`
}

// WorkerConfig describes the model worker process
type WorkerConfig struct {
	// Command is argv of the worker, e.g. ["python3", "models/worker.py"]
	Command []string
	Layout  Layout
}

// WorkerRuntime runs both models in a child process and talks to it over
// stdin/stdout using length-prefixed msgpack frames (4-byte big-endian size).
// Calls are serialized; a call that times out kills the worker, which is
// restarted on the next call.
type WorkerRuntime struct {
	cfg WorkerConfig

	mu     sync.Mutex
	cmd    *exec.Cmd
	conn   *frameConn
	nextID uint64
}

// NewWorkerRuntime creates a runtime; the worker is started lazily
func NewWorkerRuntime(cfg WorkerConfig) (*WorkerRuntime, error) {
	if len(cfg.Command) == 0 {
		return nil, errors.New("worker command is empty")
	}
	if cfg.Layout == "" {
		cfg.Layout = LayoutFlat
	}
	return &WorkerRuntime{cfg: cfg}, nil
}

// newConnRuntime wires a runtime to an already running peer
func newConnRuntime(w io.WriteCloser, r io.Reader, layout Layout) *WorkerRuntime {
	return &WorkerRuntime{
		cfg:  WorkerConfig{Layout: layout},
		conn: &frameConn{w: w, r: bufio.NewReader(r), closer: w},
	}
}

// RunDetector sends the detector tensor and decodes the returned rows
func (rt *WorkerRuntime) RunDetector(ctx context.Context, input types.ImageTensor) ([]types.DetectionBox, error) {
	resp, err := rt.call(ctx, modelDetector, input)
	if err != nil {
		return nil, err
	}
	return DecodeDetections(resp.Rows, rt.cfg.Layout), nil
}

// RunDepthModel sends the depth tensor and returns the grid
func (rt *WorkerRuntime) RunDepthModel(ctx context.Context, input types.ImageTensor) (types.DepthGrid, error) {
	resp, err := rt.call(ctx, modelDepth, input)
	if err != nil {
		return types.DepthGrid{}, err
	}

	grid := types.DepthGrid{Width: resp.DepthWidth, Height: resp.DepthHeight, Data: make([]float64, len(resp.Depth))}
	for i, v := range resp.Depth {
		grid.Data[i] = float64(v)
	}
	if err := grid.Validate(); err != nil {
		return types.DepthGrid{}, fmt.Errorf("%w: depth output: %v", types.ErrInference, err)
	}
	return grid, nil
}

func (rt *WorkerRuntime) call(ctx context.Context, model string, input types.ImageTensor) (workerResponse, error) {
	if input.Len() == 0 || len(input.Data) != input.Len() {
		return workerResponse{}, fmt.Errorf("%w: %s tensor %dx%dx%d with %d values",
			types.ErrInvalidInput, model, input.Width, input.Height, input.Channels, len(input.Data))
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.conn == nil {
		if err := rt.startLocked(); err != nil {
			return workerResponse{}, fmt.Errorf("%w: start worker: %v", types.ErrInference, err)
		}
	}

	rt.nextID++
	req := workerRequest{
		ID:       rt.nextID,
		Model:    model,
		Width:    input.Width,
		Height:   input.Height,
		Channels: input.Channels,
		Data:     input.Data,
	}

	type result struct {
		resp workerResponse
		err  error
	}
	done := make(chan result, 1)
	conn := rt.conn
	go func() {
		resp, err := conn.roundTrip(req)
		done <- result{resp, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			rt.stopLocked()
			return workerResponse{}, fmt.Errorf("%w: %s: %v", types.ErrInference, model, res.err)
		}
		if res.resp.ID != req.ID {
			rt.stopLocked()
			return workerResponse{}, fmt.Errorf("%w: %s: response id %d, want %d", types.ErrInference, model, res.resp.ID, req.ID)
		}
		if res.resp.Error != "" {
			return workerResponse{}, fmt.Errorf("%w: %s: %s", types.ErrInference, model, res.resp.Error)
		}
		return res.resp, nil
	case <-ctx.Done():
		// the stream is now out of sync
		rt.stopLocked()
		return workerResponse{}, fmt.Errorf("%w: %s: %v", types.ErrInference, model, ctx.Err())
	}
}

func (rt *WorkerRuntime) startLocked() error {
	if len(rt.cfg.Command) == 0 {
		return errors.New("worker connection closed")
	}
	cmd := exec.Command(rt.cfg.Command[0], rt.cfg.Command[1:]...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	rt.cmd = cmd
	rt.conn = &frameConn{w: stdin, r: bufio.NewReader(stdout), closer: stdin}
	logger.Info("Inference", "Model worker started (pid %d): %v", cmd.Process.Pid, rt.cfg.Command)
	return nil
}

func (rt *WorkerRuntime) stopLocked() {
	if rt.conn != nil {
		rt.conn.closer.Close()
		rt.conn = nil
	}
	if rt.cmd != nil {
		rt.cmd.Process.Kill()
		rt.cmd.Wait()
		logger.Warn("Inference", "Model worker stopped")
		rt.cmd = nil
	}
}

// Close stops the worker process
func (rt *WorkerRuntime) Close() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.stopLocked()
	return nil
}

// frameConn is one length-prefixed msgpack stream
type frameConn struct {
	w      io.Writer
	r      *bufio.Reader
	closer io.Closer
}

func (c *frameConn) roundTrip(req workerRequest) (workerResponse, error) {
	var resp workerResponse
	if err := writeFrame(c.w, req); err != nil {
		return resp, err
	}
	err := readFrame(c.r, &resp)
	return resp, err
}

func writeFrame(w io.Writer, v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func readFrame(r io.Reader, v any) error {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return fmt.Errorf("read length prefix: %w", err)
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > maxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit", n)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("read frame: %w", err)
	}
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	return nil
}
