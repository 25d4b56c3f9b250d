package inference

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seesafe/seesafe-agent/pkg/types"
)

func TestDecodeDetectionsFlat(t *testing.T) {
	rows := [][]float32{
		{0.5, 0.5, 0.25, 0.25, 0.9, 2},
		{0.1, 0.2, 0.3},
	}
	boxes := DecodeDetections(rows, LayoutFlat)
	require.Len(t, boxes, 1)
	assert.Equal(t, 2, boxes[0].ClassID)
	assert.InDelta(t, 0.9, boxes[0].Confidence, 1e-6)
	assert.Equal(t, types.SpaceNormalized, boxes[0].Space)
}

func TestDecodeDetectionsYOLOv5(t *testing.T) {
	rows := [][]float32{{0.5, 0.5, 0.25, 0.25, 0.8, 0.1, 0.5, 0.25}}
	boxes := DecodeDetections(rows, LayoutYOLOv5)
	require.Len(t, boxes, 1)
	assert.Equal(t, 1, boxes[0].ClassID)
	assert.InDelta(t, 0.4, boxes[0].Confidence, 1e-6)
}

func TestParseLayout(t *testing.T) {
	l, err := ParseLayout("")
	require.NoError(t, err)
	assert.Equal(t, LayoutFlat, l)
	l, err = ParseLayout("yolov5")
	require.NoError(t, err)
	assert.Equal(t, LayoutYOLOv5, l)
	_, err = ParseLayout("ssd")
	assert.Error(t, err)
}

func solidPNG(t *testing.T, w, h int, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestPreprocess(t *testing.T) {
	frame := solidPNG(t, 64, 48, color.RGBA{R: 255, G: 0, B: 51, A: 255})

	in, err := Preprocess(frame, TensorSize{Width: 32, Height: 32}, TensorSize{Width: 16, Height: 16})
	require.NoError(t, err)
	assert.Equal(t, 64, in.ImageWidth)
	assert.Equal(t, 48, in.ImageHeight)

	require.Len(t, in.Detector.Data, 32*32*3)
	require.Len(t, in.Depth.Data, 16*16*3)
	assert.InDelta(t, 1.0, in.Detector.Data[0], 1e-6)
	assert.InDelta(t, 0.0, in.Detector.Data[1], 1e-6)
	assert.InDelta(t, 0.2, in.Detector.Data[2], 1e-6)
}

func TestPreprocessDepthOnly(t *testing.T) {
	in, err := Preprocess(solidPNG(t, 8, 8, color.RGBA{A: 255}), TensorSize{}, TensorSize{Width: 4, Height: 4})
	require.NoError(t, err)
	assert.Zero(t, in.Detector.Len())
	assert.Equal(t, 4*4*3, in.Depth.Len())
}

func TestPreprocessRejectsGarbage(t *testing.T) {
	_, err := Preprocess([]byte("not an image"), TensorSize{Width: 4, Height: 4}, TensorSize{Width: 4, Height: 4})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

// fakeWorker answers requests on the other end of a pipe pair
func fakeWorker(t *testing.T, handle func(workerRequest) workerResponse) (*WorkerRuntime, func()) {
	t.Helper()
	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()

	go func() {
		defer respW.Close()
		for {
			var req workerRequest
			if err := readFrame(reqR, &req); err != nil {
				return
			}
			if err := writeFrame(respW, handle(req)); err != nil {
				return
			}
		}
	}()

	rt := newConnRuntime(reqW, respR, LayoutFlat)
	return rt, func() { reqW.Close(); reqR.Close() }
}

func tensor(w, h int) types.ImageTensor {
	return types.ImageTensor{Width: w, Height: h, Channels: 3, Data: make([]float32, w*h*3)}
}

func TestWorkerRoundTrip(t *testing.T) {
	rt, stop := fakeWorker(t, func(req workerRequest) workerResponse {
		switch req.Model {
		case modelDetector:
			return workerResponse{ID: req.ID, Rows: [][]float32{{0.5, 0.5, 0.2, 0.2, 0.9, 0}}}
		default:
			depth := make([]float32, 4*2)
			for i := range depth {
				depth[i] = float32(i)
			}
			return workerResponse{ID: req.ID, DepthWidth: 4, DepthHeight: 2, Depth: depth}
		}
	})
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	boxes, err := rt.RunDetector(ctx, tensor(8, 8))
	require.NoError(t, err)
	require.Len(t, boxes, 1)
	assert.InDelta(t, 0.9, boxes[0].Confidence, 1e-6)

	grid, err := rt.RunDepthModel(ctx, tensor(4, 2))
	require.NoError(t, err)
	assert.Equal(t, 4, grid.Width)
	assert.Equal(t, 7.0, grid.At(3, 1))
}

func TestWorkerErrorsAreInferenceErrors(t *testing.T) {
	rt, stop := fakeWorker(t, func(req workerRequest) workerResponse {
		if req.Model == modelDepth {
			return workerResponse{ID: req.ID, DepthWidth: 4, DepthHeight: 4, Depth: make([]float32, 3)}
		}
		return workerResponse{ID: req.ID, Error: "model not loaded"}
	})
	defer stop()

	_, err := rt.RunDetector(context.Background(), tensor(2, 2))
	assert.ErrorIs(t, err, types.ErrInference)
	assert.Contains(t, err.Error(), "model not loaded")

	_, err = rt.RunDepthModel(context.Background(), tensor(2, 2))
	assert.ErrorIs(t, err, types.ErrInference)
}

func TestWorkerRejectsBadTensor(t *testing.T) {
	rt := newConnRuntime(nopWriteCloser{io.Discard}, bytes.NewReader(nil), LayoutFlat)
	_, err := rt.RunDetector(context.Background(), types.ImageTensor{Width: 2, Height: 2, Channels: 3})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestWorkerClosedStreamFails(t *testing.T) {
	rt := newConnRuntime(nopWriteCloser{io.Discard}, bytes.NewReader(nil), LayoutFlat)
	_, err := rt.RunDetector(context.Background(), tensor(1, 1))
	assert.ErrorIs(t, err, types.ErrInference)

	// without a command the worker cannot be restarted
	_, err = rt.RunDetector(context.Background(), tensor(1, 1))
	assert.ErrorIs(t, err, types.ErrInference)
}

func TestNewWorkerRuntimeNeedsCommand(t *testing.T) {
	_, err := NewWorkerRuntime(WorkerConfig{})
	assert.Error(t, err)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
