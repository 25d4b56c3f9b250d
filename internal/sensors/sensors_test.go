package sensors

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seesafe/seesafe-agent/pkg/types"
)

type sliceSink struct {
	mu      sync.Mutex
	samples []types.SensorSample
}

func (s *sliceSink) Append(sample types.SensorSample) {
	s.mu.Lock()
	s.samples = append(s.samples, sample)
	s.mu.Unlock()
}

func (s *sliceSink) all() []types.SensorSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.SensorSample(nil), s.samples...)
}

func TestReadSamples(t *testing.T) {
	input := strings.Join([]string{
		`{"type":"accelerometer","x":0.1,"y":-0.98,"z":0.02,"timestamp":1}`,
		``,
		`{"type":"gyroscope","x":0,"y":0.3,"z":0,"timestamp":2}`,
		`{"type":"barometer","pressure":1013}`,
		`not json`,
		`{"type":"location","coords":{"latitude":-23.55,"longitude":-46.63,"accuracy":4.5},"timestamp":3}`,
	}, "\n")

	sink := &sliceSink{}
	n, err := ReadSamples(context.Background(), strings.NewReader(input), sink)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got := sink.all()
	require.Len(t, got, 3)
	assert.Equal(t, types.AccelerometerSample{X: 0.1, Y: -0.98, Z: 0.02, Timestamp: 1}, got[0])
	assert.Equal(t, types.KindGyroscope, got[1].Kind())

	loc := got[2].(types.LocationSample)
	assert.Equal(t, -23.55, loc.Coords.Latitude)
	require.NotNil(t, loc.Coords.Accuracy)
	assert.Equal(t, 4.5, *loc.Coords.Accuracy)
	assert.Nil(t, loc.Coords.Altitude)
}

func TestSimulatorStep(t *testing.T) {
	sim := NewSimulator(100*time.Millisecond, -23.5, -46.6, 1)
	now := time.UnixMilli(1700000000000)

	first := sim.step(0, now, 10)
	require.Len(t, first, 3, "accelerometer, gyroscope and a location fix")
	assert.Equal(t, types.KindLocation, first[2].Kind())

	second := sim.step(1, now, 10)
	assert.Len(t, second, 2)
	assert.Equal(t, int64(1700000000000), second[0].Time())
}

func TestSimulatorRunStops(t *testing.T) {
	sim := NewSimulator(2*time.Millisecond, 0, 0, 1)
	sink := &sliceSink{}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		sim.Run(ctx, sink)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("simulator did not stop")
	}
	assert.NotEmpty(t, sink.all())
}
