// Package sensors feeds motion and location samples into the telemetry
// accumulator, either from the phone bridge or from a simulator.
package sensors

import (
	"bufio"
	"context"
	"errors"
	"io"
	"math"
	"math/rand"
	"time"

	"github.com/seesafe/seesafe-agent/internal/logger"
	"github.com/seesafe/seesafe-agent/pkg/types"
)

// Sink receives decoded samples
type Sink interface {
	Append(types.SensorSample)
}

// ReadSamples decodes newline-delimited tagged JSON samples from r until EOF
// or ctx is done. Malformed lines are logged and skipped. It returns the
// number of samples delivered.
func ReadSamples(ctx context.Context, r io.Reader, sink Sink) (int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)

	n, bad := 0, 0
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		s, err := types.DecodeSample(line)
		if err != nil {
			bad++
			if bad <= 5 || bad%100 == 0 {
				logger.Warn("Sensors", "Skipping sample line (%d bad so far): %v", bad, err)
			}
			continue
		}
		sink.Append(s)
		n++
	}
	if err := sc.Err(); err != nil && !errors.Is(err, io.EOF) {
		return n, err
	}
	return n, nil
}

// Simulator produces plausible walking samples at a fixed interval:
// accelerometer and gyroscope every tick, a location fix every second.
type Simulator struct {
	interval time.Duration
	rng      *rand.Rand
	lat, lon float64
}

// NewSimulator starts the walk at lat/lon
func NewSimulator(interval time.Duration, lat, lon float64, seed int64) *Simulator {
	return &Simulator{interval: interval, rng: rand.New(rand.NewSource(seed)), lat: lat, lon: lon}
}

// Run emits samples into sink until ctx is done
func (s *Simulator) Run(ctx context.Context, sink Sink) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logger.Info("Sensors", "Simulator started (interval %v)", s.interval)
	var tick int
	locEvery := max(1, int(time.Second/s.interval))

	for {
		select {
		case <-ctx.Done():
			logger.Info("Sensors", "Simulator stopped")
			return
		case now := <-ticker.C:
			for _, sample := range s.step(tick, now, locEvery) {
				sink.Append(sample)
			}
			tick++
		}
	}
}

func (s *Simulator) step(tick int, now time.Time, locEvery int) []types.SensorSample {
	ts := now.UnixMilli()
	// 2 Hz gait bounce on top of gravity
	phase := 2 * math.Pi * 2 * float64(tick) * s.interval.Seconds()
	out := []types.SensorSample{
		types.AccelerometerSample{
			X:         0.05 * s.rng.NormFloat64(),
			Y:         -1 + 0.15*math.Sin(phase),
			Z:         0.05 * s.rng.NormFloat64(),
			Timestamp: ts,
		},
		types.GyroscopeSample{
			X:         0.1 * s.rng.NormFloat64(),
			Y:         0.1 * s.rng.NormFloat64(),
			Z:         0.02 * s.rng.NormFloat64(),
			Timestamp: ts,
		},
	}

	if tick%locEvery == 0 {
		// roughly 1.2 m/s heading north-east
		s.lat += 0.0000076
		s.lon += 0.0000076
		acc := 5 + 3*s.rng.Float64()
		out = append(out, types.LocationSample{
			Coords:    types.Coords{Latitude: s.lat, Longitude: s.lon, Accuracy: &acc},
			Timestamp: ts,
		})
	}
	return out
}
