// Package telemetry buffers sensor samples between flushes, splits the
// serialized snapshots into bounded chunks, ships them and, on the receiving
// side, puts them back together.
package telemetry

import (
	"sync"

	"github.com/seesafe/seesafe-agent/pkg/types"
)

// Accumulator collects samples for one flush window. Append and Flush are
// mutually exclusive; a sample is either in the snapshot being flushed or in
// the next one, never lost.
type Accumulator struct {
	mu       sync.Mutex
	deviceID string
	accel    []types.AccelerometerSample
	gyro     []types.GyroscopeSample
	location *types.LocationSample
}

// NewAccumulator creates an empty accumulator for deviceID
func NewAccumulator(deviceID string) *Accumulator {
	return &Accumulator{deviceID: deviceID}
}

// SetDeviceID changes the id stamped on subsequent snapshots
func (a *Accumulator) SetDeviceID(id string) {
	a.mu.Lock()
	a.deviceID = id
	a.mu.Unlock()
}

// DeviceID returns the current device id
func (a *Accumulator) DeviceID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.deviceID
}

// Append adds a motion sample to its sequence, or replaces the latest location
func (a *Accumulator) Append(sample types.SensorSample) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch s := sample.(type) {
	case types.AccelerometerSample:
		a.accel = append(a.accel, s)
	case types.GyroscopeSample:
		a.gyro = append(a.gyro, s)
	case types.LocationSample:
		a.location = &s
	}
}

// Flush drains the motion sequences into a snapshot. The latest location is
// copied into the snapshot and kept for the next window.
func (a *Accumulator) Flush() types.TelemetrySnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := types.TelemetrySnapshot{
		DeviceID:          a.deviceID,
		AccelerometerData: a.accel,
		GyroscopeData:     a.gyro,
	}
	if a.location != nil {
		loc := *a.location
		snap.LocationData = &loc
	}

	// hand the backing arrays to the snapshot; new appends start fresh ones
	a.accel = nil
	a.gyro = nil
	return snap
}

// Len returns the number of buffered motion samples
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.accel) + len(a.gyro)
}
