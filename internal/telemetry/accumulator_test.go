package telemetry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seesafe/seesafe-agent/pkg/types"
)

func TestFlushDrainsMotionSamples(t *testing.T) {
	acc := NewAccumulator("dev-1")
	for i := 0; i < 3; i++ {
		acc.Append(types.AccelerometerSample{X: float64(i), Timestamp: int64(i)})
	}
	acc.Append(types.GyroscopeSample{Z: 1})

	snap := acc.Flush()
	assert.Equal(t, "dev-1", snap.DeviceID)
	assert.Len(t, snap.AccelerometerData, 3)
	assert.Len(t, snap.GyroscopeData, 1)
	assert.Equal(t, 0, acc.Len())

	next := acc.Flush()
	assert.Empty(t, next.AccelerometerData)
	assert.Empty(t, next.GyroscopeData)
}

func TestLocationIsLatestWinsAndPersists(t *testing.T) {
	acc := NewAccumulator("dev-1")
	acc.Append(types.LocationSample{Coords: types.Coords{Latitude: 1}, Timestamp: 1})
	acc.Append(types.LocationSample{Coords: types.Coords{Latitude: 2}, Timestamp: 2})

	first := acc.Flush()
	require.NotNil(t, first.LocationData)
	assert.Equal(t, 2.0, first.LocationData.Coords.Latitude)

	second := acc.Flush()
	require.NotNil(t, second.LocationData, "location must carry over to the next window")
	assert.Equal(t, 2.0, second.LocationData.Coords.Latitude)

	acc.Append(types.LocationSample{Coords: types.Coords{Latitude: 3}, Timestamp: 3})
	assert.Equal(t, 3.0, acc.Flush().LocationData.Coords.Latitude)
	assert.Equal(t, 2.0, second.LocationData.Coords.Latitude, "snapshots are independent copies")
}

func TestNoLocationYet(t *testing.T) {
	assert.Nil(t, NewAccumulator("d").Flush().LocationData)
}

func TestSnapshotNotAffectedByLaterAppends(t *testing.T) {
	acc := NewAccumulator("d")
	acc.Append(types.AccelerometerSample{X: 1})
	snap := acc.Flush()
	acc.Append(types.AccelerometerSample{X: 2})
	require.Len(t, snap.AccelerometerData, 1)
	assert.Equal(t, 1.0, snap.AccelerometerData[0].X)
}

func TestSetDeviceID(t *testing.T) {
	acc := NewAccumulator("")
	acc.SetDeviceID("assigned")
	assert.Equal(t, "assigned", acc.DeviceID())
	assert.Equal(t, "assigned", acc.Flush().DeviceID)
}

// Every appended sample ends up in exactly one snapshot.
func TestConcurrentAppendAndFlush(t *testing.T) {
	acc := NewAccumulator("d")
	const writers, perWriter = 8, 500

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				acc.Append(types.AccelerometerSample{Timestamp: int64(i)})
			}
		}()
	}

	done := make(chan struct{})
	total := 0
	go func() {
		defer close(done)
		for total < writers*perWriter {
			total += len(acc.Flush().AccelerometerData)
		}
	}()

	wg.Wait()
	<-done
	total += len(acc.Flush().AccelerometerData)
	assert.Equal(t, writers*perWriter, total)
}
