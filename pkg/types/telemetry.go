package types

import (
	"encoding/json"
	"fmt"
)

// SensorKind tags a SensorSample
type SensorKind string

const (
	KindAccelerometer SensorKind = "accelerometer"
	KindGyroscope     SensorKind = "gyroscope"
	KindLocation      SensorKind = "location"
)

// SensorSample is one of AccelerometerSample, GyroscopeSample or LocationSample
type SensorSample interface {
	Kind() SensorKind
	Time() int64
}

// Vector3 is a 3-axis reading with a millisecond timestamp
type Vector3 struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Z         float64 `json:"z"`
	Timestamp int64   `json:"timestamp"`
}

// AccelerometerSample is in g units
type AccelerometerSample Vector3

func (AccelerometerSample) Kind() SensorKind { return KindAccelerometer }
func (s AccelerometerSample) Time() int64    { return s.Timestamp }

// GyroscopeSample is in rad/s
type GyroscopeSample Vector3

func (GyroscopeSample) Kind() SensorKind { return KindGyroscope }
func (s GyroscopeSample) Time() int64    { return s.Timestamp }

// Coords mirrors the phone location provider's coordinate block
type Coords struct {
	Latitude         float64  `json:"latitude"`
	Longitude        float64  `json:"longitude"`
	Altitude         *float64 `json:"altitude"`
	Accuracy         *float64 `json:"accuracy"`
	AltitudeAccuracy *float64 `json:"altitudeAccuracy"`
	Heading          *float64 `json:"heading"`
	Speed            *float64 `json:"speed"`
}

// LocationSample is a position fix
type LocationSample struct {
	Coords    Coords `json:"coords"`
	Timestamp int64  `json:"timestamp"`
}

func (LocationSample) Kind() SensorKind { return KindLocation }
func (s LocationSample) Time() int64    { return s.Timestamp }

// DecodeSample decodes one tagged sample line:
//
//	{"type":"accelerometer","x":0.01,"y":-0.98,"z":0.12,"timestamp":1700000000000}
//	{"type":"location","coords":{"latitude":-23.5,"longitude":-46.6},"timestamp":1700000000000}
func DecodeSample(line []byte) (SensorSample, error) {
	var tag struct {
		Type SensorKind `json:"type"`
	}
	if err := json.Unmarshal(line, &tag); err != nil {
		return nil, fmt.Errorf("%w: sample: %v", ErrInvalidInput, err)
	}
	switch tag.Type {
	case KindAccelerometer:
		var s AccelerometerSample
		if err := json.Unmarshal(line, &s); err != nil {
			return nil, fmt.Errorf("%w: accelerometer sample: %v", ErrInvalidInput, err)
		}
		return s, nil
	case KindGyroscope:
		var s GyroscopeSample
		if err := json.Unmarshal(line, &s); err != nil {
			return nil, fmt.Errorf("%w: gyroscope sample: %v", ErrInvalidInput, err)
		}
		return s, nil
	case KindLocation:
		var s LocationSample
		if err := json.Unmarshal(line, &s); err != nil {
			return nil, fmt.Errorf("%w: location sample: %v", ErrInvalidInput, err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: unknown sample type %q", ErrInvalidInput, tag.Type)
	}
}

// TelemetrySnapshot is the drained content of one flush window
type TelemetrySnapshot struct {
	DeviceID          string                `json:"deviceId"`
	AccelerometerData []AccelerometerSample `json:"accelerometerData"`
	GyroscopeData     []GyroscopeSample     `json:"gyroscopeData"`
	LocationData      *LocationSample       `json:"locationData"`
}

// Chunk is one bounded fragment of a serialized snapshot
type Chunk struct {
	Index       int    `json:"index"`
	TotalChunks int    `json:"totalChunks"`
	Payload     string `json:"chunk"`
	DeviceID    string `json:"deviceId"`
	// Seq identifies the flush window; 0 for senders that do not set it
	Seq uint64 `json:"seq,omitempty"`
}

// DeviceContext is the persisted device identity
type DeviceContext struct {
	DeviceID  string `json:"deviceId"`
	ShareCode string `json:"shareCode"`
}
