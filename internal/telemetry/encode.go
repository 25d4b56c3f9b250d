package telemetry

import (
	"encoding/json"
	"fmt"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/seesafe/seesafe-agent/pkg/types"
)

// EncodeSnapshot serializes a snapshot as ASCII-only JSON. Non-ASCII runes
// only occur inside strings and are written as \uXXXX escapes, so cutting the
// output at arbitrary byte offsets never splits a UTF-8 sequence.
func EncodeSnapshot(s types.TelemetrySnapshot) (string, error) {
	if s.AccelerometerData == nil {
		s.AccelerometerData = []types.AccelerometerSample{}
	}
	if s.GyroscopeData == nil {
		s.GyroscopeData = []types.GyroscopeSample{}
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	return asciiJSON(raw), nil
}

// DecodeSnapshot is the receiving side of EncodeSnapshot
func DecodeSnapshot(payload string) (types.TelemetrySnapshot, error) {
	var s types.TelemetrySnapshot
	if err := json.Unmarshal([]byte(payload), &s); err != nil {
		return s, fmt.Errorf("%w: snapshot: %v", types.ErrInvalidInput, err)
	}
	return s, nil
}

func asciiJSON(raw []byte) string {
	ascii := true
	for _, b := range raw {
		if b >= utf8.RuneSelf {
			ascii = false
			break
		}
	}
	if ascii {
		return string(raw)
	}

	out := make([]byte, 0, len(raw)+16)
	for len(raw) > 0 {
		r, size := utf8.DecodeRune(raw)
		raw = raw[size:]
		switch {
		case r < utf8.RuneSelf:
			out = append(out, byte(r))
		case r > 0xFFFF:
			hi, lo := utf16.EncodeRune(r)
			out = fmt.Appendf(out, `\u%04x\u%04x`, hi, lo)
		default:
			out = fmt.Appendf(out, `\u%04x`, r)
		}
	}
	return string(out)
}
