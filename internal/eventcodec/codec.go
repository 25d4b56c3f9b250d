// Package eventcodec pre-serializes obstacle events once for every
// downstream consumer (SSE clients, MQTT).
package eventcodec

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/seesafe/seesafe-agent/pkg/types"
)

// Format names a wire encoding
type Format string

const (
	FormatJSON     Format = "json"
	FormatProtobuf Format = "protobuf"
)

// ParseFormat accepts "json", "protobuf" or "" (json)
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatProtobuf, "proto", "pb":
		return FormatProtobuf, nil
	}
	return "", fmt.Errorf("eventcodec: unknown format %q", s)
}

// Serialized holds one event in both encodings
type Serialized struct {
	JSON     []byte
	Protobuf []byte // google.protobuf.Struct wire bytes
}

// Base64 returns the protobuf bytes base64 encoded for text transports
func (s *Serialized) Base64() []byte {
	return []byte(base64.StdEncoding.EncodeToString(s.Protobuf))
}

// Bytes returns the payload for the requested format
func (s *Serialized) Bytes(f Format) []byte {
	if f == FormatProtobuf {
		return s.Protobuf
	}
	return s.JSON
}

// Encode serializes v (any JSON-marshalable value) in both formats
func Encode(v any) (*Serialized, error) {
	js, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("eventcodec: json: %w", err)
	}
	st := &structpb.Struct{}
	if err := st.UnmarshalJSON(js); err != nil {
		return nil, fmt.Errorf("eventcodec: struct: %w", err)
	}
	pb, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("eventcodec: protobuf: %w", err)
	}
	return &Serialized{JSON: js, Protobuf: pb}, nil
}

// EncodeEvent serializes an obstacle event; nil obstacles become []
func EncodeEvent(ev types.ObstacleEvent) (*Serialized, error) {
	if ev.Obstacles == nil {
		ev.Obstacles = []types.ObstacleRecord{}
	}
	return Encode(ev)
}

// DecodeProtobuf turns Struct wire bytes back into a generic map
func DecodeProtobuf(b []byte) (map[string]any, error) {
	st := &structpb.Struct{}
	if err := proto.Unmarshal(b, st); err != nil {
		return nil, fmt.Errorf("eventcodec: protobuf: %w", err)
	}
	return st.AsMap(), nil
}
