package telemetry

import (
	"fmt"

	"github.com/seesafe/seesafe-agent/pkg/types"
)

// DefaultMaxChunkSize keeps one chunk envelope inside a single CoAP datagram
const DefaultMaxChunkSize = 700

// Chunk splits payload into ceil(len/maxSize) byte ranges. An empty payload
// still yields one empty chunk so the receiver sees the window.
func Chunk(payload string, maxSize int, deviceID string) ([]types.Chunk, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("%w: max chunk size %d", types.ErrInvalidInput, maxSize)
	}

	total := (len(payload) + maxSize - 1) / maxSize
	if total == 0 {
		total = 1
	}

	chunks := make([]types.Chunk, total)
	for i := range chunks {
		start := i * maxSize
		end := min(start+maxSize, len(payload))
		chunks[i] = types.Chunk{
			Index:       i,
			TotalChunks: total,
			Payload:     payload[start:end],
			DeviceID:    deviceID,
		}
	}
	return chunks, nil
}
