package telemetry

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/seesafe/seesafe-agent/pkg/types"
)

// DefaultReassemblyTTL bounds how long an incomplete set is kept
const DefaultReassemblyTTL = 30 * time.Second

// DefaultMaxTotalChunks caps the chunk count a window may announce: one MiB
// of snapshot in DefaultMaxChunkSize pieces.
const DefaultMaxTotalChunks = (1 << 20) / DefaultMaxChunkSize

type setKey struct {
	deviceID string
	seq      uint64
	// legacy senders without seq are keyed by chunk count
	total int
}

type chunkSet struct {
	total    int
	parts    map[int]string
	firstAt  time.Time
	received int
}

// doneSet remembers a completed window until the ttl so late retries of its
// chunks are not taken for a new window. parts is kept for legacy keys only.
type doneSet struct {
	parts map[int]string
	at    time.Time
}

// Reassembler buffers chunks by (deviceId, window) until every index arrived.
// Arrival order and duplicates do not matter.
type Reassembler struct {
	mu       sync.Mutex
	ttl      time.Duration
	maxTotal int
	now      func() time.Time
	sets     map[setKey]*chunkSet
	done     map[setKey]doneSet
}

// NewReassembler creates a Reassembler; ttl <= 0 uses DefaultReassemblyTTL
func NewReassembler(ttl time.Duration) *Reassembler {
	if ttl <= 0 {
		ttl = DefaultReassemblyTTL
	}
	return &Reassembler{
		ttl:      ttl,
		maxTotal: DefaultMaxTotalChunks,
		now:      time.Now,
		sets:     make(map[setKey]*chunkSet),
		done:     make(map[setKey]doneSet),
	}
}

// SetMaxTotalChunks changes the largest accepted totalChunks; n <= 0 restores
// DefaultMaxTotalChunks
func (r *Reassembler) SetMaxTotalChunks(n int) {
	if n <= 0 {
		n = DefaultMaxTotalChunks
	}
	r.mu.Lock()
	r.maxTotal = n
	r.mu.Unlock()
}

// Add stores one chunk. When it completes its set, the concatenated payload
// is returned with done=true and the set is released.
//
// Windows with a seq keep the first copy of each index, and chunks of a
// window completed within the ttl are dropped. Legacy windows (seq 0) share
// a key with every window of the same size, so a chunk repeating the last
// completed window's payload at an index already filled is dropped, and any
// other repeat replaces the stored part.
func (r *Reassembler) Add(c types.Chunk) (payload string, done bool, err error) {
	if c.DeviceID == "" {
		return "", false, fmt.Errorf("%w: chunk without device id", types.ErrInvalidInput)
	}
	if c.TotalChunks < 1 || c.Index < 0 || c.Index >= c.TotalChunks {
		return "", false, fmt.Errorf("%w: chunk %d of %d", types.ErrInvalidInput, c.Index, c.TotalChunks)
	}

	legacy := c.Seq == 0
	key := setKey{deviceID: c.DeviceID, seq: c.Seq}
	if legacy {
		key.total = c.TotalChunks
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if c.TotalChunks > r.maxTotal {
		return "", false, fmt.Errorf("%w: %d chunks exceeds the limit of %d", types.ErrInvalidInput, c.TotalChunks, r.maxTotal)
	}

	prev, seen := r.done[key]
	if seen && r.now().Sub(prev.at) > r.ttl {
		delete(r.done, key)
		seen = false
	}
	if seen && !legacy {
		return "", false, nil
	}

	set, ok := r.sets[key]
	if !ok {
		set = &chunkSet{total: c.TotalChunks, parts: make(map[int]string), firstAt: r.now()}
		r.sets[key] = set
	}
	if set.total != c.TotalChunks {
		return "", false, fmt.Errorf("%w: chunk says %d total, window has %d", types.ErrInvalidInput, c.TotalChunks, set.total)
	}

	stored, dup := set.parts[c.Index]
	switch {
	case !dup:
		set.parts[c.Index] = c.Payload
		set.received++
	case legacy && stored != c.Payload:
		if old, late := prev.parts[c.Index]; !seen || !late || old != c.Payload {
			set.parts[c.Index] = c.Payload
		}
	}
	if set.received < set.total {
		return "", false, nil
	}

	var b strings.Builder
	for i := 0; i < set.total; i++ {
		b.WriteString(set.parts[i])
	}
	delete(r.sets, key)
	rec := doneSet{at: r.now()}
	if legacy {
		rec.parts = set.parts
	}
	r.done[key] = rec
	return b.String(), true, nil
}

// Expire drops sets whose first chunk is older than the ttl and returns how many
func (r *Reassembler) Expire() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.ttl)
	n := 0
	for k, set := range r.sets {
		if set.firstAt.Before(cutoff) {
			delete(r.sets, k)
			n++
		}
	}
	for k, d := range r.done {
		if d.at.Before(cutoff) {
			delete(r.done, k)
		}
	}
	return n
}

// Pending returns the number of incomplete sets
func (r *Reassembler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sets)
}
