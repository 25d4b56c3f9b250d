package telemetry

import (
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seesafe/seesafe-agent/pkg/types"
)

func TestReassembleOutOfOrderWithDuplicates(t *testing.T) {
	payload := strings.Repeat("0123456789", 25)
	chunks, err := Chunk(payload, 16, "dev")
	require.NoError(t, err)
	for i := range chunks {
		chunks[i].Seq = 9
	}

	// duplicate a few, then shuffle
	arrivals := append(append([]types.Chunk{}, chunks...), chunks[0], chunks[3])
	rand.New(rand.NewSource(3)).Shuffle(len(arrivals), func(i, j int) { arrivals[i], arrivals[j] = arrivals[j], arrivals[i] })

	r := NewReassembler(time.Minute)
	var got string
	completions := 0
	for _, c := range arrivals {
		out, done, err := r.Add(c)
		require.NoError(t, err)
		if done {
			got = out
			completions++
		}
	}
	// duplicates arriving after completion are dropped
	assert.Zero(t, r.Pending())
	assert.Equal(t, 1, completions)
	assert.Equal(t, payload, got)
}

func TestReassembleSeparatesWindows(t *testing.T) {
	r := NewReassembler(time.Minute)
	a := []types.Chunk{
		{Index: 0, TotalChunks: 2, Payload: "A0", DeviceID: "d", Seq: 1},
		{Index: 1, TotalChunks: 2, Payload: "A1", DeviceID: "d", Seq: 1},
	}
	b := []types.Chunk{
		{Index: 0, TotalChunks: 2, Payload: "B0", DeviceID: "d", Seq: 2},
		{Index: 1, TotalChunks: 2, Payload: "B1", DeviceID: "d", Seq: 2},
	}

	_, done, err := r.Add(a[0])
	require.NoError(t, err)
	require.False(t, done)
	_, done, err = r.Add(b[1])
	require.NoError(t, err)
	require.False(t, done)

	out, done, err := r.Add(b[0])
	require.NoError(t, err)
	require.True(t, done)
	assert.Equal(t, "B0B1", out)

	out, done, err = r.Add(a[1])
	require.NoError(t, err)
	require.True(t, done)
	assert.Equal(t, "A0A1", out)
	assert.Zero(t, r.Pending())
}

func TestReassembleLegacyChunksWithoutSeq(t *testing.T) {
	r := NewReassembler(time.Minute)
	_, _, err := r.Add(types.Chunk{Index: 1, TotalChunks: 2, Payload: "lo", DeviceID: "d"})
	require.NoError(t, err)
	out, done, err := r.Add(types.Chunk{Index: 0, TotalChunks: 2, Payload: "hel", DeviceID: "d"})
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, "hello", out)
}

func TestReassembleSingleEmptyChunk(t *testing.T) {
	out, done, err := NewReassembler(0).Add(types.Chunk{Index: 0, TotalChunks: 1, DeviceID: "d", Seq: 4})
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, "", out)
}

func TestReassembleRejectsBadChunks(t *testing.T) {
	r := NewReassembler(0)
	for _, c := range []types.Chunk{
		{Index: 0, TotalChunks: 1},
		{Index: 0, TotalChunks: 0, DeviceID: "d"},
		{Index: 2, TotalChunks: 2, DeviceID: "d"},
		{Index: -1, TotalChunks: 2, DeviceID: "d"},
	} {
		_, _, err := r.Add(c)
		assert.ErrorIs(t, err, types.ErrInvalidInput, "%+v", c)
	}

	_, _, err := r.Add(types.Chunk{Index: 0, TotalChunks: 3, DeviceID: "d", Seq: 1})
	require.NoError(t, err)
	_, _, err = r.Add(types.Chunk{Index: 1, TotalChunks: 4, DeviceID: "d", Seq: 1})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestReassemblerExpire(t *testing.T) {
	now := time.Unix(1000, 0)
	r := NewReassembler(10 * time.Second)
	r.now = func() time.Time { return now }

	_, _, err := r.Add(types.Chunk{Index: 0, TotalChunks: 2, DeviceID: "old", Seq: 1})
	require.NoError(t, err)

	now = now.Add(8 * time.Second)
	_, _, err = r.Add(types.Chunk{Index: 0, TotalChunks: 2, DeviceID: "new", Seq: 1})
	require.NoError(t, err)
	assert.Zero(t, r.Expire())

	now = now.Add(5 * time.Second)
	assert.Equal(t, 1, r.Expire())
	assert.Equal(t, 1, r.Pending())
}

func TestReassembleRejectsOversizedWindow(t *testing.T) {
	r := NewReassembler(0)
	_, _, err := r.Add(types.Chunk{Index: 0, TotalChunks: 20_000_000, Payload: "x", DeviceID: "d", Seq: 1})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
	_, _, err = r.Add(types.Chunk{Index: 0, TotalChunks: DefaultMaxTotalChunks + 1, Payload: "x", DeviceID: "d"})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
	assert.Zero(t, r.Pending())

	_, _, err = r.Add(types.Chunk{Index: 0, TotalChunks: DefaultMaxTotalChunks, Payload: "x", DeviceID: "d", Seq: 2})
	require.NoError(t, err)

	r.SetMaxTotalChunks(4)
	_, _, err = r.Add(types.Chunk{Index: 0, TotalChunks: 5, Payload: "x", DeviceID: "d", Seq: 3})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
	out, done, err := r.Add(types.Chunk{Index: 0, TotalChunks: 1, Payload: "x", DeviceID: "d", Seq: 4})
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, "x", out)
}

func TestReassembleDropsLateChunkOfCompletedWindow(t *testing.T) {
	r := NewReassembler(time.Minute)
	chunk := func(i int, p string, seq uint64) types.Chunk {
		return types.Chunk{Index: i, TotalChunks: 2, Payload: p, DeviceID: "d", Seq: seq}
	}

	_, _, err := r.Add(chunk(0, "A0", 7))
	require.NoError(t, err)
	out, done, err := r.Add(chunk(1, "A1", 7))
	require.NoError(t, err)
	require.True(t, done)
	assert.Equal(t, "A0A1", out)

	_, done, err = r.Add(chunk(1, "A1", 7))
	require.NoError(t, err)
	assert.False(t, done)
	assert.Zero(t, r.Pending())
}

func TestReassembleLegacyLateChunkDoesNotLeakIntoNextWindow(t *testing.T) {
	legacy := func(i int, p string) types.Chunk {
		return types.Chunk{Index: i, TotalChunks: 2, Payload: p, DeviceID: "d"}
	}
	complete := func(t *testing.T, r *Reassembler, chunks ...types.Chunk) string {
		t.Helper()
		var out string
		for i, c := range chunks {
			got, done, err := r.Add(c)
			require.NoError(t, err)
			require.Equal(t, i == len(chunks)-1, done, "chunk %d", i)
			out = got
		}
		return out
	}

	t.Run("late chunk before the next window", func(t *testing.T) {
		r := NewReassembler(time.Minute)
		assert.Equal(t, "A0A1", complete(t, r, legacy(0, "A0"), legacy(1, "A1")))

		_, done, err := r.Add(legacy(1, "A1"))
		require.NoError(t, err)
		require.False(t, done)

		assert.Equal(t, "B0B1", complete(t, r, legacy(1, "B1"), legacy(0, "B0")))
	})

	t.Run("late chunk inside the next window", func(t *testing.T) {
		r := NewReassembler(time.Minute)
		assert.Equal(t, "A0A1", complete(t, r, legacy(0, "A0"), legacy(1, "A1")))

		_, done, err := r.Add(legacy(1, "B1"))
		require.NoError(t, err)
		require.False(t, done)
		_, done, err = r.Add(legacy(1, "A1"))
		require.NoError(t, err)
		require.False(t, done)

		out, done, err := r.Add(legacy(0, "B0"))
		require.NoError(t, err)
		require.True(t, done)
		assert.Equal(t, "B0B1", out)
	})
}

func TestReassemblerExpireForgetsCompletedWindows(t *testing.T) {
	now := time.Unix(1000, 0)
	r := NewReassembler(10 * time.Second)
	r.now = func() time.Time { return now }

	_, done, err := r.Add(types.Chunk{Index: 0, TotalChunks: 1, Payload: "p", DeviceID: "d", Seq: 5})
	require.NoError(t, err)
	require.True(t, done)
	assert.Len(t, r.done, 1)

	now = now.Add(11 * time.Second)
	assert.Zero(t, r.Expire())
	assert.Empty(t, r.done)
}
