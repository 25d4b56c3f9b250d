package webmonitor

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seesafe/seesafe-agent/internal/eventcodec"
	"github.com/seesafe/seesafe-agent/internal/metrics"
	"github.com/seesafe/seesafe-agent/pkg/types"
)

func newTestServer(t *testing.T) (*Server, *Monitor, *EventBroadcaster, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	mon := NewMonitor(Sources{
		Metrics: m,
		Device:  func() types.DeviceContext { return types.DeviceContext{DeviceID: "dev-1", ShareCode: "seesafe/abcd1234"} },
		Pending: func() int { return 4 },
	}, 2)
	b := NewEventBroadcaster()
	return NewServer(DefaultConfig(), mon, b, m.Handler()), mon, b, m
}

func obstacleEvent(frame uint64, nearby bool) types.ObstacleEvent {
	ev := types.ObstacleEvent{FrameNum: frame, Mode: types.ModeFusion, Nearby: nearby}
	if nearby {
		ev.Obstacles = []types.ObstacleRecord{{ClassName: "chair", MeanDepth: 250, Confidence: 0.8}}
	}
	return ev
}

func TestMonitorHistoryKeepsInterestingEvents(t *testing.T) {
	_, mon, _, _ := newTestServer(t)

	mon.HandleEvent(obstacleEvent(1, true))
	mon.HandleEvent(obstacleEvent(2, false))
	mon.HandleEvent(obstacleEvent(3, true))
	mon.HandleEvent(obstacleEvent(4, true))

	st := mon.Snapshot()
	require.NotNil(t, st.LatestEvent)
	assert.Equal(t, uint64(4), st.LatestEvent.FrameNum)
	assert.Equal(t, 4, st.EventVersion)
	require.Len(t, st.EventHistory, 2)
	assert.Equal(t, uint64(4), st.EventHistory[0].FrameNum)
	assert.Equal(t, uint64(3), st.EventHistory[1].FrameNum)
}

func TestStatusEndpoint(t *testing.T) {
	s, mon, _, m := newTestServer(t)
	m.FramesProcessed.Store(12)
	m.ChunksDropped.Store(2)
	mon.HandleEvent(obstacleEvent(9, true))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var st Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "dev-1", st.Device.DeviceID)
	assert.Equal(t, uint64(12), st.Frames.FramesProcessed)
	assert.Equal(t, uint64(2), st.Telemetry.ChunksDropped)
	assert.Equal(t, 4, st.Telemetry.SamplesPending)
	require.NotNil(t, st.LatestEvent)
	assert.Equal(t, "chair", st.LatestEvent.Obstacles[0].ClassName)
}

func TestHealthMetricsAndIndex(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "seesafe_agent_frames_processed_total")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Contains(t, rec.Body.String(), "/api/obstacles/stream")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func readDataLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		}
	}
}

func streamOne(t *testing.T, accept string) (string, http.Header) {
	s, _, b, _ := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/obstacles/stream", nil)
	require.NoError(t, err)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Eventually(t, func() bool { return b.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
	b.HandleEvent(obstacleEvent(5, true))

	return readDataLine(t, bufio.NewReader(resp.Body)), resp.Header
}

func TestObstaclesStreamJSON(t *testing.T) {
	data, hdr := streamOne(t, "")
	assert.Equal(t, "text/event-stream", hdr.Get("Content-Type"))
	assert.Equal(t, "application/json", hdr.Get("X-Content-Format"))

	var ev types.ObstacleEvent
	require.NoError(t, json.Unmarshal([]byte(data), &ev))
	assert.Equal(t, uint64(5), ev.FrameNum)
	assert.True(t, ev.Nearby)
}

func TestObstaclesStreamProtobuf(t *testing.T) {
	data, hdr := streamOne(t, "application/x-protobuf")
	assert.Equal(t, "application/protobuf", hdr.Get("X-Content-Format"))

	raw, err := base64.StdEncoding.DecodeString(data)
	require.NoError(t, err)
	m, err := eventcodec.DecodeProtobuf(raw)
	require.NoError(t, err)
	assert.Equal(t, float64(5), m["frame_number"])
}

func TestBroadcasterDropsForSlowClients(t *testing.T) {
	b := NewEventBroadcaster()
	id, ch := b.Subscribe()
	for i := 0; i < 5; i++ {
		b.HandleEvent(obstacleEvent(uint64(i), false))
	}
	assert.Len(t, ch, 2)

	b.Unsubscribe(id)
	assert.Equal(t, 0, b.Clients())

	b.Close()
	_, closed := b.Subscribe()
	_, ok := <-closed
	assert.False(t, ok)
}

func TestAcceptFormat(t *testing.T) {
	assert.Equal(t, eventcodec.FormatJSON, acceptFormat(""))
	assert.Equal(t, eventcodec.FormatJSON, acceptFormat("text/event-stream"))
	assert.Equal(t, eventcodec.FormatProtobuf, acceptFormat("text/event-stream, application/protobuf;q=0.9"))
	assert.Equal(t, eventcodec.FormatProtobuf, acceptFormat("application/x-protobuf"))
}
