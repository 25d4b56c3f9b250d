package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seesafe/seesafe-agent/pkg/types"
)

type fakeRequester struct {
	mu    sync.Mutex
	body  string
	err   error
	reqs  []types.DeliveryRequest
	calls int
}

func (f *fakeRequester) DeliverJSON(ctx context.Context, req types.DeliveryRequest, out any) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return false, f.err
	}
	return true, json.Unmarshal([]byte(f.body), out)
}

type memStore struct {
	dc types.DeviceContext
}

func (m *memStore) LoadContext(context.Context) (types.DeviceContext, error) { return m.dc, nil }
func (m *memStore) SaveContext(_ context.Context, dc types.DeviceContext) error {
	m.dc = dc
	return nil
}

func TestEnvelopeDataForms(t *testing.T) {
	var obj, str Envelope
	require.NoError(t, json.Unmarshal([]byte(`{"statusCode":200,"body":{"message":"ok","data":{"deviceId":"a"}}}`), &obj))
	require.NoError(t, json.Unmarshal([]byte(`{"statusCode":200,"body":{"message":"ok","data":"{\"deviceId\":\"a\"}"}}`), &str))

	for _, env := range []Envelope{obj, str} {
		var d struct{ DeviceID string }
		require.NoError(t, env.DecodeData(&d))
		assert.Equal(t, "a", d.DeviceID)
	}

	var null Envelope
	require.NoError(t, json.Unmarshal([]byte(`{"statusCode":404,"body":{"message":"x","data":null}}`), &null))
	assert.False(t, null.HasData())
	assert.False(t, null.OK())
}

func TestAuthenticatePersistsContext(t *testing.T) {
	req := &fakeRequester{body: `{"statusCode":200,"body":{"message":"registered","data":{"deviceId":"dev-1","shareCode":"seesafe/abc"}}}`}
	st := &memStore{}

	dc, err := NewClient("10.0.0.2:5683", req).Authenticate(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, types.DeviceContext{DeviceID: "dev-1", ShareCode: "seesafe/abc"}, dc)
	assert.Equal(t, dc, st.dc)

	require.Len(t, req.reqs, 1)
	assert.True(t, req.reqs[0].IsCritical)
	assert.Equal(t, "10.0.0.2:5683/deviceAuth", req.reqs[0].Endpoint)
	assert.JSONEq(t, `{"deviceId":""}`, *req.reqs[0].Body)
}

func TestAuthenticateKeepsShareCode(t *testing.T) {
	req := &fakeRequester{body: `{"statusCode":200,"body":{"message":"ok","data":"{\"deviceId\":\"dev-1\"}"}}`}
	st := &memStore{dc: types.DeviceContext{DeviceID: "dev-1", ShareCode: "seesafe/keep"}}

	dc, err := NewClient("c", req).Authenticate(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, "seesafe/keep", dc.ShareCode)
	assert.JSONEq(t, `{"deviceId":"dev-1"}`, *req.reqs[0].Body)
}

func TestAuthenticateDenied(t *testing.T) {
	for _, body := range []string{
		`{"statusCode":403,"body":{"message":"blocked"}}`,
		`{"statusCode":200,"body":{"message":"ok","data":{"deviceId":""}}}`,
	} {
		_, err := NewClient("c", &fakeRequester{body: body}).Authenticate(context.Background(), &memStore{})
		assert.ErrorIs(t, err, ErrAccessDenied, body)
	}
}

func TestAuthenticateSurfacesDeliveryFailure(t *testing.T) {
	boom := errors.New("critical failure")
	_, err := NewClient("c", &fakeRequester{err: boom}).Authenticate(context.Background(), &memStore{})
	assert.ErrorIs(t, err, boom)
}

func TestValidateShareCode(t *testing.T) {
	req := &fakeRequester{body: `{"statusCode":200,"body":{"message":"ok","data":{"deviceId":"dev-7"}}}`}
	id, err := NewClient("c", req).ValidateShareCode(context.Background(), " seesafe/xyz ")
	require.NoError(t, err)
	assert.Equal(t, "dev-7", id)
	assert.JSONEq(t, `{"code":"seesafe/xyz"}`, *req.reqs[0].Body)

	_, err = NewClient("c", &fakeRequester{body: `{"statusCode":404,"body":{"message":"no","data":null}}`}).
		ValidateShareCode(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrInvalidShareCode)
}

func TestValidateShareCodeBlankNeverSends(t *testing.T) {
	req := &fakeRequester{}
	_, err := NewClient("c", req).ValidateShareCode(context.Background(), "   ")
	assert.ErrorIs(t, err, types.ErrInvalidInput)
	assert.Zero(t, req.calls)
}

func TestFetchStatus(t *testing.T) {
	req := &fakeRequester{body: `{"statusCode":200,"body":{"message":"ok","data":{
		"deviceId":"dev-1","didFall":true,"updatedAt":17,
		"locationData":{"coords":{"latitude":-23.5,"longitude":-46.6},"timestamp":5}}}}`}

	status, err := NewClient("c:5683", req).FetchStatus(context.Background(), "dev 1")
	require.NoError(t, err)
	assert.True(t, status.DidFall)
	require.NotNil(t, status.Location)
	assert.Equal(t, -46.6, status.Location.Coords.Longitude)
	assert.Equal(t, "c:5683/sensorsData?deviceId=dev+1", req.reqs[0].Endpoint)
	assert.Equal(t, "GET", req.reqs[0].Method)
	assert.Nil(t, req.reqs[0].Body)
}

func TestFetchStatusUnknownDevice(t *testing.T) {
	_, err := NewClient("c", &fakeRequester{body: `{"statusCode":404,"body":{"message":"unknown"}}`}).
		FetchStatus(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUnknownDevice)
}

func TestWatchPollsUntilCancelled(t *testing.T) {
	req := &fakeRequester{body: `{"statusCode":200,"body":{"message":"ok","data":{"didFall":false}}}`}
	ctx, cancel := context.WithCancel(context.Background())

	var n int
	done := make(chan struct{})
	go func() {
		NewClient("c", req).Watch(ctx, "dev", 5*time.Millisecond, func(s CarerStatus, err error) {
			n++
			assert.NoError(t, err)
			assert.Equal(t, "dev", s.DeviceID)
			if n == 3 {
				cancel()
			}
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
	assert.GreaterOrEqual(t, n, 3)
}
