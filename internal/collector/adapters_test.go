package collector

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoAPCodeMapping(t *testing.T) {
	assert.Equal(t, codes.Content, coapCode(http.StatusOK))
	assert.Equal(t, codes.Changed, coapCode(http.StatusAccepted))
	assert.Equal(t, codes.Forbidden, coapCode(http.StatusForbidden))
	assert.Equal(t, codes.NotFound, coapCode(http.StatusNotFound))
	assert.Equal(t, codes.InternalServerError, coapCode(http.StatusTeapot))

	m, ok := coapMethod(codes.POST)
	assert.True(t, ok)
	assert.Equal(t, http.MethodPost, m)
	_, ok = coapMethod(codes.Content)
	assert.False(t, ok)
}

func TestNewCoAPServerRegistersRoutes(t *testing.T) {
	svc, _ := newTestService(t)
	s, err := NewCoAPServer(svc)
	require.NoError(t, err)
	s.Stop()
}

func TestGatewayOfferValidation(t *testing.T) {
	svc, m := newTestService(t)
	gw := NewGateway(svc, nil, 1, m)
	defer gw.Close()
	h := HTTPHandler(svc, gw, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/offer", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/offer", strings.NewReader("not sdp")))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, 0, gw.PeerCount())
}

func TestParseQuery(t *testing.T) {
	q, err := parseQuery("deviceId=a%2Fb&x=1")
	require.NoError(t, err)
	assert.Equal(t, "a/b", q.Get("deviceId"))

	q, err = parseQuery("")
	require.NoError(t, err)
	assert.Empty(t, q)
}
