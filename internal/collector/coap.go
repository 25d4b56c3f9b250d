package collector

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/plgd-dev/go-coap/v3/mux"
	coapnet "github.com/plgd-dev/go-coap/v3/net"
	"github.com/plgd-dev/go-coap/v3/options"
	"github.com/plgd-dev/go-coap/v3/udp"
	udpserver "github.com/plgd-dev/go-coap/v3/udp/server"

	"github.com/seesafe/seesafe-agent/internal/logger"
	"github.com/seesafe/seesafe-agent/internal/session"
)

// CoAPServer exposes the Service over CoAP/UDP
type CoAPServer struct {
	svc    *Service
	router *mux.Router
	server *udpserver.Server
	conn   *coapnet.UDPConn
}

// NewCoAPServer registers the collector routes on a CoAP router
func NewCoAPServer(svc *Service) (*CoAPServer, error) {
	s := &CoAPServer{svc: svc, router: mux.NewRouter()}
	for _, p := range []string{session.PathDeviceAuth, session.PathShareCodeValidation, session.PathSensorsData} {
		if err := s.router.Handle(p, mux.HandlerFunc(s.handle)); err != nil {
			return nil, fmt.Errorf("coap route %s: %w", p, err)
		}
	}
	return s, nil
}

// ListenAndServe blocks serving addr (e.g. ":5683") until Stop
func (s *CoAPServer) ListenAndServe(addr string) error {
	l, err := coapnet.NewListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("coap listen %s: %w", addr, err)
	}
	s.conn = l
	s.server = udp.NewServer(options.WithMux(s.router))
	logger.Info("Collector", "CoAP listening on %s", addr)
	return s.server.Serve(l)
}

// Stop shuts the server down
func (s *CoAPServer) Stop() {
	if s.server != nil {
		s.server.Stop()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
}

func (s *CoAPServer) handle(w mux.ResponseWriter, r *mux.Message) {
	method, ok := coapMethod(r.Code())
	if !ok {
		_ = w.SetResponse(codes.MethodNotAllowed, message.TextPlain, nil)
		return
	}
	path, err := r.Path()
	if err != nil {
		_ = w.SetResponse(codes.BadRequest, message.TextPlain, nil)
		return
	}

	query := url.Values{}
	if qs, err := r.Queries(); err == nil {
		for _, q := range qs {
			k, v, _ := strings.Cut(q, "=")
			if uk, err := url.QueryUnescape(k); err == nil {
				k = uk
			}
			if uv, err := url.QueryUnescape(v); err == nil {
				v = uv
			}
			query.Add(k, v)
		}
	}

	var body []byte
	if r.Body() != nil {
		if body, err = r.ReadBody(); err != nil {
			_ = w.SetResponse(codes.BadRequest, message.TextPlain, nil)
			return
		}
	}

	ctx := r.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rep := s.svc.Handle(ctx, Request{Method: method, Path: path, Query: query, Body: body})
	if err := w.SetResponse(coapCode(rep.Code), message.AppJSON, bytes.NewReader(rep.Body)); err != nil {
		logger.Warn("Collector", "CoAP response: %v", err)
	}
}

func coapMethod(c codes.Code) (string, bool) {
	switch c {
	case codes.GET:
		return http.MethodGet, true
	case codes.POST:
		return http.MethodPost, true
	case codes.PUT:
		return http.MethodPut, true
	case codes.DELETE:
		return http.MethodDelete, true
	}
	return "", false
}

// coapCode maps the HTTP-like reply code onto the nearest CoAP response code
func coapCode(code int) codes.Code {
	switch code {
	case http.StatusOK:
		return codes.Content
	case http.StatusCreated:
		return codes.Created
	case http.StatusAccepted:
		return codes.Changed
	case http.StatusBadRequest:
		return codes.BadRequest
	case http.StatusForbidden:
		return codes.Forbidden
	case http.StatusNotFound:
		return codes.NotFound
	case http.StatusMethodNotAllowed:
		return codes.MethodNotAllowed
	default:
		return codes.InternalServerError
	}
}
