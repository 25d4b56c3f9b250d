// Package collector is the reference server side of the agent: device
// registration, share codes, chunk reassembly and caregiver status. The
// Service is transport agnostic; HTTP, CoAP and WebRTC adapters feed it.
package collector

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/seesafe/seesafe-agent/internal/logger"
	"github.com/seesafe/seesafe-agent/internal/metrics"
	"github.com/seesafe/seesafe-agent/internal/session"
	"github.com/seesafe/seesafe-agent/internal/telemetry"
	"github.com/seesafe/seesafe-agent/pkg/types"
)

// Request is one decoded call from any adapter
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   []byte
}

// Reply carries an HTTP-like code and the JSON envelope
type Reply struct {
	Code int
	Body []byte
}

// Service handles collector routes
type Service struct {
	db      *DB
	reasm   *telemetry.Reassembler
	fall    FallConfig
	metrics *metrics.CollectorMetrics
}

// NewService wires the collector. A nil reassembler uses the default TTL.
func NewService(db *DB, reasm *telemetry.Reassembler, fall FallConfig, m *metrics.CollectorMetrics) *Service {
	if reasm == nil {
		reasm = telemetry.NewReassembler(0)
	}
	if m == nil {
		m = metrics.NewCollector()
	}
	return &Service{db: db, reasm: reasm, fall: fall, metrics: m}
}

// Handle routes one request
func (s *Service) Handle(ctx context.Context, req Request) Reply {
	s.metrics.Requests.Add(1)
	method := strings.ToUpper(req.Method)

	var rep Reply
	switch req.Path {
	case session.PathDeviceAuth:
		rep = s.requirePost(method, func() Reply { return s.deviceAuth(ctx, req.Body) })
	case session.PathShareCodeValidation:
		rep = s.requirePost(method, func() Reply { return s.shareCodeValidation(ctx, req.Body) })
	case session.PathSensorsData:
		switch method {
		case http.MethodPost:
			rep = s.postSensorsData(ctx, req.Body)
		case http.MethodGet:
			rep = s.getSensorsData(ctx, req.Query.Get("deviceId"))
		case http.MethodDelete:
			rep = s.clearFall(ctx, req.Query.Get("deviceId"))
		default:
			rep = reply(http.StatusMethodNotAllowed, "Method not allowed", nil)
		}
	default:
		rep = reply(http.StatusNotFound, "Not found", nil)
	}

	if rep.Code == http.StatusBadRequest {
		s.metrics.BadRequests.Add(1)
	}
	return rep
}

func (s *Service) requirePost(method string, fn func() Reply) Reply {
	if method != http.MethodPost {
		return reply(http.StatusMethodNotAllowed, "Method not allowed", nil)
	}
	return fn()
}

func (s *Service) deviceAuth(ctx context.Context, body []byte) Reply {
	var in struct {
		DeviceID string `json:"deviceId"`
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &in); err != nil {
			return reply(http.StatusBadRequest, "Malformed request", nil)
		}
	}

	dc, created, err := s.db.Register(ctx, in.DeviceID)
	if err != nil {
		logger.Error("Collector", "deviceAuth: %v", err)
		return reply(http.StatusInternalServerError, "Internal error", nil)
	}
	if created {
		s.metrics.DevicesRegistered.Add(1)
		return reply(http.StatusOK, "Device registered", dc)
	}
	return reply(http.StatusOK, "Device authenticated", dc)
}

func (s *Service) shareCodeValidation(ctx context.Context, body []byte) Reply {
	var in struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(body, &in); err != nil || strings.TrimSpace(in.Code) == "" {
		return reply(http.StatusBadRequest, "Share code required", nil)
	}

	id, ok, err := s.db.ResolveShareCode(ctx, in.Code)
	if err != nil {
		logger.Error("Collector", "shareCodeValidation: %v", err)
		return reply(http.StatusInternalServerError, "Internal error", nil)
	}
	if !ok {
		return reply(http.StatusNotFound, "Invalid share code", nil)
	}
	return reply(http.StatusOK, "Share code valid", map[string]string{"deviceId": id})
}

func (s *Service) postSensorsData(ctx context.Context, body []byte) Reply {
	var chunk types.Chunk
	if err := json.Unmarshal(body, &chunk); err != nil {
		return reply(http.StatusBadRequest, "Malformed chunk", nil)
	}
	s.metrics.ChunksReceived.Add(1)

	known, err := s.db.Known(ctx, chunk.DeviceID)
	if err != nil {
		logger.Error("Collector", "sensorsData: %v", err)
		return reply(http.StatusInternalServerError, "Internal error", nil)
	}
	if !known {
		return reply(http.StatusForbidden, "Access denied", nil)
	}

	payload, done, err := s.reasm.Add(chunk)
	if err != nil {
		if errors.Is(err, types.ErrInvalidInput) {
			return reply(http.StatusBadRequest, err.Error(), nil)
		}
		return reply(http.StatusInternalServerError, "Internal error", nil)
	}
	if !done {
		return reply(http.StatusAccepted, "Chunk received", nil)
	}

	snap, err := telemetry.DecodeSnapshot(payload)
	if err != nil {
		logger.Warn("Collector", "Device %s sent an undecodable snapshot: %v", chunk.DeviceID, err)
		return reply(http.StatusBadRequest, "Malformed snapshot", nil)
	}
	s.metrics.SnapshotsAssembled.Add(1)
	// the chunk envelope is authoritative for the device
	snap.DeviceID = chunk.DeviceID

	fell := DetectFall(snap.AccelerometerData, s.fall)
	if fell {
		s.metrics.FallsDetected.Add(1)
		logger.Warn("Collector", "Fall detected for device %s", snap.DeviceID)
	}
	if err := s.db.ApplySnapshot(ctx, snap, fell); err != nil {
		logger.Error("Collector", "store snapshot: %v", err)
		return reply(http.StatusInternalServerError, "Internal error", nil)
	}
	logger.Debug("Collector", "Snapshot from %s: %d accel, %d gyro, location=%v",
		snap.DeviceID, len(snap.AccelerometerData), len(snap.GyroscopeData), snap.LocationData != nil)
	return reply(http.StatusOK, "Sensor data stored", map[string]bool{"didFall": fell})
}

func (s *Service) getSensorsData(ctx context.Context, deviceID string) Reply {
	if deviceID == "" {
		return reply(http.StatusBadRequest, "deviceId required", nil)
	}
	st, ok, err := s.db.Status(ctx, deviceID)
	if err != nil {
		logger.Error("Collector", "status: %v", err)
		return reply(http.StatusInternalServerError, "Internal error", nil)
	}
	if !ok {
		return reply(http.StatusNotFound, "Unknown device", nil)
	}
	return reply(http.StatusOK, "Sensor data", st)
}

func (s *Service) clearFall(ctx context.Context, deviceID string) Reply {
	if deviceID == "" {
		return reply(http.StatusBadRequest, "deviceId required", nil)
	}
	if err := s.db.ClearFall(ctx, deviceID); err != nil {
		return reply(http.StatusInternalServerError, "Internal error", nil)
	}
	return reply(http.StatusOK, "Fall acknowledged", nil)
}

// RunExpiry drops incomplete chunk sets every interval until ctx is done
func (s *Service) RunExpiry(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.reasm.Expire(); n > 0 {
				s.metrics.IncompleteExpired.Add(uint64(n))
				logger.Info("Collector", "Expired %d incomplete chunk sets (%d pending)", n, s.reasm.Pending())
			}
		}
	}
}

func reply(code int, message string, data any) Reply {
	env, err := session.NewEnvelope(code, message, data)
	if err != nil {
		env, _ = session.NewEnvelope(http.StatusInternalServerError, "Internal error", nil)
		code = http.StatusInternalServerError
	}
	b, _ := json.Marshal(env)
	return Reply{Code: code, Body: b}
}
