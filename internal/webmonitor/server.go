package webmonitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/seesafe/seesafe-agent/internal/eventcodec"
	"github.com/seesafe/seesafe-agent/internal/logger"
)

// Server is the agent's local HTTP surface: status, obstacle stream, metrics.
type Server struct {
	cfg         Config
	monitor     *Monitor
	broadcaster *EventBroadcaster
	metrics     http.Handler
	httpServer  *http.Server
}

// NewServer fills zero intervals from DefaultConfig. metricsHandler may be nil.
func NewServer(cfg Config, monitor *Monitor, broadcaster *EventBroadcaster, metricsHandler http.Handler) *Server {
	def := DefaultConfig()
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = def.StatusInterval
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = def.KeepAlive
	}
	return &Server{cfg: cfg, monitor: monitor, broadcaster: broadcaster, metrics: metricsHandler}
}

func (s *Server) Handler() http.Handler {
	routes := map[string]http.HandlerFunc{
		"/":                     s.handleIndex,
		"/health":               s.handleHealth,
		"/api/status":           func(w http.ResponseWriter, _ *http.Request) { writeJSON(w, s.monitor.Snapshot()) },
		"/api/status/stream":    s.handleStatusStream,
		"/api/obstacles/stream": s.handleObstaclesStream,
	}
	mux := http.NewServeMux()
	for path, h := range routes {
		mux.HandleFunc(path, h)
	}
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	return mux
}

// Start serves on cfg.Addr in a goroutine
func (s *Server) Start() {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("Monitor", "Listening on %s", s.cfg.Addr)
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Monitor", "Server error: %v", err)
		}
	}()
}

// Shutdown ends open streams before closing the listener
func (s *Server) Shutdown(ctx context.Context) error {
	if s.broadcaster != nil {
		s.broadcaster.Close()
	}
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.monitor.Snapshot()
	writeJSON(w, map[string]any{
		"status":           "ok",
		"device_id":        st.Device.DeviceID,
		"frames_processed": st.Frames.FramesProcessed,
		"uptime_seconds":   st.UptimeSeconds,
	})
}

// handleStatusStream pushes a status snapshot every StatusInterval
func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	stream, ok := openSSE(w, "")
	if !ok {
		return
	}
	tick := time.NewTicker(s.cfg.StatusInterval)
	defer tick.Stop()

	for {
		if stream.json(s.monitor.Snapshot()) != nil {
			return
		}
		select {
		case <-r.Context().Done():
			return
		case <-tick.C:
		}
	}
}

func (s *Server) handleObstaclesStream(w http.ResponseWriter, r *http.Request) {
	id, events := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(id)
	streamEvents(w, r, events, acceptFormat(r.Header.Get("Accept")), s.cfg.KeepAlive)
}

// acceptFormat picks protobuf when the client asks for it, JSON otherwise
func acceptFormat(accept string) eventcodec.Format {
	for _, mt := range strings.Split(accept, ",") {
		mt = strings.TrimSpace(strings.SplitN(mt, ";", 2)[0])
		if mt == "application/protobuf" || mt == "application/x-protobuf" {
			return eventcodec.FormatProtobuf
		}
	}
	return eventcodec.FormatJSON
}

func writeJSON(w http.ResponseWriter, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(append(body, '\n'))
}
