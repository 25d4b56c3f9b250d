package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/seesafe/seesafe-agent/internal/collector"
	"github.com/seesafe/seesafe-agent/internal/logger"
	"github.com/seesafe/seesafe-agent/internal/metrics"
	"github.com/seesafe/seesafe-agent/internal/telemetry"
)

var (
	dbPath       = flag.String("db", "collector.db", "SQLite database path")
	httpAddr     = flag.String("http", ":8090", "HTTP server address (routes, /offer, /metrics)")
	coapAddr     = flag.String("coap", ":5683", "CoAP/UDP server address (empty disables)")
	maxPeers     = flag.Int("max-peers", 64, "Maximum WebRTC data channel peers")
	stunServers  = flag.String("stun", "", "STUN server URLs (comma-separated)")
	reassemblyTT = flag.Duration("reassembly-ttl", telemetry.DefaultReassemblyTTL, "Drop incomplete chunk sets after this long")
	maxChunks    = flag.Int("max-chunks", telemetry.DefaultMaxTotalChunks, "Largest totalChunks accepted for one telemetry window")
	logLevel     = flag.String("log-level", "info", "Log level (debug, info, warn, error, silent)")
	logColor     = flag.Bool("log-color", true, "Enable colored log output")
	logFile      = flag.String("log-file", "", "Also write logs to this rotating file")
)

// Server bundles the collector's listeners
type Server struct {
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	db         *collector.DB
	svc        *collector.Service
	gateway    *collector.Gateway
	coap       *collector.CoAPServer
	httpServer *http.Server
}

func main() {
	flag.Parse()

	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	closer := logger.Setup(logger.Options{Level: level, Color: *logColor, File: *logFile, MaxSizeMB: 10, MaxBackups: 3})
	defer closer.Close()

	logger.Info("Main", "Collector starting...")

	srv, err := NewServer()
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}
	srv.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Main", "Shutting down...")
	if err := srv.Shutdown(); err != nil {
		logger.Error("Main", "Error during shutdown: %v", err)
	}
	logger.Info("Main", "Collector stopped")
}

// NewServer opens the database and builds the adapters
func NewServer() (*Server, error) {
	db, err := collector.OpenDB(*dbPath)
	if err != nil {
		return nil, err
	}

	m := metrics.NewCollector()
	reasm := telemetry.NewReassembler(*reassemblyTT)
	reasm.SetMaxTotalChunks(*maxChunks)
	svc := collector.NewService(db, reasm, collector.DefaultFallConfig(), m)

	var stun []string
	if *stunServers != "" {
		stun = strings.Split(*stunServers, ",")
	}
	gw := collector.NewGateway(svc, stun, *maxPeers, m)

	var coap *collector.CoAPServer
	if *coapAddr != "" {
		if coap, err = collector.NewCoAPServer(svc); err != nil {
			db.Close()
			return nil, fmt.Errorf("coap: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		ctx:     ctx,
		cancel:  cancel,
		db:      db,
		svc:     svc,
		gateway: gw,
		coap:    coap,
		httpServer: &http.Server{
			Addr:              *httpAddr,
			Handler:           collector.HTTPHandler(svc, gw, m.Handler()),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// Start launches the listeners and the expiry sweep
func (s *Server) Start() {
	logger.Info("Main", "  Database: %s", *dbPath)
	logger.Info("Main", "  HTTP server: %s", *httpAddr)
	logger.Info("Main", "  CoAP server: %s", *coapAddr)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.svc.RunExpiry(s.ctx, *reassemblyTT/2)
	}()

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Main", "HTTP server error: %v", err)
		}
	}()

	if s.coap != nil {
		go func() {
			if err := s.coap.ListenAndServe(*coapAddr); err != nil {
				logger.Error("Main", "CoAP server error: %v", err)
			}
		}()
	}
}

// Shutdown stops listeners, peers and the database
func (s *Server) Shutdown() error {
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.httpServer.Shutdown(ctx)

	if s.coap != nil {
		s.coap.Stop()
	}
	s.gateway.Close()
	s.wg.Wait()

	if cerr := s.db.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
