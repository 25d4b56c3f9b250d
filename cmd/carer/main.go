package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/seesafe/seesafe-agent/internal/delivery"
	"github.com/seesafe/seesafe-agent/internal/logger"
	"github.com/seesafe/seesafe-agent/internal/metrics"
	"github.com/seesafe/seesafe-agent/internal/session"
	"github.com/seesafe/seesafe-agent/internal/transport"
)

var (
	server    = flag.String("server", "localhost:8090", "Collector address")
	kind      = flag.String("transport", "http", "Transport (http, coap, webrtc)")
	signalURL = flag.String("signal-url", "", "Collector /offer URL for the webrtc transport")
	shareCode = flag.String("code", "", "Share code displayed by the device")
	interval  = flag.Duration("interval", session.DefaultPollInterval, "Status poll interval")
	logLevel  = flag.String("log-level", "info", "Log level (debug, info, warn, error, silent)")
	logColor  = flag.Bool("log-color", true, "Enable colored log output")
)

func main() {
	flag.Parse()

	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, *logColor)

	if *shareCode == "" {
		log.Fatalf("-code is required")
	}

	opts := transport.DefaultOptions()
	t, err := transport.New(*kind, opts, *signalURL)
	if err != nil {
		log.Fatalf("Failed to create transport: %v", err)
	}
	policy := delivery.NewPolicy(t, opts, metrics.New())
	defer policy.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := session.NewClient(*server, policy)
	deviceID, err := client.ValidateShareCode(ctx, *shareCode)
	if err != nil {
		logger.Error("Carer", "Share code rejected: %v", err)
		os.Exit(1)
	}
	logger.Info("Carer", "Watching device %s every %v", deviceID, *interval)

	wasFallen := false
	client.Watch(ctx, deviceID, *interval, func(st session.CarerStatus, err error) {
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("Carer", "Status unavailable: %v", err)
			}
			return
		}
		if st.Location != nil {
			logger.Info("Carer", "Location %.6f,%.6f (at %d)",
				st.Location.Coords.Latitude, st.Location.Coords.Longitude, st.Location.Timestamp)
		} else {
			logger.Info("Carer", "No location reported yet")
		}
		switch {
		case st.DidFall && !wasFallen:
			logger.Error("Carer", "FALL DETECTED for device %s", st.DeviceID)
		case !st.DidFall && wasFallen:
			logger.Info("Carer", "Fall alert cleared")
		}
		wasFallen = st.DidFall
	})
	logger.Info("Carer", "Stopped")
}
