package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/seesafe/seesafe-agent/internal/camera"
	"github.com/seesafe/seesafe-agent/internal/config"
	"github.com/seesafe/seesafe-agent/internal/delivery"
	"github.com/seesafe/seesafe-agent/internal/emitter"
	"github.com/seesafe/seesafe-agent/internal/fusion"
	"github.com/seesafe/seesafe-agent/internal/inference"
	"github.com/seesafe/seesafe-agent/internal/logger"
	"github.com/seesafe/seesafe-agent/internal/metrics"
	"github.com/seesafe/seesafe-agent/internal/pipeline"
	"github.com/seesafe/seesafe-agent/internal/proximity"
	"github.com/seesafe/seesafe-agent/internal/sensors"
	"github.com/seesafe/seesafe-agent/internal/session"
	"github.com/seesafe/seesafe-agent/internal/store"
	"github.com/seesafe/seesafe-agent/internal/telemetry"
	"github.com/seesafe/seesafe-agent/internal/transport"
	"github.com/seesafe/seesafe-agent/internal/webmonitor"
	"github.com/seesafe/seesafe-agent/pkg/types"
)

var (
	configPath = flag.String("config", "", "Path to YAML configuration (defaults when empty)")
	logLevel   = flag.String("log-level", "", "Override log level (debug, info, warn, error, silent)")
	mode       = flag.String("mode", "", "Override detection mode (fusion, proximity)")
)

// Agent owns every long-running component of the device
type Agent struct {
	cfg    *config.AgentConfig
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics *metrics.Metrics
	store   *store.Store
	policy  *delivery.Policy
	client  *session.Client
	acc     *telemetry.Accumulator
	sender  *telemetry.Sender

	cam         camera.Camera
	runtime     inference.Runtime
	runner      *pipeline.Runner
	broadcaster *webmonitor.EventBroadcaster
	monitor     *webmonitor.Server
	mqtt        *emitter.MQTTEmitter
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *mode != "" {
		cfg.Pipeline.Mode = *mode
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	closer := logger.Setup(cfg.LoggerOptions())
	defer closer.Close()

	logger.Info("Main", "Assistant starting...")
	logger.Info("Main", "  Server: %s (%s)", cfg.Server.Address, cfg.Server.Transport)
	logger.Info("Main", "  Mode: %s", cfg.Pipeline.Mode)

	agent, err := NewAgent(cfg)
	if err != nil {
		log.Fatalf("Failed to create agent: %v", err)
	}
	if err := agent.Start(); err != nil {
		agent.Shutdown()
		log.Fatalf("Failed to start agent: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Main", "Shutting down...")
	agent.Shutdown()
	logger.Info("Main", "Assistant stopped")
}

// NewAgent builds the components without starting any goroutine
func NewAgent(cfg *config.AgentConfig) (*Agent, error) {
	a := &Agent{cfg: cfg, metrics: metrics.New()}
	a.ctx, a.cancel = context.WithCancel(context.Background())

	var err error
	if a.store, err = store.Open(cfg.StorePath); err != nil {
		return nil, err
	}

	t, err := transport.New(cfg.Server.Transport, cfg.TransportOptions(), cfg.Server.SignalURL)
	if err != nil {
		a.store.Close()
		return nil, err
	}
	a.policy = delivery.NewPolicy(t, cfg.TransportOptions(), a.metrics)
	a.client = session.NewClient(cfg.Server.Address, a.policy)
	a.acc = telemetry.NewAccumulator("")
	a.sender = telemetry.NewSender(cfg.SenderConfig(a.client.Endpoint(session.PathSensorsData)), a.acc, a.policy, a.metrics)

	if a.cam, err = camera.New(cfg.Camera.Source, cfg.Camera.Timeout); err != nil {
		a.close()
		return nil, fmt.Errorf("camera: %w", err)
	}
	if a.runtime, err = inference.NewWorkerRuntime(cfg.WorkerConfig()); err != nil {
		a.close()
		return nil, fmt.Errorf("inference: %w", err)
	}
	labels, err := fusion.LoadLabels(cfg.Fusion.Labels)
	if err != nil {
		a.close()
		return nil, err
	}

	a.broadcaster = webmonitor.NewEventBroadcaster()
	mon := webmonitor.NewMonitor(webmonitor.Sources{
		Metrics: a.metrics,
		Device:  func() types.DeviceContext { return types.DeviceContext{DeviceID: a.acc.DeviceID()} },
		Pending: a.acc.Len,
	}, 0)

	a.runner, err = pipeline.NewRunner(cfg.PipelineConfig(), a.cam, a.runtime,
		fusion.NewFuser(cfg.FusionConfig(), labels),
		proximity.NewEvaluator(cfg.ProximityConfig()),
		pipeline.NewAnnouncer(nil), a.metrics,
		mon, a.broadcaster)
	if err != nil {
		a.close()
		return nil, err
	}

	if cfg.Monitor.Addr != "" {
		mcfg := webmonitor.DefaultConfig()
		mcfg.Addr = cfg.Monitor.Addr
		a.monitor = webmonitor.NewServer(mcfg, mon, a.broadcaster, a.metrics.Handler())
	}

	if cfg.MQTT.Broker != "" {
		if a.mqtt, err = emitter.NewMQTTEmitter(cfg.MQTT, a.acc.DeviceID, a.metrics); err != nil {
			a.close()
			return nil, err
		}
		a.runner.AddSink(a.mqtt)
	}
	return a, nil
}

// Start authenticates and launches the detection loop, the sensor feed and
// the telemetry sender. Authentication failure leaves telemetry unattributed
// but does not stop obstacle detection.
func (a *Agent) Start() error {
	authCtx, cancel := context.WithTimeout(a.ctx, 30*time.Second)
	dc, err := a.client.Authenticate(authCtx, a.store)
	cancel()
	if err != nil {
		logger.Error("Main", "Device authentication failed: %v", err)
	} else {
		a.acc.SetDeviceID(dc.DeviceID)
		logger.Info("Main", "Device %s (share code %s)", dc.DeviceID, dc.ShareCode)
	}

	if a.mqtt != nil {
		if err := a.mqtt.Connect(a.ctx); err != nil {
			logger.Warn("Main", "MQTT connect failed, alerts disabled until reconnect: %v", err)
		}
	}

	if err := a.startSensors(); err != nil {
		return err
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.sender.Run(a.ctx)
	}()

	a.runner.Start(a.ctx)

	if a.monitor != nil {
		a.monitor.Start()
		logger.Info("Main", "  Monitor: http://%s/", a.cfg.Monitor.Addr)
	}
	return nil
}

func (a *Agent) startSensors() error {
	sc := a.cfg.Sensors
	switch sc.Source {
	case "simulate":
		sim := sensors.NewSimulator(sc.Interval, sc.Latitude, sc.Longitude, time.Now().UnixNano())
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			sim.Run(a.ctx, a.acc)
		}()
	case "stdin":
		go a.readSamples(os.Stdin, "stdin")
	default:
		f, err := os.Open(sc.Source)
		if err != nil {
			return fmt.Errorf("sensors: %w", err)
		}
		go func() {
			defer f.Close()
			a.readSamples(f, sc.Source)
		}()
	}
	return nil
}

// readSamples is not tracked by wg; a blocked stdin read must not hold up shutdown
func (a *Agent) readSamples(r *os.File, name string) {
	n, err := sensors.ReadSamples(a.ctx, r, a.acc)
	if err != nil && a.ctx.Err() == nil {
		logger.Warn("Main", "Sensor source %s: %v", name, err)
	}
	logger.Info("Main", "Sensor source %s closed after %d samples", name, n)
}

// Shutdown stops the loop first so no event reaches a closed sink
func (a *Agent) Shutdown() {
	if a.runner != nil {
		a.runner.Stop()
	}
	a.cancel()
	a.wg.Wait()

	if a.sender != nil && a.acc.Len() > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		a.sender.FlushAndSend(ctx)
		a.sender.Wait()
		cancel()
	}

	if a.monitor != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.monitor.Shutdown(ctx); err != nil {
			logger.Warn("Main", "Monitor shutdown: %v", err)
		}
		cancel()
	}
	if a.broadcaster != nil {
		a.broadcaster.Close()
	}
	if a.mqtt != nil {
		a.mqtt.Disconnect()
	}
	a.close()
}

func (a *Agent) close() {
	if a.runtime != nil {
		a.runtime.Close()
	}
	if a.cam != nil {
		a.cam.Close()
	}
	if a.policy != nil {
		a.policy.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}
