// Package config loads the device agent configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/seesafe/seesafe-agent/internal/emitter"
	"github.com/seesafe/seesafe-agent/internal/eventcodec"
	"github.com/seesafe/seesafe-agent/internal/fusion"
	"github.com/seesafe/seesafe-agent/internal/inference"
	"github.com/seesafe/seesafe-agent/internal/logger"
	"github.com/seesafe/seesafe-agent/internal/pipeline"
	"github.com/seesafe/seesafe-agent/internal/proximity"
	"github.com/seesafe/seesafe-agent/internal/telemetry"
	"github.com/seesafe/seesafe-agent/internal/transport"
	"github.com/seesafe/seesafe-agent/pkg/types"
)

// AgentConfig is the complete device agent configuration
type AgentConfig struct {
	StorePath string          `yaml:"store_path"`
	Log       LogConfig       `yaml:"log"`
	Server    ServerConfig    `yaml:"server"`
	Camera    CameraConfig    `yaml:"camera"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Fusion    FusionConfig    `yaml:"fusion"`
	Proximity ProximityConfig `yaml:"proximity"`
	Inference InferenceConfig `yaml:"inference"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Sensors   SensorsConfig   `yaml:"sensors"`
	MQTT      emitter.Config  `yaml:"mqtt"`
	Monitor   MonitorConfig   `yaml:"monitor"`
}

// LogConfig mirrors logger.Options
type LogConfig struct {
	Level      string `yaml:"level"`
	Color      bool   `yaml:"color"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	Compress   bool   `yaml:"compress"`
}

// ServerConfig points at the collector
type ServerConfig struct {
	Address      string        `yaml:"address"`   // host:port
	Transport    string        `yaml:"transport"` // coap | http | webrtc
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	SignalURL    string        `yaml:"signal_url"` // webrtc only
}

type CameraConfig struct {
	Source  string        `yaml:"source"` // dir:<path> or http(s) snapshot URL
	Timeout time.Duration `yaml:"timeout"`
}

type PipelineConfig struct {
	Mode     string               `yaml:"mode"` // fusion | proximity
	Interval time.Duration        `yaml:"interval"`
	Detector inference.TensorSize `yaml:"detector_input"`
	Depth    inference.TensorSize `yaml:"depth_input"`
}

type FusionConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	ObstacleThreshold   float64 `yaml:"obstacle_threshold"`
	Labels              string  `yaml:"labels"` // one class name per line; empty uses COCO
}

type ProximityConfig struct {
	Factor float64              `yaml:"factor"`
	Region types.RegionFraction `yaml:"region"`
}

type InferenceConfig struct {
	Command []string `yaml:"command"`
	Layout  string   `yaml:"layout"` // flat | yolov5
}

type TelemetryConfig struct {
	FlushInterval time.Duration `yaml:"flush_interval"`
	MaxChunkSize  int           `yaml:"max_chunk_size"`
}

// SensorsConfig selects the sample source: "simulate", "stdin" or a file path
type SensorsConfig struct {
	Source    string        `yaml:"source"`
	Interval  time.Duration `yaml:"interval"`
	Latitude  float64       `yaml:"latitude"`
	Longitude float64       `yaml:"longitude"`
}

type MonitorConfig struct {
	Addr string `yaml:"addr"` // empty disables the local monitor
}

// DefaultAgentConfig returns the settings of the shipped device build
func DefaultAgentConfig() AgentConfig {
	fc := fusion.DefaultConfig()
	pc := proximity.DefaultConfig()
	to := transport.DefaultOptions()
	return AgentConfig{
		StorePath: "seesafe.db",
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Server: ServerConfig{
			Address:      "localhost:5683",
			Transport:    "coap",
			Timeout:      to.Timeout,
			MaxRetries:   to.MaxRetries,
			RetryBackoff: to.RetryBackoff,
		},
		Camera: CameraConfig{Timeout: 2 * time.Second},
		Pipeline: PipelineConfig{
			Mode:     string(types.ModeFusion),
			Interval: pipeline.DefaultInterval,
			Detector: inference.TensorSize{Width: 320, Height: 320},
			Depth:    inference.TensorSize{Width: 256, Height: 256},
		},
		Fusion: FusionConfig{
			ConfidenceThreshold: fc.ConfidenceThreshold,
			ObstacleThreshold:   fc.ObstacleThreshold,
		},
		Proximity: ProximityConfig{Factor: pc.Factor, Region: pc.Region},
		Inference: InferenceConfig{Layout: string(inference.LayoutFlat)},
		Telemetry: TelemetryConfig{
			FlushInterval: telemetry.DefaultFlushInterval,
			MaxChunkSize:  telemetry.DefaultMaxChunkSize,
		},
		Sensors: SensorsConfig{
			Source:   "simulate",
			Interval: pipeline.DefaultInterval,
		},
		MQTT: emitter.Config{
			TopicPrefix: "seesafe",
			QoS:         1,
			Format:      string(eventcodec.FormatJSON),
		},
		Monitor: MonitorConfig{Addr: ":8080"},
	}
}

// Load reads a YAML file over the defaults and validates the result.
// An empty path returns the defaults.
func Load(path string) (*AgentConfig, error) {
	cfg := DefaultAgentConfig()
	if path == "" {
		return &cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate rejects values the components cannot run with
func (c *AgentConfig) Validate() error {
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Server.Transport {
	case "coap", "http":
	case "webrtc":
		if c.Server.SignalURL == "" {
			return fmt.Errorf("server.signal_url is required for the webrtc transport")
		}
	default:
		return fmt.Errorf("unknown server.transport %q", c.Server.Transport)
	}
	if c.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server.timeout must be positive")
	}
	if c.Server.MaxRetries < 0 {
		return fmt.Errorf("server.max_retries must not be negative")
	}

	switch types.DetectionMode(c.Pipeline.Mode) {
	case types.ModeFusion:
		if c.Pipeline.Detector.Width <= 0 || c.Pipeline.Detector.Height <= 0 {
			return fmt.Errorf("pipeline.detector_input must be positive")
		}
	case types.ModeProximity:
	default:
		return fmt.Errorf("unknown pipeline.mode %q", c.Pipeline.Mode)
	}
	if c.Pipeline.Interval <= 0 {
		return fmt.Errorf("pipeline.interval must be positive")
	}
	if c.Pipeline.Depth.Width <= 0 || c.Pipeline.Depth.Height <= 0 {
		return fmt.Errorf("pipeline.depth_input must be positive")
	}

	if c.Fusion.ConfidenceThreshold < 0 || c.Fusion.ConfidenceThreshold > 1 {
		return fmt.Errorf("fusion.confidence_threshold must be in [0,1]")
	}
	if c.Proximity.Factor < 0 || c.Proximity.Factor > 1 {
		return fmt.Errorf("proximity.factor must be in [0,1]")
	}
	r := c.Proximity.Region
	if r.X0 < 0 || r.Y0 < 0 || r.X1 > 1 || r.Y1 > 1 || r.X0 >= r.X1 || r.Y0 >= r.Y1 {
		return fmt.Errorf("proximity.region must be a non-empty window inside [0,1]")
	}
	if _, err := inference.ParseLayout(c.Inference.Layout); err != nil {
		return err
	}

	if c.Telemetry.FlushInterval <= 0 {
		return fmt.Errorf("telemetry.flush_interval must be positive")
	}
	if c.Telemetry.MaxChunkSize <= 0 {
		return fmt.Errorf("telemetry.max_chunk_size must be positive")
	}
	if c.Sensors.Source == "simulate" && c.Sensors.Interval <= 0 {
		return fmt.Errorf("sensors.interval must be positive")
	}

	if c.MQTT.Broker != "" {
		if _, err := eventcodec.ParseFormat(c.MQTT.Format); err != nil {
			return err
		}
		if c.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
		}
	}
	return nil
}

// LoggerOptions converts the log section
func (c *AgentConfig) LoggerOptions() logger.Options {
	level, _ := logger.ParseLevel(c.Log.Level)
	return logger.Options{
		Level:      level,
		Color:      c.Log.Color,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		Compress:   c.Log.Compress,
	}
}

// TransportOptions converts the retry settings of the server section
func (c *AgentConfig) TransportOptions() transport.Options {
	return transport.Options{
		Timeout:      c.Server.Timeout,
		MaxRetries:   c.Server.MaxRetries,
		RetryBackoff: c.Server.RetryBackoff,
	}
}

func (c *AgentConfig) FusionConfig() fusion.Config {
	return fusion.Config{
		ConfidenceThreshold: c.Fusion.ConfidenceThreshold,
		ObstacleThreshold:   c.Fusion.ObstacleThreshold,
	}
}

func (c *AgentConfig) ProximityConfig() proximity.Config {
	return proximity.Config{Factor: c.Proximity.Factor, Region: c.Proximity.Region}
}

func (c *AgentConfig) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		Mode:     types.DetectionMode(c.Pipeline.Mode),
		Interval: c.Pipeline.Interval,
		Detector: c.Pipeline.Detector,
		Depth:    c.Pipeline.Depth,
	}
}

// WorkerConfig converts the inference section; Layout was checked by Validate
func (c *AgentConfig) WorkerConfig() inference.WorkerConfig {
	layout, _ := inference.ParseLayout(c.Inference.Layout)
	return inference.WorkerConfig{Command: c.Inference.Command, Layout: layout}
}

// SenderConfig targets /sensorsData on the configured server
func (c *AgentConfig) SenderConfig(endpoint string) telemetry.SenderConfig {
	return telemetry.SenderConfig{
		Endpoint:      endpoint,
		FlushInterval: c.Telemetry.FlushInterval,
		MaxChunkSize:  c.Telemetry.MaxChunkSize,
	}
}
