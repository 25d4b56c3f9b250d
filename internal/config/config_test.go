package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seesafe/seesafe-agent/internal/inference"
	"github.com/seesafe/seesafe-agent/internal/logger"
	"github.com/seesafe/seesafe-agent/pkg/types"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 100*time.Millisecond, cfg.Pipeline.Interval)
	assert.Equal(t, 6*time.Second, cfg.Telemetry.FlushInterval)
	assert.Equal(t, 700, cfg.Telemetry.MaxChunkSize)
	assert.Equal(t, 5*time.Second, cfg.Server.Timeout)
	assert.Equal(t, 3, cfg.Server.MaxRetries)
	assert.Equal(t, 0.3, cfg.Fusion.ConfidenceThreshold)
	assert.Equal(t, 200.0, cfg.Fusion.ObstacleThreshold)
	assert.Equal(t, 0.7, cfg.Proximity.Factor)
	assert.Equal(t, inference.TensorSize{Width: 320, Height: 320}, cfg.Pipeline.Detector)
	assert.Equal(t, inference.TensorSize{Width: 256, Height: 256}, cfg.Pipeline.Depth)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
server:
  address: 10.0.0.2:5683
  timeout: 2s
pipeline:
  mode: proximity
  interval: 250ms
proximity:
  factor: 0.6
inference:
  command: ["python3", "worker.py"]
  layout: yolov5
mqtt:
  broker: localhost:1883
  format: protobuf
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.2:5683", cfg.Server.Address)
	assert.Equal(t, 2*time.Second, cfg.Server.Timeout)
	assert.Equal(t, 3, cfg.Server.MaxRetries, "untouched fields keep defaults")
	assert.Equal(t, 250*time.Millisecond, cfg.PipelineConfig().Interval)
	assert.Equal(t, types.ModeProximity, cfg.PipelineConfig().Mode)
	assert.Equal(t, 0.6, cfg.ProximityConfig().Factor)
	assert.Equal(t, inference.LayoutYOLOv5, cfg.WorkerConfig().Layout)
	assert.Equal(t, []string{"python3", "worker.py"}, cfg.WorkerConfig().Command)
	assert.Equal(t, logger.DEBUG, cfg.LoggerOptions().Level)
	assert.Equal(t, "seesafe", cfg.MQTT.TopicPrefix)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(c *AgentConfig){
		"level":          func(c *AgentConfig) { c.Log.Level = "loud" },
		"transport":      func(c *AgentConfig) { c.Server.Transport = "pigeon" },
		"webrtc signal":  func(c *AgentConfig) { c.Server.Transport = "webrtc" },
		"timeout":        func(c *AgentConfig) { c.Server.Timeout = 0 },
		"mode":           func(c *AgentConfig) { c.Pipeline.Mode = "lidar" },
		"interval":       func(c *AgentConfig) { c.Pipeline.Interval = 0 },
		"confidence":     func(c *AgentConfig) { c.Fusion.ConfidenceThreshold = 1.5 },
		"factor":         func(c *AgentConfig) { c.Proximity.Factor = -0.1 },
		"empty region":   func(c *AgentConfig) { c.Proximity.Region.X1 = c.Proximity.Region.X0 },
		"layout":         func(c *AgentConfig) { c.Inference.Layout = "ssd" },
		"flush interval": func(c *AgentConfig) { c.Telemetry.FlushInterval = -time.Second },
		"chunk size":     func(c *AgentConfig) { c.Telemetry.MaxChunkSize = 0 },
		"mqtt format": func(c *AgentConfig) {
			c.MQTT.Broker = "localhost:1883"
			c.MQTT.Format = "xml"
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultAgentConfig()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "pipeline: [not, a, map]"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "telemetry:\n  max_chunk_size: -1\n"))
	assert.Error(t, err)
}
