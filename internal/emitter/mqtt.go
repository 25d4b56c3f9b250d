// Package emitter pushes obstacle alerts to caregivers over MQTT.
package emitter

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/seesafe/seesafe-agent/internal/eventcodec"
	"github.com/seesafe/seesafe-agent/internal/logger"
	"github.com/seesafe/seesafe-agent/internal/metrics"
	"github.com/seesafe/seesafe-agent/pkg/types"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

// Config selects the broker and payload shape
type Config struct {
	Broker      string `yaml:"broker"` // host:port, empty disables the emitter
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
	Format      string `yaml:"format"` // json | protobuf
}

// ObstacleAlert is the message published on every announced change
type ObstacleAlert struct {
	ID        string                 `json:"id"`
	DeviceID  string                 `json:"deviceId"`
	Timestamp time.Time              `json:"timestamp"`
	Mode      types.DetectionMode    `json:"mode"`
	Nearby    bool                   `json:"nearby"`
	Message   string                 `json:"message"`
	Obstacles []types.ObstacleRecord `json:"obstacles"`
}

// DeviceIDFunc resolves the current device id at publish time
type DeviceIDFunc func() string

// MQTTEmitter publishes obstacle alerts to an MQTT broker
type MQTTEmitter struct {
	cfg      Config
	format   eventcodec.Format
	deviceID DeviceIDFunc
	metrics  *metrics.Metrics
	client   mqtt.Client

	mu        sync.RWMutex
	published uint64
	errors    uint64
	connected bool
}

// NewMQTTEmitter validates cfg; Connect must be called before publishing
func NewMQTTEmitter(cfg Config, deviceID DeviceIDFunc, m *metrics.Metrics) (*MQTTEmitter, error) {
	format, err := eventcodec.ParseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}
	if cfg.Broker == "" {
		return nil, fmt.Errorf("emitter: broker address is required")
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("emitter: invalid qos %d", cfg.QoS)
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "seesafe"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "seesafe-agent-" + uuid.NewString()[:8]
	}
	return &MQTTEmitter{cfg: cfg, format: format, deviceID: deviceID, metrics: m}, nil
}

// Connect establishes the broker connection with automatic reconnects
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.cfg.Broker))
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.setConnected(true)
		logger.Info("Emitter", "MQTT connected to %s as %s", e.cfg.Broker, e.cfg.ClientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.setConnected(false)
		logger.Warn("Emitter", "MQTT connection lost, waiting for reconnect: %v", err)
	}

	e.client = mqtt.NewClient(opts)
	logger.Info("Emitter", "Connecting to MQTT broker %s", e.cfg.Broker)

	token := e.client.Connect()
	select {
	case <-token.Done():
	case <-time.After(connectTimeout):
		return fmt.Errorf("emitter: mqtt connection timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("emitter: mqtt connection failed: %w", err)
	}
	e.setConnected(true)
	return nil
}

// HandleEvent implements pipeline.EventSink; only announced changes are published
func (e *MQTTEmitter) HandleEvent(ev types.ObstacleEvent) {
	if ev.Message == "" {
		return
	}
	if err := e.Publish(ev); err != nil {
		logger.Warn("Emitter", "Alert for frame %d not published: %v", ev.FrameNum, err)
	}
}

// Publish sends one alert built from ev
func (e *MQTTEmitter) Publish(ev types.ObstacleEvent) error {
	if !e.isConnected() {
		e.countError()
		return fmt.Errorf("emitter: mqtt not connected")
	}

	deviceID := ""
	if e.deviceID != nil {
		deviceID = e.deviceID()
	}
	alert := NewAlert(deviceID, ev)
	payload, err := EncodeAlert(alert, e.format)
	if err != nil {
		e.countError()
		return err
	}
	topic := Topic(e.cfg.TopicPrefix, deviceID)

	token := e.client.Publish(topic, e.cfg.QoS, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		e.countError()
		return fmt.Errorf("emitter: publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("emitter: publish failed: %w", err)
	}

	e.mu.Lock()
	e.published++
	e.mu.Unlock()
	if e.metrics != nil {
		e.metrics.AlertsPublished.Add(1)
	}
	logger.Debug("Emitter", "Published alert %s to %s (%d bytes, qos %d)", alert.ID, topic, len(payload), e.cfg.QoS)
	return nil
}

// Disconnect closes the broker connection
func (e *MQTTEmitter) Disconnect() {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250)
		logger.Info("Emitter", "MQTT disconnected")
	}
	e.setConnected(false)
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool
	Published uint64
	Errors    uint64
}

// Stats returns a snapshot of the emitter counters
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Stats{Connected: e.connected, Published: e.published, Errors: e.errors}
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
	if e.metrics != nil {
		e.metrics.AlertErrors.Add(1)
	}
}

// Topic builds <prefix>/<deviceId>/obstacles
func Topic(prefix, deviceID string) string {
	if deviceID == "" {
		deviceID = "unregistered"
	}
	return fmt.Sprintf("%s/%s/obstacles", prefix, deviceID)
}

// NewAlert wraps an event with a fresh alert id
func NewAlert(deviceID string, ev types.ObstacleEvent) ObstacleAlert {
	obstacles := ev.Obstacles
	if obstacles == nil {
		obstacles = []types.ObstacleRecord{}
	}
	return ObstacleAlert{
		ID:        uuid.NewString(),
		DeviceID:  deviceID,
		Timestamp: ev.Timestamp,
		Mode:      ev.Mode,
		Nearby:    ev.Nearby,
		Message:   ev.Message,
		Obstacles: obstacles,
	}
}

// EncodeAlert serializes an alert in the requested format
func EncodeAlert(a ObstacleAlert, f eventcodec.Format) ([]byte, error) {
	s, err := eventcodec.Encode(a)
	if err != nil {
		return nil, err
	}
	return s.Bytes(f), nil
}
