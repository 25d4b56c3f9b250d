// Package session implements the control calls around telemetry: device
// authentication, share-code validation and the caregiver's status reads.
// All of them are critical requests.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/seesafe/seesafe-agent/internal/logger"
	"github.com/seesafe/seesafe-agent/pkg/types"
)

// Endpoint paths on the collector
const (
	PathDeviceAuth          = "/deviceAuth"
	PathShareCodeValidation = "/shareCodeValidation"
	PathSensorsData         = "/sensorsData"
)

// DefaultPollInterval is how often the caregiver view refreshes
const DefaultPollInterval = 2 * time.Second

var (
	// ErrAccessDenied: the collector did not hand out a device id
	ErrAccessDenied = errors.New("access denied")
	// ErrInvalidShareCode: the code matches no device
	ErrInvalidShareCode = errors.New("invalid share code")
	// ErrUnknownDevice: no telemetry stored for the device
	ErrUnknownDevice = errors.New("unknown device")
)

// Requester is the subset of delivery.Policy used here
type Requester interface {
	DeliverJSON(ctx context.Context, req types.DeliveryRequest, out any) (bool, error)
}

// ContextStore persists the device context
type ContextStore interface {
	LoadContext(ctx context.Context) (types.DeviceContext, error)
	SaveContext(ctx context.Context, dc types.DeviceContext) error
}

// CarerStatus is what the caregiver sees for a device
type CarerStatus struct {
	DeviceID  string                `json:"deviceId"`
	Location  *types.LocationSample `json:"locationData"`
	DidFall   bool                  `json:"didFall"`
	UpdatedAt int64                 `json:"updatedAt,omitempty"`
}

// Client issues control calls against one collector
type Client struct {
	server string
	req    Requester
}

// NewClient targets server ("host:port", scheme optional)
func NewClient(server string, req Requester) *Client {
	return &Client{server: strings.TrimRight(server, "/"), req: req}
}

// Endpoint joins the collector address and a path
func (c *Client) Endpoint(path string) string {
	return c.server + path
}

func (c *Client) post(ctx context.Context, path string, body any) (Envelope, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return Envelope{}, err
	}
	var env Envelope
	_, err = c.req.DeliverJSON(ctx, types.DeliveryRequest{
		Method:     string(types.MethodPost),
		Endpoint:   c.Endpoint(path),
		IsCritical: true,
		Body:       types.StringPtr(string(data)),
	}, &env)
	return env, err
}

// Authenticate registers the device (or confirms the stored id) and persists
// the returned context. The stored share code is kept if the collector
// does not send a new one.
func (c *Client) Authenticate(ctx context.Context, st ContextStore) (types.DeviceContext, error) {
	current, err := st.LoadContext(ctx)
	if err != nil {
		return types.DeviceContext{}, err
	}

	env, err := c.post(ctx, PathDeviceAuth, map[string]string{"deviceId": current.DeviceID})
	if err != nil {
		return types.DeviceContext{}, err
	}

	var data types.DeviceContext
	if !env.OK() || !env.HasData() {
		return types.DeviceContext{}, fmt.Errorf("%w: %s", ErrAccessDenied, env.Body.Message)
	}
	if err := env.DecodeData(&data); err != nil {
		return types.DeviceContext{}, fmt.Errorf("%w: %v", ErrAccessDenied, err)
	}
	if data.DeviceID == "" {
		return types.DeviceContext{}, fmt.Errorf("%w: no device id in response", ErrAccessDenied)
	}
	if data.ShareCode == "" {
		data.ShareCode = current.ShareCode
	}

	if err := st.SaveContext(ctx, data); err != nil {
		return types.DeviceContext{}, err
	}
	if data.DeviceID != current.DeviceID {
		logger.Info("Session", "Device registered as %s (share code %s)", data.DeviceID, data.ShareCode)
	}
	return data, nil
}

// ValidateShareCode resolves a caregiver's share code to a device id
func (c *Client) ValidateShareCode(ctx context.Context, code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", fmt.Errorf("%w: empty share code", types.ErrInvalidInput)
	}

	env, err := c.post(ctx, PathShareCodeValidation, map[string]string{"code": code})
	if err != nil {
		return "", err
	}

	var data struct {
		DeviceID string `json:"deviceId"`
	}
	if !env.HasData() || env.DecodeData(&data) != nil || data.DeviceID == "" {
		return "", ErrInvalidShareCode
	}
	return data.DeviceID, nil
}

// FetchStatus reads the latest location and fall flag for a device
func (c *Client) FetchStatus(ctx context.Context, deviceID string) (CarerStatus, error) {
	if deviceID == "" {
		return CarerStatus{}, fmt.Errorf("%w: empty device id", types.ErrInvalidInput)
	}

	var env Envelope
	_, err := c.req.DeliverJSON(ctx, types.DeliveryRequest{
		Method:     string(types.MethodGet),
		Endpoint:   c.Endpoint(PathSensorsData) + "?deviceId=" + url.QueryEscape(deviceID),
		IsCritical: true,
	}, &env)
	if err != nil {
		return CarerStatus{}, err
	}
	if !env.OK() || !env.HasData() {
		return CarerStatus{}, fmt.Errorf("%w: %s", ErrUnknownDevice, env.Body.Message)
	}

	var status CarerStatus
	if err := env.DecodeData(&status); err != nil {
		return CarerStatus{}, err
	}
	if status.DeviceID == "" {
		status.DeviceID = deviceID
	}
	return status, nil
}

// Watch calls FetchStatus immediately and then every interval until ctx is
// done, handing each outcome to fn
func (c *Client) Watch(ctx context.Context, deviceID string, interval time.Duration, fn func(CarerStatus, error)) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		fn(c.FetchStatus(ctx, deviceID))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
