// Package delivery decides what counts as failure for an outbound request.
//
// Critical requests (device auth, share-code checks, caregiver reads) surface
// every failure to the caller. Non-critical requests (telemetry chunks) never
// do: a transport error or missing response becomes a success without a body.
// Retries and timeouts belong to the transport and are passed through as
// opaque options.
package delivery

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/seesafe/seesafe-agent/internal/logger"
	"github.com/seesafe/seesafe-agent/internal/metrics"
	"github.com/seesafe/seesafe-agent/internal/transport"
	"github.com/seesafe/seesafe-agent/pkg/types"
)

// Policy wraps a transport with the criticality contract
type Policy struct {
	transport transport.Transport
	metrics   *metrics.Metrics
}

// NewPolicy configures t with opts and wraps it. m may be nil.
func NewPolicy(t transport.Transport, opts transport.Options, m *metrics.Metrics) *Policy {
	t.Configure(opts)
	return &Policy{transport: t, metrics: m}
}

// Deliver sends req. The method is validated before any I/O.
//
// A nil *Response with a nil error is the non-critical "absent" outcome.
func (p *Policy) Deliver(ctx context.Context, req types.DeliveryRequest) (*transport.Response, error) {
	method, err := types.ParseMethod(req.Method)
	if err != nil {
		return nil, err
	}

	resp, err := p.transport.Send(ctx, method, req.Endpoint, req.Body)
	switch {
	case err != nil:
		return p.fail(req, "transport error", err)
	case resp == nil:
		return p.fail(req, "no response", nil)
	}
	return resp, nil
}

// DeliverJSON delivers req and decodes the response body into out. A body that
// does not decode is a critical failure for critical requests and is ignored
// otherwise; ok reports whether out was filled.
func (p *Policy) DeliverJSON(ctx context.Context, req types.DeliveryRequest, out any) (ok bool, err error) {
	resp, err := p.Deliver(ctx, req)
	if err != nil || resp == nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(resp.Body), out); err != nil {
		_, ferr := p.fail(req, "malformed response", err)
		return false, ferr
	}
	return true, nil
}

func (p *Policy) fail(req types.DeliveryRequest, reason string, cause error) (*transport.Response, error) {
	if !req.IsCritical {
		logger.Warn("Delivery", "%s %s: %s (%v), dropping", req.Method, req.Endpoint, reason, cause)
		return nil, nil
	}

	if p.metrics != nil {
		p.metrics.CriticalFailures.Add(1)
	}
	logger.Error("Delivery", "%s %s: %s (%v)", req.Method, req.Endpoint, reason, cause)
	return nil, &CriticalFailureError{
		Method:   req.Method,
		Endpoint: req.Endpoint,
		Reason:   reason,
		Err:      cause,
	}
}

// Close releases the transport
func (p *Policy) Close() error {
	if err := p.transport.Close(); err != nil {
		return fmt.Errorf("close transport: %w", err)
	}
	return nil
}
