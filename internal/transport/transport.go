// Package transport executes single request/response exchanges with the
// collector. Each implementation owns its timeout and retry behavior; callers
// only see the final outcome.
package transport

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/seesafe/seesafe-agent/internal/logger"
	"github.com/seesafe/seesafe-agent/pkg/types"
)

// Response is what came back from the collector. A nil *Response with a nil
// error means the exchange completed without a response.
type Response struct {
	Code int
	Body string
}

// Options are forwarded unchanged from configuration
type Options struct {
	Timeout    time.Duration
	MaxRetries int
	// RetryBackoff is multiplied by the attempt number between retries
	RetryBackoff time.Duration
}

// DefaultOptions matches the mobile client: 5s per attempt, 3 retries
func DefaultOptions() Options {
	return Options{
		Timeout:      5 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 200 * time.Millisecond,
	}
}

// Transport sends one request. Implementations are safe for concurrent use.
type Transport interface {
	Send(ctx context.Context, method types.Method, endpoint string, body *string) (*Response, error)
	Configure(opts Options)
	Close() error
}

// optionsHolder guards Options against concurrent Configure calls
type optionsHolder struct {
	mu   sync.RWMutex
	opts Options
}

func (h *optionsHolder) Configure(opts Options) {
	h.mu.Lock()
	h.opts = opts
	h.mu.Unlock()
}

func (h *optionsHolder) options() Options {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.opts
}

// withRetries runs attempt up to 1+MaxRetries times, each bounded by Timeout.
// Only errors are retried; a response of any code ends the loop.
func withRetries(ctx context.Context, opts Options, name string, attempt func(ctx context.Context) (*Response, error)) (*Response, error) {
	var lastErr error
	for i := 0; i <= opts.MaxRetries; i++ {
		if i > 0 {
			wait := time.Duration(i) * opts.RetryBackoff
			logger.Debug("Transport", "%s retry %d/%d in %v: %v", name, i, opts.MaxRetries, wait, lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		actx := ctx
		var cancel context.CancelFunc = func() {}
		if opts.Timeout > 0 {
			actx, cancel = context.WithTimeout(ctx, opts.Timeout)
		}
		resp, err := attempt(actx)
		cancel()
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("%s: %d attempts failed: %w", name, opts.MaxRetries+1, lastErr)
}

// ParseEndpoint accepts "host:port/path?query" with or without a scheme
func ParseEndpoint(endpoint, defaultScheme string) (*url.URL, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("%w: empty endpoint", types.ErrInvalidInput)
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = defaultScheme + "://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: endpoint %q: %v", types.ErrInvalidInput, endpoint, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: endpoint %q has no host", types.ErrInvalidInput, endpoint)
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u, nil
}

// New builds a transport by name: "coap", "http" or "webrtc"
func New(kind string, opts Options, signalURL string) (Transport, error) {
	var t Transport
	switch kind {
	case "coap", "":
		t = NewCoAP()
	case "http":
		t = NewHTTP(nil)
	case "webrtc":
		t = NewDataChannel(signalURL, nil)
	default:
		return nil, fmt.Errorf("unknown transport %q", kind)
	}
	t.Configure(opts)
	return t, nil
}
