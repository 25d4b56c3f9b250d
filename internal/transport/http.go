package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/seesafe/seesafe-agent/pkg/types"
)

// HTTP sends requests over plain HTTP(S)
type HTTP struct {
	optionsHolder
	client *http.Client
}

// NewHTTP creates an HTTP transport; a nil client uses a private default
func NewHTTP(client *http.Client) *HTTP {
	if client == nil {
		client = &http.Client{}
	}
	t := &HTTP{client: client}
	t.Configure(DefaultOptions())
	return t
}

// Send performs the request with retries on network errors
func (t *HTTP) Send(ctx context.Context, method types.Method, endpoint string, body *string) (*Response, error) {
	u, err := ParseEndpoint(endpoint, "http")
	if err != nil {
		return nil, err
	}

	return withRetries(ctx, t.options(), "http "+string(method)+" "+u.Path, func(ctx context.Context) (*Response, error) {
		var rd io.Reader
		if body != nil {
			rd = strings.NewReader(*body)
		}
		req, err := http.NewRequestWithContext(ctx, string(method), u.String(), rd)
		if err != nil {
			return nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := t.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		return &Response{Code: resp.StatusCode, Body: string(data)}, nil
	})
}

// Close releases idle connections
func (t *HTTP) Close() error {
	t.client.CloseIdleConnections()
	return nil
}
