package transport

import (
	"bytes"
	"context"
	"fmt"

	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/plgd-dev/go-coap/v3/message/pool"
	"github.com/plgd-dev/go-coap/v3/udp"
	"github.com/plgd-dev/go-coap/v3/udp/client"

	"github.com/seesafe/seesafe-agent/pkg/types"
)

// DefaultCoAPPort is used when the endpoint carries no port
const DefaultCoAPPort = "5683"

// CoAP sends confirmable requests over UDP
type CoAP struct {
	optionsHolder
}

// NewCoAP creates a CoAP transport with default options
func NewCoAP() *CoAP {
	t := &CoAP{}
	t.Configure(DefaultOptions())
	return t
}

// Send dials the endpoint's host for each attempt and performs one exchange
func (t *CoAP) Send(ctx context.Context, method types.Method, endpoint string, body *string) (*Response, error) {
	u, err := ParseEndpoint(endpoint, "coap")
	if err != nil {
		return nil, err
	}
	host := u.Host
	if u.Port() == "" {
		host += ":" + DefaultCoAPPort
	}

	var opts []message.Option
	for _, q := range splitQuery(u.RawQuery) {
		opts = append(opts, message.Option{ID: message.URIQuery, Value: []byte(q)})
	}

	return withRetries(ctx, t.options(), "coap "+string(method)+" "+u.Path, func(ctx context.Context) (*Response, error) {
		conn, err := udp.Dial(host)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", host, err)
		}
		defer conn.Close()

		resp, err := exchange(ctx, conn, method, u.Path, body, opts)
		if err != nil {
			return nil, err
		}
		if resp == nil {
			return nil, nil
		}

		data, err := resp.ReadBody()
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		return &Response{Code: httpLikeCode(resp.Code()), Body: string(data)}, nil
	})
}

func exchange(ctx context.Context, conn *client.Conn, method types.Method, path string, body *string, opts []message.Option) (*pool.Message, error) {
	payload := func() *bytes.Reader {
		if body == nil {
			return bytes.NewReader(nil)
		}
		return bytes.NewReader([]byte(*body))
	}

	switch method {
	case types.MethodGet:
		return conn.Get(ctx, path, opts...)
	case types.MethodPost:
		return conn.Post(ctx, path, message.AppJSON, payload(), opts...)
	case types.MethodPut:
		return conn.Put(ctx, path, message.AppJSON, payload(), opts...)
	case types.MethodDelete:
		return conn.Delete(ctx, path, opts...)
	default:
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidMethod, method)
	}
}

// httpLikeCode turns a CoAP class.detail code into the familiar form, 2.05 -> 205
func httpLikeCode(c codes.Code) int {
	return int(c>>5)*100 + int(c&0x1f)
}

func splitQuery(raw string) []string {
	if raw == "" {
		return nil
	}
	var parts []string
	for _, p := range bytes.Split([]byte(raw), []byte("&")) {
		if len(p) > 0 {
			parts = append(parts, string(p))
		}
	}
	return parts
}

// Close is a no-op; connections live for one attempt
func (t *CoAP) Close() error {
	return nil
}
