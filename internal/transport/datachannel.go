package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/seesafe/seesafe-agent/internal/logger"
	"github.com/seesafe/seesafe-agent/pkg/types"
)

// DataChannelLabel names the telemetry channel on both peers
const DataChannelLabel = "seesafe"

// DataChannelRequest is one request on the data channel
type DataChannelRequest struct {
	ID     string  `json:"id"`
	Method string  `json:"method"`
	Path   string  `json:"path"`
	Query  string  `json:"query,omitempty"`
	Body   *string `json:"body,omitempty"`
}

// DataChannelReply answers the request with the same ID
type DataChannelReply struct {
	ID   string `json:"id"`
	Code int    `json:"code"`
	Body string `json:"body"`
}

var errChannelClosed = errors.New("data channel closed")

// DataChannel carries requests over an unordered, zero-retransmit WebRTC data
// channel. Lost messages surface as per-attempt timeouts and are retried.
type DataChannel struct {
	optionsHolder
	signalURL  string
	httpClient *http.Client
	iceServers []webrtc.ICEServer

	mu      sync.Mutex
	peer    *peer
	pending map[string]chan DataChannelReply
}

type peer struct {
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel
}

// NewDataChannel creates a transport that signals through signalURL (the
// collector's POST /offer). Connection is established on first Send.
func NewDataChannel(signalURL string, stunServers []string) *DataChannel {
	ice := make([]webrtc.ICEServer, 0, len(stunServers))
	for _, u := range stunServers {
		ice = append(ice, webrtc.ICEServer{URLs: []string{u}})
	}
	t := &DataChannel{
		signalURL:  signalURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		iceServers: ice,
		pending:    make(map[string]chan DataChannelReply),
	}
	t.Configure(DefaultOptions())
	return t
}

// Send issues one request and waits for the matching reply
func (t *DataChannel) Send(ctx context.Context, method types.Method, endpoint string, body *string) (*Response, error) {
	u, err := ParseEndpoint(endpoint, "http")
	if err != nil {
		return nil, err
	}

	return withRetries(ctx, t.options(), "datachannel "+string(method)+" "+u.Path, func(ctx context.Context) (*Response, error) {
		p, err := t.connect(ctx)
		if err != nil {
			return nil, err
		}

		req := DataChannelRequest{
			ID:     uuid.NewString(),
			Method: string(method),
			Path:   u.Path,
			Query:  u.RawQuery,
			Body:   body,
		}
		data, err := json.Marshal(req)
		if err != nil {
			return nil, err
		}

		replyCh := make(chan DataChannelReply, 1)
		t.mu.Lock()
		t.pending[req.ID] = replyCh
		t.mu.Unlock()
		defer func() {
			t.mu.Lock()
			delete(t.pending, req.ID)
			t.mu.Unlock()
		}()

		if err := p.dc.SendText(string(data)); err != nil {
			t.drop(p)
			return nil, fmt.Errorf("send: %w", err)
		}

		select {
		case reply, ok := <-replyCh:
			if !ok {
				return nil, errChannelClosed
			}
			return &Response{Code: reply.Code, Body: reply.Body}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
}

// connect returns the open channel, negotiating a new peer connection if needed
func (t *DataChannel) connect(ctx context.Context) (*peer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.peer != nil && t.peer.dc.ReadyState() == webrtc.DataChannelStateOpen {
		return t.peer, nil
	}
	t.closeLocked()

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: t.iceServers})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	ordered := false
	var retransmits uint16
	dc, err := pc.CreateDataChannel(DataChannelLabel, &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &retransmits,
	})
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create data channel: %w", err)
	}

	p := &peer{pc: pc, dc: dc}
	opened := make(chan struct{})
	dc.OnOpen(func() { close(opened) })
	dc.OnMessage(t.onMessage)
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("Transport", "data channel peer state: %s", state.String())
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			t.drop(p)
		}
	})

	if err := t.negotiate(ctx, pc); err != nil {
		pc.Close()
		return nil, err
	}

	select {
	case <-opened:
	case <-ctx.Done():
		pc.Close()
		return nil, fmt.Errorf("data channel open: %w", ctx.Err())
	}

	t.peer = p
	logger.Info("Transport", "data channel to %s open", t.signalURL)
	return p, nil
}

// negotiate posts a fully gathered offer and applies the answer
func (t *DataChannel) negotiate(ctx context.Context, pc *webrtc.PeerConnection) error {
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return ctx.Err()
	}

	offerJSON, err := json.Marshal(pc.LocalDescription())
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.signalURL, bytes.NewReader(offerJSON))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("signal: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("signal: %s: %s", resp.Status, bytes.TrimSpace(msg))
	}

	var answer webrtc.SessionDescription
	if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		return fmt.Errorf("decode answer: %w", err)
	}
	if err := pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (t *DataChannel) onMessage(msg webrtc.DataChannelMessage) {
	var reply DataChannelReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		logger.Warn("Transport", "bad data channel reply: %v", err)
		return
	}

	t.mu.Lock()
	ch, ok := t.pending[reply.ID]
	t.mu.Unlock()
	if !ok {
		// late reply for an attempt that already timed out
		return
	}
	select {
	case ch <- reply:
	default:
	}
}

// drop closes p if it is still the current peer
func (t *DataChannel) drop(p *peer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.peer == p {
		t.closeLocked()
	}
}

func (t *DataChannel) closeLocked() {
	if t.peer != nil {
		t.peer.pc.Close()
	}
	t.peer = nil
}

// Close tears down the peer connection
func (t *DataChannel) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeLocked()
	return nil
}
