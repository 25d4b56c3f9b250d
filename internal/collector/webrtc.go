package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/seesafe/seesafe-agent/internal/logger"
	"github.com/seesafe/seesafe-agent/internal/metrics"
	"github.com/seesafe/seesafe-agent/internal/transport"
)

// gatewayPeer is one connected agent
type gatewayPeer struct {
	id       string
	peerConn *webrtc.PeerConnection
	handled  atomic.Uint64
	failed   atomic.Uint64
}

// Gateway accepts agent data channels and answers their requests through
// the Service
type Gateway struct {
	svc      *Service
	metrics  *metrics.CollectorMetrics
	peers    map[string]*gatewayPeer
	peersMu  sync.RWMutex
	config   webrtc.Configuration
	maxPeers int
	api      *webrtc.API
	// per-request deadline for Service calls
	timeout time.Duration
}

// NewGateway creates a gateway. Without STUN servers only host candidates
// are gathered, which is enough on a LAN.
func NewGateway(svc *Service, stunServers []string, maxPeers int, m *metrics.CollectorMetrics) *Gateway {
	iceServers := make([]webrtc.ICEServer, 0, len(stunServers))
	for _, url := range stunServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{url}})
	}

	settingsEngine := webrtc.SettingEngine{}
	settingsEngine.SetDTLSRetransmissionInterval(time.Second * 2)
	settingsEngine.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4,
		webrtc.NetworkTypeUDP6,
	})
	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingsEngine))

	if maxPeers <= 0 {
		maxPeers = 64
	}
	if m == nil {
		m = metrics.NewCollector()
	}
	return &Gateway{
		svc:      svc,
		metrics:  m,
		peers:    make(map[string]*gatewayPeer),
		config:   webrtc.Configuration{ICEServers: iceServers},
		maxPeers: maxPeers,
		api:      api,
		timeout:  10 * time.Second,
	}
}

// ServeOffer is the HTTP signaling endpoint: POST the offer, get the answer
func (g *Gateway) ServeOffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "Invalid offer data", http.StatusBadRequest)
		return
	}
	answer, err := g.HandleOffer(body)
	if err != nil {
		logger.Warn("Collector", "Offer rejected: %v", err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(answer)
}

// HandleOffer handles an agent's offer and returns the gathered answer
func (g *Gateway) HandleOffer(offerJSON []byte) ([]byte, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(offerJSON, &offer); err != nil {
		return nil, fmt.Errorf("failed to parse offer: %w", err)
	}

	if n := g.PeerCount(); n >= g.maxPeers {
		return nil, fmt.Errorf("maximum peers reached (%d)", g.maxPeers)
	}

	peerConn, err := g.api.NewPeerConnection(g.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	p := &gatewayPeer{id: uuid.NewString(), peerConn: peerConn}

	peerConn.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != transport.DataChannelLabel {
			logger.Warn("Collector", "Peer %s opened unexpected channel %q", p.id, dc.Label())
			return
		}
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			g.serve(p, dc, msg.Data)
		})
	})

	peerConn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("Collector", "Peer %s connection state: %s", p.id, state.String())
		if state == webrtc.PeerConnectionStateDisconnected ||
			state == webrtc.PeerConnectionStateFailed ||
			state == webrtc.PeerConnectionStateClosed {
			g.RemovePeer(p.id)
		}
	})

	if err := peerConn.SetRemoteDescription(offer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}
	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(peerConn)
	if err := peerConn.SetLocalDescription(answer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}
	<-gatherComplete

	g.peersMu.Lock()
	g.peers[p.id] = p
	g.metrics.DataChannelPeers.Store(uint64(len(g.peers)))
	g.peersMu.Unlock()
	logger.Info("Collector", "Peer %s connected", p.id)

	localDesc := peerConn.LocalDescription()
	if localDesc == nil {
		g.RemovePeer(p.id)
		return nil, fmt.Errorf("no local description available")
	}
	return json.Marshal(localDesc)
}

// serve answers one request; replies may be lost like requests, the agent
// retries on timeout
func (g *Gateway) serve(p *gatewayPeer, dc *webrtc.DataChannel, data []byte) {
	var req transport.DataChannelRequest
	if err := json.Unmarshal(data, &req); err != nil || req.ID == "" {
		p.failed.Add(1)
		logger.Debug("Collector", "Peer %s sent a malformed request: %v", p.id, err)
		return
	}

	query, _ := parseQuery(req.Query)
	var body []byte
	if req.Body != nil {
		body = []byte(*req.Body)
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	rep := g.svc.Handle(ctx, Request{Method: req.Method, Path: req.Path, Query: query, Body: body})
	cancel()

	out, err := json.Marshal(transport.DataChannelReply{ID: req.ID, Code: rep.Code, Body: string(rep.Body)})
	if err != nil {
		p.failed.Add(1)
		return
	}
	if err := dc.SendText(string(out)); err != nil {
		p.failed.Add(1)
		logger.Debug("Collector", "Reply to peer %s failed: %v", p.id, err)
		return
	}
	p.handled.Add(1)
}

// RemovePeer closes and forgets a peer
func (g *Gateway) RemovePeer(id string) {
	g.peersMu.Lock()
	p, ok := g.peers[id]
	if ok {
		delete(g.peers, id)
		g.metrics.DataChannelPeers.Store(uint64(len(g.peers)))
	}
	g.peersMu.Unlock()
	if !ok {
		return
	}

	p.peerConn.Close()
	logger.Info("Collector", "Peer %s disconnected (handled: %d, failed: %d)",
		id, p.handled.Load(), p.failed.Load())
}

// PeerCount returns the number of connected peers
func (g *Gateway) PeerCount() int {
	g.peersMu.RLock()
	defer g.peersMu.RUnlock()
	return len(g.peers)
}

// Close closes all peer connections
func (g *Gateway) Close() error {
	g.peersMu.RLock()
	ids := make([]string, 0, len(g.peers))
	for id := range g.peers {
		ids = append(ids, id)
	}
	g.peersMu.RUnlock()

	for _, id := range ids {
		g.RemovePeer(id)
	}
	return nil
}
