package webmonitor

import (
	"sync"

	"github.com/seesafe/seesafe-agent/internal/eventcodec"
	"github.com/seesafe/seesafe-agent/internal/logger"
	"github.com/seesafe/seesafe-agent/pkg/types"
)

// EventBroadcaster fans obstacle events out to SSE clients. Each event is
// serialized once in both formats; slow clients miss events instead of
// blocking the pipeline.
type EventBroadcaster struct {
	mu      sync.Mutex
	clients map[int]chan *eventcodec.Serialized
	nextID  int
	closed  bool
}

// NewEventBroadcaster creates an empty broadcaster.
func NewEventBroadcaster() *EventBroadcaster {
	return &EventBroadcaster{clients: make(map[int]chan *eventcodec.Serialized)}
}

// Subscribe adds a client and returns its event channel.
func (b *EventBroadcaster) Subscribe() (int, <-chan *eventcodec.Serialized) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan *eventcodec.Serialized, 2)
	if b.closed {
		close(ch)
		return id, ch
	}
	b.clients[id] = ch

	logger.Debug("Monitor", "Client #%d subscribed (total clients: %d)", id, len(b.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (b *EventBroadcaster) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.clients[id]; ok {
		close(ch)
		delete(b.clients, id)
		logger.Debug("Monitor", "Client #%d unsubscribed (remaining clients: %d)", id, len(b.clients))
	}
}

// Clients returns the number of subscribers.
func (b *EventBroadcaster) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// HandleEvent serializes ev and broadcasts it. Nothing is encoded when
// nobody listens.
func (b *EventBroadcaster) HandleEvent(ev types.ObstacleEvent) {
	if b.Clients() == 0 {
		return
	}
	s, err := eventcodec.EncodeEvent(ev)
	if err != nil {
		logger.Error("Monitor", "Event encode error: %v", err)
		return
	}
	b.broadcast(s)
}

func (b *EventBroadcaster) broadcast(s *eventcodec.Serialized) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.clients {
		select {
		case ch <- s:
		default:
			// client too slow, skip this event
		}
	}
}

// Close disconnects every client.
func (b *EventBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.clients {
		close(ch)
		delete(b.clients, id)
	}
}
