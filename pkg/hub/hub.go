package hub

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

const (
	// publishBuffer is the capacity of the hub's inbound queue.
	publishBuffer = 1024

	// clientBuffer is the per-client outbound queue.
	clientBuffer = 256
)

// Stats are cumulative hub counters.
type Stats struct {
	Published uint64 `json:"published"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
	Evicted   uint64 `json:"evicted"`
}

// Hub maintains the set of active clients per topic and delivers published
// messages to them. All map mutation happens on the Run goroutine.
type Hub struct {
	name   string
	logger *slog.Logger

	// topic -> subscribed clients
	topics  map[string]map[*Client]bool
	clients map[*Client]bool

	publish    chan envelope
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	// Guards the counts read from other goroutines.
	mu          sync.RWMutex
	topicCounts map[string]int
	clientCount int

	running   atomic.Bool
	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
	evicted   atomic.Uint64
}

// New creates a hub. A nil logger uses slog.Default.
func New(name string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		name:        name,
		logger:      logger.With("component", "hub", "hub", name),
		topics:      make(map[string]map[*Client]bool),
		clients:     make(map[*Client]bool),
		publish:     make(chan envelope, publishBuffer),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		done:        make(chan struct{}),
		topicCounts: make(map[string]int),
	}
}

// Run starts the hub's main loop and blocks until ctx is cancelled.
// When it returns every client's send queue is closed.
func (h *Hub) Run(ctx context.Context) {
	h.running.Store(true)
	defer func() {
		h.running.Store(false)
		for c := range h.clients {
			close(c.send)
		}
		h.clients = map[*Client]bool{}
		h.topics = map[string]map[*Client]bool{}
		h.syncCounts()
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.clients[c] = true
			for _, topic := range c.topics {
				subs := h.topics[topic]
				if subs == nil {
					subs = make(map[*Client]bool)
					h.topics[topic] = subs
				}
				subs[c] = true
			}
			h.syncCounts()
			h.logger.Debug("client connected", "client_id", c.id, "topics", c.topics, "clients", len(h.clients))

		case c := <-h.unregister:
			if h.remove(c) {
				h.logger.Debug("client disconnected", "client_id", c.id, "clients", len(h.clients))
			}

		case env := <-h.publish:
			for c := range h.topics[env.topic] {
				select {
				case c.send <- env.msg:
					h.delivered.Add(1)
				default:
					// Client's buffer is full; it is too slow to keep.
					h.remove(c)
					h.evicted.Add(1)
					h.logger.Warn("dropped slow client", "client_id", c.id, "topic", env.topic)
				}
			}
		}
	}
}

// remove drops c from every topic and closes its queue. It reports whether
// c was still registered.
func (h *Hub) remove(c *Client) bool {
	if !h.clients[c] {
		return false
	}
	delete(h.clients, c)
	for _, topic := range c.topics {
		if subs := h.topics[topic]; subs != nil {
			delete(subs, c)
			if len(subs) == 0 {
				delete(h.topics, topic)
			}
		}
	}
	close(c.send)
	h.syncCounts()
	return true
}

func (h *Hub) syncCounts() {
	counts := make(map[string]int, len(h.topics))
	for topic, subs := range h.topics {
		counts[topic] = len(subs)
	}
	h.mu.Lock()
	h.topicCounts = counts
	h.clientCount = len(h.clients)
	h.mu.Unlock()
}

// Publish queues msg for every subscriber of topic. It never blocks; when
// the hub's queue is full the message is dropped and false is returned.
func (h *Hub) Publish(topic string, msg Message) bool {
	if !h.running.Load() {
		h.dropped.Add(1)
		return false
	}
	select {
	case h.publish <- envelope{topic: topic, msg: msg}:
		h.published.Add(1)
		return true
	default:
		h.dropped.Add(1)
		h.logger.Warn("publish queue full, dropping message", "topic", topic)
		return false
	}
}

// PublishJSON publishes pre-encoded JSON.
func (h *Hub) PublishJSON(topic string, data []byte) bool {
	return h.Publish(topic, NewJSONMessage(data))
}

// Subscribers returns the number of clients subscribed to topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.topicCounts[topic]
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clientCount
}

// TopicCount returns the number of topics with at least one subscriber.
func (h *Hub) TopicCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topicCounts)
}

// IsRunning returns whether the hub loop is active.
func (h *Hub) IsRunning() bool {
	return h.running.Load()
}

// Stats returns a snapshot of the hub counters.
func (h *Hub) Stats() Stats {
	return Stats{
		Published: h.published.Load(),
		Delivered: h.delivered.Load(),
		Dropped:   h.dropped.Load(),
		Evicted:   h.evicted.Load(),
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}
