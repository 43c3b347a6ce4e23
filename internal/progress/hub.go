// Package progress streams analysis progress to websocket subscribers.
//
// Long interaction runs may take hours; the Hub lets an operator watch them
// live. Each new subscriber first receives the latest event of every
// analysis seen so far, then every subsequent event.
package progress

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"mlinterp/internal/interpret"
)

const (
	writeWait  = 10 * time.Second
	queueDepth = 256
)

// Event is one progress notification as sent on the wire.
type Event struct {
	RunID          string    `json:"run_id,omitempty"`
	Analysis       string    `json:"analysis"`
	Unit           string    `json:"unit"`
	Done           int       `json:"done"`
	Total          int       `json:"total"`
	Value          float64   `json:"value"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
	Time           time.Time `json:"time"`
}

// Gauge tracks the number of connected subscribers.
type Gauge interface {
	Inc()
	Dec()
}

// client is one subscriber. mu serialises writes to conn.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub fans progress events out to websocket clients.
type Hub struct {
	runID    string
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]bool

	latestMu sync.RWMutex
	latest   map[string]Event

	events chan Event
	done   chan struct{}
	gauge  Gauge
	once   sync.Once
}

// NewHub creates a hub tagging events with runID. gauge may be nil.
func NewHub(runID string, gauge Gauge) *Hub {
	return &Hub{
		runID:    runID,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		clients:  make(map[*client]bool),
		latest:   make(map[string]Event),
		events:   make(chan Event, queueDepth),
		done:     make(chan struct{}),
		gauge:    gauge,
	}
}

// Publish queues p for delivery. It never blocks, even while a subscriber
// write is stalled; when the queue is full the event is dropped, since the
// next one supersedes it.
func (h *Hub) Publish(p interpret.Progress) {
	ev := Event{
		RunID:          h.runID,
		Analysis:       p.Analysis,
		Unit:           p.Unit,
		Done:           p.Done,
		Total:          p.Total,
		Value:          p.Value,
		ElapsedSeconds: p.Elapsed.Seconds(),
		Time:           time.Now().UTC(),
	}
	h.latestMu.Lock()
	h.latest[ev.Analysis] = ev
	h.latestMu.Unlock()

	select {
	case h.events <- ev:
	default:
		log.Warn().Str("analysis", ev.Analysis).Msg("progress queue full, dropping event")
	}
}

// Run broadcasts queued events until ctx is done or Close is called.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case ev := <-h.events:
			h.broadcast(ev)
		case <-ctx.Done():
			h.closeClients()
			return
		case <-h.done:
			h.closeClients()
			return
		}
	}
}

// Close stops Run and disconnects every client.
func (h *Hub) Close() {
	h.once.Do(func() { close(h.done) })
}

// Snapshot returns the latest event of each analysis ordered by name.
func (h *Hub) Snapshot() []Event {
	h.latestMu.RLock()
	defer h.latestMu.RUnlock()
	out := make([]Event, 0, len(h.latest))
	for _, ev := range h.latest {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Analysis < out[j].Analysis })
	return out
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) subscribers() []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

func (h *Hub) broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal progress event")
		return
	}

	var failed []*client
	for _, c := range h.subscribers() {
		if err := c.write(data); err != nil {
			log.Debug().Err(err).Msg("Failed to send progress to client")
			failed = append(failed, c)
		}
	}
	for _, c := range failed {
		h.drop(c)
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	registered := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if !registered {
		return
	}
	c.conn.Close()
	if h.gauge != nil {
		h.gauge.Dec()
	}
}

func (h *Hub) closeClients() {
	for _, c := range h.subscribers() {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "run finished"),
			time.Now().Add(time.Second))
		h.drop(c)
	}
}

// register adds c unless the hub is closed.
func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.done:
		return false
	default:
	}
	h.clients[c] = true
	if h.gauge != nil {
		h.gauge.Inc()
	}
	return true
}

// ServeHTTP upgrades the request to a websocket subscription.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	// Hold the write lock across register and replay so broadcasts reaching
	// this client queue up behind the snapshot.
	c := &client{conn: conn}
	c.mu.Lock()
	if !h.register(c) {
		c.mu.Unlock()
		conn.Close()
		return
	}
	for _, ev := range h.Snapshot() {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(ev); err != nil {
			c.mu.Unlock()
			h.drop(c)
			return
		}
	}
	c.mu.Unlock()
	log.Debug().Str("remote", r.RemoteAddr).Msg("Progress subscriber connected")

	// Subscribers only listen; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.drop(c)
	log.Debug().Str("remote", r.RemoteAddr).Msg("Progress subscriber disconnected")
}
