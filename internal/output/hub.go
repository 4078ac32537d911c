package output

import (
	"sync"

	"github.com/bryanchriswhite/CanvasCamera/internal/camera"
)

// Hub pushes deliveries to in-process subscribers such as WebSocket
// connections. Each subscriber holds at most one pending frame; a newer
// frame replaces an unread one.
type Hub struct {
	mu      sync.RWMutex
	running bool
	clients map[*Subscriber]struct{}
	pushed  uint64
}

// Subscriber receives frames from a Hub
type Subscriber struct {
	ch chan *camera.Delivery
}

// Frames returns the subscriber's frame channel. It is closed when the
// subscriber is removed or the hub stops.
func (s *Subscriber) Frames() <-chan *camera.Delivery {
	return s.ch
}

// NewHub creates a frame hub
func NewHub() *Hub {
	return &Hub{clients: make(map[*Subscriber]struct{})}
}

// Subscribe registers a new subscriber
func (h *Hub) Subscribe() *Subscriber {
	s := &Subscriber{ch: make(chan *camera.Delivery, 1)}
	h.mu.Lock()
	h.clients[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Unsubscribe removes s and closes its channel
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[s]; ok {
		delete(h.clients, s)
		close(s.ch)
	}
}

// Start enables frame pushing
func (h *Hub) Start() error {
	h.mu.Lock()
	h.running = true
	h.mu.Unlock()
	return nil
}

// Stop disables pushing and drops every subscriber
func (h *Hub) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running = false
	for s := range h.clients {
		close(s.ch)
	}
	h.clients = make(map[*Subscriber]struct{})
	return nil
}

// WriteFrame offers d to every subscriber without blocking
func (h *Hub) WriteFrame(d *camera.Delivery) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return nil
	}
	for s := range h.clients {
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- d:
		default:
		}
	}
	h.pushed++
	return nil
}

// Name returns the output type name
func (h *Hub) Name() string {
	return "Frame hub"
}

// IsRunning returns true if the hub is pushing frames
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// Subscribers returns the number of subscribers
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
