package websocket

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"github.com/modeltrainer/api/internal/model"
)

// Client is one push connection and the jobs it follows
type Client struct {
	ID   string
	Send chan []byte

	// guarded by Hub.mu
	all      bool
	jobs     map[string]struct{}
	excluded map[string]struct{} // jobs dropped by an all-jobs client
	closed   bool
}

func (c *Client) wants(jobID string) bool {
	if c.all {
		_, skip := c.excluded[jobID]
		return !skip
	}
	_, ok := c.jobs[jobID]
	return ok
}

// MetricsRecorder is an optional interface for recording push metrics
type MetricsRecorder interface {
	RecordPushConnections(ctx context.Context, delta int64)
	RecordPushDelivered(ctx context.Context)
	RecordPushEvicted(ctx context.Context)
}

// Options tunes per-connection buffering and keep-alive
type Options struct {
	SendBuffer   int
	WriteTimeout time.Duration
	PingInterval time.Duration
}

// Hub maintains active WebSocket connections
type Hub struct {
	clients map[string]*Client
	opts    Options
	metrics MetricsRecorder

	mu sync.Mutex
}

// NewHub creates a new Hub
func NewHub(opts Options, metrics MetricsRecorder) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	return &Hub{
		clients: make(map[string]*Client),
		opts:    opts,
		metrics: metrics,
	}
}

// Register adds a client following jobIDs, or every job when jobIDs is empty
func (h *Hub) Register(jobIDs []string) *Client {
	client := &Client{
		ID:   uuid.New().String(),
		Send: make(chan []byte, h.opts.SendBuffer),
		all:      len(jobIDs) == 0,
		jobs:     make(map[string]struct{}, len(jobIDs)),
		excluded: make(map[string]struct{}),
	}
	for _, id := range jobIDs {
		client.jobs[id] = struct{}{}
	}

	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.RecordPushConnections(context.Background(), 1)
	}
	log.Printf("Client %s registered (jobs=%v)", client.ID, jobIDs)
	return client
}

// Unregister removes a client and closes its send buffer. Safe to call twice.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	removed := h.remove(client)
	h.mu.Unlock()

	if removed {
		log.Printf("Client %s unregistered", client.ID)
	}
}

// remove must be called with h.mu held
func (h *Hub) remove(client *Client) bool {
	if client.closed {
		return false
	}
	client.closed = true
	delete(h.clients, client.ID)
	close(client.Send)
	if h.metrics != nil {
		h.metrics.RecordPushConnections(context.Background(), -1)
	}
	return true
}

// Subscribe narrows the client to the jobs it names explicitly. An empty
// jobID follows every job again.
func (h *Hub) Subscribe(client *Client, jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.excluded = make(map[string]struct{})
	if jobID == "" {
		client.all = true
		client.jobs = make(map[string]struct{})
		return
	}
	client.all = false
	client.jobs[jobID] = struct{}{}
}

// Unsubscribe stops delivery of jobID; an empty jobID drops every subscription
func (h *Hub) Unsubscribe(client *Client, jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch {
	case jobID == "":
		client.all = false
		client.jobs = make(map[string]struct{})
		client.excluded = make(map[string]struct{})
	case client.all:
		client.excluded[jobID] = struct{}{}
	default:
		delete(client.jobs, jobID)
	}
}

// Deliver pushes ev to every interested client. A client whose buffer is
// full is evicted; the others are unaffected.
func (h *Hub) Deliver(ev model.Event) {
	data, err := json.Marshal(model.StatusFromEvent(ev))
	if err != nil {
		log.Printf("Failed to marshal event for job %s: %v", ev.JobID, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.clients {
		if !client.wants(ev.JobID) {
			continue
		}
		select {
		case client.Send <- data:
			if h.metrics != nil {
				h.metrics.RecordPushDelivered(context.Background())
			}
		default:
			log.Printf("Client %s send buffer full, evicting", client.ID)
			h.remove(client)
			if h.metrics != nil {
				h.metrics.RecordPushEvicted(context.Background())
			}
		}
	}
}

// reply queues a direct answer to one client, dropping it if the buffer is full
func (h *Hub) reply(client *Client, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client.closed {
		return
	}
	select {
	case client.Send <- data:
	default:
	}
}

// Count returns the number of connected clients
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// HandleConnection serves one WebSocket connection until it closes
func (h *Hub) HandleConnection(c *websocket.Conn, jobIDs []string) {
	client := h.Register(jobIDs)
	defer h.Unregister(client)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writeLoop(c, client)
	}()

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case model.WSMessageTypeSubscribe:
			h.Subscribe(client, msg.TaskID)
		case model.WSMessageTypeUnsubscribe:
			h.Unsubscribe(client, msg.TaskID)
		case model.WSMessageTypePing:
			pong, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
			h.reply(client, pong)
		}
	}

	h.Unregister(client)
	<-done
}

func (h *Hub) writeLoop(c *websocket.Conn, client *Client) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-client.Send:
			c.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if !ok {
				c.WriteMessage(websocket.CloseMessage, []byte{})
				c.Close()
				return
			}
			if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
				h.Unregister(client)
				c.Close()
				return
			}

		case <-ticker.C:
			c.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.Unregister(client)
				c.Close()
				return
			}
		}
	}
}
