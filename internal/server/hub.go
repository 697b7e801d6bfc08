// Package server coordinates connection registration, frame fan-out, and
// connection cleanup for the duochat transport via the Hub type.
package server

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Hub owns the set of open connections and handles fan-out. Registration,
// unregistration, and broadcasts are serialized through the run loop;
// targeted sends go through safeSend under the read lock.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan BroadcastMessage
	register   chan *Client
	unregister chan *Client
	registry   *Registry
	router     *Router
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	log        *slog.Logger
}

// NewHub creates a Hub ready to manage connections. Attach the registry and
// router before calling Run.
func NewHub(log *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan BroadcastMessage, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		log:        log,
	}
}

// AttachRegistry wires the presence registry consulted during connection
// teardown.
func (h *Hub) AttachRegistry(r *Registry) { h.registry = r }

// AttachRouter wires the router that classifies inbound frames.
func (h *Hub) AttachRouter(r *Router) { h.router = r }

// Register queues a connection for registration with the hub.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.ctx.Done():
	}
}

// Unregister queues a connection for removal.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}

// BroadcastAll queues a payload for delivery to every open connection.
func (h *Hub) BroadcastAll(payload []byte) {
	select {
	case h.broadcast <- BroadcastMessage{Payload: payload}:
	case <-h.ctx.Done():
	}
}

// BroadcastExcept queues a payload for delivery to every open connection but
// the sender.
func (h *Hub) BroadcastExcept(sender *Client, payload []byte) {
	select {
	case h.broadcast <- BroadcastMessage{Sender: sender, Payload: payload}:
	case <-h.ctx.Done():
	}
}

// route hands an inbound frame to the attached router.
func (h *Hub) route(src *Client, raw []byte) {
	if h.router == nil {
		h.log.Warn("no router attached; dropping frame")
		return
	}
	h.router.Route(src, raw)
}

// safeSend delivers a payload to one client if it is still registered and
// its buffer has room. A false return means the client should be evicted.
func (h *Hub) safeSend(client *Client, payload []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			h.log.Warn("recovered from send on closed channel", "panic", r)
		}
	}()

	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if _, exists := h.clients[client]; !exists || client.closed {
		return false
	}

	select {
	case client.send <- payload:
		return true
	default:
		return false
	}
}

// Run is the hub's event loop. Call it in its own goroutine; it returns only
// on shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.closeAllClients()
			return

		case client := <-h.register:
			if client == nil {
				h.log.Warn("nil client registration skipped")
				continue
			}
			h.mutex.Lock()
			client.closed = false
			h.clients[client] = true
			count := len(h.clients)
			h.mutex.Unlock()
			h.log.Info("connection opened", "addr", client.addr, "total", count)

			// Tests drive the hub with connection-less clients; pumps only
			// make sense over a real socket.
			if client.conn != nil {
				h.wg.Add(2)
				go func() {
					defer h.wg.Done()
					client.writePump()
				}()
				go func() {
					defer h.wg.Done()
					client.readPump()
				}()
			}

		case client := <-h.unregister:
			h.dropClient(client)

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

// dropClient removes the client from the hub and the presence registry and
// closes its send channel.
func (h *Hub) dropClient(client *Client) {
	h.mutex.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client)
	client.closed = true
	count := len(h.clients)
	h.mutex.Unlock()

	close(client.send)
	if h.registry != nil {
		h.registry.Unregister(client)
	}
	h.log.Info("connection closed", "addr", client.addr, "total", count)
}

// deliver fans a payload out to all open connections, skipping the sender
// when one is recorded. Per-recipient failures only evict that recipient.
func (h *Hub) deliver(msg BroadcastMessage) {
	var failed []*Client
	for _, client := range h.clientSnapshot() {
		if msg.Sender != nil && client == msg.Sender {
			continue
		}
		if !h.safeSend(client, msg.Payload) {
			failed = append(failed, client)
		}
	}
	h.evict(failed)
}

// clientSnapshot returns the current connections without holding the lock
// during delivery.
func (h *Hub) clientSnapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

// evict removes connections whose send buffers are stuck, closing their
// channels outside the lock.
func (h *Hub) evict(clients []*Client) {
	if len(clients) == 0 {
		return
	}

	h.mutex.Lock()
	var channels []chan []byte
	var dropped []*Client
	for _, client := range clients {
		if _, exists := h.clients[client]; exists {
			delete(h.clients, client)
			client.closed = true
			channels = append(channels, client.send)
			dropped = append(dropped, client)
			h.log.Warn("connection evicted, send buffer full", "addr", client.addr)
		}
	}
	h.mutex.Unlock()

	for _, ch := range channels {
		close(ch)
	}
	if h.registry != nil {
		for _, client := range dropped {
			h.registry.Unregister(client)
		}
	}
}

func (h *Hub) closeAllClients() {
	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.Unlock()

	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
				h.log.Warn("error closing connection", "addr", client.addr, "error", err)
			}
		}
	}
	h.log.Info("closed all connections", "count", len(clients))
}

// Shutdown stops the run loop, closes every connection, and waits for pump
// goroutines up to the timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("hub shutting down")
	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("hub shutdown complete")
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub shutdown timed out")
		return context.DeadlineExceeded
	}
}
