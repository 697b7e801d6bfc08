// Package server manages individual transport connections, handling the
// read/write pumps, rate limiting, and lifecycle control for each session.
package server

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pongWait      = 60 * time.Second
	pingInterval  = 54 * time.Second
	writeWait     = 10 * time.Second
	sendQueueSize = 256
)

// Client is one live transport session. Whether it belongs to a chat
// identity is the presence registry's business, not the client's; an
// unregistered connection still participates in broadcasts.
type Client struct {
	conn    *websocket.Conn
	send    chan []byte
	hub     *Hub
	addr    string
	closed  bool
	limiter *rateLimiter
	log     *slog.Logger
}

// NewClient wraps a WebSocket connection for the hub. conn may be nil in
// tests, in which case the pumps never start.
func NewClient(conn *websocket.Conn, hub *Hub, addr string, cfg *Config) *Client {
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	return &Client{
		conn:    conn,
		send:    make(chan []byte, sendQueueSize),
		hub:     hub,
		addr:    addr,
		limiter: newRateLimiter(cfg.RateLimitBurst, cfg.RefillInterval()),
		log:     hub.log,
	}
}

// logReadError classifies a read failure; everything ends the read loop, the
// distinction is only how loudly it gets logged.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("frame exceeded read limit", "addr", c.addr)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Info("client disconnected", "addr", c.addr)
	case errors.Is(err, io.EOF), isExpectedCloseError(err):
		c.log.Info("connection closed", "addr", c.addr)
	default:
		c.log.Warn("read error", "addr", c.addr, "error", err)
	}
}

// readPump reads inbound frames and hands each to the router on this
// goroutine, preserving the per-connection frame order. It unregisters the
// client on exit.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Warn("error closing connection", "addr", c.addr, "error", err)
		}
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if !c.limiter.allow() {
			c.log.Warn("rate limit exceeded, discarding frame", "addr", c.addr)
			continue
		}

		c.hub.route(c, raw)
	}
}

// writePump drains the send queue to the socket and keeps the connection
// alive with pings. In-flight payloads are discarded once the channel
// closes, never retried.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Warn("error closing connection", "addr", c.addr, "error", err)
		}
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				c.writeClose()
				return
			}
			if !c.writeFrame(payload) {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				if !isExpectedCloseError(err) {
					c.log.Warn("ping failed", "addr", c.addr, "error", err)
				}
				return
			}
		}
	}
}

func (c *Client) writeClose() {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
		c.log.Warn("error writing close message", "addr", c.addr, "error", err)
	}
}

// writeFrame writes one payload plus anything already queued behind it.
func (c *Client) writeFrame(payload []byte) bool {
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return false
	}
	if _, err := w.Write(payload); err != nil {
		c.log.Warn("write failed", "addr", c.addr, "error", err)
		return false
	}

	queued := len(c.send)
	for i := 0; i < queued; i++ {
		if _, err := w.Write([]byte{'\n'}); err != nil {
			return false
		}
		if _, err := w.Write(<-c.send); err != nil {
			return false
		}
	}

	if err := w.Close(); err != nil {
		c.log.Warn("error closing frame writer", "addr", c.addr, "error", err)
		return false
	}
	return true
}
