// Package testhelpers provides shared utilities for exercising the duochat
// server over real WebSocket connections in integration tests.
package testhelpers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// Event mirrors the server's outbound notification envelope.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// WSClient wraps a WebSocket connection for tests. The server batches queued
// payloads into one frame separated by newlines, so reads are split and
// buffered here.
type WSClient struct {
	conn    *websocket.Conn
	pending [][]byte
}

// Dial connects to the server's WebSocket endpoint.
func Dial(t *testing.T, url string) *WSClient {
	t.Helper()
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(url, nil)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("failed to dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &WSClient{conn: conn}
}

// Register sends a registration frame claiming the given identity.
func (c *WSClient) Register(t *testing.T, user string) {
	t.Helper()
	c.SendJSON(t, map[string]any{"type": "register", "payload": map[string]string{"user": user}})
}

// SendJSON marshals and sends one frame.
func (c *WSClient) SendJSON(t *testing.T, v any) {
	t.Helper()
	if err := c.conn.WriteJSON(v); err != nil {
		t.Fatalf("failed to send frame: %v", err)
	}
}

// SendRaw sends raw bytes as a single text frame.
func (c *WSClient) SendRaw(t *testing.T, raw []byte) {
	t.Helper()
	if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("failed to send raw frame: %v", err)
	}
}

// NextFrame returns the next payload, honoring the deadline. The second
// return is false on timeout.
func (c *WSClient) NextFrame(t *testing.T, timeout time.Duration) ([]byte, bool) {
	t.Helper()
	if len(c.pending) > 0 {
		next := c.pending[0]
		c.pending = c.pending[1:]
		return next, true
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("failed to set read deadline: %v", err)
	}
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, false
	}
	parts := bytes.Split(data, []byte{'\n'})
	c.pending = append(c.pending, parts[1:]...)
	return parts[0], true
}

// WaitType reads frames until one decodes to the given event type, failing
// the test when the deadline passes first. Returns the decoded event and the
// raw frame.
func (c *WSClient) WaitType(t *testing.T, typ string, timeout time.Duration) (Event, []byte) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			t.Fatalf("timed out waiting for event %q", typ)
		}
		raw, ok := c.NextFrame(t, remaining)
		if !ok {
			t.Fatalf("connection yielded no %q event before the deadline", typ)
		}
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			continue
		}
		if ev.Type == typ {
			return ev, raw
		}
	}
}

// ExpectNoType asserts that no event of the given type arrives within the
// window. Other events are tolerated.
func (c *WSClient) ExpectNoType(t *testing.T, typ string, window time.Duration) {
	t.Helper()
	deadline := time.Now().Add(window)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		raw, ok := c.NextFrame(t, remaining)
		if !ok {
			return
		}
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			continue
		}
		if ev.Type == typ {
			t.Fatalf("expected no %q event, got %s", typ, raw)
		}
	}
}

// Close shuts the connection down with a normal closure handshake.
func (c *WSClient) Close() {
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = c.conn.Close()
}

// AssertStatusCode fails the test when the response status differs from
// expected.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status code %d, got %d", expected, resp.StatusCode)
	}
}
