package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"duochat/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordedEvent is a decoded outbound notification captured by a recorder.
type recordedEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// eventRecorder satisfies Notifier and keeps every broadcast for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *eventRecorder) BroadcastAll(payload []byte) {
	var ev recordedEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		panic("recorder received non-event payload: " + string(payload))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) ofType(typ string) []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []recordedEvent
	for _, ev := range r.events {
		if ev.Type == typ {
			matched = append(matched, ev)
		}
	}
	return matched
}

// relayFixture assembles a running hub with registry, router, and in-memory
// store for transport-level tests.
type relayFixture struct {
	hub      *Hub
	registry *Registry
	router   *Router
	store    *store.Store
}

func newRelayFixture(t *testing.T) *relayFixture {
	t.Helper()
	logger := discardLogger()

	st, err := store.OpenInMemory(logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	hub := NewHub(logger)
	registry := NewRegistry(hub, 25*time.Millisecond, logger)
	hub.AttachRegistry(registry)
	router := NewRouter(hub, registry, st, []string{"alpha", "beta"}, logger)
	hub.AttachRouter(router)

	go hub.Run()
	t.Cleanup(func() { _ = hub.Shutdown(time.Second) })

	return &relayFixture{hub: hub, registry: registry, router: router, store: st}
}

// connect opens a connection-less client and waits until the hub tracks it.
// When user is non-empty the client registers as that identity and all
// pending frames (status replies, online broadcasts) are drained afterwards.
func (f *relayFixture) connect(t *testing.T, user string) *Client {
	t.Helper()
	client := NewClient(nil, f.hub, "test:"+user, NewConfig())
	f.hub.Register(client)

	require.Eventually(t, func() bool {
		f.hub.mutex.RLock()
		defer f.hub.mutex.RUnlock()
		return f.hub.clients[client]
	}, time.Second, 2*time.Millisecond, "hub never tracked the client")

	if user != "" {
		f.router.Route(client, []byte(`{"type":"register","payload":{"user":"`+user+`"}}`))
	}
	return client
}

// drainAll empties the pending frames of every given client so assertions
// start from a clean slate.
func drainAll(clients ...*Client) {
	// Give queued broadcasts a moment to land before draining.
	time.Sleep(20 * time.Millisecond)
	for _, c := range clients {
		drained := false
		for !drained {
			select {
			case <-c.send:
			default:
				drained = true
			}
		}
	}
}

func recvFrame(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case payload := <-c.send:
		return payload
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timed out waiting for a frame")
		return nil
	}
}

func expectNoFrame(t *testing.T, c *Client) {
	t.Helper()
	select {
	case payload := <-c.send:
		t.Fatalf("expected no frame, got %s", payload)
	case <-time.After(60 * time.Millisecond):
	}
}

func decodeEvent(t *testing.T, payload []byte) recordedEvent {
	t.Helper()
	var ev recordedEvent
	require.NoError(t, json.Unmarshal(payload, &ev))
	return ev
}
