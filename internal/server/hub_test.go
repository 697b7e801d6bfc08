package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func Test_BroadcastAll_Reaches_Every_Connection(t *testing.T) {
	req := require.New(t)
	f := newRelayFixture(t)

	c1 := f.connect(t, "")
	c2 := f.connect(t, "")
	c3 := f.connect(t, "")

	payload := []byte(`{"type":"chat_cleared"}`)
	f.hub.BroadcastAll(payload)

	req.Equal(string(payload), string(recvFrame(t, c1)))
	req.Equal(string(payload), string(recvFrame(t, c2)))
	req.Equal(string(payload), string(recvFrame(t, c3)))
}

func Test_BroadcastExcept_Skips_The_Sender(t *testing.T) {
	req := require.New(t)
	f := newRelayFixture(t)

	sender := f.connect(t, "")
	other := f.connect(t, "")

	payload := []byte(`{"type":"typing"}`)
	f.hub.BroadcastExcept(sender, payload)

	req.Equal(string(payload), string(recvFrame(t, other)))
	expectNoFrame(t, sender)
}

func Test_Stuck_Connection_Is_Evicted_Without_Blocking_Others(t *testing.T) {
	req := require.New(t)
	f := newRelayFixture(t)

	stuck := f.connect(t, "")
	healthy := f.connect(t, "")

	// Jam the stuck client's buffer so the next delivery fails.
	for i := 0; i < sendQueueSize; i++ {
		stuck.send <- []byte("x")
	}

	payload := []byte(`{"type":"typing"}`)
	f.hub.BroadcastAll(payload)

	req.Equal(string(payload), string(recvFrame(t, healthy)))

	req.Eventually(func() bool {
		f.hub.mutex.RLock()
		defer f.hub.mutex.RUnlock()
		return !f.hub.clients[stuck]
	}, time.Second, 5*time.Millisecond, "the stuck client must be evicted")
}

func Test_Unregister_Removes_From_Hub_And_Presence(t *testing.T) {
	req := require.New(t)
	f := newRelayFixture(t)

	client := f.connect(t, "alpha")
	drainAll(client)
	req.Equal(StatusOnline, f.registry.StatusOf("alpha"))

	f.hub.Unregister(client)

	req.Eventually(func() bool {
		return f.registry.StatusOf("alpha") == StatusOffline
	}, time.Second, 5*time.Millisecond)
}

func Test_Shutdown_Completes_And_Stops_Delivery(t *testing.T) {
	req := require.New(t)
	logger := discardLogger()

	hub := NewHub(logger)
	go hub.Run()

	client := NewClient(nil, hub, "test:shutdown", NewConfig())
	hub.Register(client)

	req.NoError(hub.Shutdown(time.Second))

	// After shutdown the hub must drop work instead of blocking forever.
	done := make(chan struct{})
	go func() {
		hub.BroadcastAll([]byte("late"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast after shutdown blocked")
	}
}
