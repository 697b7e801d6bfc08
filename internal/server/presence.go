// Package server tracks which chat identities currently hold live
// connections and drives online/offline transitions with a reconnect grace
// window via the Registry type.
package server

import (
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"
)

// Notifier delivers an encoded event to every open connection. Satisfied by
// the Hub; tests substitute a recorder.
type Notifier interface {
	BroadcastAll(payload []byte)
}

// Registry maps user identities to their sets of live connections. A user is
// online while at least one connection is registered; the last connection
// closing only declares the user offline after the grace period passes with
// no reconnect.
type Registry struct {
	mu     sync.Mutex
	byUser map[string]map[*Client]struct{}
	byConn map[*Client]string
	grace  time.Duration
	notify Notifier
	log    *slog.Logger
}

// NewRegistry creates a Registry that reports presence transitions through
// notify.
func NewRegistry(notify Notifier, grace time.Duration, log *slog.Logger) *Registry {
	return &Registry{
		byUser: make(map[string]map[*Client]struct{}),
		byConn: make(map[*Client]string),
		grace:  grace,
		notify: notify,
		log:    log,
	}
}

// Register adds a connection to the user's set, creating the set if absent.
// Adding the same connection twice is a no-op. Returns true when this was
// the user's first live connection, in which case an online status event has
// been broadcast.
func (r *Registry) Register(c *Client, user string) bool {
	r.mu.Lock()
	if prev, registered := r.byConn[c]; registered {
		if prev == user {
			r.mu.Unlock()
			return false
		}
		// A connection re-registering as someone else leaves the old
		// identity first, with the usual grace handling.
		r.removeLocked(c, prev)
	}

	set, exists := r.byUser[user]
	if !exists {
		set = make(map[*Client]struct{})
		r.byUser[user] = set
	}
	set[c] = struct{}{}
	r.byConn[c] = user
	first := !exists
	connections := len(set)
	r.mu.Unlock()

	r.log.Info("connection registered", "user", user, "connections", connections)
	if first {
		r.broadcastStatus(user, StatusOnline)
	}
	return first
}

// Unregister removes the connection from its user's set. Connections that
// never registered are ignored. When the last connection for a user goes
// away, the offline announcement is deferred by the grace period and
// suppressed entirely if the user reconnects in the meantime.
func (r *Registry) Unregister(c *Client) {
	r.mu.Lock()
	user, registered := r.byConn[c]
	if !registered {
		r.mu.Unlock()
		return
	}
	r.removeLocked(c, user)
	r.mu.Unlock()
}

// removeLocked detaches c from user and, if that emptied the set, schedules
// the delayed offline check. Caller holds r.mu.
func (r *Registry) removeLocked(c *Client, user string) {
	delete(r.byConn, c)
	set := r.byUser[user]
	if set == nil {
		return
	}
	delete(set, c)
	if len(set) > 0 {
		r.log.Info("connection unregistered", "user", user, "connections", len(set))
		return
	}
	delete(r.byUser, user)
	r.log.Info("last connection closed", "user", user, "grace", r.grace)

	// The timer does not capture today's answer; it re-checks the registry
	// when it fires, so a reconnect inside the window wins without any timer
	// bookkeeping.
	time.AfterFunc(r.grace, func() {
		if r.StatusOf(user) == StatusOnline {
			return
		}
		r.log.Info("user offline after grace period", "user", user)
		r.broadcastStatus(user, StatusOffline)
		if payload, ok := encodeEvent(r.log, EventPeerDisconnected, userPayload{User: user}); ok {
			r.notify.BroadcastAll(payload)
		}
	})
}

// StatusOf reports online while the user has at least one live connection.
func (r *Registry) StatusOf(user string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.byUser[user]) > 0 {
		return StatusOnline
	}
	return StatusOffline
}

// ConnectionsOf returns a snapshot of the user's live connections, safe to
// iterate while registrations churn underneath.
func (r *Registry) ConnectionsOf(user string) []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo.Keys(r.byUser[user])
}

// Snapshot reports the status of every identity in users plus any other
// identity currently holding a connection.
func (r *Registry) Snapshot(users []string) map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	statuses := lo.SliceToMap(users, func(u string) (string, string) {
		return u, StatusOffline
	})
	for u := range r.byUser {
		statuses[u] = StatusOnline
	}
	return statuses
}

func (r *Registry) broadcastStatus(user, status string) {
	if payload, ok := encodeEvent(r.log, EventUserStatus, statusPayload{User: user, Status: status}); ok {
		r.notify.BroadcastAll(payload)
	}
}
