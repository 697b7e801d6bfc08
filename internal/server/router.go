// Package server classifies inbound transport frames and routes each one to
// exactly one destination: the presence registry, the source connection, a
// targeted identity, or the broadcast path.
package server

import (
	"encoding/json"
	"log/slog"
	"strings"

	"duochat/internal/store"
)

// Call-signaling frame types relayed point to point. Anything not listed
// here (and not matching a signaling prefix) falls through to broadcast, so
// new client-side vocabulary needs no server change.
var signalingTypes = map[string]struct{}{
	"call-offer":    {},
	"call-answer":   {},
	"call-end":      {},
	"call-declined": {},
	"call-busy":     {},
	"peer-alert":    {},
}

var signalingPrefixes = []string{"ice-", "voice-", "video-"}

func isSignalingType(typ string) bool {
	if _, ok := signalingTypes[typ]; ok {
		return true
	}
	for _, prefix := range signalingPrefixes {
		if strings.HasPrefix(typ, prefix) {
			return true
		}
	}
	return false
}

// Router decides a single routing action for every inbound frame.
type Router struct {
	hub      *Hub
	registry *Registry
	store    *store.Store
	users    []string
	log      *slog.Logger
}

// NewRouter builds a Router over the hub, registry, and store. users is the
// configured identity pair, consulted for status snapshots.
func NewRouter(hub *Hub, registry *Registry, st *store.Store, users []string, log *slog.Logger) *Router {
	return &Router{hub: hub, registry: registry, store: st, users: users, log: log}
}

// Route classifies raw and performs its single routing action. Frames from
// one connection arrive on that connection's read goroutine, so their order
// is preserved end to end. Malformed frames are dropped; the connection
// stays open.
func (rt *Router) Route(src *Client, raw []byte) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		rt.log.Warn("dropping malformed frame", "addr", src.addr, "error", err)
		return
	}

	switch {
	case frame.Type == frameRegister:
		rt.handleRegister(src, frame)
	case frame.Type == frameStatusQuery:
		rt.handleStatusQuery(src)
	case strings.HasPrefix(frame.Type, bulkSavePrefix):
		rt.handleBulkSave(src, frame)
	case frame.To != "" && isSignalingType(frame.Type):
		rt.forwardToUser(frame.To, raw)
	default:
		rt.hub.BroadcastExcept(src, raw)
	}
}

// handleRegister attaches the source connection to its claimed identity and
// answers with an immediate status snapshot: the connection's own state plus
// the current state of every other configured identity. The online
// broadcast, when this is the identity's first connection, happens inside
// the registry.
func (rt *Router) handleRegister(src *Client, frame Frame) {
	var reg registerPayload
	if err := json.Unmarshal(frame.Payload, &reg); err != nil || reg.User == "" {
		rt.log.Warn("dropping register frame without user", "addr", src.addr)
		return
	}

	rt.registry.Register(src, reg.User)

	rt.sendStatus(src, reg.User, StatusOnline)
	for _, user := range rt.users {
		if user != reg.User {
			rt.sendStatus(src, user, rt.registry.StatusOf(user))
		}
	}
}

func (rt *Router) sendStatus(dst *Client, user, status string) {
	if payload, ok := encodeEvent(rt.log, EventUserStatus, statusPayload{User: user, Status: status}); ok {
		rt.hub.safeSend(dst, payload)
	}
}

// handleStatusQuery replies to the source connection only.
func (rt *Router) handleStatusQuery(src *Client) {
	if payload, ok := encodeEvent(rt.log, EventAllUserStatuses, rt.registry.Snapshot(rt.users)); ok {
		rt.hub.safeSend(src, payload)
	}
}

// handleBulkSave persists the frame payload under the name embedded in the
// frame type ("save_contacts" stores blob "contacts") and reports the
// outcome to the source connection only.
func (rt *Router) handleBulkSave(src *Client, frame Frame) {
	name := strings.TrimPrefix(frame.Type, bulkSavePrefix)
	result := saveResultPayload{Name: name, OK: true}
	if name == "" {
		result.OK = false
		result.Error = "missing save target name"
	} else if err := rt.store.PutBlob(name, frame.Payload); err != nil {
		rt.log.Error("bulk save failed", "name", name, "error", err)
		result.OK = false
		result.Error = "failed to save " + name
	}
	if payload, ok := encodeEvent(rt.log, EventSaveResult, result); ok {
		rt.hub.safeSend(src, payload)
	}
}

// forwardToUser relays the raw frame verbatim to every live connection of
// the target identity. An offline target is a silent drop; the caller times
// out client-side. A failed send to one connection never blocks the rest.
func (rt *Router) forwardToUser(target string, raw []byte) {
	conns := rt.registry.ConnectionsOf(target)
	if len(conns) == 0 {
		rt.log.Debug("dropping frame for offline user", "user", target)
		return
	}
	for _, conn := range conns {
		if !rt.hub.safeSend(conn, raw) {
			rt.log.Warn("failed to forward frame", "user", target, "addr", conn.addr)
		}
	}
}
