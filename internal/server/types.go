// Package server defines the wire vocabulary shared by the relay router,
// presence registry, and chat service.
package server

import (
	"encoding/json"
	"log/slog"
	"strings"
)

// Inbound frame types consumed by the router.
const (
	frameRegister    = "register"
	frameStatusQuery = "get_all_user_statuses"
	bulkSavePrefix   = "save_"
)

// Outbound event types.
const (
	EventUserStatus       = "user_status"
	EventPeerDisconnected = "peer-disconnected"
	EventNewMessage       = "new_message"
	EventMessagesSeen     = "messages_seen"
	EventChatCleared      = "chat_cleared"
	EventAllUserStatuses  = "all_user_statuses"
	EventSaveResult       = "save_result"
)

// Presence states.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Frame is the tagged envelope every inbound transport message carries. The
// payload stays raw so frames can be forwarded verbatim without the server
// understanding every signaling type.
type Frame struct {
	Type    string          `json:"type"`
	To      string          `json:"to,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Event is an outbound notification envelope.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type statusPayload struct {
	User   string `json:"user"`
	Status string `json:"status"`
}

type userPayload struct {
	User string `json:"user"`
}

type registerPayload struct {
	User string `json:"user"`
}

type saveResultPayload struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// encodeEvent marshals an outbound event, logging instead of failing since
// notification marshal errors are not actionable by the triggering caller.
func encodeEvent(log *slog.Logger, typ string, payload any) ([]byte, bool) {
	data, err := json.Marshal(Event{Type: typ, Payload: payload})
	if err != nil {
		log.Error("failed to encode event", "type", typ, "error", err)
		return nil, false
	}
	return data, true
}

// BroadcastMessage is a payload queued for fan-out, with the originating
// client recorded so it can be excluded from delivery. A nil Sender means
// deliver to every open connection.
type BroadcastMessage struct {
	Sender  *Client
	Payload []byte
}

// isExpectedCloseError reports whether an error is routine connection
// teardown noise rather than something worth logging loudly.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
