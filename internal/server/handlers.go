// Package server exposes the HTTP surface: the WebSocket upgrade endpoint,
// the message REST API, and a health check.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
)

// Handlers bundles the HTTP endpoints with their collaborators.
type Handlers struct {
	cfg      *Config
	hub      *Hub
	chat     *ChatService
	upgrader websocket.Upgrader
	validate *validator.Validate
	log      *slog.Logger
}

// NewHandlers builds the HTTP handler set.
func NewHandlers(cfg *Config, hub *Hub, chat *ChatService, log *slog.Logger) *Handlers {
	return &Handlers{
		cfg:  cfg,
		hub:  hub,
		chat: chat,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     newOriginChecker(cfg.Origins(), log),
		},
		validate: validator.New(),
		log:      log,
	}
}

// WebSocket upgrades the request and hands the connection to the hub.
func (h *Handlers) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}
	h.hub.Register(NewClient(conn, h.hub, r.RemoteAddr, h.cfg))
}

// Health reports that the server is up.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "duochat server is running!")
}

// ListMessages returns the merged, time-ordered message log.
func (h *Handlers) ListMessages(w http.ResponseWriter, _ *http.Request) {
	messages, err := h.chat.List()
	if err != nil {
		h.log.Error("listing messages failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to fetch messages")
		return
	}
	h.writeJSON(w, http.StatusOK, messages)
}

// CreateMessage persists a new message and answers with the stored record.
func (h *Handlers) CreateMessage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxMessageSize)

	var in CreateMessageInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(&in); err != nil {
		h.writeError(w, http.StatusBadRequest, "sender and content are required")
		return
	}

	msg, err := h.chat.Create(in)
	if err != nil {
		if errors.Is(err, ErrUnknownUser) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Error("creating message failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to save message")
		return
	}
	h.writeJSON(w, http.StatusCreated, msg)
}

// UnreadCount answers {"count": n} for the user named in the query string.
func (h *Handlers) UnreadCount(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		h.writeError(w, http.StatusBadRequest, "user query parameter is required")
		return
	}

	count, err := h.chat.UnreadCount(user)
	if err != nil {
		if errors.Is(err, ErrUnknownUser) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Error("unread count failed", "user", user, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to fetch unread count")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

// MarkSeen marks the viewer's unseen messages and returns the updated set.
func (h *Handlers) MarkSeen(w http.ResponseWriter, r *http.Request) {
	var body struct {
		User string `json:"user"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.User == "" {
		h.writeError(w, http.StatusBadRequest, "user is required in the request body")
		return
	}

	updated, err := h.chat.MarkSeen(body.User)
	if err != nil {
		if errors.Is(err, ErrUnknownUser) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Error("mark-as-seen failed", "user", body.User, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to update messages")
		return
	}
	h.writeJSON(w, http.StatusOK, updated)
}

// ClearMessages wipes the whole log.
func (h *Handlers) ClearMessages(w http.ResponseWriter, _ *http.Request) {
	if err := h.chat.Clear(); err != nil {
		h.log.Error("clearing messages failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to clear messages")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Warn("error writing response", "error", err)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}
