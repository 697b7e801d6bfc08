// Package server wires the HTTP handlers into a ServeMux.
package server

import "net/http"

// Routes configures a ServeMux with the health check, the WebSocket
// endpoint, and the message API.
func (h *Handlers) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.Health)
	mux.HandleFunc("GET /ws", h.WebSocket)
	mux.HandleFunc("GET /api/messages", h.ListMessages)
	mux.HandleFunc("POST /api/messages", h.CreateMessage)
	mux.HandleFunc("GET /api/messages/unread-count", h.UnreadCount)
	mux.HandleFunc("POST /api/messages/mark-as-seen", h.MarkSeen)
	mux.HandleFunc("DELETE /api/messages", h.ClearMessages)
	return mux
}
