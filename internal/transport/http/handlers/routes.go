package handlers

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Register mounts the public and chat routes on mux. Chat routes are
// wrapped with auth.
func Register(mux *http.ServeMux, chat *ChatHandler, auth func(http.Handler) http.Handler) {
	// Public
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status": "ok"}`))
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	// Protected - Chats
	mux.Handle("POST /chat/start", auth(http.HandlerFunc(chat.Start)))
	mux.Handle("GET /chat/list", auth(http.HandlerFunc(chat.List)))
	mux.Handle("GET /chat/all-unread-counts", auth(http.HandlerFunc(chat.UnreadCounts)))
	mux.Handle("GET /chat/profile", auth(http.HandlerFunc(chat.Profile)))
	mux.Handle("POST /chat/{id}/message", auth(http.HandlerFunc(chat.SendMessage)))
	mux.Handle("GET /chat/{id}/messages", auth(http.HandlerFunc(chat.ListMessages)))
	mux.Handle("PUT /chat/{id}/read", auth(http.HandlerFunc(chat.MarkRead)))
}
