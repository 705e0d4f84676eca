package server

import (
	"net/http"

	"github.com/bz888/kubechat/internal/api/server/handlers"
)

func registerRoutes(mux *http.ServeMux, handler *handlers.Handler) {
	mux.HandleFunc("POST /login", handler.LoginHandler)
	mux.HandleFunc("POST /chat", handler.RequireAuth(handler.ChatHandler))
	mux.HandleFunc("POST /confirm", handler.RequireAuth(handler.ConfirmHandler))
	mux.HandleFunc("POST /regenerate", handler.RequireAuth(handler.RegenerateHandler))
	mux.HandleFunc("GET /status", statusHandler)
}

func statusHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"server_working":true}`))
}
