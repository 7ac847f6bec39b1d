package http

import (
	"net/http"

	"jammy/internal/api"
	"jammy/internal/ws"
)

// NewAPIHandler routes the public REST API and the chat websocket.
func NewAPIHandler(apiHandlers *api.API, chat *ws.Server) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/auth/register", apiHandlers.RegisterHandler)
	mux.HandleFunc("POST /api/auth/login", apiHandlers.LoginHandler)
	mux.HandleFunc("POST /api/auth/logoff", apiHandlers.LogoffHandler)
	mux.HandleFunc("GET /api/messages", apiHandlers.MessagesHandler)
	mux.HandleFunc("GET /api/rooms", apiHandlers.RoomsHandler)
	mux.HandleFunc("POST /api/rooms", apiHandlers.RequireAuth(apiHandlers.CreateRoomHandler))
	mux.HandleFunc("POST /api/upload", apiHandlers.RequireAuth(apiHandlers.UploadHandler))
	mux.HandleFunc("GET /uploads/{id}", apiHandlers.FileHandler)
	mux.HandleFunc("GET /api/online", apiHandlers.OnlineHandler)
	mux.HandleFunc("GET /api/health", apiHandlers.HealthHandler)

	// WebSocket endpoint
	mux.HandleFunc("GET /ws", chat.HandleConnections)

	mux.HandleFunc("/", apiHandlers.NotFoundHandler)

	return apiHandlers.CORS(mux)
}

func NewAPIServer(apiHandlers *api.API, chat *ws.Server, addr string) *Server {
	if addr == "" {
		addr = ":8080"
	}
	return newServer("Server", addr, NewAPIHandler(apiHandlers, chat))
}
