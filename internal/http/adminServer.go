package http

import (
	"net/http"

	"jammy/internal/api"
)

// NewAdminServer serves account management. addr should stay on loopback:
// the admin routes are unauthenticated.
func NewAdminServer(adminHandler *api.AdminHandler, addr string) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /admin/users", adminHandler.AddUserHandler)
	mux.HandleFunc("POST /admin/users/{username}/role", adminHandler.SetRoleHandler)
	mux.HandleFunc("POST /admin/users/{username}/disconnect", adminHandler.DisconnectUserHandler)

	if addr == "" {
		addr = "localhost:8081"
	}
	return newServer("Admin API", addr, mux)
}
