package api

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"jammy/internal/auth"
	"jammy/internal/models"
)

type userDisconnector interface {
	DisconnectUser(username string) (int, error)
}

type AdminHandler struct {
	authService *auth.AuthService
	hub         userDisconnector
}

func NewAdminHandler(authService *auth.AuthService, hub userDisconnector) *AdminHandler {
	return &AdminHandler{authService: authService, hub: hub}
}

type AddUserRequest struct {
	Username string      `json:"username"`
	Role     models.Role `json:"role,omitempty"`
}

type AddUserResponse struct {
	Success  bool        `json:"success"`
	Message  string      `json:"message,omitempty"`
	Username string      `json:"username,omitempty"`
	Role     models.Role `json:"role,omitempty"`
	Password string      `json:"password,omitempty"`
}

// AddUserHandler creates an account with a generated password that is
// returned once in the response.
func (h *AdminHandler) AddUserHandler(w http.ResponseWriter, r *http.Request) {
	var req AddUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Username == "" {
		http.Error(w, "Username is required", http.StatusBadRequest)
		return
	}

	password := rand.Text()
	user, err := h.authService.AddUser(req.Username, password, req.Role)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, auth.ErrUserExists) {
			status = http.StatusConflict
		}
		writeJSON(w, status, AddUserResponse{
			Success: false,
			Message: fmt.Sprintf("Failed to create user: %v", err),
		})
		return
	}

	slog.Info("user added", "user_id", user.ID, "username", user.Username, "role", user.Role)
	writeJSON(w, http.StatusOK, AddUserResponse{
		Success:  true,
		Username: user.Username,
		Role:     user.Role,
		Password: password,
	})
}

type SetRoleRequest struct {
	Role models.Role `json:"role"`
}

// SetRoleHandler changes a user's role and closes their live connections so
// the sessions reconnect with the new role.
func (h *AdminHandler) SetRoleHandler(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")

	var req SetRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	user, err := h.authService.SetRole(username, req.Role)
	switch {
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, "User not found")
		return
	case errors.Is(err, auth.ErrInvalidRole):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to change role: %v", err))
		return
	}

	if _, err := h.hub.DisconnectUser(user.Username); err != nil {
		slog.Warn("failed to disconnect user after role change", "username", user.Username, "error", err)
	}

	slog.Info("user role changed", "user_id", user.ID, "username", user.Username, "role", user.Role)
	writeJSON(w, http.StatusOK, AddUserResponse{
		Success:  true,
		Username: user.Username,
		Role:     user.Role,
	})
}

// DisconnectUserHandler closes every live connection of a user.
func (h *AdminHandler) DisconnectUserHandler(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	if username == "" {
		http.Error(w, "Username is required", http.StatusBadRequest)
		return
	}

	n, err := h.hub.DisconnectUser(username)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Sprintf("Failed to disconnect user: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, models.APIResponse{
		Success: true,
		Message: fmt.Sprintf("Disconnected %d connection(s) of %s", n, username),
	})
}
