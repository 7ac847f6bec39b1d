package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"jammy/internal/auth"
	"jammy/internal/content"
	"jammy/internal/filestore"
	"jammy/internal/models"
	"jammy/internal/storage"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 100
)

// Store is the persistence the REST API reads and writes.
type Store interface {
	ListMessages(room string, page, limit int) ([]models.Message, error)
	CreateRoom(room models.Room) error
	ListRooms() ([]models.Room, error)
	UpsertFileMetadata(meta storage.FileMetadata) error
	GetFileMetadata(id string) (storage.FileMetadata, error)
}

type presenceLister interface {
	OnlineUsernames() ([]string, error)
}

type Config struct {
	// BaseURL is the public origin the server is reachable at, without a
	// trailing slash. Upload URLs are built from it.
	BaseURL       string
	MaxUploadSize int64
	// AllowOrigin reports whether a browser origin may call the API.
	AllowOrigin func(origin string) bool
}

type API struct {
	auth  *auth.AuthService
	store Store
	files filestore.FileStore
	hub   presenceLister
	cfg   Config
	now   func() time.Time
}

func New(authService *auth.AuthService, store Store, files filestore.FileStore, hub presenceLister, cfg Config) *API {
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.AllowOrigin == nil {
		cfg.AllowOrigin = func(string) bool { return false }
	}
	return &API{
		auth:  authService,
		store: store,
		files: files,
		hub:   hub,
		cfg:   cfg,
		now:   time.Now,
	}
}

type RegisterResponse struct {
	models.APIResponse
	Username string `json:"username,omitempty"`
}

type CreateRoomRequest struct {
	Name string `json:"name"`
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, models.APIResponse{Success: false, Message: message})
}

func (a *API) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req auth.RegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	user, err := a.auth.Register(req)
	switch {
	case errors.Is(err, auth.ErrUserExists):
		writeError(w, http.StatusConflict, "User already exists")
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	slog.Info("user registered", "user_id", user.ID, "username", user.Username)
	writeJSON(w, http.StatusCreated, RegisterResponse{
		APIResponse: models.APIResponse{Success: true, Message: "User registered successfully"},
		Username:    user.Username,
	})
}

func (a *API) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest

	// Support both JSON and form posts.
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "Failed to parse form")
			return
		}
		req.Username = r.FormValue("username")
		req.Password = r.FormValue("password")
	}

	resp := a.auth.Login(req)
	if !resp.Success {
		writeJSON(w, http.StatusUnauthorized, resp)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    resp.Token,
		HttpOnly: true,
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Unix(resp.TokenExpiry, 0),
	})
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) LogoffHandler(w http.ResponseWriter, r *http.Request) {
	if token := a.token(r); token != "" {
		_ = a.auth.Logoff(token)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    "",
		HttpOnly: true,
		Path:     "/",
		MaxAge:   -1,
	})
	writeJSON(w, http.StatusOK, models.APIResponse{Success: true})
}

// MessagesHandler returns one page of history for ?room=, defaulting to the
// global stream. Page 1 is the newest page.
func (a *API) MessagesHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := intParam(q.Get("page"), 1)
	if err != nil || page < 1 {
		writeError(w, http.StatusBadRequest, "Invalid page")
		return
	}
	limit, err := intParam(q.Get("limit"), defaultHistoryLimit)
	if err != nil || limit < 1 {
		writeError(w, http.StatusBadRequest, "Invalid limit")
		return
	}
	limit = min(limit, maxHistoryLimit)

	messages, err := a.store.ListMessages(strings.TrimSpace(q.Get("room")), page, limit)
	if err != nil {
		slog.Error("failed to list messages", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch messages")
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func (a *API) RoomsHandler(w http.ResponseWriter, r *http.Request) {
	rooms, err := a.store.ListRooms()
	if err != nil {
		slog.Error("failed to list rooms", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch rooms")
		return
	}
	writeJSON(w, http.StatusOK, rooms)
}

func (a *API) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())

	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	name, err := content.NormalizeRoomName(req.Name)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	room := models.Room{
		Name:      name,
		CreatedBy: identity.Username,
		CreatedAt: a.now().UTC(),
	}
	if err := a.store.CreateRoom(room); err != nil {
		if errors.Is(err, storage.ErrRoomExists) {
			writeError(w, http.StatusConflict, "Room already exists")
			return
		}
		slog.Error("failed to create room", "room", name, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to create room")
		return
	}

	slog.Info("room created", "room", name, "user_id", identity.UserID)
	writeJSON(w, http.StatusCreated, room)
}

func (a *API) OnlineHandler(w http.ResponseWriter, r *http.Request) {
	names, err := a.hub.OnlineUsernames()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Chat is unavailable")
		return
	}
	writeJSON(w, http.StatusOK, names)
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "OK", Timestamp: a.now().UTC()})
}

func (a *API) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "Route not found")
}

// token reads the caller's token from the Authorization header, the token
// query parameter or the login cookie.
func (a *API) token(r *http.Request) string {
	if token := auth.BearerToken(r); token != "" {
		return token
	}
	if c, err := r.Cookie("token"); err == nil {
		return c.Value
	}
	return ""
}

type identityKey struct{}

// IdentityFrom returns the identity RequireAuth stored in ctx.
func IdentityFrom(ctx context.Context) (models.UserIdentity, bool) {
	identity, ok := ctx.Value(identityKey{}).(models.UserIdentity)
	return identity, ok
}

func (a *API) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := a.token(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		identity, err := a.auth.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, identity)))
	}
}

// CORS answers preflight requests and marks responses for allowed origins.
func (a *API) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && a.cfg.AllowOrigin(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			h.Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
