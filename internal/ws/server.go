package ws

import (
	"log"
	"net/http"
	"time"

	"jammy/internal/auth"
	"jammy/internal/models"

	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	maxFrameSize = 64 << 10
)

type tokenVerifier interface {
	Verify(token string) (models.UserIdentity, error)
}

type ServerConfig struct {
	// RequireAuth rejects upgrades without a valid token.
	RequireAuth  bool
	PingInterval time.Duration
	PongTimeout  time.Duration
	AllowOrigin  func(origin string) bool
}

type Server struct {
	hub      *Hub
	verifier tokenVerifier
	cfg      ServerConfig
	upgrader *websocket.Upgrader
}

func NewServer(hub *Hub, verifier tokenVerifier, cfg ServerConfig) *Server {
	return &Server{
		hub:      hub,
		verifier: verifier,
		cfg:      cfg,
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if cfg.AllowOrigin == nil || cfg.AllowOrigin(origin) {
					return true
				}
				log.Printf("Blocked WebSocket connection from disallowed origin: %q", origin)
				return false
			},
		},
	}
}

func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	var bound *models.UserIdentity
	if token := auth.BearerToken(r); token != "" {
		identity, err := s.verifier.Verify(token)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		bound = &identity
	} else if s.cfg.RequireAuth {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("error upgrading to websocket: %v", err)
		return
	}

	c, err := NewConnection(s.hub, newSocket(conn, s.cfg.PongTimeout), bound, s.cfg.PingInterval)
	if err != nil {
		log.Printf("error attaching connection: %v", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	if err := c.Handle(r.Context()); err != nil &&
		!websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		log.Printf("connection %s closed: %v", c.ID(), err)
	}
}

// socket adapts a gorilla connection with read deadlines refreshed by pongs
// and bounded writes.
type socket struct {
	*websocket.Conn
	pongTimeout time.Duration
}

func newSocket(conn *websocket.Conn, pongTimeout time.Duration) *socket {
	s := &socket{Conn: conn, pongTimeout: pongTimeout}
	conn.SetReadLimit(maxFrameSize)
	if pongTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongTimeout))
		})
	}
	return s
}

func (s *socket) ReadJSON(v any) error {
	if err := s.Conn.ReadJSON(v); err != nil {
		return err
	}
	if s.pongTimeout > 0 {
		return s.SetReadDeadline(time.Now().Add(s.pongTimeout))
	}
	return nil
}

func (s *socket) WriteJSON(v any) error {
	if err := s.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.Conn.WriteJSON(v)
}

func (s *socket) Ping() error {
	return s.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}
