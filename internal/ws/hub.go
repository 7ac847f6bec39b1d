package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"jammy/internal/chat"
	"jammy/internal/config"
	"jammy/internal/content"
	"jammy/internal/models"
	"jammy/internal/presence"
	"jammy/internal/rooms"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var ErrHubClosed = errors.New("hub is closed")

const (
	// maxPendingPerConn bounds persisted operations queued behind the one in
	// flight for a single connection.
	maxPendingPerConn = 64
)

type messagePipeline interface {
	ValidateSend(author models.UserIdentity, room string, req models.SendMessagePayload) (models.Message, error)
	Send(msg models.Message, clientMessageID string) (models.Message, bool, error)
	ValidateEdit(req models.EditMessagePayload) (string, error)
	Edit(actor models.UserIdentity, room, id, text string) (models.Message, error)
	Delete(actor models.UserIdentity, room, id string) error
}

type Config struct {
	Mode config.ChatMode
	// Workers is the number of goroutines executing persistence.
	Workers        int
	JobQueueSize   int
	OutboundBuffer int
}

func (c *Config) setDefaults() {
	if c.Mode == "" {
		c.Mode = config.ModeRoom
	}
	if c.Workers <= 0 {
		c.Workers = 16
	}
	if c.JobQueueSize <= 0 {
		c.JobQueueSize = 1024
	}
	if c.OutboundBuffer <= 0 {
		c.OutboundBuffer = 256
	}
}

// Hub owns the presence registry, the room table and all sessions. Every
// mutation runs on the goroutine executing Run, so none of them need locks.
type Hub struct {
	cfg      Config
	registry *presence.Registry
	table    *rooms.Table
	pipeline messagePipeline
	sessions map[models.ConnectionID]*session

	ops  chan func()
	jobs chan job
	done chan struct{}
}

func NewHub(cfg Config, registry *presence.Registry, table *rooms.Table, pipeline messagePipeline) *Hub {
	cfg.setDefaults()
	return &Hub{
		cfg:      cfg,
		registry: registry,
		table:    table,
		pipeline: pipeline,
		sessions: make(map[models.ConnectionID]*session),
		ops:      make(chan func(), 256),
		jobs:     make(chan job, cfg.JobQueueSize),
		done:     make(chan struct{}),
	}
}

// Run processes hub operations until ctx is done. On return every session's
// outbound channel is closed and all persistence workers have finished.
func (h *Hub) Run(ctx context.Context) error {
	var g errgroup.Group
	for range h.cfg.Workers {
		g.Go(func() error {
			h.worker()
			return nil
		})
	}

	for {
		select {
		case op := <-h.ops:
			op()
		case <-ctx.Done():
			for _, s := range h.sessions {
				s.state = stateClosed
				close(s.out)
			}
			clear(h.sessions)
			close(h.done)
			close(h.jobs)
			return g.Wait()
		}
	}
}

// Join attaches a new connection in the connecting state. bound is the
// identity the transport authenticated, or nil.
func (h *Hub) Join(bound *models.UserIdentity) (models.ConnectionID, <-chan models.ServerEvent, error) {
	s := &session{
		id:    models.ConnectionID(uuid.NewString()),
		state: stateConnecting,
		bound: bound,
		out:   make(chan models.ServerEvent, h.cfg.OutboundBuffer),
	}
	if !h.post(func() { h.sessions[s.id] = s }) {
		return "", nil, ErrHubClosed
	}
	return s.id, s.out, nil
}

// Leave tears down the session of conn. Unknown or already closed
// connections are ignored.
func (h *Hub) Leave(conn models.ConnectionID) {
	h.post(func() {
		if s, ok := h.sessions[conn]; ok {
			h.teardown(s)
		}
	})
}

func (h *Hub) Dispatch(conn models.ConnectionID, event models.ClientEvent) {
	h.post(func() {
		if s, ok := h.sessions[conn]; ok {
			h.handle(s, event)
		}
	})
}

// OnlineUsernames returns a snapshot of the presence registry.
func (h *Hub) OnlineUsernames() ([]string, error) {
	var names []string
	err := h.query(func() {
		names = h.registry.OnlineUsernames()
	})
	return names, err
}

// DisconnectUser closes every connection registered under username and
// returns how many were closed.
func (h *Hub) DisconnectUser(username string) (int, error) {
	var n int
	err := h.query(func() {
		for _, conn := range h.registry.ConnectionsByUsername(username) {
			if s, ok := h.sessions[conn]; ok {
				h.teardown(s)
				n++
			}
		}
	})
	return n, err
}

func (h *Hub) post(op func()) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.ops <- op:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) query(op func()) error {
	finished := make(chan struct{})
	if !h.post(func() {
		op()
		close(finished)
	}) {
		return ErrHubClosed
	}
	select {
	case <-finished:
		return nil
	case <-h.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrHubClosed
		}
	}
}

func (h *Hub) handle(s *session, event models.ClientEvent) {
	if s.state == stateConnecting && !h.isHandshake(event.Type) {
		slog.Debug("dropping event before handshake", "conn_id", s.id, "type", event.Type)
		return
	}

	switch event.Type {
	case models.EventUserConnected:
		h.handleHandshake(s, event.Data)
	case models.EventJoinRoom:
		h.handleJoinRoom(s, event.Data)
	case models.EventLeaveRoom:
		h.handleLeaveRoom(s)
	case models.EventTyping:
		h.handleTyping(s)
	case models.EventSendMessage:
		h.handleSendMessage(s, event.Data)
	case models.EventEditMessage:
		h.handleEditMessage(s, event.Data)
	case models.EventDeleteMessage:
		h.handleDeleteMessage(s, event.Data)
	default:
		slog.Debug("dropping unknown event", "conn_id", s.id, "type", event.Type)
	}
}

func (h *Hub) isHandshake(t models.EventType) bool {
	return t == models.EventUserConnected || (t == models.EventJoinRoom && h.cfg.Mode == config.ModeRoom)
}

func (h *Hub) handleHandshake(s *session, data json.RawMessage) {
	if s.state != stateConnecting {
		slog.Debug("dropping repeated handshake", "conn_id", s.id, "state", s.state)
		return
	}
	p, err := decode[models.HandshakePayload](data)
	if err != nil {
		slog.Debug("dropping malformed handshake", "conn_id", s.id, "error", err)
		return
	}

	identity, ok := h.resolveIdentity(s, p.Username, p.UserID)
	if !ok {
		return
	}
	next := stateActive
	if h.cfg.Mode == config.ModeRoom {
		next = stateAuthenticated
	}
	h.register(s, identity, next)
}

func (h *Hub) handleJoinRoom(s *session, data json.RawMessage) {
	if h.cfg.Mode != config.ModeRoom {
		slog.Debug("dropping join_room in global mode", "conn_id", s.id)
		return
	}
	p, err := decode[models.JoinRoomPayload](data)
	if err != nil {
		slog.Debug("dropping malformed join_room", "conn_id", s.id, "error", err)
		return
	}
	room, err := content.NormalizeRoomName(p.Room)
	if err != nil {
		slog.Debug("dropping join_room with invalid room", "conn_id", s.id, "room", p.Room, "error", err)
		return
	}

	if s.state == stateConnecting {
		identity, ok := h.resolveIdentity(s, p.Username, "")
		if !ok {
			return
		}
		if !h.register(s, identity, stateAuthenticated) {
			return
		}
	}

	prev, had := h.table.Join(s.id, room, s.identity.Username)
	if had && prev == room {
		slog.Debug("already in room", "conn_id", s.id, "room", room)
		return
	}
	s.room = room
	s.state = stateInRoom

	announce := models.MembershipPayload{Username: s.identity.Username, ID: s.id}
	if had {
		h.broadcast(Room(prev), models.EventUserLeft, announce)
	}
	h.broadcast(RoomExcept(room, s.id), models.EventUserJoined, announce)
}

func (h *Hub) handleLeaveRoom(s *session) {
	if s.state != stateInRoom {
		slog.Debug("dropping leave_room outside a room", "conn_id", s.id, "state", s.state)
		return
	}
	s.room = ""
	s.state = stateAuthenticated
	if m, ok := h.table.Leave(s.id); ok {
		h.broadcast(Room(m.Room), models.EventUserLeft, models.MembershipPayload{Username: m.Username, ID: s.id})
	}
}

func (h *Hub) handleTyping(s *session) {
	if !s.canChat() {
		slog.Debug("dropping typing", "conn_id", s.id, "state", s.state)
		return
	}
	payload := models.TypingPayload{Username: s.identity.Username, Room: s.room}
	if s.room == "" {
		h.broadcast(AllExcept(s.id), models.EventTyping, payload)
		return
	}
	h.broadcast(RoomExcept(s.room, s.id), models.EventTyping, payload)
}

func (h *Hub) handleSendMessage(s *session, data json.RawMessage) {
	if !s.canChat() {
		slog.Debug("dropping send_message", "conn_id", s.id, "state", s.state)
		return
	}
	p, err := decode[models.SendMessagePayload](data)
	if err != nil {
		h.reject(s.id, &chat.InputError{Reason: "Invalid message format"})
		return
	}
	msg, err := h.pipeline.ValidateSend(s.identity, s.room, p)
	if err != nil {
		h.reject(s.id, err)
		return
	}

	conn := s.id
	clientMessageID := strings.TrimSpace(p.ClientMessageID)
	h.enqueue(s, job{conn: conn, run: func() func() {
		stored, duplicate, err := h.pipeline.Send(msg, clientMessageID)
		return func() {
			switch {
			case err != nil:
				h.fail(conn, "send_message", err, "Failed to send message")
			case duplicate:
				h.broadcast(Only(conn), models.EventReceiveMessage, stored)
			default:
				h.broadcast(scopeFor(stored.Room), models.EventReceiveMessage, stored)
			}
		}
	}})
}

func (h *Hub) handleEditMessage(s *session, data json.RawMessage) {
	if !s.canChat() {
		slog.Debug("dropping edit_message", "conn_id", s.id, "state", s.state)
		return
	}
	p, err := decode[models.EditMessagePayload](data)
	if err != nil {
		h.reject(s.id, &chat.InputError{Reason: "Invalid message format"})
		return
	}
	text, err := h.pipeline.ValidateEdit(p)
	if err != nil {
		h.reject(s.id, err)
		return
	}

	conn, actor, room := s.id, s.identity, s.room
	h.enqueue(s, job{conn: conn, run: func() func() {
		updated, err := h.pipeline.Edit(actor, room, p.ID, text)
		return func() {
			if err != nil {
				h.fail(conn, "edit_message", err, "Failed to edit message")
				return
			}
			h.broadcast(scopeFor(room), models.EventMessageEdited, models.MessageEditedPayload{
				ID:       updated.ID,
				Content:  updated.Content,
				HTML:     updated.HTML,
				EditedAt: updated.EditedAt,
			})
		}
	}})
}

func (h *Hub) handleDeleteMessage(s *session, data json.RawMessage) {
	if !s.canChat() {
		slog.Debug("dropping delete_message", "conn_id", s.id, "state", s.state)
		return
	}
	p, err := decode[models.DeleteMessagePayload](data)
	if err != nil || strings.TrimSpace(p.ID) == "" {
		slog.Debug("dropping malformed delete_message", "conn_id", s.id, "error", err)
		return
	}

	conn, actor, room := s.id, s.identity, s.room
	h.enqueue(s, job{conn: conn, run: func() func() {
		err := h.pipeline.Delete(actor, room, p.ID)
		return func() {
			if err != nil {
				h.fail(conn, "delete_message", err, "Failed to delete message")
				return
			}
			h.broadcast(scopeFor(room), models.EventMessageDeleted, models.MessageDeletedPayload{ID: p.ID})
		}
	}})
}

// resolveIdentity picks the identity a handshake establishes. A token bound
// identity wins over payload fields. Without a userID in room mode the
// connection gets a pseudonym.
func (h *Hub) resolveIdentity(s *session, username, userID string) (models.UserIdentity, bool) {
	if s.bound != nil {
		return *s.bound, true
	}

	name, err := content.NormalizeDisplayName(username)
	if err != nil {
		slog.Debug("dropping handshake", "conn_id", s.id, "reason", err)
		return models.UserIdentity{}, false
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		if h.cfg.Mode != config.ModeRoom {
			slog.Debug("dropping handshake", "conn_id", s.id, "reason", "missing userId")
			return models.UserIdentity{}, false
		}
		userID = uuid.NewString()
	}
	return models.UserIdentity{UserID: userID, Username: name, Role: models.RoleMember}, true
}

// register records s in the presence registry, closes the connection it
// supersedes and announces the new presence list.
func (h *Hub) register(s *session, identity models.UserIdentity, next sessionState) bool {
	old, superseded, err := h.registry.Register(identity, s.id)
	if err != nil {
		slog.Debug("dropping handshake", "conn_id", s.id, "reason", err)
		return false
	}
	s.identity = identity
	s.state = next

	if superseded && old != s.id {
		if prev, ok := h.sessions[old]; ok {
			slog.Info("connection superseded", "conn_id", old, "by", s.id, "user_id", identity.UserID)
			h.teardown(prev)
		}
	}
	slog.Debug("session authenticated", "conn_id", s.id, "user_id", identity.UserID, "username", identity.Username)
	h.broadcastPresence()
	return true
}

// teardown unwinds s exactly once: room membership, presence entry and the
// outbound channel, which makes the connection close its socket.
func (h *Hub) teardown(s *session) {
	if s.state == stateClosed {
		return
	}
	presenceChanged := false
	defer func() {
		if presenceChanged {
			h.broadcastPresence()
		}
	}()

	s.state = stateClosed
	s.queue = nil
	delete(h.sessions, s.id)
	close(s.out)

	if m, ok := h.table.Leave(s.id); ok {
		h.broadcast(Room(m.Room), models.EventUserLeft, models.MembershipPayload{Username: m.Username, ID: s.id})
	}
	if _, ok := h.registry.Unregister(s.id); ok {
		presenceChanged = true
	}
}

func (h *Hub) broadcastPresence() {
	h.broadcast(Everyone(), models.EventUsersOnline, h.registry.OnlineUsernames())
}

func (h *Hub) reject(conn models.ConnectionID, err error) {
	slog.Debug("rejecting event", "conn_id", conn, "reason", err)
	h.broadcast(Only(conn), models.EventErrorMessage, models.ErrorPayload{Message: err.Error()})
}

// fail reports a failed persisted operation to its sender. Unauthorized and
// missing messages are dropped without a reply.
func (h *Hub) fail(conn models.ConnectionID, op string, err error, message string) {
	switch {
	case errors.Is(err, chat.ErrUnauthorized), errors.Is(err, models.ErrNotFound):
		slog.Debug("dropping "+op, "conn_id", conn, "reason", err)
	case errors.Is(err, chat.ErrInvalidInput):
		h.reject(conn, err)
	default:
		slog.Error(op+" failed", "conn_id", conn, "error", err)
		h.broadcast(Only(conn), models.EventError, models.ErrorPayload{Message: message})
	}
}

func (h *Hub) enqueue(s *session, j job) {
	if len(s.queue) >= maxPendingPerConn {
		slog.Warn("too many pending operations", "conn_id", s.id)
		h.broadcast(Only(s.id), models.EventError, models.ErrorPayload{Message: "Too many pending messages"})
		return
	}
	s.queue = append(s.queue, j)
	if !s.busy {
		h.startNext(s)
	}
}

func (h *Hub) startNext(s *session) {
	for len(s.queue) > 0 {
		j := s.queue[0]
		s.queue = s.queue[1:]
		select {
		case h.jobs <- j:
			s.busy = true
			return
		default:
			slog.Warn("persistence queue full", "conn_id", s.id)
			h.broadcast(Only(s.id), models.EventError, models.ErrorPayload{Message: "Server is busy, please retry"})
		}
	}
}

func (h *Hub) jobDone(conn models.ConnectionID) {
	s, ok := h.sessions[conn]
	if !ok {
		return
	}
	s.busy = false
	h.startNext(s)
}

func (h *Hub) worker() {
	for j := range h.jobs {
		apply := j.run()
		h.post(func() {
			apply()
			h.jobDone(j.conn)
		})
	}
}

func decode[T any](data json.RawMessage) (T, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	err := json.Unmarshal(data, &v)
	return v, err
}
