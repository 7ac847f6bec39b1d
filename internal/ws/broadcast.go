package ws

import (
	"log/slog"

	"jammy/internal/models"
)

type scopeKind int

const (
	scopeEveryone scopeKind = iota
	scopeAllExcept
	scopeRoom
	scopeRoomExcept
	scopeOnly
)

// Scope selects the connections an event is delivered to.
type Scope struct {
	kind scopeKind
	room string
	conn models.ConnectionID
}

// Everyone addresses every connection that completed its handshake.
func Everyone() Scope { return Scope{kind: scopeEveryone} }

func AllExcept(conn models.ConnectionID) Scope { return Scope{kind: scopeAllExcept, conn: conn} }

func Room(room string) Scope { return Scope{kind: scopeRoom, room: room} }

func RoomExcept(room string, conn models.ConnectionID) Scope {
	return Scope{kind: scopeRoomExcept, room: room, conn: conn}
}

// Only addresses a single connection regardless of its state.
func Only(conn models.ConnectionID) Scope { return Scope{kind: scopeOnly, conn: conn} }

// scopeFor returns where events about a message stored in room go.
func scopeFor(room string) Scope {
	if room == "" {
		return Everyone()
	}
	return Room(room)
}

// broadcast enqueues the event for every connection in scope and returns the
// number of connections it was queued for. A connection whose outbound buffer
// is full misses the event.
func (h *Hub) broadcast(scope Scope, eventType models.EventType, data any) int {
	event := models.ServerEvent{Type: eventType, Data: data}
	delivered := 0
	deliver := func(s *session) {
		select {
		case s.out <- event:
			delivered++
		default:
			slog.Warn("outbound buffer full, dropping event", "conn_id", s.id, "type", eventType)
		}
	}

	switch scope.kind {
	case scopeEveryone, scopeAllExcept:
		for id, s := range h.sessions {
			if !s.handshaken() || (scope.kind == scopeAllExcept && id == scope.conn) {
				continue
			}
			deliver(s)
		}
	case scopeRoom, scopeRoomExcept:
		for _, id := range h.table.MembersOf(scope.room) {
			if scope.kind == scopeRoomExcept && id == scope.conn {
				continue
			}
			if s, ok := h.sessions[id]; ok {
				deliver(s)
			}
		}
	case scopeOnly:
		if s, ok := h.sessions[scope.conn]; ok {
			deliver(s)
		}
	}
	return delivered
}
