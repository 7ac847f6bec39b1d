package ws

import (
	"jammy/internal/models"
)

type sessionState int

const (
	stateConnecting sessionState = iota
	// stateAuthenticated is the room mode state between handshake and the
	// first room.
	stateAuthenticated
	stateInRoom
	// stateActive is the only post-handshake state in global mode.
	stateActive
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateAuthenticated:
		return "authenticated"
	case stateInRoom:
		return "in_room"
	case stateActive:
		return "active"
	case stateClosed:
		return "closed"
	}
	return "unknown"
}

// session is the hub side of one connection. It is only touched by the hub
// loop.
type session struct {
	id    models.ConnectionID
	state sessionState
	// bound is set when the transport authenticated the connection with a
	// token; handshake identity fields are then ignored.
	bound    *models.UserIdentity
	identity models.UserIdentity
	room     string
	out      chan models.ServerEvent

	// queue holds persisted operations waiting for the one in flight, so a
	// connection's writes complete in the order they were received.
	queue []job
	busy  bool
}

func (s *session) handshaken() bool {
	return s.state != stateConnecting && s.state != stateClosed
}

// canChat reports whether the session may send, edit and delete messages.
func (s *session) canChat() bool {
	return s.state == stateActive || s.state == stateInRoom
}

type job struct {
	conn models.ConnectionID
	// run executes off the hub loop and returns the completion that is applied
	// back on it.
	run func() func()
}
