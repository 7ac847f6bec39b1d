// Package rooms maps connections to the single room each one is in.
//
// Table is not safe for concurrent use; the hub loop owns it.
package rooms

import (
	"jammy/internal/models"
)

type Membership struct {
	ConnectionID models.ConnectionID
	Room         string
	Username     string
}

type Table struct {
	byConn map[models.ConnectionID]Membership
	byRoom map[string]map[models.ConnectionID]struct{}
}

func NewTable() *Table {
	return &Table{
		byConn: make(map[models.ConnectionID]Membership),
		byRoom: make(map[string]map[models.ConnectionID]struct{}),
	}
}

// Join puts conn into room, replacing any previous membership. The previous
// room is returned so the caller can announce the departure there.
func (t *Table) Join(conn models.ConnectionID, room, username string) (string, bool) {
	prev, had := t.byConn[conn]
	if had {
		t.removeFromRoom(conn, prev.Room)
	}

	members, ok := t.byRoom[room]
	if !ok {
		members = make(map[models.ConnectionID]struct{})
		t.byRoom[room] = members
	}
	members[conn] = struct{}{}
	t.byConn[conn] = Membership{ConnectionID: conn, Room: room, Username: username}

	return prev.Room, had
}

// Leave removes and returns the membership of conn.
func (t *Table) Leave(conn models.ConnectionID) (Membership, bool) {
	m, ok := t.byConn[conn]
	if !ok {
		return Membership{}, false
	}
	delete(t.byConn, conn)
	t.removeFromRoom(conn, m.Room)
	return m, true
}

// MembersOf returns the connections currently in room.
func (t *Table) MembersOf(room string) []models.ConnectionID {
	members := t.byRoom[room]
	conns := make([]models.ConnectionID, 0, len(members))
	for c := range members {
		conns = append(conns, c)
	}
	return conns
}

func (t *Table) removeFromRoom(conn models.ConnectionID, room string) {
	members, ok := t.byRoom[room]
	if !ok {
		return
	}
	delete(members, conn)
	if len(members) == 0 {
		delete(t.byRoom, room)
	}
}
