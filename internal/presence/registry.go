// Package presence tracks which user identities are online and through
// which connection.
//
// Registry is not safe for concurrent use. It is owned by the hub loop,
// which serializes every mutation.
package presence

import (
	"errors"
	"strings"
	"time"

	"jammy/internal/models"
)

var ErrInvalidIdentity = errors.New("invalid identity")

// Entry is a single online user.
type Entry struct {
	Identity     models.UserIdentity
	ConnectionID models.ConnectionID
	JoinedAt     time.Time
}

type Registry struct {
	byUser map[string]*Entry
	byConn map[models.ConnectionID]string
	// order keeps registration order so snapshots are stable for clients.
	order []string
	now   func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]*Entry),
		byConn: make(map[models.ConnectionID]string),
		now:    time.Now,
	}
}

// Register records identity as online on conn. When the user already had an
// entry the old connection is returned as superseded; closing it is up to
// the caller.
func (r *Registry) Register(identity models.UserIdentity, conn models.ConnectionID) (models.ConnectionID, bool, error) {
	if strings.TrimSpace(identity.UserID) == "" || strings.TrimSpace(identity.Username) == "" || conn == "" {
		return "", false, ErrInvalidIdentity
	}

	var (
		superseded models.ConnectionID
		evicted    bool
	)
	if old, ok := r.byUser[identity.UserID]; ok {
		delete(r.byConn, old.ConnectionID)
		r.removeOrder(identity.UserID)
		if old.ConnectionID != conn {
			superseded, evicted = old.ConnectionID, true
		}
	}

	// A connection re-registering under a different user drops its old entry.
	if prevUser, ok := r.byConn[conn]; ok && prevUser != identity.UserID {
		delete(r.byUser, prevUser)
		r.removeOrder(prevUser)
	}

	r.byUser[identity.UserID] = &Entry{
		Identity:     identity,
		ConnectionID: conn,
		JoinedAt:     r.now(),
	}
	r.byConn[conn] = identity.UserID
	r.order = append(r.order, identity.UserID)

	return superseded, evicted, nil
}

// Unregister removes the entry bound to conn. Unknown or already superseded
// connections are ignored.
func (r *Registry) Unregister(conn models.ConnectionID) (Entry, bool) {
	userID, ok := r.byConn[conn]
	if !ok {
		return Entry{}, false
	}
	delete(r.byConn, conn)

	entry, ok := r.byUser[userID]
	if !ok || entry.ConnectionID != conn {
		return Entry{}, false
	}
	delete(r.byUser, userID)
	r.removeOrder(userID)

	return *entry, true
}

// ConnectionsByUsername returns connections whose identity has the given username.
func (r *Registry) ConnectionsByUsername(username string) []models.ConnectionID {
	var conns []models.ConnectionID
	for _, userID := range r.order {
		if e := r.byUser[userID]; e.Identity.Username == username {
			conns = append(conns, e.ConnectionID)
		}
	}
	return conns
}

// OnlineUsernames returns a snapshot of online usernames, one per user.
func (r *Registry) OnlineUsernames() []string {
	names := make([]string, 0, len(r.order))
	for _, userID := range r.order {
		names = append(names, r.byUser[userID].Identity.Username)
	}
	return names
}

func (r *Registry) removeOrder(userID string) {
	for i, id := range r.order {
		if id == userID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}
