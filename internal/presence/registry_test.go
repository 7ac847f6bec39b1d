package presence

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"jammy/internal/models"
)

func identity(id, name string) models.UserIdentity {
	return models.UserIdentity{UserID: id, Username: name}
}

func TestRegistry_RegisterInvalid(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		name string
		id   models.UserIdentity
		conn models.ConnectionID
	}{
		{"Empty user ID", identity("", "alice"), "c1"},
		{"Empty username", identity("42", ""), "c1"},
		{"Blank username", identity("42", "   "), "c1"},
		{"Empty connection", identity("42", "alice"), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := r.Register(tt.id, tt.conn)
			if !errors.Is(err, ErrInvalidIdentity) {
				t.Errorf("expected ErrInvalidIdentity, got %v", err)
			}
		})
	}

	if len(r.byUser) != 0 || len(r.byConn) != 0 {
		t.Errorf("expected empty registry, got %d entries", len(r.byUser))
	}
}

func TestRegistry_Supersession(t *testing.T) {
	r := NewRegistry()

	if _, superseded, err := r.Register(identity("42", "alice"), "A"); err != nil || superseded {
		t.Fatalf("first register: superseded=%v err=%v", superseded, err)
	}

	old, superseded, err := r.Register(identity("42", "alice2"), "B")
	if err != nil {
		t.Fatalf("second register failed: %v", err)
	}
	if !superseded || old != "A" {
		t.Errorf("expected A to be superseded, got %q (%v)", old, superseded)
	}

	names := r.OnlineUsernames()
	if len(names) != 1 || names[0] != "alice2" {
		t.Errorf("expected [alice2], got %v", names)
	}

	// Late disconnect of the evicted connection must not remove the new entry.
	if _, ok := r.Unregister("A"); ok {
		t.Error("unregister of superseded connection should be a no-op")
	}
	if e, ok := r.byUser["42"]; !ok || e.ConnectionID != "B" {
		t.Errorf("expected user 42 on B, got %+v (%v)", e, ok)
	}
}

func TestRegistry_UnregisterUnknown(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Unregister("ghost"); ok {
		t.Error("expected no entry for unknown connection")
	}

	if _, _, err := r.Register(identity("1", "bob"), "c1"); err != nil {
		t.Fatal(err)
	}
	entry, ok := r.Unregister("c1")
	if !ok || entry.Identity.Username != "bob" {
		t.Fatalf("expected bob evicted, got %+v (%v)", entry, ok)
	}
	if _, ok := r.Unregister("c1"); ok {
		t.Error("duplicate unregister should be a no-op")
	}
}

func TestRegistry_SameConnectionReRegister(t *testing.T) {
	r := NewRegistry()
	if _, _, err := r.Register(identity("1", "bob"), "c1"); err != nil {
		t.Fatal(err)
	}
	_, superseded, err := r.Register(identity("1", "bobby"), "c1")
	if err != nil {
		t.Fatal(err)
	}
	if superseded {
		t.Error("re-register on the same connection is not a supersession")
	}
	if names := r.OnlineUsernames(); len(names) != 1 || names[0] != "bobby" {
		t.Errorf("expected [bobby], got %v", names)
	}
}

func TestRegistry_RandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	r := NewRegistry()
	model := make(map[string]models.ConnectionID)

	for i := 0; i < 2000; i++ {
		userID := fmt.Sprintf("u%d", rng.Intn(8))
		conn := models.ConnectionID(fmt.Sprintf("c%d", rng.Intn(16)))

		if rng.Intn(2) == 0 {
			if _, _, err := r.Register(identity(userID, "name-"+userID), conn); err != nil {
				t.Fatal(err)
			}
			for u, c := range model {
				if c == conn && u != userID {
					delete(model, u)
				}
			}
			model[userID] = conn
		} else {
			r.Unregister(conn)
			for u, c := range model {
				if c == conn {
					delete(model, u)
				}
			}
		}

		names := r.OnlineUsernames()
		if len(names) != len(model) {
			t.Fatalf("step %d: expected %d online, got %d (%v)", i, len(model), len(names), names)
		}
		seen := make(map[string]bool)
		for _, n := range names {
			if seen[n] {
				t.Fatalf("step %d: duplicate username %s", i, n)
			}
			seen[n] = true
		}
		for u := range model {
			if !seen["name-"+u] {
				t.Fatalf("step %d: %s missing from %v", i, u, names)
			}
		}
	}
}
