package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"jammy/internal/auth"
	"jammy/internal/models"
)

func TestStorage(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewBboltStorage(dbPath)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	defer func() { _ = store.Close() }()

	t.Run("Credentials", func(t *testing.T) {
		creds := auth.UserCredentials{
			User: models.User{
				ID:        "user1",
				Username:  "alice",
				Role:      models.RoleAdmin,
				CreatedAt: time.Unix(1700000000, 0).UTC(),
			},
			PasswordHash:        "hash",
			FailedLoginAttempts: 2,
		}

		if err := store.UpsertCredentials(creds); err != nil {
			t.Fatalf("UpsertCredentials failed: %v", err)
		}

		listCreds, err := store.ListCredentials()
		if err != nil {
			t.Fatalf("ListCredentials failed: %v", err)
		}
		if len(listCreds) != 1 {
			t.Fatalf("expected 1 credential, got %d", len(listCreds))
		}
		got := listCreds[0]
		if got.ID != creds.ID || got.Role != models.RoleAdmin || got.PasswordHash != "hash" {
			t.Errorf("unexpected credentials %+v", got)
		}
		if got.FailedLoginAttempts != 2 {
			t.Errorf("expected 2 failed attempts, got %d", got.FailedLoginAttempts)
		}
		if !got.CreatedAt.Equal(creds.CreatedAt) {
			t.Errorf("expected CreatedAt %v, got %v", creds.CreatedAt, got.CreatedAt)
		}
	})

	t.Run("Rooms", func(t *testing.T) {
		now := time.Now()
		if err := store.CreateRoom(models.Room{Name: "general", CreatedAt: now}); err != nil {
			t.Fatalf("CreateRoom failed: %v", err)
		}
		if err := store.CreateRoom(models.Room{Name: "random", CreatedAt: now.Add(time.Second)}); err != nil {
			t.Fatalf("CreateRoom failed: %v", err)
		}
		if err := store.CreateRoom(models.Room{Name: "general", CreatedAt: now}); !errors.Is(err, ErrRoomExists) {
			t.Errorf("expected ErrRoomExists, got %v", err)
		}

		rooms, err := store.ListRooms()
		if err != nil {
			t.Fatalf("ListRooms failed: %v", err)
		}
		if len(rooms) != 2 || rooms[0].Name != "general" || rooms[1].Name != "random" {
			t.Errorf("unexpected rooms %+v", rooms)
		}
	})

	t.Run("Messages", func(t *testing.T) {
		var ids []string
		for i := 0; i < 5; i++ {
			msg, err := store.CreateMessage(models.Message{
				Username:  "alice",
				UserID:    "user1",
				Room:      "general",
				Content:   fmt.Sprintf("msg %d", i),
				Timestamp: time.Now(),
			})
			if err != nil {
				t.Fatalf("CreateMessage failed: %v", err)
			}
			if msg.ID == "" {
				t.Fatal("expected server assigned ID")
			}
			ids = append(ids, msg.ID)
		}
		if ids[0] == ids[1] {
			t.Error("expected distinct IDs")
		}

		// Newest page first, oldest first within a page.
		page1, err := store.ListMessages("general", 1, 2)
		if err != nil {
			t.Fatalf("ListMessages failed: %v", err)
		}
		if len(page1) != 2 || page1[0].Content != "msg 3" || page1[1].Content != "msg 4" {
			t.Errorf("unexpected page 1 %+v", page1)
		}
		page3, err := store.ListMessages("general", 3, 2)
		if err != nil {
			t.Fatalf("ListMessages failed: %v", err)
		}
		if len(page3) != 1 || page3[0].Content != "msg 0" {
			t.Errorf("unexpected page 3 %+v", page3)
		}

		other, err := store.ListMessages("random", 1, 50)
		if err != nil {
			t.Fatal(err)
		}
		if len(other) != 0 {
			t.Errorf("expected no messages in random, got %d", len(other))
		}
	})

	t.Run("GlobalMessages", func(t *testing.T) {
		msg, err := store.CreateMessage(models.Message{Username: "bob", Content: "hello everyone", Timestamp: time.Now()})
		if err != nil {
			t.Fatal(err)
		}
		got, err := store.GetMessage("", msg.ID)
		if err != nil {
			t.Fatalf("GetMessage failed: %v", err)
		}
		if got.Content != "hello everyone" || got.Room != "" {
			t.Errorf("unexpected message %+v", got)
		}
	})

	t.Run("GlobalStreamIsNotARoom", func(t *testing.T) {
		for _, name := range []string{"~global", "global_messages", "global"} {
			if _, err := store.CreateMessage(models.Message{Username: "eve", Room: name, Content: "room msg", Timestamp: time.Now()}); err != nil {
				t.Fatal(err)
			}
		}

		global, err := store.ListMessages("", 1, 50)
		if err != nil {
			t.Fatal(err)
		}
		for _, m := range global {
			if m.Room != "" {
				t.Errorf("room message %q leaked into the global stream", m.Room)
			}
		}

		room, err := store.ListMessages("~global", 1, 50)
		if err != nil {
			t.Fatal(err)
		}
		if len(room) != 1 || room[0].Room != "~global" {
			t.Errorf("expected only the room message, got %+v", room)
		}
	})

	t.Run("UpdateDelete", func(t *testing.T) {
		msg, err := store.CreateMessage(models.Message{Username: "alice", Room: "general", Content: "typo", Timestamp: time.Now()})
		if err != nil {
			t.Fatal(err)
		}

		msg.Content = "fixed"
		msg.EditedAt = time.Now()
		msg.Username = "mallory"
		updated, err := store.UpdateMessage(msg)
		if err != nil {
			t.Fatalf("UpdateMessage failed: %v", err)
		}
		if updated.Content != "fixed" || updated.EditedAt.IsZero() {
			t.Errorf("unexpected update %+v", updated)
		}
		if updated.Username != "alice" {
			t.Errorf("username must be immutable, got %s", updated.Username)
		}

		if err := store.DeleteMessage("general", msg.ID); err != nil {
			t.Fatalf("DeleteMessage failed: %v", err)
		}
		if _, err := store.GetMessage("general", msg.ID); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		if err := store.DeleteMessage("general", msg.ID); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound on second delete, got %v", err)
		}
		if _, err := store.GetMessage("general", "not-a-number"); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound for malformed id, got %v", err)
		}
		if _, err := store.GetMessage("nowhere", "1"); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound for unknown room, got %v", err)
		}
	})

	t.Run("Files", func(t *testing.T) {
		meta := FileMetadata{ID: "f1", Hash: "abc", Name: "cat.png", MimeType: "image/png", Size: 10}
		if err := store.UpsertFileMetadata(meta); err != nil {
			t.Fatalf("UpsertFileMetadata failed: %v", err)
		}
		got, err := store.GetFileMetadata("f1")
		if err != nil {
			t.Fatalf("GetFileMetadata failed: %v", err)
		}
		if got != meta {
			t.Errorf("expected %+v, got %+v", meta, got)
		}
		if _, err := store.GetFileMetadata("missing"); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}
