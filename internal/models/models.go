package models

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
)

type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// ConnectionID identifies a live websocket connection. It is never persisted.
type ConnectionID string

// UserIdentity is who a connection or a REST caller acts as.
type UserIdentity struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Role     Role   `json:"role,omitempty"`
}

// IsAdmin reports whether the identity carries the admin role granted at
// authentication time.
func (u UserIdentity) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// User represents a registered account.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

// Room represents a named broadcast scope.
type Room struct {
	Name      string    `json:"name"`
	CreatedBy string    `json:"createdBy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Message represents a persisted chat message.
type Message struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	HTML      string    `json:"html,omitempty"`
	Room      string    `json:"room,omitempty"`
	FileURL   string    `json:"fileUrl,omitempty"`
	UserID    string    `json:"userId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	EditedAt  time.Time `json:"editedAt,omitzero"`
}

type EventType string

// Client to server events.
const (
	EventUserConnected EventType = "user_connected"
	EventJoinRoom      EventType = "join_room"
	EventLeaveRoom     EventType = "leave_room"
	EventTyping        EventType = "typing"
	EventSendMessage   EventType = "send_message"
	EventEditMessage   EventType = "edit_message"
	EventDeleteMessage EventType = "delete_message"
)

// Server to client events.
const (
	EventReceiveMessage EventType = "receive_message"
	EventMessageEdited  EventType = "message_edited"
	EventMessageDeleted EventType = "message_deleted"
	EventUsersOnline    EventType = "users_online"
	EventUserJoined     EventType = "user_joined"
	EventUserLeft       EventType = "user_left"
	EventError          EventType = "error"
	EventErrorMessage   EventType = "error_message"
)

// ClientEvent is a frame sent by the client. Data is decoded lazily
// according to Type.
type ClientEvent struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ServerEvent is a frame sent to the client.
type ServerEvent struct {
	Type EventType `json:"type"`
	Data any       `json:"data,omitempty"`
}

type HandshakePayload struct {
	Username string `json:"username"`
	UserID   string `json:"userId"`
}

type JoinRoomPayload struct {
	Room     string `json:"room"`
	Username string `json:"username"`
}

type TypingPayload struct {
	Username string `json:"username"`
	Room     string `json:"room,omitempty"`
}

type SendMessagePayload struct {
	Username        string `json:"username"`
	Content         string `json:"content"`
	UserID          string `json:"userId,omitempty"`
	Room            string `json:"room,omitempty"`
	FileURL         string `json:"fileUrl,omitempty"`
	Timestamp       string `json:"timestamp,omitempty"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
}

type EditMessagePayload struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Room    string `json:"room"`
}

type DeleteMessagePayload struct {
	ID   string `json:"id"`
	Room string `json:"room"`
}

type MessageEditedPayload struct {
	ID       string    `json:"id"`
	Content  string    `json:"content"`
	HTML     string    `json:"html,omitempty"`
	EditedAt time.Time `json:"editedAt,omitzero"`
}

type MessageDeletedPayload struct {
	ID string `json:"id"`
}

type MembershipPayload struct {
	Username string       `json:"username"`
	ID       ConnectionID `json:"id"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// APIResponse is the generic REST reply body.
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
