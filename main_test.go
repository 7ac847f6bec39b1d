package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"jammy/internal/api"
	"jammy/internal/auth"
	"jammy/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

const (
	testAdminAddr = "127.0.0.1:8888"
	testAPIAddr   = "127.0.0.1:8887"
)

type wireEvent struct {
	Type models.EventType `json:"type"`
	Data json.RawMessage  `json:"data"`
}

func TestIntegration(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	t.Setenv("JAMMY_DB", filepath.Join(dir, "integration_test.db"))
	t.Setenv("UPLOADS_PATH", filepath.Join(dir, "uploads"))
	t.Setenv("ADMIN_ADDR", testAdminAddr)
	t.Setenv("API_ADDR", testAPIAddr)
	t.Setenv("AUTH_SECRET", "very-secure-test-secret")
	t.Setenv("CHAT_MODE", "room")
	t.Setenv("LOG_LEVEL", "warn")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- run(ctx, nil)
	}()

	apiURL := "http://" + testAPIAddr
	waitForServer(t, apiURL+"/api/health", 50)
	waitForServer(t, "http://"+testAdminAddr+"/admin/users", 50)

	// Step 1: Create a user via the admin API.
	reqBody, _ := json.Marshal(api.AddUserRequest{Username: "bob"})
	resp, err := http.Post("http://"+testAdminAddr+"/admin/users", "application/json", bytes.NewReader(reqBody))
	require.NoError(t, err)
	var adminResp api.AddUserResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&adminResp))
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, adminResp.Success)
	require.NotEmpty(t, adminResp.Password)

	// Step 2: Self registration.
	regBody, _ := json.Marshal(auth.RegistrationRequest{Username: "alice", Password: "securepassword"})
	resp, err = http.Post(apiURL+"/api/auth/register", "application/json", bytes.NewReader(regBody))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	aliceToken := login(t, apiURL, "alice", "securepassword")
	bobToken := login(t, apiURL, "bob", adminResp.Password)

	// Step 3: Default room is seeded.
	resp, err = http.Get(apiURL + "/api/rooms")
	require.NoError(t, err)
	var roomList []models.Room
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&roomList))
	_ = resp.Body.Close()
	require.Len(t, roomList, 1)
	require.Equal(t, "general", roomList[0].Name)

	// Step 4: An invalid token is refused before upgrade.
	_, resp, err = websocket.DefaultDialer.Dial(wsURL("not-a-token"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Step 5: Both users join the room.
	alice := dial(t, aliceToken)
	bob := dial(t, bobToken)

	send(t, alice, models.EventJoinRoom, models.JoinRoomPayload{Room: "general"})
	readUntil(t, alice, models.EventUsersOnline)

	send(t, bob, models.EventJoinRoom, models.JoinRoomPayload{Room: "general"})
	joined := readUntil(t, alice, models.EventUserJoined)
	var membership models.MembershipPayload
	require.NoError(t, json.Unmarshal(joined.Data, &membership))
	require.Equal(t, "bob", membership.Username)

	// Step 6: Messages reach everyone in the room, including the sender.
	send(t, alice, models.EventSendMessage, models.SendMessagePayload{
		Content:         "hello **bob**",
		ClientMessageID: "m1",
	})
	for _, conn := range []*websocket.Conn{alice, bob} {
		ev := readUntil(t, conn, models.EventReceiveMessage)
		var msg models.Message
		require.NoError(t, json.Unmarshal(ev.Data, &msg))
		require.Equal(t, "alice", msg.Username)
		require.Equal(t, "general", msg.Room)
		require.Equal(t, "hello **bob**", msg.Content)
		require.Contains(t, msg.HTML, "<strong>bob</strong>")
		require.NotEmpty(t, msg.ID)
	}

	// Step 7: History and presence over REST.
	resp, err = http.Get(apiURL + "/api/messages?room=general")
	require.NoError(t, err)
	var history []models.Message
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&history))
	_ = resp.Body.Close()
	require.Len(t, history, 1)
	require.Equal(t, "hello **bob**", history[0].Content)

	resp, err = http.Get(apiURL + "/api/online")
	require.NoError(t, err)
	var online []string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&online))
	_ = resp.Body.Close()
	require.ElementsMatch(t, []string{"alice", "bob"}, online)

	// Step 8: Admin disconnect closes bob's socket and alice sees him leave.
	resp, err = http.Post("http://"+testAdminAddr+"/admin/users/bob/disconnect", "application/json", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	left := readUntil(t, alice, models.EventUserLeft)
	require.NoError(t, json.Unmarshal(left.Data, &membership))
	require.Equal(t, "bob", membership.Username)

	_ = bob.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := bob.ReadMessage(); err != nil {
			break
		}
	}

	_ = alice.Close()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func login(t *testing.T, apiURL, username, password string) string {
	t.Helper()
	body, _ := json.Marshal(auth.LoginRequest{Username: username, Password: password})
	resp, err := http.Post(apiURL+"/api/auth/login", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var loginResp auth.LoginResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&loginResp))
	require.True(t, loginResp.Success)
	return loginResp.Token
}

func wsURL(token string) string {
	return fmt.Sprintf("ws://%s/ws?token=%s", testAPIAddr, url.QueryEscape(token))
}

func dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(token), nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, eventType models.EventType, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(models.ClientEvent{Type: eventType, Data: raw}))
}

// readUntil skips frames until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want models.EventType) wireEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var ev wireEvent
		require.NoError(t, conn.ReadJSON(&ev), "waiting for %s", want)
		if ev.Type == want {
			return ev
		}
	}
}

func waitForServer(t *testing.T, urlStr string, retries int) {
	client := &http.Client{Timeout: 500 * time.Millisecond}

	for i := 0; i < retries; i++ {
		resp, err := client.Get(urlStr)
		if err == nil {
			_ = resp.Body.Close()
			// Any status means the listener is up.
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("Server failed to start at %s after %d retries", urlStr, retries)
}
