package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"jammy/internal/api"
	"jammy/internal/config"
	"jammy/internal/models"
)

// AddUser asks a running server's admin API to create an account and prints
// the generated credentials.
func AddUser(username string, admin bool, cfg *config.Config) error {
	role := models.RoleMember
	if admin {
		role = models.RoleAdmin
	}

	reqBody, err := json.Marshal(api.AddUserRequest{Username: username, Role: role})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("http://%s/admin/users", cfg.AdminAddr)
	resp, err := http.Post(url, "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to call admin API: %w. Is the server running?", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to add user (Status: %d): %s", resp.StatusCode, string(body))
	}

	var result api.AddUserResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("\nUser Created Successfully!\n")
	fmt.Printf("Username:          %s\n", result.Username)
	fmt.Printf("Role:              %s\n", result.Role)
	fmt.Printf("Password:          %s\n", result.Password)
	fmt.Printf("Login:             %s/api/auth/login\n\n", cfg.BaseURL)
	fmt.Println("The password is shown only once. Share it with the user over a secure channel.")
	return nil
}
