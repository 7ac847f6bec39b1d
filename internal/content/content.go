package content

import (
	"bytes"
	"errors"
	"html/template"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

const (
	MaxDisplayNameLength = 50
	MaxRoomNameLength    = 50
	minUsernameLength    = 3
	maxUsernameLength    = 20
)

var (
	policy        = bluemonday.UGCPolicy()
	markdown      = goldmark.New(goldmark.WithExtensions(extension.Strikethrough, extension.Linkify))
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
)

// Sanitize removes unsafe HTML from the input string using a strict policy.
// It is used for sanitizing user inputs like display names and messages.
func Sanitize(input string) string {
	return policy.Sanitize(input)
}

// Escape escapes special characters like "<" to become "&lt;".
// It matches the behavior of html/template and is safe for use in HTML attributes.
func Escape(input string) string {
	return template.HTMLEscapeString(input)
}

// Render converts markdown message text to sanitized HTML.
func Render(input string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(input), &buf); err != nil {
		return "", err
	}
	return strings.TrimSpace(policy.Sanitize(buf.String())), nil
}

// ValidateUsername checks account usernames: 3 to 20 characters, alphanumeric,
// dot, dash or underscore.
func ValidateUsername(username string) error {
	if username == "" {
		return errors.New("username cannot be empty")
	}
	if n := len(username); n < minUsernameLength || n > maxUsernameLength {
		return errors.New("username must be between 3 and 20 characters")
	}
	if !usernameRegex.MatchString(username) {
		return errors.New("username contains invalid characters (allowed: alphanumeric, dot, dash, underscore)")
	}
	return nil
}

// NormalizeDisplayName trims a chat display name and rejects empty or
// overlong values.
func NormalizeDisplayName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("username cannot be empty")
	}
	if utf8.RuneCountInString(name) > MaxDisplayNameLength {
		return "", errors.New("username cannot exceed 50 characters")
	}
	return name, nil
}

// NormalizeRoomName trims a room name and rejects empty or overlong values.
func NormalizeRoomName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("room name is required")
	}
	if utf8.RuneCountInString(name) > MaxRoomNameLength {
		return "", errors.New("room name cannot exceed 50 characters")
	}
	return name, nil
}
