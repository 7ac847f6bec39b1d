package content

import (
	"strings"
	"testing"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Plain text", "Hello World", "Hello World"},
		{"HTML tags", "Hello <b>World</b>", "Hello <b>World</b>"},
		{"Script tag", "<script>alert('xss')</script>Hello", "Hello"},
		{"Complex HTML", "<a href='javascript:alert(1)'>Click me</a>", "Click me"},
		{"Emoji", "I am 🤖", "I am 🤖"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.input); got != tt.expected {
				t.Errorf("Sanitize() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestEscape(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Plain text", "Hello World", "Hello World"},
		{"HTML chars", "<div>Hello</div>", "&lt;div&gt;Hello&lt;/div&gt;"},
		{"Quotes", `"Hello" 'World'`, "&#34;Hello&#34; &#39;World&#39;"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Escape(tt.input); got != tt.expected {
				t.Errorf("Escape() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestRender(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		contains string
		excludes string
	}{
		{"Emphasis", "hello *world*", "<em>world</em>", ""},
		{"Strikethrough", "~~gone~~", "<del>gone</del>", ""},
		{"Raw script dropped", "<script>alert(1)</script>hi", "hi", "<script>"},
		{"Javascript link dropped", "[x](javascript:alert(1))", "x", "javascript:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Render(tt.input)
			if err != nil {
				t.Fatalf("Render() error = %v", err)
			}
			if !strings.Contains(got, tt.contains) {
				t.Errorf("Render() = %q, want it to contain %q", got, tt.contains)
			}
			if tt.excludes != "" && strings.Contains(got, tt.excludes) {
				t.Errorf("Render() = %q, must not contain %q", got, tt.excludes)
			}
		})
	}
}

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"Valid alphanumeric", "user123", false},
		{"Valid with dot", "user.name", false},
		{"Valid with dash", "user-name", false},
		{"Valid with underscore", "user_name", false},
		{"Invalid space", "user name", true},
		{"Invalid special char", "user@name", true},
		{"Invalid script", "<script>", true},
		{"Empty", "", true},
		{"Too short", "ab", true},
		{"Too long", strings.Repeat("a", 21), true},
		{"Mixed case", "User.Name-123", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateUsername(tt.input); (err != nil) != tt.wantErr {
				t.Errorf("ValidateUsername() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNormalizeDisplayName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"Trimmed", "  alice  ", "alice", false},
		{"Blank", "   ", "", true},
		{"At limit", strings.Repeat("é", 50), strings.Repeat("é", 50), false},
		{"Over limit", strings.Repeat("a", 51), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeDisplayName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NormalizeDisplayName() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("NormalizeDisplayName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalizeRoomName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"Trimmed", " general ", "general", false},
		{"Empty", "", "", true},
		{"At limit", strings.Repeat("r", 50), strings.Repeat("r", 50), false},
		{"Over limit", strings.Repeat("r", 51), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeRoomName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NormalizeRoomName() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("NormalizeRoomName() = %q, want %q", got, tt.want)
			}
		})
	}
}
