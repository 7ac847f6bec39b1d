package config

import (
	"log/slog"
	"net/url"
	"strings"
)

func (c *Config) setOrigins(origins []string) {
	c.origins = make(map[string]struct{}, len(origins))
	c.allowAll = false
	for _, origin := range origins {
		if origin == "*" {
			c.allowAll = true
			continue
		}
		normalized, ok := normalizeOrigin(origin)
		if !ok {
			slog.Warn("ignoring invalid origin in configuration", "origin", origin)
			continue
		}
		c.origins[normalized] = struct{}{}
	}
}

// AllowsOrigin reports whether a browser origin may use the API and the
// websocket endpoint. Requests without an Origin header are not browser
// cross-origin requests and are allowed.
func (c *Config) AllowsOrigin(origin string) bool {
	if origin == "" || c.allowAll {
		return true
	}
	normalized, ok := normalizeOrigin(origin)
	if !ok {
		return false
	}
	_, exists := c.origins[normalized]
	return exists
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(strings.TrimSpace(origin))
	if err != nil {
		return "", false
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}

	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}
