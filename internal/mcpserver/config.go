package mcpserver

import (
	"errors"
	"net/url"
	"strings"
)

// DefaultAPIURL is used when GANGBOARD_API_URL is unset.
const DefaultAPIURL = "http://localhost:8080"

// ConfigFromEnv builds a Config from GANGBOARD_* variables.
func ConfigFromEnv(getenv func(string) string) (Config, error) {
	cfg := Config{
		APIURL:       strings.TrimRight(strings.TrimSpace(getenv("GANGBOARD_API_URL")), "/"),
		AdminSecret:  getenv("GANGBOARD_ADMIN_SECRET"),
		ServiceToken: getenv("GANGBOARD_SERVICE_TOKEN"),
		CallerID:     strings.TrimSpace(getenv("GANGBOARD_CALLER_ID")),
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.AdminSecret == "" {
		return Config{}, errors.New("GANGBOARD_ADMIN_SECRET is required")
	}
	u, err := url.Parse(cfg.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Config{}, errors.New("GANGBOARD_API_URL must be an http(s) URL")
	}
	return cfg, nil
}
