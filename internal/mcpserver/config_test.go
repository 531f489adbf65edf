package mcpserver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestConfigFromEnv_Defaults(t *testing.T) {
	cfg, err := ConfigFromEnv(envMap(map[string]string{"GANGBOARD_ADMIN_SECRET": "s3cret"}))
	require.NoError(t, err)
	assert.Equal(t, DefaultAPIURL, cfg.APIURL)
	assert.Equal(t, "s3cret", cfg.AdminSecret)
	assert.Empty(t, cfg.CallerID)
}

func TestConfigFromEnv_TrimsURLAndCaller(t *testing.T) {
	cfg, err := ConfigFromEnv(envMap(map[string]string{
		"GANGBOARD_API_URL":       "https://gangboard.example.com/ ",
		"GANGBOARD_ADMIN_SECRET":  "s3cret",
		"GANGBOARD_SERVICE_TOKEN": "tok",
		"GANGBOARD_CALLER_ID":     " 1234 ",
	}))
	require.NoError(t, err)
	assert.Equal(t, "https://gangboard.example.com", cfg.APIURL)
	assert.Equal(t, "tok", cfg.ServiceToken)
	assert.Equal(t, "1234", cfg.CallerID)
}

func TestConfigFromEnv_Errors(t *testing.T) {
	_, err := ConfigFromEnv(envMap(nil))
	assert.EqualError(t, err, "GANGBOARD_ADMIN_SECRET is required")

	_, err = ConfigFromEnv(envMap(map[string]string{
		"GANGBOARD_ADMIN_SECRET": "s3cret",
		"GANGBOARD_API_URL":      "localhost:8080",
	}))
	assert.Error(t, err)
}
