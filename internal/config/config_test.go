package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jgivc/recfetch/internal/common"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "config.yml", `
client_id: id
client_secret: secret
redirect_uri: http://127.0.0.1:9000/cb
scopes:
  - cloud_recording:read:list_user_recordings
output_directory: /tmp/rec
max_concurrent_downloads: 5
request_timeout_seconds: 60
redis_url: redis://localhost:6379/0
mirror:
  bucket: archive
  region: eu-central-1
  prefix: zoom
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "id", cfg.ClientID)
	require.Equal(t, "secret", cfg.ClientSecret)
	require.Equal(t, []string{"cloud_recording:read:list_user_recordings"}, cfg.Scopes)
	require.Equal(t, "/tmp/rec", cfg.OutputDirectory)
	require.Equal(t, 5, cfg.MaxConcurrentDownloads)
	require.Equal(t, time.Minute, cfg.RequestTimeout())
	require.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	require.True(t, cfg.Mirror.Enabled())
	require.Equal(t, "zoom", cfg.Mirror.Prefix)

	require.Equal(t, "me", cfg.UserID)
	require.Equal(t, "https://zoom.us", cfg.OAuthBaseURL)
	require.Equal(t, "https://api.zoom.us", cfg.APIBaseURL)
	require.Equal(t, 3, cfg.MaxRetries)
	require.Equal(t, 64*1024, cfg.ChunkSize)
	require.Equal(t, LogLevelInfo, cfg.LogLevel)
	require.Equal(t, "127.0.0.1:9000", cfg.CallbackListen)
	require.Equal(t, "/cb", cfg.CallbackPath())
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "config.toml", `
client_id = "id"
client_secret = "secret"
log_level = "debug"
max_retries = 5

[mirror]
bucket = "b"
region = "us-east-1"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "id", cfg.ClientID)
	require.Equal(t, LogLevelDebug, cfg.LogLevel)
	require.Equal(t, 5, cfg.MaxRetries)
	require.Equal(t, "us-east-1", cfg.Mirror.Region)
	require.Equal(t, "localhost:8910", cfg.CallbackListen)
}

func TestEnvOverrides(t *testing.T) {
	path := writeFile(t, "config.yml", "client_id: file-id\nclient_secret: file-secret\n")

	t.Setenv("RECFETCH_CLIENT_ID", "env-id")
	t.Setenv("RECFETCH_SCOPES", "a, b,,c")
	t.Setenv("RECFETCH_MAX_CONCURRENT_DOWNLOADS", "7")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "env-id", cfg.ClientID)
	require.Equal(t, "file-secret", cfg.ClientSecret)
	require.Equal(t, []string{"a", "b", "c"}, cfg.Scopes)
	require.Equal(t, 7, cfg.MaxConcurrentDownloads)
}

func TestEnvOverrideNotANumber(t *testing.T) {
	path := writeFile(t, "config.yml", "client_id: id\nclient_secret: s\n")
	t.Setenv("RECFETCH_MAX_RETRIES", "many")

	_, err := Load(path)
	require.ErrorIs(t, err, common.ErrConfigurationError)
}

func TestMissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.yml")

	_, err := Load(missing)
	require.ErrorIs(t, err, common.ErrConfigurationError)

	t.Setenv(EnvConfigPath, missing)
	t.Setenv("RECFETCH_CLIENT_ID", "id")
	t.Setenv("RECFETCH_CLIENT_SECRET", "secret")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "id", cfg.ClientID)
}

func TestUnsupportedFormat(t *testing.T) {
	path := writeFile(t, "config.json", "{}")

	_, err := Load(path)
	require.ErrorIs(t, err, common.ErrConfigurationError)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		c := Config{ClientID: "id", ClientSecret: "secret"}
		c.SetDefaults()

		return c
	}

	testCases := []struct {
		name   string
		modify func(*Config)
		ok     bool
	}{
		{name: "valid", modify: func(*Config) {}, ok: true},
		{name: "no client id", modify: func(c *Config) { c.ClientID = "" }},
		{name: "no client secret", modify: func(c *Config) { c.ClientSecret = "" }},
		{name: "concurrency too low", modify: func(c *Config) { c.MaxConcurrentDownloads = -1 }},
		{name: "concurrency too high", modify: func(c *Config) { c.MaxConcurrentDownloads = 11 }},
		{name: "concurrency upper bound", modify: func(c *Config) { c.MaxConcurrentDownloads = 10 }, ok: true},
		{name: "timeout too low", modify: func(c *Config) { c.RequestTimeoutSeconds = 4 }},
		{name: "timeout too high", modify: func(c *Config) { c.RequestTimeoutSeconds = 301 }},
		{name: "timeout bounds", modify: func(c *Config) { c.RequestTimeoutSeconds = 300 }, ok: true},
		{name: "negative retries", modify: func(c *Config) { c.MaxRetries = -1 }},
		{name: "negative chunk", modify: func(c *Config) { c.ChunkSize = -1 }},
		{name: "unknown log level", modify: func(c *Config) { c.LogLevel = "trace" }},
		{name: "relative redirect", modify: func(c *Config) { c.RedirectURI = "/callback" }},
		{name: "mirror without region", modify: func(c *Config) { c.Mirror.Bucket = "b" }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := valid()
			tc.modify(&c)

			err := c.Validate()
			if tc.ok {
				require.NoError(t, err)

				return
			}
			require.ErrorIs(t, err, common.ErrConfigurationError)
		})
	}
}
