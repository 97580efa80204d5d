package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/jgivc/recfetch/internal/common"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"

	EnvPrefix     = "RECFETCH_"
	EnvConfigPath = EnvPrefix + "CONFIG"

	appDir = "recfetch"

	defaultUserID          = "me"
	defaultOAuthBaseURL    = "https://zoom.us"
	defaultAPIBaseURL      = "https://api.zoom.us"
	defaultRedirectURI     = "http://localhost:8910/oauth/callback"
	defaultConcurrency     = 3
	defaultRequestTimeout  = 30
	defaultMaxRetries      = 3
	defaultChunkSize       = 64 * 1024
	defaultOutputDirectory = "recordings"
	defaultTokenFile       = "token.json"

	minConcurrency    = 1
	maxConcurrency    = 10
	minRequestTimeout = 5
	maxRequestTimeout = 300
)

type MirrorConfig struct {
	Bucket          string `yaml:"bucket" toml:"bucket"`
	Region          string `yaml:"region" toml:"region"`
	Prefix          string `yaml:"prefix" toml:"prefix"`
	Endpoint        string `yaml:"endpoint" toml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id" toml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" toml:"secret_access_key"`
}

func (m *MirrorConfig) Enabled() bool {
	return m.Bucket != ""
}

type Config struct {
	ClientID               string       `yaml:"client_id" toml:"client_id"`
	ClientSecret           string       `yaml:"client_secret" toml:"client_secret"`
	RedirectURI            string       `yaml:"redirect_uri" toml:"redirect_uri"`
	Scopes                 []string     `yaml:"scopes" toml:"scopes"`
	UserID                 string       `yaml:"user_id" toml:"user_id"`
	OAuthBaseURL           string       `yaml:"oauth_base_url" toml:"oauth_base_url"`
	APIBaseURL             string       `yaml:"api_base_url" toml:"api_base_url"`
	OutputDirectory        string       `yaml:"output_directory" toml:"output_directory"`
	MaxConcurrentDownloads int          `yaml:"max_concurrent_downloads" toml:"max_concurrent_downloads"`
	RequestTimeoutSeconds  int          `yaml:"request_timeout_seconds" toml:"request_timeout_seconds"`
	MaxRetries             int          `yaml:"max_retries" toml:"max_retries"`
	ChunkSize              int          `yaml:"chunk_size" toml:"chunk_size"`
	LogLevel               string       `yaml:"log_level" toml:"log_level"`
	TokenFile              string       `yaml:"token_file" toml:"token_file"`
	RedisURL               string       `yaml:"redis_url" toml:"redis_url"`
	CallbackListen         string       `yaml:"callback_listen" toml:"callback_listen"`
	Mirror                 MirrorConfig `yaml:"mirror" toml:"mirror"`
}

// Load reads .env, then the config file at path (or the default location), then
// RECFETCH_* environment overrides. The result has defaults applied and is validated.
// A missing file is an error only when path was given explicitly.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, common.Configuration("cannot load .env: %v", err)
	}

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	cfg := &Config{}
	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			if explicit || !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}

	return cfg
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: cannot read config %s: %w", common.ErrConfigurationError, path, err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return common.Configuration("cannot parse %s: %v", path, err)
		}
	case ".yml", ".yaml", "":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return common.Configuration("cannot parse %s: %v", path, err)
		}
	default:
		return common.Configuration("unsupported config format %q", ext)
	}

	return nil
}

// DefaultPath is $RECFETCH_CONFIG, else config.yml under the XDG config directory.
func DefaultPath() string {
	if v := os.Getenv(EnvConfigPath); v != "" {
		return v
	}

	if dir := configDir(); dir != "" {
		return filepath.Join(dir, "config.yml")
	}

	return ""
}

func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appDir)
	}

	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", appDir)
	}

	return ""
}

func applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"CLIENT_ID":                &cfg.ClientID,
		"CLIENT_SECRET":            &cfg.ClientSecret,
		"REDIRECT_URI":             &cfg.RedirectURI,
		"USER_ID":                  &cfg.UserID,
		"OAUTH_BASE_URL":           &cfg.OAuthBaseURL,
		"API_BASE_URL":             &cfg.APIBaseURL,
		"OUTPUT_DIRECTORY":         &cfg.OutputDirectory,
		"LOG_LEVEL":                &cfg.LogLevel,
		"TOKEN_FILE":               &cfg.TokenFile,
		"REDIS_URL":                &cfg.RedisURL,
		"CALLBACK_LISTEN":          &cfg.CallbackListen,
		"MIRROR_BUCKET":            &cfg.Mirror.Bucket,
		"MIRROR_REGION":            &cfg.Mirror.Region,
		"MIRROR_PREFIX":            &cfg.Mirror.Prefix,
		"MIRROR_ENDPOINT":          &cfg.Mirror.Endpoint,
		"MIRROR_ACCESS_KEY_ID":     &cfg.Mirror.AccessKeyID,
		"MIRROR_SECRET_ACCESS_KEY": &cfg.Mirror.SecretAccessKey,
	}
	for name, dst := range strs {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"MAX_CONCURRENT_DOWNLOADS": &cfg.MaxConcurrentDownloads,
		"REQUEST_TIMEOUT_SECONDS":  &cfg.RequestTimeoutSeconds,
		"MAX_RETRIES":              &cfg.MaxRetries,
		"CHUNK_SIZE":               &cfg.ChunkSize,
	}
	for name, dst := range ints {
		v := os.Getenv(EnvPrefix + name)
		if v == "" {
			continue
		}

		n, err := strconv.Atoi(v)
		if err != nil {
			return common.Configuration("%s%s must be a number: %v", EnvPrefix, name, err)
		}
		*dst = n
	}

	if v := os.Getenv(EnvPrefix + "SCOPES"); v != "" {
		cfg.Scopes = splitComma(v)
	}

	return nil
}

func splitComma(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}

	return out
}

func (c *Config) SetDefaults() {
	if c.UserID == "" {
		c.UserID = defaultUserID
	}
	if c.OAuthBaseURL == "" {
		c.OAuthBaseURL = defaultOAuthBaseURL
	}
	if c.APIBaseURL == "" {
		c.APIBaseURL = defaultAPIBaseURL
	}
	if c.RedirectURI == "" {
		c.RedirectURI = defaultRedirectURI
	}
	if c.OutputDirectory == "" {
		c.OutputDirectory = defaultOutputDirectory
	}
	c.OutputDirectory = expandTilde(c.OutputDirectory)
	if c.MaxConcurrentDownloads == 0 {
		c.MaxConcurrentDownloads = defaultConcurrency
	}
	if c.RequestTimeoutSeconds == 0 {
		c.RequestTimeoutSeconds = defaultRequestTimeout
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = defaultChunkSize
	}
	if c.LogLevel == "" {
		c.LogLevel = LogLevelInfo
	}
	if c.TokenFile == "" {
		if dir := configDir(); dir != "" {
			c.TokenFile = filepath.Join(dir, defaultTokenFile)
		} else {
			c.TokenFile = defaultTokenFile
		}
	}
	c.TokenFile = expandTilde(c.TokenFile)
	if c.CallbackListen == "" {
		if u, err := url.Parse(c.RedirectURI); err == nil && u.Host != "" {
			c.CallbackListen = u.Host
			if u.Port() == "" {
				c.CallbackListen = net.JoinHostPort(u.Hostname(), "80")
			}
		}
	}
}

func (c *Config) Validate() error {
	if c.ClientID == "" || c.ClientSecret == "" {
		return common.Configuration("client_id and client_secret are required")
	}

	if c.MaxConcurrentDownloads < minConcurrency || c.MaxConcurrentDownloads > maxConcurrency {
		return common.Configuration("max_concurrent_downloads must be between %d and %d, got %d",
			minConcurrency, maxConcurrency, c.MaxConcurrentDownloads)
	}

	if c.RequestTimeoutSeconds < minRequestTimeout || c.RequestTimeoutSeconds > maxRequestTimeout {
		return common.Configuration("request_timeout_seconds must be between %d and %d, got %d",
			minRequestTimeout, maxRequestTimeout, c.RequestTimeoutSeconds)
	}

	if c.MaxRetries < 1 {
		return common.Configuration("max_retries must be at least 1, got %d", c.MaxRetries)
	}

	if c.ChunkSize <= 0 {
		return common.Configuration("chunk_size must be positive, got %d", c.ChunkSize)
	}

	switch c.LogLevel {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
	default:
		return common.Configuration("unknown log_level %q", c.LogLevel)
	}

	for name, raw := range map[string]string{
		"redirect_uri":   c.RedirectURI,
		"oauth_base_url": c.OAuthBaseURL,
		"api_base_url":   c.APIBaseURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return common.Configuration("%s must be an absolute URL, got %q", name, raw)
		}
	}

	if c.Mirror.Enabled() && c.Mirror.Region == "" {
		return common.Configuration("mirror.region is required when mirror.bucket is set")
	}

	return nil
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// CallbackPath is the path component of the redirect URI served by the login command.
func (c *Config) CallbackPath() string {
	u, err := url.Parse(c.RedirectURI)
	if err != nil || u.Path == "" {
		return "/"
	}

	return u.Path
}

func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}

	return path
}
