// Package config handles CLI parsing, TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

const appDirName = "stream-proxy"

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config   string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Port     int    `kong:"short='p',help='Loopback listen port (overrides config; 0 lets the OS pick).',env='PORT'"`
	LogLevel string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	StoreDir string `kong:"help='Directory holding the UI config blob (overrides config).',env='STREAM_PROXY_STORE_DIR'"`

	Serve ServeCmd `kong:"cmd,default='1',help='Run the loopback stream proxy.'"`
	Fetch FetchCmd `kong:"cmd,help='Fetch a playlist and print its body and final URL as JSON.'"`
}

// ServeCmd runs the proxy until interrupted.
type ServeCmd struct{}

// FetchCmd performs a single playlist fetch without starting the proxy.
type FetchCmd struct {
	URL string `kong:"arg,help='Absolute http(s) URL to fetch.'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	Manifest ManifestConfig `toml:"manifest"`
	Store    StoreConfig    `toml:"store"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host      string          `toml:"host"`
	Port      int             `toml:"port"` // 0 means an OS-assigned ephemeral port
	RateLimit RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// UpstreamConfig holds outbound fetch settings.
type UpstreamConfig struct {
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	IdleConnections int    `toml:"idle_connections"`
	MaxRedirects    int    `toml:"max_redirects"`
	UserAgent       string `toml:"user_agent"`
}

// ManifestConfig bounds manifest buffering and extends the URI-bearing tag set.
type ManifestConfig struct {
	MaxBytes         int64    `toml:"max_bytes"`
	MaxPlaylistBytes int64    `toml:"max_playlist_bytes"`
	URITags          []string `toml:"uri_tags"`
}

// StoreConfig locates the opaque UI config blob.
type StoreConfig struct {
	Dir string `toml:"dir"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file (if any) and applies CLI overrides.
// An explicit path (via --config or CONFIG_PATH) must exist. Without one, the
// user config dir and configs/config.toml are searched, and built-in defaults
// are used when neither exists.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	if cli.StoreDir != "" {
		c.Store.Dir = cli.StoreDir
	}
}

func (c *Config) validate() error {
	if c.Server.Host != "" {
		ip := net.ParseIP(c.Server.Host)
		if ip == nil || !ip.IsLoopback() {
			return fmt.Errorf("server.host must be a loopback address; got %q", c.Server.Host)
		}
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Upstream.MaxRedirects < 0 {
		return fmt.Errorf("upstream.max_redirects must be non-negative; got %d", c.Upstream.MaxRedirects)
	}
	if c.Manifest.MaxBytes < 0 {
		return fmt.Errorf("manifest.max_bytes must be non-negative; got %d", c.Manifest.MaxBytes)
	}
	if c.Manifest.MaxPlaylistBytes < 0 {
		return fmt.Errorf("manifest.max_playlist_bytes must be non-negative; got %d", c.Manifest.MaxPlaylistBytes)
	}
	for _, tag := range c.Manifest.URITags {
		if !strings.HasPrefix(tag, "#") || strings.ContainsAny(tag, ": \t") {
			return fmt.Errorf("manifest.uri_tags entries must look like #TAG-NAME; got %q", tag)
		}
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range []string{"/proxy", "/commands", "/healthz"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// Server.Port is deliberately left alone: zero asks the OS for a free port.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 15
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 64
	}
	if c.Upstream.MaxRedirects == 0 {
		c.Upstream.MaxRedirects = 10
	}
	if c.Upstream.UserAgent == "" {
		c.Upstream.UserAgent = "stream-proxy-go/1.0"
	}
	if c.Manifest.MaxBytes == 0 {
		c.Manifest.MaxBytes = 4 * 1024 * 1024 // 4 MB
	}
	if c.Manifest.MaxPlaylistBytes == 0 {
		c.Manifest.MaxPlaylistBytes = 32 * 1024 * 1024 // 32 MB
	}
	if c.Store.Dir == "" {
		c.Store.Dir = defaultStoreDir()
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

func defaultStoreDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, appDirName)
	}
	return filepath.Join(".", "."+appDirName)
}

// searchPaths lists config paths checked in order when no explicit config is given.
func searchPaths() []string {
	var paths []string
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, appDirName, "config.toml"))
	}
	return append(paths, "configs/config.toml")
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(searchPaths())
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// WarnPermissions logs a warning if the config file is writable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o022 != 0 {
		logger.Warn("config file is writable by group/others; consider chmod 644",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
