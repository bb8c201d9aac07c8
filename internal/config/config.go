// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/competitor-proxy/config.toml",
	"configs/config.toml",
}

// DefaultBackendURL is the deployed analysis backend, used when neither
// config nor the TARGET environment variable names one.
const DefaultBackendURL = "https://competitor-analysis-backend-342114956303.us-central1.run.app"

// CLI holds command-line arguments parsed by Kong. The env names (PORT,
// TARGET, REQUEST_TIMEOUT) match the original deployment contract.
type CLI struct {
	Config         string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host           string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port           int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	Target         string `kong:"help='Backend base URL (overrides config).',env='TARGET'"`
	RequestTimeout int64  `kong:"help='Inbound request timeout in milliseconds (overrides config).',env='REQUEST_TIMEOUT'"`
	LogLevel       string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Backend BackendConfig `toml:"backend"`
	Breaker BreakerConfig `toml:"breaker"`
	Staging StagingConfig `toml:"staging"`
	Proxy   ProxyConfig   `toml:"proxy"`
	CORS    CORSConfig    `toml:"cors"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"` // 0 means "use default" (3001); TOML cannot distinguish 0 from unset
	// BodyMaxBytes caps every inbound body, multipart included.
	BodyMaxBytes int64 `toml:"body_max_bytes"`
	// RequestTimeoutMS is the inbound read budget. Large multipart uploads
	// arrive over slow links, so this must stay generous.
	RequestTimeoutMS int64           `toml:"request_timeout_ms"`
	RateLimit        RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// BackendConfig holds the upstream analysis backend settings, including the
// per-route timeout budgets. Budgets differ by two orders of magnitude
// between routes, so none of them is hard-coded.
type BackendConfig struct {
	BaseURL         string `toml:"base_url"`
	IdleConnections int    `toml:"idle_connections"`

	TokenTimeoutMS    int64 `toml:"token_timeout_ms"`
	UploadTimeoutMS   int64 `toml:"upload_timeout_ms"`
	AnalysisTimeoutMS int64 `toml:"analysis_timeout_ms"`
	ForwardTimeoutMS  int64 `toml:"forward_timeout_ms"`
}

// BreakerConfig controls the optional upstream circuit breaker. Disabled by
// default: the contract is a single attempt per request with the failure
// surfaced to the caller.
type BreakerConfig struct {
	Enabled       bool   `toml:"enabled"`
	MaxRequests   uint32 `toml:"max_requests"`
	IntervalMS    int64  `toml:"interval_ms"`
	OpenTimeoutMS int64  `toml:"open_timeout_ms"`
}

// StagingConfig controls the on-disk staging area for multipart uploads.
type StagingConfig struct {
	Dir           string `toml:"dir"`
	MaxFileBytes  int64  `toml:"max_file_bytes"`
	SweepSchedule string `toml:"sweep_schedule"` // cron expression; empty disables the janitor
	MaxAgeMinutes int    `toml:"max_age_minutes"`
}

// ProxyConfig holds pass-through forwarding policy.
type ProxyConfig struct {
	// UnauthenticatedPaths lists backend paths (after the /api prefix is
	// stripped) for which a missing Authorization header is expected and
	// not worth logging.
	UnauthenticatedPaths []string `toml:"unauthenticated_paths"`
}

// CORSConfig holds the response headers attached to every reply.
type CORSConfig struct {
	AllowedOrigins []string `toml:"allowed_origins"`
	AllowedMethods []string `toml:"allowed_methods"`
	AllowedHeaders []string `toml:"allowed_headers"`
	// AllowCredentials defaults to true; a pointer is needed because TOML
	// cannot distinguish an explicit false from an omitted key.
	AllowCredentials *bool `toml:"allow_credentials"`
	MaxAgeSeconds    int   `toml:"max_age_seconds"`
}

// Credentials reports whether Access-Control-Allow-Credentials is sent.
func (c *CORSConfig) Credentials() bool {
	return c.AllowCredentials == nil || *c.AllowCredentials
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

// Load reads the TOML config file and applies CLI overrides. When no explicit
// path is given (via --config or CONFIG_PATH), it searches
// /etc/competitor-proxy/config.toml then configs/config.toml. A missing file
// is not an error: the proxy runs on Cloud Run with env-only configuration,
// so defaults plus CLI/env overrides are a complete configuration.
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
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.Target != "" {
		c.Backend.BaseURL = cli.Target
	}
	if cli.RequestTimeout != 0 {
		c.Server.RequestTimeoutMS = cli.RequestTimeout
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// Backend URL must be plain HTTP or HTTPS. HTTP is allowed because
	// local backends are part of the development story.
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil {
		return fmt.Errorf("backend.base_url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("backend.base_url must use http or https; got %q", c.Backend.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("backend.base_url has no host; got %q", c.Backend.BaseURL)
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0-65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Server.RequestTimeoutMS < 0 {
		return fmt.Errorf("server.request_timeout_ms must be non-negative; got %d", c.Server.RequestTimeoutMS)
	}
	for name, v := range map[string]int64{
		"backend.token_timeout_ms":    c.Backend.TokenTimeoutMS,
		"backend.upload_timeout_ms":   c.Backend.UploadTimeoutMS,
		"backend.analysis_timeout_ms": c.Backend.AnalysisTimeoutMS,
		"backend.forward_timeout_ms":  c.Backend.ForwardTimeoutMS,
	} {
		if v < 0 {
			return fmt.Errorf("%s must be non-negative; got %d", name, v)
		}
	}
	if c.Backend.IdleConnections < 0 {
		return fmt.Errorf("backend.idle_connections must be non-negative; got %d", c.Backend.IdleConnections)
	}
	if c.Staging.MaxFileBytes < 0 {
		return fmt.Errorf("staging.max_file_bytes must be non-negative; got %d", c.Staging.MaxFileBytes)
	}
	if c.Staging.MaxAgeMinutes < 0 {
		return fmt.Errorf("staging.max_age_minutes must be non-negative; got %d", c.Staging.MaxAgeMinutes)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range []string{"/api", "/health"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields, zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key. Setting port=0 in the config file
// therefore results in the default port (3001).
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3001
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 200 * 1024 * 1024 // 200 MB
	}
	if c.Server.RequestTimeoutMS == 0 {
		c.Server.RequestTimeoutMS = 300_000
	}
	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = DefaultBackendURL
	}
	if c.Backend.IdleConnections == 0 {
		c.Backend.IdleConnections = 100
	}
	if c.Backend.TokenTimeoutMS == 0 {
		c.Backend.TokenTimeoutMS = 10_000
	}
	if c.Backend.UploadTimeoutMS == 0 {
		c.Backend.UploadTimeoutMS = 600_000
	}
	if c.Backend.AnalysisTimeoutMS == 0 {
		c.Backend.AnalysisTimeoutMS = 600_000
	}
	if c.Backend.ForwardTimeoutMS == 0 {
		c.Backend.ForwardTimeoutMS = 300_000
	}
	if c.Breaker.MaxRequests == 0 {
		c.Breaker.MaxRequests = 10
	}
	if c.Breaker.IntervalMS == 0 {
		c.Breaker.IntervalMS = 60_000
	}
	if c.Breaker.OpenTimeoutMS == 0 {
		c.Breaker.OpenTimeoutMS = 5_000
	}
	if c.Staging.Dir == "" {
		c.Staging.Dir = filepath.Join(os.TempDir(), "competitor-proxy")
	}
	if c.Staging.MaxFileBytes == 0 {
		c.Staging.MaxFileBytes = 200 * 1024 * 1024
	}
	if c.Staging.SweepSchedule == "" {
		c.Staging.SweepSchedule = "@every 15m"
	}
	if c.Staging.MaxAgeMinutes == 0 {
		c.Staging.MaxAgeMinutes = 60
	}
	if c.Proxy.UnauthenticatedPaths == nil {
		c.Proxy.UnauthenticatedPaths = []string{"/token", "/docs", "/openapi.json", "/openapi", "/"}
	}
	if c.CORS.AllowedOrigins == nil {
		c.CORS.AllowedOrigins = []string{"*"}
	}
	if c.CORS.AllowedMethods == nil {
		c.CORS.AllowedMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	}
	if c.CORS.AllowedHeaders == nil {
		c.CORS.AllowedHeaders = []string{"Content-Type", "Authorization", "X-Requested-With"}
	}
	if c.CORS.MaxAgeSeconds == 0 {
		c.CORS.MaxAgeSeconds = 86400
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

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
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
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RequestTimeout returns the inbound request budget as a duration.
func (c *ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

// TokenTimeout returns the credential-exchange budget.
func (c *BackendConfig) TokenTimeout() time.Duration {
	return time.Duration(c.TokenTimeoutMS) * time.Millisecond
}

// UploadTimeout returns the document-upload budget.
func (c *BackendConfig) UploadTimeout() time.Duration {
	return time.Duration(c.UploadTimeoutMS) * time.Millisecond
}

// AnalysisTimeout returns the analysis budget, the longest in the system.
func (c *BackendConfig) AnalysisTimeout() time.Duration {
	return time.Duration(c.AnalysisTimeoutMS) * time.Millisecond
}

// ForwardTimeout returns the generic pass-through budget.
func (c *BackendConfig) ForwardTimeout() time.Duration {
	return time.Duration(c.ForwardTimeoutMS) * time.Millisecond
}

// Interval returns the breaker's rolling-window interval.
func (c *BreakerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMS) * time.Millisecond
}

// OpenTimeout returns how long an open breaker waits before probing again.
func (c *BreakerConfig) OpenTimeout() time.Duration {
	return time.Duration(c.OpenTimeoutMS) * time.Millisecond
}

// MaxAge returns the age past which a staging directory is considered orphaned.
func (c *StagingConfig) MaxAge() time.Duration {
	return time.Duration(c.MaxAgeMinutes) * time.Minute
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
