package config

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// ErrConfig marks configuration faults. They are fatal at startup.
var ErrConfig = errors.New("config error")

// Liveness transports.
const (
	TransportNone      = "none"
	TransportFD        = "fd"
	TransportWebSocket = "websocket"
)

// Config holds all server configuration.
type Config struct {
	Server    ServerConfig
	Secure    SecureConfig
	Pipeline  PipelineConfig
	Shutdown  ShutdownConfig
	Pool      PoolConfig
	Liveness  LivenessConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Data      DataConfig
	Static    StaticConfig
	I18n      I18nConfig
	CORS      CORSConfig
}

// ServerConfig holds HTTP transport configuration.
type ServerConfig struct {
	Port           int    `envconfig:"PORT" default:"8080"`
	Host           string `envconfig:"HOST" default:"0.0.0.0"`
	MaxConnections int    `envconfig:"MAX_CONNECTIONS" default:"0"`
	MaxBodyBytes   int64  `envconfig:"MAX_BODY_BYTES" default:"10485760"`
	Compression    bool   `envconfig:"COMPRESSION" default:"true"`
	// DisableNagleAlgorithm is the global default; routes may override it.
	DisableNagleAlgorithm bool `envconfig:"DISABLE_NAGLE" default:"false"`
	// RetryAfter is the Retry-After hint, in seconds, sent while draining.
	RetryAfter int `envconfig:"RETRY_AFTER" default:"10"`
	// Modules restricts which registered module groups are mounted. Empty mounts all.
	Modules []string `envconfig:"MODULES"`
}

// SecureConfig enables TLS when both files are set.
type SecureConfig struct {
	Key  string `envconfig:"TLS_KEY"`
	Cert string `envconfig:"TLS_CERT"`
}

// PipelineConfig holds per-request stage settings.
type PipelineConfig struct {
	// MiddlewareTimeout in seconds; routes may override it.
	MiddlewareTimeout int `envconfig:"MIDDLEWARE_TIMEOUT" default:"10"`
}

// ShutdownConfig holds drain settings.
type ShutdownConfig struct {
	// InstantShutdownDelay in milliseconds.
	InstantShutdownDelay int `envconfig:"INSTANT_SHUTDOWN_DELAY" default:"1500"`
}

// PoolConfig holds deferred-response registry settings.
type PoolConfig struct {
	// TTL of a pool entry. Zero keeps entries for the life of the process.
	TTL           time.Duration `envconfig:"POOL_TTL" default:"0s"`
	SweepInterval time.Duration `envconfig:"POOL_SWEEP_INTERVAL" default:"60s"`
}

// LivenessConfig holds supervisor channel settings.
type LivenessConfig struct {
	Transport      string `envconfig:"LIVENESS_TRANSPORT" default:"none"`
	FD             int    `envconfig:"LIVENESS_FD" default:"3"`
	URL            string `envconfig:"LIVENESS_URL"`
	MaxOutstanding int    `envconfig:"LIVENESS_MAX_OUTSTANDING" default:"2"`
	// WaitForStart delays binding the listener until a start message arrives.
	WaitForStart bool `envconfig:"LIVENESS_WAIT_START" default:"false"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
	PingPong    bool   `envconfig:"PINGPONG_LOG" default:"false"`
	Path        string `envconfig:"LOG_PATH"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
	// Global shares one budget across all clients instead of one per IP.
	Global bool `envconfig:"RATE_LIMIT_GLOBAL" default:"false"`
}

// DataConfig selects data-access layers.
type DataConfig struct {
	UseDals       []string `envconfig:"USE_DALS"`
	SkipDbWarning bool     `envconfig:"SKIP_DB_WARNING" default:"false"`
	// Settings holds per-DAL settings when useDals is given as an object.
	Settings map[string]any `ignored:"true"`
}

// StaticConfig configures the static fallback for unmatched paths.
type StaticConfig struct {
	Root string `envconfig:"STATIC_ROOT"`
}

// I18nConfig configures localized strings.
type I18nConfig struct {
	DefaultLanguage string `envconfig:"I18N_DEFAULT" default:"en"`
	File            string `envconfig:"I18N_FILE"`
}

// CORSConfig holds cross-origin settings. A "*" origin allows any origin
// and cannot be combined with credentials.
type CORSConfig struct {
	Origins     []string      `envconfig:"CORS_ORIGINS" default:"*"`
	Credentials bool          `envconfig:"CORS_CREDENTIALS" default:"false"`
	MaxAge      time.Duration `envconfig:"CORS_MAX_AGE" default:"12h"`
}

// Load loads configuration from environment variables, then overlays
// CONFIG_FILE when set, and validates the result.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if path := lookupConfigFile(); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			MaxBodyBytes: 10 << 20,
			Compression:  true,
			RetryAfter:   10,
		},
		Pipeline: PipelineConfig{
			MiddlewareTimeout: 10,
		},
		Shutdown: ShutdownConfig{
			InstantShutdownDelay: 1500,
		},
		Pool: PoolConfig{
			SweepInterval: time.Minute,
		},
		Liveness: LivenessConfig{
			Transport:      TransportNone,
			FD:             3,
			MaxOutstanding: 2,
		},
		Logging: LogConfig{
			Level: "info",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		I18n: I18nConfig{
			DefaultLanguage: "en",
		},
		CORS: CORSConfig{
			Origins: []string{"*"},
			MaxAge:  12 * time.Hour,
		},
	}
}

// Validate checks the configuration once at startup.
func (c *Config) Validate() error {
	if (c.Secure.Key == "") != (c.Secure.Cert == "") {
		return fmt.Errorf("%w: secure.key and secure.cert must be set together", ErrConfig)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrConfig, c.Server.Port)
	}
	if c.Pipeline.MiddlewareTimeout <= 0 {
		return fmt.Errorf("%w: middlewareTimeout must be positive", ErrConfig)
	}
	if c.Shutdown.InstantShutdownDelay < 0 {
		return fmt.Errorf("%w: instantShutdownDelay must not be negative", ErrConfig)
	}
	if c.Server.RetryAfter < 0 {
		return fmt.Errorf("%w: retryAter must not be negative", ErrConfig)
	}
	if c.Pool.TTL < 0 {
		return fmt.Errorf("%w: poolTTL must not be negative", ErrConfig)
	}
	if c.Pool.TTL > 0 && c.Pool.SweepInterval <= 0 {
		return fmt.Errorf("%w: poolSweepInterval must be positive when poolTTL is set", ErrConfig)
	}
	if err := checkNames("useDals", c.Data.UseDals); err != nil {
		return err
	}
	if err := checkNames("modules", c.Server.Modules); err != nil {
		return err
	}
	if err := checkNames("cors.origins", c.CORS.Origins); err != nil {
		return err
	}
	if c.CORS.Credentials && slices.Contains(c.CORS.Origins, "*") {
		return fmt.Errorf("%w: cors credentials need explicit origins, not \"*\"", ErrConfig)
	}

	switch c.Liveness.Transport {
	case TransportNone, TransportFD:
	case TransportWebSocket:
		if c.Liveness.URL == "" {
			return fmt.Errorf("%w: liveness websocket transport requires a url", ErrConfig)
		}
	default:
		return fmt.Errorf("%w: unknown liveness transport %q", ErrConfig, c.Liveness.Transport)
	}
	if c.Liveness.MaxOutstanding < 1 {
		return fmt.Errorf("%w: liveness maxOutstanding must be at least 1", ErrConfig)
	}
	return nil
}

func checkNames(field string, names []string) error {
	for i, name := range names {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%w: %s[%d] is empty", ErrConfig, field, i)
		}
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// TLSEnabled reports whether the listener should serve HTTPS.
func (c *Config) TLSEnabled() bool {
	return c.Secure.Key != "" && c.Secure.Cert != ""
}

// MiddlewareTimeout returns the global stage deadline.
func (c *Config) MiddlewareTimeout() time.Duration {
	return time.Duration(c.Pipeline.MiddlewareTimeout) * time.Second
}

// InstantShutdownDelay returns the maximum drain duration.
func (c *Config) InstantShutdownDelay() time.Duration {
	return time.Duration(c.Shutdown.InstantShutdownDelay) * time.Millisecond
}
