package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// DefaultPort is the RPC server port used when none, or an unparsable one,
// is configured.
const DefaultPort = 9001

// DefaultAllowedOrigins are the browser origins allowed to open the
// WebSocket tunnel.
var DefaultAllowedOrigins = []string{
	"https://ui.perfetto.dev",
	"http://localhost:10000",
	"http://127.0.0.1:10000",
}

var ErrUnsupportedFormat = errors.New("config: unsupported file format")

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Engine    EngineConfig    `yaml:"engine" toml:"engine"`
	CORS      CORSConfig      `yaml:"cors" toml:"cors"`
	WebSocket WebSocketConfig `yaml:"websocket" toml:"websocket"`
	Logging   LogConfig       `yaml:"logging" toml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds HTTP listener configuration.
type ServerConfig struct {
	Host            string        `envconfig:"HOST" yaml:"host" toml:"host"`
	Port            string        `envconfig:"PORT" yaml:"port" toml:"port"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" yaml:"shutdown_timeout" toml:"shutdown_timeout"`
	MaxBodyBytes    int64         `envconfig:"MAX_BODY_BYTES" yaml:"max_body_bytes" toml:"max_body_bytes"`
}

// EngineConfig holds the analysis engine connection.
type EngineConfig struct {
	Address     string        `envconfig:"ENGINE_ADDR" yaml:"address" toml:"address"`
	CallTimeout time.Duration `envconfig:"ENGINE_CALL_TIMEOUT" yaml:"call_timeout" toml:"call_timeout"`
}

// CORSConfig holds the origin allow-list.
type CORSConfig struct {
	AllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" yaml:"allowed_origins" toml:"allowed_origins"`
}

// WebSocketConfig holds tunnel limits.
type WebSocketConfig struct {
	ReadLimit    int64         `envconfig:"WS_READ_LIMIT" yaml:"read_limit" toml:"read_limit"`
	WriteTimeout time.Duration `envconfig:"WS_WRITE_TIMEOUT" yaml:"write_timeout" toml:"write_timeout"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" yaml:"level" toml:"level"`
	Development bool   `envconfig:"LOG_DEV" yaml:"development" toml:"development"`
}

// RateLimitConfig holds the global request rate limit.
type RateLimitConfig struct {
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" yaml:"enabled" toml:"enabled"`
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" yaml:"burst" toml:"burst"`
}

// MetricsConfig holds the Prometheus listener. An empty address disables it.
type MetricsConfig struct {
	Address string `envconfig:"METRICS_ADDR" yaml:"address" toml:"address"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            strconv.Itoa(DefaultPort),
			ShutdownTimeout: 5 * time.Second,
			MaxBodyBytes:    1 << 30,
		},
		Engine: EngineConfig{
			Address: "127.0.0.1:9011",
		},
		CORS: CORSConfig{
			AllowedOrigins: append([]string(nil), DefaultAllowedOrigins...),
		},
		WebSocket: WebSocketConfig{
			ReadLimit:    128 << 20,
			WriteTimeout: 30 * time.Second,
		},
		Logging: LogConfig{
			Level: "info",
		},
		RateLimit: RateLimitConfig{
			Enabled:           false,
			RequestsPerSecond: 100,
			Burst:             200,
		},
	}
}

// Load builds the configuration from defaults, then the optional file at
// path, then environment variables. Later sources win.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// ResolvedPort parses the configured port. An unparsable or out-of-range
// value yields DefaultPort and fellBack=true. Port 0 asks the kernel for a
// free port.
func (s ServerConfig) ResolvedPort() (port int, fellBack bool) {
	p, err := strconv.Atoi(strings.TrimSpace(s.Port))
	if err != nil || p < 0 || p > 65535 {
		return DefaultPort, true
	}
	return p, false
}

// ListenAddr returns host:port for the RPC listener.
func (s ServerConfig) ListenAddr() string {
	port, _ := s.ResolvedPort()
	host := s.Host
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Validate checks values that have no sensible fallback.
func (c *Config) Validate() error {
	if c.Engine.Address == "" {
		return errors.New("config: engine address is required")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return errors.New("config: max body bytes must be positive")
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		return errors.New("config: rate limit requires positive rps and burst")
	}
	return nil
}
