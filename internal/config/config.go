package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"roulette/internal/logging"
	"roulette/internal/matcher"
	"roulette/internal/moderation"
	"roulette/internal/ratelimit"
	dbconfig "roulette/pkg/database"
)

// EnvPrefix namespaces every environment override
const EnvPrefix = "ROULETTE_"

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Each section mirrors the settings struct of the package it configures
type Config struct {
	HTTP       HTTPConfig        `json:"http" yaml:"http"`
	WebSocket  WebSocketConfig   `json:"websocket" yaml:"websocket"`
	Database   dbconfig.Config   `json:"database" yaml:"database"`
	Log        logging.Config    `json:"log" yaml:"log"`
	Matching   MatchingConfig    `json:"matching" yaml:"matching"`
	Limits     LimitsConfig      `json:"limits" yaml:"limits"`
	Reaper     ReaperConfig      `json:"reaper" yaml:"reaper"`
	Moderation moderation.Config `json:"moderation" yaml:"moderation"`
}

type HTTPConfig struct {
	Host            string        `json:"host" yaml:"host"`
	Port            int           `json:"port" yaml:"port"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `json:"allowed_origins" yaml:"allowed_origins"`
	// TrustProxyHeaders keys the connect budget on X-Forwarded-For; enable
	// only behind a reverse proxy that sets it
	TrustProxyHeaders bool `json:"trust_proxy_headers" yaml:"trust_proxy_headers"`
}

// FUNCTIONAL DISCOVERY: Keepalive and flood settings are per connection;
// EventBuffer sizes the single channel every connection feeds
type WebSocketConfig struct {
	PingInterval    time.Duration `json:"ping_interval" yaml:"ping_interval"`
	PongWait        time.Duration `json:"pong_wait" yaml:"pong_wait"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout"`
	SendBuffer      int           `json:"send_buffer" yaml:"send_buffer"`
	MaxMessageBytes int64         `json:"max_message_bytes" yaml:"max_message_bytes"`
	FramesPerSecond float64       `json:"frames_per_second" yaml:"frames_per_second"`
	FrameBurst      int           `json:"frame_burst" yaml:"frame_burst"`
	EventBuffer     int           `json:"event_buffer" yaml:"event_buffer"`
}

type MatchingConfig struct {
	Weights         matcher.Weights `json:"weights" yaml:"weights"`
	RequeuePriority int             `json:"requeue_priority" yaml:"requeue_priority"`
}

type LimitsConfig struct {
	Connect ratelimit.Budget `json:"connect" yaml:"connect"`
	General ratelimit.Budget `json:"general" yaml:"general"`
	Ready   ratelimit.Budget `json:"ready" yaml:"ready"`
	Chat    ratelimit.Budget `json:"chat" yaml:"chat"`
	Report  ratelimit.Budget `json:"report" yaml:"report"`
}

type ReaperConfig struct {
	Interval       time.Duration `json:"interval" yaml:"interval"`
	SessionTimeout time.Duration `json:"session_timeout" yaml:"session_timeout"`
}

// DefaultConfig returns production settings
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		WebSocket: WebSocketConfig{
			PingInterval:    30 * time.Second,
			PongWait:        60 * time.Second,
			WriteTimeout:    10 * time.Second,
			SendBuffer:      100,
			MaxMessageBytes: 64 * 1024,
			FramesPerSecond: 50,
			FrameBurst:      100,
			EventBuffer:     1000,
		},
		Database: *dbconfig.DefaultConfig(),
		Log:      logging.DefaultConfig(),
		Matching: MatchingConfig{
			Weights:         matcher.DefaultWeights(),
			RequeuePriority: 1,
		},
		Limits: LimitsConfig{
			Connect: ratelimit.Budget{Max: 20, Window: time.Minute},
			General: ratelimit.Budget{Max: 300, Window: time.Minute},
			Ready:   ratelimit.Budget{Max: 10, Window: time.Minute},
			Chat:    ratelimit.Budget{Max: 30, Window: time.Minute},
			Report:  ratelimit.Budget{Max: 5, Window: 10 * time.Minute},
		},
		Reaper: ReaperConfig{
			Interval:       60 * time.Second,
			SessionTimeout: 5 * time.Minute,
		},
		Moderation: moderation.DefaultConfig(),
	}
}

// Validate rejects settings the server cannot run with
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 || c.HTTP.ShutdownTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}

	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.PongWait <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket pong wait must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.SendBuffer <= 0 || c.WebSocket.EventBuffer <= 0 {
		return fmt.Errorf("WebSocket buffer sizes must be positive")
	}
	if c.WebSocket.MaxMessageBytes <= 0 {
		return fmt.Errorf("WebSocket max message bytes must be positive")
	}
	if c.WebSocket.FramesPerSecond < 0 || (c.WebSocket.FramesPerSecond > 0 && c.WebSocket.FrameBurst <= 0) {
		return fmt.Errorf("WebSocket frame rate needs a positive burst")
	}

	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log: %w", err)
	}

	w := c.Matching.Weights
	if w.WaitDivisorMs <= 0 {
		return fmt.Errorf("matching wait divisor must be positive")
	}
	if w.Threshold < 0 || w.WaitBonusCap < 0 {
		return fmt.Errorf("matching threshold and wait bonus cap cannot be negative")
	}
	if c.Matching.RequeuePriority < 0 {
		return fmt.Errorf("requeue priority cannot be negative")
	}

	budgets := map[string]ratelimit.Budget{
		"connect": c.Limits.Connect,
		"general": c.Limits.General,
		"ready":   c.Limits.Ready,
		"chat":    c.Limits.Chat,
		"report":  c.Limits.Report,
	}
	for name, b := range budgets {
		if b.Max <= 0 || b.Window <= 0 {
			return fmt.Errorf("limit %s needs a positive max and window", name)
		}
	}

	if c.Reaper.Interval <= 0 || c.Reaper.SessionTimeout <= 0 {
		return fmt.Errorf("reaper interval and session timeout must be positive")
	}

	if c.Moderation.URL != "" && c.Moderation.Exchange == "" {
		return fmt.Errorf("moderation exchange cannot be empty when a broker URL is set")
	}
	return nil
}

// Address is the HTTP listen address
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// LoadFromEnv applies ROULETTE_* variables on top of the defaults
func LoadFromEnv() (*Config, error) {
	config := DefaultConfig()
	if err := applyEnv(config, os.Getenv); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnv overrides the settings operators change most often
func applyEnv(c *Config, getenv func(string) string) error {
	var errs []error
	str := func(name string, dst *string) {
		if v := getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v := getenv(EnvPrefix + name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v := getenv(EnvPrefix + name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}

	str("HTTP_HOST", &c.HTTP.Host)
	num("HTTP_PORT", &c.HTTP.Port)
	dur("HTTP_READ_TIMEOUT", &c.HTTP.ReadTimeout)
	dur("HTTP_WRITE_TIMEOUT", &c.HTTP.WriteTimeout)
	if v := getenv(EnvPrefix + "TRUST_PROXY_HEADERS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sTRUST_PROXY_HEADERS: %w", EnvPrefix, err))
		} else {
			c.HTTP.TrustProxyHeaders = b
		}
	}
	if v := getenv(EnvPrefix + "ALLOWED_ORIGINS"); v != "" {
		c.HTTP.AllowedOrigins = splitList(v)
	}

	dur("WEBSOCKET_PING_INTERVAL", &c.WebSocket.PingInterval)
	dur("WEBSOCKET_PONG_WAIT", &c.WebSocket.PongWait)
	num("WEBSOCKET_SEND_BUFFER", &c.WebSocket.SendBuffer)
	num("EVENT_BUFFER", &c.WebSocket.EventBuffer)

	str("DATABASE_PATH", &c.Database.DatabasePath)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	dur("REAPER_INTERVAL", &c.Reaper.Interval)
	dur("SESSION_TIMEOUT", &c.Reaper.SessionTimeout)

	str("MODERATION_URL", &c.Moderation.URL)
	str("MODERATION_EXCHANGE", &c.Moderation.Exchange)

	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// LoadFromFile reads a .json, .yaml or .yml file over the defaults.
// TECHNICAL DISCOVERY: Both formats go through yaml.v3, which accepts JSON
// documents and parses duration strings ("30s") into time.Duration fields.
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := mergeFile(config, path); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

func mergeFile(c *Config, path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// LoadConfigWithPrecedence resolves defaults, then the file (if any), then environment
func LoadConfigWithPrecedence(path string) (*Config, error) {
	config := DefaultConfig()

	if path != "" {
		if err := mergeFile(config, path); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(config, os.Getenv); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// YAML renders the effective configuration
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
