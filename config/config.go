// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/absmach/overload/topics"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the overload consumer.
type Config struct {
	Broker  BrokerConfig  `yaml:"broker"`
	Load    LoadConfig    `yaml:"load"`
	Handler HandlerConfig `yaml:"handler"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	Health  HealthConfig  `yaml:"health"`
}

// BrokerConfig describes how every worker connects to the broker.
type BrokerConfig struct {
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	Transport         string        `yaml:"transport"` // tcp, ws
	WSPath            string        `yaml:"ws_path"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	ProtocolVersion   byte          `yaml:"protocol_version"` // 3, 4 or 5
	PersistentSession bool          `yaml:"persistent_session"`
	SessionExpiry     time.Duration `yaml:"session_expiry"`
	KeepAlive         time.Duration `yaml:"keep_alive"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	AckTimeout        time.Duration `yaml:"ack_timeout"` // per subscribe/unsubscribe/disconnect
}

// LoadConfig describes the generated load.
type LoadConfig struct {
	Clients        int           `yaml:"clients"`
	Subscriptions  int           `yaml:"subscriptions"`
	ClientIDPrefix string        `yaml:"client_id_prefix"`
	ShareGroup     string        `yaml:"share_group"`
	TopicBase      string        `yaml:"topic_base"`
	QoS            byte          `yaml:"qos"`
	ConnectRate    float64       `yaml:"connect_rate"` // connections per second, 0 = unlimited
	ConnectBurst   int           `yaml:"connect_burst"`
	InboxSize      int           `yaml:"inbox_size"`
	Duration       time.Duration `yaml:"duration"`      // 0 = until shutdown
	MaxMessages    int64         `yaml:"max_messages"`  // per worker, 0 = unlimited
	DrainTimeout   time.Duration `yaml:"drain_timeout"` // 0 = wait for every worker
}

// HandlerConfig configures the default message handler.
type HandlerConfig struct {
	PayloadFormat string `yaml:"payload_format"` // json, raw
	Compression   string `yaml:"compression"`    // none, gzip, zstd
	LogLevel      string `yaml:"log_level"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// MetricsConfig holds OpenTelemetry export configuration.
type MetricsConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Endpoint       string        `yaml:"endpoint"`
	ServiceName    string        `yaml:"service_name"`
	ServiceVersion string        `yaml:"service_version"`
	TracesEnabled  bool          `yaml:"traces_enabled"`
	TraceSampling  float64       `yaml:"trace_sample_rate"`
	Interval       time.Duration `yaml:"interval"`

	// Exporter
	Insecure      bool              `yaml:"insecure"`       // plaintext gRPC to the collector
	Headers       map[string]string `yaml:"headers"`        // sent with every export request
	Compression   string            `yaml:"compression"`    // "none" or "gzip"
	ExportTimeout time.Duration     `yaml:"export_timeout"` // per export request
}

// HealthConfig holds the status HTTP server configuration.
type HealthConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			Host:              "localhost",
			Port:              1883,
			Transport:         "tcp",
			WSPath:            "/mqtt",
			Username:          "admin",
			Password:          "hivemq",
			ProtocolVersion:   5,
			PersistentSession: true,
			SessionExpiry:     5 * 24 * time.Hour,
			KeepAlive:         30 * time.Second,
			ConnectTimeout:    10 * time.Second,
			AckTimeout:        10 * time.Second,
		},
		Load: LoadConfig{
			Clients:        1,
			Subscriptions:  5,
			ClientIDPrefix: "Subscriber",
			ShareGroup:     topics.DefaultShareGroup,
			TopicBase:      topics.DefaultBase,
			QoS:            1,
			ConnectBurst:   1,
			InboxSize:      256,
		},
		Handler: HandlerConfig{
			PayloadFormat: "json",
			Compression:   "none",
			LogLevel:      "warn",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled:        false,
			Endpoint:       "localhost:4317",
			ServiceName:    "overload-consumer",
			ServiceVersion: "1.0.0",
			TracesEnabled:  false,
			TraceSampling:  0.1,
			Interval:       10 * time.Second,
			Insecure:       true,
			Compression:    "none",
			ExportTimeout:  30 * time.Second,
		},
		Health: HealthConfig{
			Enabled:         false,
			Addr:            ":8081",
			ShutdownTimeout: 5 * time.Second,
		},
	}
}

// Load loads configuration from a YAML file.
// If the file doesn't exist, returns default configuration.
func Load(filename string) (*Config, error) {
	if filename == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Broker.Host == "" {
		return fmt.Errorf("broker.host cannot be empty")
	}
	if c.Broker.Port < 1 || c.Broker.Port > 65535 {
		return fmt.Errorf("broker.port must be between 1 and 65535")
	}
	switch c.Broker.Transport {
	case "tcp":
	case "ws":
		if !strings.HasPrefix(c.Broker.WSPath, "/") {
			return fmt.Errorf("broker.ws_path must start with '/'")
		}
	default:
		return fmt.Errorf("broker.transport must be one of: tcp, ws")
	}
	switch c.Broker.ProtocolVersion {
	case 3, 4, 5:
	default:
		return fmt.Errorf("broker.protocol_version must be 3, 4 or 5")
	}
	if c.Broker.Password != "" && c.Broker.Username == "" {
		return fmt.Errorf("broker.password requires broker.username")
	}
	if c.Broker.SessionExpiry < 0 {
		return fmt.Errorf("broker.session_expiry cannot be negative")
	}
	if c.Broker.KeepAlive < 0 {
		return fmt.Errorf("broker.keep_alive cannot be negative")
	}
	if c.Broker.ConnectTimeout <= 0 {
		return fmt.Errorf("broker.connect_timeout must be positive")
	}
	if c.Broker.AckTimeout < 0 {
		return fmt.Errorf("broker.ack_timeout cannot be negative")
	}

	if c.Load.Clients < 1 {
		return fmt.Errorf("load.clients must be at least 1")
	}
	if c.Load.Subscriptions < 1 {
		return fmt.Errorf("load.subscriptions must be at least 1")
	}
	if c.Load.ClientIDPrefix == "" {
		return fmt.Errorf("load.client_id_prefix cannot be empty")
	}
	if err := topics.ValidateShareName(c.Load.ShareGroup); err != nil {
		return fmt.Errorf("load.share_group: %w", err)
	}
	if err := topics.ValidateTopicName(strings.Trim(c.Load.TopicBase, "/")); err != nil {
		return fmt.Errorf("load.topic_base: %w", err)
	}
	if c.Load.QoS != 1 {
		return fmt.Errorf("load.qos must be 1")
	}
	if c.Load.ConnectRate < 0 {
		return fmt.Errorf("load.connect_rate cannot be negative")
	}
	if c.Load.ConnectRate > 0 && c.Load.ConnectBurst < 1 {
		return fmt.Errorf("load.connect_burst must be at least 1 when connect_rate is set")
	}
	if c.Load.InboxSize < 0 {
		return fmt.Errorf("load.inbox_size cannot be negative")
	}
	if c.Load.Duration < 0 || c.Load.MaxMessages < 0 || c.Load.DrainTimeout < 0 {
		return fmt.Errorf("load.duration, load.max_messages and load.drain_timeout cannot be negative")
	}

	switch c.Handler.PayloadFormat {
	case "json", "raw":
	default:
		return fmt.Errorf("handler.payload_format must be one of: json, raw")
	}
	switch c.Handler.Compression {
	case "none", "gzip", "zstd":
	default:
		return fmt.Errorf("handler.compression must be one of: none, gzip, zstd")
	}
	if _, err := ParseLevel(c.Handler.LogLevel); err != nil {
		return fmt.Errorf("handler.log_level: %w", err)
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be one of: text, json")
	}

	if c.Metrics.Enabled {
		if c.Metrics.Endpoint == "" {
			return fmt.Errorf("metrics.endpoint required when metrics are enabled")
		}
		if c.Metrics.Interval <= 0 {
			return fmt.Errorf("metrics.interval must be positive")
		}
		if c.Metrics.TraceSampling < 0 || c.Metrics.TraceSampling > 1 {
			return fmt.Errorf("metrics.trace_sample_rate must be between 0.0 and 1.0")
		}
		if c.Metrics.Compression != "none" && c.Metrics.Compression != "gzip" {
			return fmt.Errorf("metrics.compression must be one of: none, gzip")
		}
		if c.Metrics.ExportTimeout <= 0 {
			return fmt.Errorf("metrics.export_timeout must be positive")
		}
	}

	if c.Health.Enabled && c.Health.Addr == "" {
		return fmt.Errorf("health.addr required when health is enabled")
	}

	return nil
}

// ParseLevel maps a level name onto slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown level %q, must be one of: debug, info, warn, error", s)
	}
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
