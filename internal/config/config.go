// Package config loads potlink settings from defaults and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// MQTTConfig configures the optional sensor telemetry publisher.
// Telemetry is disabled while Broker is empty.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id" default:"potlink"`
	TopicPrefix string `yaml:"topic_prefix" default:"potlink"`
	QoS         int    `yaml:"qos" default:"1"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
}

// Enabled reports whether a broker is configured
func (m MQTTConfig) Enabled() bool {
	return m.Broker != ""
}

// Config holds application configuration
type Config struct {
	LogLevel string `yaml:"log_level" default:"info"`

	ScanTimeout     time.Duration `yaml:"scan_timeout" default:"10s"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" default:"2500ms"`
	RescanInterval  time.Duration `yaml:"rescan_interval" default:"20s"`
	// StaleTimeout of zero means RescanInterval + 1s
	StaleTimeout time.Duration `yaml:"stale_timeout"`

	ConnectTimeout    time.Duration `yaml:"connect_timeout" default:"5s"`
	ReconnectTimeout  time.Duration `yaml:"reconnect_timeout" default:"15s"`
	AckTimeout        time.Duration `yaml:"ack_timeout" default:"10s"`
	ReconnectAttempts int           `yaml:"reconnect_attempts" default:"2"`
	ReconnectBackoff  time.Duration `yaml:"reconnect_backoff" default:"1s"`
	PowerPollInterval time.Duration `yaml:"power_poll_interval" default:"1s"`

	// StorePath is the paired-device directory; empty means ~/.potlink
	StorePath string `yaml:"store_path"`

	MQTT MQTTConfig `yaml:"mqtt"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads path over the defaults. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks ranges and the log level
func (c *Config) Validate() error {
	var errs []error
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	for _, d := range []struct {
		key   string
		value time.Duration
	}{
		{"scan_timeout", c.ScanTimeout},
		{"cleanup_interval", c.CleanupInterval},
		{"connect_timeout", c.ConnectTimeout},
		{"reconnect_timeout", c.ReconnectTimeout},
		{"ack_timeout", c.AckTimeout},
		{"power_poll_interval", c.PowerPollInterval},
	} {
		if d.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", d.key, d.value))
		}
	}
	if c.RescanInterval < 0 {
		errs = append(errs, fmt.Errorf("rescan_interval must not be negative"))
	}
	if c.StaleTimeout < 0 {
		errs = append(errs, fmt.Errorf("stale_timeout must not be negative"))
	}
	if c.ReconnectAttempts < 0 {
		errs = append(errs, fmt.Errorf("reconnect_attempts must not be negative"))
	}
	if c.ReconnectBackoff < 0 {
		errs = append(errs, fmt.Errorf("reconnect_backoff must not be negative"))
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
	}
	return errors.Join(errs...)
}

// EffectiveStaleTimeout resolves the stale threshold
func (c *Config) EffectiveStaleTimeout() time.Duration {
	if c.StaleTimeout > 0 {
		return c.StaleTimeout
	}
	return c.RescanInterval + time.Second
}

// EffectiveStorePath resolves the store directory
func (c *Config) EffectiveStorePath() (string, error) {
	if c.StorePath != "" {
		return c.StorePath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".potlink"), nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
