package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	HTTP    HTTPConfig    `yaml:"http"`
	Tracker TrackerConfig `yaml:"tracker"`
	Output  OutputConfig  `yaml:"output"`
	Capture CaptureConfig `yaml:"capture"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig contains UDP listener configuration
type ServerConfig struct {
	UDPPort     int    `yaml:"udp_port"`
	BindAddress string `yaml:"bind_address"`
	BufferSize  int    `yaml:"buffer_size"`
	Workers     int    `yaml:"workers"`
	QueueSize   int    `yaml:"queue_size"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// TrackerConfig contains per-device session tracking parameters
type TrackerConfig struct {
	DeviceTimeout   int `yaml:"device_timeout"`   // seconds
	CleanupInterval int `yaml:"cleanup_interval"` // seconds
}

// OutputConfig controls the decoded-record JSONL sink
type OutputConfig struct {
	Path           string `yaml:"path"` // "" disables, "-" is stdout
	IncludeRaw     bool   `yaml:"include_raw"`
	IncludeUnknown bool   `yaml:"include_unknown"`
}

// CaptureConfig contains capture-file replay parameters
type CaptureConfig struct {
	UDPPort int `yaml:"udp_port"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used when a file omits a setting
func Default() Config {
	return Config{
		Server: ServerConfig{
			UDPPort:     17754,
			BindAddress: "0.0.0.0",
			BufferSize:  65536,
			Workers:     4,
			QueueSize:   1000,
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "127.0.0.1",
			Enabled: true,
		},
		Tracker: TrackerConfig{
			DeviceTimeout:   300,
			CleanupInterval: 30,
		},
		Output: OutputConfig{
			IncludeUnknown: true,
		},
		Capture: CaptureConfig{
			UDPPort: 17754,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Tracker.Validate(); err != nil {
		return fmt.Errorf("tracker config: %w", err)
	}

	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.UDPPort < 1 || s.UDPPort > 65535 {
		return fmt.Errorf("udp_port must be between 1 and 65535, got %d", s.UDPPort)
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.BufferSize < 1024 {
		return fmt.Errorf("buffer_size must be at least 1024 bytes, got %d", s.BufferSize)
	}

	if s.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", s.Workers)
	}

	if s.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", s.QueueSize)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates tracker configuration
func (t *TrackerConfig) Validate() error {
	if t.DeviceTimeout < 1 {
		return fmt.Errorf("device_timeout must be at least 1 second, got %d", t.DeviceTimeout)
	}

	if t.CleanupInterval < 1 {
		return fmt.Errorf("cleanup_interval must be at least 1 second, got %d", t.CleanupInterval)
	}

	if t.CleanupInterval > t.DeviceTimeout {
		return fmt.Errorf("cleanup_interval (%d) must not exceed device_timeout (%d)",
			t.CleanupInterval, t.DeviceTimeout)
	}

	return nil
}

// Validate validates capture configuration
func (c *CaptureConfig) Validate() error {
	if c.UDPPort < 1 || c.UDPPort > 65535 {
		return fmt.Errorf("udp_port must be between 1 and 65535, got %d", c.UDPPort)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Anything other than stdout/stderr is treated as a file path
	return nil
}

// GetDeviceTimeoutDuration returns the device idle timeout as a time.Duration
func (t *TrackerConfig) GetDeviceTimeoutDuration() time.Duration {
	return time.Duration(t.DeviceTimeout) * time.Second
}

// GetCleanupIntervalDuration returns the cleanup interval as a time.Duration
func (t *TrackerConfig) GetCleanupIntervalDuration() time.Duration {
	return time.Duration(t.CleanupInterval) * time.Second
}

// Address returns the UDP listen address
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.BindAddress, s.UDPPort)
}
