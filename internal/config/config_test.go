package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(c *Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:        "default configuration",
			modify:      func(c *Config) {},
			expectError: false,
		},
		{
			name: "invalid server port",
			modify: func(c *Config) {
				c.Server.UDPPort = 70000
			},
			expectError: true,
			errorMsg:    "udp_port must be between 1 and 65535",
		},
		{
			name: "no workers",
			modify: func(c *Config) {
				c.Server.Workers = 0
			},
			expectError: true,
			errorMsg:    "workers must be at least 1",
		},
		{
			name: "http disabled ignores port",
			modify: func(c *Config) {
				c.HTTP.Enabled = false
				c.HTTP.Port = 0
			},
			expectError: false,
		},
		{
			name: "http enabled without address",
			modify: func(c *Config) {
				c.HTTP.Address = ""
			},
			expectError: true,
			errorMsg:    "http address cannot be empty",
		},
		{
			name: "cleanup slower than timeout",
			modify: func(c *Config) {
				c.Tracker.DeviceTimeout = 10
				c.Tracker.CleanupInterval = 60
			},
			expectError: true,
			errorMsg:    "must not exceed device_timeout",
		},
		{
			name: "invalid capture port",
			modify: func(c *Config) {
				c.Capture.UDPPort = 0
			},
			expectError: true,
			errorMsg:    "capture config",
		},
		{
			name: "invalid log level",
			modify: func(c *Config) {
				c.Logging.Level = "trace"
			},
			expectError: true,
			errorMsg:    "level must be one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.modify(&config)
			err := config.Validate()

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestConfigLoad(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		errorMsg    string
		validate    func(*Config) bool
	}{
		{
			name: "valid config file",
			configYAML: `
server:
  udp_port: 17754
  bind_address: "0.0.0.0"
  buffer_size: 65536
  workers: 8
  queue_size: 2048
http:
  enabled: true
  address: "0.0.0.0"
  port: 9100
tracker:
  device_timeout: 120
  cleanup_interval: 10
output:
  path: "/var/log/twr/frames.jsonl"
  include_raw: true
logging:
  level: "debug"
  format: "json"
  output: "stderr"
`,
			validate: func(c *Config) bool {
				return c.Server.Workers == 8 &&
					c.Server.QueueSize == 2048 &&
					c.HTTP.Port == 9100 &&
					c.Tracker.DeviceTimeout == 120 &&
					c.Output.Path == "/var/log/twr/frames.jsonl" &&
					c.Output.IncludeRaw &&
					c.Output.IncludeUnknown &&
					c.Logging.Format == "json"
			},
		},
		{
			name: "partial file keeps defaults",
			configYAML: `
logging:
  level: "warn"
`,
			validate: func(c *Config) bool {
				return c.Server.UDPPort == 17754 &&
					c.Server.Workers == 4 &&
					c.Capture.UDPPort == 17754 &&
					c.Logging.Level == "warn" &&
					c.Logging.Format == "text"
			},
		},
		{
			name: "invalid YAML syntax",
			configYAML: `
server:
  udp_port: 17754
  buffer_size: invalid_number
`,
			expectError: true,
			errorMsg:    "failed to parse",
		},
		{
			name: "empty bind address",
			configYAML: `
server:
  bind_address: ""
`,
			expectError: true,
			errorMsg:    "bind_address cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(tempDir, "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.configYAML), 0644); err != nil {
				t.Fatalf("Failed to create test config file: %v", err)
			}

			config, err := Load(configPath)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}

			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if tt.validate != nil && !tt.validate(config) {
				t.Errorf("Validation failed for config: %+v", config)
			}
		})
	}
}

func TestConfigLoadNonexistentFile(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Fatalf("Expected error for nonexistent file but got none")
	}
	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("Expected error about reading file, got: %v", err)
	}
}

func TestDurationHelpers(t *testing.T) {
	tracker := TrackerConfig{
		DeviceTimeout:   90,
		CleanupInterval: 15,
	}

	if tracker.GetDeviceTimeoutDuration() != 90*time.Second {
		t.Errorf("Expected 90 seconds, got %v", tracker.GetDeviceTimeoutDuration())
	}

	if tracker.GetCleanupIntervalDuration() != 15*time.Second {
		t.Errorf("Expected 15 seconds, got %v", tracker.GetCleanupIntervalDuration())
	}

	server := ServerConfig{BindAddress: "127.0.0.1", UDPPort: 17754}
	if server.Address() != "127.0.0.1:17754" {
		t.Errorf("Expected 127.0.0.1:17754, got %s", server.Address())
	}
}

func TestServerConfigValidation(t *testing.T) {
	valid := Default().Server

	tests := []struct {
		name   string
		modify func(s *ServerConfig)
		valid  bool
	}{
		{"valid config", func(s *ServerConfig) {}, true},
		{"port too low", func(s *ServerConfig) { s.UDPPort = 0 }, false},
		{"port too high", func(s *ServerConfig) { s.UDPPort = 70000 }, false},
		{"empty bind address", func(s *ServerConfig) { s.BindAddress = "" }, false},
		{"buffer too small", func(s *ServerConfig) { s.BufferSize = 512 }, false},
		{"zero queue", func(s *ServerConfig) { s.QueueSize = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := valid
			tt.modify(&config)
			err := config.Validate()
			if tt.valid && err != nil {
				t.Errorf("Expected valid config but got error: %v", err)
			}
			if !tt.valid && err == nil {
				t.Errorf("Expected invalid config but got no error")
			}
		})
	}
}

func TestLoggingConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		config LoggingConfig
		valid  bool
	}{
		{
			name:   "valid json to stdout",
			config: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
			valid:  true,
		},
		{
			name:   "valid text to file",
			config: LoggingConfig{Level: "debug", Format: "text", Output: "/tmp/twrd.log"},
			valid:  true,
		},
		{
			name:   "invalid log level",
			config: LoggingConfig{Level: "trace", Format: "json", Output: "stdout"},
			valid:  false,
		},
		{
			name:   "invalid format",
			config: LoggingConfig{Level: "info", Format: "xml", Output: "stdout"},
			valid:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.valid && err != nil {
				t.Errorf("Expected valid config but got error: %v", err)
			}
			if !tt.valid && err == nil {
				t.Errorf("Expected invalid config but got no error")
			}
		})
	}
}
