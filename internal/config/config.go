// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Board types understood by the agent.
const (
	BoardFake   = "fake"
	BoardScript = "script"
)

// AppConfig holds all agent configuration.
// It is instantiated by NewConfig() and passed to components that need it (dependency injection).
type AppConfig struct {
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Backend BackendConfig `mapstructure:"backend" yaml:"backend"`
	Auth    AuthConfig    `mapstructure:"auth" yaml:"auth"`
	Board   BoardConfig   `mapstructure:"board" yaml:"board"`
	Monitor MonitorConfig `mapstructure:"monitor" yaml:"monitor"`
	Status  StatusConfig  `mapstructure:"status" yaml:"status"`
}

// LogConfig holds comprehensive logging configuration
type LogConfig struct {
	Level    string            `mapstructure:"level" yaml:"level"`
	Format   string            `mapstructure:"format" yaml:"format"`
	Output   []LogOutputConfig `mapstructure:"output" yaml:"output"`
	Levels   map[string]string `mapstructure:"levels" yaml:"levels"`
	Context  LogContextConfig  `mapstructure:"context" yaml:"context"`
	Sampling LogSamplingConfig `mapstructure:"sampling" yaml:"sampling"`
}

// LogOutputConfig defines where logs are written
type LogOutputConfig struct {
	Type    string          `mapstructure:"type" yaml:"type"` // "file" or "console"
	Enabled bool            `mapstructure:"enabled" yaml:"enabled"`
	Path    string          `mapstructure:"path" yaml:"path,omitempty"`
	Rotate  LogRotateConfig `mapstructure:"rotate" yaml:"rotate,omitempty"`
}

// LogRotateConfig defines log rotation settings
type LogRotateConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// LogContextConfig defines what context to include in logs
type LogContextConfig struct {
	IncludeCaller    bool `mapstructure:"include_caller" yaml:"include_caller"`
	IncludeTimestamp bool `mapstructure:"include_timestamp" yaml:"include_timestamp"`
}

// LogSamplingConfig defines log sampling settings
type LogSamplingConfig struct {
	Enabled    bool          `mapstructure:"enabled" yaml:"enabled"`
	Initial    uint32        `mapstructure:"initial" yaml:"initial"`
	Thereafter uint32        `mapstructure:"thereafter" yaml:"thereafter"`
	Tick       time.Duration `mapstructure:"tick" yaml:"tick"`
}

// BackendConfig points the agent at its control server.
type BackendConfig struct {
	URL          string        `mapstructure:"url" yaml:"url"`                     // REST base, e.g. https://lab.example.org
	WebsocketURL string        `mapstructure:"websocket_url" yaml:"websocket_url"` // Empty = derived from URL
	DownloadDir  string        `mapstructure:"download_dir" yaml:"download_dir"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// AuthConfig holds the credentials sent in the auth request.
type AuthConfig struct {
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
}

// BoardConfig describes the managed hardware.
type BoardConfig struct {
	Type          string        `mapstructure:"type" yaml:"type"`     // "fake" or "script"
	Device        string        `mapstructure:"device" yaml:"device"` // Serial device path
	UploadScript  string        `mapstructure:"upload_script" yaml:"upload_script"`
	UploadTimeout time.Duration `mapstructure:"upload_timeout" yaml:"upload_timeout"` // Zero = no limit
	Heartbeat     time.Duration `mapstructure:"heartbeat" yaml:"heartbeat"`
	FakeTick      time.Duration `mapstructure:"fake_tick" yaml:"fake_tick"` // Fake board greeting interval
}

// MonitorConfig holds serial monitor defaults.
type MonitorConfig struct {
	BaudRate    int           `mapstructure:"baud_rate" yaml:"baud_rate"`
	Framing     string        `mapstructure:"framing" yaml:"framing"`
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	ReadSize    int           `mapstructure:"read_size" yaml:"read_size"`
}

// StatusConfig holds the local status API configuration.
type StatusConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Host    string `mapstructure:"host" yaml:"host"`
	Port    int    `mapstructure:"port" yaml:"port"`
}

// NewConfig creates a new AppConfig by reading from a file, environment variables,
// and applying defaults.
func NewConfig(configPath string) (*AppConfig, error) {
	cfg := defaultConfig()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/boardlink/")
		v.AddConfigPath("$HOME/.boardlink")
	}

	v.SetEnvPrefix("BOARDLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	// Read the config file. It's okay if it doesn't exist.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.expandPaths()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// bindEnv registers the keys that are commonly set from the environment
// only, so AutomaticEnv picks them up even without a config file entry.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"backend.url",
		"backend.websocket_url",
		"auth.username",
		"auth.password",
		"board.type",
		"board.device",
		"board.upload_script",
	} {
		_ = v.BindEnv(key)
	}
}

// defaultConfig returns an AppConfig with default values.
func defaultConfig() AppConfig {
	return AppConfig{
		Log: LogConfig{
			Level:  "INFO",
			Format: "console",
			Output: []LogOutputConfig{
				{
					Type:    "console",
					Enabled: true,
				},
				{
					Type:    "file",
					Enabled: false,
					Path:    "./logs/boardlink.log",
					Rotate: LogRotateConfig{
						MaxSizeMB:  50,
						MaxBackups: 5,
						MaxAgeDays: 14,
						Compress:   true,
					},
				},
			},
			Levels: map[string]string{
				"engine":  "INFO",
				"agent":   "INFO",
				"auth":    "INFO",
				"upload":  "INFO",
				"monitor": "INFO",
				"board":   "INFO",
				"backend": "INFO",
				"api":     "WARN",
				"panel":   "WARN",
			},
			Context: LogContextConfig{
				IncludeCaller:    false,
				IncludeTimestamp: true,
			},
			Sampling: LogSamplingConfig{
				Enabled:    false,
				Initial:    100,
				Thereafter: 100,
				Tick:       time.Second,
			},
		},
		Backend: BackendConfig{
			URL:         "http://localhost:8000",
			DownloadDir: "$HOME/.boardlink/downloads",
			Timeout:     2 * time.Minute,
		},
		Board: BoardConfig{
			Type:          BoardFake,
			Device:        "/dev/ttyUSB0",
			UploadTimeout: 5 * time.Minute,
			Heartbeat:     30 * time.Second,
			FakeTick:      time.Second,
		},
		Monitor: MonitorConfig{
			BaudRate:    115200,
			Framing:     "raw",
			ReadTimeout: 100 * time.Millisecond,
			ReadSize:    4096,
		},
		Status: StatusConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    8765,
		},
	}
}

// WebsocketEndpoint returns the configured websocket URL, deriving it from
// the REST base URL when unset (http -> ws, https -> wss, path /ws/agent).
func (c *BackendConfig) WebsocketEndpoint() (string, error) {
	if c.WebsocketURL != "" {
		return c.WebsocketURL, nil
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return "", fmt.Errorf("invalid backend url %q: %w", c.URL, err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/agent"
	return u.String(), nil
}

// ToYAML renders the effective configuration.
func (c *AppConfig) ToYAML() ([]byte, error) {
	redacted := *c
	if redacted.Auth.Password != "" {
		redacted.Auth.Password = "********"
	}
	return yaml.Marshal(&redacted)
}

// expandPaths expands ~ and environment variables in path configuration values
func (c *AppConfig) expandPaths() {
	c.Backend.DownloadDir = expandPath(c.Backend.DownloadDir)
	c.Board.UploadScript = expandPath(c.Board.UploadScript)
	for i := range c.Log.Output {
		c.Log.Output[i].Path = expandPath(c.Log.Output[i].Path)
	}
}

// expandPath expands ~ to home directory and environment variables
func expandPath(path string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[1:])
		}
	}

	return os.ExpandEnv(path)
}

// validate checks if the configuration is valid.
func (c *AppConfig) validate() error {
	validLogLevels := map[string]bool{
		"TRACE": true, "DEBUG": true, "INFO": true, "WARN": true, "ERROR": true, "FATAL": true, "PANIC": true,
	}
	if !validLogLevels[strings.ToUpper(c.Log.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	if c.Backend.URL == "" && c.Backend.WebsocketURL == "" {
		return errors.New("backend.url or backend.websocket_url is required")
	}

	switch c.Board.Type {
	case BoardFake:
	case BoardScript:
		if c.Board.UploadScript == "" {
			return errors.New("board.upload_script is required for script boards")
		}
		if c.Board.Device == "" {
			return errors.New("board.device is required for script boards")
		}
	default:
		return fmt.Errorf("board.type must be '%s' or '%s', got: %s", BoardFake, BoardScript, c.Board.Type)
	}

	if c.Board.UploadTimeout < 0 {
		return fmt.Errorf("board.upload_timeout must not be negative, got: %s", c.Board.UploadTimeout)
	}

	if c.Board.Heartbeat <= 0 {
		return fmt.Errorf("board.heartbeat must be positive, got: %s", c.Board.Heartbeat)
	}

	if c.Monitor.BaudRate <= 0 {
		return fmt.Errorf("invalid monitor baud rate: %d", c.Monitor.BaudRate)
	}
	if c.Monitor.Framing != "raw" && c.Monitor.Framing != "minos" {
		return fmt.Errorf("monitor.framing must be 'raw' or 'minos', got: %s", c.Monitor.Framing)
	}
	if c.Monitor.ReadTimeout <= 0 {
		return fmt.Errorf("monitor.read_timeout must be positive, got: %s", c.Monitor.ReadTimeout)
	}

	if c.Status.Enabled && (c.Status.Port <= 0 || c.Status.Port > 65535) {
		return fmt.Errorf("invalid status port: %d", c.Status.Port)
	}

	return nil
}
