package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/btwiz/internal/device"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	LogLevel string `yaml:"log_level" json:"log_level" default:"panic"`

	// Discovery
	ProtectAgainstDuplicates bool          `yaml:"protect_against_duplicates" json:"protect_against_duplicates" default:"false"`
	EventBuffer              int           `yaml:"event_buffer" json:"event_buffer" default:"100"`
	ScanTimeout              time.Duration `yaml:"scan_timeout" json:"scan_timeout" default:"12s"`

	// Connections
	AutoOpenStreams bool   `yaml:"auto_open_streams" json:"auto_open_streams" default:"true"`
	IOQueueSize     int    `yaml:"io_queue_size" json:"io_queue_size" default:"256"`
	SecureMode      string `yaml:"secure_mode" json:"secure_mode" default:"secure"`

	// Accept server. An empty ServiceID means a random id per instance.
	ServiceID  string `yaml:"service_id" json:"service_id"`
	ServerName string `yaml:"server_name" json:"server_name" default:"btwiz"`

	OutputFormat string `yaml:"output_format" json:"output_format" default:"table"` // table, json
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file over the defaults. Keys missing from the file keep their default.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
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

// Validate checks that every field holds a usable value.
func (c *Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}
	if _, err := c.Mode(); err != nil {
		return err
	}
	if _, _, err := c.AppServiceID(); err != nil {
		return err
	}
	if c.EventBuffer <= 0 {
		return fmt.Errorf("event_buffer must be positive, got %d", c.EventBuffer)
	}
	if c.IOQueueSize <= 0 {
		return fmt.Errorf("io_queue_size must be positive, got %d", c.IOQueueSize)
	}
	if c.ScanTimeout < 0 {
		return fmt.Errorf("scan_timeout must not be negative, got %s", c.ScanTimeout)
	}
	if strings.TrimSpace(c.ServerName) == "" {
		return fmt.Errorf("server_name must not be empty")
	}
	switch c.OutputFormat {
	case "table", "json":
	default:
		return fmt.Errorf("invalid output_format %q (must be table or json)", c.OutputFormat)
	}
	return nil
}

// Level parses LogLevel. An empty level means panic, which keeps the logger silent.
func (c *Config) Level() (logrus.Level, error) {
	if c.LogLevel == "" {
		return logrus.PanicLevel, nil
	}
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.PanicLevel, fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	return lvl, nil
}

// Mode parses SecureMode.
func (c *Config) Mode() (device.SecureMode, error) {
	return device.ParseSecureMode(c.SecureMode)
}

// AppServiceID parses ServiceID. "spp" selects the serial-port profile; set
// is false when no id is configured.
func (c *Config) AppServiceID() (id device.ServiceID, set bool, err error) {
	s := strings.TrimSpace(c.ServiceID)
	switch {
	case s == "":
		return device.ServiceID{}, false, nil
	case strings.EqualFold(s, "spp"):
		return device.SerialPortProfile, true, nil
	}
	id, err = device.ParseServiceID(s)
	if err != nil {
		return device.ServiceID{}, false, fmt.Errorf("invalid service_id: %w", err)
	}
	if id.IsZero() {
		return device.ServiceID{}, false, fmt.Errorf("invalid service_id: zero id")
	}
	return id, true, nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	lvl, err := c.Level()
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
