package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/btwiz/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "panic", cfg.LogLevel)
	assert.False(t, cfg.ProtectAgainstDuplicates)
	assert.True(t, cfg.AutoOpenStreams)
	assert.Equal(t, 100, cfg.EventBuffer)
	assert.Equal(t, 256, cfg.IOQueueSize)
	assert.Equal(t, 12*time.Second, cfg.ScanTimeout)
	assert.Equal(t, "secure", cfg.SecureMode)
	assert.Equal(t, "btwiz", cfg.ServerName)
	assert.Empty(t, cfg.ServiceID)
	assert.Equal(t, "table", cfg.OutputFormat)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		expected logrus.Level
	}{
		{name: "creates logger with debug level", logLevel: "debug", expected: logrus.DebugLevel},
		{name: "creates logger with info level", logLevel: "info", expected: logrus.InfoLevel},
		{name: "creates logger with warn level", logLevel: "warn", expected: logrus.WarnLevel},
		{name: "creates logger with error level", logLevel: "error", expected: logrus.ErrorLevel},
		{name: "empty level stays silent", logLevel: "", expected: logrus.PanicLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.logLevel}

			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.expected, logger.GetLevel())

			// Verify formatter is set correctly
			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			assert.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

func TestConfig_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		valid  bool
	}{
		{name: "defaults are valid", mutate: func(c *Config) {}, valid: true},
		{name: "json format is valid", mutate: func(c *Config) { c.OutputFormat = "json" }, valid: true},
		{name: "unknown format", mutate: func(c *Config) { c.OutputFormat = "xml" }, valid: false},
		{name: "unknown log level", mutate: func(c *Config) { c.LogLevel = "loud" }, valid: false},
		{name: "insecure mode", mutate: func(c *Config) { c.SecureMode = "INSECURE" }, valid: true},
		{name: "unknown mode", mutate: func(c *Config) { c.SecureMode = "sometimes" }, valid: false},
		{name: "short service id", mutate: func(c *Config) { c.ServiceID = "1101" }, valid: true},
		{name: "malformed service id", mutate: func(c *Config) { c.ServiceID = "not-a-uuid" }, valid: false},
		{name: "zero service id", mutate: func(c *Config) { c.ServiceID = "00000000-0000-0000-0000-000000000000" }, valid: false},
		{name: "zero event buffer", mutate: func(c *Config) { c.EventBuffer = 0 }, valid: false},
		{name: "zero io queue", mutate: func(c *Config) { c.IOQueueSize = 0 }, valid: false},
		{name: "negative scan timeout", mutate: func(c *Config) { c.ScanTimeout = -time.Second }, valid: false},
		{name: "blank server name", mutate: func(c *Config) { c.ServerName = " " }, valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestConfig_AppServiceID(t *testing.T) {
	cfg := DefaultConfig()
	_, set, err := cfg.AppServiceID()
	require.NoError(t, err)
	assert.False(t, set, "empty service_id MUST leave the id unset")

	cfg.ServiceID = "spp"
	id, set, err := cfg.AppServiceID()
	require.NoError(t, err)
	assert.True(t, set)
	assert.Equal(t, device.SerialPortProfile, id)

	cfg.ServiceID = "8ce255c0-200a-11e0-ac64-0800200c9a66"
	id, _, err = cfg.AppServiceID()
	require.NoError(t, err)
	assert.Equal(t, "8ce255c0-200a-11e0-ac64-0800200c9a66", id.String())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "btwiz.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
protect_against_duplicates: true
scan_timeout: 3s
secure_mode: insecure
server_name: chat
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.ProtectAgainstDuplicates)
	assert.Equal(t, 3*time.Second, cfg.ScanTimeout)
	assert.Equal(t, "chat", cfg.ServerName)
	mode, err := cfg.Mode()
	require.NoError(t, err)
	assert.Equal(t, device.Insecure, mode)

	// Keys absent from the file keep their defaults
	assert.True(t, cfg.AutoOpenStreams)
	assert.Equal(t, 100, cfg.EventBuffer)
	assert.Equal(t, "table", cfg.OutputFormat)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("event_buffer: [1, 2"), 0o600))
	_, err = Load(bad)
	assert.Error(t, err)

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("output_format: xml\n"), 0o600))
	_, err = Load(invalid)
	assert.ErrorContains(t, err, "output_format")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func BenchmarkDefaultConfig(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = DefaultConfig()
	}
}

func BenchmarkConfig_NewLogger(b *testing.B) {
	cfg := DefaultConfig()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = cfg.NewLogger()
	}
}
