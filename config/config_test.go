package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/streamkit/errors"
)

func TestDefaultValues(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 20, cfg.Manager.MaxConcurrentStreams)
	assert.Equal(t, 10000, cfg.Manager.DefaultBufferSize)
	assert.Equal(t, 10, cfg.Manager.DefaultDecimationRatio)
	assert.Equal(t, time.Second, cfg.Manager.AnalysisInterval)
	assert.True(t, cfg.Manager.EnableRealTimeAnalysis)
	assert.True(t, cfg.Manager.EnableBinaryProtocol)
	assert.Equal(t, 1024, cfg.Manager.CompressionThreshold)
	assert.Equal(t, 5, cfg.Manager.ReconnectAttempts)
	assert.Equal(t, 5*time.Second, cfg.Manager.ReconnectInterval)
	assert.Equal(t, 30*time.Second, cfg.Manager.HeartbeatInterval)
	assert.Equal(t, 1000, cfg.Manager.MessageQueueSize)
	assert.Equal(t, 100, cfg.Manager.RateLimitPerSecond)
	assert.Equal(t, 5*time.Second, cfg.Manager.HealthSweepInterval)
	assert.Equal(t, TransportNATS, cfg.Transport.Kind)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero max streams", func(c *Config) { c.Manager.MaxConcurrentStreams = -1 }},
		{"zero buffer size", func(c *Config) { c.Manager.DefaultBufferSize = -1 }},
		{"decimation below one", func(c *Config) { c.Manager.DefaultDecimationRatio = -1 }},
		{"negative reconnects", func(c *Config) { c.Manager.ReconnectAttempts = -1 }},
		{"unknown transport", func(c *Config) { c.Transport.Kind = "carrier-pigeon" }},
		{"missing URL", func(c *Config) { c.Transport.URL = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Transport.URL = "nats://localhost:4222"
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "streamkit.yaml")
	content := `
manager:
  max_concurrent_streams: 8
  reconnect_attempts: 3
  enable_binary_protocol: false
transport:
  kind: websocket
  url: ws://localhost:8080/telemetry
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Manager.MaxConcurrentStreams)
	assert.Equal(t, 3, cfg.Manager.ReconnectAttempts)
	assert.False(t, cfg.Manager.EnableBinaryProtocol)
	// untouched fields keep defaults
	assert.Equal(t, 10000, cfg.Manager.DefaultBufferSize)
	assert.True(t, cfg.Manager.EnableRealTimeAnalysis)
	assert.Equal(t, TransportWebSocket, cfg.Transport.Kind)
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "streamkit.json")
	content := `{"transport": {"kind": "nats", "url": "nats://localhost:4222"}}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "nats://localhost:4222", cfg.Transport.URL)
	assert.Equal(t, 20, cfg.Manager.MaxConcurrentStreams)
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "streamkit.json")
	content := `{"transport": {"kind": "nats", "url": "nats://file:4222"}}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("STREAMKIT_TRANSPORT_URL", "nats://env:4222")
	t.Setenv("STREAMKIT_MAX_STREAMS", "7")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "nats://env:4222", cfg.Transport.URL)
	assert.Equal(t, 7, cfg.Manager.MaxConcurrentStreams)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/streamkit.yaml")
	require.Error(t, err)
}
