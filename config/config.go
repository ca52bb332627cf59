// Package config defines the streamkit configuration surface: manager
// limits, analysis cadence, reconnection policy, outbound traffic shaping,
// and the transport/observability settings of the binary. Configuration
// loads from a JSON or YAML file with environment-variable overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/streamkit/errors"
)

// Transport kinds
const (
	TransportNATS      = "nats"
	TransportWebSocket = "websocket"
)

// ManagerConfig bounds and paces the stream manager core.
type ManagerConfig struct {
	MaxConcurrentStreams   int           `json:"max_concurrent_streams"    yaml:"max_concurrent_streams"`
	DefaultBufferSize      int           `json:"default_buffer_size"       yaml:"default_buffer_size"`
	DefaultDecimationRatio int           `json:"default_decimation_ratio"  yaml:"default_decimation_ratio"`
	AnalysisInterval       time.Duration `json:"analysis_interval"         yaml:"analysis_interval"`
	EnableRealTimeAnalysis bool          `json:"enable_real_time_analysis" yaml:"enable_real_time_analysis"`
	EnableBinaryProtocol   bool          `json:"enable_binary_protocol"    yaml:"enable_binary_protocol"`
	CompressionThreshold   int           `json:"compression_threshold"     yaml:"compression_threshold"`
	ReconnectAttempts      int           `json:"reconnect_attempts"        yaml:"reconnect_attempts"`
	ReconnectInterval      time.Duration `json:"reconnect_interval"        yaml:"reconnect_interval"`
	HeartbeatInterval      time.Duration `json:"heartbeat_interval"        yaml:"heartbeat_interval"`
	MessageQueueSize       int           `json:"message_queue_size"        yaml:"message_queue_size"`
	RateLimitPerSecond     int           `json:"rate_limit_per_second"     yaml:"rate_limit_per_second"`
	HealthSweepInterval    time.Duration `json:"health_sweep_interval"     yaml:"health_sweep_interval"`
	AnalysisWorkers        int           `json:"analysis_workers"          yaml:"analysis_workers"`
}

// TransportConfig selects and parameterizes the wire transport.
type TransportConfig struct {
	Kind    string        `json:"kind"    yaml:"kind"` // "nats" or "websocket"
	URL     string        `json:"url"     yaml:"url"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// NATS-specific
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	Token    string `json:"token,omitempty"    yaml:"token,omitempty"`

	// Subject/path prefix for telemetry traffic
	SubjectPrefix string `json:"subject_prefix,omitempty" yaml:"subject_prefix,omitempty"`
}

// MetricsConfig configures the prometheus endpoint of the binary.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr"    yaml:"addr"`
}

// Config is the complete streamkit configuration.
type Config struct {
	Manager   ManagerConfig   `json:"manager"   yaml:"manager"`
	Transport TransportConfig `json:"transport" yaml:"transport"`
	Metrics   MetricsConfig   `json:"metrics"   yaml:"metrics"`
}

// Default returns the documented default configuration. Boolean features
// (real-time analysis, binary protocol, metrics endpoint) default to on;
// loading a file over Default() lets an explicit false disable them.
func Default() *Config {
	cfg := &Config{
		Manager: ManagerConfig{
			EnableRealTimeAnalysis: true,
			EnableBinaryProtocol:   true,
		},
		Metrics: MetricsConfig{Enabled: true},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero-valued fields with the documented defaults.
func (c *Config) ApplyDefaults() {
	m := &c.Manager
	if m.MaxConcurrentStreams == 0 {
		m.MaxConcurrentStreams = 20
	}
	if m.DefaultBufferSize == 0 {
		m.DefaultBufferSize = 10000
	}
	if m.DefaultDecimationRatio == 0 {
		m.DefaultDecimationRatio = 10
	}
	if m.AnalysisInterval == 0 {
		m.AnalysisInterval = time.Second
	}
	if m.CompressionThreshold == 0 {
		m.CompressionThreshold = 1024
	}
	if m.ReconnectAttempts == 0 {
		m.ReconnectAttempts = 5
	}
	if m.ReconnectInterval == 0 {
		m.ReconnectInterval = 5 * time.Second
	}
	if m.HeartbeatInterval == 0 {
		m.HeartbeatInterval = 30 * time.Second
	}
	if m.MessageQueueSize == 0 {
		m.MessageQueueSize = 1000
	}
	if m.RateLimitPerSecond == 0 {
		m.RateLimitPerSecond = 100
	}
	if m.HealthSweepInterval == 0 {
		m.HealthSweepInterval = 5 * time.Second
	}
	if m.AnalysisWorkers == 0 {
		m.AnalysisWorkers = 4
	}

	if c.Transport.Kind == "" {
		c.Transport.Kind = TransportNATS
	}
	if c.Transport.Timeout == 0 {
		c.Transport.Timeout = 5 * time.Second
	}
	if c.Transport.SubjectPrefix == "" {
		c.Transport.SubjectPrefix = "telemetry"
	}

	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9090"
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	m := c.Manager
	if m.MaxConcurrentStreams <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("max_concurrent_streams must be positive, got %d", m.MaxConcurrentStreams),
			"Config", "Validate", "check manager limits")
	}
	if m.DefaultBufferSize <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("default_buffer_size must be positive, got %d", m.DefaultBufferSize),
			"Config", "Validate", "check manager limits")
	}
	if m.DefaultDecimationRatio < 1 {
		return errors.WrapInvalid(
			fmt.Errorf("default_decimation_ratio must be >= 1, got %d", m.DefaultDecimationRatio),
			"Config", "Validate", "check manager limits")
	}
	if m.AnalysisInterval <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("analysis_interval must be positive, got %v", m.AnalysisInterval),
			"Config", "Validate", "check analysis cadence")
	}
	if m.ReconnectAttempts < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("reconnect_attempts must not be negative, got %d", m.ReconnectAttempts),
			"Config", "Validate", "check reconnection policy")
	}
	if m.MessageQueueSize <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("message_queue_size must be positive, got %d", m.MessageQueueSize),
			"Config", "Validate", "check queue bounds")
	}
	if m.RateLimitPerSecond <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("rate_limit_per_second must be positive, got %d", m.RateLimitPerSecond),
			"Config", "Validate", "check traffic shaping")
	}

	switch c.Transport.Kind {
	case TransportNATS, TransportWebSocket:
	default:
		return errors.WrapInvalid(
			fmt.Errorf("unknown transport kind %q", c.Transport.Kind),
			"Config", "Validate", "check transport")
	}
	if c.Transport.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"Config", "Validate", "check transport URL")
	}

	return nil
}

// Load reads a configuration file (JSON or YAML by extension), applies
// environment overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "Config", "Load", "read config file")
	}

	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapInvalid(err, "Config", "Load", "parse YAML config")
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapInvalid(err, "Config", "Load", "parse JSON config")
		}
	}

	cfg.applyEnvOverrides()
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies STREAMKIT_* environment variables over the file
// values. Only operationally relevant knobs are overridable.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("STREAMKIT_TRANSPORT_URL"); v != "" {
		c.Transport.URL = v
	}
	if v := os.Getenv("STREAMKIT_TRANSPORT_KIND"); v != "" {
		c.Transport.Kind = v
	}
	if v := os.Getenv("STREAMKIT_TRANSPORT_TOKEN"); v != "" {
		c.Transport.Token = v
	}
	if v := os.Getenv("STREAMKIT_METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
	}
	if v := os.Getenv("STREAMKIT_MAX_STREAMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Manager.MaxConcurrentStreams = n
		}
	}
	if v := os.Getenv("STREAMKIT_RECONNECT_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Manager.ReconnectAttempts = n
		}
	}
}
