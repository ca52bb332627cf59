package types

import (
	"fmt"
	"time"
)

// StreamConfig is the per-subscription buffering and decimation
// configuration, supplied at subscribe time and merged over channel and
// manager defaults. It is immutable for the life of a subscription; changing
// it means unsubscribe and resubscribe.
type StreamConfig struct {
	StreamID        string   `json:"stream_id"`
	BufferSize      int      `json:"buffer_size"`
	DecimationRatio int      `json:"decimation_ratio"`
	FrequencyHz     float64  `json:"frequency_hz"`
	Fields          []string `json:"fields,omitempty"`
}

// Validate checks a merged stream configuration.
func (c StreamConfig) Validate() error {
	if c.StreamID == "" {
		return fmt.Errorf("stream ID is required")
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("stream %s: buffer size must be positive, got %d", c.StreamID, c.BufferSize)
	}
	if c.DecimationRatio < 1 {
		return fmt.Errorf("stream %s: decimation ratio must be >= 1, got %d", c.StreamID, c.DecimationRatio)
	}
	return nil
}

// AnalysisConfig selects which analyzers run for a subscription. All
// analyzers are opt-in and can be enabled or disabled without tearing the
// subscription down.
type AnalysisConfig struct {
	EnableStatistics  bool `json:"enable_statistics"`
	EnableAnomaly     bool `json:"enable_anomaly"`
	EnableCorrelation bool `json:"enable_correlation"`
	EnableTrend       bool `json:"enable_trend"`
	EnableDrift       bool `json:"enable_drift"`
	EnablePrediction  bool `json:"enable_prediction"`

	// AnomalyThreshold is the standard-deviation multiple beyond which a
	// point is flagged. Zero means the default of 3.
	AnomalyThreshold float64 `json:"anomaly_threshold,omitempty"`

	// PredictionHorizon is the number of sample intervals to forecast
	// ahead. Zero means the default of 10.
	PredictionHorizon int `json:"prediction_horizon,omitempty"`
}

// Any reports whether at least one analyzer is enabled.
func (c AnalysisConfig) Any() bool {
	return c.EnableStatistics || c.EnableAnomaly || c.EnableCorrelation ||
		c.EnableTrend || c.EnableDrift || c.EnablePrediction
}

// Subscription is the live binding between a consumer and a channel. One
// exists per active subscription, owned exclusively by the stream manager,
// and is destroyed on unsubscribe or manager teardown.
type Subscription struct {
	ID        string         `json:"id"`
	StreamID  string         `json:"stream_id"`
	Config    StreamConfig   `json:"config"`
	Analysis  AnalysisConfig `json:"analysis"`
	CreatedAt time.Time      `json:"created_at"`
}
