// Package types defines the shared data model for the streamkit telemetry
// core: discoverable channels, data points, per-stream configuration, and
// derived health/statistics snapshots.
package types

import (
	"fmt"
	"time"
)

// DataShape describes the dimensionality of a channel's samples.
type DataShape string

// Supported data shapes
const (
	ShapeScalar DataShape = "scalar"
	ShapeVector DataShape = "vector"
	ShapeMatrix DataShape = "matrix"
)

// Valid reports whether the shape is one of the supported values.
func (s DataShape) Valid() bool {
	switch s {
	case ShapeScalar, ShapeVector, ShapeMatrix:
		return true
	}
	return false
}

// ValueRange bounds the expected values of a scalar channel.
type ValueRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// StreamChannel is a subscribable logical stream discovered from the remote
// endpoint. Channels are immutable once discovered and are keyed by ID for
// the life of a connection session; the catalog is cleared and re-populated
// on reconnect.
type StreamChannel struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Description  string      `json:"description,omitempty"`
	DataShape    DataShape   `json:"data_shape"`
	Unit         string      `json:"unit,omitempty"`
	ValueRange   *ValueRange `json:"value_range,omitempty"`
	FrequencyHz  float64     `json:"frequency_hz"`
	Protocol     string      `json:"protocol,omitempty"`
	RequiresAuth bool        `json:"requires_auth"`
	RequiredRole string      `json:"required_role,omitempty"`
}

// ExpectedInterval returns the nominal time between samples, or zero if the
// channel does not advertise a frequency.
func (c StreamChannel) ExpectedInterval() time.Duration {
	if c.FrequencyHz <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / c.FrequencyHz)
}

// Validate checks that a discovered channel is well-formed.
func (c StreamChannel) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("channel ID is required")
	}
	if !c.DataShape.Valid() {
		return fmt.Errorf("channel %s: invalid data shape %q", c.ID, c.DataShape)
	}
	if c.FrequencyHz < 0 {
		return fmt.Errorf("channel %s: negative frequency %f", c.ID, c.FrequencyHz)
	}
	return nil
}
