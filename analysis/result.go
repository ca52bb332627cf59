// Package analysis runs the per-subscription analyzer bundles: statistics
// and anomaly detection, cross-stream correlation, trend fitting, drift
// detection, and short-horizon prediction. Analyzers are independent and
// isolated: a fault in one never stops the others or raw data buffering.
package analysis

import (
	"time"
)

// Kind tags a result variant.
type Kind string

// Result kinds, one per analyzer.
const (
	KindStatistics  Kind = "statistics"
	KindAnomaly     Kind = "anomaly"
	KindCorrelation Kind = "correlation"
	KindTrend       Kind = "trend"
	KindDrift       Kind = "drift"
	KindPrediction  Kind = "prediction"
)

// Result is the closed set of analyzer outputs. Each variant carries the
// stream it is addressed to; consumers switch on the concrete type rather
// than duck-typing payload fields.
type Result interface {
	Kind() Kind
	Stream() string
}

// StatisticsResult summarizes the current window.
type StatisticsResult struct {
	StreamID string    `json:"stream_id"`
	Count    int       `json:"count"`
	Mean     float64   `json:"mean"`
	StdDev   float64   `json:"std_dev"`
	Min      float64   `json:"min"`
	Max      float64   `json:"max"`
	At       time.Time `json:"at"`
}

func (r StatisticsResult) Kind() Kind     { return KindStatistics }
func (r StatisticsResult) Stream() string { return r.StreamID }

// Anomaly is a single flagged point.
type Anomaly struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Deviation float64   `json:"deviation"` // standard deviations from the mean
}

// AnomalyResult lists points beyond the configured sigma threshold. Emitted
// only when at least one anomaly was found.
type AnomalyResult struct {
	StreamID  string    `json:"stream_id"`
	Threshold float64   `json:"threshold"`
	Anomalies []Anomaly `json:"anomalies"`
}

func (r AnomalyResult) Kind() Kind     { return KindAnomaly }
func (r AnomalyResult) Stream() string { return r.StreamID }

// CorrelationPair is the relationship between the addressed stream and one
// other stream in the correlation set.
type CorrelationPair struct {
	OtherStream string  `json:"other_stream"`
	Coefficient float64 `json:"coefficient"` // Pearson, -1..1
	Samples     int     `json:"samples"`
}

// CorrelationResult reports the addressed stream's pairwise relationships.
type CorrelationResult struct {
	StreamID string            `json:"stream_id"`
	Pairs    []CorrelationPair `json:"pairs"`
}

func (r CorrelationResult) Kind() Kind     { return KindCorrelation }
func (r CorrelationResult) Stream() string { return r.StreamID }

// TrendDirection labels the fitted slope.
type TrendDirection string

// Trend directions
const (
	TrendRising  TrendDirection = "rising"
	TrendFalling TrendDirection = "falling"
	TrendStable  TrendDirection = "stable"
)

// TrendResult is the short-horizon linear fit over the window.
type TrendResult struct {
	StreamID  string         `json:"stream_id"`
	Slope     float64        `json:"slope"` // units per second
	Intercept float64        `json:"intercept"`
	R2        float64        `json:"r2"`
	Direction TrendDirection `json:"direction"`
}

func (r TrendResult) Kind() Kind     { return KindTrend }
func (r TrendResult) Stream() string { return r.StreamID }

// DriftResult reports a detected change in the stream's underlying
// distribution. Emitted only on detection.
type DriftResult struct {
	StreamID   string    `json:"stream_id"`
	Statistic  float64   `json:"statistic"` // accumulated deviation at detection
	Threshold  float64   `json:"threshold"`
	Mean       float64   `json:"mean"` // running mean at detection
	DetectedAt time.Time `json:"detected_at"`
}

func (r DriftResult) Kind() Kind     { return KindDrift }
func (r DriftResult) Stream() string { return r.StreamID }

// PredictionResult is the rolling forecast for the next Horizon samples.
type PredictionResult struct {
	StreamID string    `json:"stream_id"`
	Horizon  int       `json:"horizon"`
	Forecast []float64 `json:"forecast"`
	Level    float64   `json:"level"`
	Trend    float64   `json:"trend"`
}

func (r PredictionResult) Kind() Kind     { return KindPrediction }
func (r PredictionResult) Stream() string { return r.StreamID }
