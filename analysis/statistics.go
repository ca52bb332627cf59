package analysis

import (
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/c360/streamkit/types"
)

// DefaultAnomalyThreshold is the sigma multiplier used when a subscription
// does not set one.
const DefaultAnomalyThreshold = 3.0

// StatisticsAnalyzer computes window summaries and flags points whose
// deviation from the window mean exceeds the sigma threshold. Flagged points
// advance a timestamp watermark so an outlier that stays buffered across
// passes is reported exactly once.
type StatisticsAnalyzer struct {
	threshold      float64
	flaggedThrough time.Time
}

// NewStatisticsAnalyzer returns an analyzer with the given anomaly
// threshold in standard deviations. Non-positive thresholds fall back to
// DefaultAnomalyThreshold.
func NewStatisticsAnalyzer(threshold float64) *StatisticsAnalyzer {
	if threshold <= 0 {
		threshold = DefaultAnomalyThreshold
	}
	return &StatisticsAnalyzer{threshold: threshold}
}

// Statistics summarizes the window. Returns false when the window holds no
// scalar-representable points.
func (a *StatisticsAnalyzer) Statistics(streamID string, points []types.TelemetryDataPoint, now time.Time) (StatisticsResult, bool) {
	values := scalarValues(points)
	if len(values) == 0 {
		return StatisticsResult{}, false
	}

	mean, std := stat.MeanStdDev(values, nil)
	min, max := values[0], values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}

	return StatisticsResult{
		StreamID: streamID,
		Count:    len(values),
		Mean:     mean,
		StdDev:   std,
		Min:      min,
		Max:      max,
		At:       now,
	}, true
}

// Anomalies flags points beyond threshold standard deviations from the
// window mean. Returns false when nothing was flagged, so callers emit an
// anomaly result only when one exists. Points at or before the watermark
// were already reported on an earlier pass and are skipped.
func (a *StatisticsAnalyzer) Anomalies(streamID string, points []types.TelemetryDataPoint) (AnomalyResult, bool) {
	values := scalarValues(points)
	if len(values) < 2 {
		return AnomalyResult{}, false
	}

	mean, std := stat.MeanStdDev(values, nil)
	if std == 0 {
		return AnomalyResult{}, false
	}

	cutoff := a.flaggedThrough
	var found []Anomaly
	for _, p := range points {
		if !p.Timestamp.After(cutoff) {
			continue
		}
		v := p.Scalar()
		dev := (v - mean) / std
		if dev < 0 {
			dev = -dev
		}
		if dev > a.threshold {
			found = append(found, Anomaly{
				Timestamp: p.Timestamp,
				Value:     v,
				Deviation: dev,
			})
			if p.Timestamp.After(a.flaggedThrough) {
				a.flaggedThrough = p.Timestamp
			}
		}
	}
	if len(found) == 0 {
		return AnomalyResult{}, false
	}

	return AnomalyResult{
		StreamID:  streamID,
		Threshold: a.threshold,
		Anomalies: found,
	}, true
}

// scalarValues projects the window onto its representative scalars.
func scalarValues(points []types.TelemetryDataPoint) []float64 {
	values := make([]float64, 0, len(points))
	for _, p := range points {
		values = append(values, p.Scalar())
	}
	return values
}
