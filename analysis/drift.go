package analysis

import (
	"time"

	"github.com/c360/streamkit/types"
)

// Page-Hinkley defaults. Lambda is the accumulated-deviation threshold in
// the stream's own units, delta the magnitude tolerance that keeps noise
// from accumulating.
const (
	defaultDriftLambda = 50.0
	defaultDriftDelta  = 0.005
)

// DriftDetector runs the Page-Hinkley test over one stream's samples to
// catch sustained shifts in the underlying distribution. It is stateful
// across ticks: each tick feeds it the samples that arrived since the last
// one. On detection the accumulators reset, so a single shift reports once.
type DriftDetector struct {
	lambda float64
	delta  float64

	count    int
	mean     float64
	cumDev   float64
	minDev   float64
	lastSeen time.Time
}

// NewDriftDetector returns a detector with the given threshold. Non-positive
// thresholds fall back to the default lambda.
func NewDriftDetector(lambda float64) *DriftDetector {
	if lambda <= 0 {
		lambda = defaultDriftLambda
	}
	return &DriftDetector{lambda: lambda, delta: defaultDriftDelta}
}

// Observe feeds new samples into the test. Returns a result and true the
// moment the accumulated deviation crosses the threshold; otherwise false.
func (d *DriftDetector) Observe(streamID string, points []types.TelemetryDataPoint) (DriftResult, bool) {
	for _, p := range points {
		v := p.Scalar()
		d.count++
		d.mean += (v - d.mean) / float64(d.count)
		d.cumDev += v - d.mean - d.delta
		if d.cumDev < d.minDev {
			d.minDev = d.cumDev
		}
		d.lastSeen = p.Timestamp

		if stat := d.cumDev - d.minDev; stat > d.lambda {
			result := DriftResult{
				StreamID:   streamID,
				Statistic:  stat,
				Threshold:  d.lambda,
				Mean:       d.mean,
				DetectedAt: p.Timestamp,
			}
			d.Reset()
			return result, true
		}
	}
	return DriftResult{}, false
}

// Reset clears the accumulators, restarting the test from scratch.
func (d *DriftDetector) Reset() {
	d.count = 0
	d.mean = 0
	d.cumDev = 0
	d.minDev = 0
}
