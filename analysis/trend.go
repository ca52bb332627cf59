package analysis

import (
	"gonum.org/v1/gonum/stat"

	"github.com/c360/streamkit/types"
)

// stableSlopeEpsilon bounds the slope magnitude, in units per second, below
// which a trend is reported as stable.
const stableSlopeEpsilon = 1e-9

// TrendAnalyzer fits a least-squares line over the window, with time in
// seconds relative to the first point as the independent variable.
type TrendAnalyzer struct{}

// NewTrendAnalyzer returns a trend analyzer.
func NewTrendAnalyzer() *TrendAnalyzer {
	return &TrendAnalyzer{}
}

// Evaluate fits the window. Returns false when fewer than two points carry
// distinct timestamps, since a line needs spread on the time axis.
func (a *TrendAnalyzer) Evaluate(streamID string, points []types.TelemetryDataPoint) (TrendResult, bool) {
	if len(points) < 2 {
		return TrendResult{}, false
	}

	origin := points[0].Timestamp
	xs := make([]float64, 0, len(points))
	ys := make([]float64, 0, len(points))
	spread := false
	for _, p := range points {
		x := p.Timestamp.Sub(origin).Seconds()
		if x != 0 {
			spread = true
		}
		xs = append(xs, x)
		ys = append(ys, p.Scalar())
	}
	if !spread {
		return TrendResult{}, false
	}

	intercept, slope := stat.LinearRegression(xs, ys, nil, false)
	r2 := stat.RSquared(xs, ys, nil, intercept, slope)

	direction := TrendStable
	switch {
	case slope > stableSlopeEpsilon:
		direction = TrendRising
	case slope < -stableSlopeEpsilon:
		direction = TrendFalling
	}

	return TrendResult{
		StreamID:  streamID,
		Slope:     slope,
		Intercept: intercept,
		R2:        r2,
		Direction: direction,
	}, true
}
