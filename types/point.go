package types

import "time"

// PointQuality grades an individual sample as reported by the instrument.
type PointQuality string

// Point quality grades
const (
	PointGood      PointQuality = "good"
	PointUncertain PointQuality = "uncertain"
	PointBad       PointQuality = "bad"
)

// TelemetryDataPoint is a single sample on a stream. Exactly one of Value,
// Vector, or Matrix is populated depending on the channel's data shape.
// Points are transient: produced by the transport, consumed by exactly one
// stream data processor, and never mutated after creation.
type TelemetryDataPoint struct {
	Timestamp time.Time    `json:"timestamp"`
	Value     float64      `json:"value,omitempty"`
	Vector    []float64    `json:"vector,omitempty"`
	Matrix    [][]float64  `json:"matrix,omitempty"`
	Quality   PointQuality `json:"quality,omitempty"`
}

// Scalar returns the representative scalar for the point: the value itself
// for scalar points, the first element for vectors, and the first cell for
// matrices. Analyzers that consume one value per point use this.
func (p TelemetryDataPoint) Scalar() float64 {
	switch {
	case len(p.Matrix) > 0 && len(p.Matrix[0]) > 0:
		return p.Matrix[0][0]
	case len(p.Vector) > 0:
		return p.Vector[0]
	default:
		return p.Value
	}
}
