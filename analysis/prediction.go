package analysis

import (
	"github.com/c360/streamkit/types"
)

// Holt smoothing defaults and the fallback forecast horizon.
const (
	defaultLevelAlpha        = 0.5
	defaultTrendBeta         = 0.3
	DefaultPredictionHorizon = 10
)

// PredictionEngine forecasts the next few samples with Holt's double
// exponential smoothing. Level and trend persist across ticks; each tick
// folds in the samples that arrived since the last one.
type PredictionEngine struct {
	alpha   float64
	beta    float64
	horizon int

	seen  int
	level float64
	trend float64
}

// NewPredictionEngine returns an engine forecasting the given number of
// samples ahead. Non-positive horizons fall back to the default.
func NewPredictionEngine(horizon int) *PredictionEngine {
	if horizon <= 0 {
		horizon = DefaultPredictionHorizon
	}
	return &PredictionEngine{
		alpha:   defaultLevelAlpha,
		beta:    defaultTrendBeta,
		horizon: horizon,
	}
}

// Observe folds new samples into the smoothed state and returns the updated
// forecast. Returns false until at least two samples have been seen overall.
func (e *PredictionEngine) Observe(streamID string, points []types.TelemetryDataPoint) (PredictionResult, bool) {
	for _, p := range points {
		v := p.Scalar()
		e.seen++
		switch e.seen {
		case 1:
			e.level = v
		case 2:
			e.trend = v - e.level
			e.level = v
		default:
			prevLevel := e.level
			e.level = e.alpha*v + (1-e.alpha)*(e.level+e.trend)
			e.trend = e.beta*(e.level-prevLevel) + (1-e.beta)*e.trend
		}
	}
	if e.seen < 2 {
		return PredictionResult{}, false
	}

	forecast := make([]float64, e.horizon)
	for h := 1; h <= e.horizon; h++ {
		forecast[h-1] = e.level + float64(h)*e.trend
	}
	return PredictionResult{
		StreamID: streamID,
		Horizon:  e.horizon,
		Forecast: forecast,
		Level:    e.level,
		Trend:    e.trend,
	}, true
}

// Reset clears the smoothed state.
func (e *PredictionEngine) Reset() {
	e.seen = 0
	e.level = 0
	e.trend = 0
}
