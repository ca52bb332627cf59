package analysis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/streamkit/types"
)

func makePoints(start time.Time, interval time.Duration, values ...float64) []types.TelemetryDataPoint {
	points := make([]types.TelemetryDataPoint, len(values))
	for i, v := range values {
		points[i] = types.TelemetryDataPoint{
			Timestamp: start.Add(time.Duration(i) * interval),
			Value:     v,
			Quality:   types.PointGood,
		}
	}
	return points
}

func TestStatisticsAnalyzer(t *testing.T) {
	a := NewStatisticsAnalyzer(0)
	now := time.Now()

	t.Run("summary", func(t *testing.T) {
		points := makePoints(now, time.Second, 2, 4, 4, 4, 5, 5, 7, 9)
		res, ok := a.Statistics("s1", points, now)
		require.True(t, ok)

		assert.Equal(t, "s1", res.StreamID)
		assert.Equal(t, 8, res.Count)
		assert.InDelta(t, 5.0, res.Mean, 1e-9)
		assert.Equal(t, 2.0, res.Min)
		assert.Equal(t, 9.0, res.Max)
		assert.Greater(t, res.StdDev, 0.0)
	})

	t.Run("empty window", func(t *testing.T) {
		_, ok := a.Statistics("s1", nil, now)
		assert.False(t, ok)
	})
}

func TestAnomalyDetection(t *testing.T) {
	a := NewStatisticsAnalyzer(3)
	now := time.Now()

	t.Run("single outlier flagged once", func(t *testing.T) {
		values := make([]float64, 0, 101)
		for i := 0; i < 50; i++ {
			values = append(values, 10.0, 10.2)
		}
		values = append(values, 50.0) // far outside the 0.1 spread
		points := makePoints(now, 10*time.Millisecond, values...)

		res, ok := a.Anomalies("battery-temp", points)
		require.True(t, ok)
		require.Len(t, res.Anomalies, 1)
		assert.Equal(t, 50.0, res.Anomalies[0].Value)
		assert.Greater(t, res.Anomalies[0].Deviation, 3.0)
		assert.Equal(t, 3.0, res.Threshold)
	})

	t.Run("buffered outlier not re-flagged on later passes", func(t *testing.T) {
		a := NewStatisticsAnalyzer(3)
		values := make([]float64, 0, 41)
		for i := 0; i < 20; i++ {
			values = append(values, 10.0, 10.2)
		}
		values = append(values, 50.0)
		points := makePoints(now, 10*time.Millisecond, values...)

		_, ok := a.Anomalies("battery-temp", points)
		require.True(t, ok)

		// the outlier is still buffered; the next pass sees the same window
		_, ok = a.Anomalies("battery-temp", points)
		assert.False(t, ok)

		// a fresh outlier past the watermark is still caught
		later := append(points, makePoints(now.Add(time.Second), 10*time.Millisecond, 80.0)...)
		res, ok := a.Anomalies("battery-temp", later)
		require.True(t, ok)
		require.Len(t, res.Anomalies, 1)
		assert.Equal(t, 80.0, res.Anomalies[0].Value)
	})

	t.Run("no result without outliers", func(t *testing.T) {
		points := makePoints(now, time.Second, 10, 10.1, 9.9, 10, 10.2, 9.8)
		_, ok := a.Anomalies("s1", points)
		assert.False(t, ok)
	})

	t.Run("constant window has no anomalies", func(t *testing.T) {
		points := makePoints(now, time.Second, 5, 5, 5, 5)
		_, ok := a.Anomalies("s1", points)
		assert.False(t, ok)
	})
}

func TestCorrelationAnalyzer(t *testing.T) {
	now := time.Now()
	c := NewCorrelationAnalyzer()
	c.Register("a")
	c.Register("b")
	c.Register("c")

	c.Update("a", makePoints(now, time.Second, 1, 2, 3, 4, 5))
	c.Update("b", makePoints(now, time.Second, 2, 4, 6, 8, 10))
	c.Update("c", makePoints(now, time.Second, 5, 4, 3, 2, 1))

	res, ok := c.Evaluate("a")
	require.True(t, ok)
	require.Len(t, res.Pairs, 2)

	byOther := make(map[string]CorrelationPair, len(res.Pairs))
	for _, pair := range res.Pairs {
		byOther[pair.OtherStream] = pair
	}
	assert.InDelta(t, 1.0, byOther["b"].Coefficient, 1e-9)
	assert.InDelta(t, -1.0, byOther["c"].Coefficient, 1e-9)
	assert.Equal(t, 5, byOther["b"].Samples)
}

func TestCorrelationAlignsOnShorterSeries(t *testing.T) {
	now := time.Now()
	c := NewCorrelationAnalyzer()
	c.Register("long")
	c.Register("short")

	c.Update("long", makePoints(now, time.Second, 0, 0, 0, 1, 2, 3, 4))
	c.Update("short", makePoints(now, time.Second, 2, 4, 6, 8))

	res, ok := c.Evaluate("long")
	require.True(t, ok)
	require.Len(t, res.Pairs, 1)
	// last 4 of "long" are 1,2,3,4 which track 2,4,6,8 exactly
	assert.InDelta(t, 1.0, res.Pairs[0].Coefficient, 1e-9)
	assert.Equal(t, 4, res.Pairs[0].Samples)
}

func TestCorrelationRequiresData(t *testing.T) {
	c := NewCorrelationAnalyzer()
	c.Register("a")
	c.Register("b")

	_, ok := c.Evaluate("a")
	assert.False(t, ok)

	_, ok = c.Evaluate("unregistered")
	assert.False(t, ok)
}

func TestTrendAnalyzer(t *testing.T) {
	a := NewTrendAnalyzer()
	now := time.Now()

	t.Run("rising", func(t *testing.T) {
		points := makePoints(now, time.Second, 1, 2, 3, 4, 5)
		res, ok := a.Evaluate("s1", points)
		require.True(t, ok)
		assert.Equal(t, TrendRising, res.Direction)
		assert.InDelta(t, 1.0, res.Slope, 1e-9) // one unit per second
		assert.InDelta(t, 1.0, res.R2, 1e-9)
	})

	t.Run("falling", func(t *testing.T) {
		points := makePoints(now, time.Second, 10, 8, 6, 4)
		res, ok := a.Evaluate("s1", points)
		require.True(t, ok)
		assert.Equal(t, TrendFalling, res.Direction)
		assert.InDelta(t, -2.0, res.Slope, 1e-9)
	})

	t.Run("stable", func(t *testing.T) {
		points := makePoints(now, time.Second, 7, 7, 7, 7)
		res, ok := a.Evaluate("s1", points)
		require.True(t, ok)
		assert.Equal(t, TrendStable, res.Direction)
	})

	t.Run("needs time spread", func(t *testing.T) {
		points := []types.TelemetryDataPoint{
			{Timestamp: now, Value: 1},
			{Timestamp: now, Value: 2},
		}
		_, ok := a.Evaluate("s1", points)
		assert.False(t, ok)
	})
}

func TestDriftDetector(t *testing.T) {
	now := time.Now()

	t.Run("detects sustained shift", func(t *testing.T) {
		d := NewDriftDetector(10)

		baseline := make([]float64, 50)
		for i := range baseline {
			baseline[i] = 10
		}
		_, detected := d.Observe("s1", makePoints(now, time.Second, baseline...))
		require.False(t, detected)

		shifted := make([]float64, 50)
		for i := range shifted {
			shifted[i] = 15
		}
		res, detected := d.Observe("s1", makePoints(now.Add(time.Minute), time.Second, shifted...))
		require.True(t, detected)
		assert.Equal(t, "s1", res.StreamID)
		assert.Greater(t, res.Statistic, res.Threshold)
		assert.False(t, res.DetectedAt.IsZero())
	})

	t.Run("stable signal never fires", func(t *testing.T) {
		d := NewDriftDetector(10)
		values := make([]float64, 500)
		for i := range values {
			values[i] = 10
		}
		_, detected := d.Observe("s1", makePoints(now, time.Second, values...))
		assert.False(t, detected)
	})

	t.Run("resets after detection", func(t *testing.T) {
		d := NewDriftDetector(5)
		ramp := make([]float64, 100)
		for i := range ramp {
			ramp[i] = float64(i)
		}
		_, detected := d.Observe("s1", makePoints(now, time.Second, ramp...))
		require.True(t, detected)

		// a short steady stretch right after a reset should not re-fire
		_, detected = d.Observe("s1", makePoints(now.Add(time.Hour), time.Second, 100, 100, 100))
		assert.False(t, detected)
	})
}

func TestPredictionEngine(t *testing.T) {
	now := time.Now()

	t.Run("tracks a linear series", func(t *testing.T) {
		e := NewPredictionEngine(5)
		values := make([]float64, 40)
		for i := range values {
			values[i] = float64(i) * 2
		}
		res, ok := e.Observe("s1", makePoints(now, time.Second, values...))
		require.True(t, ok)

		require.Len(t, res.Forecast, 5)
		// the smoothed trend should be close to the true step of 2
		assert.InDelta(t, 2.0, res.Trend, 0.2)
		last := values[len(values)-1]
		assert.InDelta(t, last+2, res.Forecast[0], 1.0)
		for i := 1; i < len(res.Forecast); i++ {
			assert.Greater(t, res.Forecast[i], res.Forecast[i-1])
		}
	})

	t.Run("needs two samples", func(t *testing.T) {
		e := NewPredictionEngine(3)
		_, ok := e.Observe("s1", makePoints(now, time.Second, 5))
		assert.False(t, ok)

		res, ok := e.Observe("s1", makePoints(now.Add(time.Second), time.Second, 6))
		require.True(t, ok)
		assert.Len(t, res.Forecast, 3)
	})

	t.Run("state survives across calls", func(t *testing.T) {
		e := NewPredictionEngine(1)
		e.Observe("s1", makePoints(now, time.Second, 0, 1, 2, 3, 4))
		res, ok := e.Observe("s1", makePoints(now.Add(5*time.Second), time.Second, 5, 6, 7))
		require.True(t, ok)
		assert.InDelta(t, 8.0, res.Forecast[0], 1.0)
	})
}
