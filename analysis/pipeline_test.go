package analysis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/streamkit/processor"
	"github.com/c360/streamkit/types"
)

// resultSink collects emitted results safely across pool workers.
type resultSink struct {
	mu      sync.Mutex
	results []Result
}

func (s *resultSink) emit(r Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
}

func (s *resultSink) byKind(k Kind) []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Result
	for _, r := range s.results {
		if r.Kind() == k {
			out = append(out, r)
		}
	}
	return out
}

func (s *resultSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

func startedPipeline(t *testing.T, sink *resultSink, onError func(string, error)) *Pipeline {
	t.Helper()
	p := NewPipeline(PipelineConfig{
		Interval: time.Hour, // ticks driven manually
		Workers:  2,
		Emit:     sink.emit,
		OnError:  onError,
	})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, p.Start(ctx))
	t.Cleanup(func() {
		cancel()
		_ = p.Stop(time.Second)
	})
	return p
}

func TestPipelineEmitsEnabledKinds(t *testing.T) {
	sink := &resultSink{}
	p := startedPipeline(t, sink, nil)

	proc := processor.New(100, 1)
	now := time.Now()
	for _, pt := range makePoints(now, time.Second, 1, 2, 3, 4, 5, 6) {
		proc.Add(pt)
	}

	p.Register("battery-temp", proc, types.AnalysisConfig{
		EnableStatistics: true,
		EnableTrend:      true,
	})
	p.Tick(now)

	assert.Eventually(t, func() bool {
		return len(sink.byKind(KindStatistics)) == 1 && len(sink.byKind(KindTrend)) == 1
	}, time.Second, 5*time.Millisecond)

	stats := sink.byKind(KindStatistics)[0].(StatisticsResult)
	assert.Equal(t, "battery-temp", stats.StreamID)
	assert.Equal(t, 6, stats.Count)

	trend := sink.byKind(KindTrend)[0].(TrendResult)
	assert.Equal(t, TrendRising, trend.Direction)

	// disabled kinds never ran
	assert.Empty(t, sink.byKind(KindAnomaly))
	assert.Empty(t, sink.byKind(KindPrediction))
}

func TestPipelineAnomalyOnlyWhenFound(t *testing.T) {
	sink := &resultSink{}
	p := startedPipeline(t, sink, nil)

	proc := processor.New(200, 1)
	now := time.Now()
	values := make([]float64, 0, 101)
	for i := 0; i < 100; i++ {
		values = append(values, 10+0.1*float64(i%2))
	}
	for _, pt := range makePoints(now, 10*time.Millisecond, values...) {
		proc.Add(pt)
	}

	p.Register("s1", proc, types.AnalysisConfig{EnableAnomaly: true})
	p.Tick(now)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, sink.byKind(KindAnomaly), "clean window should emit nothing")

	proc.Add(types.TelemetryDataPoint{Timestamp: now.Add(2 * time.Second), Value: 80})
	p.Tick(now.Add(2 * time.Second))

	assert.Eventually(t, func() bool {
		return len(sink.byKind(KindAnomaly)) == 1
	}, time.Second, 5*time.Millisecond)
	res := sink.byKind(KindAnomaly)[0].(AnomalyResult)
	require.Len(t, res.Anomalies, 1)
	assert.Equal(t, 80.0, res.Anomalies[0].Value)
}

func TestPipelineCorrelationAcrossStreams(t *testing.T) {
	sink := &resultSink{}
	p := startedPipeline(t, sink, nil)

	now := time.Now()
	procA := processor.New(50, 1)
	procB := processor.New(50, 1)
	for _, pt := range makePoints(now, time.Second, 1, 2, 3, 4, 5) {
		procA.Add(pt)
	}
	for _, pt := range makePoints(now, time.Second, 10, 20, 30, 40, 50) {
		procB.Add(pt)
	}

	p.Register("a", procA, types.AnalysisConfig{EnableCorrelation: true})
	p.Register("b", procB, types.AnalysisConfig{EnableCorrelation: true})
	p.Tick(now)

	assert.Eventually(t, func() bool {
		return len(sink.byKind(KindCorrelation)) == 2
	}, time.Second, 5*time.Millisecond)

	for _, r := range sink.byKind(KindCorrelation) {
		res := r.(CorrelationResult)
		require.Len(t, res.Pairs, 1)
		assert.InDelta(t, 1.0, res.Pairs[0].Coefficient, 1e-9)
	}
}

func TestPipelineConfigureHotSwap(t *testing.T) {
	sink := &resultSink{}
	p := startedPipeline(t, sink, nil)

	proc := processor.New(50, 1)
	now := time.Now()
	for _, pt := range makePoints(now, time.Second, 1, 2, 3) {
		proc.Add(pt)
	}

	p.Register("s1", proc, types.AnalysisConfig{EnableStatistics: true})
	p.Tick(now)
	assert.Eventually(t, func() bool { return len(sink.byKind(KindStatistics)) == 1 }, time.Second, 5*time.Millisecond)

	require.True(t, p.Configure("s1", types.AnalysisConfig{EnableTrend: true}))
	p.Tick(now.Add(time.Second))
	assert.Eventually(t, func() bool { return len(sink.byKind(KindTrend)) == 1 }, time.Second, 5*time.Millisecond)
	assert.Len(t, sink.byKind(KindStatistics), 1, "statistics disabled after reconfigure")

	assert.False(t, p.Configure("unknown", types.AnalysisConfig{EnableTrend: true}))
}

func TestPipelineDeregisterStopsAnalysis(t *testing.T) {
	sink := &resultSink{}
	p := startedPipeline(t, sink, nil)

	proc := processor.New(50, 1)
	now := time.Now()
	for _, pt := range makePoints(now, time.Second, 1, 2, 3) {
		proc.Add(pt)
	}
	p.Register("s1", proc, types.AnalysisConfig{EnableStatistics: true})
	p.Deregister("s1")
	p.Tick(now)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, sink.len())
}

func TestPipelineGuardIsolatesPanics(t *testing.T) {
	var mu sync.Mutex
	var errs []error
	p := NewPipeline(PipelineConfig{
		Emit: func(Result) {},
		OnError: func(_ string, err error) {
			mu.Lock()
			defer mu.Unlock()
			errs = append(errs, err)
		},
	})

	ran := false
	assert.NotPanics(t, func() {
		p.guard("s1", "statistics", func() { panic("boom") })
		p.guard("s1", "trend", func() { ran = true })
	})

	assert.True(t, ran, "later analyzers still run after a panic")
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, errs, 1)
	assert.ErrorContains(t, errs[0], "boom")
}

func TestPointsAfter(t *testing.T) {
	now := time.Now()
	window := makePoints(now, time.Second, 1, 2, 3, 4)

	assert.Len(t, pointsAfter(window, time.Time{}), 4)
	assert.Len(t, pointsAfter(window, now), 3)
	assert.Len(t, pointsAfter(window, now.Add(3*time.Second)), 0)
	assert.Len(t, pointsAfter(nil, now), 0)
}
